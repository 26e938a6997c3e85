// Package events is the change fabric: every breadcrumb mutation is
// persisted to the bus_events table and broadcast over PostgreSQL
// NOTIFY in one transaction, then fanned out in-process to subject
// subscribers (SSE streams, webhook dispatch, builder workers).
package events

import (
	"fmt"
	"strings"

	"github.com/rcrt-io/rcrt/pkg/models"
)

// NotifyChannel is the single PostgreSQL NOTIFY channel the fabric
// rides on. Routing happens on subjects, not channels.
const NotifyChannel = "rcrt_events"

// Subject builds the bus subject for a record event:
// bc.<owner>.<record>.<type>.
func Subject(owner, recordID string, eventType models.EventType) string {
	return fmt.Sprintf("bc.%s.%s.%s", owner, recordID, eventType)
}

// SubjectFor derives the subject from an envelope.
func SubjectFor(env *models.EventEnvelope) string {
	return Subject(env.Owner, env.RecordID, env.Type)
}

// MatchSubject reports whether subject matches pattern. Patterns use
// dot-separated tokens where "*" matches exactly one token and ">"
// matches the rest of the subject.
func MatchSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	pTokens := strings.Split(pattern, ".")
	sTokens := strings.Split(subject, ".")

	for i, pt := range pTokens {
		if pt == ">" {
			return i < len(sTokens)
		}
		if i >= len(sTokens) {
			return false
		}
		if pt != "*" && pt != sTokens[i] {
			return false
		}
	}
	return len(pTokens) == len(sTokens)
}
