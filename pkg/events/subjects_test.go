package events

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rcrt-io/rcrt/pkg/models"
)

func TestSubject(t *testing.T) {
	got := Subject("t1", "r1", models.EventCreated)
	assert.Equal(t, "bc.t1.r1.created", got)
}

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		subject string
		want    bool
	}{
		{"exact", "bc.t1.r1.created", "bc.t1.r1.created", true},
		{"exact mismatch", "bc.t1.r1.created", "bc.t1.r1.updated", false},
		{"single wildcard", "bc.*.r1.created", "bc.t1.r1.created", true},
		{"single wildcard one token only", "bc.*.created", "bc.t1.r1.created", false},
		{"tail wildcard", "bc.>", "bc.t1.r1.deleted", true},
		{"tail wildcard needs a tail", "bc.t1.r1.created.>", "bc.t1.r1.created", false},
		{"mixed wildcards", "bc.*.*.updated", "bc.t1.r1.updated", true},
		{"mixed wildcards mismatch", "bc.*.*.updated", "bc.t1.r1.created", false},
		{"pattern longer than subject", "bc.t1.r1.created.extra", "bc.t1.r1.created", false},
		{"subject longer than pattern", "bc.t1", "bc.t1.r1.created", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchSubject(tt.pattern, tt.subject))
		})
	}
}
