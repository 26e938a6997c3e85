package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rcrt-io/rcrt/pkg/models"
)

// notifyLimit is PostgreSQL's NOTIFY payload ceiling with headroom.
// Larger payloads are truncated to a routing-only form and consumers
// re-read the bus_events row.
const notifyLimit = 7900

// Event is one fabric event as carried on the bus: the bus_events row
// id, the routing subject and the envelope.
type Event struct {
	ID       int64                `json:"event_id"`
	Subject  string               `json:"subject"`
	Envelope models.EventEnvelope `json:"envelope"`
}

// notifyPayload is the NOTIFY wire form. Truncated payloads omit the
// envelope; the listener restores it from the bus_events row.
type notifyPayload struct {
	EventID   int64                 `json:"event_id"`
	Subject   string                `json:"subject"`
	Envelope  *models.EventEnvelope `json:"envelope,omitempty"`
	Truncated bool                  `json:"truncated,omitempty"`
}

// Publisher persists envelopes to the bus_events table and broadcasts
// them via NOTIFY in a single transaction, so an event is visible to
// catchup readers exactly when its notification fires.
type Publisher struct {
	db *sql.DB
}

// NewPublisher creates a Publisher on the shared connection pool.
func NewPublisher(db *sql.DB) *Publisher {
	return &Publisher{db: db}
}

// Publish persists and broadcasts one envelope. The write path calls
// this before completing the HTTP response, so emission is guaranteed
// for every successful mutation.
func (p *Publisher) Publish(ctx context.Context, env models.EventEnvelope) (int64, error) {
	subject := SubjectFor(&env)
	envJSON, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("failed to encode envelope: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var eventID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO bus_events (subject, envelope) VALUES ($1, $2) RETURNING id`,
		subject, envJSON).Scan(&eventID)
	if err != nil {
		return 0, fmt.Errorf("failed to persist event: %w", err)
	}

	payload, err := buildNotifyPayload(eventID, subject, &env)
	if err != nil {
		return 0, err
	}

	// pg_notify is transactional: the notification is held until COMMIT,
	// so listeners never see an event before its row exists.
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, payload); err != nil {
		return 0, fmt.Errorf("pg_notify failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit event transaction: %w", err)
	}
	return eventID, nil
}

// buildNotifyPayload encodes the NOTIFY wire form, falling back to the
// routing-only truncated form when the full payload would exceed the
// NOTIFY limit.
func buildNotifyPayload(eventID int64, subject string, env *models.EventEnvelope) (string, error) {
	full, err := json.Marshal(notifyPayload{EventID: eventID, Subject: subject, Envelope: env})
	if err != nil {
		return "", fmt.Errorf("failed to encode notify payload: %w", err)
	}
	if len(full) <= notifyLimit {
		return string(full), nil
	}

	truncated, err := json.Marshal(notifyPayload{EventID: eventID, Subject: subject, Truncated: true})
	if err != nil {
		return "", fmt.Errorf("failed to encode truncated payload: %w", err)
	}
	return string(truncated), nil
}
