package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rcrt-io/rcrt/pkg/models"
)

// Listener holds the dedicated LISTEN connection and pumps fabric
// notifications into the in-process Bus. One listener per process; the
// connection is used by a single goroutine only.
type Listener struct {
	connString string
	bus        *Bus
	db         *sql.DB

	conn   *pgx.Conn
	connMu sync.Mutex

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewListener creates a listener. db is the shared pool, used only to
// restore truncated payloads from the bus_events table.
func NewListener(connString string, bus *Bus, db *sql.DB) *Listener {
	return &Listener{connString: connString, bus: bus, db: db}
}

// Start establishes the LISTEN connection and begins receiving.
func (l *Listener) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("failed to connect for LISTEN: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return fmt.Errorf("LISTEN failed: %w", err)
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancelLoop = cancel
	l.loopDone = make(chan struct{})
	go func() {
		defer close(l.loopDone)
		l.receiveLoop(loopCtx)
	}()

	slog.Info("event listener started", "channel", NotifyChannel)
	return nil
}

// receiveLoop is the sole goroutine touching the pgx connection.
func (l *Listener) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.connMu.Lock()
		conn := l.conn
		l.connMu.Unlock()

		if conn == nil {
			l.reconnect(ctx)
			continue
		}

		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("NOTIFY receive error", "error", err)
			l.reconnect(ctx)
			continue
		}

		l.dispatch(ctx, []byte(notification.Payload))
	}
}

// dispatch decodes a NOTIFY payload and publishes it on the bus,
// restoring truncated payloads from the bus_events row.
func (l *Listener) dispatch(ctx context.Context, payload []byte) {
	var np notifyPayload
	if err := json.Unmarshal(payload, &np); err != nil {
		slog.Warn("dropping malformed notify payload", "error", err)
		return
	}

	if np.Truncated || np.Envelope == nil {
		env, err := l.loadEnvelope(ctx, np.EventID)
		if err != nil {
			slog.Error("failed to restore truncated event", "event_id", np.EventID, "error", err)
			return
		}
		np.Envelope = env
	}

	l.bus.Publish(Event{ID: np.EventID, Subject: np.Subject, Envelope: *np.Envelope})
}

func (l *Listener) loadEnvelope(ctx context.Context, eventID int64) (*models.EventEnvelope, error) {
	var raw []byte
	err := l.db.QueryRowContext(ctx,
		`SELECT envelope FROM bus_events WHERE id = $1`, eventID).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load bus event %d: %w", eventID, err)
	}
	var env models.EventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode bus event %d: %w", eventID, err)
	}
	return &env, nil
}

// reconnect re-establishes the LISTEN connection with capped backoff
// and re-issues LISTEN before resuming.
func (l *Listener) reconnect(ctx context.Context) {
	l.connMu.Lock()
	defer l.connMu.Unlock()

	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		conn, err := pgx.Connect(ctx, l.connString)
		if err != nil {
			slog.Error("LISTEN reconnect failed", "error", err, "backoff", backoff)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
			slog.Error("re-LISTEN failed", "error", err)
			_ = conn.Close(ctx)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		l.conn = conn
		slog.Info("event listener reconnected")
		return
	}
}

// Stop signals the receive loop to exit, waits for it, then closes the
// connection. Closing before the loop exits would race
// WaitForNotification against conn.Close.
func (l *Listener) Stop(ctx context.Context) {
	if l.cancelLoop != nil {
		l.cancelLoop()
	}
	if l.loopDone != nil {
		<-l.loopDone
	}

	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
}
