package integration

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcrt-io/rcrt/pkg/delivery"
	"github.com/rcrt-io/rcrt/pkg/events"
	"github.com/rcrt-io/rcrt/pkg/metrics"
	"github.com/rcrt-io/rcrt/pkg/models"
	"github.com/rcrt-io/rcrt/test/util"
)

type capturedDelivery struct {
	body      []byte
	signature string
	userAgent string
}

func TestWebhookDeliverySignsPayload(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	tdb := util.SetupTestDatabase(t, 8)
	ctx := context.Background()
	_, agent := seedTenant(t, tdb.Store)

	received := make(chan capturedDelivery, 4)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- capturedDelivery{
			body:      body,
			signature: r.Header.Get("X-RCRT-Signature"),
			userAgent: r.Header.Get("User-Agent"),
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer receiver.Close()

	_, err := tdb.Store.CreateSelector(ctx, agent, models.Selector{
		AnyTags: []string{"alerts"},
	}, false, false, true)
	require.NoError(t, err)

	_, err = tdb.Store.UpsertWebhook(ctx, agent, agent.AgentID, models.CreateWebhookRequest{
		URL:    receiver.URL,
		Secret: "whsec-test",
	})
	require.NoError(t, err)

	bus := events.NewBus()
	listener := events.NewListener(tdb.ConnString, bus, tdb.DB)
	require.NoError(t, listener.Start(ctx))
	defer listener.Stop(ctx)

	dispatcher := delivery.NewDispatcher(tdb.Store, bus, metrics.New(), delivery.Config{
		MaxAttempts: 2,
		BackoffBase: 10 * time.Millisecond,
		Timeout:     2 * time.Second,
	})
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	bc, _, err := tdb.Store.CreateBreadcrumb(ctx, agent, models.CreateBreadcrumbRequest{
		Title:   "disk pressure",
		Context: map[string]any{"node": "worker-3"},
		Tags:    []string{"alerts"},
	}, "")
	require.NoError(t, err)
	_, err = events.NewPublisher(tdb.DB).Publish(ctx, *bc.Envelope(models.EventCreated))
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.True(t, delivery.VerifySignature("whsec-test", got.body, got.signature),
			"signature must verify against the endpoint secret")
		assert.Contains(t, string(got.body), bc.ID)
		assert.Contains(t, got.userAgent, "rcrt/")
	case <-time.After(10 * time.Second):
		t.Fatal("webhook never delivered")
	}
}

func TestWebhookDeadLettersOnPersistentFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	tdb := util.SetupTestDatabase(t, 8)
	ctx := context.Background()
	_, agent := seedTenant(t, tdb.Store)

	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer receiver.Close()

	_, err := tdb.Store.CreateSelector(ctx, agent, models.Selector{
		AnyTags: []string{"alerts"},
	}, false, false, true)
	require.NoError(t, err)

	_, err = tdb.Store.UpsertWebhook(ctx, agent, agent.AgentID, models.CreateWebhookRequest{
		URL:      receiver.URL,
		RetryMax: 2,
	})
	require.NoError(t, err)

	bus := events.NewBus()
	listener := events.NewListener(tdb.ConnString, bus, tdb.DB)
	require.NoError(t, listener.Start(ctx))
	defer listener.Stop(ctx)

	dispatcher := delivery.NewDispatcher(tdb.Store, bus, metrics.New(), delivery.Config{
		BackoffBase: 10 * time.Millisecond,
		BackoffCap:  50 * time.Millisecond,
		Timeout:     2 * time.Second,
	})
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	bc, _, err := tdb.Store.CreateBreadcrumb(ctx, agent, models.CreateBreadcrumbRequest{
		Title:   "doomed delivery",
		Context: map[string]any{"n": 1},
		Tags:    []string{"alerts"},
	}, "")
	require.NoError(t, err)
	_, err = events.NewPublisher(tdb.DB).Publish(ctx, *bc.Envelope(models.EventCreated))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		entries, err := tdb.Store.ListDLQ(ctx, agent, 10)
		require.NoError(t, err)
		return len(entries) == 1
	}, 15*time.Second, 200*time.Millisecond, "failed delivery never dead-lettered")

	entries, err := tdb.Store.ListDLQ(ctx, agent, 10)
	require.NoError(t, err)
	entry := entries[0]
	assert.Equal(t, receiver.URL, entry.TargetURL)
	assert.Equal(t, 2, entry.Attempts)
	assert.Equal(t, http.StatusInternalServerError, entry.LastStatus)
	assert.Equal(t, bc.ID, entry.Envelope["record_id"])
}
