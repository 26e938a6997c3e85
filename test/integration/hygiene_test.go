package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcrt-io/rcrt/pkg/events"
	"github.com/rcrt-io/rcrt/pkg/hygiene"
	"github.com/rcrt-io/rcrt/pkg/models"
	"github.com/rcrt-io/rcrt/pkg/store"
	"github.com/rcrt-io/rcrt/test/util"
)

func TestSweeperPurgesExpiredRecords(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	tdb := util.SetupTestDatabase(t, 8)
	ctx := context.Background()
	_, agent := seedTenant(t, tdb.Store)

	bus := events.NewBus()
	listener := events.NewListener(tdb.ConnString, bus, tdb.DB)
	require.NoError(t, listener.Start(ctx))
	defer listener.Stop(ctx)

	sub := bus.Subscribe("bc.>", 8)
	defer sub.Close()

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	expired, _, err := tdb.Store.CreateBreadcrumb(ctx, agent, models.CreateBreadcrumbRequest{
		Title:   "short lived",
		Context: map[string]any{"n": 1},
		TTL:     &past,
	}, "")
	require.NoError(t, err)

	alive, _, err := tdb.Store.CreateBreadcrumb(ctx, agent, models.CreateBreadcrumbRequest{
		Title:   "still fresh",
		Context: map[string]any{"n": 2},
		TTL:     &future,
	}, "")
	require.NoError(t, err)

	sweeper := hygiene.NewSweeper(tdb.Store, events.NewPublisher(tdb.DB), hygiene.Config{})
	purged, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = tdb.Store.GetBreadcrumb(ctx, agent, expired.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = tdb.Store.GetBreadcrumb(ctx, agent, alive.ID)
	assert.NoError(t, err)

	// Expiry announces itself on the fabric as a deleted event.
	select {
	case evt := <-sub.C:
		assert.Equal(t, models.EventDeleted, evt.Envelope.Type)
		assert.Equal(t, expired.ID, evt.Envelope.RecordID)
	case <-time.After(5 * time.Second):
		t.Fatal("expiry event never published")
	}
}
