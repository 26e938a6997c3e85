package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcrt-io/rcrt/pkg/events"
	"github.com/rcrt-io/rcrt/pkg/models"
	"github.com/rcrt-io/rcrt/test/util"
)

func TestPublishReachesBusSubscriber(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	tdb := util.SetupTestDatabase(t, 8)
	ctx := context.Background()

	bus := events.NewBus()
	listener := events.NewListener(tdb.ConnString, bus, tdb.DB)
	require.NoError(t, listener.Start(ctx))
	defer listener.Stop(ctx)

	sub := bus.Subscribe("bc.>", 8)
	defer sub.Close()

	pub := events.NewPublisher(tdb.DB)
	env := models.EventEnvelope{
		Type:       models.EventCreated,
		RecordID:   uuid.New().String(),
		Owner:      uuid.New().String(),
		SchemaName: "note.v1",
		Tags:       []string{"session:abc"},
		Version:    1,
		UpdatedAt:  time.Now().UTC(),
	}
	eventID, err := pub.Publish(ctx, env)
	require.NoError(t, err)
	require.Positive(t, eventID)

	select {
	case evt := <-sub.C:
		assert.Equal(t, eventID, evt.ID)
		assert.Equal(t, events.SubjectFor(&env), evt.Subject)
		assert.Equal(t, env.RecordID, evt.Envelope.RecordID)
		assert.Equal(t, models.EventCreated, evt.Envelope.Type)
		assert.Equal(t, []string{"session:abc"}, evt.Envelope.Tags)
	case <-time.After(5 * time.Second):
		t.Fatal("event never reached the bus subscriber")
	}
}

func TestSubjectFilteringOnBus(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	tdb := util.SetupTestDatabase(t, 8)
	ctx := context.Background()

	bus := events.NewBus()
	listener := events.NewListener(tdb.ConnString, bus, tdb.DB)
	require.NoError(t, listener.Start(ctx))
	defer listener.Stop(ctx)

	ownerA := uuid.New().String()
	ownerB := uuid.New().String()

	subA := bus.Subscribe("bc."+ownerA+".>", 8)
	defer subA.Close()

	pub := events.NewPublisher(tdb.DB)
	for _, owner := range []string{ownerB, ownerA} {
		_, err := pub.Publish(ctx, models.EventEnvelope{
			Type:      models.EventCreated,
			RecordID:  uuid.New().String(),
			Owner:     owner,
			Version:   1,
			UpdatedAt: time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	// Only owner A's event may arrive on the scoped subscription.
	select {
	case evt := <-subA.C:
		assert.Equal(t, ownerA, evt.Envelope.Owner)
	case <-time.After(5 * time.Second):
		t.Fatal("scoped subscriber received nothing")
	}
	select {
	case evt := <-subA.C:
		t.Fatalf("unexpected extra event for owner %s", evt.Envelope.Owner)
	case <-time.After(300 * time.Millisecond):
	}
}

// TestLargeEnvelopeTruncation forces the NOTIFY payload over the limit
// and checks the listener restores the envelope from the bus_events row.
func TestLargeEnvelopeTruncation(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	tdb := util.SetupTestDatabase(t, 8)
	ctx := context.Background()

	bus := events.NewBus()
	listener := events.NewListener(tdb.ConnString, bus, tdb.DB)
	require.NoError(t, listener.Start(ctx))
	defer listener.Stop(ctx)

	sub := bus.Subscribe("bc.>", 8)
	defer sub.Close()

	tags := make([]string, 0, 400)
	for i := 0; i < 400; i++ {
		tags = append(tags, "padding:"+uuid.New().String())
	}
	env := models.EventEnvelope{
		Type:      models.EventCreated,
		RecordID:  uuid.New().String(),
		Owner:     uuid.New().String(),
		Tags:      tags,
		Version:   1,
		UpdatedAt: time.Now().UTC(),
	}

	_, err := events.NewPublisher(tdb.DB).Publish(ctx, env)
	require.NoError(t, err)

	select {
	case evt := <-sub.C:
		assert.Equal(t, env.RecordID, evt.Envelope.RecordID)
		assert.Len(t, evt.Envelope.Tags, 400)
	case <-time.After(5 * time.Second):
		t.Fatal("truncated event never restored")
	}
}
