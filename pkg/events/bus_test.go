package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcrt-io/rcrt/pkg/models"
)

func testEvent(id int64, owner, record string, typ models.EventType) Event {
	return Event{
		ID:      id,
		Subject: Subject(owner, record, typ),
		Envelope: models.EventEnvelope{
			Type:      typ,
			RecordID:  record,
			Owner:     owner,
			Version:   1,
			UpdatedAt: time.Now(),
		},
	}
}

func TestBusFanOut(t *testing.T) {
	bus := NewBus()
	all := bus.Subscribe("bc.>", 8)
	defer all.Close()
	created := bus.Subscribe("bc.*.*.created", 8)
	defer created.Close()

	bus.Publish(testEvent(1, "t1", "r1", models.EventCreated))
	bus.Publish(testEvent(2, "t1", "r1", models.EventUpdated))

	require.Len(t, all.C, 2)
	require.Len(t, created.C, 1)

	evt := <-created.C
	assert.Equal(t, int64(1), evt.ID)
	assert.Equal(t, models.EventCreated, evt.Envelope.Type)
}

func TestBusPreservesOrderPerSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("bc.t1.r1.*", 8)
	defer sub.Close()

	for i := 1; i <= 5; i++ {
		bus.Publish(testEvent(int64(i), "t1", "r1", models.EventUpdated))
	}
	for i := 1; i <= 5; i++ {
		evt := <-sub.C
		assert.Equal(t, int64(i), evt.ID)
	}
}

func TestBusSlowConsumerDrops(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("bc.>", 2)
	defer sub.Close()

	for i := 1; i <= 5; i++ {
		bus.Publish(testEvent(int64(i), "t1", "r1", models.EventUpdated))
	}

	// Buffer holds the first two; the rest overflow instead of blocking.
	assert.Len(t, sub.C, 2)
	assert.Equal(t, int64(3), sub.Dropped())
}

func TestBusCloseDetaches(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("bc.>", 2)
	require.Equal(t, 1, bus.SubscriberCount())

	sub.Close()
	assert.Equal(t, 0, bus.SubscriberCount())

	// Publishing after close must not panic on the closed channel.
	bus.Publish(testEvent(1, "t1", "r1", models.EventCreated))

	_, open := <-sub.C
	assert.False(t, open)
}

func TestBuildNotifyPayloadTruncation(t *testing.T) {
	env := models.EventEnvelope{
		Type:     models.EventCreated,
		RecordID: "r1",
		Owner:    "t1",
		Tags:     []string{"session:s1"},
		Version:  1,
	}

	small, err := buildNotifyPayload(7, SubjectFor(&env), &env)
	require.NoError(t, err)
	assert.Contains(t, small, `"envelope"`)
	assert.Contains(t, small, `"event_id":7`)

	// A tag list large enough to blow the NOTIFY limit forces the
	// routing-only form.
	for i := 0; i < 2000; i++ {
		env.Tags = append(env.Tags, "workspace:very-long-tag-name-padding")
	}
	big, err := buildNotifyPayload(8, SubjectFor(&env), &env)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(big), notifyLimit)
	assert.Contains(t, big, `"truncated":true`)
	assert.NotContains(t, big, `"envelope"`)
}
