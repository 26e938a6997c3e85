package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcrt-io/rcrt/pkg/builder"
	"github.com/rcrt-io/rcrt/pkg/events"
	"github.com/rcrt-io/rcrt/pkg/metrics"
	"github.com/rcrt-io/rcrt/pkg/models"
	"github.com/rcrt-io/rcrt/pkg/store"
	"github.com/rcrt-io/rcrt/pkg/transform"
	"github.com/rcrt-io/rcrt/test/util"
)

// TestAssemblerPublishesContext runs the whole pipeline: a record write
// published on the fabric reaches the assembler through LISTEN/NOTIFY,
// which assembles and publishes an agent.context.v1 singleton, then
// updates it in place on the next trigger.
func TestAssemblerPublishesContext(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	tdb := util.SetupTestDatabase(t, 8)
	ctx := context.Background()
	curator, author := seedTenant(t, tdb.Store)

	bus := events.NewBus()
	listener := events.NewListener(tdb.ConnString, bus, tdb.DB)
	require.NoError(t, listener.Start(ctx))
	defer listener.Stop(ctx)

	publisher := events.NewPublisher(tdb.DB)
	assembler, err := builder.NewAssembler(tdb.Store, bus, publisher,
		transform.NewEngine(), transform.NewSchemaCache(tdb.Store), metrics.New(), builder.LoadConfigFromEnv())
	require.NoError(t, err)
	assembler.Start(ctx)
	defer assembler.Stop()

	// A knowledge record the agent always wants in context.
	noteSchema := "note.v1"
	note, _, err := tdb.Store.CreateBreadcrumb(ctx, author, models.CreateBreadcrumbRequest{
		SchemaName: &noteSchema,
		Title:      "runway checklist",
		Context:    map[string]any{"body": "verify chocks removed"},
	}, "")
	require.NoError(t, err)

	// The consuming agent's definition: trigger on user messages, always
	// include the note. The second source names a schema with no records:
	// a broken source is skipped, it does not silence the assembly.
	consumerID := uuid.New().String()
	defSchema := "agent.def.v1"
	_, _, err = tdb.Store.CreateBreadcrumb(ctx, author, models.CreateBreadcrumbRequest{
		SchemaName: &defSchema,
		Title:      "helper agent",
		Context: map[string]any{
			"agent_id": consumerID,
			"context_trigger": map[string]any{
				"schema_name": "user.message.v1",
				"none_tags":   []any{"agent:context"},
			},
			"context_sources": map[string]any{
				"always": []any{
					map[string]any{"type": "specific", "id": note.ID},
					map[string]any{"type": "schema", "schema_name": "flight.manifest.v1"},
				},
			},
		},
	}, "")
	require.NoError(t, err)

	publishRecord := func(bc *models.Breadcrumb, typ models.EventType) {
		t.Helper()
		_, err := publisher.Publish(ctx, *bc.Envelope(typ))
		require.NoError(t, err)
	}

	msgSchema := "user.message.v1"
	trigger, _, err := tdb.Store.CreateBreadcrumb(ctx, author, models.CreateBreadcrumbRequest{
		SchemaName: &msgSchema,
		Title:      "user message",
		Context:    map[string]any{"text": "are we ready for departure?"},
		Tags:       []string{"session:flight-17"},
	}, "")
	require.NoError(t, err)
	publishRecord(trigger, models.EventCreated)

	findContext := func() *models.Breadcrumb {
		candidates, err := tdb.Store.ListBreadcrumbs(ctx, curator, store.ListOptions{
			Tag:        "consumer:" + consumerID,
			SchemaName: builder.ContextSchema,
		})
		require.NoError(t, err)
		if len(candidates) == 0 {
			return nil
		}
		return candidates[0]
	}

	require.Eventually(t, func() bool { return findContext() != nil },
		10*time.Second, 100*time.Millisecond, "context record never published")

	first := findContext()
	assert.Equal(t, "session:flight-17", first.SessionTag())
	formatted, _ := first.Context["formatted_context"].(string)
	assert.Contains(t, formatted, "runway checklist")
	assert.Contains(t, formatted, "user message")
	assert.NotZero(t, first.Context["token_estimate"])

	// A second trigger in the same session refreshes the singleton
	// in place instead of growing a pile of context records.
	trigger2, _, err := tdb.Store.CreateBreadcrumb(ctx, author, models.CreateBreadcrumbRequest{
		SchemaName: &msgSchema,
		Title:      "follow-up",
		Context:    map[string]any{"text": "and the fuel?"},
		Tags:       []string{"session:flight-17"},
	}, "")
	require.NoError(t, err)
	publishRecord(trigger2, models.EventCreated)

	require.Eventually(t, func() bool {
		bc := findContext()
		return bc != nil && bc.Version > first.Version
	}, 10*time.Second, 100*time.Millisecond, "singleton never refreshed")

	refreshed := findContext()
	assert.Equal(t, first.ID, refreshed.ID)

	candidates, err := tdb.Store.ListBreadcrumbs(ctx, curator, store.ListOptions{
		Tag:        "consumer:" + consumerID,
		SchemaName: builder.ContextSchema,
	})
	require.NoError(t, err)
	assert.Len(t, candidates, 1)
}

// TestAssemblerIgnoresOwnOutput republishes an assembled context event
// and checks no second context record appears: assembled context never
// triggers assembly.
func TestAssemblerIgnoresOwnOutput(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	tdb := util.SetupTestDatabase(t, 8)
	ctx := context.Background()
	curator, author := seedTenant(t, tdb.Store)

	bus := events.NewBus()
	listener := events.NewListener(tdb.ConnString, bus, tdb.DB)
	require.NoError(t, listener.Start(ctx))
	defer listener.Stop(ctx)

	publisher := events.NewPublisher(tdb.DB)
	assembler, err := builder.NewAssembler(tdb.Store, bus, publisher,
		transform.NewEngine(), transform.NewSchemaCache(tdb.Store), metrics.New(), builder.LoadConfigFromEnv())
	require.NoError(t, err)
	assembler.Start(ctx)
	defer assembler.Stop()

	// A greedy definition whose trigger matches assembled context too:
	// without the built-in exclusion it would re-trigger on its own output.
	consumerID := uuid.New().String()
	defSchema := "agent.def.v1"
	_, _, err = tdb.Store.CreateBreadcrumb(ctx, author, models.CreateBreadcrumbRequest{
		SchemaName: &defSchema,
		Title:      "greedy agent",
		Context: map[string]any{
			"agent_id":        consumerID,
			"context_trigger": map[string]any{"any_tags": []any{"watched", "agent:context"}},
		},
	}, "")
	require.NoError(t, err)

	trigger, _, err := tdb.Store.CreateBreadcrumb(ctx, author, models.CreateBreadcrumbRequest{
		Title:   "watched record",
		Context: map[string]any{"v": 1},
		Tags:    []string{"watched"},
	}, "")
	require.NoError(t, err)
	_, err = publisher.Publish(ctx, *trigger.Envelope(models.EventCreated))
	require.NoError(t, err)

	countContexts := func() int {
		candidates, err := tdb.Store.ListBreadcrumbs(ctx, curator, store.ListOptions{
			Tag: "consumer:" + consumerID,
		})
		require.NoError(t, err)
		return len(candidates)
	}

	require.Eventually(t, func() bool { return countContexts() == 1 },
		10*time.Second, 100*time.Millisecond)

	// Let any feedback loop run; the count must stay at one.
	time.Sleep(2 * time.Second)
	assert.Equal(t, 1, countContexts())
}
