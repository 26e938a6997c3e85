// Package integration exercises the substrate against a real
// pgvector-enabled PostgreSQL. These tests need Docker (or
// CI_DATABASE_URL) and are skipped in -short runs.
package integration

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcrt-io/rcrt/pkg/models"
	"github.com/rcrt-io/rcrt/pkg/store"
	"github.com/rcrt-io/rcrt/test/util"
)

// seedTenant creates a tenant with a curator identity and one
// registered agent carrying the given roles.
func seedTenant(t *testing.T, st *store.Store, roles ...string) (models.Identity, models.Identity) {
	t.Helper()
	ctx := context.Background()

	tenant, err := st.CreateTenant(ctx, models.CreateTenantRequest{Name: "acme"})
	require.NoError(t, err)

	curator := models.Identity{
		OwnerID: tenant.OwnerID,
		AgentID: uuid.New().String(),
		Roles:   []string{models.RoleCurator, models.RoleEmitter, models.RoleSubscriber},
	}
	if len(roles) == 0 {
		roles = []string{models.RoleEmitter, models.RoleSubscriber}
	}
	reg, err := st.RegisterAgent(ctx, curator, models.RegisterAgentRequest{Roles: roles})
	require.NoError(t, err)
	require.NotEmpty(t, reg.HMACSecret)

	agent := models.Identity{OwnerID: tenant.OwnerID, AgentID: reg.AgentID, Roles: roles}
	return curator, agent
}

func TestBreadcrumbLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	tdb := util.SetupTestDatabase(t, 8)
	ctx := context.Background()
	_, agent := seedTenant(t, tdb.Store)

	schema := "note.v1"
	created, replayed, err := tdb.Store.CreateBreadcrumb(ctx, agent, models.CreateBreadcrumbRequest{
		SchemaName: &schema,
		Title:      "deploy notes",
		Context:    map[string]any{"body": "use the blue pipeline"},
		Tags:       []string{"team:platform"},
	}, "")
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, 1, created.Version)
	assert.NotEmpty(t, created.Checksum)

	got, err := tdb.Store.GetBreadcrumb(ctx, agent, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "deploy notes", got.Title)
	assert.Equal(t, agent.AgentID, *got.CreatedBy)

	// Stale If-Match loses.
	_, err = tdb.Store.UpdateBreadcrumb(ctx, agent, created.ID, 99, models.UpdateBreadcrumbRequest{
		Context: map[string]any{"body": "v2"},
	})
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	updated, err := tdb.Store.UpdateBreadcrumb(ctx, agent, created.ID, created.Version, models.UpdateBreadcrumbRequest{
		Context: map[string]any{"body": "use the green pipeline"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.NotEqual(t, created.Checksum, updated.Checksum)

	history, err := tdb.Store.ListHistory(ctx, agent, created.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[0].Version)
	assert.Equal(t, 1, history[1].Version)

	_, err = tdb.Store.DeleteBreadcrumb(ctx, agent, created.ID)
	require.NoError(t, err)
	_, err = tdb.Store.GetBreadcrumb(ctx, agent, created.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestIdempotentCreateReplays(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	tdb := util.SetupTestDatabase(t, 8)
	ctx := context.Background()
	_, agent := seedTenant(t, tdb.Store)

	req := models.CreateBreadcrumbRequest{
		Title:   "once",
		Context: map[string]any{"n": 1},
	}
	first, replayed, err := tdb.Store.CreateBreadcrumb(ctx, agent, req, "key-1")
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := tdb.Store.CreateBreadcrumb(ctx, agent, req, "key-1")
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, second.ID)

	// Same key with a different payload is a conflict, not a replay.
	_, _, err = tdb.Store.CreateBreadcrumb(ctx, agent, models.CreateBreadcrumbRequest{
		Title:   "different",
		Context: map[string]any{"n": 2},
	}, "key-1")
	assert.ErrorIs(t, err, store.ErrIdempotencyConflict)
}

func TestTenantIsolation(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	tdb := util.SetupTestDatabase(t, 8)
	ctx := context.Background()
	_, agentA := seedTenant(t, tdb.Store)
	_, agentB := seedTenant(t, tdb.Store)
	require.NotEqual(t, agentA.OwnerID, agentB.OwnerID)

	created, _, err := tdb.Store.CreateBreadcrumb(ctx, agentA, models.CreateBreadcrumbRequest{
		Title:   "tenant A only",
		Context: map[string]any{"x": true},
	}, "")
	require.NoError(t, err)

	// The other tenant sees neither the record nor its existence.
	_, err = tdb.Store.GetBreadcrumb(ctx, agentB, created.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	listed, err := tdb.Store.ListBreadcrumbs(ctx, agentB, store.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestPrivateVisibilityAndGrants(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	tdb := util.SetupTestDatabase(t, 8)
	ctx := context.Background()
	curator, author := seedTenant(t, tdb.Store)

	reader, err := tdb.Store.RegisterAgent(ctx, curator, models.RegisterAgentRequest{
		Roles: []string{models.RoleSubscriber},
	})
	require.NoError(t, err)
	readerID := models.Identity{
		OwnerID: curator.OwnerID,
		AgentID: reader.AgentID,
		Roles:   []string{models.RoleSubscriber},
	}

	created, _, err := tdb.Store.CreateBreadcrumb(ctx, author, models.CreateBreadcrumbRequest{
		Title:      "author's eyes only",
		Context:    map[string]any{"secret_plan": "launch tuesday"},
		Visibility: models.VisibilityPrivate,
	}, "")
	require.NoError(t, err)

	// The author and curators see the private row; a sibling agent does not.
	_, err = tdb.Store.GetBreadcrumb(ctx, author, created.ID)
	require.NoError(t, err)
	_, err = tdb.Store.GetBreadcrumb(ctx, curator, created.ID)
	require.NoError(t, err)
	_, err = tdb.Store.GetBreadcrumb(ctx, readerID, created.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// An update-only grant does not open read: the row stays hidden
	// until a read action is granted too.
	_, err = tdb.Store.CreateGrant(ctx, curator, created.ID, models.CreateGrantRequest{
		GranteeAgentID: reader.AgentID,
		Actions:        []string{models.ActionUpdate},
	})
	require.NoError(t, err)
	_, err = tdb.Store.GetBreadcrumb(ctx, readerID, created.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = tdb.Store.CreateGrant(ctx, curator, created.ID, models.CreateGrantRequest{
		GranteeAgentID: reader.AgentID,
		Actions:        []string{models.ActionReadFull},
	})
	require.NoError(t, err)

	got, err := tdb.Store.GetBreadcrumb(ctx, readerID, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
}
