package builder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rcrt-io/rcrt/pkg/models"
)

func bcWithSchema(id, schema string, updated time.Time) *models.Breadcrumb {
	bc := &models.Breadcrumb{ID: id, UpdatedAt: updated}
	if schema != "" {
		bc.SchemaName = &schema
	}
	return bc
}

func TestOrderForPromptBandsAndTriggerFirst(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := map[string]*models.Breadcrumb{
		"trig":  bcWithSchema("trig", "user.message.v1", base),
		"tools": bcWithSchema("tools", "tool.catalog.v1", base.Add(-time.Hour)),
		"know":  bcWithSchema("know", "knowledge.v1", base.Add(-time.Minute)),
		"note":  bcWithSchema("note", "note.v1", base),
		"misc":  bcWithSchema("misc", "task.v1", base),
	}

	got := orderForPrompt([]string{"trig", "misc", "know", "tools", "note"}, "trig", records)

	// Trigger leads, then capability, then knowledge newest-first, then the rest.
	assert.Equal(t, []string{"trig", "tools", "note", "know", "misc"}, got)
}

func TestOrderForPromptWithoutTrigger(t *testing.T) {
	base := time.Now()
	records := map[string]*models.Breadcrumb{
		"a": bcWithSchema("a", "task.v1", base),
		"b": bcWithSchema("b", "tool.catalog.v1", base),
	}
	got := orderForPrompt([]string{"a", "b"}, "absent", records)
	assert.Equal(t, []string{"b", "a"}, got)
}

func TestOrderForPromptStableWithinBand(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := map[string]*models.Breadcrumb{
		"old": bcWithSchema("old", "task.v1", base.Add(-time.Hour)),
		"new": bcWithSchema("new", "task.v1", base),
	}
	got := orderForPrompt([]string{"old", "new"}, "", records)
	assert.Equal(t, []string{"new", "old"}, got)
}

func TestPromptBandRanking(t *testing.T) {
	assert.Equal(t, 0, promptBand("tool.catalog.v1"))
	assert.Equal(t, 0, promptBand("agent.catalog.v1"))
	assert.Equal(t, 1, promptBand("knowledge.v1"))
	assert.Equal(t, 1, promptBand("note.v1"))
	assert.Equal(t, 2, promptBand("user.message.v1"))
	assert.Equal(t, 2, promptBand(""))
}
