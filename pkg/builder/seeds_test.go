package builder

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rcrt-io/rcrt/pkg/models"
)

func TestHybridPointersUnionTagsAndKeywords(t *testing.T) {
	trigger := &models.Breadcrumb{
		Tags:           []string{"Payments", "session:abc", "workspace:w1", "draft", "checkout"},
		EntityKeywords: []string{"stripe", "payments"},
	}
	// Structural tags and lifecycle states drop out; the rest unions
	// with the cached keywords, lower-cased, sorted, deduplicated.
	assert.Equal(t, []string{"checkout", "payments", "stripe"}, hybridPointers(trigger))
}

func TestHybridPointersSurviveMissingKeywords(t *testing.T) {
	// Assembly on the created event races the entity worker, so a fresh
	// trigger has no stored keywords yet; its plain tags must still
	// drive keyword retrieval.
	trigger := &models.Breadcrumb{
		Tags: []string{"deploy", "session:s1"},
	}
	assert.Equal(t, []string{"deploy"}, hybridPointers(trigger))
}

func TestHybridPointersEmptyWhenNothingQualifies(t *testing.T) {
	trigger := &models.Breadcrumb{
		Tags: []string{"session:s1", "draft", ""},
	}
	assert.Nil(t, hybridPointers(trigger))
}
