package builder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractVocabularyTerms(t *testing.T) {
	e := NewExtractor(nil)
	got := e.Extract("Create a new Agent definition for the search workflow", nil)
	assert.Equal(t, []string{"agent", "create", "definition", "search", "workflow"}, got)
}

func TestExtractSchemaTokens(t *testing.T) {
	e := NewExtractor(nil)
	got := e.Extract("handles user.message.v1 and tool.response.v1 records", nil)
	assert.Contains(t, got, "user.message.v1")
	assert.Contains(t, got, "tool.response.v1")
}

func TestExtractShortTokensDropped(t *testing.T) {
	e := NewExtractor(nil)
	// "tag" is in no vocabulary and under four characters either way.
	got := e.Extract("tag the api", nil)
	assert.Empty(t, got)
}

func TestExtractTagPointers(t *testing.T) {
	e := NewExtractor(nil)
	got := e.Extract("", []string{"billing", "session:abc", "approved", "draft", "Payments"})
	// Structural (colon) and lifecycle tags are excluded.
	assert.Equal(t, []string{"billing", "payments"}, got)
}

func TestExtractVocabularyExtension(t *testing.T) {
	e := NewExtractor([]string{"kubernetes", " Terraform "})
	got := e.Extract("deploy with kubernetes and terraform", nil)
	assert.Equal(t, []string{"kubernetes", "terraform"}, got)
}

func TestExtractSortedAndDeduplicated(t *testing.T) {
	e := NewExtractor(nil)
	got := e.Extract("search search SEARCH agent", []string{"agent"})
	assert.Equal(t, []string{"agent", "search"}, got)
}

func TestExtractEmptyText(t *testing.T) {
	e := NewExtractor(nil)
	assert.Nil(t, e.Extract("", nil))
}
