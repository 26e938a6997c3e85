package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextChecksum(t *testing.T) {
	t.Run("prefix and shape", func(t *testing.T) {
		sum, err := ContextChecksum(map[string]any{"task": "deploy"})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(sum, "sha256:"))
		assert.Len(t, strings.TrimPrefix(sum, "sha256:"), 64)
	})

	t.Run("deterministic across key order", func(t *testing.T) {
		a, err := ContextChecksum(map[string]any{"a": 1.0, "b": "x", "c": []any{"y"}})
		require.NoError(t, err)
		b, err := ContextChecksum(map[string]any{"c": []any{"y"}, "b": "x", "a": 1.0})
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("different content differs", func(t *testing.T) {
		a, err := ContextChecksum(map[string]any{"task": "deploy"})
		require.NoError(t, err)
		b, err := ContextChecksum(map[string]any{"task": "rollback"})
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("nil context checksums empty object", func(t *testing.T) {
		a, err := ContextChecksum(nil)
		require.NoError(t, err)
		b, err := ContextChecksum(map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})
}

func TestContextSize(t *testing.T) {
	size, err := ContextSize(map[string]any{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, len(`{"k":"v"}`), size)
}

func TestVisibilityValid(t *testing.T) {
	assert.True(t, VisibilityPublic.Valid())
	assert.True(t, VisibilityTeam.Valid())
	assert.True(t, VisibilityPrivate.Valid())
	assert.False(t, Visibility("everyone").Valid())
	assert.False(t, Visibility("").Valid())
}

func TestSensitivityValid(t *testing.T) {
	assert.True(t, SensitivityLow.Valid())
	assert.True(t, SensitivityPII.Valid())
	assert.True(t, SensitivitySecret.Valid())
	assert.False(t, Sensitivity("high").Valid())
}

func TestBreadcrumbSessionTag(t *testing.T) {
	tests := []struct {
		name string
		tags []string
		want string
	}{
		{name: "no tags", tags: nil, want: ""},
		{name: "no session tag", tags: []string{"workflow:deploy", "consumer:planner"}, want: ""},
		{name: "session tag present", tags: []string{"workflow:deploy", "session:abc-123"}, want: "session:abc-123"},
		{name: "first session tag wins", tags: []string{"session:one", "session:two"}, want: "session:one"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bc := Breadcrumb{Tags: tt.tags}
			assert.Equal(t, tt.want, bc.SessionTag())
		})
	}
}

func TestBreadcrumbSchema(t *testing.T) {
	name := "user.request.v1"
	assert.Equal(t, "user.request.v1", (&Breadcrumb{SchemaName: &name}).Schema())
	assert.Equal(t, "", (&Breadcrumb{}).Schema())
}
