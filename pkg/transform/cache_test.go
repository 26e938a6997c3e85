package transform

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDefSource struct {
	defs  map[string]map[string]any
	calls atomic.Int64
	err   error
}

func (f *fakeDefSource) FindSchemaDef(_ context.Context, schemaName string) (map[string]any, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.defs[schemaName], nil
}

func TestSchemaCacheHitAndMiss(t *testing.T) {
	source := &fakeDefSource{defs: map[string]map[string]any{
		"user.message.v1": {
			"transform": map[string]any{"f": map[string]any{"literal": "x"}},
		},
	}}
	cache := NewSchemaCache(source)

	hints, err := cache.Get(context.Background(), "user.message.v1")
	require.NoError(t, err)
	require.NotNil(t, hints)
	assert.Len(t, hints.Transform, 1)

	// Second read is served from the cache.
	_, err = cache.Get(context.Background(), "user.message.v1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), source.calls.Load())
}

func TestSchemaCacheNegativeResult(t *testing.T) {
	source := &fakeDefSource{}
	cache := NewSchemaCache(source)

	hints, err := cache.Get(context.Background(), "unknown.v1")
	require.NoError(t, err)
	assert.Nil(t, hints)

	// The absence is cached too.
	_, err = cache.Get(context.Background(), "unknown.v1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), source.calls.Load())
}

func TestSchemaCacheInvalidate(t *testing.T) {
	source := &fakeDefSource{defs: map[string]map[string]any{
		"a.v1": {"mode": "merge"},
	}}
	cache := NewSchemaCache(source)

	_, err := cache.Get(context.Background(), "a.v1")
	require.NoError(t, err)

	cache.Invalidate("a.v1")
	_, err = cache.Get(context.Background(), "a.v1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), source.calls.Load())
}

func TestSchemaCacheColdMissSurfacesError(t *testing.T) {
	source := &fakeDefSource{err: errors.New("db down")}
	cache := NewSchemaCache(source)

	_, err := cache.Get(context.Background(), "a.v1")
	assert.Error(t, err)
}

func TestSchemaCacheMalformedDefBehavesAsAbsent(t *testing.T) {
	source := &fakeDefSource{defs: map[string]map[string]any{
		"a.v1": {"mode": "sideways"},
	}}
	cache := NewSchemaCache(source)

	hints, err := cache.Get(context.Background(), "a.v1")
	require.NoError(t, err)
	assert.Nil(t, hints)
}

func TestSchemaCacheEmptySchemaName(t *testing.T) {
	cache := NewSchemaCache(&fakeDefSource{})
	hints, err := cache.Get(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, hints)
}
