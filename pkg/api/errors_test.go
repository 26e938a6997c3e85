package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rcrt-io/rcrt/pkg/secrets"
	"github.com/rcrt-io/rcrt/pkg/store"
)

func TestMapStoreError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", store.ErrNotFound, http.StatusNotFound, "not_found"},
		{"wrapped not found", fmt.Errorf("loading: %w", store.ErrNotFound), http.StatusNotFound, "not_found"},
		{"already exists", store.ErrAlreadyExists, http.StatusConflict, "already_exists"},
		{"version conflict", store.ErrVersionConflict, http.StatusPreconditionFailed, "version_conflict"},
		{"idempotency conflict", store.ErrIdempotencyConflict, http.StatusConflict, "idempotency_conflict"},
		{"invalid input", store.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
		{"validation", store.NewValidationError("tags", "too many"), http.StatusBadRequest, "validation_error"},
		{"scope denied looks like not found", secrets.ErrScopeDenied, http.StatusNotFound, "not_found"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := mapStoreError(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, body["code"])
		})
	}
}

func TestParseVector(t *testing.T) {
	vec, err := parseVector("[0.1, 0.2, 0.3]")
	assert.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.InDelta(t, 0.2, vec[1], 1e-6)

	vec, err = parseVector("1,2")
	assert.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, vec)

	_, err = parseVector("[]")
	assert.Error(t, err)

	_, err = parseVector("[a,b]")
	assert.Error(t, err)
}

func TestSplitCSV(t *testing.T) {
	assert.Nil(t, splitCSV(""))
	assert.Equal(t, []string{"a", "b"}, splitCSV("a, b"))
	assert.Equal(t, []string{"x"}, splitCSV(",x,"))
}
