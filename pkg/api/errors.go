package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rcrt-io/rcrt/pkg/secrets"
	"github.com/rcrt-io/rcrt/pkg/store"
)

// mapStoreError translates storage-layer errors into the HTTP error
// taxonomy. Not-found and policy-forbidden are indistinguishable on
// purpose.
func mapStoreError(err error) (int, gin.H) {
	var validErr *store.ValidationError
	if errors.As(err, &validErr) {
		return http.StatusBadRequest, gin.H{"code": "validation_error", "error": validErr.Error()}
	}
	switch {
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest, gin.H{"code": "invalid_input", "error": err.Error()}
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, gin.H{"code": "not_found", "error": "record not found"}
	case errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict, gin.H{"code": "already_exists", "error": "resource already exists"}
	case errors.Is(err, store.ErrVersionConflict):
		return http.StatusPreconditionFailed, gin.H{"code": "version_conflict", "error": "record version changed, re-read and retry"}
	case errors.Is(err, store.ErrIdempotencyConflict):
		return http.StatusConflict, gin.H{"code": "idempotency_conflict", "error": err.Error()}
	case errors.Is(err, secrets.ErrScopeDenied):
		// Scope denial surfaces as not-found so secret names are not
		// enumerable across scopes.
		return http.StatusNotFound, gin.H{"code": "not_found", "error": "record not found"}
	}

	slog.Error("unexpected storage error", "error", err)
	return http.StatusInternalServerError, gin.H{"code": "internal", "error": "internal server error"}
}

// respondError writes the mapped error response.
func respondError(c *gin.Context, err error) {
	status, body := mapStoreError(err)
	c.JSON(status, body)
}
