package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rcrt-io/rcrt/pkg/models"
	"github.com/rcrt-io/rcrt/pkg/store"
)

// createWebhook handles POST /agents/{id}/webhooks: registers (or
// re-activates) a delivery endpoint for the agent.
func (s *Server) createWebhook(c *gin.Context) {
	if !requireRole(c, models.RoleSubscriber) {
		return
	}
	var req models.CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
		return
	}
	hook, err := s.store.UpsertWebhook(c.Request.Context(), identity(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, hook)
}

// listWebhooks handles GET /agents/{id}/webhooks.
func (s *Server) listWebhooks(c *gin.Context) {
	hooks, err := s.store.ListWebhooks(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if hooks == nil {
		hooks = []*models.WebhookSubscription{}
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": hooks})
}

// deleteWebhook handles DELETE /agents/{id}/webhooks/{webhook_id}.
func (s *Server) deleteWebhook(c *gin.Context) {
	if err := s.store.DeleteWebhook(c.Request.Context(), identity(c), c.Param("webhook_id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// listDLQ handles GET /dlq: deliveries that exhausted their retries.
func (s *Server) listDLQ(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := s.store.ListDLQ(c.Request.Context(), identity(c), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if entries == nil {
		entries = []*models.DLQEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// retryDLQ handles POST /dlq/{id}/retry: one replay attempt; success
// removes the entry.
func (s *Server) retryDLQ(c *gin.Context) {
	if s.dispatcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "unavailable", "error": "webhook dispatcher not running"})
		return
	}
	if err := s.dispatcher.Redeliver(c.Request.Context(), identity(c), c.Param("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"code": "delivery_failed", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivered": true})
}

// deleteDLQ handles DELETE /dlq/{id}: discards the entry without
// replaying it.
func (s *Server) deleteDLQ(c *gin.Context) {
	if err := s.store.DeleteDLQ(c.Request.Context(), identity(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
