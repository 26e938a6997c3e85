package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rcrt-io/rcrt/pkg/models"
)

// CreateSelectorRequest is the POST /subscriptions/selectors payload:
// the predicate plus the delivery channels it feeds.
type CreateSelectorRequest struct {
	Selector models.Selector `json:"selector" binding:"required"`
	Bus      bool            `json:"bus"`
	SSE      bool            `json:"sse"`
	Webhook  bool            `json:"webhook"`
}

// createSelector handles POST /subscriptions/selectors.
func (s *Server) createSelector(c *gin.Context) {
	if !requireRole(c, models.RoleSubscriber) {
		return
	}
	var req CreateSelectorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
		return
	}
	if err := req.Selector.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_selector", "error": err.Error()})
		return
	}
	if !req.Bus && !req.SSE && !req.Webhook {
		req.SSE = true
	}

	stored, err := s.store.CreateSelector(c.Request.Context(), identity(c),
		req.Selector, req.Bus, req.SSE, req.Webhook)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stored)
}

// listSelectors handles GET /subscriptions/selectors. agent_id narrows
// to one agent's subscriptions.
func (s *Server) listSelectors(c *gin.Context) {
	selectors, err := s.store.ListSelectors(c.Request.Context(), identity(c), c.Query("agent_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if selectors == nil {
		selectors = []*models.StoredSelector{}
	}
	c.JSON(http.StatusOK, gin.H{"selectors": selectors})
}

// getSelector handles GET /subscriptions/selectors/{id}.
func (s *Server) getSelector(c *gin.Context) {
	stored, err := s.store.GetSelector(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stored)
}

// updateSelector handles PUT /subscriptions/selectors/{id}: full
// replacement of the predicate and channels.
func (s *Server) updateSelector(c *gin.Context) {
	if !requireRole(c, models.RoleSubscriber) {
		return
	}
	var req CreateSelectorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
		return
	}
	if err := req.Selector.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_selector", "error": err.Error()})
		return
	}
	if !req.Bus && !req.SSE && !req.Webhook {
		req.SSE = true
	}

	stored, err := s.store.UpdateSelector(c.Request.Context(), identity(c), c.Param("id"),
		req.Selector, req.Bus, req.SSE, req.Webhook)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stored)
}

// deleteSelector handles DELETE /subscriptions/selectors/{id}.
func (s *Server) deleteSelector(c *gin.Context) {
	if err := s.store.DeleteSelector(c.Request.Context(), identity(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// subscribeRecordRequest selects channels for a single-record
// subscription; default is SSE only.
type subscribeRecordRequest struct {
	SSE     *bool `json:"sse,omitempty"`
	Webhook bool  `json:"webhook,omitempty"`
}

// subscribeRecord handles POST /records/{id}/subscribe: a degenerate
// selector pinned to one record.
func (s *Server) subscribeRecord(c *gin.Context) {
	if !requireRole(c, models.RoleSubscriber) {
		return
	}
	var req subscribeRecordRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
			return
		}
	}
	sse := true
	if req.SSE != nil {
		sse = *req.SSE
	}

	id := identity(c)
	recordID := c.Param("id")
	// Subscribing to an invisible record must fail the same way reading
	// it does.
	if _, err := s.store.GetBreadcrumb(c.Request.Context(), id, recordID); err != nil {
		respondError(c, err)
		return
	}

	stored, err := s.store.CreateSelector(c.Request.Context(), id,
		models.Selector{BreadcrumbID: recordID}, false, sse, req.Webhook)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stored)
}

// unsubscribeRecord handles POST /records/{id}/unsubscribe: removes
// the caller's single-record selectors for this record.
func (s *Server) unsubscribeRecord(c *gin.Context) {
	id := identity(c)
	recordID := c.Param("id")

	selectors, err := s.store.ListSelectors(c.Request.Context(), id, id.AgentID)
	if err != nil {
		respondError(c, err)
		return
	}
	removed := 0
	for _, sel := range selectors {
		if sel.Selector.BreadcrumbID != recordID {
			continue
		}
		if err := s.store.DeleteSelector(c.Request.Context(), id, sel.ID); err != nil {
			respondError(c, err)
			return
		}
		removed++
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
