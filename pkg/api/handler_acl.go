package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rcrt-io/rcrt/pkg/models"
)

// grantRequest is the POST /acl/grant payload.
type grantRequest struct {
	RecordID string `json:"record_id" binding:"required"`
	models.CreateGrantRequest
}

// createGrant handles POST /acl/grant. ACL administration is curator
// surface.
func (s *Server) createGrant(c *gin.Context) {
	if !requireRole(c, models.RoleCurator) {
		return
	}
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
		return
	}
	grant, err := s.store.CreateGrant(c.Request.Context(), identity(c), req.RecordID, req.CreateGrantRequest)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, grant)
}

// revokeRequest is the POST /acl/revoke payload.
type revokeRequest struct {
	RecordID string `json:"record_id" binding:"required"`
	GrantID  string `json:"grant_id" binding:"required"`
}

// revokeGrant handles POST /acl/revoke.
func (s *Server) revokeGrant(c *gin.Context) {
	if !requireRole(c, models.RoleCurator) {
		return
	}
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
		return
	}
	if err := s.store.RevokeGrant(c.Request.Context(), identity(c), req.RecordID, req.GrantID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// listGrants handles GET /records/{id}/acl.
func (s *Server) listGrants(c *gin.Context) {
	if !requireRole(c, models.RoleCurator) {
		return
	}
	grants, err := s.store.ListGrants(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if grants == nil {
		grants = []*models.ACLGrant{}
	}
	c.JSON(http.StatusOK, gin.H{"grants": grants})
}
