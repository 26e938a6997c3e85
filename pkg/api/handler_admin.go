package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rcrt-io/rcrt/pkg/models"
)

// Tenant administration runs on the store's bypass path, so every
// handler here is curator-gated.

// createTenant handles POST /tenants and POST /tenants/{id}; the path
// form lets the caller pick the owner id.
func (s *Server) createTenant(c *gin.Context) {
	if !requireRole(c, models.RoleCurator) {
		return
	}
	var req models.CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
		return
	}
	req.OwnerID = c.Param("id")
	tenant, err := s.store.CreateTenant(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tenant)
}

// listTenants handles GET /tenants.
func (s *Server) listTenants(c *gin.Context) {
	if !requireRole(c, models.RoleCurator) {
		return
	}
	tenants, err := s.store.ListTenants(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if tenants == nil {
		tenants = []*models.Tenant{}
	}
	c.JSON(http.StatusOK, gin.H{"tenants": tenants})
}

// getTenant handles GET /tenants/{id}.
func (s *Server) getTenant(c *gin.Context) {
	if !requireRole(c, models.RoleCurator) {
		return
	}
	tenant, err := s.store.GetTenant(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tenant)
}

// deleteTenant handles DELETE /tenants/{id}. Cascades take every row
// keyed by the tenant with it.
func (s *Server) deleteTenant(c *gin.Context) {
	if !requireRole(c, models.RoleCurator) {
		return
	}
	if err := s.store.DeleteTenant(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// registerAgent handles POST /agents/{id}: upserts the registration
// within the caller's tenant. The response carries the HMAC signing
// secret exactly once, on first registration.
func (s *Server) registerAgent(c *gin.Context) {
	if !requireRole(c, models.RoleCurator) {
		return
	}
	var req models.RegisterAgentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
			return
		}
	}
	req.AgentID = c.Param("id")

	agent, err := s.store.RegisterAgent(c.Request.Context(), identity(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"owner_id":    agent.OwnerID,
		"agent_id":    agent.AgentID,
		"roles":       agent.Roles,
		"hmac_secret": agent.HMACSecret,
	})
}

// listAgents handles GET /agents.
func (s *Server) listAgents(c *gin.Context) {
	agents, err := s.store.ListAgents(c.Request.Context(), identity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if agents == nil {
		agents = []*models.AgentRegistration{}
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

// rotateAgentSecret handles POST /agents/{id}/secret: mints a new HMAC
// signing key and returns it once.
func (s *Server) rotateAgentSecret(c *gin.Context) {
	if !requireRole(c, models.RoleCurator) {
		return
	}
	agent, err := s.store.RotateAgentHMAC(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"agent_id":    agent.AgentID,
		"hmac_secret": agent.HMACSecret,
	})
}

// adminPurge handles POST /admin/purge: one synchronous hygiene sweep,
// returning how many expired records were removed.
func (s *Server) adminPurge(c *gin.Context) {
	if !requireRole(c, models.RoleCurator) {
		return
	}
	if s.sweeper == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "unavailable", "error": "hygiene sweeper not running"})
		return
	}
	purged, err := s.sweeper.RunOnce(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": purged})
}
