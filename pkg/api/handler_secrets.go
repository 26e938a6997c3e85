package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rcrt-io/rcrt/pkg/models"
)

// requireSecrets aborts with 503 when the process runs without a KMS
// (KMS_DISABLED); the rest of the surface stays available.
func (s *Server) requireSecrets(c *gin.Context) bool {
	if s.secrets != nil {
		return true
	}
	c.AbortWithStatusJSON(http.StatusServiceUnavailable,
		gin.H{"code": "unavailable", "error": "secret storage is disabled"})
	return false
}

// createSecret handles POST /secrets. The value is sealed before it
// reaches storage and never echoed back.
func (s *Server) createSecret(c *gin.Context) {
	if !s.requireSecrets(c) || !requireRole(c, models.RoleEmitter) {
		return
	}
	var req models.CreateSecretRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
		return
	}
	sec, err := s.secrets.Create(c.Request.Context(), identity(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	sec.Value = ""
	c.JSON(http.StatusCreated, sec)
}

// listSecrets handles GET /secrets: metadata only.
func (s *Server) listSecrets(c *gin.Context) {
	if !s.requireSecrets(c) {
		return
	}
	list, err := s.secrets.List(c.Request.Context(), identity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if list == nil {
		list = []models.Secret{}
	}
	c.JSON(http.StatusOK, gin.H{"secrets": list})
}

// getSecretMeta handles GET /secrets/{name}: metadata without the
// value; decryption is a separate, audited call.
func (s *Server) getSecretMeta(c *gin.Context) {
	if !s.requireSecrets(c) {
		return
	}
	name := c.Param("name")
	list, err := s.secrets.List(c.Request.Context(), identity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	for i := range list {
		if list[i].Name == name {
			c.JSON(http.StatusOK, list[i])
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "record not found"})
}

// decryptSecret handles POST /secrets/{name}/decrypt: returns the
// value after the scope check, writing an audit row.
func (s *Server) decryptSecret(c *gin.Context) {
	if !s.requireSecrets(c) {
		return
	}
	sec, err := s.secrets.Get(c.Request.Context(), identity(c), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sec)
}

// updateSecret handles PUT /secrets/{name}: re-seals with a fresh DEK.
func (s *Server) updateSecret(c *gin.Context) {
	if !s.requireSecrets(c) || !requireRole(c, models.RoleEmitter) {
		return
	}
	var req struct {
		Value string `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
		return
	}
	sec, err := s.secrets.Update(c.Request.Context(), identity(c), c.Param("name"), req.Value)
	if err != nil {
		respondError(c, err)
		return
	}
	sec.Value = ""
	c.JSON(http.StatusOK, sec)
}

// deleteSecret handles DELETE /secrets/{name}.
func (s *Server) deleteSecret(c *gin.Context) {
	if !s.requireSecrets(c) || !requireRole(c, models.RoleEmitter) {
		return
	}
	if err := s.secrets.Delete(c.Request.Context(), identity(c), c.Param("name")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// secretAudit handles GET /secrets/{name}/audit (curator): the access
// log for one secret.
func (s *Server) secretAudit(c *gin.Context) {
	if !s.requireSecrets(c) || !requireRole(c, models.RoleCurator) {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	// Audit rows key by secret id, so resolve the name first.
	name := c.Param("name")
	list, err := s.secrets.List(c.Request.Context(), identity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	secretID := ""
	for i := range list {
		if list[i].Name == name {
			secretID = list[i].ID
			break
		}
	}
	if secretID == "" {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "record not found"})
		return
	}

	entries, err := s.secrets.Audit(c.Request.Context(), identity(c), secretID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if entries == nil {
		entries = []models.SecretAuditEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"audit": entries})
}
