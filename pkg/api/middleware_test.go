package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcrt-io/rcrt/pkg/auth"
	"github.com/rcrt-io/rcrt/pkg/models"
)

func devServer(t *testing.T) *Server {
	t.Helper()
	authn, err := auth.NewAuthenticator(auth.Config{
		Mode:       auth.ModeDisabled,
		DevOwnerID: "owner-1",
		DevAgentID: "agent-1",
	})
	require.NoError(t, err)
	return &Server{authn: authn}
}

func TestIdentityMiddlewareInjectsIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := devServer(t)

	router := gin.New()
	router.GET("/whoami", s.identityMiddleware(), func(c *gin.Context) {
		id := identity(c)
		c.JSON(http.StatusOK, gin.H{"owner": id.OwnerID, "agent": id.AgentID})
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "owner-1")
	assert.Contains(t, rec.Body.String(), "agent-1")
}

func TestIdentityMiddlewareRejectsBadToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	authn, err := auth.NewAuthenticator(auth.Config{Mode: auth.ModeJWT, HS256Secret: "test-secret"})
	require.NoError(t, err)
	s := &Server{authn: authn}

	router := gin.New()
	router.GET("/whoami", s.identityMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/curated", func(c *gin.Context) {
		c.Set(identityKey, models.Identity{OwnerID: "o", Roles: []string{models.RoleSubscriber}})
		if !requireRole(c, models.RoleCurator) {
			return
		}
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/curated", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
