package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rcrt-io/rcrt/pkg/events"
	"github.com/rcrt-io/rcrt/pkg/models"
)

// streamEvents handles GET /events/stream: a long-lived SSE stream of
// the caller's tenant events, filtered by the union of the agent's
// stored SSE selectors plus an optional inline selector from query
// parameters. No replay on reconnect; clients reconcile by polling.
func (s *Server) streamEvents(c *gin.Context) {
	if !requireRole(c, models.RoleSubscriber) {
		return
	}
	id := identity(c)

	selectors, err := s.sseSelectors(c, id)
	if err != nil {
		respondError(c, err)
		return
	}

	writer, err := events.NewSSEWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
		return
	}

	// Only this tenant's subjects reach the stream.
	sub := s.bus.Subscribe("bc."+id.OwnerID+".>", s.cfg.SSEBuffer)
	defer sub.Close()

	s.metrics.SSEConnections.Inc()
	defer s.metrics.SSEConnections.Dec()

	heartbeat := time.NewTicker(s.cfg.SSEHeartbeat)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := writer.Comment("heartbeat"); err != nil {
				return
			}
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			if !matchesAny(selectors, &evt.Envelope) {
				continue
			}
			if err := writer.Send(evt); err != nil {
				return
			}
		}
	}
}

// sseSelectors builds the connection's filter set: stored selectors
// with the SSE channel enabled plus the inline query selector. An
// empty set means every tenant event passes.
func (s *Server) sseSelectors(c *gin.Context, id models.Identity) ([]models.Selector, error) {
	stored, err := s.store.ListSelectors(c.Request.Context(), id, id.AgentID)
	if err != nil {
		return nil, err
	}
	var out []models.Selector
	for _, sel := range stored {
		if sel.SSE {
			out = append(out, sel.Selector)
		}
	}

	inline := models.Selector{
		SchemaName:   c.Query("schema_name"),
		AnyTags:      splitCSV(c.Query("any_tags")),
		AllTags:      splitCSV(c.Query("all_tags")),
		NoneTags:     splitCSV(c.Query("none_tags")),
		BreadcrumbID: c.Query("breadcrumb_id"),
	}
	if inline.Validate() == nil {
		out = append(out, inline)
	}
	return out, nil
}

func matchesAny(selectors []models.Selector, env *models.EventEnvelope) bool {
	if len(selectors) == 0 {
		return true
	}
	for i := range selectors {
		if selectors[i].MatchesEnvelope(env) {
			return true
		}
	}
	return false
}
