package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/rcrt-io/rcrt/pkg/builder"
	"github.com/rcrt-io/rcrt/pkg/models"
	"github.com/rcrt-io/rcrt/pkg/store"
	"github.com/rcrt-io/rcrt/pkg/transform"
)

// createRecord handles POST /records. The created event is published
// before the response so consumers never observe a record without its
// event.
func (s *Server) createRecord(c *gin.Context) {
	if !requireRole(c, models.RoleEmitter) {
		return
	}
	var req models.CreateBreadcrumbRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
		return
	}
	if err := s.validator.Validate(req.SchemaName, req.Context); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "meta_schema_violation", "error": err.Error()})
		return
	}

	id := identity(c)
	bc, replayed, err := s.store.CreateBreadcrumb(c.Request.Context(), id, req, c.GetHeader("Idempotency-Key"))
	if err != nil {
		respondError(c, err)
		return
	}
	if replayed {
		c.JSON(http.StatusOK, models.CreateBreadcrumbResponse{ID: bc.ID, Version: bc.Version})
		return
	}

	s.embedRecord(c, bc)
	s.publishEvent(c, bc, models.EventCreated)
	c.JSON(http.StatusCreated, models.CreateBreadcrumbResponse{ID: bc.ID, Version: bc.Version})
}

// getRecord handles GET /records/{id}: the transformed context view.
func (s *Server) getRecord(c *gin.Context) {
	id := identity(c)
	bc, err := s.store.GetBreadcrumb(c.Request.Context(), id, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.contextView(c, bc))
}

// getRecordFull handles GET /records/{id}/full: the raw row, gated to
// curators, the record's author, or an ACL read_full grant. Denial is
// a 404 so existence stays hidden.
func (s *Server) getRecordFull(c *gin.Context) {
	id := identity(c)
	recordID := c.Param("id")
	bc, err := s.store.GetBreadcrumb(c.Request.Context(), id, recordID)
	if err != nil {
		respondError(c, err)
		return
	}

	allowed := id.IsCurator()
	if !allowed && bc.CreatedBy != nil && *bc.CreatedBy == id.AgentID {
		allowed = true
	}
	if !allowed {
		granted, err := s.store.HasAction(c.Request.Context(), id, recordID, models.ActionReadFull)
		if err != nil {
			respondError(c, err)
			return
		}
		allowed = granted
	}
	if !allowed {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "record not found"})
		return
	}
	c.JSON(http.StatusOK, bc)
}

// getHistory handles GET /records/{id}/history.
func (s *Server) getHistory(c *gin.Context) {
	id := identity(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := s.store.ListHistory(c.Request.Context(), id, c.Param("id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

// updateRecord handles PATCH /records/{id} with compare-and-swap via
// If-Match.
func (s *Server) updateRecord(c *gin.Context) {
	if !requireRole(c, models.RoleEmitter) {
		return
	}
	ifMatch := c.GetHeader("If-Match")
	if ifMatch == "" {
		c.JSON(http.StatusPreconditionRequired,
			gin.H{"code": "missing_if_match", "error": "If-Match header is required"})
		return
	}
	version, err := strconv.Atoi(strings.Trim(ifMatch, `"`))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": "If-Match must be a version number"})
		return
	}

	var req models.UpdateBreadcrumbRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
		return
	}

	id := identity(c)
	recordID := c.Param("id")
	if req.Context != nil {
		existing, err := s.store.GetBreadcrumb(c.Request.Context(), id, recordID)
		if err != nil {
			respondError(c, err)
			return
		}
		if err := s.validator.Validate(existing.SchemaName, req.Context); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "meta_schema_violation", "error": err.Error()})
			return
		}
	}

	bc, err := s.store.UpdateBreadcrumb(c.Request.Context(), id, recordID, version, req)
	if err != nil {
		respondError(c, err)
		return
	}

	// Re-embed only when the projected text could have changed.
	if req.Context != nil || req.Title != nil || req.Description != nil {
		s.embedRecord(c, bc)
	}
	s.publishEvent(c, bc, models.EventUpdated)
	c.JSON(http.StatusOK, bc)
}

// deleteRecord handles DELETE /records/{id}.
func (s *Server) deleteRecord(c *gin.Context) {
	if !requireRole(c, models.RoleEmitter) {
		return
	}
	id := identity(c)
	bc, err := s.store.DeleteBreadcrumb(c.Request.Context(), id, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	s.publishEvent(c, bc, models.EventDeleted)
	c.Status(http.StatusNoContent)
}

// listRecords handles GET /records: filtered listing, or search when q
// is present.
func (s *Server) listRecords(c *gin.Context) {
	if c.Query("q") != "" {
		s.searchRecords(c)
		return
	}

	opts := store.ListOptions{
		Tag:        c.Query("tag"),
		SchemaName: c.Query("schema_name"),
		Owner:      c.Query("owner"),
	}
	opts.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "100"))
	opts.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if since := c.Query("updated_since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": "updated_since must be RFC3339"})
			return
		}
		opts.UpdatedSince = &t
	}

	records, err := s.store.ListBreadcrumbs(c.Request.Context(), identity(c), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	if records == nil {
		records = []*models.Breadcrumb{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// searchRecords handles GET /records/search: hybrid retrieval by query
// text, or pure vector retrieval by a literal query vector.
func (s *Server) searchRecords(c *gin.Context) {
	nn, err := strconv.Atoi(c.DefaultQuery("nn", "10"))
	if err != nil || nn < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": "nn must be a non-negative integer"})
		return
	}
	if nn == 0 {
		c.JSON(http.StatusOK, gin.H{"results": []store.SearchResult{}})
		return
	}

	threshold, _ := strconv.ParseFloat(c.DefaultQuery("threshold", "0"), 64)
	opts := store.SearchOptions{
		Schemas:   splitCSV(c.Query("schema_name")),
		Limit:     nn,
		Threshold: threshold,
	}
	id := identity(c)

	if qvec := c.Query("qvec"); qvec != "" {
		vec, err := parseVector(qvec)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
			return
		}
		results, err := s.store.VectorSearch(c.Request.Context(), id, vec, opts)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": emptyIfNil(results)})
		return
	}

	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": "q or qvec is required"})
		return
	}

	// A failed query embedding degrades to keyword-only retrieval.
	var vec []float32
	if s.provider.Dimension() > 0 {
		vec, err = s.provider.Embed(c.Request.Context(), q)
		if err != nil {
			s.logger.Warn("query embedding failed, keyword-only search", "error", err)
			vec = nil
		}
	}
	pointers := builder.NewExtractor(nil).Extract(q, nil)

	results, err := s.store.HybridSearch(c.Request.Context(), id, vec, pointers, opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": emptyIfNil(results)})
}

// batchTransform handles POST /records/batch-transform: transformed
// views for a batch of ids, in request order. Records the caller
// cannot see are omitted.
func (s *Server) batchTransform(c *gin.Context) {
	var req struct {
		IDs []string `json:"ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
		return
	}

	id := identity(c)
	records, err := s.store.GetBreadcrumbs(c.Request.Context(), id, req.IDs)
	if err != nil {
		respondError(c, err)
		return
	}
	byID := make(map[string]*models.Breadcrumb, len(records))
	for _, bc := range records {
		byID[bc.ID] = bc
	}

	views := make([]*models.ContextView, len(req.IDs))
	g, gctx := errgroup.WithContext(c.Request.Context())
	g.SetLimit(8)
	for i, recordID := range req.IDs {
		bc, ok := byID[recordID]
		if !ok {
			continue
		}
		g.Go(func() error {
			hints, err := s.cache.Get(gctx, bc.Schema())
			if err != nil {
				s.logger.Warn("schema definition lookup failed", "schema", bc.Schema(), "error", err)
			}
			transformed, warnings := s.engine.Apply(bc.Schema(), bc.Context, hints)
			views[i] = &models.ContextView{
				ID:         bc.ID,
				Title:      bc.Title,
				SchemaName: bc.SchemaName,
				Context:    transformed,
				Tags:       bc.Tags,
				Version:    bc.Version,
				UpdatedAt:  bc.UpdatedAt,
				Warnings:   warnings,
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*models.ContextView, 0, len(views))
	for _, v := range views {
		if v != nil {
			out = append(out, v)
		}
	}
	c.JSON(http.StatusOK, gin.H{"records": out})
}

// contextView renders one record through its schema's transform hints.
func (s *Server) contextView(c *gin.Context, bc *models.Breadcrumb) *models.ContextView {
	hints, err := s.cache.Get(c.Request.Context(), bc.Schema())
	if err != nil {
		s.logger.Warn("schema definition lookup failed", "schema", bc.Schema(), "error", err)
	}
	transformed, warnings := s.engine.Apply(bc.Schema(), bc.Context, hints)
	return &models.ContextView{
		ID:         bc.ID,
		Title:      bc.Title,
		SchemaName: bc.SchemaName,
		Context:    transformed,
		Tags:       bc.Tags,
		Version:    bc.Version,
		UpdatedAt:  bc.UpdatedAt,
		Warnings:   warnings,
	}
}

// embedRecord computes and stores the record's embedding. Failure is
// tolerated: the entity worker's backfill retries rows left without a
// vector.
func (s *Server) embedRecord(c *gin.Context, bc *models.Breadcrumb) {
	if s.provider.Dimension() <= 0 {
		return
	}
	hints, err := s.cache.Get(c.Request.Context(), bc.Schema())
	if err != nil {
		s.logger.Warn("schema definition lookup failed", "schema", bc.Schema(), "error", err)
	}
	transformed, _ := s.engine.Apply(bc.Schema(), bc.Context, hints)
	projection := transform.Projection(bc.Title, bc.Description, transformed)

	vec, err := s.provider.Embed(c.Request.Context(), projection)
	if err != nil {
		s.logger.Warn("embedding failed, leaving for backfill", "record_id", bc.ID, "error", err)
		return
	}
	if err := s.store.UpdateEmbedding(c.Request.Context(), bc.ID, vec); err != nil {
		s.logger.Warn("failed to store embedding", "record_id", bc.ID, "error", err)
	}
}

// publishEvent emits the record's change-fabric envelope. Publish
// failure is logged, not surfaced: the row is committed and the
// hygiene/backfill paths tolerate missed events.
func (s *Server) publishEvent(c *gin.Context, bc *models.Breadcrumb, t models.EventType) {
	if _, err := s.publisher.Publish(c.Request.Context(), *bc.Envelope(t)); err != nil {
		s.logger.Error("event publish failed", "record_id", bc.ID, "type", t, "error", err)
		return
	}
	s.metrics.EventsPublished.WithLabelValues(string(t)).Inc()
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parseVector parses a query vector given as "[0.1,0.2,...]" or a bare
// comma-separated list.
func parseVector(raw string) ([]float32, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "[")
	trimmed = strings.TrimSuffix(trimmed, "]")
	if trimmed == "" {
		return nil, &store.ValidationError{Field: "qvec", Message: "empty vector"}
	}
	parts := strings.Split(trimmed, ",")
	vec := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, &store.ValidationError{Field: "qvec", Message: "not a number: " + p}
		}
		vec[i] = float32(f)
	}
	return vec, nil
}

func emptyIfNil(results []store.SearchResult) []store.SearchResult {
	if results == nil {
		return []store.SearchResult{}
	}
	return results
}
