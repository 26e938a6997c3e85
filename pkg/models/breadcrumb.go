// Package models contains request/response models and business domain types.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Visibility controls who inside a tenant may read a breadcrumb.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityTeam    Visibility = "team"
	VisibilityPrivate Visibility = "private"
)

// Valid reports whether v is a known visibility level.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityTeam, VisibilityPrivate:
		return true
	}
	return false
}

// Sensitivity classifies breadcrumb payloads for handling policy.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityPII    Sensitivity = "pii"
	SensitivitySecret Sensitivity = "secret"
)

// Valid reports whether s is a known sensitivity level.
func (s Sensitivity) Valid() bool {
	switch s {
	case SensitivityLow, SensitivityPII, SensitivitySecret:
		return true
	}
	return false
}

// Breadcrumb is the universal unit of the substrate: a small, persistent,
// versioned JSON packet. Everything agents exchange is a breadcrumb.
type Breadcrumb struct {
	ID              string         `json:"id"`
	OwnerID         string         `json:"owner_id"`
	Title           string         `json:"title"`
	Description     string         `json:"description,omitempty"`
	SemanticVersion string         `json:"semantic_version,omitempty"`
	SchemaName      *string        `json:"schema_name,omitempty"`
	Context         map[string]any `json:"context"`
	Tags            []string       `json:"tags"`
	LLMHints        map[string]any `json:"llm_hints,omitempty"`
	Visibility      Visibility     `json:"visibility"`
	Sensitivity     Sensitivity    `json:"sensitivity"`
	Version         int            `json:"version"`
	Checksum        string         `json:"checksum"`
	SizeBytes       int            `json:"size_bytes"`
	TTL             *time.Time     `json:"ttl,omitempty"`
	EntityKeywords  []string       `json:"entity_keywords,omitempty"`
	Embedding       []float32      `json:"-"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	CreatedBy       *string        `json:"created_by,omitempty"`
	UpdatedBy       *string        `json:"updated_by,omitempty"`
}

// Schema returns the schema name or "" when unset.
func (b *Breadcrumb) Schema() string {
	if b.SchemaName == nil {
		return ""
	}
	return *b.SchemaName
}

// SessionTag returns the first session:<id> tag, or "" when the breadcrumb
// belongs to no session.
func (b *Breadcrumb) SessionTag() string {
	for _, t := range b.Tags {
		if strings.HasPrefix(t, "session:") {
			return t
		}
	}
	return ""
}

// Envelope builds the change-fabric envelope for an event on this
// breadcrumb. The context payload is deliberately left out.
func (b *Breadcrumb) Envelope(t EventType) *EventEnvelope {
	return &EventEnvelope{
		Type:        t,
		RecordID:    b.ID,
		Owner:       b.OwnerID,
		SchemaName:  b.Schema(),
		Tags:        b.Tags,
		Version:     b.Version,
		UpdatedAt:   b.UpdatedAt,
		Visibility:  b.Visibility,
		Sensitivity: b.Sensitivity,
	}
}

// HistoryEntry is one immutable version snapshot of a breadcrumb.
type HistoryEntry struct {
	BreadcrumbID string    `json:"breadcrumb_id"`
	Version      int       `json:"version"`
	Title        string    `json:"title"`
	Context      map[string]any `json:"context"`
	Checksum     string    `json:"checksum"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedBy    *string   `json:"updated_by,omitempty"`
}

// ContextChecksum computes the canonical checksum of a context payload,
// formatted "sha256:<hex>". The checksum is stored on the breadcrumb and on
// every history row so consumers can verify snapshots.
func ContextChecksum(context map[string]any) (string, error) {
	raw, err := json.Marshal(context)
	if err != nil {
		return "", fmt.Errorf("failed to encode context for checksum: %w", err)
	}
	sum := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// ContextSize returns the serialized byte size of a context payload, used for
// size accounting and token estimation.
func ContextSize(context map[string]any) (int, error) {
	raw, err := json.Marshal(context)
	if err != nil {
		return 0, fmt.Errorf("failed to encode context for sizing: %w", err)
	}
	return len(raw), nil
}

// CreateBreadcrumbRequest is the body of POST /records.
type CreateBreadcrumbRequest struct {
	SchemaName      *string        `json:"schema_name,omitempty"`
	Title           string         `json:"title" binding:"required"`
	Description     string         `json:"description,omitempty"`
	SemanticVersion string         `json:"semantic_version,omitempty"`
	Context         map[string]any `json:"context" binding:"required"`
	Tags            []string       `json:"tags"`
	Visibility      Visibility     `json:"visibility,omitempty"`
	Sensitivity     Sensitivity    `json:"sensitivity,omitempty"`
	TTL             *time.Time     `json:"ttl,omitempty"`
	LLMHints        map[string]any `json:"llm_hints,omitempty"`
}

// UpdateBreadcrumbRequest is the body of PATCH /records/{id}. Nil fields are
// left unchanged; Context replaces the payload wholesale.
type UpdateBreadcrumbRequest struct {
	Title       *string        `json:"title,omitempty"`
	Description *string        `json:"description,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Visibility  *Visibility    `json:"visibility,omitempty"`
	Sensitivity *Sensitivity   `json:"sensitivity,omitempty"`
	TTL         *time.Time     `json:"ttl,omitempty"`
	LLMHints    map[string]any `json:"llm_hints,omitempty"`
}

// CreateBreadcrumbResponse is returned by POST /records.
type CreateBreadcrumbResponse struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
}

// ContextView is the transformed (LLM-facing) read model returned by
// GET /records/{id}. Context has been passed through the schema's llm_hints.
type ContextView struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	SchemaName *string        `json:"schema_name,omitempty"`
	Context    map[string]any `json:"context"`
	Tags       []string       `json:"tags"`
	Version    int            `json:"version"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Warnings   []string       `json:"warnings,omitempty"`
}
