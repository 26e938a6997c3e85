package models

import "time"

// WebhookSubscription is a registered delivery endpoint for an agent.
// Which events reach it is decided by the agent's selectors; this row
// only carries the endpoint and its delivery settings. Secret, when
// set, overrides the agent's signing key for this endpoint.
type WebhookSubscription struct {
	ID        string            `json:"id"`
	OwnerID   string            `json:"owner_id"`
	AgentID   string            `json:"agent_id"`
	URL       string            `json:"url"`
	Secret    string            `json:"-"`
	Headers   map[string]string `json:"headers,omitempty"`
	RetryMax  int               `json:"retry_max"`
	Active    bool              `json:"active"`
	CreatedAt time.Time         `json:"created_at"`
}

// CreateWebhookRequest is the POST /agents/:id/webhooks payload.
type CreateWebhookRequest struct {
	URL      string            `json:"url" binding:"required"`
	Secret   string            `json:"secret,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	RetryMax int               `json:"retry_max,omitempty"`
}

// DLQEntry records a webhook delivery that exhausted its retries. The
// envelope is kept verbatim so operators can replay it.
type DLQEntry struct {
	ID         string         `json:"id"`
	OwnerID    string         `json:"owner_id"`
	AgentID    string         `json:"agent_id"`
	TargetURL  string         `json:"target_url"`
	Envelope   map[string]any `json:"envelope"`
	Attempts   int            `json:"attempts"`
	LastStatus int            `json:"last_status,omitempty"`
	LastError  string         `json:"last_error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
