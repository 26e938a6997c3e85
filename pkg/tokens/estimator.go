// Package tokens estimates token counts for budget accounting. The
// byte/3 heuristic is the normative floor: a BPE count may raise an
// estimate but never lower it, so budget enforcement stays
// conservative.
package tokens

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator counts tokens. Safe for concurrent use.
type Estimator struct {
	enc *tiktoken.Tiktoken
}

// NewEstimator creates an estimator backed by the cl100k_base
// encoding. When the encoding cannot be loaded (offline builds) the
// estimator falls back to the byte heuristic alone.
func NewEstimator() *Estimator {
	enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
	if err != nil {
		slog.Warn("tiktoken encoding unavailable, using byte heuristic", "error", err)
		return &Estimator{}
	}
	return &Estimator{enc: enc}
}

// EstimateBytes is the normative floor: ceil(n/3).
func EstimateBytes(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + 2) / 3
}

// Estimate returns the token count for text: the BPE count when it
// exceeds the byte floor, otherwise the floor.
func (e *Estimator) Estimate(text string) int {
	floor := EstimateBytes(len(text))
	if e == nil || e.enc == nil {
		return floor
	}
	n := len(e.enc.Encode(text, nil, nil))
	if n > floor {
		return n
	}
	return floor
}
