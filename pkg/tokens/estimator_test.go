package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateBytes(t *testing.T) {
	assert.Equal(t, 0, EstimateBytes(0))
	assert.Equal(t, 1, EstimateBytes(1))
	assert.Equal(t, 1, EstimateBytes(3))
	assert.Equal(t, 2, EstimateBytes(4))
	assert.Equal(t, 100, EstimateBytes(300))
}

func TestEstimateNeverBelowFloor(t *testing.T) {
	e := NewEstimator()
	// Long repetitive text compresses well under BPE; the byte floor
	// must still hold.
	text := strings.Repeat("aaaaaa", 500)
	got := e.Estimate(text)
	assert.GreaterOrEqual(t, got, EstimateBytes(len(text)))
}

func TestEstimateEmpty(t *testing.T) {
	e := NewEstimator()
	assert.Equal(t, 0, e.Estimate(""))
}

func TestNilEstimatorFallsBack(t *testing.T) {
	var e *Estimator
	assert.Equal(t, EstimateBytes(10), e.Estimate("0123456789"))
}
