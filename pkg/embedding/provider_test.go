package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderSelection(t *testing.T) {
	t.Run("disabled by default", func(t *testing.T) {
		p, err := NewProvider(Config{})
		require.NoError(t, err)
		assert.Equal(t, "disabled", p.Name())
		assert.Equal(t, 0, p.Dimension())

		_, err = p.Embed(context.Background(), "text")
		assert.ErrorIs(t, err, ErrDisabled)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := NewProvider(Config{Provider: "quantum"})
		assert.Error(t, err)
	})

	t.Run("openai requires key", func(t *testing.T) {
		_, err := NewProvider(Config{Provider: "openai"})
		assert.Error(t, err)
	})
}

func TestOllamaProviderEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.Equal(t, "hello", req.Input)

		_ = json.NewEncoder(w).Encode(ollamaResponse{
			Embeddings: [][]float32{{0.1, 0.2, 0.3}},
		})
	}))
	defer server.Close()

	p := newOllamaProvider(Config{Provider: "ollama", BaseURL: server.URL, Dimension: 3})
	vec, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestOllamaProviderDimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaResponse{
			Embeddings: [][]float32{{0.1, 0.2}},
		})
	}))
	defer server.Close()

	p := newOllamaProvider(Config{Provider: "ollama", BaseURL: server.URL, Dimension: 768})
	_, err := p.Embed(context.Background(), "hello")
	assert.ErrorContains(t, err, "dimension")
}

func TestOllamaProviderUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	p := newOllamaProvider(Config{Provider: "ollama", BaseURL: server.URL})
	_, err := p.Embed(context.Background(), "hello")
	assert.ErrorContains(t, err, "status 500")
}
