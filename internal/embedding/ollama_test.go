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

func TestOllamaEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "embeddinggemma", req.Model)
		assert.Equal(t, "some code", req.Prompt)

		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer server.Close()

	engine, err := NewOllamaEngine(server.URL, "")
	require.NoError(t, err)

	vector, err := engine.Embed(context.Background(), "some code")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vector)
}

func TestOllamaEmbedServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	engine, err := NewOllamaEngine(server.URL, "")
	require.NoError(t, err)

	_, err = engine.Embed(context.Background(), "some code")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestNewEngine(t *testing.T) {
	engine, err := NewEngine(Config{Provider: ""})
	require.NoError(t, err)
	assert.Nil(t, engine)

	engine, err = NewEngine(Config{Provider: "ollama"})
	require.NoError(t, err)
	assert.Equal(t, "ollama:embeddinggemma", engine.Name())
	assert.Equal(t, 768, engine.Dimensions())

	_, err = NewEngine(Config{Provider: "weaviate"})
	require.Error(t, err)
}
