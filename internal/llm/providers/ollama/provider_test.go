package ollama

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhe.chen/explaind/internal/llm"
	"github.com/zhe.chen/explaind/pkg/types"
)

func TestGenerateSendsContract(t *testing.T) {
	var got generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"model":"mistral","response":"  {\"frames\": []}  ","done":true}`))
	}))
	defer server.Close()

	provider, err := NewProvider(types.OllamaConfig{BaseURL: server.URL + "/"})
	require.NoError(t, err)

	text, err := llm.Call(context.Background(), provider, llm.Request{
		Prompt:      "storyboard please",
		Model:       "mistral",
		Temperature: 0.7,
		Timeout:     5 * time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"frames": []}`, text)
	assert.Equal(t, "mistral", got.Model)
	assert.Equal(t, "storyboard please", got.Prompt)
	assert.False(t, got.Stream)
	assert.Equal(t, 0.7, got.Options.Temperature)
}

func TestGenerateFailureKinds(t *testing.T) {
	t.Run("non-2xx is a backend error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"model 'mistral' not found"}`, http.StatusNotFound)
		}))
		defer server.Close()

		provider, err := NewProvider(types.OllamaConfig{BaseURL: server.URL})
		require.NoError(t, err)

		_, err = llm.Call(context.Background(), provider, llm.Request{Model: "mistral", Prompt: "x"})
		require.ErrorIs(t, err, llm.ErrBackend)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("malformed body is a backend error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>proxy error</html>`))
		}))
		defer server.Close()

		provider, err := NewProvider(types.OllamaConfig{BaseURL: server.URL})
		require.NoError(t, err)

		_, err = llm.Call(context.Background(), provider, llm.Request{Model: "mistral", Prompt: "x"})
		require.ErrorIs(t, err, llm.ErrBackend)
	})

	t.Run("slow backend times out", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer server.Close()
		defer close(release)

		provider, err := NewProvider(types.OllamaConfig{BaseURL: server.URL})
		require.NoError(t, err)

		_, err = llm.Call(context.Background(), provider, llm.Request{Model: "mistral", Prompt: "x", Timeout: 50 * time.Millisecond})
		require.ErrorIs(t, err, llm.ErrTimeout)
	})

	t.Run("closed port is unavailable", func(t *testing.T) {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := listener.Addr().String()
		require.NoError(t, listener.Close())

		provider, err := NewProvider(types.OllamaConfig{BaseURL: "http://" + addr})
		require.NoError(t, err)

		_, err = llm.Call(context.Background(), provider, llm.Request{Model: "mistral", Prompt: "x", Timeout: 5 * time.Second})
		require.ErrorIs(t, err, llm.ErrUnavailable)
	})
}

func TestNewProviderRequiresURL(t *testing.T) {
	_, err := NewProvider(types.OllamaConfig{})
	require.Error(t, err)
}
