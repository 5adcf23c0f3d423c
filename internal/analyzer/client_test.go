package analyzer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStreamSendsRequest(t *testing.T) {
	var got AnalysisRequest
	var gotAuth, gotAccept string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/analyze", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"finding\":\"ok\"}\n\n"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-key")
	body, err := client.OpenStream(context.Background(), AnalysisRequest{
		Snippet:  "package main",
		Language: "go",
	})
	require.NoError(t, err)
	defer body.Close()

	assert.Equal(t, "Bearer secret-key", gotAuth)
	assert.Equal(t, "text/event-stream", gotAccept)
	assert.Equal(t, "package main", got.Snippet)
	assert.Equal(t, "go", got.Language)
	assert.True(t, got.Stream, "stream flag is always forced on")

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "finding")
}

func TestOpenStreamClassifiesFailures(t *testing.T) {
	t.Run("connection refused", func(t *testing.T) {
		// Closed server: the port refuses connections.
		server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		server.Close()

		client := NewClient(server.URL, "")
		_, err := client.OpenStream(context.Background(), AnalysisRequest{})
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("http rejection", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
		}))
		defer server.Close()

		client := NewClient(server.URL, "")
		_, err := client.OpenStream(context.Background(), AnalysisRequest{})

		var rejected *RejectedError
		require.ErrorAs(t, err, &rejected)
		assert.Equal(t, http.StatusTooManyRequests, rejected.StatusCode)
		assert.Contains(t, rejected.Body, "too many requests")
	})
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/health", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := NewClient(server.URL, "")
		assert.NoError(t, client.Health(context.Background()))
	})

	t.Run("unhealthy", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		client := NewClient(server.URL, "")
		var rejected *RejectedError
		assert.ErrorAs(t, client.Health(context.Background()), &rejected)
	})
}

func TestConfigured(t *testing.T) {
	assert.False(t, NewClient("", "key").Configured())
	assert.True(t, NewClient("http://localhost:9", "").Configured())
}
