package openai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/recall/pkg/types"
)

func sseServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n\n", line)
		}
	}))
}

func TestNewProviderRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := NewProvider("")
	assert.Error(t, err)

	p, err := NewProvider("test-key", WithModel("gpt-4o-mini"))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", p.GetModel())
}

func TestCompleteAccumulatesStream(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"choices":[{"delta":{"role":"assistant","content":"Hel"}}]}`,
		`: keep-alive comment`,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`data: [DONE]`,
	})
	defer srv.Close()

	p, err := NewProvider("test-key", WithBaseURL(srv.URL))
	require.NoError(t, err)

	resp, err := p.Complete(context.Background(), []*types.Message{types.NewUserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, types.RoleAssistant, resp.Role)
	assert.Equal(t, "Hello", resp.Content)
}

func TestStreamCompletionSkipsMalformedChunks(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {not json`,
		`data: {"choices":[{"delta":{"content":"ok"}}]}`,
		`data: [DONE]`,
	})
	defer srv.Close()

	p, err := NewProvider("test-key", WithBaseURL(srv.URL))
	require.NoError(t, err)

	stream, err := p.StreamCompletion(context.Background(), []*types.Message{types.NewUserMessage("hi")})
	require.NoError(t, err)

	var content string
	var finished bool
	for chunk := range stream {
		require.NoError(t, chunk.Error)
		content += chunk.Content
		finished = finished || chunk.Finished
	}
	assert.Equal(t, "ok", content)
	assert.True(t, finished)
}

func TestCompleteSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": "rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := NewProvider("test-key", WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), []*types.Message{types.NewUserMessage("hi")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
