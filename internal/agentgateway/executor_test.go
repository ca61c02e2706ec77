package agentgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFakeOpencodeServer builds an httptest server speaking just enough of
// the opencode protocol for OpencodeClient: session creation, prompt
// acceptance, and an SSE /events stream the test controls via eventLines.
func newFakeOpencodeServer(t *testing.T, eventLines []string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"sessionId": "sess-1"})
	})

	mux.HandleFunc("/session/sess-1/prompt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/session/sess-1/abort", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		for _, line := range eventLines {
			fmt.Fprint(w, line)
			flusher.Flush()
		}
	})

	return httptest.NewServer(mux)
}

func TestHealthCheck(t *testing.T) {
	srv := newFakeOpencodeServer(t, nil)
	defer srv.Close()

	client := NewOpencodeClient(srv.URL, zerolog.Nop())
	assert.NoError(t, client.HealthCheck(context.Background()))
}

func TestStartExecutionAndAwaitCompletion(t *testing.T) {
	events := []string{
		"event: tool.update\ndata: {\"callID\":\"c1\",\"tool\":\"write_file\",\"state\":\"running\",\"input\":\"x.go\"}\n\n",
		"event: tool.update\ndata: {\"callID\":\"c1\",\"tool\":\"write_file\",\"state\":\"completed\",\"output\":\"ok\"}\n\n",
		"event: session.complete\ndata: {\"sessionId\":\"sess-1\",\"output\":\"done\"}\n\n",
	}
	srv := newFakeOpencodeServer(t, events)
	defer srv.Close()

	client := NewOpencodeClient(srv.URL, zerolog.Nop())
	chunk := ChunkInput{ChunkID: "chunk-1", Title: "add widget", Description: "do the thing", WorkDir: t.TempDir()}

	sessionID, err := client.StartExecution(context.Background(), chunk)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sessionID)

	var toolCalls []ToolCall
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := client.AwaitCompletion(ctx, chunk.ChunkID, func(tc ToolCall) {
		toolCalls = append(toolCalls, tc)
	})
	require.NoError(t, err)
	assert.Equal(t, ExecCompleted, result.Status)
	assert.Equal(t, "done", result.Output)
	require.Len(t, toolCalls, 2)
	assert.Equal(t, "c1", toolCalls[0].CallID)
	assert.Equal(t, ToolCallRunning, toolCalls[0].State)
	assert.Equal(t, ToolCallCompleted, toolCalls[1].State)
}

func TestAwaitCompletionHandlesErrorEvent(t *testing.T) {
	events := []string{
		"event: error\ndata: {\"sessionId\":\"sess-1\",\"message\":\"agent crashed\"}\n\n",
	}
	srv := newFakeOpencodeServer(t, events)
	defer srv.Close()

	client := NewOpencodeClient(srv.URL, zerolog.Nop())
	chunk := ChunkInput{ChunkID: "chunk-1", WorkDir: t.TempDir()}
	_, err := client.StartExecution(context.Background(), chunk)
	require.NoError(t, err)

	result, err := client.AwaitCompletion(context.Background(), chunk.ChunkID, func(ToolCall) {})
	require.NoError(t, err)
	assert.Equal(t, ExecFailed, result.Status)
	assert.Equal(t, "agent crashed", result.Error)
}

func TestAwaitCompletionUnknownChunkErrors(t *testing.T) {
	srv := newFakeOpencodeServer(t, nil)
	defer srv.Close()

	client := NewOpencodeClient(srv.URL, zerolog.Nop())
	_, err := client.AwaitCompletion(context.Background(), "never-started", func(ToolCall) {})
	assert.Error(t, err)
}

func TestAbort(t *testing.T) {
	srv := newFakeOpencodeServer(t, nil)
	defer srv.Close()

	client := NewOpencodeClient(srv.URL, zerolog.Nop())
	chunk := ChunkInput{ChunkID: "chunk-1", WorkDir: t.TempDir()}
	_, err := client.StartExecution(context.Background(), chunk)
	require.NoError(t, err)

	assert.NoError(t, client.Abort(context.Background(), chunk.ChunkID))
	assert.NoError(t, client.Abort(context.Background(), "never-started"))
}
