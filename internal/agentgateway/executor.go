package agentgateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// OpencodeClient drives the Executor agent over its local HTTP + SSE
// protocol: create a session, post a prompt, stream tool-call events from
// GET /events, and await a terminal session.complete/error.
type OpencodeClient struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger

	mu       sync.Mutex
	sessions map[string]string // chunkID -> opencode sessionID
}

// NewOpencodeClient constructs a client against a local opencode server.
func NewOpencodeClient(baseURL string, log zerolog.Logger) *OpencodeClient {
	return &OpencodeClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{},
		log:      log,
		sessions: make(map[string]string),
	}
}

// HealthCheck gates startup: it reports whether the opencode server is
// reachable before the caller relies on it.
func (c *OpencodeClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("building health check request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("opencode health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("opencode health check: status %d", resp.StatusCode)
	}
	return nil
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
}

// StartExecution creates an opencode session for the chunk's working
// directory and posts the chunk's prompt. It returns as soon as the prompt
// is accepted; it does not wait for completion.
func (c *OpencodeClient) StartExecution(ctx context.Context, chunk ChunkInput) (string, error) {
	body, err := json.Marshal(map[string]string{"directory": chunk.WorkDir})
	if err != nil {
		return "", fmt.Errorf("marshaling session request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/session", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("creating opencode session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("creating opencode session: status %d", resp.StatusCode)
	}

	var created createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decoding session response: %w", err)
	}

	c.mu.Lock()
	c.sessions[chunk.ChunkID] = created.SessionID
	c.mu.Unlock()

	promptBody, err := json.Marshal(map[string]any{
		"parts": []map[string]string{{"type": "text", "text": chunk.Description}},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling prompt request: %w", err)
	}
	promptReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/session/%s/prompt", c.baseURL, created.SessionID), bytes.NewReader(promptBody))
	if err != nil {
		return "", fmt.Errorf("building prompt request: %w", err)
	}
	promptReq.Header.Set("Content-Type", "application/json")

	promptResp, err := c.http.Do(promptReq)
	if err != nil {
		return "", fmt.Errorf("sending prompt: %w", err)
	}
	defer promptResp.Body.Close()
	if promptResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("sending prompt: status %d", promptResp.StatusCode)
	}

	return created.SessionID, nil
}

// sseEvent is one parsed "event: ...\ndata: ...\n\n" frame.
type sseEvent struct {
	Event string
	Data  string
}

// streamEvents reads text/event-stream framing from r, emitting one sseEvent
// per blank-line-terminated block. Grounded on the pack's hand-rolled SSE
// line reader (no SSE client library appears anywhere in the retrieved
// corpus), adapted from bufio.Reader.ReadBytes to a bufio.Scanner since we
// read whole frames rather than passing raw bytes through a pipe.
func streamEvents(ctx context.Context, r io.Reader, onEvent func(sseEvent)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var cur sseEvent
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Text()
		switch {
		case line == "":
			if cur.Data != "" || cur.Event != "" {
				onEvent(cur)
				cur = sseEvent{}
			}
		case strings.HasPrefix(line, "event:"):
			cur.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if cur.Data != "" {
				cur.Data += "\n"
			}
			cur.Data += data
		}
	}
	if cur.Data != "" || cur.Event != "" {
		onEvent(cur)
	}
	return scanner.Err()
}

type toolUpdatePayload struct {
	CallID string `json:"callID"`
	Tool   string `json:"tool"`
	State  string `json:"state"`
	Input  string `json:"input"`
	Output string `json:"output"`
}

type sessionCompletePayload struct {
	SessionID string `json:"sessionId"`
	Output    string `json:"output"`
}

type errorPayload struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// AwaitCompletion subscribes to GET /events and blocks until the chunk's
// session reaches session.complete, an error event, the context deadline,
// or cancellation, forwarding every tool.update to onToolCall as it arrives.
// Duplicate CallIDs are forwarded as-is; the caller (ChunkRunner) is
// responsible for updating its persisted record in place.
func (c *OpencodeClient) AwaitCompletion(ctx context.Context, chunkID string, onToolCall func(ToolCall)) (*ExecResult, error) {
	c.mu.Lock()
	sessionID := c.sessions[chunkID]
	c.mu.Unlock()
	if sessionID == "" {
		return nil, fmt.Errorf("agentgateway: no active session for chunk %s", chunkID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/events", nil)
	if err != nil {
		return nil, fmt.Errorf("building events request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("subscribing to opencode events: %w", err)
	}
	defer resp.Body.Close()

	var result *ExecResult
	streamErr := streamEvents(ctx, resp.Body, func(evt sseEvent) {
		if result != nil {
			return
		}
		switch evt.Event {
		case "tool.update":
			var payload toolUpdatePayload
			if err := json.Unmarshal([]byte(evt.Data), &payload); err != nil {
				c.log.Warn().Err(err).Msg("agentgateway: malformed tool.update event")
				return
			}
			onToolCall(ToolCall{
				CallID: payload.CallID,
				Tool:   payload.Tool,
				State:  ToolCallState(payload.State),
				Input:  payload.Input,
				Output: payload.Output,
			})
		case "session.complete":
			var payload sessionCompletePayload
			if err := json.Unmarshal([]byte(evt.Data), &payload); err != nil || payload.SessionID != sessionID {
				return
			}
			result = &ExecResult{Status: ExecCompleted, Output: payload.Output}
		case "error":
			var payload errorPayload
			if err := json.Unmarshal([]byte(evt.Data), &payload); err != nil || payload.SessionID != sessionID {
				return
			}
			result = &ExecResult{Status: ExecFailed, Error: payload.Message}
		}
	})

	if result != nil {
		return result, nil
	}
	if ctx.Err() != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return &ExecResult{Status: ExecTimeout}, nil
		}
		return &ExecResult{Status: ExecCancelled}, nil
	}
	if streamErr != nil {
		return nil, fmt.Errorf("reading opencode event stream: %w", streamErr)
	}
	return nil, fmt.Errorf("agentgateway: event stream ended without a terminal event")
}

// Abort requests the opencode server cancel an in-flight session.
func (c *OpencodeClient) Abort(ctx context.Context, chunkID string) error {
	c.mu.Lock()
	sessionID := c.sessions[chunkID]
	c.mu.Unlock()
	if sessionID == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/session/%s/abort", c.baseURL, sessionID), nil)
	if err != nil {
		return fmt.Errorf("building abort request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("aborting opencode session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("aborting opencode session: status %d", resp.StatusCode)
	}
	return nil
}

// defaultExecuteTimeout mirrors config.Configuration.DefaultExecuteTimeout's
// default. OpencodeClient does not read it or ChunkInput.Timeout; the
// execute deadline comes from the context the caller passes in.
const defaultExecuteTimeout = 15 * time.Minute
