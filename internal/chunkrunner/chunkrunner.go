// Package chunkrunner drives a single chunk through the execute/review/fix
// state machine: START -> EXECUTING -> (pass/needs_fix/fail) -> terminal,
// with a bounded depth-1 fix cascade. It depends only on the small
// interfaces it needs from agentgateway and store, so it can be tested
// against fakes without a real opencode server or subprocess reviewer.
package chunkrunner

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/specwright/specwright/internal/agentgateway"
	"github.com/specwright/specwright/internal/eventbus"
	"github.com/specwright/specwright/internal/store"
)

// Executor is the subset of agentgateway.OpencodeClient that ChunkRunner
// needs, so tests can supply a fake.
type Executor interface {
	StartExecution(ctx context.Context, chunk agentgateway.ChunkInput) (string, error)
	AwaitCompletion(ctx context.Context, chunkID string, onToolCall func(agentgateway.ToolCall)) (*agentgateway.ExecResult, error)
	Abort(ctx context.Context, chunkID string) error
}

// Reviewer is the subset of agentgateway.ReviewerCLI that ChunkRunner needs.
type Reviewer interface {
	Review(ctx context.Context, chunk agentgateway.ChunkInput, diff string) (*agentgateway.ReviewResult, error)
}

// OutcomeStatus is the terminal status Run reports for one invocation.
type OutcomeStatus string

const (
	OutcomePassed     OutcomeStatus = "passed"
	OutcomeFixSpawned OutcomeStatus = "fix_spawned"
	OutcomeFailed     OutcomeStatus = "failed"
	OutcomeCancelled  OutcomeStatus = "cancelled"
)

// Outcome is what Run returns once a chunk reaches a terminal state.
type Outcome struct {
	Status         OutcomeStatus
	FixChunkID     string
	ReviewStatus   store.ReviewStatus
	ReviewFeedback string
}

// Options configures one Run invocation.
type Options struct {
	ExecuteTimeout time.Duration
}

// DefaultOptions mirrors config.Configuration's execute-timeout default.
func DefaultOptions() Options {
	return Options{ExecuteTimeout: 15 * time.Minute}
}

// Runner runs chunks to completion, persisting progress via Store and
// emitting events through an injected emit function — ChunkRunner has no
// dependency on EventBus's transport, only on the eventbus.Event shape.
type Runner struct {
	store    *store.Store
	executor Executor
	reviewer Reviewer
	log      zerolog.Logger
	emit     func(eventbus.Event)
}

// New builds a Runner. emit may be nil, in which case events are discarded.
func New(s *store.Store, executor Executor, reviewer Reviewer, log zerolog.Logger, emit func(eventbus.Event)) *Runner {
	if emit == nil {
		emit = func(eventbus.Event) {}
	}
	return &Runner{store: s, executor: executor, reviewer: reviewer, log: log, emit: emit}
}

func (r *Runner) emitEvent(topic, eventType string, payload any) {
	r.emit(eventbus.Event{Topic: topic, Type: eventType, Payload: payload, Timestamp: time.Now()})
}

// Run executes, reviews, and (if needed) spawns a fix for one chunk. It
// honors abort at three points: before starting execution, before starting
// review, and between each streamed tool call.
func (r *Runner) Run(ctx context.Context, chunk *store.Chunk, workDir string, abort <-chan struct{}, opts Options) (*Outcome, error) {
	topic := "spec:" + chunk.SpecID

	if isAborted(abort) {
		return &Outcome{Status: OutcomeCancelled}, nil
	}

	r.emitEvent(topic, "chunk_start", chunk.ID)
	if err := r.store.UpdateChunkStatus(ctx, chunk.ID, store.ChunkStatusRunning); err != nil {
		return nil, fmt.Errorf("chunkrunner: marking chunk running: %w", err)
	}

	timeout := opts.ExecuteTimeout
	if timeout <= 0 {
		timeout = DefaultOptions().ExecuteTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	input := agentgateway.ChunkInput{
		ChunkID:     chunk.ID,
		Title:       chunk.Title,
		Description: describeChunk(chunk),
		WorkDir:     workDir,
		Timeout:     timeout,
	}

	if _, err := r.executor.StartExecution(execCtx, input); err != nil {
		return r.fail(ctx, chunk, topic, fmt.Sprintf("starting execution: %v", err))
	}

	result, err := r.executor.AwaitCompletion(execCtx, chunk.ID, func(tc agentgateway.ToolCall) {
		r.persistToolCall(ctx, chunk.ID, tc)
		r.emitEvent(topic, "tool_call", tc)
		if isAborted(abort) {
			_ = r.executor.Abort(ctx, chunk.ID)
		}
	})
	if err != nil {
		return r.fail(ctx, chunk, topic, fmt.Sprintf("awaiting execution: %v", err))
	}

	switch result.Status {
	case agentgateway.ExecCancelled:
		return &Outcome{Status: OutcomeCancelled}, nil
	case agentgateway.ExecTimeout, agentgateway.ExecFailed:
		return r.fail(ctx, chunk, topic, result.Error)
	}

	if err := r.store.UpdateChunkOutput(ctx, chunk.ID, result.Output, summarize(result.Output)); err != nil {
		return nil, fmt.Errorf("chunkrunner: recording output: %w", err)
	}
	r.emitEvent(topic, "chunk_complete", chunk.ID)

	if isAborted(abort) {
		return &Outcome{Status: OutcomeCancelled}, nil
	}

	r.emitEvent(topic, "review_start", chunk.ID)
	// The review runs under the reviewer's own default timeout, not the
	// execute timeout.
	reviewInput := input
	reviewInput.Timeout = 0
	review, err := r.reviewer.Review(ctx, reviewInput, result.Output)
	if err != nil {
		return r.fail(ctx, chunk, topic, fmt.Sprintf("review failed: %v", err))
	}

	if err := r.store.UpdateChunkReview(ctx, chunk.ID, store.ReviewStatus(review.Verdict), review.Feedback); err != nil {
		return nil, fmt.Errorf("chunkrunner: recording review: %w", err)
	}
	r.emitEvent(topic, "review_complete", map[string]any{"chunkID": chunk.ID, "verdict": review.Verdict})

	switch review.Verdict {
	case agentgateway.ReviewFail:
		return r.fail(ctx, chunk, topic, review.Feedback)
	case agentgateway.ReviewNeedsFix:
		return r.spawnFix(ctx, chunk, review)
	default: // ReviewPass
		if err := r.store.UpdateChunkStatus(ctx, chunk.ID, store.ChunkStatusCompleted); err != nil {
			return nil, fmt.Errorf("chunkrunner: marking chunk completed: %w", err)
		}
		return &Outcome{Status: OutcomePassed, ReviewStatus: store.ReviewStatusPass, ReviewFeedback: review.Feedback}, nil
	}
}

// spawnFix inserts a fix chunk for review feedback. If the parent chunk is
// itself a fix chunk (its sole dependency is its own parent), the cascade
// is already at depth 1 and must not grow further: both chunks are marked
// completed and no further fix is spawned, per the depth-1 bound.
func (r *Runner) spawnFix(ctx context.Context, chunk *store.Chunk, review *agentgateway.ReviewResult) (*Outcome, error) {
	if isFixChunk(chunk) {
		if err := r.store.UpdateChunkStatus(ctx, chunk.ID, store.ChunkStatusCompleted); err != nil {
			return nil, fmt.Errorf("chunkrunner: completing depth-bounded fix chunk: %w", err)
		}
		return &Outcome{Status: OutcomePassed, ReviewStatus: store.ReviewStatusNeedsFix, ReviewFeedback: review.Feedback}, nil
	}

	fix, err := r.store.InsertFixChunk(ctx, chunk.ID, fmt.Sprintf("Fix: %s", chunk.Title), review.Feedback, review.Feedback)
	if err != nil {
		return nil, fmt.Errorf("chunkrunner: inserting fix chunk: %w", err)
	}
	if err := r.store.UpdateChunkStatus(ctx, chunk.ID, store.ChunkStatusCompleted); err != nil {
		return nil, fmt.Errorf("chunkrunner: marking parent completed: %w", err)
	}
	r.emitEvent("spec:"+chunk.SpecID, "fix_chunk_spawned", fix.ID)

	return &Outcome{Status: OutcomeFixSpawned, FixChunkID: fix.ID, ReviewStatus: store.ReviewStatusNeedsFix, ReviewFeedback: review.Feedback}, nil
}

// isFixChunk reports whether chunk exists solely to address review feedback
// on another chunk: its sole dependency is its parent.
func isFixChunk(chunk *store.Chunk) bool {
	return chunk.ReviewFeedback != "" && len(chunk.Dependencies) == 1
}

func (r *Runner) fail(ctx context.Context, chunk *store.Chunk, topic, errMsg string) (*Outcome, error) {
	if err := r.store.UpdateChunkError(ctx, chunk.ID, errMsg); err != nil {
		r.log.Error().Err(err).Str("chunk_id", chunk.ID).Msg("chunkrunner: failed to persist error message")
	}
	if err := r.store.UpdateChunkStatus(ctx, chunk.ID, store.ChunkStatusFailed); err != nil {
		return nil, fmt.Errorf("chunkrunner: marking chunk failed: %w", err)
	}
	r.emitEvent(topic, "error", errMsg)
	return &Outcome{Status: OutcomeFailed}, nil
}

func (r *Runner) persistToolCall(ctx context.Context, chunkID string, tc agentgateway.ToolCall) {
	_, err := r.store.UpsertToolCall(ctx, &store.ChunkToolCall{
		ChunkID: chunkID,
		CallID:  tc.CallID,
		Tool:    tc.Tool,
		Input:   tc.Input,
		Output:  tc.Output,
		Status:  toolCallStatus(tc.State),
	})
	if err != nil {
		r.log.Warn().Err(err).Str("chunk_id", chunkID).Str("call_id", tc.CallID).Msg("chunkrunner: failed to persist tool call")
	}
}

func toolCallStatus(state agentgateway.ToolCallState) store.ToolCallStatus {
	switch state {
	case agentgateway.ToolCallCompleted:
		return store.ToolCallStatusCompleted
	case agentgateway.ToolCallError:
		return store.ToolCallStatusError
	default:
		return store.ToolCallStatusRunning
	}
}

func isAborted(abort <-chan struct{}) bool {
	if abort == nil {
		return false
	}
	select {
	case <-abort:
		return true
	default:
		return false
	}
}

func describeChunk(chunk *store.Chunk) string {
	if chunk.Description != "" {
		return chunk.Description
	}
	return chunk.Title
}

func summarize(output string) string {
	const maxLen = 280
	if len(output) <= maxLen {
		return output
	}
	return output[:maxLen] + "..."
}
