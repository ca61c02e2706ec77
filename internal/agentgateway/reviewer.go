package agentgateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/rs/zerolog"
)

// defaultReviewTimeout mirrors config.Configuration.DefaultReviewTimeout's
// default, used only when a caller omits ChunkInput.Timeout.
const defaultReviewTimeout = 120 * time.Second

// ReviewParsePolicy controls how an unparseable or ambiguous Reviewer
// transcript is treated.
type ReviewParsePolicy string

const (
	// ParsePolicyOptimisticPass treats an unparseable transcript as a pass,
	// favoring forward progress over stalling the Spec on agent flakiness.
	ParsePolicyOptimisticPass ReviewParsePolicy = "optimistic_pass"
	// ParsePolicyNeedsFix treats an unparseable transcript conservatively,
	// spawning a fix chunk rather than risk advancing on a bad review.
	ParsePolicyNeedsFix ReviewParsePolicy = "needs_fix"
)

// ReviewerCLI invokes the Reviewer agent as a subprocess that streams
// newline-delimited JSON events on stdout, following the same
// command-template-plus-shlex pattern as the teacher's CustomAgent, but
// parsing a JSON event stream instead of capturing opaque text output.
type ReviewerCLI struct {
	template string
	policy   ReviewParsePolicy
	log      zerolog.Logger
	backoff  BackoffOptions
}

// NewReviewerCLI builds a ReviewerCLI from a command template containing the
// {{PROMPT}} placeholder (e.g. "reviewer-cli --stream-json {{PROMPT}}").
func NewReviewerCLI(template string, policy ReviewParsePolicy, log zerolog.Logger) *ReviewerCLI {
	return &ReviewerCLI{template: template, policy: policy, log: log, backoff: DefaultBackoffOptions()}
}

const promptPlaceholder = "{{PROMPT}}"

// quoteForShlex wraps a string in single quotes for safe shlex parsing,
// escaping embedded single quotes the same way the teacher's CustomAgent does.
func quoteForShlex(s string) string {
	if s == "" {
		return "''"
	}
	escaped := strings.ReplaceAll(s, "'", `'\''`)
	return "'" + escaped + "'"
}

func (r *ReviewerCLI) buildCommand(ctx context.Context, prompt, workDir string) (*exec.Cmd, error) {
	expanded := strings.ReplaceAll(r.template, promptPlaceholder, quoteForShlex(prompt))
	args, err := shlex.Split(expanded)
	if err != nil {
		return nil, fmt.Errorf("agentgateway: invalid reviewer command template: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("agentgateway: reviewer command template produced no command")
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	return cmd, nil
}

// reviewEvent is one line of the Reviewer's newline-delimited JSON stream.
// Only "result" carries the verdict; the others are progress markers the
// Reviewer's internals emit and which this gateway treats as opaque.
type reviewEvent struct {
	Type   string `json:"type"`
	Result *struct {
		Verdict  string `json:"verdict"`
		Feedback string `json:"feedback"`
	} `json:"result"`
}

// Review runs the Reviewer against the chunk's diff/output, parsing its
// newline-delimited JSON stream for a terminal "result" event. An
// unparseable or missing verdict is resolved by the configured
// ReviewParsePolicy rather than surfaced as an error, since a flaky review
// transcript should never wedge a Spec indefinitely. A rate-limited
// subprocess failure is retried with backoff via RetryWithBackoff; every
// other failure propagates (as a ReviewResult, via the parse-failure
// fallback) after exactly one attempt.
func (r *ReviewerCLI) Review(ctx context.Context, chunk ChunkInput, diff string) (*ReviewResult, error) {
	timeout := chunk.Timeout
	if timeout <= 0 {
		timeout = defaultReviewTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt := fmt.Sprintf("Review chunk %q.\n\n%s", chunk.Title, diff)

	var result *ReviewResult
	retryErr := RetryWithBackoff(ctx, r.backoff, func(ctx context.Context) error {
		res, runErr := r.attempt(ctx, prompt, chunk.WorkDir)
		if runErr != nil {
			return runErr
		}
		result = res
		return nil
	})
	if retryErr != nil {
		return nil, fmt.Errorf("agentgateway: reviewer: %w", retryErr)
	}
	return result, nil
}

// attempt runs the reviewer subprocess exactly once. A non-nil error is one
// RetryWithBackoff should classify; a rate-limited process exit surfaces as
// an error so the caller retries, while every other outcome (timeout,
// non-zero exit, unparseable transcript) resolves to a ReviewResult via the
// configured ReviewParsePolicy rather than an error.
func (r *ReviewerCLI) attempt(ctx context.Context, prompt, workDir string) (*ReviewResult, error) {
	cmd, err := r.buildCommand(ctx, prompt, workDir)
	if err != nil {
		return nil, err
	}

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return r.fallback("reviewer timed out"), nil
	}
	if runErr != nil {
		if DetectRateLimit(runErr) || DetectRateLimit(errors.New(stderr.String())) {
			r.log.Warn().Err(runErr).Str("stderr", stderr.String()).Msg("agentgateway: reviewer rate-limited")
			return nil, fmt.Errorf("reviewer rate limited: %w: %s", runErr, stderr.String())
		}
		r.log.Warn().Err(runErr).Str("stderr", stderr.String()).Msg("agentgateway: reviewer process exited with an error")
	}

	verdict, feedback, ok := parseReviewStream(&stdout)
	if !ok {
		r.log.Warn().Msg("agentgateway: reviewer produced no parseable result event")
		return r.fallback("parse failed"), nil
	}
	return &ReviewResult{Verdict: verdict, Feedback: feedback}, nil
}

func (r *ReviewerCLI) fallback(reason string) *ReviewResult {
	if r.policy == ParsePolicyNeedsFix {
		return &ReviewResult{Verdict: ReviewNeedsFix, Feedback: reason}
	}
	return &ReviewResult{Verdict: ReviewPass, Feedback: reason}
}

func parseReviewStream(r *bytes.Buffer) (ReviewVerdict, string, bool) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var verdict ReviewVerdict
	var feedback string
	found := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var evt reviewEvent
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			continue
		}
		if evt.Type == "result" && evt.Result != nil {
			verdict = ReviewVerdict(evt.Result.Verdict)
			feedback = evt.Result.Feedback
			found = true
		}
	}
	if !found {
		return "", "", false
	}
	switch verdict {
	case ReviewPass, ReviewNeedsFix, ReviewFail:
		return verdict, feedback, true
	default:
		return "", "", false
	}
}
