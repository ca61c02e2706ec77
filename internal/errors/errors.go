// Package errors provides structured, categorized errors for specwright's
// core components, with remediation guidance attached at the point an
// error is raised rather than reconstructed by its caller.
package errors

import "fmt"

// Category classifies why an operation failed. agentgateway.RetryWithBackoff
// does not read it; retry decisions come from agentgateway.ClassifyError.
type Category int

const (
	// ClientFault covers invalid input from a caller: a malformed spec,
	// an unknown chunk id, a bad configuration value.
	ClientFault Category = iota
	// AgentTransient covers Executor/Reviewer failures worth retrying:
	// rate limiting, a dropped connection mid-stream.
	AgentTransient
	// AgentHard covers Executor/Reviewer failures that will not resolve
	// on retry: a malformed tool call, an unparseable review verdict.
	AgentHard
	// GitBenign covers expected non-error git outcomes surfaced as errors
	// by the caller's control flow, e.g. "nothing to commit".
	GitBenign
	// GitRecoverable covers git failures a caller can retry after
	// corrective action: a dirty worktree, a stale branch ref.
	GitRecoverable
	// GitFatal covers git failures that abort the run: a corrupt
	// repository, a missing remote.
	GitFatal
	// SystemFault covers everything else: disk full, permission denied,
	// a crashed subprocess.
	SystemFault
)

// String returns a human-readable name for the category.
func (c Category) String() string {
	switch c {
	case ClientFault:
		return "Client Fault"
	case AgentTransient:
		return "Agent Transient"
	case AgentHard:
		return "Agent Hard Failure"
	case GitBenign:
		return "Git (benign)"
	case GitRecoverable:
		return "Git Recoverable"
	case GitFatal:
		return "Git Fatal"
	case SystemFault:
		return "System Fault"
	default:
		return "Error"
	}
}

// CategorizedError is a structured error carrying a category and actionable
// remediation guidance, in the shape the companion CLI renders.
type CategorizedError struct {
	Category    Category
	Message     string
	Remediation []string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	return e.Message
}

// New creates a CategorizedError with the given category, message, and
// remediation steps.
func New(category Category, message string, remediation ...string) *CategorizedError {
	return &CategorizedError{Category: category, Message: message, Remediation: remediation}
}

// Wrap wraps an existing error with a category, preserving its message.
func Wrap(err error, category Category, remediation ...string) *CategorizedError {
	if err == nil {
		return nil
	}
	return &CategorizedError{Category: category, Message: err.Error(), Remediation: remediation}
}

// WrapWithMessage wraps an error with a custom message and category.
func WrapWithMessage(err error, category Category, message string, remediation ...string) *CategorizedError {
	if err == nil {
		return nil
	}
	return &CategorizedError{
		Category:    category,
		Message:     fmt.Sprintf("%s: %v", message, err),
		Remediation: remediation,
	}
}

// Is reports whether err is a *CategorizedError of the given category.
func Is(err error, category Category) bool {
	ce, ok := err.(*CategorizedError)
	return ok && ce.Category == category
}

// As attempts to convert err to a *CategorizedError, returning nil if it
// isn't one.
func As(err error) *CategorizedError {
	ce, ok := err.(*CategorizedError)
	if ok {
		return ce
	}
	return nil
}

// Retryable reports whether category denotes a failure worth retrying.
// Only AgentTransient is retried per the gateway's backoff policy.
func Retryable(category Category) bool {
	return category == AgentTransient
}
