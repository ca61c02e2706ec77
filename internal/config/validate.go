package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	FilePath string
	Line     int
	Column   int
	Message  string
	Field    string
}

func (e *ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.FilePath, e.Line, e.Column, e.Message)
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: field '%s': %s", e.FilePath, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.FilePath, e.Message)
}

// ValidateYAMLSyntax checks if the YAML file at filePath has valid syntax.
// A missing or empty file is not an error; defaults apply.
func ValidateYAMLSyntax(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		if os.IsPermission(err) {
			return &ValidationError{FilePath: filePath, Message: "permission denied"}
		}
		return &ValidationError{FilePath: filePath, Message: err.Error()}
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		var typeError *yaml.TypeError
		if errors.As(err, &typeError) {
			return &ValidationError{FilePath: filePath, Message: strings.Join(typeError.Errors, "; ")}
		}
		line, column := extractLineColumn(err.Error())
		return &ValidationError{FilePath: filePath, Line: line, Column: column, Message: cleanYAMLError(err.Error())}
	}
	return nil
}

// Validate checks a loaded Configuration for internally consistent values.
func Validate(cfg *Configuration) error {
	if cfg.MaxWorkers < 1 {
		return &ValidationError{Field: "max_workers", Message: "must be at least 1"}
	}
	if cfg.DefaultExecuteTimeout < 1 {
		return &ValidationError{Field: "default_execute_timeout", Message: "must be a positive number of seconds"}
	}
	if cfg.DefaultReviewTimeout < 1 {
		return &ValidationError{Field: "default_review_timeout", Message: "must be a positive number of seconds"}
	}
	if cfg.MaxRetries < 0 || cfg.MaxRetries > 10 {
		return &ValidationError{Field: "max_retries", Message: "must be between 0 and 10"}
	}
	switch cfg.ReviewParsePolicy {
	case "optimistic_pass", "needs_fix":
	default:
		return &ValidationError{Field: "review_parse_policy", Message: "must be one of: optimistic_pass, needs_fix"}
	}
	if cfg.WorktreeMaxIdleDays < 1 {
		return &ValidationError{Field: "worktree_max_idle_days", Message: "must be at least 1"}
	}
	if cfg.StateDir == "" {
		return &ValidationError{Field: "state_dir", Message: "is required"}
	}
	return nil
}

func extractLineColumn(errMsg string) (line, column int) {
	var l, c int
	if n, _ := fmt.Sscanf(errMsg, "yaml: line %d: column %d:", &l, &c); n == 2 {
		return l, c
	}
	if n, _ := fmt.Sscanf(errMsg, "yaml: line %d:", &l); n == 1 {
		return l, 1
	}
	return 0, 0
}

func cleanYAMLError(errMsg string) string {
	if idx := strings.LastIndex(errMsg, ": "); idx > 0 {
		if strings.HasPrefix(errMsg, "yaml:") {
			return errMsg[idx+2:]
		}
	}
	return errMsg
}
