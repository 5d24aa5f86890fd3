package roadmap

import (
	"fmt"
	"strings"
)

// Issue is one schema or integrity problem, addressed by a JSON-ish path.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// SchemaValidationError lists every issue found in a document.
// Its message is fed back to the model in corrective prompts.
type SchemaValidationError struct {
	Issues []Issue
}

func (e *SchemaValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "schema validation failed"
	}
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return "schema validation failed: " + strings.Join(parts, "; ")
}

// CircularDependencyError reports a task dependency cycle.
// Cycle lists the task ids along the cycle, first id repeated at the end.
type CircularDependencyError struct {
	Cycle []string
}

func (e *CircularDependencyError) Error() string {
	if len(e.Cycle) == 0 {
		return "circular task dependencies detected"
	}
	return fmt.Sprintf("circular task dependencies detected: %s", strings.Join(e.Cycle, " -> "))
}

// issues collects problems while walking a document.
type issues []Issue

func (is *issues) add(path, format string, args ...any) {
	*is = append(*is, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (is issues) err() error {
	if len(is) == 0 {
		return nil
	}
	return &SchemaValidationError{Issues: is}
}
