package compiler

import "strings"

// ValidationError aggregates everything wrong with a plan document. It is
// fatal before any execution and never retried.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 1 {
		return "invalid plan: " + e.Issues[0]
	}
	return "invalid plan:\n  - " + strings.Join(e.Issues, "\n  - ")
}
