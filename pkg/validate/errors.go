// Package validate implements the flowctl 3-phase validation pipeline:
// structural → semantic → domain. Structural failures come from strict
// document loading, the semantic phase checks documents against generated
// JSON Schemas, and the domain phase enforces the cross-document rules:
// reference integrity, binding staleness, and scenario path adjacency.
package validate

import "fmt"

// ValidationError represents one error or warning from the validation
// pipeline. Validators accumulate these instead of raising, so callers
// choose strict-vs-lenient exit behavior.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // JSON-path-like location
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s at %s", e.Phase, e.Message, e.Path)
	}
	return fmt.Sprintf("[%s] %s", e.Phase, e.Message)
}

// Errorf builds an error-severity ValidationError.
func Errorf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{
		Phase:    phase,
		Path:     path,
		Message:  fmt.Sprintf(msg, args...),
		Severity: "error",
	}
}

// Warningf builds a warning-severity ValidationError.
func Warningf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{
		Phase:    phase,
		Path:     path,
		Message:  fmt.Sprintf(msg, args...),
		Severity: "warning",
	}
}

// HasErrors reports whether the list contains any error-severity entries.
// Warnings alone never block.
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity == "error" {
			return true
		}
	}
	return false
}

// CountErrors returns the number of error-severity entries.
func CountErrors(errs []*ValidationError) int {
	n := 0
	for _, e := range errs {
		if e.Severity == "error" {
			n++
		}
	}
	return n
}

// Split partitions the list into errors and warnings, preserving order.
func Split(errs []*ValidationError) (errors, warnings []*ValidationError) {
	for _, e := range errs {
		if e.Severity == "warning" {
			warnings = append(warnings, e)
		} else {
			errors = append(errors, e)
		}
	}
	return errors, warnings
}
