package services

import (
	"fmt"
	"strings"
)

// ValidationError reports invalid user input. Nothing has been written to
// storage or the CRM when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Message)
}

// ValidationErrors collects every problem found in one submission.
type ValidationErrors []*ValidationError

func (es ValidationErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

func (es ValidationErrors) Unwrap() []error {
	out := make([]error, len(es))
	for i, e := range es {
		out[i] = e
	}
	return out
}

// RecordError is a CRM failure that happened after the project was
// provisioned. ProjectPath names the folder left behind for reconciliation.
type RecordError struct {
	Op          string
	ProjectPath string
	Err         error
}

func (e *RecordError) Error() string {
	if e.ProjectPath == "" {
		return fmt.Sprintf("crm %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("crm %s (project %s): %v", e.Op, e.ProjectPath, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }
