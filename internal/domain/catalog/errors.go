package catalog

import "fmt"

// ParseError marks a source line that could not be segmented into a record.
type ParseError struct {
	Page   int
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error (page %d): %s: %q", e.Page, e.Reason, e.Line)
}

// ValidationError marks a segmented record whose unit or price failed sanity checks.
type ValidationError struct {
	Code   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error %s.%s: %s", e.Code, e.Field, e.Reason)
}
