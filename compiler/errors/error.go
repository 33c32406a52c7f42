package errors

import (
	"encoding/json"
	"fmt"
)

// Severity represents the severity level of a diagnostic
type Severity int

const (
	Info Severity = iota
	Warning
	Error
	Fatal
)

// String returns the string representation of the severity
func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler for Severity
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler for Severity
func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	switch str {
	case "info":
		*s = Info
	case "warning":
		*s = Warning
	case "fatal":
		*s = Fatal
	default:
		*s = Error
	}
	return nil
}

// SourceLocation points at a span of an input file. Line and Column are 1-based;
// a zero Line means the diagnostic is not tied to a position.
type SourceLocation struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
	Length int    `json:"length"`
}

// String formats the location as file:line, or file alone when the line
// is unknown
func (l SourceLocation) String() string {
	if l.File == "" {
		return ""
	}
	if l.Line == 0 {
		return l.File
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// ErrorContext contains the source lines surrounding a diagnostic
type ErrorContext struct {
	SourceLines []string  `json:"source_lines"`
	Highlight   Highlight `json:"highlight"`
	FirstLine   int       `json:"first_line"`
}

// Highlight specifies which part of the context to underline
type Highlight struct {
	Line  int `json:"line"`  // index into SourceLines
	Start int `json:"start"` // 0-based column
	End   int `json:"end"`
}

// FixSuggestion is a hint shown under a diagnostic
type FixSuggestion struct {
	Description string   `json:"description"`
	Candidates  []string `json:"candidates,omitempty"`
}

// CompilerError is the user-facing form of every build failure.
type CompilerError struct {
	Phase         string         // resolve, transform, package, config
	Code          string         // MODULE_NOT_FOUND, TRANSFORM_FAILED, ...
	Message       string         // Human-readable message
	Location      SourceLocation // File, line, column
	Severity      Severity
	Context       ErrorContext
	Suggestion    *FixSuggestion
	RelatedErrors []CompilerError
}

// Error implements the error interface
func (e CompilerError) Error() string {
	if e.Location.File == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Location.Line == 0 {
		return fmt.Sprintf("%s: %s: %s", e.Location.File, e.Code, e.Message)
	}
	return fmt.Sprintf("%s:%d:%d: %s: %s",
		e.Location.File,
		e.Location.Line,
		e.Location.Column,
		e.Code,
		e.Message)
}

// NewCompilerError creates a new CompilerError
func NewCompilerError(phase, code, message string, location SourceLocation, severity Severity) CompilerError {
	return CompilerError{
		Phase:         phase,
		Code:          code,
		Message:       message,
		Location:      location,
		Severity:      severity,
		RelatedErrors: []CompilerError{},
	}
}

// WithContext adds context to the error
func (e CompilerError) WithContext(ctx ErrorContext) CompilerError {
	e.Context = ctx
	return e
}

// WithSuggestion adds a hint to the error
func (e CompilerError) WithSuggestion(suggestion FixSuggestion) CompilerError {
	e.Suggestion = &suggestion
	return e
}

// WithRelatedError adds a related error
func (e CompilerError) WithRelatedError(related CompilerError) CompilerError {
	e.RelatedErrors = append(e.RelatedErrors, related)
	return e
}

// MarshalJSON implements json.Marshaler
func (e CompilerError) MarshalJSON() ([]byte, error) {
	related := e.RelatedErrors
	if related == nil {
		related = []CompilerError{}
	}
	return json.Marshal(struct {
		Phase         string          `json:"phase"`
		Code          string          `json:"code"`
		Message       string          `json:"message"`
		Severity      Severity        `json:"severity"`
		Location      SourceLocation  `json:"location"`
		Context       ErrorContext    `json:"context"`
		Suggestion    *FixSuggestion  `json:"suggestion"`
		RelatedErrors []CompilerError `json:"related_errors"`
	}{
		Phase:         e.Phase,
		Code:          e.Code,
		Message:       e.Message,
		Severity:      e.Severity,
		Location:      e.Location,
		Context:       e.Context,
		Suggestion:    e.Suggestion,
		RelatedErrors: related,
	})
}

// IsError returns true if the error is at Error or Fatal severity
func (e CompilerError) IsError() bool {
	return e.Severity == Error || e.Severity == Fatal
}

// IsWarning returns true if the error is at Warning severity
func (e CompilerError) IsWarning() bool {
	return e.Severity == Warning
}
