package errors

import (
	"encoding/json"
)

// JSONOutput is the document printed by `bundler build --json` on failure
type JSONOutput struct {
	Status   string          `json:"status"`
	Errors   []CompilerError `json:"errors"`
	Warnings []CompilerError `json:"warnings"`
	Summary  Summary         `json:"summary"`
}

// Summary contains error and warning counts
type Summary struct {
	ErrorCount   int `json:"error_count"`
	WarningCount int `json:"warning_count"`
	TotalCount   int `json:"total_count"`
}

// FormatAsJSON formats a CompilerError as indented JSON
func (e CompilerError) FormatAsJSON() (string, error) {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// NewJSONOutput splits diagnostics by severity and derives the status
func NewJSONOutput(diags []CompilerError) JSONOutput {
	out := JSONOutput{
		Status:   "success",
		Errors:   []CompilerError{},
		Warnings: []CompilerError{},
	}
	for _, d := range diags {
		if d.IsError() {
			out.Errors = append(out.Errors, d)
		} else if d.IsWarning() {
			out.Warnings = append(out.Warnings, d)
		}
	}

	switch {
	case len(out.Errors) > 0:
		out.Status = "error"
	case len(out.Warnings) > 0:
		out.Status = "warning"
	}
	out.Summary = Summary{
		ErrorCount:   len(out.Errors),
		WarningCount: len(out.Warnings),
		TotalCount:   len(diags),
	}
	return out
}

// FormatErrorsAsJSON formats multiple diagnostics as indented JSON
func FormatErrorsAsJSON(diags []CompilerError) (string, error) {
	data, err := json.MarshalIndent(NewJSONOutput(diags), "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
