package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	cerrors "github.com/conduit-lang/bundler/compiler/errors"
)

// ErrorLevel represents the severity of an error message
type ErrorLevel int

const (
	ErrorLevelError ErrorLevel = iota
	ErrorLevelWarning
	ErrorLevelInfo
)

// ErrorOptions configures the error message formatting
type ErrorOptions struct {
	Level        ErrorLevel
	Context      string
	Problem      string
	Consequence  string
	Suggestions  []string
	HelpCommands []string
	NoColor      bool
}

// FormatError creates a standardized error message with suggestions and help commands
//
// Example output:
//
//	❌ MODULE NOT FOUND: Cannot resolve dependency './utl'.
//	   Cannot resolve dependency './utl'.
//
//	   Required by src/index.js:3
//
//	   Did you mean: ./util.js?
//
//	   → Get help: bundler build --help
func FormatError(opts ErrorOptions) string {
	var b strings.Builder

	// Determine colors and symbol based on level
	var headerColor, bodyColor *color.Color
	var symbol string

	switch opts.Level {
	case ErrorLevelError:
		headerColor = color.New(color.FgRed, color.Bold)
		bodyColor = color.New(color.FgRed)
		symbol = "❌"
	case ErrorLevelWarning:
		headerColor = color.New(color.FgYellow, color.Bold)
		bodyColor = color.New(color.FgYellow)
		symbol = "⚠️"
	case ErrorLevelInfo:
		headerColor = color.New(color.FgCyan, color.Bold)
		bodyColor = color.New(color.FgCyan)
		symbol = "ℹ️"
	}

	// Disable colors if requested
	if opts.NoColor {
		headerColor.DisableColor()
		bodyColor.DisableColor()
	}

	// Header line with context
	if opts.Context != "" {
		headerColor.Fprintf(&b, "%s %s: %s\n", symbol, strings.ToUpper(opts.Context), opts.Problem)
	} else {
		headerColor.Fprintf(&b, "%s %s\n", symbol, opts.Problem)
	}

	// Problem description with indentation
	if opts.Problem != "" && opts.Context != "" {
		bodyColor.Fprintf(&b, "   %s\n", opts.Problem)
	}

	// Consequence (if provided)
	if opts.Consequence != "" {
		b.WriteString("\n")
		bodyColor.Fprintf(&b, "   %s\n", opts.Consequence)
	}

	// Suggestions
	if len(opts.Suggestions) > 0 {
		b.WriteString("\n")
		yellow := color.New(color.FgYellow)
		if opts.NoColor {
			yellow.DisableColor()
		}
		yellow.Fprintf(&b, "   Did you mean: %s?\n", strings.Join(opts.Suggestions, ", "))
	}

	// Help commands
	if len(opts.HelpCommands) > 0 {
		b.WriteString("\n")
		cyan := color.New(color.FgCyan)
		if opts.NoColor {
			cyan.DisableColor()
		}
		for _, cmd := range opts.HelpCommands {
			cyan.Fprintf(&b, "   → %s\n", cmd)
		}
	}

	return b.String()
}

// FormatSuccess creates a success message
func FormatSuccess(message string, noColor bool) string {
	green := color.New(color.FgGreen, color.Bold)
	if noColor {
		green.DisableColor()
	}
	return green.Sprintf("✓ %s", message)
}

// WriteSuccess writes a success message to the writer
func WriteSuccess(w io.Writer, message string, noColor bool) {
	fmt.Fprintln(w, FormatSuccess(message, noColor))
}

// ResolutionError creates a standardized unresolved dependency error
func ResolutionError(specifier, from string, suggestions []string, noColor bool) string {
	problem := fmt.Sprintf("Cannot resolve dependency '%s'.", specifier)
	consequence := ""
	if from != "" {
		consequence = "Required by " + from
	}
	opts := ErrorOptions{
		Level:       ErrorLevelError,
		Context:     "MODULE NOT FOUND",
		Problem:     problem,
		Consequence: consequence,
		Suggestions: suggestions,
		HelpCommands: []string{
			"Install a package: npm install <name>",
			"Get help: bundler build --help",
		},
		NoColor: noColor,
	}
	return FormatError(opts)
}

// BuildError creates a standardized build error
func BuildError(message string, suggestions []string, noColor bool) string {
	opts := ErrorOptions{
		Level:       ErrorLevelError,
		Context:     "BUILD FAILED",
		Problem:     message,
		Suggestions: suggestions,
		HelpCommands: []string{
			"Show more detail: bundler build --verbose",
			"Get help: bundler build --help",
		},
		NoColor: noColor,
	}
	return FormatError(opts)
}

// ConfigError creates a standardized configuration error
func ConfigError(message string, suggestions []string, noColor bool) string {
	opts := ErrorOptions{
		Level:       ErrorLevelError,
		Context:     "CONFIGURATION ERROR",
		Problem:     message,
		Suggestions: suggestions,
		HelpCommands: []string{
			"View config: cat bundler.yml",
			"Get help: bundler --help",
		},
		NoColor: noColor,
	}
	return FormatError(opts)
}

// DiagnosticError formats a compiler diagnostic with the helper matching
// its code
func DiagnosticError(ce cerrors.CompilerError, noColor bool) string {
	var suggestions []string
	if ce.Suggestion != nil {
		suggestions = ce.Suggestion.Candidates
	}

	switch ce.Code {
	case cerrors.ErrInvalidConfig:
		return ConfigError(ce.Message, suggestions, noColor)
	case cerrors.ErrModuleNotFound:
		specifier := strings.TrimSuffix(strings.TrimPrefix(ce.Message, "Cannot resolve dependency '"), "'")
		return ResolutionError(specifier, ce.Location.String(), suggestions, noColor)
	}

	message := ce.Message
	if loc := ce.Location.String(); loc != "" {
		message = loc + ": " + message
	}
	return BuildError(message, suggestions, noColor)
}

// Warning creates a standardized warning message
func Warning(message string, suggestions []string, noColor bool) string {
	opts := ErrorOptions{
		Level:       ErrorLevelWarning,
		Problem:     message,
		Suggestions: suggestions,
		NoColor:     noColor,
	}
	return FormatError(opts)
}

// Info creates a standardized info message
func Info(message string, noColor bool) string {
	opts := ErrorOptions{
		Level:   ErrorLevelInfo,
		Problem: message,
		NoColor: noColor,
	}
	return FormatError(opts)
}
