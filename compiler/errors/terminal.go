package errors

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fatih/color"
)

var (
	boldColor   = color.New(color.Bold)
	cyanColor   = color.New(color.FgCyan)
	blueColor   = color.New(color.FgBlue)
	grayColor   = color.New(color.FgHiBlack)
	markerColor = color.New(color.FgRed)
)

// FormatForTerminal formats a CompilerError for terminal output
func (e CompilerError) FormatForTerminal() string {
	var sb strings.Builder

	header := severityColor(e.Severity).Sprint(capitalize(e.Severity.String()))
	sb.WriteString(fmt.Sprintf("%s[%s]: %s\n", header, e.Code, e.Message))

	if e.Location.File != "" {
		loc := e.Location.File
		if e.Location.Line > 0 {
			loc = fmt.Sprintf("%s:%d:%d", loc, e.Location.Line, e.Location.Column)
		}
		sb.WriteString(fmt.Sprintf("  %s %s\n", cyanColor.Sprint("-->"), loc))
	}

	if len(e.Context.SourceLines) > 0 {
		sb.WriteString(formatSourceContext(e.Context))
	}

	if e.Suggestion != nil {
		sb.WriteString(formatSuggestion(*e.Suggestion))
	}

	if len(e.RelatedErrors) > 0 {
		sb.WriteString("\n" + boldColor.Sprint("Related errors:") + "\n")
		for i, related := range e.RelatedErrors {
			sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, related.Error()))
		}
	}

	return sb.String()
}

// formatSourceContext renders the context lines with a caret marker under
// the highlighted span
func formatSourceContext(ctx ErrorContext) string {
	var sb strings.Builder
	gutter := blueColor.Sprint("|")
	first := ctx.FirstLine
	if first == 0 {
		first = 1
	}

	sb.WriteString("     " + gutter + "\n")
	for i, line := range ctx.SourceLines {
		num := fmt.Sprintf("%4d", first+i)
		if i != ctx.Highlight.Line {
			sb.WriteString(fmt.Sprintf("%s %s %s\n", grayColor.Sprint(num), gutter, line))
			continue
		}
		sb.WriteString(fmt.Sprintf("%s %s %s\n", blueColor.Sprint(num), gutter, line))

		width := ctx.Highlight.End - ctx.Highlight.Start
		if width <= 0 {
			width = 1
		}
		sb.WriteString(fmt.Sprintf("     %s %s%s\n",
			gutter,
			strings.Repeat(" ", ctx.Highlight.Start),
			markerColor.Sprint(strings.Repeat("^", width))))
	}
	sb.WriteString("     " + gutter + "\n")

	return sb.String()
}

func formatSuggestion(suggestion FixSuggestion) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("\n%s %s\n", color.New(color.Bold, color.FgCyan).Sprint("Help:"), suggestion.Description))
	for _, c := range suggestion.Candidates {
		sb.WriteString("    " + c + "\n")
	}
	return sb.String()
}

func severityColor(severity Severity) *color.Color {
	switch severity {
	case Info:
		return color.New(color.FgBlue, color.Bold)
	case Warning:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// FormatSummary formats a one-line count of errors and warnings
func FormatSummary(errorCount, warningCount int) string {
	var parts []string
	if errorCount > 0 {
		parts = append(parts, color.RedString("%d error(s)", errorCount))
	}
	if warningCount > 0 {
		parts = append(parts, color.YellowString("%d warning(s)", warningCount))
	}
	if len(parts) == 0 {
		return blueColor.Sprint("No errors or warnings") + "\n"
	}
	return "\n" + boldColor.Sprintf("Build failed with %s", strings.Join(parts, " and ")) + "\n"
}

var ansiPattern = regexp.MustCompile("\x1b\\[[0-9;]*m")

// StripColors removes ANSI escape sequences from s
func StripColors(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}
