package errors

import (
	"strings"
)

// EnrichError attaches the lines around err's location in sourceContent.
func EnrichError(err CompilerError, sourceContent string) CompilerError {
	return err.WithContext(extractSourceContext(err.Location, sourceContent))
}

// extractSourceContext extracts up to 3 lines before and after the error line
func extractSourceContext(location SourceLocation, sourceContent string) ErrorContext {
	lines := strings.Split(sourceContent, "\n")

	if location.Line < 1 || location.Line > len(lines) {
		return ErrorContext{}
	}

	errorLineIndex := location.Line - 1
	startLine := max(0, errorLineIndex-3)
	endLine := min(len(lines), errorLineIndex+4)

	contextLines := make([]string, 0, endLine-startLine)
	for i := startLine; i < endLine; i++ {
		contextLines = append(contextLines, strings.TrimRight(lines[i], "\r"))
	}

	start := max(0, location.Column-1)
	end := start + location.Length
	if location.Length == 0 {
		end = start + 1
	}

	return ErrorContext{
		SourceLines: contextLines,
		FirstLine:   startLine + 1,
		Highlight: Highlight{
			Line:  errorLineIndex - startLine,
			Start: start,
			End:   end,
		},
	}
}
