package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/conduit-lang/bundler/internal/packager"
)

// FormatSize renders a byte count with a binary unit
func FormatSize(n int) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := unit, 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %ciB", float64(n)/float64(div), "KMGT"[exp])
}

// BundleReport prints one row per written bundle followed by the total
func BundleReport(w io.Writer, outputs []packager.Output, duration time.Duration, noColor bool) {
	table := NewTable(w, []string{"Bundle", "Kind", "Size"}, &TableOptions{NoColor: noColor})

	total := 0
	for _, o := range outputs {
		table.AddRow(o.Name, o.Kind.String(), FormatSize(o.Size))
		total += o.Size
	}
	table.Render()

	fmt.Fprintln(w)
	WriteSuccess(w, fmt.Sprintf("Built %d bundles (%s) in %s", len(outputs), FormatSize(total), duration.Round(time.Millisecond)), noColor)
}
