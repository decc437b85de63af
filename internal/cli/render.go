package cli

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

const defaultWrapWidth = 80

// renderMarkdown pretty-prints markdown for the terminal. Rendering is
// best-effort: any failure returns the content untouched.
func renderMarkdown(content string, width int) string {
	if width <= 0 {
		width = defaultWrapWidth
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}
	out, err := r.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n")
}
