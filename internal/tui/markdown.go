package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// RenderMarkdown renders md for a terminal of the given width. On any
// rendering error the raw markdown is returned.
func RenderMarkdown(md string, width int) string {
	if width <= 0 {
		width = 80
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	rendered, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(rendered, "\n") + "\n"
}
