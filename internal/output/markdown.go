package output

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
)

// MarkdownWidth is the wrap width for rendered note bodies.
var MarkdownWidth = 80

// markdownStyle is a glamour standard style name; "auto" picks dark or light
// from the terminal background.
var markdownStyle = "auto"

// Markdown renders a note body for the terminal.
func Markdown(body string) (string, error) {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(MarkdownWidth)}
	if markdownStyle == "auto" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(markdownStyle))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return "", fmt.Errorf("creating markdown renderer: %w", err)
	}
	out, err := r.Render(body)
	if err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return strings.Trim(out, "\n"), nil
}
