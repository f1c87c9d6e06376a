// Package render prints ledger results as styled text, JSON or YAML.
package render

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"
)

// Format is an output format.
type Format string

// Output formats.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates an output format name. Empty selects text.
func ParseFormat(name string) (Format, error) {
	switch f := Format(name); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q", name)
}

// Renderer writes values to an output in one format.
type Renderer struct {
	out    io.Writer
	format Format
	// markdownStyle is the glamour style for descriptions.
	markdownStyle string
	styles        styles
}

type styles struct {
	title     lipgloss.Style
	label     lipgloss.Style
	faint     lipgloss.Style
	milestone lipgloss.Style
	warning   lipgloss.Style
	status    map[string]lipgloss.Style
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithMarkdownStyle selects the glamour style used for task descriptions,
// e.g. "dark", "light" or "notty".
func WithMarkdownStyle(style string) Option {
	return func(r *Renderer) { r.markdownStyle = style }
}

// New returns a renderer writing to out.
func New(out io.Writer, format Format, opts ...Option) *Renderer {
	lr := lipgloss.NewRenderer(out)
	r := &Renderer{
		out:           out,
		format:        format,
		markdownStyle: "notty",
		styles: styles{
			title:     lr.NewStyle().Bold(true),
			label:     lr.NewStyle().Faint(true).Width(11),
			faint:     lr.NewStyle().Faint(true),
			milestone: lr.NewStyle().Foreground(lipgloss.Color("11")).Bold(true),
			warning:   lr.NewStyle().Foreground(lipgloss.Color("9")),
			status: map[string]lipgloss.Style{
				"todo":        lr.NewStyle().Foreground(lipgloss.Color("12")),
				"in_progress": lr.NewStyle().Foreground(lipgloss.Color("11")),
				"completed":   lr.NewStyle().Foreground(lipgloss.Color("10")),
				"cancelled":   lr.NewStyle().Foreground(lipgloss.Color("8")).Strikethrough(true),
			},
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Format reports the output format.
func (r *Renderer) Format() Format {
	return r.format
}

// structured writes v as JSON or YAML; it reports false for text output.
func (r *Renderer) structured(v any) (bool, error) {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return true, fmt.Errorf("encode json: %w", err)
		}
		return true, nil
	case FormatYAML:
		node, err := yamlNode(v)
		if err != nil {
			return true, err
		}
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(node); err != nil {
			return true, fmt.Errorf("encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return true, fmt.Errorf("encode yaml: %w", err)
		}
		return true, nil
	}
	return false, nil
}

// yamlNode converts v through its JSON form so that YAML output uses the
// same keys and key order as JSON output.
func yamlNode(v any) (*yaml.Node, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode json as yaml: %w", err)
	}
	resetStyle(&doc)
	return &doc, nil
}

// resetStyle drops the flow and quoting styles inherited from JSON.
func resetStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		resetStyle(c)
	}
}

func (r *Renderer) markdown(text string) string {
	tr, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(r.markdownStyle),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return text
	}
	out, err := tr.Render(text)
	if err != nil {
		return text
	}
	return out
}

func (r *Renderer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}
