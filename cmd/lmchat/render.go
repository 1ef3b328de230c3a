package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/germanamz/lmchat/pkg/chats/content"
	"github.com/germanamz/lmchat/pkg/languagemodel"
	"github.com/mattn/go-runewidth"
)

// renderer writes a streamed reply to the terminal. In plain mode text is
// written as it arrives; otherwise consecutive text parts are buffered and
// rendered as markdown.
type renderer struct {
	out   io.Writer
	width int
	md    *glamour.TermRenderer

	text    strings.Builder
	midLine bool
}

func newRenderer(out io.Writer, width int, plain bool) *renderer {
	if width <= 0 {
		width = 100
	}

	r := &renderer{out: out, width: width}
	if plain {
		return r
	}

	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err == nil {
		r.md = md
	}

	return r
}

// render consumes resp until it ends.
func (r *renderer) render(resp *languagemodel.Response) error {
	for p, err := range resp.Stream() {
		if err != nil {
			r.flush()
			return err
		}

		switch v := p.(type) {
		case content.Text:
			r.writeText(v.Text)
		case content.ToolCall:
			r.line(formatToolCall(v, r.width))
		case content.Image:
			r.line(dimStyle.Render(fmt.Sprintf("[image %s, %d bytes]", v.MimeType, len(v.Data))))
		case content.ExtraData:
			r.line(dimStyle.Render(fmt.Sprintf("[%s]", v.Kind)))
		}
	}

	r.flush()
	return nil
}

func (r *renderer) writeText(s string) {
	if r.md != nil {
		r.text.WriteString(s)
		return
	}

	if s == "" {
		return
	}
	_, _ = io.WriteString(r.out, s)
	r.midLine = !strings.HasSuffix(s, "\n")
}

// line writes a standalone line after any pending text.
func (r *renderer) line(s string) {
	r.flush()
	_, _ = fmt.Fprintln(r.out, s)
}

func (r *renderer) flush() {
	if r.midLine {
		_, _ = io.WriteString(r.out, "\n")
		r.midLine = false
	}

	if r.text.Len() == 0 {
		return
	}

	_, _ = fmt.Fprintln(r.out, renderMarkdown(r.md, r.text.String()))
	r.text.Reset()
}

// renderMarkdown converts markdown text to terminal-formatted output, falling
// back to the raw text if rendering fails.
func renderMarkdown(md *glamour.TermRenderer, text string) string {
	out, err := md.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}

// formatToolCall renders a tool call on one line, truncating the arguments to
// fit width terminal cells.
func formatToolCall(tc content.ToolCall, width int) string {
	label := toolPrefix + tc.Name
	args := strings.Join(strings.Fields(tc.Arguments), " ")
	if args == "" {
		args = "{}"
	}

	room := width - runewidth.StringWidth(label) - 1
	if room < 4 {
		return toolNameStyle.Render(label)
	}

	return toolNameStyle.Render(label) + " " + toolArgsStyle.Render(runewidth.Truncate(args, room, "..."))
}
