// Package message defines the Message type used in language model conversations.
package message

import (
	"fmt"
	"slices"
	"strings"

	"github.com/germanamz/lmchat/pkg/chats/content"
	"github.com/germanamz/lmchat/pkg/chats/role"
)

// Message represents a single message in a conversation.
// It is a value type; constructors copy the parts they are given.
type Message struct {
	Role  role.Role
	Parts []content.Part
	Name  string // Optional author name; empty means unnamed.
}

// allowed lists the part kinds each role may carry.
var allowed = map[role.Role][]content.Kind{
	role.User:      {content.KindText, content.KindToolResult, content.KindImage, content.KindExtraData},
	role.Assistant: {content.KindText, content.KindToolCall, content.KindImage, content.KindExtraData},
	role.System:    {content.KindText, content.KindExtraData},
}

// Allows reports whether a message with role r may contain parts of kind k.
func Allows(r role.Role, k content.Kind) bool {
	return slices.Contains(allowed[r], k)
}

// New creates a message with the given role, name and content parts. It
// fails if the role is unknown, a part is invalid, or a part is not allowed
// for the role.
func New(r role.Role, name string, parts ...content.Part) (Message, error) {
	m := Message{Role: r, Name: name, Parts: slices.Clone(parts)}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// User creates a user message. Users may send text, tool results, images
// and extra data.
func User(name string, parts ...content.Part) (Message, error) {
	return New(role.User, name, parts...)
}

// Assistant creates an assistant message. Assistants may send text, tool
// calls, images and extra data.
func Assistant(name string, parts ...content.Part) (Message, error) {
	return New(role.Assistant, name, parts...)
}

// System creates a system message from text and extra data parts.
func System(parts ...content.Part) (Message, error) {
	return New(role.System, "", parts...)
}

// UserText creates a user message with a single Text part.
func UserText(text string) Message {
	return Message{Role: role.User, Parts: []content.Part{content.Text{Text: text}}}
}

// AssistantText creates an assistant message with a single Text part.
func AssistantText(text string) Message {
	return Message{Role: role.Assistant, Parts: []content.Part{content.Text{Text: text}}}
}

// SystemText creates a system message with a single Text part.
func SystemText(text string) Message {
	return Message{Role: role.System, Parts: []content.Part{content.Text{Text: text}}}
}

// WithName returns a copy of m authored by name.
func (m Message) WithName(name string) Message {
	m.Name = name
	m.Parts = slices.Clone(m.Parts)
	return m
}

// Validate checks the role, every part, and role/part compatibility.
func (m Message) Validate() error {
	if !m.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", content.ErrInvalidPart, m.Role)
	}

	for i, p := range m.Parts {
		if p == nil {
			return fmt.Errorf("%w: part %d is nil", content.ErrInvalidPart, i)
		}
		if !Allows(m.Role, p.PartKind()) {
			return fmt.Errorf("%w: part %d: %s is not allowed in a %s message", content.ErrInvalidPart, i, p.PartKind(), m.Role)
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("part %d: %w", i, err)
		}
	}

	return nil
}

// TextContent concatenates the text of all Text parts in the message.
func (m Message) TextContent() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if t, ok := p.(content.Text); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// ToolCalls returns all ToolCall parts in the message.
func (m Message) ToolCalls() []content.ToolCall {
	return partsOf[content.ToolCall](m)
}

// ToolResults returns all ToolResult parts in the message.
func (m Message) ToolResults() []content.ToolResult {
	return partsOf[content.ToolResult](m)
}

// Images returns all Image parts in the message.
func (m Message) Images() []content.Image {
	return partsOf[content.Image](m)
}

// ExtraData returns all ExtraData parts in the message.
func (m Message) ExtraData() []content.ExtraData {
	return partsOf[content.ExtraData](m)
}

func partsOf[T content.Part](m Message) []T {
	var out []T
	for _, p := range m.Parts {
		if v, ok := p.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
