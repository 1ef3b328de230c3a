// Package content defines the content parts that make up a chat message.
//
// Part is a closed union: the variants declared here are the only
// implementations, so a type switch over them is exhaustive.
package content

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ErrInvalidPart is wrapped by every validation failure in this package.
var ErrInvalidPart = errors.New("invalid content part")

// Kind is the discriminant of a content part.
type Kind string

const (
	KindText       Kind = "text"
	KindToolResult Kind = "tool_result"
	KindToolCall   Kind = "tool_call"
	KindImage      Kind = "image"
	KindExtraData  Kind = "extra_data"
)

// Part is a piece of content within a message.
type Part interface {
	PartKind() Kind
	Validate() error

	sealed()
}

// Text is a plain text content part.
type Text struct {
	Text string
}

func (Text) PartKind() Kind { return KindText }

// Validate always succeeds; empty text is allowed.
func (Text) Validate() error { return nil }

func (Text) sealed() {}

// ToolCall represents an assistant's request to invoke a tool.
// Arguments holds the raw JSON object to avoid unnecessary deserialization;
// an empty string stands for "{}".
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

func (ToolCall) PartKind() Kind { return KindToolCall }

func (tc ToolCall) Validate() error {
	if tc.ID == "" {
		return fmt.Errorf("%w: tool call id is required", ErrInvalidPart)
	}
	if tc.Name == "" {
		return fmt.Errorf("%w: tool call %q: name is required", ErrInvalidPart, tc.ID)
	}
	if tc.Arguments != "" && !gjson.Valid(tc.Arguments) {
		return fmt.Errorf("%w: tool call %q: arguments are not valid JSON", ErrInvalidPart, tc.ID)
	}
	return nil
}

func (ToolCall) sealed() {}

// ToolResult holds the output of a tool invocation.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

func (ToolResult) PartKind() Kind { return KindToolResult }

func (tr ToolResult) Validate() error {
	if tr.ToolCallID == "" {
		return fmt.Errorf("%w: tool result call id is required", ErrInvalidPart)
	}
	return nil
}

func (ToolResult) sealed() {}
