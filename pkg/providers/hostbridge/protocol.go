package hostbridge

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/germanamz/lmchat/pkg/chats/content"
	"github.com/germanamz/lmchat/pkg/modeladapter"
)

// MaxFrameSize bounds a single socket frame in either direction. It fits a
// base64 image of content.MaxImageSize plus framing. Hosts must raise their
// own read limit to at least this size so request frames carrying images are
// accepted.
const MaxFrameSize = 2 * content.MaxImageSize

// Frame types exchanged over the chat socket.
const (
	FrameRequest = "request"
	FramePart    = "part"
	FrameDone    = "done"
	FrameError   = "error"
)

// Error codes a host may report.
const (
	CodeUnrecognizedExtraKind = "unrecognized_extra_kind"
	CodeInvalidPart           = "invalid_part"
	CodeInternal              = "internal"
)

// RequestFrame opens a chat request. Messages use the codec wire format.
type RequestFrame struct {
	Type     string          `json:"type"`
	ID       string          `json:"id"`
	Model    string          `json:"model"`
	Messages json.RawMessage `json:"messages"`
	Options  WireOptions     `json:"options"`
}

// WireOptions is the wire form of modeladapter.Options.
type WireOptions struct {
	Justification string         `json:"justification,omitempty"`
	ModelOptions  map[string]any `json:"modelOptions,omitempty"`
	Tools         []WireTool     `json:"tools,omitempty"`
	ToolMode      string         `json:"toolMode,omitempty"`
}

// WireTool is the wire form of modeladapter.Tool.
type WireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ReplyFrame is any frame sent by the host. Which fields are set depends on
// Type.
type ReplyFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Part    json.RawMessage `json:"part,omitempty"`
	Usage   *WireUsage      `json:"usage,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
}

// WireUsage reports token usage for a finished request.
type WireUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// CountRequest asks the host to count tokens of either Messages or Text.
type CountRequest struct {
	Model    string          `json:"model"`
	Messages json.RawMessage `json:"messages,omitempty"`
	Text     *string         `json:"text,omitempty"`
}

// CountResponse carries the token count.
type CountResponse struct {
	Tokens int `json:"tokens"`
}

// HostError is an error reported by the host.
type HostError struct {
	Code    string
	Message string
}

func (e *HostError) Error() string {
	return fmt.Sprintf("host error %s: %s", e.Code, e.Message)
}

// Unwrap maps well-known codes onto the shared sentinels.
func (e *HostError) Unwrap() error {
	switch e.Code {
	case CodeUnrecognizedExtraKind:
		return modeladapter.ErrUnrecognizedExtraKind
	case CodeInvalidPart:
		return content.ErrInvalidPart
	default:
		return nil
	}
}

// ErrProtocol reports a frame the adapter did not expect.
var ErrProtocol = errors.New("protocol violation")

func wireOptions(opts modeladapter.Options) WireOptions {
	w := WireOptions{
		Justification: opts.Justification,
		ModelOptions:  opts.ModelOptions,
		ToolMode:      string(opts.ToolMode),
	}

	for _, t := range opts.Tools {
		w.Tools = append(w.Tools, WireTool(t))
	}

	return w
}
