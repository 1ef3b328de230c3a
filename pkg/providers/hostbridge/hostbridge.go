// Package hostbridge forwards chat requests to an external host application
// that owns the actual language models. Replies stream back over a
// WebSocket; token counting uses plain HTTP JSON.
package hostbridge

import (
	"context"
	"fmt"
	"iter"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/germanamz/lmchat/pkg/chats/codec"
	"github.com/germanamz/lmchat/pkg/chats/content"
	"github.com/germanamz/lmchat/pkg/chats/message"
	"github.com/germanamz/lmchat/pkg/chats/role"
	"github.com/germanamz/lmchat/pkg/modeladapter"
	"github.com/germanamz/lmchat/pkg/modeladapter/usage"
	"github.com/google/uuid"
)

const (
	chatPath  = "/v1/chat"
	countPath = "/v1/countTokens"
)

var (
	_ modeladapter.Completer        = (*Adapter)(nil)
	_ modeladapter.Streamer         = (*Adapter)(nil)
	_ modeladapter.TokenCounter     = (*Adapter)(nil)
	_ modeladapter.TextTokenCounter = (*Adapter)(nil)
)

// Adapter talks to a host over its chat socket.
type Adapter struct {
	modeladapter.ModelAdapter
}

// New creates an Adapter for the host at baseURL (http or https; the socket
// uses the matching ws scheme). An empty token sends no Authorization header.
func New(baseURL, token, model string) *Adapter {
	a := &Adapter{}
	a.BaseURL = baseURL
	a.Auth = modeladapter.Auth{Key: token}
	a.Name = model

	return a
}

// SupportsExtraKind reports whether kind may be sent. With no ExtraKinds
// configured every kind is forwarded and the host decides.
func (a *Adapter) SupportsExtraKind(kind string) bool {
	if len(a.ExtraKinds) == 0 {
		return true
	}
	return a.ModelAdapter.SupportsExtraKind(kind)
}

// Complete sends a conversation and collects the streamed reply.
func (a *Adapter) Complete(ctx context.Context, msgs []message.Message, opts modeladapter.Options) (message.Message, error) {
	var parts []content.Part

	for p, err := range a.Stream(ctx, msgs, opts) {
		if err != nil {
			return message.Message{}, err
		}
		parts = append(parts, p)
	}

	return message.Message{Role: role.Assistant, Parts: parts}, nil
}

// Stream sends a conversation and yields reply parts as the host produces
// them. Stopping early closes the socket, which the host treats as
// cancellation.
func (a *Adapter) Stream(ctx context.Context, msgs []message.Message, opts modeladapter.Options) iter.Seq2[content.Part, error] {
	return func(yield func(content.Part, error) bool) {
		raw, err := codec.MarshalMessages(msgs)
		if err != nil {
			yield(nil, fmt.Errorf("hostbridge: %w", err))
			return
		}

		conn, _, err := a.DialWS(ctx, chatPath)
		if err != nil {
			yield(nil, fmt.Errorf("hostbridge: %w", err))
			return
		}
		defer func() { _ = conn.CloseNow() }()
		conn.SetReadLimit(MaxFrameSize)

		req := RequestFrame{
			Type:     FrameRequest,
			ID:       uuid.NewString(),
			Model:    a.Name,
			Messages: raw,
			Options:  wireOptions(opts),
		}
		if err := wsjson.Write(ctx, conn, req); err != nil {
			yield(nil, fmt.Errorf("hostbridge: send request: %w", err))
			return
		}

		for {
			var f ReplyFrame
			if err := wsjson.Read(ctx, conn, &f); err != nil {
				yield(nil, fmt.Errorf("hostbridge: read reply: %w", err))
				return
			}

			if f.ID != req.ID {
				yield(nil, fmt.Errorf("hostbridge: %w: reply for request %q, want %q", ErrProtocol, f.ID, req.ID))
				return
			}

			switch f.Type {
			case FramePart:
				p, err := codec.UnmarshalPart(f.Part)
				if err != nil {
					yield(nil, fmt.Errorf("hostbridge: %w", err))
					return
				}
				if !yield(p, nil) {
					_ = conn.Close(websocket.StatusNormalClosure, "cancelled")
					return
				}
			case FrameDone:
				if f.Usage != nil {
					a.Usage.Add(usage.TokenCount{
						InputTokens:  f.Usage.InputTokens,
						OutputTokens: f.Usage.OutputTokens,
					})
				}
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			case FrameError:
				yield(nil, fmt.Errorf("hostbridge: %w", &HostError{Code: f.Code, Message: f.Message}))
				return
			default:
				yield(nil, fmt.Errorf("hostbridge: %w: unknown frame type %q", ErrProtocol, f.Type))
				return
			}
		}
	}
}

// CountTokens asks the host to count the input tokens of msgs.
func (a *Adapter) CountTokens(ctx context.Context, msgs []message.Message) (int, error) {
	raw, err := codec.MarshalMessages(msgs)
	if err != nil {
		return 0, fmt.Errorf("hostbridge: %w", err)
	}

	return a.count(ctx, CountRequest{Model: a.Name, Messages: raw})
}

// CountTextTokens asks the host to count the tokens of text.
func (a *Adapter) CountTextTokens(ctx context.Context, text string) (int, error) {
	return a.count(ctx, CountRequest{Model: a.Name, Text: &text})
}

func (a *Adapter) count(ctx context.Context, req CountRequest) (int, error) {
	var resp CountResponse
	if err := a.PostJSON(ctx, countPath, req, &resp); err != nil {
		return 0, fmt.Errorf("hostbridge: count tokens: %w", err)
	}

	return resp.Tokens, nil
}
