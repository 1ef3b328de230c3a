// Package anthropic provides a backend for the Anthropic Messages API built on
// the official SDK.
package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/germanamz/lmchat/pkg/chats/content"
	"github.com/germanamz/lmchat/pkg/chats/message"
	"github.com/germanamz/lmchat/pkg/chats/role"
	"github.com/germanamz/lmchat/pkg/modeladapter"
	"github.com/germanamz/lmchat/pkg/modeladapter/usage"
	"github.com/tidwall/gjson"
)

// Extra data kinds understood by this backend.
const (
	// KindThinking carries an extended thinking block:
	// {"thinking": "...", "signature": "..."}.
	KindThinking = "thinking"
	// KindRedactedThinking carries an encrypted thinking block: {"data": "..."}.
	KindRedactedThinking = "redacted_thinking"
)

const defaultMaxTokens = 4096

var (
	_ modeladapter.Completer          = (*Adapter)(nil)
	_ modeladapter.TokenCounter       = (*Adapter)(nil)
	_ modeladapter.ExtraKindSupporter = (*Adapter)(nil)
)

// Adapter implements modeladapter.Completer for the Anthropic Messages API.
type Adapter struct {
	modeladapter.ModelAdapter
}

// New creates an Adapter configured for the Anthropic API.
// The baseURL should be "https://api.anthropic.com" (no trailing slash).
func New(baseURL, apiKey, model string) *Adapter {
	a := &Adapter{}
	a.BaseURL = baseURL
	a.Auth = modeladapter.Auth{
		Key:    apiKey,
		Header: "x-api-key",
	}
	a.Name = model
	a.MaxTokens = defaultMaxTokens
	a.ExtraKinds = []string{KindThinking, KindRedactedThinking}

	return a
}

// client builds an SDK client from the adapter settings. Retries are left to
// the caller.
func (a *Adapter) client() sdk.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(a.Auth.Key),
		option.WithHTTPClient(a.HTTPClient()),
		option.WithMaxRetries(0),
	}

	if a.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(a.BaseURL))
	}

	for k, v := range a.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}

	return sdk.NewClient(opts...)
}

// Complete sends a conversation to the Anthropic Messages API and returns the
// assistant's reply.
func (a *Adapter) Complete(ctx context.Context, msgs []message.Message, opts modeladapter.Options) (message.Message, error) {
	params, err := a.buildRequest(msgs, opts)
	if err != nil {
		return message.Message{}, fmt.Errorf("anthropic: %w", err)
	}

	c := a.client()

	resp, err := c.Messages.New(ctx, params)
	if err != nil {
		return message.Message{}, fmt.Errorf("anthropic: %w", err)
	}

	a.Usage.Add(usage.TokenCount{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	})

	return parseResponse(resp)
}

// CountTokens asks the token counting endpoint how many input tokens msgs
// would use.
func (a *Adapter) CountTokens(ctx context.Context, msgs []message.Message) (int, error) {
	system, turns, err := a.convertMessages(msgs)
	if err != nil {
		return 0, fmt.Errorf("anthropic: %w", err)
	}

	// The endpoint needs at least one turn; count a lone system prompt as one.
	if len(turns) == 0 && len(system) > 0 {
		blocks := make([]sdk.ContentBlockParamUnion, len(system))
		for i, s := range system {
			blocks[i] = sdk.NewTextBlock(s.Text)
		}
		turns = []sdk.MessageParam{sdk.NewUserMessage(blocks...)}
		system = nil
	}

	params := sdk.MessageCountTokensParams{
		Model:    sdk.Model(a.Name),
		Messages: turns,
	}
	if len(system) > 0 {
		params.System = sdk.MessageCountTokensParamsSystemUnion{OfTextBlockArray: system}
	}

	c := a.client()

	resp, err := c.Messages.CountTokens(ctx, params)
	if err != nil {
		return 0, fmt.Errorf("anthropic: %w", err)
	}

	return int(resp.InputTokens), nil
}

// --- conversion helpers ---

func (a *Adapter) buildRequest(msgs []message.Message, opts modeladapter.Options) (sdk.MessageNewParams, error) {
	system, turns, err := a.convertMessages(msgs)
	if err != nil {
		return sdk.MessageNewParams{}, err
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(a.Name),
		MaxTokens: int64(a.ResolveMaxTokens(opts)),
		Messages:  turns,
		System:    system,
	}

	if t, ok := a.ResolveTemperature(opts); ok {
		params.Temperature = sdk.Float(t)
	}

	if len(opts.Tools) > 0 {
		params.Tools = convertTools(opts.Tools)
		if opts.EffectiveToolMode() == modeladapter.ToolModeRequired {
			params.ToolChoice = sdk.ToolChoiceUnionParam{OfAny: &sdk.ToolChoiceAnyParam{}}
		}
	}

	return params, nil
}

// convertMessages splits system text from the conversation turns. Consecutive
// messages with the same role are merged since the API requires alternation.
// System messages contribute text only; their extra data is checked against
// ExtraKinds and dropped.
func (a *Adapter) convertMessages(msgs []message.Message) ([]sdk.TextBlockParam, []sdk.MessageParam, error) {
	var (
		system []sdk.TextBlockParam
		turns  []sdk.MessageParam
	)

	for _, m := range msgs {
		if m.Role == role.System {
			for _, p := range m.Parts {
				switch v := p.(type) {
				case content.Text:
					system = append(system, sdk.TextBlockParam{Text: v.Text})
				case content.ExtraData:
					if err := a.CheckExtraKind(v.Kind); err != nil {
						return nil, nil, err
					}
				}
			}
			continue
		}

		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		for _, p := range m.Parts {
			b, err := a.partToBlock(p)
			if err != nil {
				return nil, nil, err
			}
			blocks = append(blocks, b)
		}

		if len(blocks) == 0 {
			continue
		}

		msgRole := mapRole(m.Role)
		if n := len(turns); n > 0 && turns[n-1].Role == msgRole {
			turns[n-1].Content = append(turns[n-1].Content, blocks...)
			continue
		}

		turns = append(turns, sdk.MessageParam{Role: msgRole, Content: blocks})
	}

	return system, turns, nil
}

func (a *Adapter) partToBlock(p content.Part) (sdk.ContentBlockParamUnion, error) {
	switch v := p.(type) {
	case content.Text:
		return sdk.NewTextBlock(v.Text), nil
	case content.ToolCall:
		input := json.RawMessage(v.Arguments)
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		return sdk.NewToolUseBlock(v.ID, input, v.Name), nil
	case content.ToolResult:
		return sdk.NewToolResultBlock(v.ToolCallID, v.Content, v.IsError), nil
	case content.Image:
		if v.MimeType == content.BMP {
			return sdk.ContentBlockParamUnion{}, fmt.Errorf("%w: %s images are not supported", content.ErrInvalidPart, v.MimeType)
		}
		return sdk.NewImageBlockBase64(string(v.MimeType), base64.StdEncoding.EncodeToString(v.Data)), nil
	case content.ExtraData:
		return a.extraToBlock(v)
	default:
		return sdk.ContentBlockParamUnion{}, fmt.Errorf("%w: %T", content.ErrInvalidPart, p)
	}
}

func (a *Adapter) extraToBlock(e content.ExtraData) (sdk.ContentBlockParamUnion, error) {
	if err := a.CheckExtraKind(e.Kind); err != nil {
		return sdk.ContentBlockParamUnion{}, err
	}

	switch e.Kind {
	case KindThinking:
		return sdk.NewThinkingBlock(e.Get("signature").String(), e.Get("thinking").String()), nil
	case KindRedactedThinking:
		return sdk.NewRedactedThinkingBlock(e.Get("data").String()), nil
	default:
		return sdk.ContentBlockParamUnion{}, fmt.Errorf("%w %q", modeladapter.ErrUnrecognizedExtraKind, e.Kind)
	}
}

func mapRole(r role.Role) sdk.MessageParamRole {
	if r == role.Assistant {
		return sdk.MessageParamRoleAssistant
	}
	return sdk.MessageParamRoleUser
}

func convertTools(tools []modeladapter.Tool) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, len(tools))

	for i, t := range tools {
		schema := sdk.ToolInputSchemaParam{}
		if props := gjson.GetBytes(t.InputSchema, "properties"); props.Exists() {
			schema.Properties = json.RawMessage(props.Raw)
		}
		for _, r := range gjson.GetBytes(t.InputSchema, "required").Array() {
			schema.Required = append(schema.Required, r.String())
		}

		tool := sdk.ToolParam{Name: t.Name, InputSchema: schema}
		if t.Description != "" {
			tool.Description = sdk.String(t.Description)
		}

		out[i] = sdk.ToolUnionParam{OfTool: &tool}
	}

	return out
}

func parseResponse(resp *sdk.Message) (message.Message, error) {
	var parts []content.Part

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			parts = append(parts, content.Text{Text: block.AsText().Text})
		case "tool_use":
			tu := block.AsToolUse()
			args := string(tu.Input)
			if args == "" {
				args = "{}"
			}
			parts = append(parts, content.ToolCall{ID: tu.ID, Name: tu.Name, Arguments: args})
		case "thinking":
			th := block.AsThinking()
			ed, err := content.NewExtraData(KindThinking, map[string]string{
				"thinking":  th.Thinking,
				"signature": th.Signature,
			})
			if err != nil {
				return message.Message{}, fmt.Errorf("anthropic: %w", err)
			}
			parts = append(parts, ed)
		case "redacted_thinking":
			ed, err := content.NewExtraData(KindRedactedThinking, map[string]string{
				"data": block.AsRedactedThinking().Data,
			})
			if err != nil {
				return message.Message{}, fmt.Errorf("anthropic: %w", err)
			}
			parts = append(parts, ed)
		}
	}

	return message.Message{Role: role.Assistant, Parts: parts}, nil
}
