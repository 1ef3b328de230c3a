// Package openai provides a backend for the OpenAI Chat Completions API and
// compatible endpoints, built on the official SDK.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/germanamz/lmchat/pkg/chats/content"
	"github.com/germanamz/lmchat/pkg/chats/message"
	"github.com/germanamz/lmchat/pkg/chats/role"
	"github.com/germanamz/lmchat/pkg/modeladapter"
	"github.com/germanamz/lmchat/pkg/modeladapter/usage"
	sdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// DefaultBaseURL is the base URL of the OpenAI API.
const DefaultBaseURL = "https://api.openai.com/v1"

// XAIBaseURL is the base URL of xAI's OpenAI-compatible API.
const XAIBaseURL = "https://api.x.ai/v1"

var _ modeladapter.Completer = (*Adapter)(nil)

// Adapter implements modeladapter.Completer for the OpenAI Chat Completions API.
// It understands no extra data kinds.
type Adapter struct {
	modeladapter.ModelAdapter
}

// New creates an Adapter configured for the OpenAI API or a compatible one.
// The baseURL should include the version segment, e.g. DefaultBaseURL.
func New(baseURL, apiKey, model string) *Adapter {
	a := &Adapter{}
	a.BaseURL = baseURL
	a.Auth = modeladapter.Auth{Key: apiKey}
	a.Name = model
	a.MaxTokens = 4096

	return a
}

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

// Complete sends a conversation to the Chat Completions API and returns the
// assistant's reply.
func (a *Adapter) Complete(ctx context.Context, msgs []message.Message, opts modeladapter.Options) (message.Message, error) {
	params, err := a.buildRequest(msgs, opts)
	if err != nil {
		return message.Message{}, fmt.Errorf("openai: %w", err)
	}

	c := a.client()

	resp, err := c.Chat.Completions.New(ctx, params)
	if err != nil {
		return message.Message{}, fmt.Errorf("openai: %w", err)
	}

	a.Usage.Add(usage.TokenCount{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	})

	if len(resp.Choices) == 0 {
		return message.Message{}, fmt.Errorf("openai: empty choices in response")
	}

	return parseChoice(resp.Choices[0]), nil
}

// --- conversion helpers ---

func (a *Adapter) buildRequest(msgs []message.Message, opts modeladapter.Options) (sdk.ChatCompletionNewParams, error) {
	params := sdk.ChatCompletionNewParams{
		Model: sdk.ChatModel(a.Name),
	}

	for _, m := range msgs {
		converted, err := convertMessage(m)
		if err != nil {
			return sdk.ChatCompletionNewParams{}, err
		}
		params.Messages = append(params.Messages, converted...)
	}

	if t, ok := a.ResolveTemperature(opts); ok {
		params.Temperature = sdk.Float(t)
	}

	if n := a.ResolveMaxTokens(opts); n > 0 {
		params.MaxTokens = sdk.Int(int64(n))
	}

	if len(opts.Tools) > 0 {
		tools, err := convertTools(opts.Tools)
		if err != nil {
			return sdk.ChatCompletionNewParams{}, err
		}
		params.Tools = tools

		if opts.EffectiveToolMode() == modeladapter.ToolModeRequired {
			params.ToolChoice = sdk.ChatCompletionToolChoiceOptionUnionParam{OfAuto: sdk.String("required")}
		}
	}

	return params, nil
}

// convertMessage maps one message to one or more API messages. Tool results
// become separate "tool" messages that precede the rest of the user turn.
func convertMessage(m message.Message) ([]sdk.ChatCompletionMessageParamUnion, error) {
	if extra := m.ExtraData(); len(extra) > 0 {
		return nil, fmt.Errorf("%w %q", modeladapter.ErrUnrecognizedExtraKind, extra[0].Kind)
	}

	switch m.Role {
	case role.System:
		sys := sdk.SystemMessage(m.TextContent())
		if m.Name != "" {
			sys.OfSystem.Name = sdk.String(m.Name)
		}
		return []sdk.ChatCompletionMessageParamUnion{sys}, nil

	case role.Assistant:
		return convertAssistant(m)

	default:
		return convertUser(m)
	}
}

func convertUser(m message.Message) ([]sdk.ChatCompletionMessageParamUnion, error) {
	var (
		out   []sdk.ChatCompletionMessageParamUnion
		parts []sdk.ChatCompletionContentPartUnionParam
	)

	for _, p := range m.Parts {
		switch v := p.(type) {
		case content.ToolResult:
			text := v.Content
			if v.IsError {
				text = "error: " + text
			}
			out = append(out, sdk.ToolMessage(text, v.ToolCallID))
		case content.Text:
			parts = append(parts, sdk.TextContentPart(v.Text))
		case content.Image:
			url, err := dataURL(v)
			if err != nil {
				return nil, err
			}
			parts = append(parts, sdk.ImageContentPart(sdk.ChatCompletionContentPartImageImageURLParam{URL: url}))
		}
	}

	if len(parts) == 0 {
		return out, nil
	}

	var user sdk.ChatCompletionMessageParamUnion
	if len(parts) == 1 && parts[0].OfText != nil {
		user = sdk.UserMessage(parts[0].OfText.Text)
	} else {
		user = sdk.UserMessage(parts)
	}
	if m.Name != "" {
		user.OfUser.Name = sdk.String(m.Name)
	}

	return append(out, user), nil
}

func convertAssistant(m message.Message) ([]sdk.ChatCompletionMessageParamUnion, error) {
	asst := sdk.ChatCompletionAssistantMessageParam{}

	var text strings.Builder
	for _, p := range m.Parts {
		switch v := p.(type) {
		case content.Text:
			text.WriteString(v.Text)
		case content.ToolCall:
			args := v.Arguments
			if args == "" {
				args = "{}"
			}
			asst.ToolCalls = append(asst.ToolCalls, sdk.ChatCompletionMessageToolCallUnionParam{
				OfFunction: &sdk.ChatCompletionMessageFunctionToolCallParam{
					ID: v.ID,
					Function: sdk.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      v.Name,
						Arguments: args,
					},
				},
			})
		case content.Image:
			return nil, fmt.Errorf("%w: images are not supported in assistant messages", content.ErrInvalidPart)
		}
	}

	if text.Len() > 0 {
		asst.Content = sdk.ChatCompletionAssistantMessageParamContentUnion{OfString: sdk.String(text.String())}
	}
	if m.Name != "" {
		asst.Name = sdk.String(m.Name)
	}

	return []sdk.ChatCompletionMessageParamUnion{{OfAssistant: &asst}}, nil
}

// dataURL inlines an image as a base64 data URL.
func dataURL(img content.Image) (string, error) {
	if img.MimeType == content.BMP {
		return "", fmt.Errorf("%w: %s images are not supported", content.ErrInvalidPart, img.MimeType)
	}
	return "data:" + string(img.MimeType) + ";base64," + base64.StdEncoding.EncodeToString(img.Data), nil
}

func convertTools(tools []modeladapter.Tool) ([]sdk.ChatCompletionToolUnionParam, error) {
	out := make([]sdk.ChatCompletionToolUnionParam, len(tools))

	for i, t := range tools {
		schema := sdk.FunctionParameters{"type": "object"}
		if len(t.InputSchema) > 0 {
			schema = sdk.FunctionParameters{}
			if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("tool %q: %w", t.Name, err)
			}
		}

		def := sdk.FunctionDefinitionParam{
			Name:       t.Name,
			Parameters: schema,
		}
		if t.Description != "" {
			def.Description = sdk.String(t.Description)
		}

		out[i] = sdk.ChatCompletionFunctionTool(def)
	}

	return out, nil
}

func parseChoice(choice sdk.ChatCompletionChoice) message.Message {
	var parts []content.Part

	if choice.Message.Content != "" {
		parts = append(parts, content.Text{Text: choice.Message.Content})
	}

	for _, tc := range choice.Message.ToolCalls {
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		parts = append(parts, content.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	return message.Message{Role: role.Assistant, Parts: parts}
}
