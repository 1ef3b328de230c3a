// Package gemini provides a backend for the Google Gemini API built on the
// genai SDK.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"

	"github.com/germanamz/lmchat/pkg/chats/content"
	"github.com/germanamz/lmchat/pkg/chats/message"
	"github.com/germanamz/lmchat/pkg/chats/role"
	"github.com/germanamz/lmchat/pkg/modeladapter"
	"github.com/germanamz/lmchat/pkg/modeladapter/usage"
	"github.com/google/uuid"
	"google.golang.org/genai"
)

// Extra data kinds understood by this backend.
const (
	// KindThoughtSignature carries the opaque signature Gemini attaches to a
	// part: {"signature": "<base64>"}. It applies to the part that follows it.
	KindThoughtSignature = "thought_signature"
	// KindThought carries a thought summary: {"text": "..."}.
	KindThought = "thought"
	// KindInlineData carries inline media that is not a supported image:
	// {"mimeType": "...", "data": "<base64>"}.
	KindInlineData = "inline_data"
)

// inlineData is the payload of a KindInlineData part.
type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

var (
	_ modeladapter.Completer    = (*Adapter)(nil)
	_ modeladapter.Streamer     = (*Adapter)(nil)
	_ modeladapter.TokenCounter = (*Adapter)(nil)
)

// modelsClient is the subset of genai.Models the adapter uses.
type modelsClient interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
	CountTokens(ctx context.Context, model string, contents []*genai.Content, config *genai.CountTokensConfig) (*genai.CountTokensResponse, error)
}

// Adapter implements modeladapter.Completer and modeladapter.Streamer for the
// Gemini API.
type Adapter struct {
	modeladapter.ModelAdapter

	models modelsClient
}

// New creates an Adapter for the Gemini API. An empty baseURL uses the SDK
// default endpoint.
func New(ctx context.Context, baseURL, apiKey, model string, client *http.Client) (*Adapter, error) {
	a := newAdapter(nil, model)
	a.BaseURL = baseURL
	a.Auth = modeladapter.Auth{Key: apiKey, Header: "x-goog-api-key"}
	a.Client = client

	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: a.HTTPClient(),
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	a.models = c.Models

	return a, nil
}

func newAdapter(models modelsClient, model string) *Adapter {
	a := &Adapter{models: models}
	a.Name = model
	a.MaxTokens = 8192
	a.ExtraKinds = []string{KindThoughtSignature, KindThought, KindInlineData}

	return a
}

// Complete sends a conversation to the Gemini API and returns the assistant's
// reply.
func (a *Adapter) Complete(ctx context.Context, msgs []message.Message, opts modeladapter.Options) (message.Message, error) {
	contents, cfg, err := a.buildRequest(msgs, opts)
	if err != nil {
		return message.Message{}, fmt.Errorf("gemini: %w", err)
	}

	resp, err := a.models.GenerateContent(ctx, a.Name, contents, cfg)
	if err != nil {
		return message.Message{}, fmt.Errorf("gemini: %w", err)
	}

	a.addUsage(resp)

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return message.Message{}, fmt.Errorf("gemini: empty candidates in response")
	}

	parts, err := parseParts(resp.Candidates[0].Content.Parts)
	if err != nil {
		return message.Message{}, fmt.Errorf("gemini: %w", err)
	}

	return message.Message{Role: role.Assistant, Parts: parts}, nil
}

// Stream sends a conversation and yields reply parts as chunks arrive. Text
// arrives as deltas.
func (a *Adapter) Stream(ctx context.Context, msgs []message.Message, opts modeladapter.Options) iter.Seq2[content.Part, error] {
	return func(yield func(content.Part, error) bool) {
		contents, cfg, err := a.buildRequest(msgs, opts)
		if err != nil {
			yield(nil, fmt.Errorf("gemini: %w", err))
			return
		}

		var last *genai.GenerateContentResponse
		defer func() { a.addUsage(last) }()

		for resp, err := range a.models.GenerateContentStream(ctx, a.Name, contents, cfg) {
			if err != nil {
				yield(nil, fmt.Errorf("gemini: %w", err))
				return
			}
			if resp.UsageMetadata != nil {
				last = resp
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}

			parts, err := parseParts(resp.Candidates[0].Content.Parts)
			if err != nil {
				yield(nil, fmt.Errorf("gemini: %w", err))
				return
			}

			for _, p := range parts {
				if !yield(p, nil) {
					return
				}
			}
		}
	}
}

// CountTokens counts input tokens with the countTokens endpoint. System text
// is counted as a user turn since the endpoint takes no system instruction.
func (a *Adapter) CountTokens(ctx context.Context, msgs []message.Message) (int, error) {
	folded := make([]message.Message, len(msgs))
	for i, m := range msgs {
		if m.Role == role.System {
			m = message.UserText(m.TextContent())
		}
		folded[i] = m
	}

	contents, _, err := a.convertMessages(folded, true)
	if err != nil {
		return 0, fmt.Errorf("gemini: %w", err)
	}

	resp, err := a.models.CountTokens(ctx, a.Name, contents, nil)
	if err != nil {
		return 0, fmt.Errorf("gemini: %w", err)
	}

	return int(resp.TotalTokens), nil
}

func (a *Adapter) addUsage(resp *genai.GenerateContentResponse) {
	if resp == nil || resp.UsageMetadata == nil {
		return
	}

	a.Usage.Add(usage.TokenCount{
		InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
		OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
	})
}

// --- conversion helpers ---

func (a *Adapter) buildRequest(msgs []message.Message, opts modeladapter.Options) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	contents, system, err := a.convertMessages(msgs, false)
	if err != nil {
		return nil, nil, err
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: system,
	}

	if n := a.ResolveMaxTokens(opts); n > 0 {
		cfg.MaxOutputTokens = int32(n) //nolint:gosec // bounded by config.
	}

	if t, ok := a.ResolveTemperature(opts); ok {
		cfg.Temperature = genai.Ptr(float32(t))
	}

	if len(opts.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(opts.Tools))
		for i, t := range opts.Tools {
			schema, err := sanitizeSchema(t.InputSchema)
			if err != nil {
				return nil, nil, fmt.Errorf("tool %q: %w", t.Name, err)
			}
			decls[i] = &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: schema,
			}
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}

		if opts.EffectiveToolMode() == modeladapter.ToolModeRequired {
			cfg.ToolConfig = &genai.ToolConfig{
				FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAny},
			}
		}
	}

	return contents, cfg, nil
}

// convertMessages builds the conversation contents and the system
// instruction. Consecutive turns with the same role are merged since Gemini
// requires alternation. When lenient, tool results whose call is not in msgs
// are named after the call ID instead of failing. System messages contribute
// text only; their extra data is checked against ExtraKinds and dropped.
func (a *Adapter) convertMessages(msgs []message.Message, lenient bool) ([]*genai.Content, *genai.Content, error) {
	// ToolResult only carries the call ID but functionResponse needs the name.
	callNames := make(map[string]string)
	for _, m := range msgs {
		for _, tc := range m.ToolCalls() {
			callNames[tc.ID] = tc.Name
		}
	}

	var (
		contents []*genai.Content
		system   *genai.Content
	)

	for _, m := range msgs {
		if m.Role == role.System {
			parts, err := a.systemParts(m)
			if err != nil {
				return nil, nil, err
			}
			if len(parts) == 0 {
				continue
			}
			if system == nil {
				system = &genai.Content{}
			}
			system.Parts = append(system.Parts, parts...)
			continue
		}

		parts, err := a.convertParts(m.Parts, callNames, lenient)
		if err != nil {
			return nil, nil, err
		}
		if len(parts) == 0 {
			continue
		}

		r := mapRole(m.Role)
		if n := len(contents); n > 0 && contents[n-1].Role == r {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			continue
		}

		contents = append(contents, &genai.Content{Role: r, Parts: parts})
	}

	return contents, system, nil
}

func (a *Adapter) systemParts(m message.Message) ([]*genai.Part, error) {
	var out []*genai.Part

	for _, p := range m.Parts {
		switch v := p.(type) {
		case content.Text:
			out = append(out, &genai.Part{Text: v.Text})
		case content.ExtraData:
			if err := a.CheckExtraKind(v.Kind); err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}

// convertParts maps message parts to Gemini parts. A thought signature is
// attached to the part that follows it, or to an empty text part when it
// comes last.
func (a *Adapter) convertParts(parts []content.Part, callNames map[string]string, lenient bool) ([]*genai.Part, error) {
	var (
		out       []*genai.Part
		signature []byte
	)

	for _, p := range parts {
		var gp *genai.Part

		switch v := p.(type) {
		case content.Text:
			gp = &genai.Part{Text: v.Text}
		case content.ToolCall:
			args := map[string]any{}
			if v.Arguments != "" {
				if err := json.Unmarshal([]byte(v.Arguments), &args); err != nil {
					return nil, fmt.Errorf("%w: tool call %q arguments: %w", content.ErrInvalidPart, v.ID, err)
				}
			}
			gp = &genai.Part{FunctionCall: &genai.FunctionCall{ID: v.ID, Name: v.Name, Args: args}}
		case content.ToolResult:
			name, ok := callNames[v.ToolCallID]
			if !ok && lenient {
				name, ok = v.ToolCallID, true
			}
			if !ok {
				return nil, fmt.Errorf("%w: no tool call with ID %q in the conversation", content.ErrInvalidPart, v.ToolCallID)
			}
			gp = &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       v.ToolCallID,
				Name:     name,
				Response: functionResponse(v),
			}}
		case content.Image:
			if v.MimeType == content.BMP {
				return nil, fmt.Errorf("%w: %s images are not supported", content.ErrInvalidPart, v.MimeType)
			}
			gp = &genai.Part{InlineData: &genai.Blob{MIMEType: string(v.MimeType), Data: v.Data}}
		case content.ExtraData:
			if err := a.CheckExtraKind(v.Kind); err != nil {
				return nil, err
			}

			switch v.Kind {
			case KindThoughtSignature:
				var sig struct {
					Signature []byte `json:"signature"`
				}
				if err := v.Decode(&sig); err != nil {
					return nil, fmt.Errorf("%w: thought signature: %w", content.ErrInvalidPart, err)
				}
				signature = sig.Signature
				continue
			case KindThought:
				gp = &genai.Part{Text: v.Get("text").String(), Thought: true}
			case KindInlineData:
				var blob inlineData
				if err := v.Decode(&blob); err != nil {
					return nil, fmt.Errorf("%w: inline data: %w", content.ErrInvalidPart, err)
				}
				gp = &genai.Part{InlineData: &genai.Blob{MIMEType: blob.MimeType, Data: blob.Data}}
			default:
				return nil, fmt.Errorf("%w %q", modeladapter.ErrUnrecognizedExtraKind, v.Kind)
			}
		}

		if gp == nil {
			continue
		}

		if signature != nil {
			gp.ThoughtSignature = signature
			signature = nil
		}

		out = append(out, gp)
	}

	if signature != nil {
		out = append(out, &genai.Part{ThoughtSignature: signature})
	}

	return out, nil
}

// functionResponse wraps tool output in the object Gemini expects. JSON
// output is embedded as is; anything else becomes a string.
func functionResponse(tr content.ToolResult) map[string]any {
	key := "output"
	if tr.IsError {
		key = "error"
	}

	var v any
	if err := json.Unmarshal([]byte(tr.Content), &v); err != nil {
		v = tr.Content
	}

	return map[string]any{key: v}
}

// sanitizeSchema decodes a JSON Schema, dropping "$schema" at every level.
// An empty schema becomes an object with no properties.
func sanitizeSchema(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return map[string]any{"type": "object"}, nil
	}

	var schema any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, err
	}

	return stripSchemaKeys(schema), nil
}

func stripSchemaKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		delete(t, "$schema")
		for k, child := range t {
			t[k] = stripSchemaKeys(child)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = stripSchemaKeys(child)
		}
		return t
	default:
		return v
	}
}

func mapRole(r role.Role) string {
	if r == role.Assistant {
		return genai.RoleModel
	}
	return genai.RoleUser
}

// newCallID synthesizes a tool call ID for calls Gemini returns without one.
func newCallID() string {
	return "call_" + uuid.NewString()
}

// parseParts converts response parts. A thought signature is emitted as an
// extra data part right before the part it belongs to. Inline media outside
// the image types becomes a KindInlineData part.
func parseParts(parts []*genai.Part) ([]content.Part, error) {
	var out []content.Part

	for _, p := range parts {
		if p == nil {
			continue
		}

		var converted content.Part

		switch {
		case p.FunctionCall != nil:
			args := "{}"
			if len(p.FunctionCall.Args) > 0 {
				b, err := json.Marshal(p.FunctionCall.Args)
				if err != nil {
					return nil, fmt.Errorf("function call %q arguments: %w", p.FunctionCall.Name, err)
				}
				args = string(b)
			}
			id := p.FunctionCall.ID
			if id == "" {
				id = newCallID()
			}
			converted = content.ToolCall{ID: id, Name: p.FunctionCall.Name, Arguments: args}
		case p.Thought && p.Text != "":
			ed, err := content.NewExtraData(KindThought, map[string]string{"text": p.Text})
			if err != nil {
				return nil, err
			}
			converted = ed
		case p.Text != "":
			converted = content.Text{Text: p.Text}
		case p.InlineData != nil:
			mime, err := content.ParseMimeType(p.InlineData.MIMEType)
			if err != nil {
				ed, err := content.NewExtraData(KindInlineData, inlineData{MimeType: p.InlineData.MIMEType, Data: p.InlineData.Data})
				if err != nil {
					return nil, err
				}
				converted = ed
				break
			}
			img, err := content.NewImage(mime, p.InlineData.Data)
			if err != nil {
				return nil, err
			}
			converted = img
		}

		if len(p.ThoughtSignature) > 0 {
			sig, err := content.NewExtraData(KindThoughtSignature, map[string][]byte{"signature": p.ThoughtSignature})
			if err != nil {
				return nil, err
			}
			out = append(out, sig)
		}

		if converted != nil {
			out = append(out, converted)
		}
	}

	return out, nil
}
