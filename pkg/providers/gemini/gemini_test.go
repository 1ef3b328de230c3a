package gemini

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"

	"github.com/germanamz/lmchat/pkg/chats/content"
	"github.com/germanamz/lmchat/pkg/chats/message"
	"github.com/germanamz/lmchat/pkg/chats/role"
	"github.com/germanamz/lmchat/pkg/modeladapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type stubModels struct {
	generateResp *genai.GenerateContentResponse
	generateErr  error
	streamResps  []*genai.GenerateContentResponse
	streamErr    error
	countResp    *genai.CountTokensResponse

	gotModel    string
	gotContents []*genai.Content
	gotConfig   *genai.GenerateContentConfig
}

func (s *stubModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	s.gotModel = model
	s.gotContents = contents
	s.gotConfig = cfg
	return s.generateResp, s.generateErr
}

func (s *stubModels) GenerateContentStream(_ context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	s.gotModel = model
	s.gotContents = contents
	s.gotConfig = cfg
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, r := range s.streamResps {
			if !yield(r, nil) {
				return
			}
		}
		if s.streamErr != nil {
			yield(nil, s.streamErr)
		}
	}
}

func (s *stubModels) CountTokens(_ context.Context, model string, contents []*genai.Content, _ *genai.CountTokensConfig) (*genai.CountTokensResponse, error) {
	s.gotModel = model
	s.gotContents = contents
	return s.countResp, nil
}

func candidate(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: genai.RoleModel, Parts: parts},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     11,
			CandidatesTokenCount: 7,
		},
	}
}

func TestComplete_SimpleText(t *testing.T) {
	stub := &stubModels{generateResp: candidate(&genai.Part{Text: "Hello!"})}
	a := newAdapter(stub, "gemini-test")

	msgs := []message.Message{
		message.SystemText("Be brief."),
		message.UserText("Hi"),
	}

	msg, err := a.Complete(context.Background(), msgs, modeladapter.Options{
		ModelOptions: map[string]any{"temperature": 0.5},
	})
	require.NoError(t, err)

	assert.Equal(t, role.Assistant, msg.Role)
	assert.Equal(t, "Hello!", msg.TextContent())
	assert.Equal(t, "gemini-test", stub.gotModel)

	require.Len(t, stub.gotContents, 1)
	assert.Equal(t, genai.RoleUser, stub.gotContents[0].Role)
	require.NotNil(t, stub.gotConfig.SystemInstruction)
	assert.Equal(t, "Be brief.", stub.gotConfig.SystemInstruction.Parts[0].Text)
	require.NotNil(t, stub.gotConfig.Temperature)
	assert.InDelta(t, 0.5, *stub.gotConfig.Temperature, 1e-6)
	assert.Equal(t, int32(8192), stub.gotConfig.MaxOutputTokens)

	last, ok := a.Usage.Last()
	require.True(t, ok)
	assert.Equal(t, 11, last.InputTokens)
	assert.Equal(t, 7, last.OutputTokens)
}

func TestComplete_EmptyCandidates(t *testing.T) {
	stub := &stubModels{generateResp: &genai.GenerateContentResponse{}}
	a := newAdapter(stub, "gemini-test")

	_, err := a.Complete(context.Background(), []message.Message{message.UserText("Hi")}, modeladapter.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty candidates")
}

func TestComplete_Error(t *testing.T) {
	stub := &stubModels{generateErr: errors.New("quota")}
	a := newAdapter(stub, "gemini-test")

	_, err := a.Complete(context.Background(), []message.Message{message.UserText("Hi")}, modeladapter.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini: quota")
}

func TestComplete_FunctionCallWithSignature(t *testing.T) {
	stub := &stubModels{generateResp: candidate(&genai.Part{
		FunctionCall:     &genai.FunctionCall{Name: "search", Args: map[string]any{"q": "x"}},
		ThoughtSignature: []byte("sig"),
	})}
	a := newAdapter(stub, "gemini-test")

	opts := modeladapter.Options{
		Tools: []modeladapter.Tool{{
			Name:        "search",
			InputSchema: []byte(`{"$schema":"https://json-schema.org/draft/2020-12/schema","type":"object","properties":{"q":{"type":"string"}}}`),
		}},
		ToolMode: modeladapter.ToolModeRequired,
	}

	msg, err := a.Complete(context.Background(), []message.Message{message.UserText("find x")}, opts)
	require.NoError(t, err)

	require.Len(t, stub.gotConfig.Tools, 1)
	decl := stub.gotConfig.Tools[0].FunctionDeclarations[0]
	assert.Equal(t, "search", decl.Name)
	schema, ok := decl.ParametersJsonSchema.(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, schema, "$schema")
	assert.Equal(t, genai.FunctionCallingConfigModeAny, stub.gotConfig.ToolConfig.FunctionCallingConfig.Mode)

	require.Len(t, msg.Parts, 2)
	sig, ok := msg.Parts[0].(content.ExtraData)
	require.True(t, ok)
	assert.Equal(t, KindThoughtSignature, sig.Kind)

	calls := msg.ToolCalls()
	require.Len(t, calls, 1)
	assert.True(t, strings.HasPrefix(calls[0].ID, "call_"))
	assert.Equal(t, "search", calls[0].Name)
	assert.JSONEq(t, `{"q":"x"}`, calls[0].Arguments)

	// Sending the reply back reattaches the signature to the function call.
	result, err := message.User("", content.ToolResult{ToolCallID: calls[0].ID, Content: `{"hits":3}`})
	require.NoError(t, err)

	stub.generateResp = candidate(&genai.Part{Text: "3 hits"})
	_, err = a.Complete(context.Background(), []message.Message{message.UserText("find x"), msg, result}, modeladapter.Options{})
	require.NoError(t, err)

	require.Len(t, stub.gotContents, 3)
	model := stub.gotContents[1]
	assert.Equal(t, genai.RoleModel, model.Role)
	require.Len(t, model.Parts, 1)
	assert.Equal(t, []byte("sig"), model.Parts[0].ThoughtSignature)
	assert.Equal(t, "search", model.Parts[0].FunctionCall.Name)

	resp := stub.gotContents[2].Parts[0].FunctionResponse
	require.NotNil(t, resp)
	assert.Equal(t, "search", resp.Name)
	assert.Equal(t, calls[0].ID, resp.ID)
	assert.Equal(t, map[string]any{"output": map[string]any{"hits": float64(3)}}, resp.Response)
}

func TestComplete_UnknownToolResult(t *testing.T) {
	a := newAdapter(&stubModels{}, "gemini-test")

	msg, err := message.User("", content.ToolResult{ToolCallID: "missing", Content: "x"})
	require.NoError(t, err)

	_, err = a.Complete(context.Background(), []message.Message{msg}, modeladapter.Options{})
	require.ErrorIs(t, err, content.ErrInvalidPart)
}

func TestComplete_ImagesAndThoughts(t *testing.T) {
	stub := &stubModels{generateResp: candidate(
		&genai.Part{Text: "considering", Thought: true},
		&genai.Part{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte{1, 2}}},
		&genai.Part{InlineData: &genai.Blob{MIMEType: "audio/wav", Data: []byte{3}}},
	)}
	a := newAdapter(stub, "gemini-test")

	img, err := content.NewImage(content.WEBP, []byte{9, 9})
	require.NoError(t, err)
	user, err := message.User("", content.Text{Text: "draw"}, img)
	require.NoError(t, err)

	msg, err := a.Complete(context.Background(), []message.Message{user}, modeladapter.Options{})
	require.NoError(t, err)

	blob := stub.gotContents[0].Parts[1].InlineData
	require.NotNil(t, blob)
	assert.Equal(t, "image/webp", blob.MIMEType)
	assert.Equal(t, []byte{9, 9}, blob.Data)

	require.Len(t, msg.Parts, 3)
	thought, ok := msg.Parts[0].(content.ExtraData)
	require.True(t, ok)
	assert.Equal(t, KindThought, thought.Kind)
	assert.Equal(t, "considering", thought.Get("text").String())
	assert.Equal(t, content.Image{MimeType: content.PNG, Data: []byte{1, 2}}, msg.Parts[1])

	audio, ok := msg.Parts[2].(content.ExtraData)
	require.True(t, ok)
	assert.Equal(t, KindInlineData, audio.Kind)
	assert.Equal(t, "audio/wav", audio.Get("mimeType").String())
}

func TestComplete_InlineDataRoundTrip(t *testing.T) {
	stub := &stubModels{generateResp: candidate(
		&genai.Part{InlineData: &genai.Blob{MIMEType: "audio/wav", Data: []byte{3, 4}}},
	)}
	a := newAdapter(stub, "gemini-test")

	msg, err := a.Complete(context.Background(), []message.Message{message.UserText("sing")}, modeladapter.Options{})
	require.NoError(t, err)
	require.Len(t, msg.Parts, 1)

	stub.generateResp = candidate(&genai.Part{Text: "ok"})
	_, err = a.Complete(context.Background(), []message.Message{message.UserText("sing"), msg, message.UserText("again")}, modeladapter.Options{})
	require.NoError(t, err)

	model := stub.gotContents[1]
	require.Len(t, model.Parts, 1)
	require.NotNil(t, model.Parts[0].InlineData)
	assert.Equal(t, "audio/wav", model.Parts[0].InlineData.MIMEType)
	assert.Equal(t, []byte{3, 4}, model.Parts[0].InlineData.Data)
}

func TestComplete_TrailingSignature(t *testing.T) {
	stub := &stubModels{generateResp: candidate(
		&genai.Part{Text: "answer"},
		&genai.Part{Text: "", ThoughtSignature: []byte("sig")},
	)}
	a := newAdapter(stub, "gemini-test")

	msg, err := a.Complete(context.Background(), []message.Message{message.UserText("q")}, modeladapter.Options{})
	require.NoError(t, err)

	require.Len(t, msg.Parts, 2)
	assert.Equal(t, content.Text{Text: "answer"}, msg.Parts[0])
	sig, ok := msg.Parts[1].(content.ExtraData)
	require.True(t, ok)
	assert.Equal(t, KindThoughtSignature, sig.Kind)

	stub.generateResp = candidate(&genai.Part{Text: "ok"})
	_, err = a.Complete(context.Background(), []message.Message{message.UserText("q"), msg, message.UserText("more")}, modeladapter.Options{})
	require.NoError(t, err)

	model := stub.gotContents[1]
	require.Len(t, model.Parts, 2)
	assert.Equal(t, "answer", model.Parts[0].Text)
	assert.Empty(t, model.Parts[0].ThoughtSignature)
	assert.Empty(t, model.Parts[1].Text)
	assert.Equal(t, []byte("sig"), model.Parts[1].ThoughtSignature)
}

func TestComplete_SystemExtraData(t *testing.T) {
	stub := &stubModels{generateResp: candidate(&genai.Part{Text: "ok"})}
	a := newAdapter(stub, "gemini-test")

	thought, err := content.NewExtraData(KindThought, map[string]string{"text": "plan"})
	require.NoError(t, err)
	sys, err := message.System(content.Text{Text: "Be brief."}, thought)
	require.NoError(t, err)

	_, err = a.Complete(context.Background(), []message.Message{sys, message.UserText("hi")}, modeladapter.Options{})
	require.NoError(t, err)
	require.Len(t, stub.gotConfig.SystemInstruction.Parts, 1)
	assert.Equal(t, "Be brief.", stub.gotConfig.SystemInstruction.Parts[0].Text)

	other, err := content.NewExtraData("thinking", map[string]string{})
	require.NoError(t, err)
	sys, err = message.System(content.Text{Text: "Be brief."}, other)
	require.NoError(t, err)

	_, err = a.Complete(context.Background(), []message.Message{sys, message.UserText("hi")}, modeladapter.Options{})
	require.ErrorIs(t, err, modeladapter.ErrUnrecognizedExtraKind)
}

func TestComplete_ConfiguredExtraKinds(t *testing.T) {
	a := newAdapter(&stubModels{}, "gemini-test")
	a.ExtraKinds = []string{KindThoughtSignature}

	thought, err := content.NewExtraData(KindThought, map[string]string{"text": "plan"})
	require.NoError(t, err)
	msg, err := message.Assistant("", thought, content.Text{Text: "done"})
	require.NoError(t, err)

	_, err = a.Complete(context.Background(), []message.Message{message.UserText("q"), msg}, modeladapter.Options{})
	require.ErrorIs(t, err, modeladapter.ErrUnrecognizedExtraKind)
	assert.ErrorContains(t, err, `for model "gemini-test"`)
}

func TestComplete_RejectsUnknownExtraKind(t *testing.T) {
	a := newAdapter(&stubModels{}, "gemini-test")

	ed, err := content.NewExtraData("thinking", map[string]string{})
	require.NoError(t, err)
	msg, err := message.User("", ed)
	require.NoError(t, err)

	_, err = a.Complete(context.Background(), []message.Message{msg}, modeladapter.Options{})
	require.ErrorIs(t, err, modeladapter.ErrUnrecognizedExtraKind)
	assert.False(t, a.SupportsExtraKind("thinking"))
	assert.True(t, a.SupportsExtraKind(KindThoughtSignature))
}

func TestStream(t *testing.T) {
	first := candidate(&genai.Part{Text: "Hel"})
	first.UsageMetadata = nil
	stub := &stubModels{streamResps: []*genai.GenerateContentResponse{
		first,
		candidate(&genai.Part{Text: "lo"}),
	}}
	a := newAdapter(stub, "gemini-test")

	var text strings.Builder
	for p, err := range a.Stream(context.Background(), []message.Message{message.UserText("Hi")}, modeladapter.Options{}) {
		require.NoError(t, err)
		text.WriteString(p.(content.Text).Text)
	}

	assert.Equal(t, "Hello", text.String())
	assert.Equal(t, 1, a.Usage.Count())
}

func TestStream_Error(t *testing.T) {
	stub := &stubModels{
		streamResps: []*genai.GenerateContentResponse{candidate(&genai.Part{Text: "partial"})},
		streamErr:   errors.New("stream broke"),
	}
	a := newAdapter(stub, "gemini-test")

	var (
		parts   int
		lastErr error
	)
	for _, err := range a.Stream(context.Background(), []message.Message{message.UserText("Hi")}, modeladapter.Options{}) {
		if err != nil {
			lastErr = err
			continue
		}
		parts++
	}

	assert.Equal(t, 1, parts)
	require.Error(t, lastErr)
	assert.Contains(t, lastErr.Error(), "stream broke")
}

func TestCountTokens(t *testing.T) {
	stub := &stubModels{countResp: &genai.CountTokensResponse{TotalTokens: 21}}
	a := newAdapter(stub, "gemini-test")

	n, err := a.CountTokens(context.Background(), []message.Message{message.SystemText("rules")})
	require.NoError(t, err)
	assert.Equal(t, 21, n)

	require.Len(t, stub.gotContents, 1)
	assert.Equal(t, genai.RoleUser, stub.gotContents[0].Role)
	assert.Equal(t, "rules", stub.gotContents[0].Parts[0].Text)
}

func TestCountTokens_LoneToolResult(t *testing.T) {
	stub := &stubModels{countResp: &genai.CountTokensResponse{TotalTokens: 5}}
	a := newAdapter(stub, "gemini-test")

	msg, err := message.User("", content.ToolResult{ToolCallID: "call_1", Content: "done"})
	require.NoError(t, err)

	n, err := a.CountTokens(context.Background(), []message.Message{msg})
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "call_1", stub.gotContents[0].Parts[0].FunctionResponse.Name)
}
