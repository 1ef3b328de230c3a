package modeladapter

import (
	"github.com/germanamz/lmchat/pkg/chats/content"
	"github.com/germanamz/lmchat/pkg/chats/message"
)

// perMessageOverhead is the estimated token overhead for each message (role,
// structure delimiters, etc.).
const perMessageOverhead = 4

// perToolOverhead is the estimated token overhead for each tool definition
// (JSON wrapping, function object structure, etc.).
const perToolOverhead = 10

// perImageTokens approximates one high-detail image tile.
const perImageTokens = 765

// TokenEstimator estimates token counts for messages and tool definitions.
// It uses a character-to-token heuristic (approximately 1 token per 4 characters
// for English text, with overhead for JSON structure in tool definitions).
// The zero value is ready to use.
type TokenEstimator struct{}

// charsToTokens converts a character count to an estimated token count using the
// 1-token-per-4-characters heuristic.
func charsToTokens(chars int) int {
	return (chars + 3) / 4 // round up
}

// EstimateText estimates the tokens of bare text with no message framing.
func (e *TokenEstimator) EstimateText(text string) int {
	return charsToTokens(len(text))
}

// EstimatePart estimates the tokens contributed by a single content part.
func (e *TokenEstimator) EstimatePart(p content.Part) int {
	switch v := p.(type) {
	case content.Text:
		return charsToTokens(len(v.Text))
	case content.ToolCall:
		return charsToTokens(len(v.ID) + len(v.Name) + len(v.Arguments))
	case content.ToolResult:
		return charsToTokens(len(v.ToolCallID) + len(v.Content))
	case content.Image:
		return perImageTokens
	case content.ExtraData:
		return charsToTokens(len(v.Kind) + len(v.Data))
	}
	return 0
}

// EstimateMessage estimates the tokens of one message including its
// structural overhead.
func (e *TokenEstimator) EstimateMessage(m message.Message) int {
	tokens := perMessageOverhead + charsToTokens(len(m.Name))
	for _, p := range m.Parts {
		tokens += e.EstimatePart(p)
	}
	return tokens
}

// EstimateMessages estimates the total input tokens for a conversation.
func (e *TokenEstimator) EstimateMessages(msgs []message.Message) int {
	tokens := 0
	for _, m := range msgs {
		tokens += e.EstimateMessage(m)
	}
	return tokens
}

// EstimateTools estimates the token cost of tool definitions. For each tool it
// sums the name, description, and serialized input schema, then applies the
// character-to-token heuristic plus a per-tool structural overhead.
func (e *TokenEstimator) EstimateTools(tools []Tool) int {
	tokens := 0

	for _, t := range tools {
		chars := len(t.Name) + len(t.Description) + len(t.InputSchema)
		tokens += charsToTokens(chars) + perToolOverhead
	}

	return tokens
}

// EstimateTotal estimates total input tokens for a conversation combined
// with tool definitions. This is the primary entry point for pre-call estimation.
func (e *TokenEstimator) EstimateTotal(msgs []message.Message, tools []Tool) int {
	return e.EstimateMessages(msgs) + e.EstimateTools(tools)
}
