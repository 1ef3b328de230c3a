// Package providers groups the backend adapters. Each sub-package embeds
// [github.com/germanamz/lmchat/pkg/modeladapter.ModelAdapter] and implements
// at least modeladapter.Completer:
//   - [github.com/germanamz/lmchat/pkg/providers/anthropic]: Anthropic Messages API
//   - [github.com/germanamz/lmchat/pkg/providers/openai]: OpenAI chat completions, also used for xAI
//   - [github.com/germanamz/lmchat/pkg/providers/gemini]: Gemini API, with streaming
//   - [github.com/germanamz/lmchat/pkg/providers/hostbridge]: an external host over WebSocket
//
// This package contains no code.
package providers
