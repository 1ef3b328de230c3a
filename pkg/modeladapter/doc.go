// Package modeladapter defines the contract between language model requests
// and the backends that execute them.
//
// It contains:
//   - [Completer], [Streamer], [TokenCounter] and [ExtraKindSupporter]: what a backend can do
//   - [Options]: per-request settings (model options, tools, tool mode, justification)
//   - embeddable [ModelAdapter] base struct with HTTP and WebSocket helpers, auth, custom headers, and a default token counter
//   - [TokenEstimator]: character-based token estimation
//   - [github.com/germanamz/lmchat/pkg/modeladapter/usage]: thread-safe token usage tracker
//
// This package contains no provider-specific code; concrete adapters live in
// separate packages that import modeladapter.
package modeladapter
