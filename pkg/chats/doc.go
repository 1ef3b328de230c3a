// Package chats provides a provider-agnostic data model for language model chat messages.
//
// It is organized into sub-packages:
//   - [github.com/germanamz/lmchat/pkg/chats/role]: message roles (user, assistant, system)
//   - [github.com/germanamz/lmchat/pkg/chats/content]: the closed set of content parts (text, tool call/result, image, extra data)
//   - [github.com/germanamz/lmchat/pkg/chats/message]: messages composed of a role, an optional name, and content parts
//   - [github.com/germanamz/lmchat/pkg/chats/codec]: JSON wire encoding for messages and parts
//
// No backend code is included; chats is a foundation layer that adapters
// can build on.
package chats
