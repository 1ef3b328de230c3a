// Package languagemodel exposes a language model as a [Chat]: send a
// conversation and stream back the reply, or count the tokens of some input.
//
// [Client] implements Chat on top of any [modeladapter.Completer]. It
// validates messages before they reach the backend, maps failures onto a
// small error taxonomy ([ErrInvalidContentPart], [ErrUnrecognizedExtraDataKind],
// [ErrBackendFailure], [ErrCancelled]) and traces every call.
//
// Calls block the calling goroutine; run them in goroutines to overlap
// requests and cancel them through their context. A Client holds no
// per-request state and is safe for concurrent use.
package languagemodel
