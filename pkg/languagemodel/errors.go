package languagemodel

import (
	"context"
	"errors"
	"fmt"

	"github.com/germanamz/lmchat/pkg/chats/content"
	"github.com/germanamz/lmchat/pkg/modeladapter"
)

var (
	// ErrInvalidContentPart reports a part that is malformed or not allowed
	// for its message's role.
	ErrInvalidContentPart = content.ErrInvalidPart
	// ErrUnrecognizedExtraDataKind reports an extra data part the backend
	// does not understand.
	ErrUnrecognizedExtraDataKind = modeladapter.ErrUnrecognizedExtraKind
	// ErrBackendFailure wraps any error raised by the backend itself.
	ErrBackendFailure = errors.New("backend failure")
	// ErrCancelled reports that the caller's context ended first.
	ErrCancelled = errors.New("request cancelled")
)

// cancelled wraps the context's cause with ErrCancelled.
func cancelled(ctx context.Context) error {
	return fmt.Errorf("languagemodel: %w: %w", ErrCancelled, context.Cause(ctx))
}

// classify maps a backend error onto the taxonomy. Context termination wins
// over whatever the backend reported.
func classify(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return cancelled(ctx)
	case errors.Is(err, ErrCancelled), errors.Is(err, ErrBackendFailure):
		return err
	case errors.Is(err, ErrUnrecognizedExtraDataKind), errors.Is(err, ErrInvalidContentPart):
		return fmt.Errorf("languagemodel: %w", err)
	default:
		return fmt.Errorf("languagemodel: %w: %w", ErrBackendFailure, err)
	}
}
