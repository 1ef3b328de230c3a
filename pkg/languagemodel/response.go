package languagemodel

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/germanamz/lmchat/pkg/chats/content"
	"github.com/germanamz/lmchat/pkg/chats/message"
	"github.com/germanamz/lmchat/pkg/chats/role"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Response is the model's reply to a request. Its parts can be consumed once,
// either part by part through Stream or all at once through Text or Collect.
// A Response is not safe for concurrent use.
type Response struct {
	ctx   context.Context
	span  trace.Span
	log   *slog.Logger
	model string
	start time.Time

	next func() (content.Part, error, bool)
	stop func()

	pending    content.Part
	hasPending bool

	parts    int
	done     bool
	err      error
	finishMu sync.Once
}

// Stream yields the reply parts in order. A non-nil error is always the last
// value yielded. Breaking out of the loop closes the response.
func (r *Response) Stream() iter.Seq2[content.Part, error] {
	return func(yield func(content.Part, error) bool) {
		for {
			p, err, ok := r.take()
			if err != nil {
				yield(nil, err)
				return
			}
			if !ok {
				return
			}
			if !yield(p, nil) {
				r.Close()
				return
			}
		}
	}
}

// Texts yields only the text fragments of the reply.
func (r *Response) Texts() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for p, err := range r.Stream() {
			if err != nil {
				yield("", err)
				return
			}
			t, ok := p.(content.Text)
			if !ok {
				continue
			}
			if !yield(t.Text, nil) {
				return
			}
		}
	}
}

// Text drains the response and concatenates its text parts.
func (r *Response) Text() (string, error) {
	var sb strings.Builder

	for t, err := range r.Texts() {
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(t)
	}

	return sb.String(), nil
}

// Collect drains the response into an assistant message.
func (r *Response) Collect() (message.Message, error) {
	var parts []content.Part

	for p, err := range r.Stream() {
		if err != nil {
			return message.Message{}, err
		}
		parts = append(parts, p)
	}

	return message.Message{Role: role.Assistant, Parts: parts}, nil
}

// Close stops the underlying stream. It is safe to call more than once and
// after the response has been drained.
func (r *Response) Close() {
	r.finish(nil)
}

// Err returns the error that ended the response, if any.
func (r *Response) Err() error {
	return r.err
}

func (r *Response) take() (content.Part, error, bool) {
	if r.hasPending {
		p := r.pending
		r.pending, r.hasPending = nil, false
		return p, nil, true
	}

	return r.pull()
}

// pull reads the next part from the backend and checks it. Any failure ends
// the response.
func (r *Response) pull() (content.Part, error, bool) {
	if r.done {
		return nil, r.err, false
	}

	if r.ctx.Err() != nil {
		r.finish(cancelled(r.ctx))
		return nil, r.err, false
	}

	p, err, ok := r.next()
	switch {
	case !ok:
		r.finish(nil)
		return nil, nil, false
	case err != nil:
		r.finish(classify(r.ctx, err))
		return nil, r.err, false
	}

	if err := checkReplyPart(p); err != nil {
		r.finish(fmt.Errorf("languagemodel: %w: %w", ErrBackendFailure, err))
		return nil, r.err, false
	}

	r.parts++

	return p, nil, true
}

func checkReplyPart(p content.Part) error {
	if p == nil {
		return fmt.Errorf("%w: nil part", ErrInvalidContentPart)
	}

	if !message.Allows(role.Assistant, p.PartKind()) {
		return fmt.Errorf("%w: %s part in assistant reply", ErrInvalidContentPart, p.PartKind())
	}

	return p.Validate()
}

func (r *Response) finish(err error) {
	r.finishMu.Do(func() {
		r.done = true
		r.err = err
		r.stop()

		r.span.SetAttributes(attribute.Int("lm.parts", r.parts))
		if err != nil {
			r.span.RecordError(err)
			r.span.SetStatus(codes.Error, err.Error())
			r.log.WarnContext(r.ctx, "request failed", "model", r.model, "duration", time.Since(r.start), "error", err)
		} else {
			r.log.DebugContext(r.ctx, "request finished", "model", r.model, "duration", time.Since(r.start), "parts", r.parts)
		}
		r.span.End()
	})
}
