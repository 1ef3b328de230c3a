package languagemodel

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/germanamz/lmchat/pkg/chats/content"
	"github.com/germanamz/lmchat/pkg/chats/message"
	"github.com/germanamz/lmchat/pkg/modeladapter"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/germanamz/lmchat/pkg/languagemodel"

// ErrInvalidOptions reports request options that cannot be honoured.
var ErrInvalidOptions = errors.New("invalid request options")

// Chat is a language model that accepts conversations.
type Chat interface {
	// SendRequest sends msgs to the model. It returns once the model has
	// produced its first reply part or failed; the remaining parts are read
	// from the Response.
	SendRequest(ctx context.Context, msgs []message.Message, opts modeladapter.Options) (*Response, error)
	// CountTokens returns the number of input tokens msg would consume.
	CountTokens(ctx context.Context, msg message.Message) (int, error)
	// CountText returns the number of tokens text would consume.
	CountText(ctx context.Context, text string) (int, error)
}

var _ Chat = (*Client)(nil)

// Client implements Chat over a backend.
type Client struct {
	backend   modeladapter.Completer
	model     string
	log       *slog.Logger
	tracer    trace.Tracer
	estimator modeladapter.TokenEstimator
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithTracerProvider sets the tracer provider. By default the global
// provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tracer = tp.Tracer(tracerName) }
}

// WithModel overrides the model name reported in logs and spans.
func WithModel(name string) Option {
	return func(c *Client) { c.model = name }
}

// New creates a Client that delegates to backend.
func New(backend modeladapter.Completer, opts ...Option) *Client {
	c := &Client{
		backend: backend,
		log:     slog.New(slog.DiscardHandler),
		tracer:  otel.Tracer(tracerName),
	}

	if n, ok := backend.(interface{ ModelName() string }); ok {
		c.model = n.ModelName()
	}

	for _, o := range opts {
		o(c)
	}

	return c
}

// Model returns the model name.
func (c *Client) Model() string { return c.model }

// SendRequest validates msgs and opts and starts the request on the backend.
func (c *Client) SendRequest(ctx context.Context, msgs []message.Message, opts modeladapter.Options) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, "languagemodel.SendRequest", trace.WithAttributes(
		attribute.String("lm.model", c.model),
		attribute.Int("lm.messages", len(msgs)),
		attribute.Int("lm.tools", len(opts.Tools)),
		attribute.String("lm.tool_mode", string(opts.EffectiveToolMode())),
		attribute.Int("lm.estimated_input_tokens", c.estimator.EstimateTotal(msgs, opts.Tools)),
	))

	if n, ok := c.maxTokens(opts); ok {
		span.SetAttributes(attribute.Int("lm.max_tokens", n))
	}

	start := time.Now()

	if opts.Justification != "" {
		c.log.DebugContext(ctx, "request justification", "model", c.model, "justification", opts.Justification)
	}

	if err := c.checkRequest(ctx, msgs, opts); err != nil {
		c.fail(ctx, span, "send request rejected", err)
		return nil, err
	}

	r := &Response{
		ctx:   ctx,
		span:  span,
		log:   c.log,
		model: c.model,
		start: start,
	}
	r.next, r.stop = iter.Pull2(c.stream(ctx, msgs, opts))

	p, err, ok := r.pull()
	if err != nil {
		return nil, err
	}

	if ok {
		r.pending, r.hasPending = p, true
	}

	c.log.DebugContext(ctx, "request started", "model", c.model, "messages", len(msgs))

	return r, nil
}

// maxTokens reports the reply token limit of a request: the "max_tokens"
// model option, else the backend default when it reports one.
func (c *Client) maxTokens(opts modeladapter.Options) (int, bool) {
	if n, ok := opts.Number("max_tokens"); ok {
		return int(n), true
	}

	ur, ok := c.backend.(modeladapter.UsageReporter)
	if !ok || ur.ModelMaxTokens() <= 0 {
		return 0, false
	}

	return ur.ModelMaxTokens(), true
}

// CountTokens validates msg and counts its input tokens on the backend, or
// estimates them when the backend cannot count.
func (c *Client) CountTokens(ctx context.Context, msg message.Message) (int, error) {
	ctx, span := c.tracer.Start(ctx, "languagemodel.CountTokens", trace.WithAttributes(
		attribute.String("lm.model", c.model),
	))
	defer span.End()

	if ctx.Err() != nil {
		err := cancelled(ctx)
		c.fail(ctx, span, "count tokens rejected", err)
		return 0, err
	}

	msgs := []message.Message{msg}
	if err := c.checkMessages(msgs); err != nil {
		c.fail(ctx, span, "count tokens rejected", err)
		return 0, err
	}

	n, err := c.count(ctx, func(tc modeladapter.TokenCounter) (int, error) {
		return tc.CountTokens(ctx, msgs)
	}, c.estimator.EstimateMessages(msgs))
	if err != nil {
		c.fail(ctx, span, "count tokens failed", err)
		return 0, err
	}

	span.SetAttributes(attribute.Int("lm.tokens", n))

	return n, nil
}

// CountText counts the tokens of text on the backend, or estimates them
// when the backend cannot count.
func (c *Client) CountText(ctx context.Context, text string) (int, error) {
	ctx, span := c.tracer.Start(ctx, "languagemodel.CountText", trace.WithAttributes(
		attribute.String("lm.model", c.model),
	))
	defer span.End()

	if ctx.Err() != nil {
		err := cancelled(ctx)
		c.fail(ctx, span, "count text rejected", err)
		return 0, err
	}

	var (
		n   int
		err error
	)

	if ttc, ok := c.backend.(modeladapter.TextTokenCounter); ok {
		n, err = ttc.CountTextTokens(ctx, text)
		if err != nil {
			err = classify(ctx, err)
		}
	} else {
		n, err = c.count(ctx, func(tc modeladapter.TokenCounter) (int, error) {
			return tc.CountTokens(ctx, []message.Message{message.UserText(text)})
		}, c.estimator.EstimateText(text))
	}

	if err != nil {
		c.fail(ctx, span, "count text failed", err)
		return 0, err
	}

	span.SetAttributes(attribute.Int("lm.tokens", n))

	return n, nil
}

// count runs fn when the backend is a TokenCounter and falls back to estimate
// otherwise.
func (c *Client) count(ctx context.Context, fn func(modeladapter.TokenCounter) (int, error), estimate int) (int, error) {
	tc, ok := c.backend.(modeladapter.TokenCounter)
	if !ok {
		return estimate, nil
	}

	n, err := fn(tc)
	if err != nil {
		return 0, classify(ctx, err)
	}

	return n, nil
}

func (c *Client) checkRequest(ctx context.Context, msgs []message.Message, opts modeladapter.Options) error {
	if ctx.Err() != nil {
		return cancelled(ctx)
	}

	if len(msgs) == 0 {
		return fmt.Errorf("languagemodel: %w: at least one message is required", ErrInvalidOptions)
	}

	if err := checkOptions(opts); err != nil {
		return err
	}

	return c.checkMessages(msgs)
}

func (c *Client) checkMessages(msgs []message.Message) error {
	for i, m := range msgs {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("languagemodel: message %d: %w", i, err)
		}
	}

	sup, ok := c.backend.(modeladapter.ExtraKindSupporter)
	if !ok {
		return nil
	}

	for i, m := range msgs {
		for _, ed := range m.ExtraData() {
			if !sup.SupportsExtraKind(ed.Kind) {
				return fmt.Errorf("languagemodel: message %d: %w %q", i, ErrUnrecognizedExtraDataKind, ed.Kind)
			}
		}
	}

	return nil
}

func checkOptions(opts modeladapter.Options) error {
	switch opts.EffectiveToolMode() {
	case modeladapter.ToolModeAuto:
	case modeladapter.ToolModeRequired:
		if len(opts.Tools) == 0 {
			return fmt.Errorf("languagemodel: %w: tool mode %q needs at least one tool", ErrInvalidOptions, opts.ToolMode)
		}
	default:
		return fmt.Errorf("languagemodel: %w: unknown tool mode %q", ErrInvalidOptions, opts.ToolMode)
	}

	seen := make(map[string]struct{}, len(opts.Tools))
	for _, t := range opts.Tools {
		if t.Name == "" {
			return fmt.Errorf("languagemodel: %w: tool name is required", ErrInvalidOptions)
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("languagemodel: %w: duplicate tool %q", ErrInvalidOptions, t.Name)
		}
		seen[t.Name] = struct{}{}

		if len(t.InputSchema) > 0 && !gjson.ValidBytes(t.InputSchema) {
			return fmt.Errorf("languagemodel: %w: tool %q: input schema is not valid JSON", ErrInvalidOptions, t.Name)
		}
	}

	return nil
}

// stream returns the backend's reply as a sequence of parts. Backends that
// only complete whole messages are replayed part by part.
func (c *Client) stream(ctx context.Context, msgs []message.Message, opts modeladapter.Options) iter.Seq2[content.Part, error] {
	if s, ok := c.backend.(modeladapter.Streamer); ok {
		return s.Stream(ctx, msgs, opts)
	}

	return func(yield func(content.Part, error) bool) {
		reply, err := c.backend.Complete(ctx, msgs, opts)
		if err != nil {
			yield(nil, err)
			return
		}

		for _, p := range reply.Parts {
			if !yield(p, nil) {
				return
			}
		}
	}
}

func (c *Client) fail(ctx context.Context, span trace.Span, msg string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()

	c.log.WarnContext(ctx, msg, "model", c.model, "error", err)
}
