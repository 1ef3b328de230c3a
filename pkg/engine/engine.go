package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/germanamz/lmchat/pkg/languagemodel"
	"github.com/germanamz/lmchat/pkg/modeladapter"
	"github.com/germanamz/lmchat/pkg/modeladapter/usage"
)

// Engine holds one chat client per configured provider.
type Engine struct {
	cfg   Config
	log   *slog.Logger
	names []string
	chats map[string]*languagemodel.Client
	usage map[string]*usage.Tracker
}

// New validates cfg and builds a backend and client for every provider.
// opts are applied to each client after the engine's own logger and model
// settings.
func New(ctx context.Context, cfg Config, log *slog.Logger, opts ...languagemodel.Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	e := &Engine{
		cfg:   cfg,
		log:   log,
		chats: make(map[string]*languagemodel.Client, len(cfg.Providers)),
		usage: make(map[string]*usage.Tracker, len(cfg.Providers)),
	}

	for _, pc := range cfg.Providers {
		c, err := buildCompleter(ctx, pc)
		if err != nil {
			return nil, fmt.Errorf("engine: provider %q: %w", pc.Name, err)
		}

		if ur, ok := c.(modeladapter.UsageReporter); ok {
			e.usage[pc.Name] = ur.UsageTracker()
		}

		clientOpts := append([]languagemodel.Option{
			languagemodel.WithLogger(log.With("provider", pc.Name)),
		}, opts...)

		chat := languagemodel.New(c, clientOpts...)
		e.chats[pc.Name] = chat
		e.names = append(e.names, pc.Name)

		log.DebugContext(ctx, "provider ready", "provider", pc.Name, "kind", pc.Kind, "model", chat.Model())
	}

	return e, nil
}

// Chat returns the client for the named provider. An empty name selects the
// configured default, or the first provider.
func (e *Engine) Chat(name string) (*languagemodel.Client, error) {
	if name == "" {
		name = e.DefaultName()
	}

	c, ok := e.chats[name]
	if !ok {
		return nil, fmt.Errorf("engine: provider %q not found", name)
	}

	return c, nil
}

// DefaultName returns the provider used when no name is given.
func (e *Engine) DefaultName() string {
	if e.cfg.Default != "" {
		return e.cfg.Default
	}
	return e.names[0]
}

// Names returns the provider names in configuration order.
func (e *Engine) Names() []string {
	return slices.Clone(e.names)
}

// Usage returns the accumulated token usage of the named provider. The bool
// is false for backends that do not track usage.
func (e *Engine) Usage(name string) (usage.TokenCount, bool) {
	t, ok := e.usage[name]
	if !ok {
		return usage.TokenCount{}, false
	}
	return t.Total(), true
}
