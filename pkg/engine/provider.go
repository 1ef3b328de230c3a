package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/germanamz/lmchat/pkg/modeladapter"
	"github.com/germanamz/lmchat/pkg/providers/anthropic"
	"github.com/germanamz/lmchat/pkg/providers/gemini"
	"github.com/germanamz/lmchat/pkg/providers/hostbridge"
	"github.com/germanamz/lmchat/pkg/providers/openai"
)

// ProviderFactory creates a backend from a ProviderConfig.
type ProviderFactory func(ctx context.Context, cfg ProviderConfig) (modeladapter.Completer, error)

var (
	factoryMu   sync.RWMutex
	factories   = map[string]ProviderFactory{}
	defaultsReg sync.Once
)

func ensureDefaults() {
	defaultsReg.Do(func() {
		factories["anthropic"] = newAnthropic
		factories["openai"] = newOpenAI
		factories["grok"] = newGrok
		factories["gemini"] = newGemini
		factories["hostbridge"] = newHostBridge
	})
}

// RegisterProvider registers a custom provider factory under the given kind.
// It can be called before New to extend the engine with additional backends.
func RegisterProvider(kind string, factory ProviderFactory) {
	ensureDefaults()

	factoryMu.Lock()
	defer factoryMu.Unlock()

	factories[kind] = factory
}

// getFactory returns the factory for the given kind.
func getFactory(kind string) (ProviderFactory, bool) {
	ensureDefaults()

	factoryMu.RLock()
	defer factoryMu.RUnlock()

	f, ok := factories[kind]
	return f, ok
}

// configure copies the settings every adapter shares.
func configure(m *modeladapter.ModelAdapter, cfg ProviderConfig) {
	if cfg.Temperature != 0 {
		m.Temperature = cfg.Temperature
	}
	if cfg.MaxTokens > 0 {
		m.MaxTokens = cfg.MaxTokens
	}
	if len(cfg.Headers) > 0 {
		m.Headers = cfg.Headers
	}
	if cfg.ExtraKinds != nil {
		m.ExtraKinds = cfg.ExtraKinds
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func newAnthropic(_ context.Context, cfg ProviderConfig) (modeladapter.Completer, error) {
	a := anthropic.New(orDefault(cfg.BaseURL, "https://api.anthropic.com"), cfg.APIKey, cfg.Model)
	configure(&a.ModelAdapter, cfg)

	return a, nil
}

func newOpenAI(_ context.Context, cfg ProviderConfig) (modeladapter.Completer, error) {
	a := openai.New(orDefault(cfg.BaseURL, openai.DefaultBaseURL), cfg.APIKey, cfg.Model)
	configure(&a.ModelAdapter, cfg)

	return a, nil
}

// newGrok serves xAI through its OpenAI compatible endpoint.
func newGrok(_ context.Context, cfg ProviderConfig) (modeladapter.Completer, error) {
	a := openai.New(orDefault(cfg.BaseURL, openai.XAIBaseURL), cfg.APIKey, orDefault(cfg.Model, "grok-3"))
	configure(&a.ModelAdapter, cfg)

	return a, nil
}

func newGemini(ctx context.Context, cfg ProviderConfig) (modeladapter.Completer, error) {
	a, err := gemini.New(ctx, cfg.BaseURL, cfg.APIKey, cfg.Model, nil)
	if err != nil {
		return nil, err
	}
	configure(&a.ModelAdapter, cfg)

	return a, nil
}

func newHostBridge(_ context.Context, cfg ProviderConfig) (modeladapter.Completer, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base_url is required for hostbridge")
	}

	a := hostbridge.New(cfg.BaseURL, cfg.APIKey, cfg.Model)
	configure(&a.ModelAdapter, cfg)

	return a, nil
}

// buildCompleter creates a backend from a ProviderConfig using the registered
// factory for its Kind.
func buildCompleter(ctx context.Context, cfg ProviderConfig) (modeladapter.Completer, error) {
	factory, ok := getFactory(cfg.Kind)
	if !ok {
		return nil, fmt.Errorf("engine: unknown provider kind %q", cfg.Kind)
	}

	return factory(ctx, cfg)
}
