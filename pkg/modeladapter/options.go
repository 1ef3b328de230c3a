package modeladapter

import (
	"encoding/json"
	"strconv"
)

// ToolMode controls whether the model must call a tool.
type ToolMode string

const (
	ToolModeAuto     ToolMode = "auto"
	ToolModeRequired ToolMode = "required"
)

// Tool declares a tool the model may call. InputSchema is a JSON Schema
// object; nil means an object with no declared properties.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Options holds per-request settings.
type Options struct {
	// Justification is a human readable reason for the request, shown to the
	// user by hosts that ask for consent.
	Justification string
	// ModelOptions carries backend-specific knobs. "temperature" and
	// "max_tokens" are understood by every adapter in this module.
	ModelOptions map[string]any
	Tools        []Tool
	ToolMode     ToolMode
}

// Number returns the numeric model option stored under key.
func (o Options) Number(key string) (float64, bool) {
	v, ok := o.ModelOptions[key]
	if !ok {
		return 0, false
	}

	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}

	return 0, false
}

// EffectiveToolMode returns the tool mode, defaulting to auto.
func (o Options) EffectiveToolMode() ToolMode {
	if o.ToolMode == "" {
		return ToolModeAuto
	}
	return o.ToolMode
}
