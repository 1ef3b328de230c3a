package modeladapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/germanamz/lmchat/pkg/chats/content"
	"github.com/germanamz/lmchat/pkg/chats/message"
	"github.com/germanamz/lmchat/pkg/modeladapter/usage"
)

// ErrUnrecognizedExtraKind is returned when a backend does not understand
// the kind of an extra data part.
var ErrUnrecognizedExtraKind = errors.New("unrecognized extra data kind")

// RateLimitError is returned when the API responds with HTTP 429 (Too Many Requests).
// It carries an optional RetryAfter duration parsed from the Retry-After header.
type RateLimitError struct {
	RetryAfter time.Duration
	Body       string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %s", e.RetryAfter, e.Body)
	}
	return fmt.Sprintf("rate limited: %s", e.Body)
}

// ParseRetryAfter parses the Retry-After header value as either seconds (integer)
// or an HTTP-date (RFC 7231). Returns zero if unparseable or if the date is in the past.
func ParseRetryAfter(val string) time.Duration {
	if val == "" {
		return 0
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(val); err == nil {
		return max(time.Until(t), 0)
	}
	return 0
}

// Completer sends a conversation to a model and returns the assistant's reply.
type Completer interface {
	Complete(ctx context.Context, msgs []message.Message, opts Options) (message.Message, error)
}

// Streamer is implemented by backends that can yield reply parts as they are
// produced. The sequence must stop promptly once ctx is done.
type Streamer interface {
	Stream(ctx context.Context, msgs []message.Message, opts Options) iter.Seq2[content.Part, error]
}

// TokenCounter is implemented by backends that can count the input tokens of
// a conversation.
type TokenCounter interface {
	CountTokens(ctx context.Context, msgs []message.Message) (int, error)
}

// TextTokenCounter is implemented by backends that can count the tokens of
// bare text with no message framing.
type TextTokenCounter interface {
	CountTextTokens(ctx context.Context, text string) (int, error)
}

// ExtraKindSupporter is implemented by backends that know up front which
// extra data kinds they accept.
type ExtraKindSupporter interface {
	SupportsExtraKind(kind string) bool
}

// UsageReporter provides token usage information from a completer.
// Completers that embed ModelAdapter implement this interface automatically.
type UsageReporter interface {
	UsageTracker() *usage.Tracker
	ModelMaxTokens() int
}

// Auth holds authentication settings for a model API.
type Auth struct {
	Key    string // API key value.
	Header string // Header name (default: "Authorization").
	Scheme string // Scheme prefix (default: "Bearer" when Header is "Authorization").
}

// header returns the header name and value carrying the key, or empty
// strings when no key is configured.
func (au Auth) header() (string, string) {
	if au.Key == "" {
		return "", ""
	}

	name := au.Header
	if name == "" {
		name = "Authorization"
	}

	scheme := au.Scheme
	if scheme == "" && name == "Authorization" {
		scheme = "Bearer"
	}

	if scheme == "" {
		return name, au.Key
	}
	return name, scheme + " " + au.Key
}

// ModelAdapter holds shared state for backend implementations. Embed it in
// concrete adapter structs to get HTTP helpers, auth, custom headers, usage
// tracking and a heuristic token counter. Concrete types should define their
// own Complete method to shadow the default stub.
type ModelAdapter struct {
	Name        string            // Model identifier (e.g. "gpt-4o").
	Temperature float64           // Default sampling temperature; zero means backend default.
	MaxTokens   int               // Default maximum tokens in the response.
	Auth        Auth              // Authentication settings.
	BaseURL     string            // API base URL (no trailing slash).
	Client      *http.Client      // HTTP client; falls back to a default client.
	Headers     map[string]string // Extra headers applied to every request.
	Usage       usage.Tracker     // Token usage tracker.
	ExtraKinds  []string          // Extra data kinds the backend understands.

	clientOnce    sync.Once
	defaultClient *http.Client
}

// New creates a ModelAdapter with the given settings.
// A nil client falls back to a default client at call time.
func New(baseURL string, auth Auth, client *http.Client) ModelAdapter {
	return ModelAdapter{
		Auth:    auth,
		BaseURL: baseURL,
		Client:  client,
	}
}

// UsageTracker returns the adapter's token usage tracker.
func (a *ModelAdapter) UsageTracker() *usage.Tracker { return &a.Usage }

// ModelMaxTokens returns the maximum tokens the model will generate per response.
func (a *ModelAdapter) ModelMaxTokens() int { return a.MaxTokens }

// Complete is a stub that returns an error. Concrete adapters that embed
// ModelAdapter should define their own Complete method to shadow this one.
func (a *ModelAdapter) Complete(_ context.Context, _ []message.Message, _ Options) (message.Message, error) {
	return message.Message{}, errors.New("adapter: Complete not implemented")
}

// CountTokens estimates the input tokens of msgs with a [TokenEstimator].
// Adapters whose API exposes a counting endpoint shadow it.
func (a *ModelAdapter) CountTokens(ctx context.Context, msgs []message.Message) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var e TokenEstimator
	return e.EstimateMessages(msgs), nil
}

// CountTextTokens estimates the tokens of text with a [TokenEstimator].
func (a *ModelAdapter) CountTextTokens(ctx context.Context, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var e TokenEstimator
	return e.EstimateText(text), nil
}

// ModelName returns the model identifier.
func (a *ModelAdapter) ModelName() string { return a.Name }

// SupportsExtraKind reports whether kind is listed in ExtraKinds.
func (a *ModelAdapter) SupportsExtraKind(kind string) bool {
	return slices.Contains(a.ExtraKinds, kind)
}

// CheckExtraKind returns ErrUnrecognizedExtraKind unless kind is supported.
func (a *ModelAdapter) CheckExtraKind(kind string) error {
	if a.SupportsExtraKind(kind) {
		return nil
	}
	return fmt.Errorf("%w %q for model %q", ErrUnrecognizedExtraKind, kind, a.Name)
}

// ResolveTemperature returns the temperature for a request: the
// "temperature" model option when present, else the adapter default. The
// bool is false when neither is set.
func (a *ModelAdapter) ResolveTemperature(opts Options) (float64, bool) {
	if t, ok := opts.Number("temperature"); ok {
		return t, true
	}
	return a.Temperature, a.Temperature != 0
}

// ResolveMaxTokens returns the "max_tokens" model option when present, else
// the adapter default.
func (a *ModelAdapter) ResolveMaxTokens(opts Options) int {
	if n, ok := opts.Number("max_tokens"); ok && n > 0 {
		return int(n)
	}
	return a.MaxTokens
}

// HTTPClient returns the configured client or a cached default client with a 10-minute timeout.
func (a *ModelAdapter) HTTPClient() *http.Client {
	if a.Client != nil {
		return a.Client
	}

	a.clientOnce.Do(func() {
		a.defaultClient = &http.Client{Timeout: 10 * time.Minute}
	})

	return a.defaultClient
}

// applyHeaders sets auth and custom headers on h.
func (a *ModelAdapter) applyHeaders(h http.Header) {
	if name, value := a.Auth.header(); name != "" {
		h.Set(name, value)
	}

	for k, v := range a.Headers {
		h.Set(k, v)
	}
}

// NewRequest builds an *http.Request with the base URL, auth, and custom
// headers already applied.
func (a *ModelAdapter) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, body)
	if err != nil {
		return nil, err
	}

	a.applyHeaders(req.Header)

	return req, nil
}

// Do sends the request using the configured HTTP client.
func (a *ModelAdapter) Do(req *http.Request) (*http.Response, error) {
	return a.HTTPClient().Do(req) //nolint:gosec // URL is built from trusted BaseURL config, not user input.
}

// PostJSON marshals payload as JSON, sends a POST to the given path,
// checks for a 2xx status, and unmarshals the response body into dest.
// If dest is nil the response body is discarded after the status check.
func (a *ModelAdapter) PostJSON(ctx context.Context, path string, payload any, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := a.NewRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := a.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		respBody, _ := io.ReadAll(resp.Body)
		return &RateLimitError{
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
			Body:       string(respBody),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	if dest == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// wsURL converts the BaseURL to a WebSocket URL and appends the path.
// https becomes wss, http becomes ws. URLs that already use ws/wss are
// left unchanged.
func (a *ModelAdapter) wsURL(path string) string {
	u := a.BaseURL + path

	if rest, ok := strings.CutPrefix(u, "https://"); ok {
		return "wss://" + rest
	}

	if rest, ok := strings.CutPrefix(u, "http://"); ok {
		return "ws://" + rest
	}

	return u
}

// DialWS establishes a WebSocket connection to the given path with auth and
// custom headers applied. It returns the WebSocket connection and the HTTP
// response from the handshake.
func (a *ModelAdapter) DialWS(ctx context.Context, path string) (*websocket.Conn, *http.Response, error) {
	h := make(http.Header)
	a.applyHeaders(h)

	conn, resp, err := websocket.Dial(ctx, a.wsURL(path), &websocket.DialOptions{
		HTTPClient: a.HTTPClient(),
		HTTPHeader: h,
	})
	if err != nil {
		return nil, resp, fmt.Errorf("dial websocket: %w", err)
	}

	return conn, resp, nil
}
