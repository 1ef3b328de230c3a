package modeladapter_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/germanamz/lmchat/pkg/chats/message"
	"github.com/germanamz/lmchat/pkg/modeladapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface checks: ModelAdapter itself satisfies the backend contract.
var (
	_ modeladapter.Completer          = (*modeladapter.ModelAdapter)(nil)
	_ modeladapter.TokenCounter       = (*modeladapter.ModelAdapter)(nil)
	_ modeladapter.ExtraKindSupporter = (*modeladapter.ModelAdapter)(nil)
	_ modeladapter.UsageReporter      = (*modeladapter.ModelAdapter)(nil)
)

func TestModelAdapter_StubComplete(t *testing.T) {
	var a modeladapter.ModelAdapter

	_, err := a.Complete(context.Background(), nil, modeladapter.Options{})
	assert.EqualError(t, err, "adapter: Complete not implemented")
}

func TestModelAdapter_CountTokens(t *testing.T) {
	var a modeladapter.ModelAdapter

	n, err := a.CountTokens(context.Background(), []message.Message{message.UserText("abcd")})
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = a.CountTokens(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestModelAdapter_ExtraKinds(t *testing.T) {
	a := modeladapter.ModelAdapter{Name: "m", ExtraKinds: []string{"thinking"}}

	assert.True(t, a.SupportsExtraKind("thinking"))
	assert.False(t, a.SupportsExtraKind("cache_control"))
	assert.NoError(t, a.CheckExtraKind("thinking"))
	assert.ErrorIs(t, a.CheckExtraKind("cache_control"), modeladapter.ErrUnrecognizedExtraKind)
}

func TestModelAdapter_ResolveOptions(t *testing.T) {
	a := modeladapter.ModelAdapter{MaxTokens: 1024}

	_, ok := a.ResolveTemperature(modeladapter.Options{})
	assert.False(t, ok)
	assert.Equal(t, 1024, a.ResolveMaxTokens(modeladapter.Options{}))

	opts := modeladapter.Options{ModelOptions: map[string]any{
		"temperature": 0.2,
		"max_tokens":  json.Number("256"),
	}}

	temp, ok := a.ResolveTemperature(opts)
	assert.True(t, ok)
	assert.InDelta(t, 0.2, temp, 1e-9)
	assert.Equal(t, 256, a.ResolveMaxTokens(opts))

	a.Temperature = 0.7
	temp, ok = a.ResolveTemperature(modeladapter.Options{})
	assert.True(t, ok)
	assert.InDelta(t, 0.7, temp, 1e-9)
}

func TestOptions_Number(t *testing.T) {
	opts := modeladapter.Options{ModelOptions: map[string]any{
		"int":    3,
		"string": "1.5",
		"bad":    "x",
		"bool":   true,
	}}

	n, ok := opts.Number("int")
	assert.True(t, ok)
	assert.InDelta(t, 3.0, n, 1e-9)

	n, ok = opts.Number("string")
	assert.True(t, ok)
	assert.InDelta(t, 1.5, n, 1e-9)

	for _, key := range []string{"bad", "bool", "missing"} {
		_, ok = opts.Number(key)
		assert.False(t, ok, key)
	}
}

func TestOptions_EffectiveToolMode(t *testing.T) {
	assert.Equal(t, modeladapter.ToolModeAuto, modeladapter.Options{}.EffectiveToolMode())
	assert.Equal(t, modeladapter.ToolModeRequired, modeladapter.Options{ToolMode: modeladapter.ToolModeRequired}.EffectiveToolMode())
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), modeladapter.ParseRetryAfter(""))
	assert.Equal(t, 5*time.Second, modeladapter.ParseRetryAfter("5"))
	assert.Equal(t, time.Duration(0), modeladapter.ParseRetryAfter("soon"))
	assert.Equal(t, time.Duration(0), modeladapter.ParseRetryAfter("Mon, 02 Jan 2006 15:04:05 GMT"))

	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	assert.Greater(t, modeladapter.ParseRetryAfter(future), 50*time.Minute)
}

func TestNewRequest_BearerAuth(t *testing.T) {
	a := modeladapter.New("https://api.example.com", modeladapter.Auth{Key: "sk-test"}, nil)

	req, err := a.NewRequest(context.Background(), http.MethodGet, "/v1/chat", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1/chat", req.URL.String())
	assert.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))
}

func TestNewRequest_CustomHeader(t *testing.T) {
	auth := modeladapter.Auth{Key: "sk-test", Header: "x-api-key"}
	a := modeladapter.New("https://api.example.com", auth, nil)

	req, err := a.NewRequest(context.Background(), http.MethodGet, "/v1/chat", nil)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", req.Header.Get("x-api-key"))
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestNewRequest_CustomHeaderWithScheme(t *testing.T) {
	auth := modeladapter.Auth{Key: "sk-test", Header: "x-api-key", Scheme: "Token"}
	a := modeladapter.New("https://api.example.com", auth, nil)

	req, err := a.NewRequest(context.Background(), http.MethodGet, "/v1/chat", nil)
	require.NoError(t, err)
	assert.Equal(t, "Token sk-test", req.Header.Get("x-api-key"))
}

func TestNewRequest_NoAuthExtraHeaders(t *testing.T) {
	a := modeladapter.New("https://api.example.com", modeladapter.Auth{}, nil)
	a.Headers = map[string]string{"x-custom": "value"}

	req, err := a.NewRequest(context.Background(), http.MethodGet, "/v1/chat", nil)
	require.NoError(t, err)
	assert.Empty(t, req.Header.Get("Authorization"))
	assert.Equal(t, "value", req.Header.Get("x-custom"))
}

func TestPostJSON_Success(t *testing.T) {
	type reqBody struct {
		Model string `json:"model"`
	}
	type respBody struct {
		Tokens int `json:"tokens"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var got reqBody
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "gpt-4o", got.Model)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(respBody{Tokens: 42})
	}))
	defer srv.Close()

	a := modeladapter.New(srv.URL, modeladapter.Auth{Key: "sk-test"}, srv.Client())

	var dest respBody
	err := a.PostJSON(context.Background(), "/count", reqBody{Model: "gpt-4o"}, &dest)
	require.NoError(t, err)
	assert.Equal(t, 42, dest.Tokens)
}

func TestPostJSON_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer srv.Close()

	a := modeladapter.New(srv.URL, modeladapter.Auth{}, srv.Client())

	err := a.PostJSON(context.Background(), "/count", map[string]string{}, nil)
	assert.ErrorContains(t, err, "unexpected status 401")
}

func TestPostJSON_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	a := modeladapter.New(srv.URL, modeladapter.Auth{}, srv.Client())

	err := a.PostJSON(context.Background(), "/count", map[string]string{}, nil)

	var rle *modeladapter.RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, 7*time.Second, rle.RetryAfter)
	assert.Equal(t, "slow down", rle.Body)
	assert.Equal(t, "rate limited (retry after 7s): slow down", rle.Error())
}

func TestPostJSON_MarshalError(t *testing.T) {
	a := modeladapter.New("https://api.example.com", modeladapter.Auth{}, nil)

	err := a.PostJSON(context.Background(), "/count", make(chan int), nil)
	assert.ErrorContains(t, err, "marshal payload")
}

func TestDo_Passthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	a := modeladapter.New(srv.URL, modeladapter.Auth{}, srv.Client())

	req, err := a.NewRequest(context.Background(), http.MethodGet, "/ping", nil)
	require.NoError(t, err)

	resp, err := a.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", string(body))
}

func TestDialWS_AppliesHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ws", r.URL.Path)
		assert.Equal(t, "Bearer sk-ws", r.Header.Get("Authorization"))
		assert.Equal(t, "v1", r.Header.Get("x-host-protocol"))

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()

	a := modeladapter.New(srv.URL, modeladapter.Auth{Key: "sk-ws"}, nil)
	a.Headers = map[string]string{"x-host-protocol": "v1"}

	conn, _, err := a.DialWS(context.Background(), "/ws")
	require.NoError(t, err)
	_ = conn.CloseNow()
}

func TestDialWS_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := modeladapter.New(srv.URL, modeladapter.Auth{}, nil)

	_, _, err := a.DialWS(context.Background(), "/ws")
	assert.ErrorContains(t, err, "dial websocket")
}
