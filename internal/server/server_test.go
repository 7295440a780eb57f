package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lnprox-router/internal/config"
	"lnprox-router/internal/logging"
	"lnprox-router/internal/paygate"
	"lnprox-router/internal/provider"
	"lnprox-router/internal/provider/factory"
	"lnprox-router/internal/router"
)

type upstream struct {
	completion   *httptest.Server
	wallet       *httptest.Server
	settleStatus int
	settlements  atomic.Int32
	answer       string
}

// newUpstream fakes a completion endpoint that always demands payment until
// it sees a payment hash, and a wallet that answers with settleStatus.
func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{settleStatus: http.StatusCreated, answer: `{"content":[{"text":"4"}]}`}

	u.completion = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("X-Payment-Hash") == "" {
			w.WriteHeader(http.StatusPaymentRequired)
			_, _ = w.Write([]byte(`{"payment":{"charge_id":"c1","payment_request":"lnbc1...","amount_sats":5}}`))
			return
		}
		_, _ = w.Write([]byte(u.answer))
	}))
	t.Cleanup(u.completion.Close)

	u.wallet = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.settlements.Add(1)
		w.WriteHeader(u.settleStatus)
	}))
	t.Cleanup(u.wallet.Close)

	return u
}

func newTestServer(t *testing.T, u *upstream) http.Handler {
	t.Helper()

	cfg := config.Default()
	cfg.Completion.URL = u.completion.URL + "/v1/messages"
	cfg.Completion.Aliases = map[string]string{"sonnet": config.DefaultModel}
	cfg.Settlement.URL = u.wallet.URL
	cfg.Settlement.AdminKey = "admin-key"
	cfg.Payment.PropagationDelay = time.Millisecond

	orch, err := paygate.New(paygate.Settings{
		CompletionURL:    cfg.Completion.URL,
		SettlementURL:    cfg.Settlement.URL,
		AdminKey:         cfg.Settlement.AdminKey,
		Model:            cfg.Completion.Model,
		MaxTokens:        cfg.Completion.MaxTokens,
		PaymentTimeout:   cfg.Payment.Timeout,
		PropagationDelay: cfg.Payment.PropagationDelay,
	}, paygate.WithLogger(logging.Discard()))
	require.NoError(t, err)

	registry := provider.NewRegistry()
	require.NoError(t, factory.RegisterConfiguredProviders(context.Background(), cfg, orch, registry))

	srv, err := New(cfg, router.New(registry))
	require.NoError(t, err)
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func TestChatCompletionsPaidFlow(t *testing.T) {
	u := newUpstream(t)
	h := newTestServer(t, u)

	rec := do(t, h, http.MethodPost, "/v1/chat/completions",
		`{"model":"sonnet","messages":[{"role":"user","content":"2+2?"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Object  string `json:"object"`
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "chat.completion", resp.Object)
	assert.Equal(t, config.DefaultModel, resp.Model)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "4", resp.Choices[0].Message.Content)

	assert.Equal(t, "c1", rec.Header().Get(headerChargeID))
	assert.Equal(t, "5", rec.Header().Get(headerAmountSats))
	assert.EqualValues(t, 1, u.settlements.Load())
}

func TestClaudeMessages(t *testing.T) {
	u := newUpstream(t)
	h := newTestServer(t, u)

	rec := do(t, h, http.MethodPost, "/v1/messages",
		`{"model":"sonnet","max_tokens":32,"messages":[{"role":"user","content":"2+2?"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Type    string `json:"type"`
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "message", resp.Type)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "4", resp.Content[0].Text)
	assert.Equal(t, "end_turn", resp.StopReason)
}

func TestCompletionsEndpoint(t *testing.T) {
	u := newUpstream(t)
	h := newTestServer(t, u)

	rec := do(t, h, http.MethodPost, "/v1/completions", `{"model":"sonnet","prompt":"2+2?"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"text":"4"`)
	assert.Contains(t, rec.Body.String(), `"object":"text_completion"`)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(u *upstream)
		path       string
		body       string
		wantStatus int
		wantType   string
	}{
		{
			name:       "settlement declined",
			setup:      func(u *upstream) { u.settleStatus = http.StatusBadRequest },
			path:       "/v1/chat/completions",
			body:       `{"model":"sonnet","messages":[{"role":"user","content":"2+2?"}]}`,
			wantStatus: http.StatusPaymentRequired,
			wantType:   "payment_error",
		},
		{
			name:       "no content after payment",
			setup:      func(u *upstream) { u.answer = `{"content":[]}` },
			path:       "/v1/chat/completions",
			body:       `{"model":"sonnet","messages":[{"role":"user","content":"2+2?"}]}`,
			wantStatus: http.StatusBadGateway,
			wantType:   "upstream_error",
		},
		{
			name:       "multi turn",
			path:       "/v1/chat/completions",
			body:       `{"model":"sonnet","messages":[{"role":"user","content":"a"},{"role":"assistant","content":"b"}]}`,
			wantStatus: http.StatusBadRequest,
			wantType:   "invalid_request_error",
		},
		{
			name:       "streaming",
			path:       "/v1/messages",
			body:       `{"model":"sonnet","stream":true,"messages":[{"role":"user","content":"a"}]}`,
			wantStatus: http.StatusBadRequest,
			wantType:   "invalid_request_error",
		},
		{
			name:       "unknown model",
			path:       "/v1/completions",
			body:       `{"model":"gpt-4","prompt":"a"}`,
			wantStatus: http.StatusBadRequest,
			wantType:   "invalid_request_error",
		},
		{
			name:       "empty body",
			path:       "/v1/completions",
			body:       ``,
			wantStatus: http.StatusBadRequest,
			wantType:   "invalid_request_error",
		},
		{
			name:       "trailing data",
			path:       "/v1/completions",
			body:       `{"model":"sonnet","prompt":"a"}{}`,
			wantStatus: http.StatusBadRequest,
			wantType:   "invalid_request_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := newUpstream(t)
			if tt.setup != nil {
				tt.setup(u)
			}
			h := newTestServer(t, u)

			rec := do(t, h, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			var body errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantType, body.Error.Type)
		})
	}
}

func TestPaymentErrorCarriesChargeID(t *testing.T) {
	u := newUpstream(t)
	u.settleStatus = http.StatusBadRequest
	h := newTestServer(t, u)

	rec := do(t, h, http.MethodPost, "/v1/completions", `{"model":"sonnet","prompt":"2+2?"}`)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "c1", body.Error.Code)
	assert.Contains(t, body.Error.Message, "payment failed for 5 sats")
}

func TestHealthAndModels(t *testing.T) {
	h := newTestServer(t, newUpstream(t))

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/v1/models", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Data []struct {
			ID      string `json:"id"`
			OwnedBy string `json:"owned_by"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Data, 2)
	assert.Equal(t, config.DefaultModel, list.Data[0].ID)
	assert.Equal(t, "sonnet", list.Data[1].ID)
	assert.Equal(t, "lightningprox", list.Data[0].OwnedBy)
}
