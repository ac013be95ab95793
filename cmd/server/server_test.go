package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/avaropoint/wpsgate/internal/callback"
	"github.com/avaropoint/wpsgate/internal/metrics"
	"github.com/avaropoint/wpsgate/internal/protocol"
	"github.com/avaropoint/wpsgate/internal/replay"
	"github.com/avaropoint/wpsgate/internal/security"
	"github.com/avaropoint/wpsgate/internal/store"
)

const (
	appID  = "app1"
	secret = "s3cr3t"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []*callback.Event
}

func (h *recordingHandler) HandleEvent(_ context.Context, ev *callback.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func newTestServer(t *testing.T, limiter *ipRateLimiter) (*Server, *recordingHandler) {
	t.Helper()
	reg := prometheus.NewRegistry()
	p, err := callback.NewProcessor(callback.Options{
		AppID:       appID,
		Verifier:    security.NewVerifier(appID, secret),
		EventCipher: security.NewEventCipher(secret),
		Guard:       replay.New(store.NewMemoryStore()),
		Metrics:     metrics.New(reg),
	})
	require.NoError(t, err)
	h := &recordingHandler{}
	return NewServer(p, h, limiter, reg, zap.NewNop()), h
}

func envelopeBody(t *testing.T, msgID string) []byte {
	t.Helper()
	nonce := "0123456789abcdef"
	plain := `{"chat":{"id":"c1","type":"p2p"},"message":{"id":"` + msgID + `","type":"text","content":{"text":{"content":"hi"}}},"sender":{"id":"u1"}}`
	data, err := security.NewEventCipher(secret).Encrypt([]byte(plain), nonce)
	require.NoError(t, err)
	env := protocol.EventEnvelope{
		Topic:         protocol.TopicChatMessage,
		Operation:     "create",
		Time:          time.Now().Unix(),
		Nonce:         nonce,
		EncryptedData: data,
	}
	env.Signature = security.SignEvent(appID, secret, env)
	body, err := json.Marshal(env)
	require.NoError(t, err)
	return body
}

func post(t *testing.T, h http.Handler, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCallbackAcceptsAndDedups(t *testing.T) {
	srv, h := newTestServer(t, nil)
	routes := srv.Routes()
	body := envelopeBody(t, "msg-1")

	rec := post(t, routes, "/event/callback", body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"code":0,"msg":"success"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = post(t, routes, "/webhook", body)
	assert.Equal(t, http.StatusOK, rec.Code, "duplicates are still acknowledged")

	srv.Wait()
	assert.Equal(t, 1, h.count())
}

func TestCallbackChallenge(t *testing.T) {
	srv, h := newTestServer(t, nil)
	rec := post(t, srv.Routes(), "/event/callback", []byte(`{"challenge":"abc"}`))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"challenge":"abc"}`, rec.Body.String())
	srv.Wait()
	assert.Zero(t, h.count())
}

func TestCallbackRejections(t *testing.T) {
	srv, h := newTestServer(t, nil)
	routes := srv.Routes()

	var env protocol.EventEnvelope
	require.NoError(t, json.Unmarshal(envelopeBody(t, "msg-1"), &env))
	env.Signature = "forged"
	forged, err := json.Marshal(env)
	require.NoError(t, err)

	rec := post(t, routes, "/event/callback", forged)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"code":401,"msg":"Unauthorized"}`, rec.Body.String())

	rec = post(t, routes, "/event/callback", []byte("not json"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, routes, "/event/callback", bytes.Repeat([]byte("x"), maxCallbackBody+1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	srv.Wait()
	assert.Zero(t, h.count())
}

func TestCallbackMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/event/callback", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthStatusAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	routes := srv.Routes()

	for path, want := range map[string]string{
		"/health":  `"healthy"`,
		"/":        `"wpsgate"`,
		"/metrics": "wpsgate_",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		routes.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Body.String(), want, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestIDPropagates(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-Id"))
}

func TestCallbackRateLimited(t *testing.T) {
	srv, _ := newTestServer(t, newIPRateLimiter(1, 2))
	routes := srv.Routes()

	codes := make([]int, 0, 3)
	for range 3 {
		codes = append(codes, post(t, routes, "/event/callback", []byte(`{"challenge":"x"}`)).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
