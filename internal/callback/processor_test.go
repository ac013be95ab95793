package callback

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/avaropoint/wpsgate/internal/protocol"
	"github.com/avaropoint/wpsgate/internal/replay"
	"github.com/avaropoint/wpsgate/internal/security"
	"github.com/avaropoint/wpsgate/internal/store"
)

const (
	appID  = "app1"
	secret = "s3cr3t"
	nonce  = "abcdef0123456789"
	topic  = "kso.app_chat.message"
	unix   = int64(1700000000)

	plaintext = `{"chat":{"id":"chat-1","type":"p2p"},"message":{"id":"msg-1","type":"text","content":{"text":{"content":"hello"}}},"sender":{"id":"user-1"}}`
)

var messageKey = []byte("0123456789abcdef0123456789abcdef")

type fixture struct {
	proc *Processor
	logs *observer.ObservedLogs
	now  time.Time
}

func newFixture(t *testing.T, withMessageCipher bool) *fixture {
	t.Helper()
	now := time.Unix(unix, 0)
	clock := func() time.Time { return now }

	core, logs := observer.New(zapcore.DebugLevel)
	opts := Options{
		AppID:       appID,
		Verifier:    security.NewVerifier(appID, secret, security.WithClock(clock)),
		EventCipher: security.NewEventCipher(secret),
		Guard:       replay.New(store.NewMemoryStore(), replay.WithClock(clock)),
		Logger:      zap.New(core),
	}
	if withMessageCipher {
		mc, err := security.NewMessageCipher(messageKey)
		require.NoError(t, err)
		opts.MessageCipher = mc
	}
	p, err := NewProcessor(opts)
	require.NoError(t, err)
	return &fixture{proc: p, logs: logs, now: now}
}

func sealedEnvelope(t *testing.T, plain string) []byte {
	t.Helper()
	data, err := security.NewEventCipher(secret).Encrypt([]byte(plain), nonce)
	require.NoError(t, err)
	env := protocol.EventEnvelope{
		Topic:         topic,
		Operation:     "create",
		Time:          unix,
		Nonce:         nonce,
		EncryptedData: data,
	}
	env.Signature = security.SignEvent(appID, secret, env)
	body, err := json.Marshal(env)
	require.NoError(t, err)
	return body
}

// tamper swaps the topic of a sealed envelope without re-signing it.
func tamper(t *testing.T, body []byte) []byte {
	t.Helper()
	var env protocol.EventEnvelope
	require.NoError(t, json.Unmarshal(body, &env))
	env.Topic = "kso.app_chat.other"
	out, err := json.Marshal(env)
	require.NoError(t, err)
	return out
}

func signedHeaders(body []byte) http.Header {
	ts := "1700000000000"
	h := http.Header{}
	h.Set(protocol.HeaderSignature, security.SignCallback(secret, ts, "nonce123", body))
	h.Set(protocol.HeaderTimestamp, ts)
	h.Set(protocol.HeaderNonce, "nonce123")
	h.Set(protocol.HeaderAppID, appID)
	return h
}

func TestProcessEnvelope(t *testing.T) {
	f := newFixture(t, false)
	body := sealedEnvelope(t, plaintext)

	ev, err := f.proc.Process(context.Background(), http.Header{}, body)
	require.NoError(t, err)
	assert.Equal(t, KindEvent, ev.Kind)
	assert.Equal(t, protocol.SchemeEnvelope, ev.Scheme)
	assert.Equal(t, topic, ev.Topic)
	assert.Equal(t, "create", ev.Operation)
	assert.Equal(t, "msg-1", ev.MessageID)
	assert.False(t, ev.Duplicate)
	assert.Equal(t, "hello", protocol.ParseMessage(ev.Payload).Content)

	ev, err = f.proc.Process(context.Background(), http.Header{}, body)
	require.NoError(t, err)
	assert.True(t, ev.Duplicate, "redelivery is acknowledged but flagged")
}

func TestProcessEnvelopeWithoutMessageID(t *testing.T) {
	f := newFixture(t, false)
	ev, err := f.proc.Process(context.Background(), nil, sealedEnvelope(t, `{"user":{"id":"u1"}}`))
	require.NoError(t, err)
	assert.Equal(t, topic+":"+nonce, ev.MessageID)
}

func TestProcessChallenge(t *testing.T) {
	f := newFixture(t, false)
	ev, err := f.proc.Process(context.Background(), http.Header{}, []byte(`{"challenge":"c-123"}`))
	require.NoError(t, err)
	assert.Equal(t, KindChallenge, ev.Kind)
	assert.Equal(t, "c-123", ev.Challenge)
}

func TestProcessSignedCallback(t *testing.T) {
	f := newFixture(t, false)
	body := []byte(`{"event":"kso.user.update","message":{"id":"m-7"}}`)

	ev, err := f.proc.Process(context.Background(), signedHeaders(body), body)
	require.NoError(t, err)
	assert.Equal(t, protocol.SchemeLegacy, ev.Scheme)
	assert.Equal(t, "kso.user.update", ev.Topic)
	assert.Equal(t, "m-7", ev.MessageID)
}

func TestProcessSignedCallbackEncrypted(t *testing.T) {
	f := newFixture(t, true)
	mc, err := security.NewMessageCipher(messageKey)
	require.NoError(t, err)
	sealed, err := mc.Encrypt([]byte(plaintext), appID)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]string{"encrypt": sealed})
	require.NoError(t, err)

	ev, err := f.proc.Process(context.Background(), signedHeaders(body), body)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", ev.MessageID)
	assert.Equal(t, "chat-1", protocol.ParseMessage(ev.Payload).ChatID)
}

func TestProcessSignedCallbackEncryptedWithoutCipher(t *testing.T) {
	f := newFixture(t, false)
	body := []byte(`{"encrypt":"AAAA"}`)

	_, err := f.proc.Process(context.Background(), signedHeaders(body), body)
	assert.ErrorIs(t, err, security.ErrCipherNotConfigured)
	assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
}

func TestProcessRejections(t *testing.T) {
	envelope := sealedEnvelope(t, plaintext)
	callbackBody := []byte(`{"event":"x"}`)

	tests := []struct {
		name       string
		header     http.Header
		body       []byte
		wantErr    error
		wantStatus int
	}{
		{
			name:       "tampered envelope",
			body:       tamper(t, envelope),
			wantErr:    security.ErrSignatureMismatch,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "envelope not json",
			body:       []byte("not json"),
			wantErr:    ErrMalformedBody,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "envelope missing fields",
			body:       []byte(`{"topic":"t"}`),
			wantErr:    security.ErrMissingField,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "callback body altered",
			header:     signedHeaders(callbackBody),
			body:       []byte(`{"event":"y"}`),
			wantErr:    security.ErrSignatureMismatch,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "callback from another app",
			header: func() http.Header {
				h := signedHeaders(callbackBody)
				h.Set(protocol.HeaderAppID, "app2")
				return h
			}(),
			body:       callbackBody,
			wantErr:    security.ErrAppIDMismatch,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "callback body not an object",
			header:     signedHeaders([]byte(`[1]`)),
			body:       []byte(`[1]`),
			wantErr:    ErrMalformedBody,
			wantStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			h := tt.header
			if h == nil {
				h = http.Header{}
			}
			_, err := f.proc.Process(context.Background(), h, tt.body)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantStatus, StatusCode(err))

			for _, entry := range f.logs.All() {
				for _, field := range entry.Context {
					assert.NotContains(t, field.String, secret)
				}
			}
		})
	}
}

func TestProcessResignedCiphertextCorruption(t *testing.T) {
	var env protocol.EventEnvelope
	require.NoError(t, json.Unmarshal(sealedEnvelope(t, plaintext), &env))
	raw, err := base64.StdEncoding.DecodeString(env.EncryptedData)
	require.NoError(t, err)

	for _, pos := range []int{0, len(raw) / 2, len(raw) - 17, len(raw) - 1} {
		corrupt := append([]byte(nil), raw...)
		corrupt[pos] ^= 0x80
		env.EncryptedData = base64.StdEncoding.EncodeToString(corrupt)
		env.Signature = security.SignEvent(appID, secret, env)
		body, err := json.Marshal(env)
		require.NoError(t, err)

		f := newFixture(t, false)
		ev, err := f.proc.Process(context.Background(), http.Header{}, body)
		assert.Nil(t, ev, "byte %d", pos)
		require.Error(t, err, "byte %d", pos)
		assert.True(t,
			errors.Is(err, security.ErrPaddingInvalid) || errors.Is(err, security.ErrUTF8Decode),
			"byte %d: %v", pos, err)
		assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	}
}

func TestProcessWrongSecretLogsHint(t *testing.T) {
	f := newFixture(t, false)
	data, err := security.NewEventCipher("other").Encrypt([]byte(plaintext), nonce)
	require.NoError(t, err)
	env := protocol.EventEnvelope{Topic: topic, Time: unix, Nonce: nonce, EncryptedData: data}
	env.Signature = security.SignEvent(appID, "other", env)
	body, err := json.Marshal(env)
	require.NoError(t, err)

	_, err = f.proc.Process(context.Background(), nil, body)
	require.ErrorIs(t, err, security.ErrSignatureMismatch)

	entries := f.logs.FilterMessage("callback rejected: check app secret").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
}

func TestProcessStoreFailure(t *testing.T) {
	now := time.Unix(unix, 0)
	clock := func() time.Time { return now }
	s := store.NewMemoryStore()
	p, err := NewProcessor(Options{
		AppID:       appID,
		Verifier:    security.NewVerifier(appID, secret, security.WithClock(clock)),
		EventCipher: security.NewEventCipher(secret),
		Guard:       replay.New(closedStore{s}, replay.WithClock(clock)),
	})
	require.NoError(t, err)

	_, err = p.Process(context.Background(), nil, sealedEnvelope(t, plaintext))
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
}

type closedStore struct{ store.ProcessedStore }

func (closedStore) MarkProcessed(context.Context, string, time.Time, time.Duration) (bool, error) {
	return false, errors.New("store closed")
}

func TestNewProcessorRequiresDependencies(t *testing.T) {
	_, err := NewProcessor(Options{})
	assert.Error(t, err)
}

func TestReason(t *testing.T) {
	tests := map[error]string{
		security.ErrMissingField:         "missing_field",
		security.ErrAppIDMismatch:        "app_id_mismatch",
		security.ErrTimestampOutOfWindow: "timestamp_window",
		security.ErrSignatureMismatch:    "signature",
		security.ErrBase64Decode:         "ciphertext",
		security.ErrCiphertextLength:     "ciphertext",
		security.ErrPaddingInvalid:       "padding",
		security.ErrUTF8Decode:           "utf8",
		security.ErrStructuredParse:      "format",
		security.ErrMessageFraming:       "format",
		security.ErrCipherNotConfigured:  "cipher_not_configured",
		ErrMalformedBody:                 "malformed",
		errors.New("other"):              "internal",
	}
	for err, want := range tests {
		assert.Equal(t, want, Reason(err), err.Error())
	}
}
