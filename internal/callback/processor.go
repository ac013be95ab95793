// Package callback turns raw inbound HTTP callbacks into verified,
// decrypted and deduplicated events.
package callback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/avaropoint/wpsgate/internal/logging"
	"github.com/avaropoint/wpsgate/internal/metrics"
	"github.com/avaropoint/wpsgate/internal/protocol"
	"github.com/avaropoint/wpsgate/internal/replay"
	"github.com/avaropoint/wpsgate/internal/security"
)

// ErrMalformedBody is returned when the request body is not the JSON
// document the selected scheme expects.
var ErrMalformedBody = errors.New("malformed callback body")

// Kind distinguishes handshake requests from real events.
type Kind int

const (
	KindEvent Kind = iota
	KindChallenge
)

// Event is the result of processing one callback.
type Event struct {
	Kind      Kind
	Challenge string // set for KindChallenge
	Scheme    protocol.Scheme
	Topic     string
	Operation string
	Payload   protocol.Payload
	MessageID string // dedup key
	Duplicate bool
}

// Options wires a Processor. Verifier, EventCipher and Guard are required.
type Options struct {
	AppID         string
	Verifier      *security.Verifier
	EventCipher   *security.EventCipher
	MessageCipher *security.MessageCipher // optional; WPS-3 "encrypt" bodies
	Guard         *replay.Guard
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
}

// Processor verifies, decrypts and deduplicates callbacks. It holds no
// per-request state and is safe for concurrent use.
type Processor struct {
	opts Options
	log  *zap.Logger
}

// NewProcessor validates opts and returns a Processor.
func NewProcessor(opts Options) (*Processor, error) {
	if opts.Verifier == nil || opts.EventCipher == nil || opts.Guard == nil {
		return nil, errors.New("callback: verifier, event cipher and guard are required")
	}
	return &Processor{opts: opts, log: logging.OrNop(opts.Logger).Named("callback")}, nil
}

// Process handles one callback. The scheme is chosen by
// protocol.ParseInbound from the request shape.
func (p *Processor) Process(ctx context.Context, header http.Header, body []byte) (*Event, error) {
	if challenge, ok := protocol.Challenge(body); ok {
		p.opts.Metrics.Callback("none", metrics.OutcomeChallenge)
		return &Event{Kind: KindChallenge, Challenge: challenge}, nil
	}

	ev, err := p.verify(header, body)
	if err != nil {
		return nil, p.reject(ev, err)
	}

	dup, err := p.opts.Guard.Check(ctx, ev.MessageID)
	if err != nil {
		p.opts.Metrics.Callback(ev.Scheme.String(), metrics.OutcomeError)
		return nil, fmt.Errorf("replay check: %w", err)
	}
	ev.Duplicate = dup

	if dup {
		p.opts.Metrics.Callback(ev.Scheme.String(), metrics.OutcomeDuplicate)
		p.log.Info("duplicate callback suppressed",
			zap.String("message_id", ev.MessageID), zap.String("topic", ev.Topic))
		return ev, nil
	}
	p.opts.Metrics.Callback(ev.Scheme.String(), metrics.OutcomeAccepted)
	p.log.Debug("callback accepted",
		zap.Stringer("scheme", ev.Scheme),
		zap.String("topic", ev.Topic),
		zap.String("message_id", ev.MessageID),
		zap.Any("payload", ev.Payload))
	return ev, nil
}

// verify selects the scheme by request shape, checks the signature and
// then decodes the scheme's payload.
func (p *Processor) verify(header http.Header, body []byte) (*Event, error) {
	in, err := protocol.ParseInbound(header, body)
	ev := &Event{Scheme: in.Scheme, Topic: in.Envelope.Topic, Operation: in.Envelope.Operation}
	if err != nil {
		return ev, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	if err := p.opts.Verifier.Verify(in); err != nil {
		return ev, err
	}
	if in.Scheme == protocol.SchemeLegacy {
		return p.decodeCallback(ev, in)
	}
	return p.decodeEnvelope(ev, in.Envelope)
}

func (p *Processor) decodeCallback(ev *Event, in protocol.Inbound) (*Event, error) {
	var doc map[string]any
	if err := json.Unmarshal(in.Body, &doc); err != nil || doc == nil {
		return ev, fmt.Errorf("%w: body is not a json object", ErrMalformedBody)
	}
	payload := protocol.Payload(doc)

	if sealed, ok := doc["encrypt"].(string); ok {
		if p.opts.MessageCipher == nil {
			return ev, security.ErrCipherNotConfigured
		}
		var err error
		payload, err = p.opts.MessageCipher.DecryptJSON(sealed, p.opts.AppID)
		if err != nil {
			return ev, err
		}
	}

	ev.Payload = payload
	ev.Topic, _ = payload["topic"].(string)
	if ev.Topic == "" {
		ev.Topic, _ = payload["event"].(string)
	}
	ev.Operation, _ = payload["operation"].(string)
	ev.MessageID = dedupKey(payload, ev.Topic, in.Headers.Nonce)
	return ev, nil
}

func (p *Processor) decodeEnvelope(ev *Event, env protocol.EventEnvelope) (*Event, error) {
	payload, err := p.opts.EventCipher.Decrypt(env.EncryptedData, env.Nonce)
	if err != nil {
		return ev, err
	}
	ev.Payload = payload
	ev.MessageID = dedupKey(payload, env.Topic, env.Nonce)
	return ev, nil
}

// dedupKey prefers the platform message id; events without one fall back
// to topic and nonce, which are unique per delivery attempt group.
func dedupKey(p protocol.Payload, topic, nonce string) string {
	if id := p.MessageID(); id != "" {
		return id
	}
	return topic + ":" + nonce
}

func (p *Processor) reject(ev *Event, err error) error {
	scheme := "unknown"
	topic := ""
	if ev != nil {
		scheme = ev.Scheme.String()
		topic = ev.Topic
	}
	reason := Reason(err)
	p.opts.Metrics.Callback(scheme, metrics.OutcomeRejected)
	p.opts.Metrics.Rejection(reason)

	fields := []zap.Field{
		zap.String("scheme", scheme),
		zap.String("reason", reason),
		zap.String("topic", topic),
		zap.Error(err),
	}
	switch {
	case security.IsCryptoFailure(err):
		p.log.Warn("callback rejected: check app secret", fields...)
	case security.IsProtocolDrift(err):
		p.log.Error("callback rejected: payload format changed upstream", fields...)
	default:
		p.log.Warn("callback rejected", fields...)
	}
	return err
}

// Reason maps a processing error to a short, stable label.
func Reason(err error) string {
	switch {
	case errors.Is(err, security.ErrMissingField):
		return "missing_field"
	case errors.Is(err, security.ErrAppIDMismatch):
		return "app_id_mismatch"
	case errors.Is(err, security.ErrTimestampOutOfWindow):
		return "timestamp_window"
	case errors.Is(err, security.ErrSignatureMismatch):
		return "signature"
	case errors.Is(err, security.ErrBase64Decode), errors.Is(err, security.ErrCiphertextLength):
		return "ciphertext"
	case errors.Is(err, security.ErrPaddingInvalid):
		return "padding"
	case errors.Is(err, security.ErrUTF8Decode):
		return "utf8"
	case errors.Is(err, security.ErrStructuredParse), errors.Is(err, security.ErrMessageFraming):
		return "format"
	case errors.Is(err, security.ErrCipherNotConfigured):
		return "cipher_not_configured"
	case errors.Is(err, ErrMalformedBody):
		return "malformed"
	}
	return "internal"
}

// StatusCode maps a processing error to the HTTP status returned to the
// platform. Authentication failures are 401 so they are distinguishable
// from payloads the gateway could not understand.
func StatusCode(err error) int {
	switch Reason(err) {
	case "missing_field", "app_id_mismatch", "timestamp_window", "signature":
		return http.StatusUnauthorized
	case "ciphertext", "padding", "utf8", "format", "malformed":
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
