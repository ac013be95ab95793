package security

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/avaropoint/wpsgate/internal/protocol"
)

// Replay windows. The two schemes use different units on the wire.
const (
	CallbackWindow = 300_000 // milliseconds, WPS-3 header timestamp
	EventWindow    = 300     // seconds, envelope "time" field
)

// Verifier checks inbound callback signatures for one application.
// It is immutable and safe for concurrent use.
type Verifier struct {
	appID  string
	secret string
	now    func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithClock overrides the time source used for replay-window checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier creates a Verifier for the given application credentials.
func NewVerifier(appID, secret string, opts ...VerifierOption) *Verifier {
	v := &Verifier{appID: appID, secret: secret, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify dispatches to the scheme selected for in.
func (v *Verifier) Verify(in protocol.Inbound) error {
	switch in.Scheme {
	case protocol.SchemeLegacy:
		return v.VerifyCallback(in.Headers, in.Body)
	case protocol.SchemeEnvelope:
		return v.VerifyEvent(in.Envelope)
	default:
		return fmt.Errorf("%w: unknown scheme %d", ErrMissingField, in.Scheme)
	}
}

// VerifyCallback checks a WPS-3 signed callback:
//
//	signature = hex(sha256(secret + timestamp + nonce + body))
//
// body must be the request bytes exactly as received.
func (v *Verifier) VerifyCallback(h protocol.CallbackHeaders, body []byte) error {
	switch {
	case h.Signature == "":
		return fmt.Errorf("%w: %s", ErrMissingField, protocol.HeaderSignature)
	case h.Timestamp == "":
		return fmt.Errorf("%w: %s", ErrMissingField, protocol.HeaderTimestamp)
	case h.Nonce == "":
		return fmt.Errorf("%w: %s", ErrMissingField, protocol.HeaderNonce)
	case h.AppID == "":
		return fmt.Errorf("%w: %s", ErrMissingField, protocol.HeaderAppID)
	}

	if h.AppID != v.appID {
		return fmt.Errorf("%w: got %q", ErrAppIDMismatch, h.AppID)
	}

	ts, err := strconv.ParseInt(h.Timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: unparseable timestamp: %v", ErrTimestampOutOfWindow, err)
	}
	if skew := v.now().UnixMilli() - ts; skew > CallbackWindow || skew < -CallbackWindow {
		return fmt.Errorf("%w: skew %dms", ErrTimestampOutOfWindow, skew)
	}

	expected := SignCallback(v.secret, h.Timestamp, h.Nonce, body)
	if !constantTimeEqual(expected, strings.ToLower(h.Signature)) {
		return ErrSignatureMismatch
	}
	return nil
}

// VerifyEvent checks an encrypted event envelope:
//
//	signature = base64url_nopad(hmac_sha256(secret, appID:topic:nonce:time:encrypted_data))
func (v *Verifier) VerifyEvent(e protocol.EventEnvelope) error {
	if missing := e.MissingFields(); len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ","))
	}

	if skew := v.now().Unix() - e.Time; skew > EventWindow || skew < -EventWindow {
		return fmt.Errorf("%w: skew %ds", ErrTimestampOutOfWindow, skew)
	}

	expected := SignEvent(v.appID, v.secret, e)
	if !constantTimeEqual(expected, e.Signature) {
		return ErrSignatureMismatch
	}
	return nil
}

// SignCallback computes the lowercase hex WPS-3 signature.
func SignCallback(secret, timestamp, nonce string, body []byte) string {
	buf := make([]byte, 0, len(secret)+len(timestamp)+len(nonce)+len(body))
	buf = append(buf, secret...)
	buf = append(buf, timestamp...)
	buf = append(buf, nonce...)
	buf = append(buf, body...)
	return sha256Hex(buf)
}

// SignEvent computes the envelope signature the platform attaches to e.
func SignEvent(appID, secret string, e protocol.EventEnvelope) string {
	mac := hmacSHA256([]byte(secret), []byte(e.SigningContent(appID)))
	return base64.RawURLEncoding.EncodeToString(mac)
}
