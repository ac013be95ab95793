// Package protocol defines the wire types exchanged with the WPS open
// platform: callback headers, event envelopes and decrypted event payloads.
package protocol

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// Inbound callback header names (WPS-3 scheme).
const (
	HeaderSignature = "X-Kso-Signature"
	HeaderTimestamp = "X-Kso-Timestamp"
	HeaderNonce     = "X-Kso-Nonce"
	HeaderAppID     = "X-Kso-AppId"
)

// Outbound request header names (KSO-1 scheme).
const (
	HeaderDate          = "X-Kso-Date"
	HeaderAuthorization = "X-Kso-Authorization"
	HeaderContentType   = "Content-Type"
)

// Scheme identifies which inbound verification scheme applies to a request.
type Scheme int

const (
	// SchemeLegacy is the header-based WPS-3 callback signature.
	SchemeLegacy Scheme = iota + 1
	// SchemeEnvelope is the HMAC-signed encrypted event envelope.
	SchemeEnvelope
)

func (s Scheme) String() string {
	switch s {
	case SchemeLegacy:
		return "wps3"
	case SchemeEnvelope:
		return "envelope"
	default:
		return "unknown"
	}
}

// CallbackHeaders carries the WPS-3 signature inputs taken from HTTP headers.
type CallbackHeaders struct {
	Signature string
	Timestamp string // milliseconds since epoch, decimal
	Nonce     string
	AppID     string
}

// CallbackHeadersFrom extracts the WPS-3 headers from h.
func CallbackHeadersFrom(h http.Header) CallbackHeaders {
	return CallbackHeaders{
		Signature: strings.TrimSpace(h.Get(HeaderSignature)),
		Timestamp: strings.TrimSpace(h.Get(HeaderTimestamp)),
		Nonce:     h.Get(HeaderNonce),
		AppID:     strings.TrimSpace(h.Get(HeaderAppID)),
	}
}

// EventEnvelope is the outer JSON structure of an encrypted event push.
type EventEnvelope struct {
	Topic         string `json:"topic"`
	Operation     string `json:"operation"`
	Time          int64  `json:"time"` // seconds since epoch
	Nonce         string `json:"nonce"`
	Signature     string `json:"signature"`
	EncryptedData string `json:"encrypted_data"`
}

// SigningContent is the string the platform signs for an envelope:
// appID:topic:nonce:time:encrypted_data.
func (e EventEnvelope) SigningContent(appID string) string {
	return appID + ":" + e.Topic + ":" + e.Nonce + ":" +
		strconv.FormatInt(e.Time, 10) + ":" + e.EncryptedData
}

// MissingFields lists the required envelope fields that are absent.
// Operation is informational and not part of the signature.
func (e EventEnvelope) MissingFields() []string {
	var missing []string
	if e.Topic == "" {
		missing = append(missing, "topic")
	}
	if e.Time == 0 {
		missing = append(missing, "time")
	}
	if e.Nonce == "" {
		missing = append(missing, "nonce")
	}
	if e.Signature == "" {
		missing = append(missing, "signature")
	}
	if e.EncryptedData == "" {
		missing = append(missing, "encrypted_data")
	}
	return missing
}

// ParseEnvelope decodes an envelope from a request body.
func ParseEnvelope(body []byte) (EventEnvelope, error) {
	var e EventEnvelope
	if err := json.Unmarshal(body, &e); err != nil {
		return EventEnvelope{}, err
	}
	return e, nil
}

// Inbound is one callback request reduced to the inputs of a single
// verification scheme. Exactly one of Headers or Envelope is meaningful,
// selected by Scheme.
type Inbound struct {
	Scheme   Scheme
	Headers  CallbackHeaders
	Body     []byte
	Envelope EventEnvelope
}

// ParseInbound selects the verification scheme from the request shape.
// A WPS-3 signature header means the raw body is signed as-is; otherwise
// the body must decode as an event envelope.
func ParseInbound(h http.Header, body []byte) (Inbound, error) {
	if h.Get(HeaderSignature) != "" {
		return Inbound{Scheme: SchemeLegacy, Headers: CallbackHeadersFrom(h), Body: body}, nil
	}
	env, err := ParseEnvelope(body)
	if err != nil {
		return Inbound{Scheme: SchemeEnvelope}, err
	}
	return Inbound{Scheme: SchemeEnvelope, Envelope: env}, nil
}

// Challenge returns the subscription handshake token when body is a JSON
// object whose only key is "challenge".
func Challenge(body []byte) (string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil || len(obj) != 1 {
		return "", false
	}
	raw, ok := obj["challenge"]
	if !ok {
		return "", false
	}
	var challenge string
	if err := json.Unmarshal(raw, &challenge); err != nil {
		return "", false
	}
	return challenge, true
}
