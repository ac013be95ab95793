package security

import (
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avaropoint/wpsgate/internal/protocol"
)

// SigningScheme selects the KSO-1 header generation for an endpoint.
type SigningScheme int

const (
	// SchemeKSO1 is the current format: hex HMAC-SHA-256 over the
	// concatenated request fields, "KSO-1 <appID>:<sig>".
	SchemeKSO1 SigningScheme = iota
	// SchemeKSO1Legacy is the older newline-separated HMAC-SHA-1 format,
	// "KSO-1:<appID>:<sig>".
	SchemeKSO1Legacy
)

func (s SigningScheme) String() string {
	if s == SchemeKSO1Legacy {
		return "kso1-legacy"
	}
	return "kso1"
}

// ParseSigningScheme maps a configuration value to a scheme.
func ParseSigningScheme(s string) (SigningScheme, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "kso1", "kso-1":
		return SchemeKSO1, true
	case "kso1-legacy", "legacy":
		return SchemeKSO1Legacy, true
	}
	return SchemeKSO1, false
}

// SignRequest is the subset of an outbound request covered by KSO-1.
type SignRequest struct {
	Method      string
	URI         string // path, optionally with a query string
	Query       url.Values
	ContentType string
	Body        []byte
}

// resource returns the URI with any Query values appended in sorted order.
func (r SignRequest) resource() string {
	if len(r.Query) == 0 {
		return r.URI
	}
	sep := "?"
	if strings.Contains(r.URI, "?") {
		sep = "&"
	}
	return r.URI + sep + r.Query.Encode()
}

// Signer produces KSO-1 authentication headers. Safe for concurrent use.
type Signer struct {
	appID  string
	secret string
	now    func() time.Time
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithSignerClock overrides the time source for the X-Kso-Date header.
func WithSignerClock(now func() time.Time) SignerOption {
	return func(s *Signer) { s.now = now }
}

// NewSigner creates a Signer for the given application credentials.
func NewSigner(appID, secret string, opts ...SignerOption) *Signer {
	s := &Signer{appID: appID, secret: secret, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sign returns the headers to attach verbatim to the outbound request.
func (s *Signer) Sign(scheme SigningScheme, r SignRequest) map[string]string {
	date := s.now().UTC().Format(http.TimeFormat)
	if scheme == SchemeKSO1Legacy {
		return s.signLegacy(date, r)
	}
	return s.signKSO1(date, r)
}

func (s *Signer) signKSO1(date string, r SignRequest) map[string]string {
	var bodyHash string
	if len(r.Body) > 0 {
		bodyHash = sha256Hex(r.Body)
	}
	content := "KSO-1" + strings.ToUpper(r.Method) + r.resource() + r.ContentType + date + bodyHash
	sig := hex.EncodeToString(hmacSHA256([]byte(s.secret), []byte(content)))

	return map[string]string{
		protocol.HeaderDate:          date,
		protocol.HeaderAuthorization: "KSO-1 " + s.appID + ":" + sig,
		protocol.HeaderContentType:   r.ContentType,
	}
}

func (s *Signer) signLegacy(date string, r SignRequest) map[string]string {
	var contentMD5, contentType string
	if len(r.Body) > 0 {
		contentMD5 = md5Hex(r.Body)
		contentType = r.ContentType
	}
	stringToSign := strings.ToUpper(r.Method) + "\n" +
		contentMD5 + "\n" +
		contentType + "\n" +
		date + "\n" +
		r.resource()
	sig := base64.StdEncoding.EncodeToString(hmacSHA1([]byte(s.secret), []byte(stringToSign)))

	return map[string]string{
		protocol.HeaderDate:          date,
		protocol.HeaderAuthorization: "KSO-1:" + s.appID + ":" + sig,
		protocol.HeaderContentType:   contentType,
	}
}
