package security

import "errors"

// Verification failures.
var (
	ErrMissingField         = errors.New("missing required field")
	ErrAppIDMismatch        = errors.New("app id mismatch")
	ErrTimestampOutOfWindow = errors.New("timestamp outside replay window")
	ErrSignatureMismatch    = errors.New("signature mismatch")
)

// Decryption failures. Each is distinct so operators can tell a wrong
// secret (padding) from upstream protocol drift (utf-8, parse).
var (
	ErrBase64Decode        = errors.New("ciphertext is not valid base64")
	ErrCiphertextLength    = errors.New("ciphertext length invalid")
	ErrPaddingInvalid      = errors.New("pkcs7 padding invalid")
	ErrUTF8Decode          = errors.New("plaintext is not valid utf-8")
	ErrStructuredParse     = errors.New("plaintext is not a json object")
	ErrMessageFraming      = errors.New("message framing invalid")
	ErrCipherNotConfigured = errors.New("message cipher not configured")
)

// ErrTokenAcquisition wraps every failure to obtain an access token.
var ErrTokenAcquisition = errors.New("access token acquisition failed")

// IsCryptoFailure reports whether err points at key material: a forged or
// mis-keyed signature, or a decrypt that produced invalid padding.
func IsCryptoFailure(err error) bool {
	return errors.Is(err, ErrSignatureMismatch) || errors.Is(err, ErrPaddingInvalid)
}

// IsProtocolDrift reports whether err means the ciphertext decrypted
// cleanly but its contents did not match the expected format.
func IsProtocolDrift(err error) bool {
	return errors.Is(err, ErrUTF8Decode) ||
		errors.Is(err, ErrStructuredParse) ||
		errors.Is(err, ErrMessageFraming)
}
