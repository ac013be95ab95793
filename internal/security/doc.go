// Package security implements the cryptographic layer between the gateway
// and the WPS open platform:
//
//   - Inbound callback signatures (WPS-3 header scheme, event envelope scheme)
//   - Event payload decryption (AES-256-CBC keyed from the app secret)
//   - Legacy whole-message encryption with a trailing app id check
//   - Outbound KSO-1 request signing, current and legacy header formats
//   - Client-credentials access token caching
//   - TLS setup for the callback listener
//
// # Key material
//
// The two cipher formats derive their keys differently and must not be
// unified: event envelopes use the ASCII hex MD5 digest of the app secret
// as a 32-byte AES key, while the legacy message format uses a raw 32-byte
// key taken from configuration.
//
// Verification functions return sentinel errors (see errors.go) instead
// of booleans; a nil error is the only accepting result.
package security
