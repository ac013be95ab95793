package security

import (
	"crypto/aes"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/avaropoint/wpsgate/internal/protocol"
)

// MessageKeySize is the raw key length of the legacy message cipher.
const MessageKeySize = 32

// prefixSize is the random block that leads every legacy plaintext.
const prefixSize = 16

// MessageCipher implements the legacy whole-message format:
//
//	base64( iv[16] || aes256cbc( pkcs7( random[16] || len[4,BE] || msg || appID ) ) )
//
// Unlike EventCipher the key is used directly, not derived from a digest.
type MessageCipher struct {
	key  []byte
	rand io.Reader
}

// MessageCipherOption configures a MessageCipher.
type MessageCipherOption func(*MessageCipher)

// WithRandom replaces the source of IVs and random prefixes.
func WithRandom(r io.Reader) MessageCipherOption {
	return func(c *MessageCipher) { c.rand = r }
}

// NewMessageCipher creates a cipher over a raw 32-byte key.
func NewMessageCipher(key []byte, opts ...MessageCipherOption) (*MessageCipher, error) {
	if len(key) != MessageKeySize {
		return nil, fmt.Errorf("message key must be %d bytes, got %d", MessageKeySize, len(key))
	}
	c := &MessageCipher{key: append([]byte(nil), key...), rand: rand.Reader}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ParseMessageKey accepts either a raw 32-byte key or the platform's
// 43-character base64 encoding key (which omits its trailing '=').
func ParseMessageKey(s string) ([]byte, error) {
	if len(s) == MessageKeySize {
		return []byte(s), nil
	}
	key, err := base64.StdEncoding.DecodeString(s + "=")
	if err != nil {
		return nil, fmt.Errorf("decode encoding key: %w", err)
	}
	if len(key) != MessageKeySize {
		return nil, fmt.Errorf("encoding key decodes to %d bytes, want %d", len(key), MessageKeySize)
	}
	return key, nil
}

// Encrypt seals msg for appID with a fresh random prefix and IV.
func (c *MessageCipher) Encrypt(msg []byte, appID string) (string, error) {
	head := make([]byte, prefixSize+aes.BlockSize)
	if _, err := io.ReadFull(c.rand, head); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return c.seal(head[:prefixSize], head[prefixSize:], msg, appID)
}

func (c *MessageCipher) seal(prefix, iv, msg []byte, appID string) (string, error) {
	plain := make([]byte, 0, prefixSize+4+len(msg)+len(appID))
	plain = append(plain, prefix...)
	plain = binary.BigEndian.AppendUint32(plain, uint32(len(msg)))
	plain = append(plain, msg...)
	plain = append(plain, appID...)

	ct, err := cbcEncrypt(c.key, iv, plain)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(append(append([]byte(nil), iv...), ct...)), nil
}

// Decrypt opens a sealed message and checks that it was addressed to appID.
// A valid padding with the wrong trailing app id is still rejected.
func (c *MessageCipher) Decrypt(sealed, appID string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBase64Decode, err)
	}
	if len(raw) < 2*aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrCiphertextLength, len(raw))
	}

	plain, err := cbcDecrypt(c.key, raw[:aes.BlockSize], raw[aes.BlockSize:])
	if err != nil {
		return nil, err
	}
	if len(plain) < prefixSize+4 {
		return nil, fmt.Errorf("%w: plaintext %d bytes", ErrMessageFraming, len(plain))
	}

	body := plain[prefixSize+4:]
	n := binary.BigEndian.Uint32(plain[prefixSize : prefixSize+4])
	if uint64(n) > uint64(len(body)) {
		return nil, fmt.Errorf("%w: length %d exceeds %d", ErrMessageFraming, n, len(body))
	}

	if got := string(body[n:]); !constantTimeEqual(got, appID) {
		return nil, fmt.Errorf("%w: message addressed to %q", ErrAppIDMismatch, got)
	}
	return body[:n], nil
}

// DecryptJSON opens a sealed message and parses it as a JSON object.
func (c *MessageCipher) DecryptJSON(sealed, appID string) (protocol.Payload, error) {
	msg, err := c.Decrypt(sealed, appID)
	if err != nil {
		return nil, err
	}
	return parsePayload(msg)
}
