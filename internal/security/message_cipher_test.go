package security

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMessageKey = []byte("0123456789abcdef0123456789abcdef")

func newTestMessageCipher(t *testing.T) *MessageCipher {
	t.Helper()
	// Deterministic prefix and IV.
	r := bytes.NewReader(bytes.Repeat([]byte{0x42}, 1<<12))
	c, err := NewMessageCipher(testMessageKey, WithRandom(r))
	require.NoError(t, err)
	return c
}

func TestMessageCipherRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 16, 17, 100} {
		c := newTestMessageCipher(t)
		msg := bytes.Repeat([]byte{'m'}, n)

		sealed, err := c.Encrypt(msg, testAppID)
		require.NoError(t, err)

		raw, err := base64.StdEncoding.DecodeString(sealed)
		require.NoError(t, err)
		assert.Equal(t, bytes.Repeat([]byte{0x42}, 16), raw[:16], "iv leads the ciphertext")

		got, err := c.Decrypt(sealed, testAppID)
		require.NoError(t, err)
		assert.Equal(t, msg, got, "length %d", n)
	}
}

func TestMessageCipherAppIDMismatch(t *testing.T) {
	c := newTestMessageCipher(t)
	sealed, err := c.Encrypt([]byte(`{"k":"v"}`), testAppID)
	require.NoError(t, err)

	_, err = c.Decrypt(sealed, "app2")
	assert.ErrorIs(t, err, ErrAppIDMismatch)
}

func TestMessageCipherFailures(t *testing.T) {
	c := newTestMessageCipher(t)

	_, err := c.Decrypt("%%%", testAppID)
	assert.ErrorIs(t, err, ErrBase64Decode)

	_, err = c.Decrypt(base64.StdEncoding.EncodeToString(make([]byte, 16)), testAppID)
	assert.ErrorIs(t, err, ErrCiphertextLength)

	_, err = c.Decrypt(base64.StdEncoding.EncodeToString(make([]byte, 40)), testAppID)
	assert.ErrorIs(t, err, ErrCiphertextLength)

	// Length field larger than the remaining plaintext.
	iv := bytes.Repeat([]byte{1}, 16)
	plain := make([]byte, 0, 32)
	plain = append(plain, bytes.Repeat([]byte{0}, 16)...)
	plain = append(plain, 0, 0, 1, 0)
	plain = append(plain, "abcdefghijk"...)
	plain = append(plain, 1) // one byte of valid padding
	ct := rawEncrypt(t, c.key, iv, plain)
	raw, err := base64.StdEncoding.DecodeString(ct)
	require.NoError(t, err)
	_, err = c.Decrypt(base64.StdEncoding.EncodeToString(append(iv, raw...)), testAppID)
	assert.ErrorIs(t, err, ErrMessageFraming)
}

func TestMessageCipherDecryptJSON(t *testing.T) {
	c := newTestMessageCipher(t)
	sealed, err := c.Encrypt([]byte(`{"message":{"id":"m-9"}}`), testAppID)
	require.NoError(t, err)

	p, err := c.DecryptJSON(sealed, testAppID)
	require.NoError(t, err)
	assert.Equal(t, "m-9", p.MessageID())

	sealed, err = c.Encrypt([]byte("plain text"), testAppID)
	require.NoError(t, err)
	_, err = c.DecryptJSON(sealed, testAppID)
	assert.ErrorIs(t, err, ErrStructuredParse)
}

func TestMessageCipherRandomFailure(t *testing.T) {
	c, err := NewMessageCipher(testMessageKey, WithRandom(strings.NewReader("short")))
	require.NoError(t, err)
	_, err = c.Encrypt([]byte("x"), testAppID)
	assert.Error(t, err)
}

func TestNewMessageCipherKeySize(t *testing.T) {
	_, err := NewMessageCipher([]byte("short"))
	assert.Error(t, err)
}

func TestParseMessageKey(t *testing.T) {
	raw, err := ParseMessageKey(string(testMessageKey))
	require.NoError(t, err)
	assert.Equal(t, testMessageKey, raw)

	encoded := strings.TrimSuffix(base64.StdEncoding.EncodeToString(testMessageKey), "=")
	require.Len(t, encoded, 43)
	key, err := ParseMessageKey(encoded)
	require.NoError(t, err)
	assert.Equal(t, testMessageKey, key)

	_, err = ParseMessageKey("too-short")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrBase64Decode))
}
