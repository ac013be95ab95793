package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/avaropoint/wpsgate/internal/protocol"
)

// EventCipher decrypts the encrypted_data field of event envelopes.
//
// Key: the 32 ASCII bytes of hex(md5(secret)), used as-is (AES-256).
// IV:  the nonce bytes, zero-padded or truncated to 16 bytes.
type EventCipher struct {
	key []byte
}

// NewEventCipher derives the envelope key from the app secret.
func NewEventCipher(secret string) *EventCipher {
	return &EventCipher{key: []byte(md5Hex([]byte(secret)))}
}

// Decrypt recovers the JSON payload carried in encryptedData.
func (c *EventCipher) Decrypt(encryptedData, nonce string) (protocol.Payload, error) {
	plain, err := c.DecryptRaw(encryptedData, nonce)
	if err != nil {
		return nil, err
	}
	return parsePayload(plain)
}

// DecryptRaw performs base64 decoding, AES-CBC decryption and padding
// removal without interpreting the plaintext.
func (c *EventCipher) DecryptRaw(encryptedData, nonce string) ([]byte, error) {
	ct, err := base64.StdEncoding.DecodeString(encryptedData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBase64Decode, err)
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrCiphertextLength, len(ct))
	}
	return cbcDecrypt(c.key, nonceIV(nonce), ct)
}

// Encrypt produces encrypted_data for plaintext under nonce. The platform
// does this on its side; the gateway uses it for tooling and tests.
func (c *EventCipher) Encrypt(plaintext []byte, nonce string) (string, error) {
	ct, err := cbcEncrypt(c.key, nonceIV(nonce), plaintext)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// nonceIV right-pads nonce with zero bytes, or truncates it, to one block.
func nonceIV(nonce string) []byte {
	iv := make([]byte, aes.BlockSize)
	copy(iv, nonce)
	return iv
}

func cbcEncrypt(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes key: %w", err)
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// cbcDecrypt expects len(ct) to be a positive multiple of the block size.
func cbcDecrypt(key, iv, ct []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes key: %w", err)
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)
	return pkcs7Unpad(out, aes.BlockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(bytes.Clone(data), bytes.Repeat([]byte{byte(n)}, n)...)
}

// pkcs7Unpad strips padding, rejecting any pad length outside 1..blockSize
// or any pad byte that disagrees with it.
func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrPaddingInvalid)
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("%w: pad length %d", ErrPaddingInvalid, n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("%w: inconsistent pad bytes", ErrPaddingInvalid)
		}
	}
	return data[:len(data)-n], nil
}

// parsePayload interprets plaintext as a UTF-8 JSON object.
func parsePayload(plain []byte) (protocol.Payload, error) {
	if !utf8.Valid(plain) {
		return nil, ErrUTF8Decode
	}
	var p protocol.Payload
	if err := json.Unmarshal(plain, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStructuredParse, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: null document", ErrStructuredParse)
	}
	return p, nil
}
