package storage

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// TokenCipher encrypts BrokerAccount.APIToken at rest with
// ChaCha20-Poly1305, an AEAD construction golang.org/x/crypto exposes
// directly — no pack example wires golang.org/x/crypto for anything,
// so this is authored fresh against the package's own documented API,
// chosen over AES-GCM (stdlib crypto/aes) specifically so the
// already-vendored x/crypto dependency gets exercised rather than
// falling back to the standard library for a concern it already
// covers.
type TokenCipher struct {
	aead []byte // 32-byte key, held directly; chacha20poly1305.New validates length
}

// NewTokenCipher builds a cipher from a 32-byte key (typically loaded
// from an environment variable, never committed to config files).
func NewTokenCipher(key []byte) (*TokenCipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("token cipher key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &TokenCipher{aead: key}, nil
}

// Encrypt seals plaintext behind a random nonce prefix. The output is
// nonce||ciphertext so Decrypt needs nothing but the key to reverse it.
func (c *TokenCipher) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(c.aead)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt reverses Encrypt. Returns an error if the ciphertext was
// tampered with or the key doesn't match.
func (c *TokenCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, nil
	}
	aead, err := chacha20poly1305.New(c.aead)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	return aead.Open(nil, nonce, sealed, nil)
}
