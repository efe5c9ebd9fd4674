package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

var errShortBlob = errors.New("wrapped key too short")

// KeyWrapper seals relationship key material at rest on the server with
// XChaCha20-Poly1305 under a key-encryption key. The key id is bound as
// associated data, so a wrapped blob cannot be swapped between rows.
type KeyWrapper struct {
	kek [32]byte
}

// NewKeyWrapper derives the KEK from the configured secret.
func NewKeyWrapper(secret string) *KeyWrapper {
	return &KeyWrapper{kek: sha256.Sum256([]byte(secret))}
}

// Wrap returns nonce||ciphertext.
func (w *KeyWrapper) Wrap(keyID string, raw []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(w.kek[:])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ct := aead.Seal(nil, nonce, raw, []byte(keyID))
	return append(nonce, ct...), nil
}

// Unwrap reverses Wrap.
func (w *KeyWrapper) Unwrap(keyID string, blob []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(w.kek[:])
	if err != nil {
		return nil, err
	}
	if len(blob) < chacha20poly1305.NonceSizeX {
		return nil, errShortBlob
	}
	nonce := blob[:chacha20poly1305.NonceSizeX]
	ct := blob[chacha20poly1305.NonceSizeX:]
	raw, err := aead.Open(nil, nonce, ct, []byte(keyID))
	if err != nil {
		return nil, fmt.Errorf("unwrap %s: %w", keyID, err)
	}
	return raw, nil
}

// HashPin stretches a pairing PIN with argon2id. The PIN space is small, so
// the server also caps attempts.
func HashPin(pin string, salt []byte) []byte {
	return argon2.IDKey([]byte(pin), salt, 1, 64*1024, 4, 32)
}

// VerifyPin compares in constant time.
func VerifyPin(pin string, salt, hash []byte) bool {
	return subtle.ConstantTimeCompare(HashPin(pin, salt), hash) == 1
}

// HashToken returns sha256(token) for storing bearer-style secrets.
func HashToken(token []byte) []byte {
	sum := sha256.Sum256(token)
	return sum[:]
}

// NewPin returns a uniformly random decimal PIN of the given length.
func NewPin(digits int) (string, error) {
	out := make([]byte, digits)
	ten := big.NewInt(10)
	for i := range out {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		out[i] = byte('0' + n.Int64())
	}
	return string(out), nil
}
