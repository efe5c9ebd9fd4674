// Package cryptox is the file cipher engine and the small set of key
// derivation and key wrapping primitives used by the client and the server.
//
// File encryption is AES-256-GCM with a 96-bit IV and a 128-bit tag. The IV is
// always drawn inside Encrypt from crypto/rand; no exported function accepts a
// caller supplied IV for sealing.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/clinicvault/internal/common"
	"golang.org/x/crypto/argon2"
)

const (
	// KeySize is the relationship key length (AES-256).
	KeySize = 32
	// NonceSize is the GCM IV length in bytes.
	NonceSize = 12
	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16

	// maxSealsPerKey bounds random 96-bit IVs under one key (NIST SP 800-38D §8.3).
	maxSealsPerKey = uint64(1) << 32
)

// ErrInvalidKey is returned when key material is not exactly KeySize bytes.
var ErrInvalidKey = errors.New("invalid key material")

// Key is an AES-256-GCM key handle. It is safe for concurrent use.
type Key struct {
	id   string
	raw  []byte
	aead cipher.AEAD

	mu     sync.Mutex
	sealed uint64
}

// NewKey builds a handle for the given key id from raw key material.
// raw is copied; the caller may wipe its slice afterwards.
func NewKey(id string, raw []byte) (*Key, error) {
	if len(raw) != KeySize {
		return nil, ErrInvalidKey
	}
	material := make([]byte, KeySize)
	copy(material, raw)

	block, err := aes.NewCipher(material)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Key{id: id, raw: material, aead: aead}, nil
}

// GenerateKey creates a fresh random key handle.
func GenerateKey(id string) (*Key, error) {
	raw := make([]byte, KeySize)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	defer common.WipeByteArray(raw)
	return NewKey(id, raw)
}

// ID returns the relationship key id this handle belongs to.
func (k *Key) ID() string { return k.id }

// Bytes returns a copy of the raw key material.
func (k *Key) Bytes() []byte {
	out := make([]byte, len(k.raw))
	copy(out, k.raw)
	return out
}

// Fingerprint is a short, non-secret identifier for logs and UI.
func (k *Key) Fingerprint() string {
	sum := sha256.Sum256(k.raw)
	return fmt.Sprintf("%x", sum[:6])
}

// Wipe zeroes the raw material. The handle can still seal and open until
// garbage collected, since the cipher keeps its own schedule.
func (k *Key) Wipe() { common.WipeByteArray(k.raw) }

func (k *Key) reserveSeal() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.sealed >= maxSealsPerKey {
		return common.ErrKeyExhausted
	}
	k.sealed++
	return nil
}

// Sealed is the output of Encrypt.
type Sealed struct {
	Ciphertext []byte
	IV         []byte
	AuthTag    []byte
	Algorithm  string
}

// Encrypt seals plaintext under key with a fresh random IV.
func Encrypt(plaintext []byte, key *Key) (*Sealed, error) {
	if key == nil {
		return nil, common.ErrKeyAbsent
	}
	if err := key.reserveSeal(); err != nil {
		return nil, err
	}

	iv := make([]byte, NonceSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("iv: %w", err)
	}

	out := key.aead.Seal(nil, iv, plaintext, nil)
	split := len(out) - TagSize

	return &Sealed{
		Ciphertext: out[:split:split],
		IV:         iv,
		AuthTag:    out[split:],
		Algorithm:  common.Algorithm,
	}, nil
}

// Decrypt opens a sealed file. Any authentication failure (tampered
// ciphertext or tag, wrong key, corrupted IV) yields common.ErrDecryptionFailed;
// altered plaintext is never returned.
func Decrypt(s *Sealed, key *Key) ([]byte, error) {
	if key == nil {
		return nil, common.ErrKeyAbsent
	}
	if s == nil || s.Algorithm != common.Algorithm || len(s.IV) != NonceSize || len(s.AuthTag) != TagSize {
		return nil, common.ErrDecryptionFailed
	}

	buf := make([]byte, 0, len(s.Ciphertext)+TagSize)
	buf = append(buf, s.Ciphertext...)
	buf = append(buf, s.AuthTag...)

	plaintext, err := key.aead.Open(nil, s.IV, buf, nil)
	if err != nil {
		return nil, common.ErrDecryptionFailed
	}
	return plaintext, nil
}

// DeriveMasterKey stretches a local passphrase into a 32-byte wrapping key.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, 32)
}

// MakeVerifier returns a value that proves knowledge of masterKey without
// revealing it.
func MakeVerifier(masterKey []byte) []byte {
	hash := sha256.Sum256(masterKey)
	return hash[:]
}

// EncryptEntry serializes the given value to JSON and encrypts it using
// AES-GCM with a random 12-byte nonce. The key must be a valid AES key length.
func EncryptEntry(entry any, key []byte) (ciphertext, nonce []byte, err error) {
	plaintext, err := json.Marshal(entry)
	if err != nil {
		return nil, nil, err
	}
	defer common.WipeByteArray(plaintext)

	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}

	ciphertext = aesgcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// DecryptEntry reverses EncryptEntry and unmarshals the JSON into v.
// Authentication failures are reported as common.ErrDecryptionFailed.
func DecryptEntry(ciphertext, nonce, key []byte, v any) error {
	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}
	if len(nonce) != aesgcm.NonceSize() {
		return common.ErrDecryptionFailed
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return common.ErrDecryptionFailed
	}
	defer common.WipeByteArray(plaintext)

	return json.Unmarshal(plaintext, v)
}
