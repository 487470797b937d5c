package cryptox

import (
	"crypto/rand"
	"fmt"
)

// Sealed is the result of a one-shot Encrypt: the nonce, the ciphertext and
// the GCM tag kept apart so callers can store them separately.
type Sealed struct {
	Nonce      []byte
	Ciphertext []byte
	Tag        []byte
}

// Encrypt seals plaintext with key using AES-GCM and a fresh random nonce.
//
// The key must be KeySize bytes. Every call draws a new nonce, so encrypting
// the same plaintext twice yields unrelated ciphertexts.
func Encrypt(plaintext []byte, key ContentKey) (*Sealed, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	out := aead.Seal(nil, nonce, plaintext, nil)
	split := len(out) - aead.Overhead()

	return &Sealed{Nonce: nonce, Ciphertext: out[:split], Tag: out[split:]}, nil
}

// Decrypt opens s with key. If the tag does not verify, it returns
// ErrIntegrity and no plaintext at all.
func Decrypt(s *Sealed, key ContentKey) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nothing to decrypt", ErrIntegrity)
	}

	aead, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	if len(s.Nonce) != aead.NonceSize() || len(s.Tag) != aead.Overhead() {
		return nil, fmt.Errorf("%w: malformed envelope", ErrIntegrity)
	}

	buf := make([]byte, 0, len(s.Ciphertext)+len(s.Tag))
	buf = append(buf, s.Ciphertext...)
	buf = append(buf, s.Tag...)

	plaintext, err := aead.Open(nil, s.Nonce, buf, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	return plaintext, nil
}
