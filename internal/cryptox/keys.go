package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/dmitrijs2005/outofsight/internal/common"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of master and content keys (AES-256).
const KeySize = 32

const (
	wrapVersion byte = 1
	gcmNonceSize     = 12
	masterKeySalt    = "outofsight/master-key/v1"
	wrapAADPrefix    = "outofsight/wrap/v1"
)

// ContentKey is a per-file symmetric key. It only ever lives in memory and
// should be wiped with Wipe once the caller is done with it.
type ContentKey []byte

// Wipe zeroes the key in place.
func (k ContentKey) Wipe() { common.WipeByteArray(k) }

// WrappedKey is a ContentKey sealed under a user's master key. Layout:
// version(1) | nonce(12) | ciphertext+tag. The version byte leaves room for
// re-wrapping under rotated master keys.
type WrappedKey []byte

// MasterKey is the per-user key encryption key.
type MasterKey struct {
	userID string
	key    []byte
}

// UserID returns the user the key was derived for.
func (m *MasterKey) UserID() string { return m.userID }

// Wipe zeroes the key material.
func (m *MasterKey) Wipe() { common.WipeByteArray(m.key) }

// KeyManager derives master keys from a root secret injected at construction
// and wraps/unwraps content keys under them. The root secret is the only trust
// anchor: no per-user key material is stored anywhere.
type KeyManager struct {
	root []byte
}

// NewKeyManager copies rootSecret into a new KeyManager.
func NewKeyManager(rootSecret []byte) *KeyManager {
	root := make([]byte, len(rootSecret))
	copy(root, rootSecret)
	return &KeyManager{root: root}
}

// DeriveMasterKey deterministically derives the master key for userID with
// HKDF-SHA256 over the root secret.
func (m *KeyManager) DeriveMasterKey(userID string) (*MasterKey, error) {
	if len(m.root) == 0 {
		return nil, fmt.Errorf("%w: root secret not configured", ErrKeyDerivation)
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrKeyDerivation)
	}

	r := hkdf.New(sha256.New, m.root, []byte(masterKeySalt), []byte(userID))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDerivation, err)
	}

	return &MasterKey{userID: userID, key: key}, nil
}

// NewContentKey returns a fresh random content key.
func NewContentKey() (ContentKey, error) {
	k := make([]byte, KeySize)
	if _, err := rand.Read(k); err != nil {
		return nil, err
	}
	return k, nil
}

// WrapContentKey seals ck under mk. The wrapped key is bound to the owner and
// to fileID, so it cannot be replayed onto another file or user.
func (m *KeyManager) WrapContentKey(mk *MasterKey, fileID string, ck ContentKey) (WrappedKey, error) {
	if mk == nil || len(mk.key) != KeySize {
		return nil, fmt.Errorf("%w: invalid master key", ErrWrap)
	}
	if len(ck) != KeySize {
		return nil, fmt.Errorf("%w: invalid content key length %d", ErrWrap, len(ck))
	}

	aead, err := newGCM(mk.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrap, err)
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrap, err)
	}

	out := make([]byte, 0, 1+gcmNonceSize+KeySize+aead.Overhead())
	out = append(out, wrapVersion)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, ck, wrapAAD(mk.userID, fileID)), nil
}

// UnwrapContentKey opens wk with mk. Any mismatch (wrong user, wrong file,
// tampering, unknown version) yields ErrUnwrap and a nil key.
func (m *KeyManager) UnwrapContentKey(mk *MasterKey, fileID string, wk WrappedKey) (ContentKey, error) {
	if mk == nil || len(mk.key) != KeySize {
		return nil, fmt.Errorf("%w: invalid master key", ErrUnwrap)
	}
	if len(wk) < 1+gcmNonceSize {
		return nil, fmt.Errorf("%w: wrapped key too short", ErrUnwrap)
	}
	if wk[0] != wrapVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrUnwrap, wk[0])
	}

	aead, err := newGCM(mk.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnwrap, err)
	}

	ck, err := aead.Open(nil, wk[1:1+gcmNonceSize], wk[1+gcmNonceSize:], wrapAAD(mk.userID, fileID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnwrap, err)
	}
	if len(ck) != KeySize {
		common.WipeByteArray(ck)
		return nil, fmt.Errorf("%w: unexpected key length", ErrUnwrap)
	}
	return ck, nil
}

func wrapAAD(userID, fileID string) []byte {
	return []byte(wrapAADPrefix + "|" + userID + "|" + fileID)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
