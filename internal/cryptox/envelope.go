package cryptox

import (
	"bytes"

	"github.com/dmitrijs2005/outofsight/internal/common"
)

// SealFile encrypts plaintext for one file of userID with a fresh content key
// and returns the wrapped key together with the stream ciphertext. The
// content and master keys are wiped before returning.
func (m *KeyManager) SealFile(userID, fileID string, plaintext []byte) (WrappedKey, []byte, error) {
	mk, err := m.DeriveMasterKey(userID)
	if err != nil {
		return nil, nil, err
	}
	defer mk.Wipe()

	ck, err := NewContentKey()
	if err != nil {
		return nil, nil, err
	}
	defer ck.Wipe()

	wk, err := m.WrapContentKey(mk, fileID, ck)
	if err != nil {
		return nil, nil, err
	}

	var buf bytes.Buffer
	if _, err := EncryptStream(&buf, bytes.NewReader(plaintext), ck); err != nil {
		return nil, nil, err
	}

	return wk, buf.Bytes(), nil
}

// OpenFile reverses SealFile. No plaintext is returned unless every chunk
// verifies.
func (m *KeyManager) OpenFile(userID, fileID string, wk WrappedKey, ciphertext []byte) ([]byte, error) {
	mk, err := m.DeriveMasterKey(userID)
	if err != nil {
		return nil, err
	}
	defer mk.Wipe()

	ck, err := m.UnwrapContentKey(mk, fileID, wk)
	if err != nil {
		return nil, err
	}
	defer ck.Wipe()

	var buf bytes.Buffer
	if _, err := DecryptStream(&buf, bytes.NewReader(ciphertext), ck); err != nil {
		common.WipeByteArray(buf.Bytes())
		return nil, err
	}
	return buf.Bytes(), nil
}
