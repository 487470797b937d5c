package cryptox

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key, err := NewContentKey()
	require.NoError(t, err)

	for _, size := range []int{0, 1, 31, 4096} {
		p := make([]byte, size)
		_, _ = rand.Read(p)

		s, err := Encrypt(p, key)
		require.NoError(t, err)
		assert.Len(t, s.Nonce, gcmNonceSize)
		assert.Len(t, s.Tag, 16)
		if size > 0 {
			assert.False(t, bytes.Equal(p, s.Ciphertext))
		}

		got, err := Decrypt(s, key)
		require.NoError(t, err)
		assert.Equal(t, len(p), len(got))
		assert.True(t, bytes.Equal(p, got))
	}
}

func TestEncrypt_FreshNoncePerCall(t *testing.T) {
	key, _ := NewContentKey()
	a, err := Encrypt([]byte("same"), key)
	require.NoError(t, err)
	b, err := Encrypt([]byte("same"), key)
	require.NoError(t, err)
	assert.NotEqual(t, a.Nonce, b.Nonce)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestDecrypt_WrongKey(t *testing.T) {
	key, _ := NewContentKey()
	other, _ := NewContentKey()

	s, err := Encrypt([]byte("%PDF-1.7 secret"), key)
	require.NoError(t, err)

	got, err := Decrypt(s, other)
	assert.ErrorIs(t, err, ErrIntegrity)
	assert.Nil(t, got)

	_, err = Decrypt(s, ContentKey{1, 2, 3})
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestDecrypt_Tampering(t *testing.T) {
	key, _ := NewContentKey()
	s, err := Encrypt([]byte("payload"), key)
	require.NoError(t, err)

	flipTag := *s
	flipTag.Tag = append([]byte(nil), s.Tag...)
	flipTag.Tag[0] ^= 1

	flipCT := *s
	flipCT.Ciphertext = append([]byte(nil), s.Ciphertext...)
	flipCT.Ciphertext[0] ^= 1

	shortTag := *s
	shortTag.Tag = s.Tag[:4]

	for name, in := range map[string]*Sealed{"tag": &flipTag, "ciphertext": &flipCT, "short tag": &shortTag, "nil": nil} {
		t.Run(name, func(t *testing.T) {
			got, err := Decrypt(in, key)
			assert.ErrorIs(t, err, ErrIntegrity)
			assert.Nil(t, got)
		})
	}
}
