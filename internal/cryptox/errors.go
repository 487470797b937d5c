// Package cryptox implements the envelope encryption used for stored files:
// per-user master keys derived from a single root secret, per-file content
// keys wrapped under them, and AES-GCM sealing of file bytes, both one-shot
// and as a chunked stream.
//
// All failures of the primitives are reported through the sentinels below so
// callers can tell a corrupted blob from an I/O problem with errors.Is.
package cryptox

import "errors"

var (
	// ErrKeyDerivation is returned when a master key cannot be derived,
	// typically because the root secret is not configured.
	ErrKeyDerivation = errors.New("key derivation failed")

	// ErrWrap is returned when a content key cannot be wrapped.
	ErrWrap = errors.New("content key wrap failed")

	// ErrUnwrap is returned when a wrapped key fails authentication or is
	// malformed. No key material is returned alongside it.
	ErrUnwrap = errors.New("content key unwrap failed")

	// ErrIntegrity is returned when ciphertext does not authenticate.
	ErrIntegrity = errors.New("integrity check failed")
)
