package cryptox

import (
	"bufio"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Stream format:
//
//	header: magic(4) | chunk size uint32 BE (4) | nonce prefix (7)
//	chunks: AES-GCM(chunk) with nonce = prefix | counter uint32 BE | last flag
//
// The header is the AAD of every chunk. The last-chunk flag in the nonce makes
// a stream cut at a chunk boundary fail to authenticate, and the counter
// catches reordered or dropped chunks.
const (
	streamMagic      = "OOS\x01"
	noncePrefixSize  = 7
	streamHeaderSize = 4 + 4 + noncePrefixSize
	maxChunkSize     = 16 << 20

	// DefaultChunkSize is the plaintext size of every chunk but the last.
	DefaultChunkSize = 64 << 10
)

var errStreamTooLong = errors.New("stream exceeds chunk counter range")

// EncryptStream reads plaintext from src until EOF and writes the chunked
// ciphertext to dst. It returns the number of plaintext bytes consumed.
func EncryptStream(dst io.Writer, src io.Reader, key ContentKey) (int64, error) {
	return encryptStream(dst, src, key, DefaultChunkSize)
}

func encryptStream(dst io.Writer, src io.Reader, key ContentKey, chunkSize int) (int64, error) {
	aead, err := newGCM(key)
	if err != nil {
		return 0, err
	}

	header := make([]byte, streamHeaderSize)
	copy(header, streamMagic)
	binary.BigEndian.PutUint32(header[4:8], uint32(chunkSize))
	if _, err := rand.Read(header[8:]); err != nil {
		return 0, err
	}
	if _, err := dst.Write(header); err != nil {
		return 0, err
	}

	br := bufio.NewReaderSize(src, chunkSize)
	plain := make([]byte, chunkSize)
	sealed := make([]byte, 0, chunkSize+aead.Overhead())

	var total int64
	for counter := uint32(0); ; counter++ {
		n, err := io.ReadFull(br, plain)
		last := false
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			last = true
		case err != nil:
			return total, err
		default:
			if _, perr := br.Peek(1); perr == io.EOF {
				last = true
			} else if perr != nil {
				return total, perr
			}
		}

		sealed = aead.Seal(sealed[:0], chunkNonce(header[8:], counter, last), plain[:n], header)
		if _, err := dst.Write(sealed); err != nil {
			return total, err
		}
		total += int64(n)

		if last {
			return total, nil
		}
		if counter == ^uint32(0) {
			return total, errStreamTooLong
		}
	}
}

// DecryptStream authenticates and decrypts a stream written by EncryptStream.
//
// Chunks are written to dst as soon as they verify, so on error dst may hold a
// verified prefix. Callers that must not observe partial plaintext decrypt into
// a buffer and discard it when an error is returned. A stream that ends before
// its final chunk fails with ErrIntegrity.
func DecryptStream(dst io.Writer, src io.Reader, key ContentKey) (int64, error) {
	aead, err := newGCM(key)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}

	header := make([]byte, streamHeaderSize)
	if _, err := io.ReadFull(src, header); err != nil {
		return 0, fmt.Errorf("%w: truncated header", ErrIntegrity)
	}
	if string(header[:4]) != streamMagic {
		return 0, fmt.Errorf("%w: bad magic", ErrIntegrity)
	}
	chunkSize := int(binary.BigEndian.Uint32(header[4:8]))
	if chunkSize <= 0 || chunkSize > maxChunkSize {
		return 0, fmt.Errorf("%w: bad chunk size %d", ErrIntegrity, chunkSize)
	}

	br := bufio.NewReaderSize(src, chunkSize+aead.Overhead())
	buf := make([]byte, chunkSize+aead.Overhead())

	var total int64
	for counter := uint32(0); ; counter++ {
		n, err := io.ReadFull(br, buf)
		last := false
		switch {
		case errors.Is(err, io.EOF):
			return total, fmt.Errorf("%w: stream truncated", ErrIntegrity)
		case errors.Is(err, io.ErrUnexpectedEOF):
			last = true
		case err != nil:
			return total, err
		default:
			if _, perr := br.Peek(1); perr == io.EOF {
				last = true
			} else if perr != nil {
				return total, perr
			}
		}

		plain, err := aead.Open(buf[:0], chunkNonce(header[8:], counter, last), buf[:n], header)
		if err != nil {
			return total, fmt.Errorf("%w: chunk %d", ErrIntegrity, counter)
		}
		if _, err := dst.Write(plain); err != nil {
			return total, err
		}
		total += int64(len(plain))

		if last {
			return total, nil
		}
		if counter == ^uint32(0) {
			return total, fmt.Errorf("%w: %v", ErrIntegrity, errStreamTooLong)
		}
	}
}

func chunkNonce(prefix []byte, counter uint32, last bool) []byte {
	nonce := make([]byte, gcmNonceSize)
	copy(nonce, prefix)
	binary.BigEndian.PutUint32(nonce[noncePrefixSize:], counter)
	if last {
		nonce[gcmNonceSize-1] = 1
	}
	return nonce
}
