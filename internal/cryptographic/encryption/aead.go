package encryption

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	KeySize   = chacha20poly1305.KeySize
	NonceSize = chacha20poly1305.NonceSizeX
	Overhead  = chacha20poly1305.Overhead
)

// ErrOpen is the only error returned when authentication fails.
var ErrOpen = errors.New("aead: message authentication failed")

// XChaCha20-Poly1305 helper. A fresh random 24-byte nonce is drawn per call.
func AEADEncrypt(key, plaintext, aad []byte) (nonce [NonceSize]byte, ciphertext []byte, err error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nonce, nil, fmt.Errorf("chacha20poly1305.NewX: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nonce, nil, fmt.Errorf("rand.Read nonce: %w", err)
	}
	return nonce, aead.Seal(nil, nonce[:], plaintext, aad), nil
}

func AEADDecrypt(key []byte, nonce [NonceSize]byte, ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, ErrOpen
	}
	if len(ciphertext) < Overhead {
		return nil, ErrOpen
	}
	plain, err := aead.Open(nil, nonce[:], ciphertext, aad)
	if err != nil {
		return nil, ErrOpen
	}
	return plain, nil
}

// Seal returns nonce || ciphertext.
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	nonce, ct, err := AEADEncrypt(key, plaintext, aad)
	if err != nil {
		return nil, err
	}
	return append(nonce[:], ct...), nil
}

func Open(key, nonceAndCiphertext, aad []byte) ([]byte, error) {
	if len(nonceAndCiphertext) < NonceSize+Overhead {
		return nil, ErrOpen
	}
	var nonce [NonceSize]byte
	copy(nonce[:], nonceAndCiphertext[:NonceSize])
	return AEADDecrypt(key, nonce, nonceAndCiphertext[NonceSize:], aad)
}
