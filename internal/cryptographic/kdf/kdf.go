package kdf

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDF fills buffer from HKDF-SHA256(secret, salt, info).
func HKDF(secret, salt, info, buffer []byte) (int, error) {
	h := hkdf.New(sha256.New, secret, salt, info)
	return io.ReadFull(h, buffer)
}

// Expand fills buffer from HKDF-Expand-SHA256 with a uniformly random prk.
func Expand(prk, info, buffer []byte) (int, error) {
	h := hkdf.Expand(sha256.New, prk, info)
	return io.ReadFull(h, buffer)
}
