// Package keywrap encrypts key material to an X25519 public key.
//
// Format: ephemeralPub(32) || nonce(24) || ciphertext+tag.
// The wrap key is HKDF-SHA256(DH(eph, recipient), salt = ephPub || recipientPub).
package keywrap

import (
	"private_feed/internal/cryptographic/dh"
	"private_feed/internal/cryptographic/encryption"
	"private_feed/internal/cryptographic/kdf"
	"private_feed/internal/cryptographic/wipe"
	"private_feed/internal/model"
)

var info = []byte("private-feed/keywrap")

const headerSize = model.KeySize

type (
	wrapBase struct{}

	Sender struct {
		*wrapBase
	}

	Receiver struct {
		*wrapBase
	}
)

func (s *wrapBase) deriveKey(shared []byte, ephPub, recipientPub model.PublicKey) ([]byte, error) {
	salt := make([]byte, 0, 2*model.KeySize)
	salt = append(salt, ephPub[:]...)
	salt = append(salt, recipientPub[:]...)

	key := make([]byte, encryption.KeySize)
	if _, err := kdf.HKDF(shared, salt, info, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Wrap seals plaintext so that only the holder of recipient's private key can
// open it. aad is bound into the tag.
func (s *Sender) Wrap(recipient model.PublicKey, plaintext, aad []byte) ([]byte, error) {
	ephPriv, ephPub, err := dh.NewX25519KeyPair()
	if err != nil {
		return nil, err
	}
	defer wipe.Bytes(ephPriv[:])

	shared, err := dh.X25519SharedSecret(ephPriv, recipient)
	if err != nil {
		return nil, err
	}
	defer wipe.Bytes(shared)

	key, err := s.deriveKey(shared, ephPub, recipient)
	if err != nil {
		return nil, err
	}
	defer wipe.Bytes(key)

	sealed, err := encryption.Seal(key, plaintext, aad)
	if err != nil {
		return nil, err
	}
	return append(ephPub[:], sealed...), nil
}

// Unwrap opens data with priv. Every failure is model.ErrUnwrapFailed.
func (r *Receiver) Unwrap(priv model.PrivateKey, data, aad []byte) ([]byte, error) {
	if len(data) < headerSize+encryption.NonceSize+encryption.Overhead {
		return nil, model.ErrUnwrapFailed
	}
	var ephPub model.PublicKey
	copy(ephPub[:], data[:headerSize])

	pub, err := dh.PublicKey(priv)
	if err != nil {
		return nil, model.ErrUnwrapFailed
	}

	shared, err := dh.X25519SharedSecret(priv, ephPub)
	if err != nil {
		return nil, model.ErrUnwrapFailed
	}
	defer wipe.Bytes(shared)

	key, err := r.deriveKey(shared, ephPub, pub)
	if err != nil {
		return nil, model.ErrUnwrapFailed
	}
	defer wipe.Bytes(key)

	plain, err := encryption.Open(key, data[headerSize:], aad)
	if err != nil {
		return nil, model.ErrUnwrapFailed
	}
	return plain, nil
}

func Wrap(recipient model.PublicKey, plaintext, aad []byte) ([]byte, error) {
	s := &Sender{}
	return s.Wrap(recipient, plaintext, aad)
}

func Unwrap(priv model.PrivateKey, data, aad []byte) ([]byte, error) {
	r := &Receiver{}
	return r.Unwrap(priv, data, aad)
}
