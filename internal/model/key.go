package model

import (
	"encoding/hex"
	"fmt"
)

const (
	IdentitySize = 32
	KeySize      = 32
	NonceSize    = 24
)

type (
	// Identity is the 32-byte identity of an owner or viewer.
	Identity [IdentitySize]byte

	FeedSeed [KeySize]byte

	// CEK is the content encryption key of one (owner, epoch) pair.
	CEK [KeySize]byte

	// PrivateKey is a persistent X25519 encryption scalar.
	PrivateKey [KeySize]byte

	PublicKey [KeySize]byte

	Epoch uint64
)

func (id Identity) String() string { return hex.EncodeToString(id[:]) }

// Short is the log-friendly prefix of the identity.
func (id Identity) Short() string { return hex.EncodeToString(id[:4]) }

func (id Identity) IsZero() bool { return id == Identity{} }

func (k PublicKey) String() string { return hex.EncodeToString(k[:]) }

func ParseIdentity(s string) (Identity, error) {
	var id Identity
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("parse identity: %w", err)
	}
	if len(b) != IdentitySize {
		return id, fmt.Errorf("parse identity: want %d bytes, got %d", IdentitySize, len(b))
	}
	copy(id[:], b)
	return id, nil
}

func ParsePublicKey(s string) (PublicKey, error) {
	var k PublicKey
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("parse public key: %w", err)
	}
	if len(b) != KeySize {
		return k, fmt.Errorf("parse public key: want %d bytes, got %d", KeySize, len(b))
	}
	copy(k[:], b)
	return k, nil
}

func (id Identity) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *Identity) UnmarshalText(b []byte) error {
	v, err := ParseIdentity(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

func (k PublicKey) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *PublicKey) UnmarshalText(b []byte) error {
	v, err := ParsePublicKey(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

func ParsePrivateKey(s string) (PrivateKey, error) {
	var k PrivateKey
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("parse private key: %w", err)
	}
	if len(b) != KeySize {
		return k, fmt.Errorf("parse private key: want %d bytes, got %d", KeySize, len(b))
	}
	copy(k[:], b)
	return k, nil
}
