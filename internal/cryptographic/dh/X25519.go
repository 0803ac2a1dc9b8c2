package dh

import (
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"private_feed/internal/model"
)

var errLowOrderPoint = errors.New("x25519: low order point")

// Generate a new X25519 key pair
func NewX25519KeyPair() (priv model.PrivateKey, pub model.PublicKey, err error) {
	_, err = rand.Read(priv[:])
	if err != nil {
		return priv, pub, fmt.Errorf("failed to generate private key: %w", err)
	}
	clamp(&priv)
	pub, err = PublicKey(priv)
	return priv, pub, err
}

// PublicKey derives the public key of an encryption scalar.
func PublicKey(priv model.PrivateKey) (model.PublicKey, error) {
	var pub model.PublicKey
	out, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return pub, fmt.Errorf("derive public key: %w", err)
	}
	copy(pub[:], out)
	return pub, nil
}

// Perform X25519 scalar multiplication: priv * pub
func X25519SharedSecret(priv model.PrivateKey, pub model.PublicKey) ([]byte, error) {
	shared, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return nil, errLowOrderPoint
	}
	return shared, nil
}

func ConvertToECDHFormat(priv model.PrivateKey) (*ecdh.PrivateKey, error) {
	curve := ecdh.X25519()
	return curve.NewPrivateKey(priv[:])
}

func clamp(k *model.PrivateKey) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}
