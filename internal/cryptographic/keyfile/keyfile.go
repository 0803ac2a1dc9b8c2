// Package keyfile stores an identity and its encryption key under a passphrase.
package keyfile

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/argon2"

	"private_feed/internal/cryptographic/encryption"
	"private_feed/internal/cryptographic/wipe"
	"private_feed/internal/model"
)

const (
	formatVersion = 1
	saltBytes     = 16
)

var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted key file")

type (
	Keys struct {
		Identity   model.Identity   `json:"identity"`
		PrivateKey model.PrivateKey `json:"privateKey"`
		PublicKey  model.PublicKey  `json:"publicKey"`
	}

	blob struct {
		V       int    `json:"v"`
		Salt    []byte `json:"salt"`
		Time    uint32 `json:"argon_t"`
		Memory  uint32 `json:"argon_m"`
		Threads uint8  `json:"argon_p"`
		Cipher  []byte `json:"cipher"`
	}
)

// Params are the argon2id tunables written into new key files.
var Params = struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}{Time: 1, Memory: 64 * 1024, Threads: 4}

func deriveKEK(passphrase string, salt []byte, t, m uint32, p uint8) []byte {
	return argon2.IDKey([]byte(passphrase), salt, t, m, p, encryption.KeySize)
}

func Encrypt(passphrase string, keys Keys) ([]byte, error) {
	raw, err := json.Marshal(keys)
	if err != nil {
		return nil, err
	}
	defer wipe.Bytes(raw)

	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	kek := deriveKEK(passphrase, salt, Params.Time, Params.Memory, Params.Threads)
	defer wipe.Bytes(kek)

	ct, err := encryption.Seal(kek, raw, salt)
	if err != nil {
		return nil, err
	}
	return json.Marshal(blob{
		V:       formatVersion,
		Salt:    salt,
		Time:    Params.Time,
		Memory:  Params.Memory,
		Threads: Params.Threads,
		Cipher:  ct,
	})
}

func Decrypt(passphrase string, data []byte) (Keys, error) {
	var (
		b    blob
		keys Keys
	)
	if err := json.Unmarshal(data, &b); err != nil {
		return keys, fmt.Errorf("parse key file: %w", err)
	}
	if b.V > formatVersion {
		return keys, fmt.Errorf("unsupported key file version %d", b.V)
	}

	kek := deriveKEK(passphrase, b.Salt, b.Time, b.Memory, b.Threads)
	defer wipe.Bytes(kek)

	raw, err := encryption.Open(kek, b.Cipher, b.Salt)
	if err != nil {
		return keys, ErrWrongPassphrase
	}
	defer wipe.Bytes(raw)

	if err := json.Unmarshal(raw, &keys); err != nil {
		return keys, ErrWrongPassphrase
	}
	return keys, nil
}

func Save(path, passphrase string, keys Keys) error {
	data, err := Encrypt(passphrase, keys)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func Load(path, passphrase string) (Keys, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Keys{}, err
	}
	return Decrypt(passphrase, data)
}
