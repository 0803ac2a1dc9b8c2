// Package postcipher seals post bodies under a content key with the owner's
// identity bound as associated data.
package postcipher

import (
	"fmt"

	"private_feed/internal/cryptographic/encryption"
	"private_feed/internal/model"
)

func Encrypt(cek model.CEK, plaintext []byte, ownerID model.Identity) (ciphertext []byte, nonce [model.NonceSize]byte, err error) {
	nonce, ciphertext, err = encryption.AEADEncrypt(cek[:], plaintext, ownerID[:])
	if err != nil {
		return nil, nonce, fmt.Errorf("encrypt post: %w", err)
	}
	return ciphertext, nonce, nil
}

// Seal encrypts plaintext into a complete post record for epoch.
func Seal(cek model.CEK, epoch model.Epoch, ownerID model.Identity, plaintext []byte) (model.EncryptedPost, error) {
	ct, nonce, err := Encrypt(cek, plaintext, ownerID)
	if err != nil {
		return model.EncryptedPost{}, err
	}
	return model.EncryptedPost{
		Ciphertext: ct,
		Nonce:      nonce,
		Epoch:      epoch,
		OwnerID:    ownerID,
	}, nil
}

// Decrypt opens post with cek, authenticating ownerID. Any mismatch yields
// model.ErrAuthenticationFailed and nothing else.
func Decrypt(cek model.CEK, post model.EncryptedPost, ownerID model.Identity) ([]byte, error) {
	plain, err := encryption.AEADDecrypt(cek[:], post.Nonce, post.Ciphertext, ownerID[:])
	if err != nil {
		return nil, model.ErrAuthenticationFailed
	}
	return plain, nil
}

// Validate rejects records that can never decrypt.
func Validate(post model.EncryptedPost) error {
	switch {
	case post.OwnerID.IsZero():
		return fmt.Errorf("%w: missing owner", model.ErrInvalidPostData)
	case len(post.Ciphertext) < encryption.Overhead:
		return fmt.Errorf("%w: ciphertext shorter than tag", model.ErrInvalidPostData)
	case post.Nonce == [model.NonceSize]byte{}:
		return fmt.Errorf("%w: missing nonce", model.ErrInvalidPostData)
	}
	return nil
}
