package model

type (
	EncryptedPost struct {
		Ciphertext []byte          `json:"ciphertext"`
		Nonce      [NonceSize]byte `json:"nonce"`
		Epoch      Epoch           `json:"epoch"`
		OwnerID    Identity        `json:"ownerId"`
	}

	// Post is what a viewer opens: an identifier plus the sealed body.
	Post struct {
		ID        string        `json:"id"`
		Encrypted EncryptedPost `json:"encrypted"`
	}
)
