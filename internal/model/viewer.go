package model

// Viewer is the signed-in identity opening a post. A nil *Viewer means
// nobody is signed in.
type Viewer struct {
	ID        Identity
	PublicKey PublicKey
}
