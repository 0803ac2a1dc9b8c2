// Package testutil builds identities and feed fixtures for tests.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"private_feed/internal/cryptographic/dh"
	"private_feed/internal/keystore"
	"private_feed/internal/model"
	"private_feed/internal/repository"
	"private_feed/internal/repository/feed"
	"private_feed/internal/repository/memstore"
	"private_feed/internal/service/grant"
	"private_feed/internal/service/statuscache"
)

type (
	Identity struct {
		ID   model.Identity
		Priv model.PrivateKey
		Pub  model.PublicKey
	}

	// Fixture is one shared document store and status cache. Each device
	// gets its own key store.
	Fixture struct {
		Store repository.Store
		Repo  *feed.FeedRepo
		Cache *statuscache.Memory
	}
)

// NewIdentity returns a fresh key pair whose public key doubles as the id.
func NewIdentity(t testing.TB) Identity {
	t.Helper()
	priv, pub, err := dh.NewX25519KeyPair()
	require.NoError(t, err)
	return Identity{ID: model.Identity(pub), Priv: priv, Pub: pub}
}

func (i Identity) Viewer() *model.Viewer {
	return &model.Viewer{ID: i.ID, PublicKey: i.Pub}
}

func NewFixture() *Fixture {
	return NewFixtureWithStore(memstore.New())
}

func NewFixtureWithStore(store repository.Store) *Fixture {
	return &Fixture{
		Store: store,
		Repo:  feed.NewFeedRepo(store),
		Cache: statuscache.NewMemory(0),
	}
}

// Device returns a manager with an empty key store.
func (f *Fixture) Device(opts ...grant.Option) *grant.Manager {
	return grant.NewManager(f.Repo, keystore.New(), f.Cache, opts...)
}
