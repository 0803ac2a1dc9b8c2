// Package storetest is a conformance suite every repository.Store passes.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"private_feed/internal/model"
	"private_feed/internal/repository"
)

var (
	alice = model.Identity{0xA1}
	bob   = model.Identity{0xB0}
)

func Run(t *testing.T, newStore func(t *testing.T) repository.Store) {
	t.Run("CreateAndGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		doc, err := s.Create(ctx, repository.TypeGrant, alice, repository.Fields{"followerId": bob.String()})
		require.NoError(t, err)
		assert.NotEmpty(t, doc.ID)
		assert.Equal(t, alice.String(), doc.OwnerID)

		got, err := s.Get(ctx, repository.TypeGrant, repository.Filter{
			repository.FieldOwner: alice.String(),
			"followerId":          bob.String(),
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, doc.ID, got[0].ID)
		assert.Equal(t, bob.String(), got[0].Fields["followerId"])
	})

	t.Run("FilterByTypeAndField", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Create(ctx, repository.TypeGrant, alice, repository.Fields{"followerId": "x"})
		require.NoError(t, err)
		_, err = s.Create(ctx, repository.TypeFollowRequest, alice, repository.Fields{"followerId": "x"})
		require.NoError(t, err)
		_, err = s.Create(ctx, repository.TypeGrant, bob, repository.Fields{"followerId": "y"})
		require.NoError(t, err)

		got, err := s.Get(ctx, repository.TypeGrant, repository.Filter{"followerId": "x"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, repository.TypeGrant, got[0].Type)

		none, err := s.Get(ctx, repository.TypeRekey, nil)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("OrderedByCreation", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var ids []string
		for _, e := range []string{"1", "2", "3"} {
			doc, err := s.Create(ctx, repository.TypeRekey, alice, repository.Fields{"epoch": e})
			require.NoError(t, err)
			ids = append(ids, doc.ID)
		}

		got, err := s.Get(ctx, repository.TypeRekey, repository.Filter{repository.FieldOwner: alice.String()})
		require.NoError(t, err)
		require.Len(t, got, 3)
		for i := range ids {
			assert.Equal(t, ids[i], got[i].ID)
		}
	})

	t.Run("DeleteRequiresOwner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		doc, err := s.Create(ctx, repository.TypeFollowRequest, alice, nil)
		require.NoError(t, err)

		require.ErrorIs(t, s.Delete(ctx, doc.ID, bob), repository.ErrNotFound)
		require.NoError(t, s.Delete(ctx, doc.ID, alice))
		require.ErrorIs(t, s.Delete(ctx, doc.ID, alice), repository.ErrNotFound)

		got, err := s.Get(ctx, repository.TypeFollowRequest, nil)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("UnknownType", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Create(context.Background(), repository.DocumentType("bogus"), alice, nil)
		require.Error(t, err)
	})
}
