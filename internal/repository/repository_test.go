package repository_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"private_feed/internal/model"
	"private_feed/internal/repository"
	"private_feed/internal/repository/memstore"
)

func TestDocumentMatches(t *testing.T) {
	owner := model.Identity{1}
	doc, err := repository.NewDocument(repository.TypeGrant, owner, repository.Fields{"a": "1", "b": "2"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter repository.Filter
		want   bool
	}{
		{"empty", nil, true},
		{"owner", repository.Filter{repository.FieldOwner: owner.String()}, true},
		{"other owner", repository.Filter{repository.FieldOwner: model.Identity{2}.String()}, false},
		{"field", repository.Filter{"a": "1"}, true},
		{"field and owner", repository.Filter{"a": "1", "b": "2", repository.FieldOwner: owner.String()}, true},
		{"wrong value", repository.Filter{"a": "2"}, false},
		{"missing field", repository.Filter{"c": ""}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, doc.Matches(tc.filter))
		})
	}
}

func TestNewDocumentCopiesFields(t *testing.T) {
	fields := repository.Fields{"a": "1"}
	doc, err := repository.NewDocument(repository.TypeRekey, model.Identity{1}, fields)
	require.NoError(t, err)
	fields["a"] = "changed"
	assert.Equal(t, "1", doc.Fields["a"])

	_, err = repository.NewDocument("nope", model.Identity{1}, nil)
	require.ErrorIs(t, err, repository.ErrUnknownType)
}

func TestNotifying(t *testing.T) {
	var events []repository.Event
	owner := model.Identity{1}
	store := repository.Notifying(memstore.New(), func(ev repository.Event) {
		events = append(events, ev)
	})
	ctx := context.Background()

	doc, err := store.Create(ctx, repository.TypeFollowRequest, owner, repository.Fields{"requesterId": "x"})
	require.NoError(t, err)
	require.ErrorIs(t, store.Delete(ctx, doc.ID, model.Identity{2}), repository.ErrNotFound)
	require.NoError(t, store.Delete(ctx, doc.ID, owner))

	require.Len(t, events, 2)
	assert.Equal(t, repository.OpCreate, events[0].Op)
	assert.Equal(t, repository.TypeFollowRequest, events[0].Type)
	assert.Equal(t, "x", events[0].Fields["requesterId"])
	assert.Equal(t, repository.OpDelete, events[1].Op)
	assert.Equal(t, doc.ID, events[1].ID)
	assert.Equal(t, owner.String(), events[1].OwnerID)
}
