// Package repository defines the document store the engine reads grants,
// rekeys, feed anchors and follow requests from.
package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"private_feed/internal/model"
)

const (
	TypeGrant         DocumentType = "grant"
	TypeRekey         DocumentType = "rekey"
	TypeFeedState     DocumentType = "feed-state"
	TypeFollowRequest DocumentType = "follow-request"
)

// FieldOwner in a Filter matches Document.OwnerID instead of a field.
const FieldOwner = "ownerId"

var (
	ErrNotFound    = errors.New("document not found")
	ErrUnknownType = errors.New("unknown document type")
)

type (
	DocumentType string

	Fields map[string]string

	// Filter is a conjunction of equality matches.
	Filter map[string]string

	Document struct {
		ID        string       `bson:"_id" json:"id"`
		Type      DocumentType `bson:"type" json:"type"`
		OwnerID   string       `bson:"ownerId" json:"ownerId"`
		Fields    Fields       `bson:"fields" json:"fields"`
		CreatedAt time.Time    `bson:"createdAt" json:"createdAt"`
	}

	Store interface {
		Get(ctx context.Context, docType DocumentType, filter Filter) ([]Document, error)
		Create(ctx context.Context, docType DocumentType, owner model.Identity, fields Fields) (Document, error)
		// Delete removes the document only when owner matches its owner.
		Delete(ctx context.Context, id string, owner model.Identity) error
	}
)

func (t DocumentType) Valid() bool {
	switch t {
	case TypeGrant, TypeRekey, TypeFeedState, TypeFollowRequest:
		return true
	}
	return false
}

// NewDocument stamps a new document with a time-ordered id.
func NewDocument(docType DocumentType, owner model.Identity, fields Fields) (Document, error) {
	if !docType.Valid() {
		return Document{}, ErrUnknownType
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Document{}, err
	}
	cp := make(Fields, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Document{
		ID:        id.String(),
		Type:      docType,
		OwnerID:   owner.String(),
		Fields:    cp,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (d Document) Matches(filter Filter) bool {
	for k, v := range filter {
		if k == FieldOwner {
			if d.OwnerID != v {
				return false
			}
			continue
		}
		if got, ok := d.Fields[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// SortByCreation orders documents oldest first.
func SortByCreation(docs []Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
}
