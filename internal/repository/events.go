package repository

import (
	"context"

	"private_feed/internal/model"
)

const (
	OpCreate = "create"
	OpDelete = "delete"
)

type (
	// Event describes one write. Delete events carry only ID and OwnerID.
	Event struct {
		Op      string       `json:"op"`
		Type    DocumentType `json:"type,omitempty"`
		ID      string       `json:"id"`
		OwnerID string       `json:"ownerId"`
		Fields  Fields       `json:"fields,omitempty"`
	}

	notifyingStore struct {
		Store
		notify func(Event)
	}
)

// Notifying wraps store so every successful write is reported to notify.
func Notifying(store Store, notify func(Event)) Store {
	return &notifyingStore{Store: store, notify: notify}
}

func (s *notifyingStore) Create(ctx context.Context, docType DocumentType, owner model.Identity, fields Fields) (Document, error) {
	doc, err := s.Store.Create(ctx, docType, owner, fields)
	if err != nil {
		return doc, err
	}
	s.notify(Event{Op: OpCreate, Type: doc.Type, ID: doc.ID, OwnerID: doc.OwnerID, Fields: doc.Fields})
	return doc, nil
}

func (s *notifyingStore) Delete(ctx context.Context, id string, owner model.Identity) error {
	if err := s.Store.Delete(ctx, id, owner); err != nil {
		return err
	}
	s.notify(Event{Op: OpDelete, ID: id, OwnerID: owner.String()})
	return nil
}
