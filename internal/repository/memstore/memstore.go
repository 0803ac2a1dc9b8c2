package memstore

import (
	"context"
	"sync"

	"private_feed/internal/model"
	"private_feed/internal/repository"
)

type (
	MemStore struct {
		mu   sync.RWMutex
		docs map[string]repository.Document
	}
)

func New() *MemStore {
	return &MemStore{
		docs: make(map[string]repository.Document),
	}
}

func (s *MemStore) Get(ctx context.Context, docType repository.DocumentType, filter repository.Filter) ([]repository.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res []repository.Document
	for _, d := range s.docs {
		if d.Type == docType && d.Matches(filter) {
			res = append(res, copyDoc(d))
		}
	}
	repository.SortByCreation(res)
	return res, nil
}

func (s *MemStore) Create(ctx context.Context, docType repository.DocumentType, owner model.Identity, fields repository.Fields) (repository.Document, error) {
	if err := ctx.Err(); err != nil {
		return repository.Document{}, err
	}
	doc, err := repository.NewDocument(docType, owner, fields)
	if err != nil {
		return repository.Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
	return copyDoc(doc), nil
}

func (s *MemStore) Delete(ctx context.Context, id string, owner model.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok || d.OwnerID != owner.String() {
		return repository.ErrNotFound
	}
	delete(s.docs, id)
	return nil
}

func copyDoc(d repository.Document) repository.Document {
	fields := make(repository.Fields, len(d.Fields))
	for k, v := range d.Fields {
		fields[k] = v
	}
	d.Fields = fields
	return d
}

var _ repository.Store = (*MemStore)(nil)
