// Package badgerstore keeps documents in an embedded BadgerDB.
//
// Key layout:
//
//	doc/<type>/<id>  -> JSON document
//	id/<id>          -> <type>
//
// Document ids are UUIDv7, so a prefix scan returns them in creation order.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"private_feed/internal/model"
	"private_feed/internal/repository"
)

type Store struct {
	db *badger.DB
}

func New(db *badger.DB) *Store {
	return &Store{db: db}
}

// Open opens a store at dir. An empty dir keeps everything in memory.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return New(db), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func docKey(docType repository.DocumentType, id string) []byte {
	return []byte("doc/" + string(docType) + "/" + id)
}

func typePrefix(docType repository.DocumentType) []byte {
	return []byte("doc/" + string(docType) + "/")
}

func idKey(id string) []byte {
	return []byte("id/" + id)
}

func (s *Store) Get(ctx context.Context, docType repository.DocumentType, filter repository.Filter) ([]repository.Document, error) {
	var docs []repository.Document
	prefix := typePrefix(docType)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var doc repository.Document
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &doc)
			})
			if err != nil {
				return err
			}
			if doc.Matches(filter) {
				docs = append(docs, doc)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger scan %s: %w", docType, err)
	}

	repository.SortByCreation(docs)
	return docs, nil
}

func (s *Store) Create(ctx context.Context, docType repository.DocumentType, owner model.Identity, fields repository.Fields) (repository.Document, error) {
	doc, err := repository.NewDocument(docType, owner, fields)
	if err != nil {
		return repository.Document{}, err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return repository.Document{}, err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(docKey(docType, doc.ID), data); err != nil {
			return err
		}
		return txn.Set(idKey(doc.ID), []byte(docType))
	})
	if err != nil {
		return repository.Document{}, fmt.Errorf("badger write %s: %w", docType, err)
	}
	return doc, nil
}

func (s *Store) Delete(ctx context.Context, id string, owner model.Identity) error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return repository.ErrNotFound
		}
		if err != nil {
			return err
		}
		typ, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		key := docKey(repository.DocumentType(typ), id)

		item, err = txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return repository.ErrNotFound
		}
		if err != nil {
			return err
		}
		var doc repository.Document
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		}); err != nil {
			return err
		}
		if doc.OwnerID != owner.String() {
			return repository.ErrNotFound
		}

		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(idKey(id))
	})
}

var _ repository.Store = (*Store)(nil)
