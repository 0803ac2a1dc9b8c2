// Package keystore is the in-memory cache of feed seeds, content keys and
// session-held encryption keys. Nothing here is written to disk.
package keystore

import (
	"sync"

	"private_feed/internal/cryptographic/wipe"
	"private_feed/internal/model"
	"private_feed/internal/protocol/epochchain"
)

type (
	Entry struct {
		OwnerID   model.Identity
		Epoch     model.Epoch
		BaseEpoch model.Epoch
		CEK       model.CEK
	}

	// OwnerState is the seed slot: every segment of the owner's chain plus
	// the current epoch.
	OwnerState struct {
		OwnerID  model.Identity
		Segments []model.Segment
		Epoch    model.Epoch
		MaxEpoch model.Epoch
	}

	Source int

	Store struct {
		mu       sync.RWMutex
		owner    *OwnerState
		keys     map[model.Identity]map[model.Epoch]Entry
		sessions map[model.Identity]model.PrivateKey
	}
)

const (
	SourceNone Source = iota
	SourceExact
	SourceDerived
	// SourceBelowRange: every key held for the owner starts after the epoch.
	SourceBelowRange
)

func New() *Store {
	return &Store{
		keys:     make(map[model.Identity]map[model.Epoch]Entry),
		sessions: make(map[model.Identity]model.PrivateKey),
	}
}

func (s OwnerState) clone() OwnerState {
	s.Segments = append([]model.Segment(nil), s.Segments...)
	return s
}

// SetOwnerState replaces the seed slot.
func (s *Store) SetOwnerState(state OwnerState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner != nil {
		wipeSegments(s.owner.Segments)
	}
	c := state.clone()
	s.owner = &c
}

func (s *Store) OwnerState(owner model.Identity) (OwnerState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.owner == nil || s.owner.OwnerID != owner {
		return OwnerState{}, false
	}
	return s.owner.clone(), true
}

// Put caches an entry. Within one segment the entry only moves forward: a
// higher epoch already derives the lower one.
func (s *Store) Put(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byBase, ok := s.keys[e.OwnerID]
	if !ok {
		byBase = make(map[model.Epoch]Entry)
		s.keys[e.OwnerID] = byBase
	}
	if cur, ok := byBase[e.BaseEpoch]; ok && cur.Epoch > e.Epoch {
		return
	}
	byBase[e.BaseEpoch] = e
}

// Latest returns the newest cached entry for owner.
func (s *Store) Latest(owner model.Identity) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  Entry
		found bool
	)
	for _, e := range s.keys[owner] {
		if !found || e.Epoch > best.Epoch {
			best, found = e, true
		}
	}
	return best, found
}

func (s *Store) HasKeys(owner model.Identity) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys[owner]) > 0
}

// Lookup resolves the key of epoch from the cache: exact hit, backward
// derivation from a later epoch in the same segment, or a miss.
func (s *Store) Lookup(owner model.Identity, epoch model.Epoch) (model.CEK, Source) {
	s.mu.RLock()
	var (
		entry Entry
		found bool
	)
	byBase := s.keys[owner]
	for base, e := range byBase {
		if base <= epoch && (!found || base > entry.BaseEpoch) {
			entry, found = e, true
		}
	}
	held := len(byBase)
	s.mu.RUnlock()

	switch {
	case !found && held > 0:
		return model.CEK{}, SourceBelowRange
	case !found, entry.Epoch < epoch:
		return model.CEK{}, SourceNone
	case entry.Epoch == epoch:
		return entry.CEK, SourceExact
	}

	cek, err := epochchain.Derive(entry.CEK, entry.Epoch, epoch)
	if err != nil {
		return model.CEK{}, SourceNone
	}
	return cek, SourceDerived
}

func (s *Store) Forget(owner model.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clearEntries(s.keys[owner])
	delete(s.keys, owner)
}

func (s *Store) SetSessionKey(id model.Identity, priv model.PrivateKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = priv
}

func (s *Store) SessionKey(id model.Identity) (model.PrivateKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.sessions[id]
	return k, ok
}

func (s *Store) ForgetSessionKey(id model.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; ok {
		s.sessions[id] = model.PrivateKey{}
		delete(s.sessions, id)
	}
}

// Wipe zeroes and drops every secret held.
func (s *Store) Wipe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner != nil {
		wipeSegments(s.owner.Segments)
		s.owner = nil
	}
	for owner, byBase := range s.keys {
		clearEntries(byBase)
		delete(s.keys, owner)
	}
	for id := range s.sessions {
		s.sessions[id] = model.PrivateKey{}
		delete(s.sessions, id)
	}
}

func wipeSegments(segments []model.Segment) {
	for i := range segments {
		wipe.Bytes(segments[i].Seed[:])
	}
}

// clearEntries overwrites the map slots; range values are copies.
func clearEntries(byBase map[model.Epoch]Entry) {
	for base := range byBase {
		byBase[base] = Entry{}
	}
}
