// Package statuscache shares the access status of (owner, viewer) pairs
// between sessions. Subscribers are told when an entry changes so locked
// sessions can refresh without polling.
package statuscache

import (
	"context"
	"sync"

	"private_feed/internal/model"
)

type (
	// Update reports a changed entry. An empty Status means the entry was
	// dropped; a zero Viewer means every entry of Owner was dropped.
	Update struct {
		Owner  model.Identity     `json:"owner"`
		Viewer model.Identity     `json:"viewer"`
		Status model.AccessStatus `json:"status,omitempty"`
	}

	Cache interface {
		Get(ctx context.Context, owner, viewer model.Identity) (model.AccessStatus, bool, error)
		Set(ctx context.Context, owner, viewer model.Identity, status model.AccessStatus) error
		Invalidate(ctx context.Context, owner, viewer model.Identity) error
		InvalidateOwner(ctx context.Context, owner model.Identity) error
		Subscribe(owner, viewer model.Identity, fn func(Update)) (unsubscribe func())
	}

	pairKey struct {
		owner, viewer model.Identity
	}

	hub struct {
		mu   sync.Mutex
		next int
		subs map[pairKey]map[int]func(Update)
	}
)

func newHub() *hub {
	return &hub{subs: make(map[pairKey]map[int]func(Update))}
}

func (h *hub) subscribe(owner, viewer model.Identity, fn func(Update)) func() {
	k := pairKey{owner, viewer}

	h.mu.Lock()
	id := h.next
	h.next++
	if h.subs[k] == nil {
		h.subs[k] = make(map[int]func(Update))
	}
	h.subs[k][id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[k], id)
			if len(h.subs[k]) == 0 {
				delete(h.subs, k)
			}
		})
	}
}

// publish runs callbacks outside the lock so they may call back into the cache.
func (h *hub) publish(u Update) {
	var fns []func(Update)

	h.mu.Lock()
	for k, byID := range h.subs {
		if k.owner != u.Owner {
			continue
		}
		if !u.Viewer.IsZero() && k.viewer != u.Viewer {
			continue
		}
		for _, fn := range byID {
			fns = append(fns, fn)
		}
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(u)
	}
}

func (h *hub) owners() []model.Identity {
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[model.Identity]struct{})
	var out []model.Identity
	for k := range h.subs {
		if _, ok := seen[k.owner]; !ok {
			seen[k.owner] = struct{}{}
			out = append(out, k.owner)
		}
	}
	return out
}
