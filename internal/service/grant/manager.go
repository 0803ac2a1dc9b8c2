// Package grant decides who may read a private feed and moves key material
// between the owner, the document store and the local key store.
//
// Owners keep their seed segments in a FeedState anchor wrapped to their own
// encryption key. Followers receive the current content key in a Grant and
// every later one in Rekey entries. Revocation advances the epoch before the
// grant is deleted, so a follower that loses its grant never sees a key above
// the epoch it already held.
package grant

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"private_feed/internal/keystore"
	"private_feed/internal/model"
	"private_feed/internal/protocol/epochchain"
	"private_feed/internal/repository/feed"
	"private_feed/internal/service/statuscache"
	"private_feed/internal/utils/log"
)

var (
	ErrRequestNotFound = errors.New("follow request not found")
	ErrSelfRequest     = errors.New("cannot request access to your own feed")
)

const defaultWrapWorkers = 8

type (
	Manager struct {
		repo        *feed.FeedRepo
		keys        *keystore.Store
		cache       statuscache.Cache
		maxEpoch    model.Epoch
		wrapWorkers int

		lookups singleflight.Group
		writeMu sync.Mutex
	}

	Option func(*Manager)
)

func WithMaxEpoch(max model.Epoch) Option {
	return func(m *Manager) { m.maxEpoch = max }
}

// WithWrapWorkers bounds how many follower keys are wrapped at once during
// an epoch advance.
func WithWrapWorkers(n int) Option {
	return func(m *Manager) { m.wrapWorkers = n }
}

func NewManager(repo *feed.FeedRepo, keys *keystore.Store, cache statuscache.Cache, opts ...Option) *Manager {
	m := &Manager{
		repo:        repo,
		keys:        keys,
		cache:       cache,
		maxEpoch:    epochchain.DefaultMaxEpoch,
		wrapWorkers: defaultWrapWorkers,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Keys() *keystore.Store { return m.keys }

func (m *Manager) Cache() statuscache.Cache { return m.cache }

// CanDecrypt reports whether viewer is the owner or holds a live grant.
func (m *Manager) CanDecrypt(ctx context.Context, owner, viewer model.Identity) (bool, error) {
	if owner == viewer {
		return true, nil
	}
	grant, err := m.repo.GetGrant(ctx, owner, viewer)
	if err != nil {
		return false, err
	}
	return grant != nil, nil
}

// GetAccessStatus combines the shared store-side status with the local key
// store: a grant without cached keys is approved-no-keys.
func (m *Manager) GetAccessStatus(ctx context.Context, owner, viewer model.Identity) (model.AccessStatus, error) {
	status, err := m.sharedStatus(ctx, owner, viewer)
	if err != nil {
		return "", err
	}
	if status == model.StatusApproved && !m.keys.HasKeys(owner) {
		return model.StatusApprovedNoKeys, nil
	}
	return status, nil
}

// sharedStatus is the device-independent part of the status. Concurrent
// lookups of one pair share a single store round trip.
func (m *Manager) sharedStatus(ctx context.Context, owner, viewer model.Identity) (model.AccessStatus, error) {
	if status, ok, err := m.cache.Get(ctx, owner, viewer); err != nil {
		log.Warn("status cache read failed", zap.Error(err))
	} else if ok {
		return status, nil
	}

	v, err, _ := m.lookups.Do("status:"+owner.String()+":"+viewer.String(), func() (any, error) {
		return m.RefreshStatus(ctx, owner, viewer)
	})
	if err != nil {
		return "", err
	}
	return v.(model.AccessStatus), nil
}

// RefreshStatus recomputes the shared status from the store, bypassing
// and then reseeding the cache.
func (m *Manager) RefreshStatus(ctx context.Context, owner, viewer model.Identity) (model.AccessStatus, error) {
	status, err := m.computeStatus(ctx, owner, viewer)
	if err != nil {
		return "", err
	}
	if err := m.cache.Set(ctx, owner, viewer, status); err != nil {
		log.Warn("status cache write failed", zap.Error(err))
	}
	return status, nil
}

func (m *Manager) computeStatus(ctx context.Context, owner, viewer model.Identity) (model.AccessStatus, error) {
	grant, err := m.repo.GetGrant(ctx, owner, viewer)
	if err != nil {
		return "", err
	}
	if grant != nil {
		return model.StatusApproved, nil
	}

	req, err := m.repo.GetFollowRequest(ctx, owner, viewer)
	if err != nil {
		return "", err
	}
	if req != nil {
		return model.StatusPending, nil
	}

	tomb, err := m.repo.GetTombstone(ctx, owner, viewer)
	if err != nil {
		return "", err
	}
	if tomb != nil {
		return model.StatusRevoked, nil
	}
	return model.StatusNoKeys, nil
}

func (m *Manager) invalidate(ctx context.Context, owner, viewer model.Identity) {
	if err := m.cache.Invalidate(ctx, owner, viewer); err != nil {
		log.Warn("status cache invalidate failed", zap.Error(err))
	}
}
