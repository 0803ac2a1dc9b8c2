package access

import (
	"context"
	"errors"

	"private_feed/internal/keystore"
	"private_feed/internal/model"
	"private_feed/internal/protocol/epochchain"
	"private_feed/internal/service/grant"
)

// errLocalKeysMissing means the key store holds nothing for the owner yet.
var errLocalKeysMissing = errors.New("no local key material")

type (
	// KeyResolver produces the content key of an epoch for one viewer of
	// one feed.
	KeyResolver interface {
		ResolveKey(ctx context.Context, epoch model.Epoch) (model.CEK, error)
		// Recover reloads key material from the store with key.
		Recover(ctx context.Context, key model.PrivateKey) error
		// missingKeys is the lock shown when there is no material and no key.
		missingKeys() Locked
	}

	// lockedError carries a status that forbids decryption.
	lockedError struct {
		reason Reason
	}

	chainGenerator func(segments []model.Segment, maxEpoch, epoch model.Epoch) (model.CEK, error)

	ownerPath struct {
		owner    model.Identity
		grants   *grant.Manager
		keys     *keystore.Store
		generate chainGenerator
	}

	followerPath struct {
		owner, viewer model.Identity
		grants        *grant.Manager
		keys          *keystore.Store
	}
)

func (e lockedError) Error() string { return "locked: " + string(e.reason) }

func (e *Engine) resolveDecryptionPath(viewer, owner model.Identity) KeyResolver {
	if viewer == owner {
		return &ownerPath{owner: owner, grants: e.grants, keys: e.keys, generate: e.generate}
	}
	return &followerPath{owner: owner, viewer: viewer, grants: e.grants, keys: e.keys}
}

// ResolveKey prefers the cached key, deriving backward from a later epoch,
// and only falls back to the seed chain when the cache cannot serve.
func (p *ownerPath) ResolveKey(_ context.Context, epoch model.Epoch) (model.CEK, error) {
	if cek, src := p.keys.Lookup(p.owner, epoch); src == keystore.SourceExact || src == keystore.SourceDerived {
		return cek, nil
	}

	state, ok := p.keys.OwnerState(p.owner)
	if !ok {
		return model.CEK{}, errLocalKeysMissing
	}
	if epoch > state.Epoch {
		return model.CEK{}, model.ErrKeyMaterialOutdated
	}
	cek, err := p.generate(state.Segments, state.MaxEpoch, epoch)
	if errors.Is(err, epochchain.ErrEpochOutOfRange) {
		return model.CEK{}, model.ErrOldPostUndecryptable
	}
	return cek, err
}

func (p *ownerPath) Recover(ctx context.Context, key model.PrivateKey) error {
	_, err := p.grants.RecoverOwnerState(ctx, p.owner, key)
	return err
}

func (p *ownerPath) missingKeys() Locked { return locked(ReasonNoKeys) }

func (p *followerPath) ResolveKey(ctx context.Context, epoch model.Epoch) (model.CEK, error) {
	// A cached lock answers for every post of the owner.
	if status, ok, err := p.grants.Cache().Get(ctx, p.owner, p.viewer); err == nil && ok {
		if r, locks := reasonFor(status); locks {
			return model.CEK{}, p.lock(r)
		}
	}

	allowed, err := p.grants.CanDecrypt(ctx, p.owner, p.viewer)
	if err != nil {
		return model.CEK{}, err
	}
	if !allowed {
		status, err := p.grants.GetAccessStatus(ctx, p.owner, p.viewer)
		if err != nil {
			return model.CEK{}, err
		}
		r, locks := reasonFor(status)
		if !locks || r == ReasonApprovedNoKeys {
			// The status claims approval but the grant is gone: the cache
			// is stale.
			status, err = p.grants.RefreshStatus(ctx, p.owner, p.viewer)
			if err != nil {
				return model.CEK{}, err
			}
			r, locks = reasonFor(status)
			if !locks || r == ReasonApprovedNoKeys {
				r = ReasonNoKeys
			}
		}
		return model.CEK{}, p.lock(r)
	}

	cek, src := p.keys.Lookup(p.owner, epoch)
	switch src {
	case keystore.SourceExact, keystore.SourceDerived:
		return cek, nil
	case keystore.SourceBelowRange:
		return model.CEK{}, model.ErrOldPostUndecryptable
	}
	if !p.keys.HasKeys(p.owner) {
		return model.CEK{}, errLocalKeysMissing
	}
	return model.CEK{}, model.ErrKeyMaterialOutdated
}

// lock drops the owner's keys from this device once access is revoked.
func (p *followerPath) lock(r Reason) error {
	if r == ReasonRevoked {
		p.keys.Forget(p.owner)
	}
	return lockedError{r}
}

func (p *followerPath) Recover(ctx context.Context, key model.PrivateKey) error {
	return p.grants.RecoverFollowerKeys(ctx, p.owner, p.viewer, key)
}

func (p *followerPath) missingKeys() Locked { return locked(ReasonApprovedNoKeys) }
