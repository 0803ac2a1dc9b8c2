package grant

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"private_feed/internal/cryptographic/dh"
	"private_feed/internal/cryptographic/wipe"
	"private_feed/internal/keystore"
	"private_feed/internal/model"
	"private_feed/internal/protocol/epochchain"
	"private_feed/internal/protocol/keywrap"
	"private_feed/internal/protocol/postcipher"
	"private_feed/internal/repository"
	"private_feed/internal/utils/log"
)

// RecoverOwnerState rebuilds the seed slot from the newest anchor. The slot
// is replaced, never merged, so repeated calls leave identical state.
func (m *Manager) RecoverOwnerState(ctx context.Context, owner model.Identity, priv model.PrivateKey) (keystore.OwnerState, error) {
	anchor, err := m.repo.GetLatestFeedState(ctx, owner)
	if err != nil {
		return keystore.OwnerState{}, err
	}
	if anchor == nil {
		return keystore.OwnerState{}, model.ErrAnchorNotFound
	}

	plain, err := keywrap.Unwrap(priv, anchor.WrappedSeeds, anchorAAD(owner, anchor.Epoch, anchor.MaxEpoch))
	if err != nil {
		return keystore.OwnerState{}, fmt.Errorf("feed state %s: %w", anchor.ID, err)
	}
	defer wipe.Bytes(plain)

	segments, err := decodeSegments(plain)
	if err != nil {
		return keystore.OwnerState{}, fmt.Errorf("feed state %s: %w: %v", anchor.ID, model.ErrUnwrapFailed, err)
	}

	state := keystore.OwnerState{
		OwnerID:  owner,
		Segments: segments,
		Epoch:    anchor.Epoch,
		MaxEpoch: anchor.MaxEpoch,
	}
	if err := m.install(state); err != nil {
		return keystore.OwnerState{}, err
	}
	log.Debug("owner state recovered", zap.String("owner", owner.Short()), zap.Uint64("epoch", uint64(state.Epoch)))
	return state, nil
}

// install replaces the seed slot and caches the current epoch key.
func (m *Manager) install(state keystore.OwnerState) error {
	seg, ok := model.SegmentFor(state.Segments, state.Epoch)
	if !ok {
		return fmt.Errorf("%w: no segment for epoch %d", model.ErrUnwrapFailed, state.Epoch)
	}
	cek, err := epochchain.KeyAt(seg.Seed, state.MaxEpoch, state.Epoch-seg.BaseEpoch)
	if err != nil {
		return err
	}
	m.keys.SetOwnerState(state)
	m.keys.Put(keystore.Entry{OwnerID: state.OwnerID, Epoch: state.Epoch, BaseEpoch: seg.BaseEpoch, CEK: cek})
	return nil
}

// InitFeed creates the first seed and anchor of owner's feed. An existing
// anchor is recovered instead.
func (m *Manager) InitFeed(ctx context.Context, owner model.Identity, priv model.PrivateKey) (keystore.OwnerState, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	state, err := m.RecoverOwnerState(ctx, owner, priv)
	if err == nil || !errors.Is(err, model.ErrAnchorNotFound) {
		return state, err
	}

	seed, err := newSeed()
	if err != nil {
		return keystore.OwnerState{}, err
	}
	state = keystore.OwnerState{
		OwnerID:  owner,
		Segments: []model.Segment{{BaseEpoch: 0, Seed: seed}},
		Epoch:    0,
		MaxEpoch: m.maxEpoch,
	}
	if err := m.writeAnchor(ctx, priv, state); err != nil {
		return keystore.OwnerState{}, err
	}
	if err := m.install(state); err != nil {
		return keystore.OwnerState{}, err
	}
	log.Info("private feed initialised", zap.String("owner", owner.Short()))
	return state, nil
}

// ownerState returns the local seed slot, recovering or creating it.
func (m *Manager) ownerState(ctx context.Context, owner model.Identity, priv model.PrivateKey) (keystore.OwnerState, error) {
	if state, ok := m.keys.OwnerState(owner); ok {
		return state, nil
	}
	return m.InitFeed(ctx, owner, priv)
}

// Publish encrypts plaintext at owner's current epoch.
func (m *Manager) Publish(ctx context.Context, owner model.Identity, priv model.PrivateKey, plaintext []byte) (model.EncryptedPost, error) {
	state, err := m.ownerState(ctx, owner, priv)
	if err != nil {
		return model.EncryptedPost{}, err
	}
	cek, err := epochchain.SegmentKey(state.Segments, state.MaxEpoch, state.Epoch)
	if err != nil {
		return model.EncryptedPost{}, err
	}
	defer wipe.Bytes(cek[:])
	return postcipher.Seal(cek, state.Epoch, owner, plaintext)
}

// Approve grants requester the current epoch key and removes its request.
func (m *Manager) Approve(ctx context.Context, owner model.Identity, priv model.PrivateKey, requester model.Identity) (*model.Grant, error) {
	req, err := m.repo.GetFollowRequest(ctx, owner, requester)
	if err != nil {
		return nil, err
	}
	if req == nil {
		existing, err := m.repo.GetGrant(ctx, owner, requester)
		if err != nil || existing != nil {
			return existing, err
		}
		return nil, ErrRequestNotFound
	}

	grant, err := m.Grant(ctx, owner, priv, requester, req.RequesterPublicKey)
	if err != nil {
		return nil, err
	}
	if err := m.repo.DeleteFollowRequest(ctx, owner, req.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	m.invalidate(ctx, owner, requester)
	return grant, nil
}

// Grant gives follower the current epoch key. An existing grant is returned
// unchanged.
func (m *Manager) Grant(ctx context.Context, owner model.Identity, priv model.PrivateKey, follower model.Identity, followerPub model.PublicKey) (*model.Grant, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if existing, err := m.repo.GetGrant(ctx, owner, follower); err != nil || existing != nil {
		return existing, err
	}

	state, ok := m.keys.OwnerState(owner)
	if !ok {
		var err error
		if state, err = m.RecoverOwnerState(ctx, owner, priv); err != nil {
			return nil, err
		}
	}
	seg, _ := model.CurrentSegment(state.Segments)
	cek, err := epochchain.SegmentKey(state.Segments, state.MaxEpoch, state.Epoch)
	if err != nil {
		return nil, err
	}
	defer wipe.Bytes(cek[:])

	payload := encodeKeyPayload(seg.BaseEpoch, state.Epoch, cek)
	defer wipe.Bytes(payload)
	wrapped, err := keywrap.Wrap(followerPub, payload, keyAAD(labelGrant, owner, follower))
	if err != nil {
		return nil, err
	}

	grant := &model.Grant{
		OwnerID:           owner,
		FollowerID:        follower,
		FollowerPublicKey: followerPub,
		WrappedKey:        wrapped,
		Epoch:             state.Epoch,
		BaseEpoch:         seg.BaseEpoch,
	}
	if _, err := m.repo.CreateGrant(ctx, grant); err != nil {
		return nil, err
	}
	log.Info("grant created",
		zap.String("owner", owner.Short()),
		zap.String("follower", follower.Short()),
		zap.Uint64("epoch", uint64(state.Epoch)))
	return grant, nil
}

// Rotate advances owner's epoch, re-keying every follower.
func (m *Manager) Rotate(ctx context.Context, owner model.Identity, priv model.PrivateKey) (model.Epoch, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	state, err := m.RecoverOwnerState(ctx, owner, priv)
	if err != nil {
		return 0, err
	}
	next, err := m.advance(ctx, priv, state, nil)
	if err != nil {
		return 0, err
	}
	return next.Epoch, nil
}

// Revoke removes follower's access. The epoch advances first: a rekey with
// entries for every other follower and a new anchor are written, and only
// then is the grant deleted. If a previous call stopped after the advance,
// the existing tombstone is reused and only the delete is finished.
func (m *Manager) Revoke(ctx context.Context, owner model.Identity, priv model.PrivateKey, follower model.Identity) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	grants, err := m.followerGrants(ctx, owner, follower)
	if err != nil {
		return err
	}
	tomb, err := m.repo.GetTombstone(ctx, owner, follower)
	if err != nil {
		return err
	}
	if len(grants) == 0 {
		if tomb != nil {
			return nil
		}
		return model.ErrGrantNotFound
	}

	newest := grants[len(grants)-1]
	if tomb == nil || tomb.Epoch <= newest.Epoch {
		// Recover from the store rather than trusting the local slot, so
		// another device's advance is not overwritten.
		state, err := m.RecoverOwnerState(ctx, owner, priv)
		if err != nil {
			return err
		}
		revoked := follower
		if _, err := m.advance(ctx, priv, state, &revoked); err != nil {
			return fmt.Errorf("revoke: advance epoch: %w", err)
		}
	}

	for _, g := range grants {
		if err := m.repo.DeleteGrant(ctx, owner, g.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("revoke: delete grant: %w", err)
		}
	}
	m.invalidate(ctx, owner, follower)
	log.Info("follower revoked", zap.String("owner", owner.Short()), zap.String("follower", follower.Short()))
	return nil
}

func (m *Manager) followerGrants(ctx context.Context, owner, follower model.Identity) ([]model.Grant, error) {
	all, err := m.repo.ListGrants(ctx, owner)
	if err != nil {
		return nil, err
	}
	var out []model.Grant
	for _, g := range all {
		if g.FollowerID == follower {
			out = append(out, g)
		}
	}
	return out, nil
}

// advance moves state one epoch forward, reseeding when the current
// segment is exhausted, and distributes the new key to every follower
// except revoked. Callers hold writeMu.
func (m *Manager) advance(ctx context.Context, priv model.PrivateKey, state keystore.OwnerState, revoked *model.Identity) (keystore.OwnerState, error) {
	owner := state.OwnerID
	next := state
	next.Epoch = state.Epoch + 1
	next.Segments = append([]model.Segment(nil), state.Segments...)

	seg, _ := model.CurrentSegment(state.Segments)
	if next.Epoch-seg.BaseEpoch > state.MaxEpoch {
		seed, err := newSeed()
		if err != nil {
			return state, err
		}
		seg = model.Segment{BaseEpoch: next.Epoch, Seed: seed}
		next.Segments = append(next.Segments, seg)
		log.Info("feed reseeded", zap.String("owner", owner.Short()), zap.Uint64("base", uint64(seg.BaseEpoch)))
	}

	cek, err := epochchain.SegmentKey(next.Segments, next.MaxEpoch, next.Epoch)
	if err != nil {
		return state, err
	}
	defer wipe.Bytes(cek[:])

	grants, err := m.repo.ListGrants(ctx, owner)
	if err != nil {
		return state, err
	}
	entries, err := m.wrapForFollowers(ctx, owner, grants, revoked, seg.BaseEpoch, next.Epoch, cek)
	if err != nil {
		return state, err
	}

	rekey := &model.Rekey{
		OwnerID:   owner,
		Epoch:     next.Epoch,
		BaseEpoch: seg.BaseEpoch,
		Revoked:   revoked,
		Entries:   entries,
	}
	if _, err := m.repo.CreateRekey(ctx, rekey); err != nil {
		return state, err
	}
	if err := m.writeAnchor(ctx, priv, next); err != nil {
		return state, err
	}
	if err := m.install(next); err != nil {
		return state, err
	}

	log.Info("epoch advanced",
		zap.String("owner", owner.Short()),
		zap.Uint64("epoch", uint64(next.Epoch)),
		zap.Int("followers", len(entries)))
	return next, nil
}

func (m *Manager) wrapForFollowers(ctx context.Context, owner model.Identity, grants []model.Grant, revoked *model.Identity, base, epoch model.Epoch, cek model.CEK) ([]model.RekeyEntry, error) {
	seen := make(map[model.Identity]bool)
	var targets []model.Grant
	for _, g := range grants {
		if (revoked != nil && g.FollowerID == *revoked) || seen[g.FollowerID] {
			continue
		}
		seen[g.FollowerID] = true
		targets = append(targets, g)
	}

	payload := encodeKeyPayload(base, epoch, cek)
	defer wipe.Bytes(payload)

	entries := make([]model.RekeyEntry, len(targets))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(m.wrapWorkers)
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			wrapped, err := keywrap.Wrap(t.FollowerPublicKey, payload, keyAAD(labelRekey, owner, t.FollowerID))
			if err != nil {
				return fmt.Errorf("wrap for %s: %w", t.FollowerID.Short(), err)
			}
			entries[i] = model.RekeyEntry{FollowerID: t.FollowerID, WrappedKey: wrapped}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (m *Manager) writeAnchor(ctx context.Context, priv model.PrivateKey, state keystore.OwnerState) error {
	pub, err := dh.PublicKey(priv)
	if err != nil {
		return err
	}
	plain := encodeSegments(state.Segments)
	defer wipe.Bytes(plain)

	wrapped, err := keywrap.Wrap(pub, plain, anchorAAD(state.OwnerID, state.Epoch, state.MaxEpoch))
	if err != nil {
		return err
	}
	_, err = m.repo.CreateFeedState(ctx, &model.FeedState{
		OwnerID:      state.OwnerID,
		Epoch:        state.Epoch,
		MaxEpoch:     state.MaxEpoch,
		WrappedSeeds: wrapped,
	})
	return err
}

// ListRequests returns the pending follow requests of owner's feed.
func (m *Manager) ListRequests(ctx context.Context, owner model.Identity) ([]model.FollowRequest, error) {
	return m.repo.ListFollowRequests(ctx, owner)
}

// ListFollowers returns owner's live grants.
func (m *Manager) ListFollowers(ctx context.Context, owner model.Identity) ([]model.Grant, error) {
	return m.repo.ListGrants(ctx, owner)
}

func newSeed() (model.FeedSeed, error) {
	var seed model.FeedSeed
	if _, err := rand.Read(seed[:]); err != nil {
		return seed, err
	}
	return seed, nil
}
