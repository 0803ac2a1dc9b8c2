package grant

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"private_feed/internal/cryptographic/wipe"
	"private_feed/internal/keystore"
	"private_feed/internal/model"
	"private_feed/internal/protocol/keywrap"
	"private_feed/internal/repository"
	"private_feed/internal/utils/log"
)

// RecoverFollowerKeys unwraps viewer's grant and every later rekey entry
// addressed to viewer, caching the newest key of each segment.
func (m *Manager) RecoverFollowerKeys(ctx context.Context, owner, viewer model.Identity, priv model.PrivateKey) error {
	grant, err := m.repo.GetGrant(ctx, owner, viewer)
	if err != nil {
		return err
	}
	if grant == nil {
		tomb, err := m.repo.GetTombstone(ctx, owner, viewer)
		if err != nil {
			return err
		}
		if tomb != nil {
			return model.ErrRevoked
		}
		return model.ErrGrantNotFound
	}

	entry, err := unwrapKey(priv, grant.WrappedKey, keyAAD(labelGrant, owner, viewer))
	if err != nil {
		return fmt.Errorf("grant %s: %w", grant.ID, err)
	}
	if entry.Epoch != grant.Epoch || entry.BaseEpoch != grant.BaseEpoch {
		return fmt.Errorf("grant %s: epoch mismatch: %w", grant.ID, model.ErrUnwrapFailed)
	}
	entries := []keystore.Entry{entry}

	rekeys, err := m.repo.ListRekeys(ctx, owner)
	if err != nil {
		return err
	}
	for _, rk := range rekeys {
		if rk.Epoch <= grant.Epoch {
			continue
		}
		for _, e := range rk.Entries {
			if e.FollowerID != viewer {
				continue
			}
			entry, err := unwrapKey(priv, e.WrappedKey, keyAAD(labelRekey, owner, viewer))
			if err != nil {
				return fmt.Errorf("rekey %s: %w", rk.ID, err)
			}
			entries = append(entries, entry)
		}
	}

	for _, e := range entries {
		e.OwnerID = owner
		m.keys.Put(e)
	}

	if err := m.cache.Set(ctx, owner, viewer, model.StatusApproved); err != nil {
		log.Warn("status cache write failed", zap.Error(err))
	}
	log.Debug("follower keys recovered",
		zap.String("owner", owner.Short()),
		zap.String("viewer", viewer.Short()),
		zap.Int("keys", len(entries)))
	return nil
}

func unwrapKey(priv model.PrivateKey, wrapped, aad []byte) (keystore.Entry, error) {
	plain, err := keywrap.Unwrap(priv, wrapped, aad)
	if err != nil {
		return keystore.Entry{}, err
	}
	defer wipe.Bytes(plain)

	base, epoch, cek, err := decodeKeyPayload(plain)
	if err != nil {
		return keystore.Entry{}, fmt.Errorf("%w: %v", model.ErrUnwrapFailed, err)
	}
	return keystore.Entry{Epoch: epoch, BaseEpoch: base, CEK: cek}, nil
}

// RequestAccess files a follow request. It does nothing when a grant already
// exists and returns the existing request while one is pending.
func (m *Manager) RequestAccess(ctx context.Context, owner model.Identity, requester model.Viewer) (model.AccessStatus, error) {
	if owner == requester.ID {
		return "", ErrSelfRequest
	}

	v, err, _ := m.lookups.Do("request:"+owner.String()+":"+requester.ID.String(), func() (any, error) {
		grant, err := m.repo.GetGrant(ctx, owner, requester.ID)
		if err != nil {
			return nil, err
		}
		if grant != nil {
			return model.StatusApproved, nil
		}

		existing, err := m.repo.GetFollowRequest(ctx, owner, requester.ID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			req := &model.FollowRequest{
				OwnerID:            owner,
				RequesterID:        requester.ID,
				RequesterPublicKey: requester.PublicKey,
				Status:             model.RequestPending,
			}
			if _, err := m.repo.CreateFollowRequest(ctx, req); err != nil {
				return nil, err
			}
			log.Info("follow request created",
				zap.String("owner", owner.Short()),
				zap.String("requester", requester.ID.Short()))
		}

		if err := m.cache.Set(ctx, owner, requester.ID, model.StatusPending); err != nil {
			log.Warn("status cache write failed", zap.Error(err))
		}
		return model.StatusPending, nil
	})
	if err != nil {
		return "", err
	}
	return v.(model.AccessStatus), nil
}

// CancelRequest withdraws a pending request and republishes the status so
// sessions opened afterwards do not see a stale pending state.
func (m *Manager) CancelRequest(ctx context.Context, owner, requester model.Identity) (model.AccessStatus, error) {
	req, err := m.repo.GetFollowRequest(ctx, owner, requester)
	if err != nil {
		return "", err
	}
	if req != nil {
		err := m.repo.DeleteFollowRequest(ctx, owner, req.ID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return "", err
		}
		log.Info("follow request cancelled",
			zap.String("owner", owner.Short()),
			zap.String("requester", requester.Short()))
	}
	return m.RefreshStatus(ctx, owner, requester)
}
