// Package access runs the per-post, per-viewer decryption sessions and the
// follow-request workflow on top of the grant manager.
package access

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"private_feed/internal/keystore"
	"private_feed/internal/model"
	"private_feed/internal/protocol/epochchain"
	"private_feed/internal/service/grant"
	"private_feed/internal/utils/log"
)

type (
	// RetryPolicy bounds the recoveries a session starts on its own after
	// a failed decryption. Beyond it the user has to retry.
	RetryPolicy struct {
		MaxAutomatic int
	}

	Engine struct {
		ctx      context.Context
		grants   *grant.Manager
		keys     *keystore.Store
		policy   RetryPolicy
		generate chainGenerator
	}

	Option func(*Engine)
)

var DefaultRetryPolicy = RetryPolicy{MaxAutomatic: 1}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithContext sets the parent of every session's context.
func WithContext(ctx context.Context) Option {
	return func(e *Engine) { e.ctx = ctx }
}

func NewEngine(grants *grant.Manager, opts ...Option) *Engine {
	e := &Engine{
		ctx:      context.Background(),
		grants:   grants,
		keys:     grants.Keys(),
		policy:   DefaultRetryPolicy,
		generate: epochchain.SegmentKey,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AttemptDecryption opens a session for post and starts decrypting it.
// viewer is nil when nobody is signed in.
func (e *Engine) AttemptDecryption(post model.Post, viewer *model.Viewer) *Session {
	s := newSession(e, post, viewer)
	s.start(nil)
	return s
}

func (e *Engine) RequestAccess(ctx context.Context, owner model.Identity, viewer model.Viewer) (model.AccessStatus, error) {
	return e.grants.RequestAccess(ctx, owner, viewer)
}

func (e *Engine) CancelRequest(ctx context.Context, owner, viewer model.Identity) (model.AccessStatus, error) {
	return e.grants.CancelRequest(ctx, owner, viewer)
}

// RecoverAccess loads viewer's key material for owner's feed with key and
// keeps key for later sessions. Open sessions of the pair re-attempt.
func (e *Engine) RecoverAccess(ctx context.Context, owner, viewer model.Identity, key model.PrivateKey) error {
	path := e.resolveDecryptionPath(viewer, owner)
	if err := path.Recover(ctx, key); err != nil {
		log.Debug("recover access failed",
			zap.String("owner", owner.Short()),
			zap.String("viewer", viewer.Short()),
			zap.Error(err))
		return foldRecoveryError(err)
	}
	e.keys.SetSessionKey(viewer, key)
	e.notifyKeysChanged(ctx, owner, viewer)
	return nil
}

// notifyKeysChanged wakes sessions locked on the pair; the shared status
// itself does not change when only local keys do.
func (e *Engine) notifyKeysChanged(ctx context.Context, owner, viewer model.Identity) {
	if err := e.grants.Cache().Invalidate(ctx, owner, viewer); err != nil {
		log.Warn("status cache invalidate failed", zap.Error(err))
	}
}

// foldRecoveryError keeps the outcomes a caller can act on and folds the
// rest, including transport failures, into model.ErrRecoveryFailed.
func foldRecoveryError(err error) error {
	switch {
	case errors.Is(err, model.ErrRevoked),
		errors.Is(err, model.ErrGrantNotFound),
		errors.Is(err, model.ErrAnchorNotFound):
		return err
	}
	return fmt.Errorf("%w: %v", model.ErrRecoveryFailed, err)
}
