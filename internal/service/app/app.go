// Package app is the client side of a private feed: it signs in with a key
// file, talks to the document store service and opens posts through the
// access engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"private_feed/internal/cryptographic/keyfile"
	"private_feed/internal/keystore"
	"private_feed/internal/model"
	"private_feed/internal/repository/feed"
	"private_feed/internal/repository/httpstore"
	"private_feed/internal/service/access"
	"private_feed/internal/service/grant"
	"private_feed/internal/service/statuscache"
	"private_feed/internal/utils/log"
)

const (
	watchRetryMin = 500 * time.Millisecond
	watchRetryMax = 30 * time.Second
)

var (
	ErrLocked  = errors.New("post is locked")
	ErrErrored = errors.New("post could not be opened")
)

type (
	App struct {
		store  *httpstore.Client
		cache  *statuscache.Memory
		grants *grant.Manager
		engine *access.Engine

		user keyfile.Keys
	}

	Options struct {
		MaxEpoch model.Epoch
		CacheTTL time.Duration
		// RememberKey lets sessions recover keys silently with the signed-in
		// user's private key. Without it a locked session asks for the key.
		RememberKey bool
	}
)

func NewApp(ctx context.Context, store *httpstore.Client, user keyfile.Keys, opts Options) *App {
	cache := statuscache.NewMemory(opts.CacheTTL)
	keys := keystore.New()
	if opts.RememberKey {
		keys.SetSessionKey(user.Identity, user.PrivateKey)
	}

	var grantOpts []grant.Option
	if opts.MaxEpoch > 0 {
		grantOpts = append(grantOpts, grant.WithMaxEpoch(opts.MaxEpoch))
	}
	grants := grant.NewManager(feed.NewFeedRepo(store), keys, cache, grantOpts...)

	return &App{
		store:  store,
		cache:  cache,
		grants: grants,
		engine: access.NewEngine(grants, access.WithContext(ctx)),
		user:   user,
	}
}

func (c *App) Viewer() model.Viewer {
	return model.Viewer{ID: c.user.Identity, PublicKey: c.user.PublicKey}
}

// Stop drops every key held in memory.
func (c *App) Stop() {
	c.grants.Keys().Wipe()
}

// Watch keeps the status cache in step with store changes until ctx is done,
// reconnecting with backoff.
func (c *App) Watch(ctx context.Context) {
	invalidate := statuscache.Invalidator(ctx, c.cache)
	// Changes made while disconnected were missed.
	resync := func() {
		if err := c.cache.Clear(ctx); err != nil {
			log.Warn("clear status cache failed", zap.Error(err))
		}
	}

	delay := watchRetryMin
	for {
		started := time.Now()
		err := c.store.Watch(ctx, model.Identity{}, resync, invalidate)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > watchRetryMax {
			delay = watchRetryMin
		}
		log.Debug("watch disconnected", zap.Duration("retry", delay), zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, watchRetryMax)
	}
}

func (c *App) Status(ctx context.Context, owner model.Identity) (model.AccessStatus, error) {
	return c.grants.GetAccessStatus(ctx, owner, c.user.Identity)
}

func (c *App) RequestAccess(ctx context.Context, owner model.Identity) (model.AccessStatus, error) {
	return c.engine.RequestAccess(ctx, owner, c.Viewer())
}

func (c *App) CancelRequest(ctx context.Context, owner model.Identity) (model.AccessStatus, error) {
	return c.engine.CancelRequest(ctx, owner, c.user.Identity)
}

func (c *App) RecoverAccess(ctx context.Context, owner model.Identity, key model.PrivateKey) error {
	return c.engine.RecoverAccess(ctx, owner, c.user.Identity, key)
}

// Publish seals text for the signed-in user's followers.
func (c *App) Publish(ctx context.Context, text string) (model.Post, error) {
	enc, err := c.grants.Publish(ctx, c.user.Identity, c.user.PrivateKey, []byte(text))
	if err != nil {
		return model.Post{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return model.Post{}, err
	}
	return model.Post{ID: id.String(), Encrypted: enc}, nil
}

func (c *App) Approve(ctx context.Context, requester model.Identity) (*model.Grant, error) {
	return c.grants.Approve(ctx, c.user.Identity, c.user.PrivateKey, requester)
}

func (c *App) Revoke(ctx context.Context, follower model.Identity) error {
	return c.grants.Revoke(ctx, c.user.Identity, c.user.PrivateKey, follower)
}

func (c *App) Rotate(ctx context.Context) (model.Epoch, error) {
	if _, err := c.grants.InitFeed(ctx, c.user.Identity, c.user.PrivateKey); err != nil {
		return 0, err
	}
	return c.grants.Rotate(ctx, c.user.Identity, c.user.PrivateKey)
}

func (c *App) Requests(ctx context.Context) ([]model.FollowRequest, error) {
	return c.grants.ListRequests(ctx, c.user.Identity)
}

func (c *App) Followers(ctx context.Context) ([]model.Grant, error) {
	return c.grants.ListFollowers(ctx, c.user.Identity)
}

// Open starts a decryption session for post as the signed-in user.
func (c *App) Open(post model.Post) *access.Session {
	viewer := c.Viewer()
	return c.engine.AttemptDecryption(post, &viewer)
}

// Read opens post and returns its plaintext. A locked outcome wraps both
// ErrLocked and the lock reason's model sentinel; an errored one wraps
// ErrErrored.
func (c *App) Read(ctx context.Context, post model.Post) (access.Decrypted, error) {
	s := c.Open(post)
	defer s.Close()

	st, err := s.Wait(ctx)
	if err != nil {
		return access.Decrypted{}, err
	}
	switch st := st.(type) {
	case access.Decrypted:
		return st, nil
	case access.Locked:
		return access.Decrypted{}, fmt.Errorf("%w: %w: %s", ErrLocked, st.Reason.Err(), st.Reason.Message())
	case access.Errored:
		return access.Decrypted{}, fmt.Errorf("%w: %s", ErrErrored, st.Message)
	}
	return access.Decrypted{}, fmt.Errorf("%w: unexpected state %T", ErrErrored, st)
}
