package access

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"private_feed/internal/model"
	"private_feed/internal/protocol/postcipher"
	"private_feed/internal/service/statuscache"
	"private_feed/internal/utils/log"
)

type (
	// Session is the decryption of one post for one viewer. Every attempt
	// runs on its own goroutine; results of a superseded attempt are
	// dropped.
	Session struct {
		engine *Engine

		mu      sync.Mutex
		post    model.Post
		viewer  *model.Viewer
		state   State
		gen     uint64
		cancel  context.CancelFunc
		changed chan struct{}
		closed  bool
		unwatch func()

		subs    map[int]func(State)
		nextSub int
	}
)

func newSession(e *Engine, post model.Post, viewer *model.Viewer) *Session {
	return &Session{
		engine:  e,
		post:    post,
		viewer:  cloneViewer(viewer),
		state:   Idle{},
		changed: make(chan struct{}),
		subs:    make(map[int]func(State)),
	}
}

func cloneViewer(v *model.Viewer) *model.Viewer {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn for every later state change.
func (s *Session) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Wait blocks until the current attempt reaches a terminal state.
func (s *Session) Wait(ctx context.Context) (State, error) {
	for {
		s.mu.Lock()
		st, ch := s.state, s.changed
		s.mu.Unlock()

		if Terminal(st) {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ch:
		}
	}
}

// Update points the session at a post and viewer. A different post or
// viewer identity always starts over from Idle.
func (s *Session) Update(post model.Post, viewer *model.Viewer) {
	s.mu.Lock()
	same := s.post.ID == post.ID && s.post.Encrypted.OwnerID == post.Encrypted.OwnerID && sameViewer(s.viewer, viewer)
	if !same {
		s.post = post
		s.viewer = cloneViewer(viewer)
	}
	s.mu.Unlock()

	if !same {
		s.start(nil)
	}
}

func sameViewer(a, b *model.Viewer) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID
}

// Retry starts over after a retryable error. An authentication failure is
// retried by recovering with the session key, once.
func (s *Session) Retry() bool {
	s.mu.Lock()
	errored, ok := s.state.(Errored)
	viewer := cloneViewer(s.viewer)
	s.mu.Unlock()
	if !ok || !errored.Retryable {
		return false
	}
	if errored.Kind == KindAuthenticationFailed && viewer != nil {
		if key, ok := s.engine.keys.SessionKey(viewer.ID); ok {
			s.start(&key)
			return true
		}
	}
	s.start(nil)
	return true
}

// RecoverAccess retries the session with a key supplied by the viewer. The
// key is kept for later sessions only when recovery succeeds.
func (s *Session) RecoverAccess(key model.PrivateKey) {
	s.start(&key)
}

func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.stopWatchLocked()
}

// start supersedes any running attempt with a new one.
func (s *Session) start(key *model.PrivateKey) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.gen++
	gen := s.gen
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(s.engine.ctx)
	s.cancel = cancel
	s.stopWatchLocked()
	post, viewer := s.post, cloneViewer(s.viewer)
	s.mu.Unlock()

	s.commit(gen, Idle{})
	go s.run(ctx, gen, post, viewer, key)
}

// commit applies st if gen is still current and reports whether it did.
func (s *Session) commit(gen uint64, st State) bool {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return false
	}
	s.state = st
	close(s.changed)
	s.changed = make(chan struct{})
	fns := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	if l, ok := st.(Locked); ok && s.viewer != nil && l.Reason != ReasonNoAuth {
		s.watchLocked(gen, s.post.Encrypted.OwnerID, s.viewer.ID, l.Reason)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
	return true
}

// watchLocked re-attempts a locked session when the shared status of its
// (owner, viewer) pair moves away from the lock's reason.
func (s *Session) watchLocked(gen uint64, owner, viewer model.Identity, reason Reason) {
	s.stopWatchLocked()
	s.unwatch = s.engine.grants.Cache().Subscribe(owner, viewer, func(u statuscache.Update) {
		if r, ok := reasonFor(u.Status); ok && r == reason {
			return
		}
		s.mu.Lock()
		current := s.gen == gen
		s.mu.Unlock()
		if current {
			go s.start(nil)
		}
	})
}

func (s *Session) stopWatchLocked() {
	if s.unwatch != nil {
		s.unwatch()
		s.unwatch = nil
	}
}

func (s *Session) run(ctx context.Context, gen uint64, post model.Post, viewer *model.Viewer, key *model.PrivateKey) {
	if !s.commit(gen, Loading{}) {
		return
	}
	st := s.attempt(ctx, gen, post, viewer, key)
	if st == nil || ctx.Err() != nil {
		return
	}
	s.commit(gen, st)
}

func (s *Session) attempt(ctx context.Context, gen uint64, post model.Post, viewer *model.Viewer, key *model.PrivateKey) State {
	enc := post.Encrypted
	if err := postcipher.Validate(enc); err != nil {
		return Errored{Kind: KindInvalidPostData, Message: err.Error()}
	}
	if viewer == nil || viewer.ID.IsZero() {
		return locked(ReasonNoAuth)
	}

	e := s.engine
	owner := enc.OwnerID
	path := e.resolveDecryptionPath(viewer.ID, owner)

	recovered := false
	if key != nil {
		if !s.commit(gen, Recovering{}) {
			return nil
		}
		if err := path.Recover(ctx, *key); err != nil {
			return s.recoveryFailed(ctx, path, owner, viewer.ID, err)
		}
		e.keys.SetSessionKey(viewer.ID, *key)
		recovered = true
	}

	automatic := 0
	for {
		cek, err := path.ResolveKey(ctx, enc.Epoch)
		if err == nil {
			plain, derr := postcipher.Decrypt(cek, enc, owner)
			if derr == nil {
				return Decrypted{
					Content: plain,
					Meta:    Meta{PostID: post.ID, OwnerID: owner, Epoch: enc.Epoch, ByOwner: viewer.ID == owner},
				}
			}
			err = derr
		}

		var needsRecovery bool
		switch {
		case errors.Is(err, errLocalKeysMissing) && !recovered:
			needsRecovery = true
		case errors.Is(err, model.ErrKeyMaterialOutdated), errors.Is(err, model.ErrAuthenticationFailed):
			needsRecovery = automatic < e.policy.MaxAutomatic
			automatic++
		}
		if !needsRecovery {
			return s.failure(path, err, recovered)
		}

		sessionKey, ok := e.keys.SessionKey(viewer.ID)
		if !ok {
			if errors.Is(err, model.ErrAuthenticationFailed) {
				return s.failure(path, err, recovered)
			}
			return path.missingKeys()
		}
		if !s.commit(gen, Recovering{}) {
			return nil
		}
		if err := path.Recover(ctx, sessionKey); err != nil {
			return s.recoveryFailed(ctx, path, owner, viewer.ID, err)
		}
		recovered = true
	}
}

// failure maps err to a terminal state. recovered reports whether key
// material was reloaded during the attempt; an authentication failure after
// that is final.
func (s *Session) failure(path KeyResolver, err error, recovered bool) State {
	var le lockedError
	switch {
	case errors.As(err, &le):
		return locked(le.reason)
	case errors.Is(err, errLocalKeysMissing):
		return path.missingKeys()
	case errors.Is(err, model.ErrKeyMaterialOutdated):
		// Recovery found no key for this epoch: access ended before it.
		return locked(ReasonNoKeys)
	case errors.Is(err, model.ErrOldPostUndecryptable):
		return Errored{
			Kind:    KindOldPostUndecryptable,
			Message: "This post was published before your access began and cannot be decrypted.",
		}
	case errors.Is(err, model.ErrAuthenticationFailed):
		log.Warn("post authentication failed", zap.Error(err))
		return Errored{Kind: KindAuthenticationFailed, Message: "decryption failed", Retryable: !recovered}
	}
	log.Warn("decryption attempt failed", zap.Error(err))
	return Errored{Kind: KindUnavailable, Message: "Could not reach the feed. Try again.", Retryable: true}
}

func (s *Session) recoveryFailed(ctx context.Context, path KeyResolver, owner, viewer model.Identity, err error) State {
	// Without a recoverable anchor the owner has no keys on this device.
	if _, ok := path.(*ownerPath); ok {
		log.Debug("owner recovery failed", zap.String("owner", owner.Short()), zap.Error(err))
		return path.missingKeys()
	}

	switch {
	case errors.Is(err, model.ErrRevoked):
		return locked(ReasonRevoked)
	case errors.Is(err, model.ErrAnchorNotFound):
		return locked(ReasonNoKeys)
	case errors.Is(err, model.ErrGrantNotFound):
		status, serr := s.engine.grants.GetAccessStatus(ctx, owner, viewer)
		if serr == nil {
			if r, ok := reasonFor(status); ok && r != ReasonApprovedNoKeys {
				return locked(r)
			}
		}
	}
	log.Debug("session recovery failed", zap.Error(err))
	return Errored{
		Kind:      KindRecoveryFailed,
		Message:   "Could not recover your keys. Check the encryption key and try again.",
		Retryable: true,
	}
}
