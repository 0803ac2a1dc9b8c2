package access

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"private_feed/internal/keystore"
	"private_feed/internal/model"
	"private_feed/internal/protocol/epochchain"
	"private_feed/internal/repository"
	"private_feed/internal/repository/feed"
	"private_feed/internal/service/grant"
	"private_feed/internal/service/statuscache"
	"private_feed/internal/testutil"
)

const waitTimeout = 5 * time.Second

func waitTerminal(t *testing.T, s *Session) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	st, err := s.Wait(ctx)
	require.NoError(t, err)
	return st
}

func eventually(t *testing.T, s *Session, want func(State) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return want(s.State()) }, waitTimeout, 5*time.Millisecond)
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(st State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, st)
}

func (l *stateLog) kinds() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.states))
	for _, st := range l.states {
		switch st.(type) {
		case Idle:
			out = append(out, "idle")
		case Loading:
			out = append(out, "loading")
		case Recovering:
			out = append(out, "recovering")
		case Decrypted:
			out = append(out, "decrypted")
		case Locked:
			out = append(out, "locked")
		case Errored:
			out = append(out, "errored")
		}
	}
	return out
}

func (l *stateLog) count(kind string) int {
	n := 0
	for _, k := range l.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

type world struct {
	t        *testing.T
	f        *testutil.Fixture
	owner    testutil.Identity
	ownerDev *grant.Manager
}

func newWorld(t *testing.T, opts ...grant.Option) *world {
	f := testutil.NewFixture()
	w := &world{t: t, f: f, owner: testutil.NewIdentity(t), ownerDev: f.Device(opts...)}
	_, err := w.ownerDev.InitFeed(context.Background(), w.owner.ID, w.owner.Priv)
	require.NoError(t, err)
	return w
}

func (w *world) publish(text string) model.Post {
	w.t.Helper()
	enc, err := w.ownerDev.Publish(context.Background(), w.owner.ID, w.owner.Priv, []byte(text))
	require.NoError(w.t, err)
	return model.Post{ID: text, Encrypted: enc}
}

func (w *world) rotate() {
	w.t.Helper()
	_, err := w.ownerDev.Rotate(context.Background(), w.owner.ID, w.owner.Priv)
	require.NoError(w.t, err)
}

// approve files and approves a request from follower on a fresh device.
func (w *world) approve(follower testutil.Identity) *grant.Manager {
	w.t.Helper()
	ctx := context.Background()
	dev := w.f.Device()
	_, err := dev.RequestAccess(ctx, w.owner.ID, *follower.Viewer())
	require.NoError(w.t, err)
	_, err = w.ownerDev.Approve(ctx, w.owner.ID, w.owner.Priv, follower.ID)
	require.NoError(w.t, err)
	return dev
}

func TestNotSignedIn(t *testing.T) {
	w := newWorld(t)
	post := w.publish("secret")
	e := NewEngine(w.f.Device())

	st := waitTerminal(t, e.AttemptDecryption(post, nil))
	assert.Equal(t, Locked{Reason: ReasonNoAuth, Actions: []Action{ActionLogIn}}, st)
}

func TestInvalidPostData(t *testing.T) {
	w := newWorld(t)
	post := w.publish("secret")
	post.Encrypted.Nonce = [model.NonceSize]byte{}
	e := NewEngine(w.ownerDev)

	s := e.AttemptDecryption(post, w.owner.Viewer())
	st := waitTerminal(t, s)
	errored, ok := st.(Errored)
	require.True(t, ok, "got %#v", st)
	assert.Equal(t, KindInvalidPostData, errored.Kind)
	assert.False(t, errored.Retryable)
	assert.False(t, s.Retry())
}

func TestOwnerDecrypts(t *testing.T) {
	w := newWorld(t)
	post := w.publish("my own post")
	e := NewEngine(w.ownerDev)

	st := waitTerminal(t, e.AttemptDecryption(post, w.owner.Viewer()))
	d, ok := st.(Decrypted)
	require.True(t, ok, "got %#v", st)
	assert.Equal(t, "my own post", string(d.Content))
	assert.True(t, d.Meta.ByOwner)
	assert.Equal(t, post.ID, d.Meta.PostID)
}

// Owner at epoch 5 reads an epoch 3 post by deriving from the cached epoch 5
// key; the seed chain is never regenerated.
func TestOwnerDerivesWithoutRegenerating(t *testing.T) {
	w := newWorld(t, grant.WithMaxEpoch(10))
	for i := 0; i < 3; i++ {
		w.rotate()
	}
	p1 := w.publish("epoch three")
	require.Equal(t, model.Epoch(3), p1.Encrypted.Epoch)
	w.rotate()
	w.rotate()

	latest, ok := w.ownerDev.Keys().Latest(w.owner.ID)
	require.True(t, ok)
	require.Equal(t, model.Epoch(5), latest.Epoch)

	var generated atomic.Int32
	e := NewEngine(w.ownerDev)
	e.generate = func(segments []model.Segment, maxEpoch, epoch model.Epoch) (model.CEK, error) {
		generated.Add(1)
		return epochchain.SegmentKey(segments, maxEpoch, epoch)
	}

	st := waitTerminal(t, e.AttemptDecryption(p1, w.owner.Viewer()))
	d, ok := st.(Decrypted)
	require.True(t, ok, "got %#v", st)
	assert.Equal(t, "epoch three", string(d.Content))
	assert.Zero(t, generated.Load())
}

func TestOwnerNewDevice(t *testing.T) {
	w := newWorld(t)
	post := w.publish("from another device")

	dev := w.f.Device()
	e := NewEngine(dev)
	st := waitTerminal(t, e.AttemptDecryption(post, w.owner.Viewer()))
	assert.Equal(t, locked(ReasonNoKeys), st)

	dev.Keys().SetSessionKey(w.owner.ID, w.owner.Priv)
	log := &stateLog{}
	s := e.AttemptDecryption(post, w.owner.Viewer())
	s.Subscribe(log.record)
	st = waitTerminal(t, s)
	d, ok := st.(Decrypted)
	require.True(t, ok, "got %#v", st)
	assert.Equal(t, "from another device", string(d.Content))
}

// failingFeedState fails every anchor lookup.
type failingFeedState struct {
	repository.Store
}

func (s failingFeedState) Get(ctx context.Context, docType repository.DocumentType, filter repository.Filter) ([]repository.Document, error) {
	if docType == repository.TypeFeedState {
		return nil, errors.New("store unavailable")
	}
	return s.Store.Get(ctx, docType, filter)
}

func TestOwnerNewDeviceFailedRecovery(t *testing.T) {
	w := newWorld(t)
	post := w.publish("unrecoverable here")
	stranger := testutil.NewIdentity(t)

	tests := []struct {
		name string
		dev  func() *grant.Manager
		key  model.PrivateKey
	}{
		{"wrong key", func() *grant.Manager { return w.f.Device() }, stranger.Priv},
		{"store error", func() *grant.Manager {
			store := failingFeedState{w.f.Store}
			return grant.NewManager(feed.NewFeedRepo(store), keystore.New(), statuscache.NewMemory(0))
		}, w.owner.Priv},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dev := tc.dev()
			dev.Keys().SetSessionKey(w.owner.ID, tc.key)

			log := &stateLog{}
			s := newSession(NewEngine(dev), post, w.owner.Viewer())
			s.Subscribe(log.record)
			s.start(nil)

			st := waitTerminal(t, s)
			assert.Equal(t, locked(ReasonNoKeys), st)
			assert.Equal(t, 1, log.count("recovering"))
		})
	}
}

// Pending request locks every post as pending; after cancelling, a fresh
// session locks as no-keys.
func TestPendingThenCancel(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	post := w.publish("members only")
	viewer := testutil.NewIdentity(t)
	e := NewEngine(w.f.Device())

	st := waitTerminal(t, e.AttemptDecryption(post, viewer.Viewer()))
	assert.Equal(t, locked(ReasonNoKeys), st)

	status, err := e.RequestAccess(ctx, w.owner.ID, *viewer.Viewer())
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, status)
	status, err = e.RequestAccess(ctx, w.owner.ID, *viewer.Viewer())
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, status)
	reqs, err := w.ownerDev.ListRequests(ctx, w.owner.ID)
	require.NoError(t, err)
	require.Len(t, reqs, 1)

	open := e.AttemptDecryption(post, viewer.Viewer())
	st = waitTerminal(t, open)
	assert.Equal(t, Locked{Reason: ReasonPending, Actions: []Action{ActionCancelRequest}}, st)

	status, err = e.CancelRequest(ctx, w.owner.ID, viewer.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusNoKeys, status)

	st = waitTerminal(t, e.AttemptDecryption(post, viewer.Viewer()))
	assert.Equal(t, locked(ReasonNoKeys), st)

	// The session that was open while pending follows the change.
	eventually(t, open, func(s State) bool {
		l, ok := s.(Locked)
		return ok && l.Reason == ReasonNoKeys
	})
}

// Valid grant, empty key store: the wrong key fails recovery without
// tearing the session down, the right key decrypts.
func TestNewDeviceRecovery(t *testing.T) {
	w := newWorld(t)
	post := w.publish("for followers")
	follower := testutil.NewIdentity(t)
	w.approve(follower)

	e := NewEngine(w.f.Device())
	s := e.AttemptDecryption(post, follower.Viewer())
	st := waitTerminal(t, s)
	assert.Equal(t, Locked{Reason: ReasonApprovedNoKeys, Actions: []Action{ActionRecoverAccess}}, st)

	s.RecoverAccess(testutil.NewIdentity(t).Priv)
	st = waitTerminal(t, s)
	errored, ok := st.(Errored)
	require.True(t, ok, "got %#v", st)
	assert.Equal(t, KindRecoveryFailed, errored.Kind)
	assert.True(t, errored.Retryable)
	_, held := e.keys.SessionKey(follower.ID)
	assert.False(t, held, "a rejected key is not kept")

	log := &stateLog{}
	s.Subscribe(log.record)
	s.RecoverAccess(follower.Priv)
	st = waitTerminal(t, s)
	d, ok := st.(Decrypted)
	require.True(t, ok, "got %#v", st)
	assert.Equal(t, "for followers", string(d.Content))
	assert.Equal(t, []string{"idle", "loading", "recovering", "decrypted"}, log.kinds())
}

func TestSessionKeyRecoversSilently(t *testing.T) {
	w := newWorld(t)
	post := w.publish("quiet")
	follower := testutil.NewIdentity(t)
	w.approve(follower)

	dev := w.f.Device()
	dev.Keys().SetSessionKey(follower.ID, follower.Priv)
	e := NewEngine(dev)

	log := &stateLog{}
	s := newSession(e, post, follower.Viewer())
	s.Subscribe(log.record)
	s.start(nil)
	st := waitTerminal(t, s)
	require.IsType(t, Decrypted{}, st)
	assert.Equal(t, []string{"idle", "loading", "recovering", "decrypted"}, log.kinds())
}

func TestEngineRecoverAccessWakesLockedSessions(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	post := w.publish("wake up")
	follower := testutil.NewIdentity(t)
	w.approve(follower)

	e := NewEngine(w.f.Device())
	s := e.AttemptDecryption(post, follower.Viewer())
	require.Equal(t, ReasonApprovedNoKeys, waitTerminal(t, s).(Locked).Reason)

	err := e.RecoverAccess(ctx, w.owner.ID, follower.ID, testutil.NewIdentity(t).Priv)
	require.ErrorIs(t, err, model.ErrRecoveryFailed)

	require.NoError(t, e.RecoverAccess(ctx, w.owner.ID, follower.ID, follower.Priv))
	eventually(t, s, func(st State) bool {
		d, ok := st.(Decrypted)
		return ok && string(d.Content) == "wake up"
	})
}

// After a rotation the cached key is below the post; one automatic
// recovery picks up the rekey entry.
func TestOutdatedKeysRecoverAutomatically(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	w.publish("old")
	follower := testutil.NewIdentity(t)
	w.approve(follower)

	e := NewEngine(w.f.Device())
	require.NoError(t, e.RecoverAccess(ctx, w.owner.ID, follower.ID, follower.Priv))

	w.rotate()
	post := w.publish("new")

	st := waitTerminal(t, e.AttemptDecryption(post, follower.Viewer()))
	d, ok := st.(Decrypted)
	require.True(t, ok, "got %#v", st)
	assert.Equal(t, "new", string(d.Content))
}

func TestOutdatedKeysWithoutSessionKey(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	w.publish("old")
	follower := testutil.NewIdentity(t)
	dev := w.approve(follower)
	require.NoError(t, dev.RecoverFollowerKeys(ctx, w.owner.ID, follower.ID, follower.Priv))

	w.rotate()
	post := w.publish("new")

	st := waitTerminal(t, NewEngine(dev).AttemptDecryption(post, follower.Viewer()))
	assert.Equal(t, locked(ReasonApprovedNoKeys), st)
}

func TestRevokedFollowerIsLocked(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	w.publish("before")
	follower := testutil.NewIdentity(t)
	w.approve(follower)

	e := NewEngine(w.f.Device())
	require.NoError(t, e.RecoverAccess(ctx, w.owner.ID, follower.ID, follower.Priv))
	require.NoError(t, w.ownerDev.Revoke(ctx, w.owner.ID, w.owner.Priv, follower.ID))
	post := w.publish("after")

	st := waitTerminal(t, e.AttemptDecryption(post, follower.Viewer()))
	assert.Equal(t, Locked{Reason: ReasonRevoked}, st)
	assert.NotEqual(t, Errored{Kind: KindOldPostUndecryptable}, st)
}

// A device whose own status cache still says approved must notice the
// revocation from the store rather than fall back to no-keys.
func TestRevokedWhileApprovalCached(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	follower := testutil.NewIdentity(t)
	w.approve(follower)
	before := w.publish("before")

	dev := grant.NewManager(w.f.Repo, keystore.New(), statuscache.NewMemory(0))
	require.NoError(t, dev.RecoverFollowerKeys(ctx, w.owner.ID, follower.ID, follower.Priv))
	e := NewEngine(dev)
	require.IsType(t, Decrypted{}, waitTerminal(t, e.AttemptDecryption(before, follower.Viewer())))

	cached, ok, err := dev.Cache().Get(ctx, w.owner.ID, follower.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, model.StatusApproved, cached)

	require.NoError(t, w.ownerDev.Revoke(ctx, w.owner.ID, w.owner.Priv, follower.ID))
	after := w.publish("after")

	st := waitTerminal(t, e.AttemptDecryption(after, follower.Viewer()))
	assert.Equal(t, locked(ReasonRevoked), st)
	assert.False(t, dev.Keys().HasKeys(w.owner.ID))

	cached, _, err = dev.Cache().Get(ctx, w.owner.ID, follower.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRevoked, cached)
}

func TestOldPostUndecryptable(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t, grant.WithMaxEpoch(1))
	old := w.publish("first segment")
	w.rotate()
	w.rotate()
	post := w.publish("second segment")
	require.Equal(t, model.Epoch(2), post.Encrypted.Epoch)

	follower := testutil.NewIdentity(t)
	w.approve(follower)
	e := NewEngine(w.f.Device())
	require.NoError(t, e.RecoverAccess(ctx, w.owner.ID, follower.ID, follower.Priv))

	st := waitTerminal(t, e.AttemptDecryption(post, follower.Viewer()))
	require.IsType(t, Decrypted{}, st)

	s := e.AttemptDecryption(old, follower.Viewer())
	st = waitTerminal(t, s)
	errored, ok := st.(Errored)
	require.True(t, ok, "got %#v", st)
	assert.Equal(t, KindOldPostUndecryptable, errored.Kind)
	assert.False(t, errored.Retryable)
	assert.False(t, s.Retry())
}

func TestAuthenticationFailureRetryPolicy(t *testing.T) {
	tests := []struct {
		name       string
		policy     RetryPolicy
		recoveries int
	}{
		{"one automatic", DefaultRetryPolicy, 1},
		{"manual only", RetryPolicy{MaxAutomatic: 0}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := newWorld(t)
			post := w.publish("tamper with me")
			post.Encrypted.Ciphertext[0] ^= 0xFF
			w.ownerDev.Keys().SetSessionKey(w.owner.ID, w.owner.Priv)

			e := NewEngine(w.ownerDev, WithRetryPolicy(tc.policy))
			log := &stateLog{}
			s := newSession(e, post, w.owner.Viewer())
			s.Subscribe(log.record)
			s.start(nil)

			st := waitTerminal(t, s)
			errored, ok := st.(Errored)
			require.True(t, ok, "got %#v", st)
			assert.Equal(t, KindAuthenticationFailed, errored.Kind)
			assert.Equal(t, "decryption failed", errored.Message)
			assert.Equal(t, tc.recoveries, log.count("recovering"))

			// One recovery is allowed in total; after it the failure is final.
			if tc.recoveries == 0 {
				require.True(t, errored.Retryable)
				require.True(t, s.Retry())
				st = waitTerminal(t, s)
				errored, ok = st.(Errored)
				require.True(t, ok, "got %#v", st)
				assert.Equal(t, KindAuthenticationFailed, errored.Kind)
				assert.Equal(t, 1, log.count("recovering"))
			}
			assert.False(t, errored.Retryable)
			assert.False(t, s.Retry())
		})
	}
}

func TestUpdateResetsSession(t *testing.T) {
	w := newWorld(t)
	first := w.publish("first")
	second := w.publish("second")
	e := NewEngine(w.ownerDev)

	s := e.AttemptDecryption(first, w.owner.Viewer())
	s.Update(second, w.owner.Viewer())
	st := waitTerminal(t, s)
	d, ok := st.(Decrypted)
	require.True(t, ok, "got %#v", st)
	assert.Equal(t, "second", string(d.Content))

	s.Update(second, nil)
	assert.Equal(t, locked(ReasonNoAuth), waitTerminal(t, s))
}

func TestCommitDropsStaleGenerations(t *testing.T) {
	w := newWorld(t)
	e := NewEngine(w.ownerDev)
	s := newSession(e, w.publish("x"), w.owner.Viewer())

	s.mu.Lock()
	s.gen = 2
	s.mu.Unlock()

	assert.False(t, s.commit(1, Decrypted{Content: []byte("stale")}))
	assert.Equal(t, Idle{}, s.State())
	assert.True(t, s.commit(2, Loading{}))
}

func TestClosedSessionIgnoresResults(t *testing.T) {
	w := newWorld(t)
	e := NewEngine(w.ownerDev)
	s := e.AttemptDecryption(w.publish("closing"), w.owner.Viewer())
	s.Close()
	s.RecoverAccess(w.owner.Priv)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	st, err := s.Wait(ctx)
	if err != nil {
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	}
	assert.NotNil(t, st)
}

func TestReasonMessagesAreDistinct(t *testing.T) {
	seen := map[string]Reason{}
	for _, r := range []Reason{ReasonNoKeys, ReasonNoAuth, ReasonRevoked, ReasonApprovedNoKeys, ReasonPending} {
		msg := r.Message()
		require.NotEqual(t, string(r), msg)
		_, dup := seen[msg]
		require.False(t, dup, "duplicate message for %s", r)
		seen[msg] = r
	}
}

func TestReasonErrors(t *testing.T) {
	tests := []struct {
		reason Reason
		want   error
	}{
		{ReasonNoAuth, model.ErrNotAuthenticated},
		{ReasonNoKeys, model.ErrNoKeys},
		{ReasonPending, model.ErrPending},
		{ReasonRevoked, model.ErrRevoked},
		{ReasonApprovedNoKeys, model.ErrApprovedNoKeys},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, tt.reason.Err(), tt.want, "reason %s", tt.reason)
	}
}
