package statuscache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"private_feed/internal/model"
	"private_feed/internal/repository"
	"private_feed/internal/service/redis"
)

var (
	owner  = model.Identity{0x0A}
	viewer = model.Identity{0x0B}
	other  = model.Identity{0x0C}
)

type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) record(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) snapshot() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

// exerciseCache runs the behaviour every Cache shares.
func exerciseCache(t *testing.T, c Cache) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := c.Get(ctx, owner, viewer)
	require.NoError(t, err)
	assert.False(t, ok)

	rec := &recorder{}
	unsubscribe := c.Subscribe(owner, viewer, rec.record)

	require.NoError(t, c.Set(ctx, owner, viewer, model.StatusPending))
	require.NoError(t, c.Set(ctx, owner, other, model.StatusApproved))

	st, ok, err := c.Get(ctx, owner, viewer)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.StatusPending, st)

	require.NoError(t, c.Invalidate(ctx, owner, viewer))
	_, ok, err = c.Get(ctx, owner, viewer)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, owner, viewer, model.StatusNoKeys))
	require.NoError(t, c.InvalidateOwner(ctx, owner))
	for _, v := range []model.Identity{viewer, other} {
		_, ok, err = c.Get(ctx, owner, v)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	got := rec.snapshot()
	require.Len(t, got, 4)
	assert.Equal(t, model.StatusPending, got[0].Status)
	assert.Equal(t, Update{Owner: owner, Viewer: viewer}, got[1])
	assert.Equal(t, model.StatusNoKeys, got[2].Status)
	assert.Equal(t, Update{Owner: owner}, got[3])

	unsubscribe()
	require.NoError(t, c.Set(ctx, owner, viewer, model.StatusRevoked))
	assert.Len(t, rec.snapshot(), 4)
}

func TestMemory(t *testing.T) {
	exerciseCache(t, NewMemory(0))
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	c := NewMemory(time.Minute)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, owner, viewer, model.StatusPending))
	_, ok, _ := c.Get(ctx, owner, viewer)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = c.Get(ctx, owner, viewer)
	assert.False(t, ok)
}

func TestMemorySetSameStatusIsQuiet(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(0)
	rec := &recorder{}
	c.Subscribe(owner, viewer, rec.record)

	require.NoError(t, c.Set(ctx, owner, viewer, model.StatusPending))
	require.NoError(t, c.Set(ctx, owner, viewer, model.StatusPending))
	assert.Len(t, rec.snapshot(), 1)
}

func newRedisService(t *testing.T, mr *miniredis.Miniredis) *redis.RedisService {
	t.Helper()
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return redis.NewRedis(rdb)
}

func TestRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	exerciseCache(t, NewRedis(newRedisService(t, mr), time.Hour))
}

func TestRedisTTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	c := NewRedis(newRedisService(t, mr), time.Minute)

	require.NoError(t, c.Set(ctx, owner, viewer, model.StatusApproved))
	mr.FastForward(2 * time.Minute)

	_, ok, err := c.Get(ctx, owner, viewer)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisRelaysBetweenProcesses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mr := miniredis.RunT(t)

	a := NewRedis(newRedisService(t, mr), time.Hour)
	b := NewRedis(newRedisService(t, mr), time.Hour)
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))

	recA, recB := &recorder{}, &recorder{}
	a.Subscribe(owner, viewer, recA.record)
	b.Subscribe(owner, viewer, recB.record)

	require.NoError(t, a.Set(ctx, owner, viewer, model.StatusRevoked))

	require.Eventually(t, func() bool {
		return len(recB.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, model.StatusRevoked, recB.snapshot()[0].Status)

	st, ok, err := b.Get(ctx, owner, viewer)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.StatusRevoked, st)

	// a's own update is delivered once, not echoed back through redis.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, recA.snapshot(), 1)
}

func TestInvalidator(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(0)
	invalidate := Invalidator(ctx, c)

	cached := func(v model.Identity) bool {
		_, ok, err := c.Get(ctx, owner, v)
		require.NoError(t, err)
		return ok
	}

	require.NoError(t, c.Set(ctx, owner, viewer, model.StatusPending))
	require.NoError(t, c.Set(ctx, owner, other, model.StatusApproved))

	invalidate(repository.Event{
		Op:      repository.OpCreate,
		Type:    repository.TypeFeedState,
		OwnerID: owner.String(),
	})
	assert.True(t, cached(viewer))

	invalidate(repository.Event{
		Op:      repository.OpCreate,
		Type:    repository.TypeGrant,
		OwnerID: owner.String(),
		Fields:  repository.Fields{"followerId": viewer.String()},
	})
	assert.False(t, cached(viewer))
	assert.True(t, cached(other))

	invalidate(repository.Event{Op: repository.OpDelete, ID: "x", OwnerID: owner.String()})
	assert.False(t, cached(other))
}

func TestMemoryClear(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(0)

	rec := &recorder{}
	defer c.Subscribe(other, viewer, rec.record)()

	require.NoError(t, c.Set(ctx, owner, viewer, model.StatusApproved))
	require.NoError(t, c.Clear(ctx))

	_, ok, err := c.Get(ctx, owner, viewer)
	require.NoError(t, err)
	assert.False(t, ok)

	// other has no entry but a subscriber, which still hears the drop.
	require.Len(t, rec.snapshot(), 1)
	assert.Equal(t, Update{Owner: other}, rec.snapshot()[0])
}
