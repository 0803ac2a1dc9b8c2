package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"private_feed/internal/model"
	"private_feed/internal/repository"
	"private_feed/internal/repository/memstore"
	"private_feed/internal/service/redis"
)

var owner = model.Identity{0x0A}

// attach registers a watcher without a socket so tests can read its queue.
func attach(s *HttpServer, id, owner string) chan repository.Event {
	ch := make(chan repository.Event, watchBuffer)
	s.mu.Lock()
	s.watchers[id] = &watcher{owner: owner, send: ch}
	s.mu.Unlock()
	return ch
}

func TestHandlers(t *testing.T) {
	ts := httptest.NewServer(NewHttpServer(memstore.New(), nil).Handler())
	defer ts.Close()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown type", http.MethodGet, "/docs/bogus", "", http.StatusBadRequest},
		{"empty list", http.MethodGet, "/docs/grant?owner=" + owner.String(), "", http.StatusOK},
		{"malformed body", http.MethodPost, "/docs/grant", "{", http.StatusBadRequest},
		{"bad owner", http.MethodPost, "/docs/grant", `{"ownerId":"zz"}`, http.StatusBadRequest},
		{"create", http.MethodPost, "/docs/grant", `{"ownerId":"` + owner.String() + `","fields":{"a":"b"}}`, http.StatusCreated},
		{"delete missing", http.MethodDelete, "/docs/nope?owner=" + owner.String(), "", http.StatusNotFound},
		{"delete without owner", http.MethodDelete, "/docs/nope", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			resp, err := ts.Client().Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestBroadcastFiltersByOwner(t *testing.T) {
	s := NewHttpServer(memstore.New(), nil)
	mine := attach(s, "mine", owner.String())
	all := attach(s, "all", "")
	other := attach(s, "other", model.Identity{0x0B}.String())

	_, err := s.store.Create(context.Background(), repository.TypeGrant, owner, nil)
	require.NoError(t, err)

	assert.Len(t, mine, 1)
	assert.Len(t, all, 1)
	assert.Empty(t, other)
}

func TestSlowWatcherDropped(t *testing.T) {
	s := NewHttpServer(memstore.New(), nil)
	ch := attach(s, "slow", "")

	for i := 0; i <= watchBuffer; i++ {
		s.broadcast(repository.Event{Op: repository.OpCreate, OwnerID: owner.String()})
	}

	s.mu.RLock()
	_, ok := s.watchers["slow"]
	s.mu.RUnlock()
	assert.False(t, ok)

	n := 0
	for range ch {
		n++
	}
	assert.Equal(t, watchBuffer, n)
}

func TestRelayAcrossReplicas(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mr := miniredis.RunT(t)
	newService := func() *redis.RedisService {
		rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		return redis.NewRedis(rdb)
	}

	// Replicas share one backing store, as they would with mongo.
	store := memstore.New()
	a := NewHttpServer(store, newService())
	b := NewHttpServer(store, newService())
	require.NoError(t, a.relayEvents(ctx))
	require.NoError(t, b.relayEvents(ctx))

	onA := attach(a, "w", "")
	onB := attach(b, "w", "")

	doc, err := a.store.Create(ctx, repository.TypeFollowRequest, owner, repository.Fields{"requesterId": "r"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(onB) == 1 }, 2*time.Second, 10*time.Millisecond)
	ev := <-onB
	assert.Equal(t, doc.ID, ev.ID)
	assert.Equal(t, "r", ev.Fields["requesterId"])

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, onA, 1)
}
