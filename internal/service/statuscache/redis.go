package statuscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"private_feed/internal/model"
	"private_feed/internal/service/redis"
	"private_feed/internal/utils/log"
)

const (
	keyPrefix      = "pf:status:"
	ownerSetPrefix = "pf:status-owner:"
	updateChannel  = "pf:status-updates"
)

type (
	// Redis shares entries between processes. Updates made by any process
	// reach local subscribers once Start has been called.
	Redis struct {
		svc    *redis.RedisService
		ttl    time.Duration
		origin string
		hub    *hub
	}

	envelope struct {
		Origin string `json:"origin"`
		Update Update `json:"update"`
	}
)

func NewRedis(svc *redis.RedisService, ttl time.Duration) *Redis {
	return &Redis{
		svc:    svc,
		ttl:    ttl,
		origin: uuid.NewString(),
		hub:    newHub(),
	}
}

// Start relays updates published by other processes until ctx is done.
func (r *Redis) Start(ctx context.Context) error {
	return r.svc.Subscribe(ctx, updateChannel, func(payload string) {
		var env envelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			log.Warn("drop malformed status update", zap.Error(err))
			return
		}
		if env.Origin == r.origin {
			return
		}
		r.hub.publish(env.Update)
	})
}

func entryKey(owner, viewer model.Identity) string {
	return keyPrefix + owner.String() + ":" + viewer.String()
}

func (r *Redis) Get(ctx context.Context, owner, viewer model.Identity) (model.AccessStatus, bool, error) {
	v, ok, err := r.svc.Get(ctx, entryKey(owner, viewer))
	if err != nil || !ok {
		return "", false, err
	}
	return model.AccessStatus(v), true, nil
}

func (r *Redis) Set(ctx context.Context, owner, viewer model.Identity, status model.AccessStatus) error {
	key := entryKey(owner, viewer)
	if err := r.svc.Set(ctx, key, string(status), r.ttl); err != nil {
		return err
	}
	ownerSet := ownerSetPrefix + owner.String()
	if err := r.svc.SAdd(ctx, ownerSet, key); err != nil {
		return err
	}
	if r.ttl > 0 {
		if err := r.svc.Expire(ctx, ownerSet, r.ttl); err != nil {
			return err
		}
	}
	return r.broadcast(ctx, Update{Owner: owner, Viewer: viewer, Status: status})
}

func (r *Redis) Invalidate(ctx context.Context, owner, viewer model.Identity) error {
	if err := r.svc.Del(ctx, entryKey(owner, viewer)); err != nil {
		return err
	}
	return r.broadcast(ctx, Update{Owner: owner, Viewer: viewer})
}

func (r *Redis) InvalidateOwner(ctx context.Context, owner model.Identity) error {
	ownerSet := ownerSetPrefix + owner.String()
	keys, err := r.svc.SMembers(ctx, ownerSet)
	if err != nil {
		return err
	}
	if err := r.svc.Del(ctx, append(keys, ownerSet)...); err != nil {
		return err
	}
	return r.broadcast(ctx, Update{Owner: owner})
}

func (r *Redis) Subscribe(owner, viewer model.Identity, fn func(Update)) func() {
	return r.hub.subscribe(owner, viewer, fn)
}

func (r *Redis) broadcast(ctx context.Context, u Update) error {
	r.hub.publish(u)

	data, err := json.Marshal(envelope{Origin: r.origin, Update: u})
	if err != nil {
		return err
	}
	return r.svc.Publish(ctx, updateChannel, data)
}

var _ Cache = (*Redis)(nil)
