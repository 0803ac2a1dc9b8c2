package statuscache

import (
	"context"

	"go.uber.org/zap"

	"private_feed/internal/repository"
	"private_feed/internal/repository/feed"
	"private_feed/internal/utils/log"
)

// Invalidator drops the cache entries a store change may have made stale.
// Feed it the events of a document store watch.
func Invalidator(ctx context.Context, c Cache) func(repository.Event) {
	return func(ev repository.Event) {
		owner, viewer, ok := feed.EventScope(ev)
		if !ok {
			return
		}

		var err error
		if viewer.IsZero() {
			err = c.InvalidateOwner(ctx, owner)
		} else {
			err = c.Invalidate(ctx, owner, viewer)
		}
		if err != nil {
			log.Warn("invalidate status failed",
				zap.String("owner", owner.Short()),
				zap.String("op", ev.Op),
				zap.Error(err))
		}
	}
}
