package events

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventDeduper answers whether an event id is seen for the first time.
type EventDeduper interface {
	AcquireOnce(ctx context.Context, eventID string) bool
}

// Deduper implements EventDeduper on redis SETNX with a TTL. Change
// notifications can be redelivered; this keeps a redelivered event from
// enqueueing the same lifecycle email twice.
type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	return &Deduper{rdb: rdb, ttl: ttl, logger: logger}
}

// AcquireOnce returns true the first time an event id is seen within the
// TTL. If redis is unreachable the event is allowed through: a duplicate
// email beats a dropped one.
func (d *Deduper) AcquireOnce(ctx context.Context, eventID string) bool {
	key := "dedup:event:" + eventID

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		d.logger.Warn("dedupe check failed, allowing event",
			zap.String("event_id", eventID),
			zap.Error(err),
		)
		return true
	}

	if !ok {
		d.logger.Info("skipped duplicate event", zap.String("event_id", eventID))
	}

	return ok
}
