package relay

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/orbit/internal/domain"
)

// Presence mirrors room membership to an external store.
type Presence interface {
	Add(ctx context.Context, room domain.RoomID, p domain.ParticipantID)
	Remove(ctx context.Context, room domain.RoomID, p domain.ParticipantID)
}

type NopPresence struct{}

func (NopPresence) Add(context.Context, domain.RoomID, domain.ParticipantID)    {}
func (NopPresence) Remove(context.Context, domain.RoomID, domain.ParticipantID) {}

// RedisPresence keeps `room:<id>:peers` sets for other services to read.
// Failures are logged; membership on the relay stays authoritative.
type RedisPresence struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisPresence(rdb redis.UniversalClient) *RedisPresence {
	return &RedisPresence{rdb: rdb, ttl: 24 * time.Hour}
}

func peersKey(room domain.RoomID) string { return "room:" + string(room) + ":peers" }

func (r *RedisPresence) Add(ctx context.Context, room domain.RoomID, p domain.ParticipantID) {
	key := peersKey(room)
	if err := r.rdb.SAdd(ctx, key, string(p)).Err(); err != nil {
		log.Warn().Err(err).Str("module", "relay.presence").Str("room", string(room)).Msg("sadd failed")
		return
	}
	r.rdb.Expire(ctx, key, r.ttl)
}

func (r *RedisPresence) Remove(ctx context.Context, room domain.RoomID, p domain.ParticipantID) {
	if err := r.rdb.SRem(ctx, peersKey(room), string(p)).Err(); err != nil {
		log.Warn().Err(err).Str("module", "relay.presence").Str("room", string(room)).Msg("srem failed")
	}
}
