package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/orbit/internal/core"
	"github.com/dkeye/orbit/internal/domain"
)

const membersTTL = 24 * time.Hour

func roomEventsKey(room domain.RoomID) string  { return "room:" + string(room) + ":events" }
func roomMembersKey(room domain.RoomID) string { return "room:" + string(room) + ":members" }
func inboxKey(p domain.ParticipantID) string   { return "peer:" + string(p) + ":inbox" }

// RedisChannel signals through Redis pub/sub so participants on different
// hosts can meet without a relay process. Membership lives in a set per room.
type RedisChannel struct {
	rdb    redis.UniversalClient
	d      *dispatcher
	logger zerolog.Logger

	mu     sync.Mutex
	ps     *redis.PubSub
	inbox  map[domain.ParticipantID]int
	loopWG sync.WaitGroup
}

func NewRedisChannel(rdb redis.UniversalClient) *RedisChannel {
	logger := log.With().Str("module", "signaling.redis").Logger()
	return &RedisChannel{
		rdb:    rdb,
		d:      newDispatcher(logger),
		logger: logger,
		inbox:  make(map[domain.ParticipantID]int),
	}
}

func (c *RedisChannel) On(kind EventKind, h Handler) { c.d.on(kind, h) }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", core.ErrChannelUnavailable, err)
}

// subscribe adds channels to the shared subscription, creating it on first
// use and waiting for the server to confirm.
func (c *RedisChannel) subscribe(ctx context.Context, channels ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ps != nil {
		return c.ps.Subscribe(ctx, channels...)
	}
	ps := c.rdb.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return err
	}
	c.ps = ps
	c.loopWG.Add(1)
	go c.loop(ps.Channel())
	return nil
}

func (c *RedisChannel) Join(ctx context.Context, room domain.RoomID, self domain.ParticipantID) error {
	if c.d.state(room, self) != notJoined {
		return fmt.Errorf("%s in %s: %w", self, room, core.ErrAlreadyJoined)
	}
	c.d.begin(room, self)

	members, err := c.rdb.SMembers(ctx, roomMembersKey(room)).Result()
	if err != nil {
		c.d.abort(room, self)
		return unavailable(err)
	}
	if err := c.subscribe(ctx, inboxKey(self), roomEventsKey(room)); err != nil {
		c.d.abort(room, self)
		return unavailable(err)
	}
	c.mu.Lock()
	c.inbox[self]++
	c.mu.Unlock()

	pipe := c.rdb.TxPipeline()
	pipe.SAdd(ctx, roomMembersKey(room), string(self))
	pipe.Expire(ctx, roomMembersKey(room), membersTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		c.d.abort(room, self)
		return unavailable(err)
	}
	if err := c.publish(ctx, roomEventsKey(room), Envelope{Type: TypeMemberJoined, Room: room, Participant: self}); err != nil {
		c.d.abort(room, self)
		return err
	}

	existing := make([]domain.ParticipantID, 0, len(members))
	for _, m := range members {
		existing = append(existing, domain.ParticipantID(m))
	}
	c.d.complete(room, self, existing)
	c.logger.Info().Str("room", string(room)).Str("self", string(self)).Int("members", len(existing)).Msg("joined")
	return nil
}

func (c *RedisChannel) Leave(ctx context.Context, room domain.RoomID, self domain.ParticipantID) error {
	if c.d.state(room, self) == notJoined {
		return fmt.Errorf("%s in %s: %w", self, room, core.ErrNotJoined)
	}
	c.d.left(room, self)
	if err := c.rdb.SRem(ctx, roomMembersKey(room), string(self)).Err(); err != nil {
		return unavailable(err)
	}
	if err := c.publish(ctx, roomEventsKey(room), Envelope{Type: TypeMemberLeft, Room: room, Participant: self}); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ps == nil {
		return nil
	}
	var drop []string
	if c.inbox[self]--; c.inbox[self] <= 0 {
		delete(c.inbox, self)
		drop = append(drop, inboxKey(self))
	}
	if !c.roomInUseLocked(room) {
		drop = append(drop, roomEventsKey(room))
	}
	if len(drop) > 0 {
		if err := c.ps.Unsubscribe(ctx, drop...); err != nil {
			return unavailable(err)
		}
	}
	return nil
}

func (c *RedisChannel) roomInUseLocked(room domain.RoomID) bool {
	for _, m := range c.d.memberships() {
		if m.room == room {
			return true
		}
	}
	return false
}

func (c *RedisChannel) Send(ctx context.Context, msg domain.NegotiationMessage) error {
	if c.d.state(msg.Room, msg.From) != joined {
		return fmt.Errorf("%s in %s: %w", msg.From, msg.Room, core.ErrNotJoined)
	}
	return c.publish(ctx, inboxKey(msg.To), EnvelopeOf(msg))
}

func (c *RedisChannel) publish(ctx context.Context, channel string, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := c.rdb.Publish(ctx, channel, b).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (c *RedisChannel) loop(msgs <-chan *redis.Message) {
	defer c.loopWG.Done()
	for m := range msgs {
		var env Envelope
		if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
			c.logger.Warn().Err(err).Str("channel", m.Channel).Msg("bad envelope")
			continue
		}
		c.route(env)
	}
}

func (c *RedisChannel) route(env Envelope) {
	switch {
	case env.Type == TypeMemberJoined || env.Type == TypeMemberLeft:
		kind := MemberJoined
		if env.Type == TypeMemberLeft {
			kind = MemberLeft
		}
		for _, m := range c.d.memberships() {
			// Our own publish comes back on the room channel.
			if m.room == env.Room && m.self != env.Participant {
				c.d.deliver(Event{Kind: kind, Room: env.Room, Local: m.self, Participant: env.Participant})
			}
		}
	case env.IsNegotiation():
		msg := env.Negotiation()
		c.d.deliver(Event{Kind: NegotiationReceived, Room: msg.Room, Local: msg.To, Participant: msg.From, Message: &msg})
	default:
		c.logger.Warn().Str("type", env.Type).Msg("unknown envelope")
	}
}

// Close leaves every joined room, then stops the subscription.
func (c *RedisChannel) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, m := range c.d.memberships() {
		if err := c.Leave(ctx, m.room, m.self); err != nil {
			c.logger.Warn().Err(err).Str("room", string(m.room)).Msg("leave on close failed")
		}
	}
	c.mu.Lock()
	ps := c.ps
	c.ps = nil
	c.mu.Unlock()
	var err error
	if ps != nil {
		err = ps.Close()
		c.loopWG.Wait()
	}
	c.d.close()
	return err
}
