package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/orbit/internal/core"
	"github.com/dkeye/orbit/internal/domain"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendQueue  = 64
)

type ack struct {
	members []domain.ParticipantID
	err     error
}

type pendingKey struct {
	op   string
	room domain.RoomID
}

// WSChannel talks to the relay over one websocket connection.
type WSChannel struct {
	conn   *websocket.Conn
	d      *dispatcher
	logger zerolog.Logger
	send   chan []byte
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	down    bool
	pending map[pendingKey]chan ack
}

// DialWS connects to the relay. header carries the bearer token or cookie.
func DialWS(ctx context.Context, url string, header http.Header) (*WSChannel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", core.ErrChannelUnavailable, url, err)
	}
	return NewWSChannel(conn), nil
}

func NewWSChannel(conn *websocket.Conn) *WSChannel {
	logger := log.With().Str("module", "signaling.ws").Logger()
	ctx, cancel := context.WithCancel(context.Background())
	c := &WSChannel{
		conn:    conn,
		d:       newDispatcher(logger),
		logger:  logger,
		send:    make(chan []byte, wsSendQueue),
		cancel:  cancel,
		done:    make(chan struct{}),
		pending: make(map[pendingKey]chan ack),
	}
	go c.writePump(ctx)
	go c.readPump()
	return c
}

func (c *WSChannel) On(kind EventKind, h Handler) { c.d.on(kind, h) }

func (c *WSChannel) Join(ctx context.Context, room domain.RoomID, self domain.ParticipantID) error {
	if c.d.state(room, self) != notJoined {
		return fmt.Errorf("%s in %s: %w", self, room, core.ErrAlreadyJoined)
	}
	c.d.begin(room, self)
	res, err := c.roundTrip(ctx, pendingKey{TypeJoined, room}, Envelope{Type: TypeJoin, Room: room, Participant: self})
	if err != nil {
		c.d.abort(room, self)
		return err
	}
	c.d.complete(room, self, res.members)
	c.logger.Info().Str("room", string(room)).Str("self", string(self)).Int("members", len(res.members)).Msg("joined")
	return nil
}

func (c *WSChannel) Leave(ctx context.Context, room domain.RoomID, self domain.ParticipantID) error {
	if c.d.state(room, self) == notJoined {
		return fmt.Errorf("%s in %s: %w", self, room, core.ErrNotJoined)
	}
	_, err := c.roundTrip(ctx, pendingKey{TypeLeft, room}, Envelope{Type: TypeLeave, Room: room, Participant: self})
	c.d.left(room, self)
	return err
}

func (c *WSChannel) Send(_ context.Context, msg domain.NegotiationMessage) error {
	return c.write(EnvelopeOf(msg))
}

func (c *WSChannel) roundTrip(ctx context.Context, key pendingKey, env Envelope) (ack, error) {
	ch := make(chan ack, 1)
	c.mu.Lock()
	if c.down {
		c.mu.Unlock()
		return ack{}, core.ErrChannelUnavailable
	}
	c.pending[key] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.pending[key] == ch {
			delete(c.pending, key)
		}
		c.mu.Unlock()
	}()

	if err := c.write(env); err != nil {
		return ack{}, err
	}
	select {
	case res := <-ch:
		return res, res.err
	case <-ctx.Done():
		return ack{}, ctx.Err()
	}
}

func (c *WSChannel) write(env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return core.ErrChannelUnavailable
	}
	select {
	case c.send <- b:
		return nil
	default:
		return fmt.Errorf("%w: %w", core.ErrChannelUnavailable, core.ErrBackpressure)
	}
}

func (c *WSChannel) resolve(key pendingKey, res ack) bool {
	c.mu.Lock()
	ch, ok := c.pending[key]
	delete(c.pending, key)
	c.mu.Unlock()
	if ok {
		ch <- res
	}
	return ok
}

func (c *WSChannel) writePump(ctx context.Context) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				c.logger.Error().Err(err).Msg("writePump set deadline")
				c.markDown()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error().Err(err).Msg("writePump write error")
				c.markDown()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.logger.Warn().Err(err).Msg("ping failed")
				c.markDown()
				return
			}
		}
	}
}

func (c *WSChannel) readPump() {
	defer close(c.done)
	defer c.markDown()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Error().Err(err).Msg("readPump read error")
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn().Err(err).Msg("bad envelope")
			continue
		}
		c.handle(env)
	}
}

func (c *WSChannel) handle(env Envelope) {
	switch {
	case env.Type == TypeJoined:
		c.resolve(pendingKey{TypeJoined, env.Room}, ack{members: env.Members})
	case env.Type == TypeLeft:
		c.resolve(pendingKey{TypeLeft, env.Room}, ack{})
	case env.Type == TypeMemberJoined:
		c.deliverAll(env.Room, func(self domain.ParticipantID) Event {
			return Event{Kind: MemberJoined, Room: env.Room, Local: self, Participant: env.Participant}
		}, env.Participant)
	case env.Type == TypeMemberLeft:
		c.deliverAll(env.Room, func(self domain.ParticipantID) Event {
			return Event{Kind: MemberLeft, Room: env.Room, Local: self, Participant: env.Participant}
		}, env.Participant)
	case env.IsNegotiation():
		msg := env.Negotiation()
		c.d.deliver(Event{Kind: NegotiationReceived, Room: msg.Room, Local: msg.To, Participant: msg.From, Message: &msg})
	case env.Type == TypeError:
		c.relayError(env)
	case env.Type == TypePong:
	default:
		c.logger.Warn().Str("type", env.Type).Msg("unknown envelope")
	}
}

// Relay error codes.
const (
	ErrCodeBadPayload  = "bad_payload"
	ErrCodeRateLimited = "rate_limited"
	ErrCodeAlreadyIn   = "already_joined"
	ErrCodeNotJoined   = "not_joined"
	ErrCodeUnknownPeer = "unknown_peer"
	ErrCodeIdentity    = "participant_mismatch"
	ErrCodeUnknownType = "unknown_type"
)

func (c *WSChannel) relayError(env Envelope) {
	var (
		key pendingKey
		err error
	)
	switch env.Error {
	case ErrCodeUnknownPeer:
		// Recipient left; the next membership event cleans up.
		c.logger.Debug().Str("to", string(env.To)).Msg("recipient unknown to relay")
		return
	case ErrCodeNotJoined:
		key, err = pendingKey{TypeLeft, env.Room}, core.ErrNotJoined
	case ErrCodeAlreadyIn:
		key, err = pendingKey{TypeJoined, env.Room}, core.ErrAlreadyJoined
	default:
		key, err = pendingKey{TypeJoined, env.Room}, fmt.Errorf("relay: %s", env.Error)
	}
	if !c.resolve(key, ack{err: err}) {
		c.logger.Warn().Str("error", env.Error).Str("room", string(env.Room)).Msg("relay error")
	}
}

// deliverAll fans a membership event out to every local participant in room
// except the subject.
func (c *WSChannel) deliverAll(room domain.RoomID, mk func(domain.ParticipantID) Event, subject domain.ParticipantID) {
	for _, m := range c.d.memberships() {
		if m.room == room && m.self != subject {
			c.d.deliver(mk(m.self))
		}
	}
}

func (c *WSChannel) markDown() {
	c.mu.Lock()
	if c.down {
		c.mu.Unlock()
		return
	}
	c.down = true
	pending := c.pending
	c.pending = make(map[pendingKey]chan ack)
	c.mu.Unlock()
	for _, ch := range pending {
		ch <- ack{err: core.ErrChannelUnavailable}
	}
	c.logger.Warn().Msg("relay connection down")
}

// Available reports whether the relay connection is still up.
func (c *WSChannel) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.down
}

func (c *WSChannel) Close() error {
	c.cancel()
	select {
	case <-c.done:
	case <-time.After(time.Second):
	}
	err := c.conn.Close()
	if errors.Is(err, websocket.ErrCloseSent) {
		err = nil
	}
	c.d.close()
	return err
}
