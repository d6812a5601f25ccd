package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dkeye/orbit/internal/core"
	"github.com/dkeye/orbit/internal/domain"
)

const writeWait = 5 * time.Second

// Conn is one websocket client of the relay. A connection speaks for a single
// participant, fixed by its first join.
type Conn struct {
	ID     string
	User   domain.UserID
	ws     *websocket.Conn
	send   chan core.Frame
	logger zerolog.Logger

	mu          sync.RWMutex
	closed      bool
	participant domain.ParticipantID
}

var _ core.SignalConnection = (*Conn)(nil)

func newConn(ws *websocket.Conn, user domain.UserID, queue int, logger zerolog.Logger) *Conn {
	id := uuid.NewString()
	return &Conn{
		ID:     id,
		User:   user,
		ws:     ws,
		send:   make(chan core.Frame, queue),
		logger: logger.With().Str("conn", id).Str("user", string(user)).Logger(),
	}
}

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *Conn) sendJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		c.logger.Error().Err(err).Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		c.logger.Warn().Err(err).Msg("send dropped")
	}
}

func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.ws.Close()
}

// bind fixes the participant on first use and rejects a different one later.
func (c *Conn) bind(p domain.ParticipantID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.participant == "" {
		c.participant = p
		return true
	}
	return c.participant == p
}

func (c *Conn) Participant() domain.ParticipantID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.participant
}

func (c *Conn) writePump(ctx context.Context, pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug().Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error().Err(err).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Warn().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// readPump feeds frames to handle until the peer goes away. The read deadline
// is pushed forward by every pong.
func (c *Conn) readPump(ctx context.Context, readLimit int64, pingPeriod time.Duration, handle func([]byte)) {
	pongWait := pingPeriod * 10 / 9
	c.ws.SetReadLimit(readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("readPump read error")
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		handle(data)
	}
}
