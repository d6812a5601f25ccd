// Package relay is the signaling relay: a websocket endpoint that tracks room
// membership and forwards negotiation between participants.
package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/orbit/internal/domain"
	"github.com/dkeye/orbit/internal/metrics"
	"github.com/dkeye/orbit/internal/signaling"
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendQueue  int
	JoinLimit  int
	JoinEvery  time.Duration
}

func (o *Options) defaults() {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.SendQueue <= 0 {
		o.SendQueue = 64
	}
	if o.JoinEvery <= 0 {
		o.JoinEvery = 10 * time.Second
	}
}

type Server struct {
	Hub     *Hub
	opts    Options
	limiter *JoinRateLimiter
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewServer(hub *Hub, opts Options) *Server {
	opts.defaults()
	return &Server{
		Hub:     hub,
		opts:    opts,
		limiter: NewJoinRateLimiter(opts.JoinLimit, opts.JoinEvery),
		metrics: metrics.DefaultMetrics,
		logger:  log.With().Str("module", "relay").Logger(),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and serves the connection until either
// side closes or ctx is done.
func (s *Server) HandleSignal(ctx context.Context, c *gin.Context) {
	user := domain.UserID(c.GetString(ctxUserID))
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("ws upgrade")
		return
	}
	conn := newConn(ws, user, s.opts.SendQueue, s.logger)
	s.metrics.RelayConnections.Inc()
	conn.logger.Info().Msg("connection opened")

	ctx, cancel := context.WithCancel(ctx)
	go conn.writePump(ctx, s.opts.PingPeriod)
	go func() {
		defer func() {
			cancel()
			s.disconnect(conn)
		}()
		conn.readPump(ctx, s.opts.ReadLimit, s.opts.PingPeriod, func(data []byte) { s.handle(ctx, conn, data) })
	}()
}

func (s *Server) disconnect(conn *Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, d := range s.Hub.Drop(ctx, conn) {
		s.broadcast(d.rest, signaling.Envelope{Type: signaling.TypeMemberLeft, Room: d.room, Participant: d.p})
	}
	conn.Close()
	s.metrics.RelayConnections.Dec()
	conn.logger.Info().Msg("connection closed")
}

func (s *Server) handle(ctx context.Context, conn *Conn, data []byte) {
	var env signaling.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		conn.logger.Warn().Err(err).Msg("bad json")
		s.reject(conn, signaling.Envelope{}, signaling.ErrCodeBadPayload)
		return
	}
	s.metrics.RelayMessages.WithLabelValues(env.Type).Inc()

	switch {
	case env.Type == signaling.TypeJoin:
		s.handleJoin(ctx, conn, env)
	case env.Type == signaling.TypeLeave:
		s.handleLeave(ctx, conn, env)
	case env.Type == signaling.TypePing:
		conn.sendJSON(signaling.Envelope{Type: signaling.TypePong})
	case env.IsNegotiation():
		s.handleNegotiation(conn, env)
	default:
		conn.logger.Warn().Str("type", env.Type).Msg("unknown signal")
		s.reject(conn, env, signaling.ErrCodeUnknownType)
	}
}

func (s *Server) reject(conn *Conn, env signaling.Envelope, code string) {
	conn.sendJSON(signaling.Envelope{Type: signaling.TypeError, Room: env.Room, To: env.To, Error: code})
}

func (s *Server) handleJoin(ctx context.Context, conn *Conn, env signaling.Envelope) {
	if env.Room == "" || env.Participant == "" {
		s.reject(conn, env, signaling.ErrCodeBadPayload)
		return
	}
	if !conn.bind(env.Participant) {
		s.reject(conn, env, signaling.ErrCodeIdentity)
		return
	}
	if !s.limiter.Allow(conn.User) {
		conn.logger.Warn().Str("room", string(env.Room)).Msg("join rate limited")
		s.reject(conn, env, signaling.ErrCodeRateLimited)
		return
	}
	existing, err := s.Hub.Join(ctx, conn, env.Room, env.Participant)
	if err != nil {
		s.reject(conn, env, signaling.ErrCodeAlreadyIn)
		return
	}

	members := make([]domain.ParticipantID, 0, len(existing))
	peers := make([]*Conn, 0, len(existing))
	for p, c := range existing {
		members = append(members, p)
		peers = append(peers, c)
	}
	// The ack goes out before anyone learns about the joiner, so offers
	// triggered by member_joined always follow it on this connection.
	conn.sendJSON(signaling.Envelope{Type: signaling.TypeJoined, Room: env.Room, Participant: env.Participant, Members: members})
	s.broadcast(peers, signaling.Envelope{Type: signaling.TypeMemberJoined, Room: env.Room, Participant: env.Participant, Name: env.Name})
}

func (s *Server) handleLeave(ctx context.Context, conn *Conn, env signaling.Envelope) {
	p := conn.Participant()
	rest, err := s.Hub.Leave(ctx, conn, env.Room, p)
	if err != nil {
		s.reject(conn, env, signaling.ErrCodeNotJoined)
		return
	}
	conn.sendJSON(signaling.Envelope{Type: signaling.TypeLeft, Room: env.Room, Participant: p})
	s.broadcast(rest, signaling.Envelope{Type: signaling.TypeMemberLeft, Room: env.Room, Participant: p})
}

// handleNegotiation forwards to env.To. The sender is always the connection's
// own participant; a client-supplied from is ignored.
func (s *Server) handleNegotiation(conn *Conn, env signaling.Envelope) {
	from := conn.Participant()
	if from == "" || !s.Hub.InRoom(conn, env.Room, from) {
		s.reject(conn, env, signaling.ErrCodeNotJoined)
		return
	}
	env.From = from
	target, ok := s.Hub.Route(env.Room, env.To)
	if !ok {
		s.reject(conn, env, signaling.ErrCodeUnknownPeer)
		return
	}
	target.sendJSON(env)
}

func (s *Server) broadcast(conns []*Conn, env signaling.Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		s.logger.Error().Err(err).Msg("broadcast marshal")
		return
	}
	for _, c := range conns {
		if err := c.TrySend(b); err != nil {
			c.logger.Warn().Err(err).Str("type", env.Type).Msg("broadcast dropped")
		}
	}
}
