package relay

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/orbit/internal/core"
	"github.com/dkeye/orbit/internal/domain"
)

type RoomInfo struct {
	ID      domain.RoomID `json:"id"`
	Members int           `json:"members"`
}

// Hub tracks which connection speaks for which participant in every room.
type Hub struct {
	presence Presence

	mu    sync.RWMutex
	rooms map[domain.RoomID]map[domain.ParticipantID]*Conn
}

func NewHub(presence Presence) *Hub {
	if presence == nil {
		presence = NopPresence{}
	}
	return &Hub{
		presence: presence,
		rooms:    make(map[domain.RoomID]map[domain.ParticipantID]*Conn),
	}
}

// Join adds p to room and returns the members already present with their
// connections.
func (h *Hub) Join(ctx context.Context, c *Conn, room domain.RoomID, p domain.ParticipantID) (map[domain.ParticipantID]*Conn, error) {
	h.mu.Lock()
	members := h.rooms[room]
	if _, ok := members[p]; ok {
		h.mu.Unlock()
		return nil, fmt.Errorf("%s in %s: %w", p, room, core.ErrAlreadyJoined)
	}
	if members == nil {
		members = make(map[domain.ParticipantID]*Conn)
		h.rooms[room] = members
	}
	existing := make(map[domain.ParticipantID]*Conn, len(members))
	for id, mc := range members {
		existing[id] = mc
	}
	members[p] = c
	h.mu.Unlock()

	h.presence.Add(ctx, room, p)
	log.Info().Str("module", "relay.hub").Str("room", string(room)).Str("participant", string(p)).Int("members", len(existing)+1).Msg("joined")
	return existing, nil
}

// Leave removes p from room when c is the connection that joined it and
// returns the remaining members.
func (h *Hub) Leave(ctx context.Context, c *Conn, room domain.RoomID, p domain.ParticipantID) ([]*Conn, error) {
	h.mu.Lock()
	rest, err := h.leaveLocked(c, room, p)
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}
	h.presence.Remove(ctx, room, p)
	log.Info().Str("module", "relay.hub").Str("room", string(room)).Str("participant", string(p)).Msg("left")
	return rest, nil
}

func (h *Hub) leaveLocked(c *Conn, room domain.RoomID, p domain.ParticipantID) ([]*Conn, error) {
	members := h.rooms[room]
	if cur, ok := members[p]; !ok || cur != c {
		return nil, fmt.Errorf("%s in %s: %w", p, room, core.ErrNotJoined)
	}
	delete(members, p)
	rest := make([]*Conn, 0, len(members))
	for _, mc := range members {
		rest = append(rest, mc)
	}
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	return rest, nil
}

type departure struct {
	room domain.RoomID
	p    domain.ParticipantID
	rest []*Conn
}

// Drop removes every membership held by c.
func (h *Hub) Drop(ctx context.Context, c *Conn) []departure {
	h.mu.Lock()
	var out []departure
	for room, members := range h.rooms {
		for p, mc := range members {
			if mc != c {
				continue
			}
			rest, err := h.leaveLocked(c, room, p)
			if err == nil {
				out = append(out, departure{room: room, p: p, rest: rest})
			}
		}
	}
	h.mu.Unlock()
	for _, d := range out {
		h.presence.Remove(ctx, d.room, d.p)
	}
	if len(out) > 0 {
		log.Info().Str("module", "relay.hub").Str("conn", c.ID).Int("rooms", len(out)).Msg("dropped connection memberships")
	}
	return out
}

// Route finds the connection of p in room.
func (h *Hub) Route(room domain.RoomID, p domain.ParticipantID) (*Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.rooms[room][p]
	return c, ok
}

func (h *Hub) InRoom(c *Conn, room domain.RoomID, p domain.ParticipantID) bool {
	cur, ok := h.Route(room, p)
	return ok && cur == c
}

func (h *Hub) Members(room domain.RoomID) []domain.ParticipantID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.ParticipantID, 0, len(h.rooms[room]))
	for p := range h.rooms[room] {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

func (h *Hub) Rooms() []RoomInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]RoomInfo, 0, len(h.rooms))
	for id, members := range h.rooms {
		out = append(out, RoomInfo{ID: id, Members: len(members)})
	}
	slices.SortFunc(out, func(a, b RoomInfo) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}
