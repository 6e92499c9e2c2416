package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/liveloop/loopjam/internal/proto"
)

// RoomStat is a point-in-time view of one room, for the stats endpoint.
type RoomStat struct {
	Key     string `json:"roomKey"`
	Members int    `json:"members"`
}

type clientCommand struct {
	client *Client
	cmd    *Command
}

// Hub is the relay: it owns the room registry, serializes all event
// processing on a single goroutine, and fans events back out to clients.
// Commands from one connection are applied in arrival order; across
// connections the only ordering is hub arrival order, which is what makes
// the shared state last-writer-wins.
type Hub struct {
	log      *zerolog.Logger
	registry *Registry
	clients  map[string]*Client

	register   chan *Client
	unregister chan *Client
	commands   chan clientCommand
	stats      chan chan []RoomStat
}

// NewHub creates a new relay hub. A nil logger disables logging.
func NewHub(logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		log:        logger,
		registry:   NewRegistry(),
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		commands:   make(chan clientCommand),
		stats:      make(chan chan []RoomStat),
	}
}

// RegisterClient hands a new connection to the hub. The hub replies with a
// welcome event carrying the connection's server-assigned id.
func (h *Hub) RegisterClient(c *Client) {
	h.register <- c
}

// UnregisterClient removes a disconnected connection. The hub leaves every
// room the connection was in, notifies the remaining members, and closes
// the client's event channel.
func (h *Hub) UnregisterClient(c *Client) {
	h.unregister <- c
}

// RoomStats returns a snapshot of all rooms and their member counts.
func (h *Hub) RoomStats(ctx context.Context) ([]RoomStat, error) {
	resp := make(chan []RoomStat, 1)
	select {
	case h.stats <- resp:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case out := <-resp:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run processes registrations and commands until ctx is cancelled. All
// registry mutations happen here; nothing else touches it.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			h.clients[c.ID] = c
			go h.pump(c)
			h.send(c, &Event{Kind: EventWelcome, From: c.ID})

		case c := <-h.unregister:
			h.handleDisconnect(c)

		case cc := <-h.commands:
			// A pump may outlive its unregistered client briefly.
			if _, ok := h.clients[cc.client.ID]; !ok {
				continue
			}
			h.handleCommand(cc.client, cc.cmd)

		case resp := <-h.stats:
			out := make([]RoomStat, 0)
			for _, key := range h.registry.Rooms() {
				out = append(out, RoomStat{Key: key, Members: len(h.registry.MembersOf(key))})
			}
			resp <- out

		case <-ctx.Done():
			return
		}
	}
}

// pump forwards one client's commands into the hub loop, preserving the
// connection's arrival order. It exits when the command channel is closed.
func (h *Hub) pump(c *Client) {
	for cmd := range c.Commands {
		h.commands <- clientCommand{client: c, cmd: cmd}
	}
}

func (h *Hub) handleCommand(c *Client, cmd *Command) {
	switch cmd.Kind {
	case CommandJoinRoom:
		h.handleJoin(c, cmd)
	case CommandSignal:
		h.handleSignal(c, cmd)
	case CommandTransportUpdate:
		h.broadcastExcept(cmd.Room, c.ID, &Event{
			Kind:      EventTransport,
			Room:      cmd.Room,
			From:      c.ID,
			Transport: cmd.Transport,
		})
	case CommandSequencerUpdate:
		if len(cmd.Grid) != proto.GridSteps {
			h.send(c, &Event{Kind: EventError, Error: coreError(ErrCodeBadRequest, "grid must have 16 steps")})
			return
		}
		h.broadcastExcept(cmd.Room, c.ID, &Event{
			Kind: EventSequencer,
			Room: cmd.Room,
			From: c.ID,
			Grid: cmd.Grid,
		})
	case CommandChat:
		h.broadcastExcept(cmd.Room, c.ID, &Event{
			Kind:    EventChat,
			Room:    cmd.Room,
			From:    c.ID,
			Message: cmd.Message,
			User:    cmd.User,
			At:      time.Now().UnixMilli(),
		})
	default:
		h.log.Warn().Int("kind", int(cmd.Kind)).Str("client_id", c.ID).Msg("unknown command kind")
	}
}

func (h *Hub) handleJoin(c *Client, cmd *Command) {
	h.registry.Join(cmd.Room, c.ID)
	c.Rooms[cmd.Room] = struct{}{}
	if cmd.Label != "" {
		c.Label = cmd.Label
	}

	h.log.Debug().Str("room", cmd.Room).Str("client_id", c.ID).Msg("client joined room")

	// Everyone in the room, joiner included, gets the fresh member list.
	h.broadcast(cmd.Room, &Event{
		Kind:    EventMembership,
		Room:    cmd.Room,
		Members: h.registry.MembersOf(cmd.Room),
	})
	// Everyone else gets the join notice.
	h.broadcastExcept(cmd.Room, c.ID, &Event{
		Kind:  EventPeerJoined,
		Room:  cmd.Room,
		From:  c.ID,
		Label: cmd.Label,
	})
}

// handleSignal forwards the payload verbatim to the target connection only,
// tagged with the sender id. An unknown or disconnected target is a no-op.
func (h *Hub) handleSignal(c *Client, cmd *Command) {
	target, ok := h.clients[cmd.Target]
	if !ok {
		h.log.Debug().Str("target", cmd.Target).Msg("signal target gone, dropping")
		return
	}
	h.send(target, &Event{
		Kind:    EventSignal,
		Room:    cmd.Room,
		From:    c.ID,
		Payload: cmd.Payload,
	})
}

func (h *Hub) handleDisconnect(c *Client) {
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	delete(h.clients, c.ID)

	for room := range c.Rooms {
		h.registry.Leave(c.ID, room)
		if !h.registry.Has(room) {
			continue
		}
		h.broadcast(room, &Event{
			Kind:    EventMembership,
			Room:    room,
			Members: h.registry.MembersOf(room),
		})
		h.broadcast(room, &Event{
			Kind:  EventPeerLeft,
			Room:  room,
			From:  c.ID,
			Label: c.Label,
		})
	}

	h.log.Debug().Str("client_id", c.ID).Msg("client unregistered")
	close(c.Events)
}

// broadcast sends an event to every member of a room.
func (h *Hub) broadcast(room string, ev *Event) {
	for _, id := range h.registry.MembersOf(room) {
		if c, ok := h.clients[id]; ok {
			h.send(c, ev)
		}
	}
}

// broadcastExcept sends an event to every member of a room but the sender.
func (h *Hub) broadcastExcept(room, except string, ev *Event) {
	for _, id := range h.registry.MembersOf(room) {
		if id == except {
			continue
		}
		if c, ok := h.clients[id]; ok {
			h.send(c, ev)
		}
	}
}

func (h *Hub) send(c *Client, ev *Event) {
	select {
	case c.Events <- ev:
	default:
		// Drop if slow consumer; state events self-heal on the next write.
		h.log.Debug().Str("client_id", c.ID).Msg("dropping event for slow consumer")
	}
}
