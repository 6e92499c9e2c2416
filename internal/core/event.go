package core

import (
	"encoding/json"

	"github.com/liveloop/loopjam/internal/proto"
)

// EventKind is a notification the core emits to connections.
type EventKind int

const (
	// EventWelcome tells a connection its server-assigned id.
	EventWelcome EventKind = iota
	// EventMembership delivers the full member list of a room.
	EventMembership
	// EventPeerJoined notifies a room that a participant joined.
	EventPeerJoined
	// EventPeerLeft notifies a room that a participant left.
	EventPeerLeft
	// EventSignal delivers a relayed negotiation payload to its target.
	EventSignal
	// EventTransport delivers a transport state from another participant.
	EventTransport
	// EventSequencer delivers a sequencer grid from another participant.
	EventSequencer
	// EventChat delivers a chat message, stamped with receipt time.
	EventChat
	// EventError notifies a connection about a domain error.
	EventError
)

// Event is sent to connections to describe what happened in the system.
type Event struct {
	Kind      EventKind
	Room      string
	From      string // originating connection id, where tagged
	Label     string // participant label for peer notices
	Members   []string
	Payload   json.RawMessage
	Transport proto.TransportState
	Grid      []bool
	Message   string
	User      string
	At        int64 // unix millis, chat receipt time
	Error     *CoreError
}
