package core

import (
	"encoding/json"

	"github.com/liveloop/loopjam/internal/proto"
)

// CommandKind describes what the connection wants the relay to do.
type CommandKind int

const (
	// CommandJoinRoom subscribes the connection to a room. A second join
	// adds another room; prior memberships are kept until disconnect.
	CommandJoinRoom CommandKind = iota
	// CommandSignal forwards an opaque negotiation payload to one target
	// connection. The relay never inspects the payload.
	CommandSignal
	// CommandTransportUpdate publishes a new transport state to a room.
	CommandTransportUpdate
	// CommandSequencerUpdate publishes a new sequencer grid to a room.
	CommandSequencerUpdate
	// CommandChat delivers a chat message to room participants.
	CommandChat
)

// Command represents an action requested by a connection.
type Command struct {
	Kind      CommandKind
	Room      string
	Label     string // join: announced participant label
	Target    string // signal: target connection id
	Payload   json.RawMessage
	Transport proto.TransportState
	Grid      []bool
	Message   string
	User      string
}
