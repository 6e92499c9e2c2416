package proto

import "encoding/json"

// Inbound is the envelope for frames coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeJoin      = "join"
	InboundTypeSignal    = "signal"
	InboundTypeTransport = "transport-update"
	InboundTypeSequencer = "sequencer-update"
	InboundTypeChat      = "chat"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventWelcome    = "welcome"
	EventMembership = "room-membership"
	EventPeerNotice = "peer-notice"
	EventSignal     = "signal"
	EventTransport  = "transport-update"
	EventSequencer  = "sequencer-update"
	EventChat       = "chat"
)

// GridSteps is the fixed sequencer grid length.
const GridSteps = 16

// JoinData requests membership in a room.
type JoinData struct {
	RoomKey          string `json:"roomKey"`
	ParticipantLabel string `json:"participantLabel"`
}

// SignalData carries an opaque negotiation payload addressed to one peer.
type SignalData struct {
	RoomKey            string          `json:"roomKey"`
	TargetConnectionID string          `json:"targetConnectionId"`
	Payload            json.RawMessage `json:"payload"`
}

// TransportState is the shared play/tempo record. Last writer wins.
type TransportState struct {
	IsPlaying bool `json:"isPlaying"`
	BPM       int  `json:"bpm"`
}

// TransportData publishes a new transport state to a room.
type TransportData struct {
	RoomKey string         `json:"roomKey"`
	State   TransportState `json:"state"`
}

// SequencerData publishes a new sequencer grid to a room.
type SequencerData struct {
	RoomKey string `json:"roomKey"`
	Grid    []bool `json:"grid"`
}

// ChatData is a chat message from the client.
type ChatData struct {
	RoomKey string `json:"roomKey"`
	Message string `json:"message"`
	User    string `json:"user"`
}

// Outbound is the envelope for frames sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Frame is the client-side view of an outbound envelope, with the
// payload left raw for per-event decoding.
type Frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// WelcomeData tells a client its server-assigned connection id.
type WelcomeData struct {
	ConnectionID string `json:"connectionId"`
}

// PeerNoticeData announces a single join or leave to a room.
type PeerNoticeData struct {
	Kind             string `json:"kind"` // "join" or "leave"
	ParticipantLabel string `json:"participantLabel,omitempty"`
	ConnectionID     string `json:"connectionId"`
}

// SignalEventData is a relayed signal as seen by the target.
type SignalEventData struct {
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
	RoomKey string          `json:"roomKey"`
}

// TransportEventData is a relayed transport update.
type TransportEventData struct {
	State TransportState `json:"state"`
	From  string         `json:"from"`
}

// SequencerEventData is a relayed sequencer update.
type SequencerEventData struct {
	Grid []bool `json:"grid"`
	From string `json:"from"`
}

// ChatEventData is a relayed chat message, stamped with server receipt time.
type ChatEventData struct {
	Message string `json:"message"`
	User    string `json:"user"`
	At      int64  `json:"at"` // unix millis
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
