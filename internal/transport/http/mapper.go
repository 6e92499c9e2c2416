package http

import (
	"encoding/json"

	"github.com/liveloop/loopjam/internal/core"
	"github.com/liveloop/loopjam/internal/proto"
)

// inboundToCommand validates a client frame and maps it to a core command.
// Unrecognized or malformed shapes are rejected here so they never reach
// the hub.
func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error) {
	switch inbound.Type {
	case proto.InboundTypeJoin:
		var join proto.JoinData
		if err := json.Unmarshal(inbound.Data, &join); err != nil {
			return nil, badRequest("invalid join payload")
		}
		if join.RoomKey == "" {
			return nil, badRequest("roomKey is required")
		}
		return &core.Command{
			Kind:  core.CommandJoinRoom,
			Room:  join.RoomKey,
			Label: join.ParticipantLabel,
		}, nil

	case proto.InboundTypeSignal:
		var sig proto.SignalData
		if err := json.Unmarshal(inbound.Data, &sig); err != nil {
			return nil, badRequest("invalid signal payload")
		}
		if sig.RoomKey == "" || sig.TargetConnectionID == "" {
			return nil, badRequest("roomKey and targetConnectionId are required")
		}
		return &core.Command{
			Kind:    core.CommandSignal,
			Room:    sig.RoomKey,
			Target:  sig.TargetConnectionID,
			Payload: sig.Payload,
		}, nil

	case proto.InboundTypeTransport:
		var tr proto.TransportData
		if err := json.Unmarshal(inbound.Data, &tr); err != nil {
			return nil, badRequest("invalid transport payload")
		}
		if tr.RoomKey == "" {
			return nil, badRequest("roomKey is required")
		}
		return &core.Command{
			Kind:      core.CommandTransportUpdate,
			Room:      tr.RoomKey,
			Transport: tr.State,
		}, nil

	case proto.InboundTypeSequencer:
		var seq proto.SequencerData
		if err := json.Unmarshal(inbound.Data, &seq); err != nil {
			return nil, badRequest("invalid sequencer payload")
		}
		if seq.RoomKey == "" {
			return nil, badRequest("roomKey is required")
		}
		if len(seq.Grid) != proto.GridSteps {
			return nil, badRequest("grid must have 16 steps")
		}
		return &core.Command{
			Kind: core.CommandSequencerUpdate,
			Room: seq.RoomKey,
			Grid: seq.Grid,
		}, nil

	case proto.InboundTypeChat:
		var chat proto.ChatData
		if err := json.Unmarshal(inbound.Data, &chat); err != nil {
			return nil, badRequest("invalid chat payload")
		}
		if chat.RoomKey == "" {
			return nil, badRequest("roomKey is required")
		}
		return &core.Command{
			Kind:    core.CommandChat,
			Room:    chat.RoomKey,
			Message: chat.Message,
			User:    chat.User,
		}, nil

	default:
		return nil, &proto.Error{Code: "invalid_message", Msg: "unknown message type"}
	}
}

func badRequest(msg string) *proto.Error {
	return &proto.Error{Code: core.ErrCodeBadRequest, Msg: msg}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventWelcome:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventWelcome,
			Data:  proto.WelcomeData{ConnectionID: event.From},
		}
	case core.EventMembership:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventMembership,
			Data:  event.Members,
		}
	case core.EventPeerJoined:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventPeerNotice,
			Data: proto.PeerNoticeData{
				Kind:             "join",
				ParticipantLabel: event.Label,
				ConnectionID:     event.From,
			},
		}
	case core.EventPeerLeft:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventPeerNotice,
			Data: proto.PeerNoticeData{
				Kind:             "leave",
				ParticipantLabel: event.Label,
				ConnectionID:     event.From,
			},
		}
	case core.EventSignal:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventSignal,
			Data: proto.SignalEventData{
				From:    event.From,
				Payload: event.Payload,
				RoomKey: event.Room,
			},
		}
	case core.EventTransport:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventTransport,
			Data: proto.TransportEventData{
				State: event.Transport,
				From:  event.From,
			},
		}
	case core.EventSequencer:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventSequencer,
			Data: proto.SequencerEventData{
				Grid: event.Grid,
				From: event.From,
			},
		}
	case core.EventChat:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventChat,
			Data: proto.ChatEventData{
				Message: event.Message,
				User:    event.User,
				At:      event.At,
			},
		}
	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "unknown", Msg: "unknown error"}}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: event.Error.Code, Msg: event.Error.Message},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}
