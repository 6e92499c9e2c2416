package core

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/liveloop/loopjam/internal/proto"
)

func startHub(t *testing.T) *Hub {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)

	hub := NewHub(nil)
	go hub.Run(ctx)
	return hub
}

func TestHubWelcomeCarriesConnectionID(t *testing.T) {
	hub := startHub(t)

	alice := NewClient("a")
	hub.RegisterClient(alice)

	ev := mustEvent(t, alice.Events, EventWelcome)
	if ev.From != "a" {
		t.Fatalf("welcome should carry the connection id, got %+v", ev)
	}
}

func TestHubJoinBroadcastsMembership(t *testing.T) {
	hub := startHub(t)

	alice := NewClient("a")
	bob := NewClient("b")
	hub.RegisterClient(alice)
	hub.RegisterClient(bob)

	alice.Commands <- &Command{Kind: CommandJoinRoom, Room: "abcd", Label: "alice"}
	bob.Commands <- &Command{Kind: CommandJoinRoom, Room: "abcd", Label: "bob"}

	// Bob joined second, so his first membership list has both connections.
	memEv := mustEvent(t, bob.Events, EventMembership)
	if len(memEv.Members) != 2 || memEv.Members[0] != "a" || memEv.Members[1] != "b" {
		t.Fatalf("unexpected membership: %+v", memEv.Members)
	}

	// Alice, already in the room, sees Bob's join notice.
	joinEv := mustEvent(t, alice.Events, EventPeerJoined)
	if joinEv.From != "b" || joinEv.Label != "bob" || joinEv.Room != "abcd" {
		t.Fatalf("unexpected join notice: %+v", joinEv)
	}
}

func TestHubSignalDeliveredOnlyToTarget(t *testing.T) {
	hub := startHub(t)

	alice := NewClient("a")
	bob := NewClient("b")
	carol := NewClient("c")
	for _, c := range []*Client{alice, bob, carol} {
		hub.RegisterClient(c)
		c.Commands <- &Command{Kind: CommandJoinRoom, Room: "abcd"}
	}

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	alice.Commands <- &Command{Kind: CommandSignal, Room: "abcd", Target: "b", Payload: payload}

	ev := mustEvent(t, bob.Events, EventSignal)
	if ev.From != "a" || ev.Room != "abcd" || string(ev.Payload) != string(payload) {
		t.Fatalf("unexpected signal event: %+v", ev)
	}

	mustNoEvent(t, carol.Events, EventSignal)
}

func TestHubSignalToUnknownTargetIsNoop(t *testing.T) {
	hub := startHub(t)

	alice := NewClient("a")
	hub.RegisterClient(alice)
	alice.Commands <- &Command{Kind: CommandJoinRoom, Room: "abcd"}

	alice.Commands <- &Command{Kind: CommandSignal, Room: "abcd", Target: "ghost", Payload: json.RawMessage(`{}`)}

	mustNoEvent(t, alice.Events, EventError)
}

func TestHubSequencerFanOutSkipsSender(t *testing.T) {
	hub := startHub(t)

	alice := NewClient("a")
	bob := NewClient("b")
	hub.RegisterClient(alice)
	hub.RegisterClient(bob)
	alice.Commands <- &Command{Kind: CommandJoinRoom, Room: "abcd"}
	bob.Commands <- &Command{Kind: CommandJoinRoom, Room: "abcd"}

	// Bob's join notice on Alice's channel means both joins are settled.
	mustEvent(t, alice.Events, EventPeerJoined)

	grid := make([]bool, proto.GridSteps)
	for i := range grid {
		grid[i] = i%2 == 0 // alternating, starting true
	}
	alice.Commands <- &Command{Kind: CommandSequencerUpdate, Room: "abcd", Grid: grid}

	ev := mustEvent(t, bob.Events, EventSequencer)
	if ev.From != "a" {
		t.Fatalf("sequencer event not tagged with sender: %+v", ev)
	}
	if len(ev.Grid) != proto.GridSteps {
		t.Fatalf("unexpected grid length: %d", len(ev.Grid))
	}
	for i, step := range ev.Grid {
		if step != (i%2 == 0) {
			t.Fatalf("grid step %d mismatch: %v", i, ev.Grid)
		}
	}

	mustNoEvent(t, alice.Events, EventSequencer)
}

func TestHubSequencerRejectsBadGrid(t *testing.T) {
	hub := startHub(t)

	alice := NewClient("a")
	hub.RegisterClient(alice)
	alice.Commands <- &Command{Kind: CommandJoinRoom, Room: "abcd"}

	alice.Commands <- &Command{Kind: CommandSequencerUpdate, Room: "abcd", Grid: []bool{true, false}}

	ev := mustEvent(t, alice.Events, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodeBadRequest {
		t.Fatalf("expected bad_request error, got %+v", ev)
	}
}

func TestHubTransportFanOut(t *testing.T) {
	hub := startHub(t)

	alice := NewClient("a")
	bob := NewClient("b")
	carol := NewClient("c")
	for _, c := range []*Client{alice, bob, carol} {
		hub.RegisterClient(c)
		c.Commands <- &Command{Kind: CommandJoinRoom, Room: "xyz9"}
	}

	mustEvent(t, alice.Events, EventPeerJoined)
	mustEvent(t, alice.Events, EventPeerJoined)

	alice.Commands <- &Command{
		Kind:      CommandTransportUpdate,
		Room:      "xyz9",
		Transport: proto.TransportState{IsPlaying: true, BPM: 128},
	}

	for _, c := range []*Client{bob, carol} {
		ev := mustEvent(t, c.Events, EventTransport)
		if ev.From != "a" || !ev.Transport.IsPlaying || ev.Transport.BPM != 128 {
			t.Fatalf("unexpected transport event: %+v", ev)
		}
	}
	mustNoEvent(t, alice.Events, EventTransport)
}

func TestHubChatStampedAndNotEchoed(t *testing.T) {
	hub := startHub(t)

	alice := NewClient("a")
	bob := NewClient("b")
	hub.RegisterClient(alice)
	hub.RegisterClient(bob)
	alice.Commands <- &Command{Kind: CommandJoinRoom, Room: "abcd"}
	bob.Commands <- &Command{Kind: CommandJoinRoom, Room: "abcd"}

	mustEvent(t, alice.Events, EventPeerJoined)

	before := time.Now().UnixMilli()
	alice.Commands <- &Command{Kind: CommandChat, Room: "abcd", Message: "hi", User: "Guest"}

	ev := mustEvent(t, bob.Events, EventChat)
	if ev.Message != "hi" || ev.User != "Guest" {
		t.Fatalf("unexpected chat event: %+v", ev)
	}
	if ev.At < before {
		t.Fatalf("chat receipt time not stamped: %d < %d", ev.At, before)
	}

	mustNoEvent(t, alice.Events, EventChat)
}

func TestHubDisconnectCleansAllRooms(t *testing.T) {
	hub := startHub(t)

	alice := NewClient("a")
	bob := NewClient("b")
	carol := NewClient("c")
	hub.RegisterClient(alice)
	hub.RegisterClient(bob)
	hub.RegisterClient(carol)

	alice.Commands <- &Command{Kind: CommandJoinRoom, Room: "r1", Label: "alice"}
	alice.Commands <- &Command{Kind: CommandJoinRoom, Room: "r2", Label: "alice"}
	bob.Commands <- &Command{Kind: CommandJoinRoom, Room: "r1"}
	carol.Commands <- &Command{Kind: CommandJoinRoom, Room: "r2"}

	// Wait for every join to settle before disconnecting: Alice sees a
	// membership list per join, Bob and Carol one each.
	mustEvent(t, alice.Events, EventMembership)
	mustEvent(t, alice.Events, EventMembership)
	mustEvent(t, bob.Events, EventMembership)
	mustEvent(t, carol.Events, EventMembership)

	hub.UnregisterClient(alice)

	leftEv := mustEvent(t, bob.Events, EventPeerLeft)
	if leftEv.From != "a" || leftEv.Room != "r1" {
		t.Fatalf("unexpected leave notice for bob: %+v", leftEv)
	}
	leftEv = mustEvent(t, carol.Events, EventPeerLeft)
	if leftEv.From != "a" || leftEv.Room != "r2" {
		t.Fatalf("unexpected leave notice for carol: %+v", leftEv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	stats, err := hub.RoomStats(ctx)
	if err != nil {
		t.Fatalf("room stats: %v", err)
	}
	for _, st := range stats {
		if st.Key == "r1" && st.Members != 1 {
			t.Fatalf("r1 should have one member left: %+v", stats)
		}
		if st.Key == "r2" && st.Members != 1 {
			t.Fatalf("r2 should have one member left: %+v", stats)
		}
	}
}

func TestHubEmptyRoomVanishes(t *testing.T) {
	hub := startHub(t)

	alice := NewClient("a")
	hub.RegisterClient(alice)
	alice.Commands <- &Command{Kind: CommandJoinRoom, Room: "xyz9"}

	mustEvent(t, alice.Events, EventMembership)
	hub.UnregisterClient(alice)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	stats, err := hub.RoomStats(ctx)
	if err != nil {
		t.Fatalf("room stats: %v", err)
	}
	for _, st := range stats {
		if st.Key == "xyz9" {
			t.Fatalf("room should be gone after last disconnect: %+v", stats)
		}
	}
}

func TestHubSecondJoinKeepsFirstRoom(t *testing.T) {
	hub := startHub(t)

	alice := NewClient("a")
	bob := NewClient("b")
	hub.RegisterClient(alice)
	hub.RegisterClient(bob)

	alice.Commands <- &Command{Kind: CommandJoinRoom, Room: "r1"}
	bob.Commands <- &Command{Kind: CommandJoinRoom, Room: "r1"}
	alice.Commands <- &Command{Kind: CommandJoinRoom, Room: "r2"}

	mustEvent(t, alice.Events, EventMembership)
	mustEvent(t, alice.Events, EventMembership)
	mustEvent(t, bob.Events, EventMembership)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	stats, err := hub.RoomStats(ctx)
	if err != nil {
		t.Fatalf("room stats: %v", err)
	}

	got := make(map[string]int, len(stats))
	for _, st := range stats {
		got[st.Key] = st.Members
	}
	if got["r1"] != 2 || got["r2"] != 1 {
		t.Fatalf("joining a second room must not leave the first: %+v", stats)
	}
}
