package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/liveloop/loopjam/internal/config"
	"github.com/liveloop/loopjam/internal/core"
	"github.com/liveloop/loopjam/internal/proto"
)

func startTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := zerolog.Nop()
	hub := core.NewHub(&logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	server := NewServer(hub, config.Config{
		Addr:              ":0",
		ReadHeaderTimeout: time.Second,
		ShutdownTimeout:   time.Second,
	}, &logger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return ts
}

func dialWS(t *testing.T, ctx context.Context, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

// readEvent reads frames until one with the wanted event name arrives.
func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn, event string) proto.Frame {
	t.Helper()

	for {
		var frame proto.Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			t.Fatalf("read waiting for %q: %v", event, err)
		}
		if frame.Type == proto.OutboundTypeEvent && frame.Event == event {
			return frame
		}
	}
}

func sendInbound(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, data any) {
	t.Helper()

	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: raw}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := startTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestWelcomeAndMembershipBroadcast(t *testing.T) {
	ts := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := dialWS(t, ctx, ts)
	connB := dialWS(t, ctx, ts)

	var welcomeA, welcomeB proto.WelcomeData
	frame := readEvent(t, ctx, connA, proto.EventWelcome)
	if err := json.Unmarshal(frame.Data, &welcomeA); err != nil || welcomeA.ConnectionID == "" {
		t.Fatalf("bad welcome for A: %s err=%v", frame.Data, err)
	}
	frame = readEvent(t, ctx, connB, proto.EventWelcome)
	if err := json.Unmarshal(frame.Data, &welcomeB); err != nil || welcomeB.ConnectionID == "" {
		t.Fatalf("bad welcome for B: %s err=%v", frame.Data, err)
	}

	sendInbound(t, ctx, connA, proto.InboundTypeJoin, proto.JoinData{RoomKey: "abcd", ParticipantLabel: "alice"})
	sendInbound(t, ctx, connB, proto.InboundTypeJoin, proto.JoinData{RoomKey: "abcd", ParticipantLabel: "bob"})

	// Both clients eventually see a membership list with both ids.
	for _, conn := range []*websocket.Conn{connA, connB} {
		var members []string
		for len(members) < 2 {
			frame := readEvent(t, ctx, conn, proto.EventMembership)
			if err := json.Unmarshal(frame.Data, &members); err != nil {
				t.Fatalf("unmarshal membership: %v", err)
			}
		}
		seen := map[string]bool{}
		for _, id := range members {
			seen[id] = true
		}
		if !seen[welcomeA.ConnectionID] || !seen[welcomeB.ConnectionID] {
			t.Fatalf("membership missing a participant: %v", members)
		}
	}
}

func TestSequencerUpdateReachesPeersNotSender(t *testing.T) {
	ts := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := dialWS(t, ctx, ts)
	connB := dialWS(t, ctx, ts)

	var welcomeA proto.WelcomeData
	frame := readEvent(t, ctx, connA, proto.EventWelcome)
	if err := json.Unmarshal(frame.Data, &welcomeA); err != nil {
		t.Fatalf("unmarshal welcome: %v", err)
	}
	readEvent(t, ctx, connB, proto.EventWelcome)

	sendInbound(t, ctx, connA, proto.InboundTypeJoin, proto.JoinData{RoomKey: "abcd", ParticipantLabel: "alice"})
	sendInbound(t, ctx, connB, proto.InboundTypeJoin, proto.JoinData{RoomKey: "abcd", ParticipantLabel: "bob"})

	// Wait until A knows both members are in, so the fan-out includes B.
	var members []string
	for len(members) < 2 {
		frame := readEvent(t, ctx, connA, proto.EventMembership)
		if err := json.Unmarshal(frame.Data, &members); err != nil {
			t.Fatalf("unmarshal membership: %v", err)
		}
	}

	grid := make([]bool, proto.GridSteps)
	for i := range grid {
		grid[i] = i%2 == 0
	}
	sendInbound(t, ctx, connA, proto.InboundTypeSequencer, proto.SequencerData{RoomKey: "abcd", Grid: grid})

	frame = readEvent(t, ctx, connB, proto.EventSequencer)
	var seq proto.SequencerEventData
	if err := json.Unmarshal(frame.Data, &seq); err != nil {
		t.Fatalf("unmarshal sequencer event: %v", err)
	}
	if seq.From != welcomeA.ConnectionID {
		t.Fatalf("sequencer event not tagged with sender: %+v", seq)
	}
	for i, step := range seq.Grid {
		if step != (i%2 == 0) {
			t.Fatalf("grid mismatch at %d: %v", i, seq.Grid)
		}
	}

	// The sender must not receive an echo.
	echoCtx, echoCancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer echoCancel()
	for {
		var echo proto.Frame
		if err := wsjson.Read(echoCtx, connA, &echo); err != nil {
			break // timeout: nothing echoed
		}
		if echo.Event == proto.EventSequencer {
			t.Fatal("sequencer update echoed back to sender")
		}
	}
}

func TestMalformedFrameGetsErrorAndConnectionSurvives(t *testing.T) {
	ts := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, ts)
	readEvent(t, ctx, conn, proto.EventWelcome)

	// Missing roomKey must be rejected without dropping the connection.
	sendInbound(t, ctx, conn, proto.InboundTypeJoin, map[string]string{"participantLabel": "x"})

	var frame proto.Frame
	for frame.Type != proto.OutboundTypeError {
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			t.Fatalf("read error frame: %v", err)
		}
	}
	if frame.Error == nil || frame.Error.Code != core.ErrCodeBadRequest {
		t.Fatalf("unexpected error frame: %+v", frame)
	}

	// The same connection can still join normally afterwards.
	sendInbound(t, ctx, conn, proto.InboundTypeJoin, proto.JoinData{RoomKey: "abcd", ParticipantLabel: "x"})
	readEvent(t, ctx, conn, proto.EventMembership)
}

func TestRoomStatsEndpoint(t *testing.T) {
	ts := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, ts)
	readEvent(t, ctx, conn, proto.EventWelcome)
	sendInbound(t, ctx, conn, proto.InboundTypeJoin, proto.JoinData{RoomKey: "xyz9"})
	readEvent(t, ctx, conn, proto.EventMembership)

	resp, err := ts.Client().Get(ts.URL + "/api/rooms")
	if err != nil {
		t.Fatalf("stats request failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Rooms []core.RoomStat `json:"rooms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	found := false
	for _, st := range body.Rooms {
		if st.Key == "xyz9" && st.Members == 1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected room xyz9 with one member, got %+v", body.Rooms)
	}
}
