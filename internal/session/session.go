package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/liveloop/loopjam/internal/proto"
	"github.com/liveloop/loopjam/internal/store"
	"github.com/liveloop/loopjam/internal/utils"
)

const (
	maxHistory = 64
	maxChatLog = 256

	defaultBackoffMin = time.Second
	defaultBackoffMax = 30 * time.Second

	writeTimeout = 5 * time.Second
)

// PeerLink is one media link to a remote participant, as the session sees it.
type PeerLink interface {
	ApplySignal(payload json.RawMessage) error
	Close() error
}

// SignalFunc delivers one outgoing negotiation payload addressed to target.
type SignalFunc func(target string, payload json.RawMessage)

// NewPeerFunc builds a peer link to remoteID. The initiator side starts the
// negotiation; onClose reports that the link died on its own.
type NewPeerFunc func(remoteID string, initiator bool, send SignalFunc, onClose func(remoteID string)) (PeerLink, error)

// MediaSource acquires and releases the local capture device.
type MediaSource interface {
	Acquire(ctx context.Context) error
	Release()
}

// Config wires one session. ServerURL, RoomKey and NewPeer are required.
type Config struct {
	ServerURL   string
	RoomKey     string
	Label       string
	SessionName string

	NewPeer NewPeerFunc
	Media   MediaSource
	Store   store.SessionStore
	Log     *zerolog.Logger

	// OnNotice receives human-readable lines for chat and peer activity.
	OnNotice func(line string)

	BackoffMin time.Duration
	BackoffMax time.Duration
}

// Session owns one room membership end to end: the relay connection, the
// peer-link map, the local transport and grid state with its undo history,
// and the autosave snapshot. All state is confined to the Run loop; local
// operations and peer callbacks post onto the ops channel.
type Session struct {
	cfg Config
	log *zerolog.Logger

	ops    chan func()
	frames chan proto.Frame
	lost   chan error

	done     chan struct{}
	doneOnce sync.Once

	conn   *websocket.Conn
	connID string

	members map[string]struct{}
	peers   map[string]PeerLink

	transport proto.TransportState
	grid      []bool
	undo      [][]bool
	redo      [][]bool
	chatLog   []proto.ChatEventData

	backoff time.Duration
}

// View is a point-in-time copy of session state for display.
type View struct {
	ConnectionID string
	SessionName  string
	Transport    proto.TransportState
	Grid         []bool
	Peers        []string
}

// New validates cfg and builds a session. Run must be called to start it.
func New(cfg Config) (*Session, error) {
	if cfg.ServerURL == "" {
		return nil, errors.New("session: server URL is required")
	}
	if cfg.RoomKey == "" {
		return nil, errors.New("session: room key is required")
	}
	if cfg.NewPeer == nil {
		return nil, errors.New("session: peer factory is required")
	}
	if cfg.Label == "" {
		cfg.Label = utils.NewParticipantLabel()
	}
	if cfg.SessionName == "" {
		cfg.SessionName = "untitled session"
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = defaultBackoffMin
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = defaultBackoffMax
	}
	logger := cfg.Log
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Session{
		cfg:     cfg,
		log:     logger,
		ops:     make(chan func(), 32),
		frames:  make(chan proto.Frame, 32),
		lost:    make(chan error, 1),
		done:    make(chan struct{}),
		members: make(map[string]struct{}),
		peers:   make(map[string]PeerLink),
		transport: proto.TransportState{
			IsPlaying: false,
			BPM:       120,
		},
		grid: make([]bool, proto.GridSteps),
	}, nil
}

// Run drives the session until ctx is cancelled: restore the autosave
// snapshot, acquire media in the background, then dial the relay and keep
// redialing with backoff whenever the connection drops. Teardown runs on
// every exit path.
func (s *Session) Run(ctx context.Context) error {
	defer s.teardown()

	s.restore(ctx)

	if s.cfg.Media != nil {
		go s.acquireMedia(ctx)
	}

	dial := time.NewTimer(0)
	defer dial.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-dial.C:
			if err := s.connect(ctx); err != nil {
				wait := s.nextBackoff()
				s.log.Warn().Err(err).Dur("retry_in", wait).Msg("dial failed")
				dial.Reset(wait)
				continue
			}
			s.backoff = 0
			s.log.Info().Str("server", s.cfg.ServerURL).Msg("connected")

		case err := <-s.lost:
			s.log.Warn().Err(err).Msg("connection lost")
			s.dropConn()
			s.closePeers()
			dial.Reset(s.nextBackoff())

		case fn := <-s.ops:
			fn()

		case frame := <-s.frames:
			s.handleFrame(ctx, frame)
		}
	}
}

// TogglePlay flips the shared play state and publishes it.
func (s *Session) TogglePlay() {
	s.do(func() {
		s.transport.IsPlaying = !s.transport.IsPlaying
		s.publishTransport(context.Background())
	})
}

// SetBPM sets the shared tempo and publishes it. Non-positive values are
// ignored.
func (s *Session) SetBPM(bpm int) {
	s.do(func() {
		if bpm <= 0 {
			return
		}
		s.transport.BPM = bpm
		s.publishTransport(context.Background())
		s.autosave(context.Background())
	})
}

// ToggleStep flips one sequencer step, recording the prior grid for undo.
func (s *Session) ToggleStep(i int) {
	s.do(func() {
		if i < 0 || i >= len(s.grid) {
			return
		}
		s.pushHistory()
		s.grid[i] = !s.grid[i]
		s.publishGrid(context.Background())
		s.autosave(context.Background())
	})
}

// Undo restores the previous grid, if any, and publishes it.
func (s *Session) Undo() {
	s.do(func() {
		if len(s.undo) == 0 {
			return
		}
		s.redo = append(s.redo, cloneGrid(s.grid))
		s.grid = s.undo[len(s.undo)-1]
		s.undo = s.undo[:len(s.undo)-1]
		s.publishGrid(context.Background())
		s.autosave(context.Background())
	})
}

// Redo reapplies the last undone grid, if any, and publishes it.
func (s *Session) Redo() {
	s.do(func() {
		if len(s.redo) == 0 {
			return
		}
		s.undo = append(s.undo, cloneGrid(s.grid))
		s.grid = s.redo[len(s.redo)-1]
		s.redo = s.redo[:len(s.redo)-1]
		s.publishGrid(context.Background())
		s.autosave(context.Background())
	})
}

// SendChat publishes one chat message under the session's label.
func (s *Session) SendChat(message string) {
	s.do(func() {
		if message == "" {
			return
		}
		s.writeFrame(context.Background(), proto.InboundTypeChat, proto.ChatData{
			RoomKey: s.cfg.RoomKey,
			Message: message,
			User:    s.cfg.Label,
		})
	})
}

// View returns a copy of the current session state.
func (s *Session) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	op := func() {
		peers := make([]string, 0, len(s.peers))
		for id := range s.peers {
			peers = append(peers, id)
		}
		sort.Strings(peers)
		reply <- View{
			ConnectionID: s.connID,
			SessionName:  s.cfg.SessionName,
			Transport:    s.transport,
			Grid:         cloneGrid(s.grid),
			Peers:        peers,
		}
	}

	select {
	case s.ops <- op:
	case <-s.done:
		return View{}, errors.New("session closed")
	case <-ctx.Done():
		return View{}, ctx.Err()
	}

	select {
	case v := <-reply:
		return v, nil
	case <-s.done:
		return View{}, errors.New("session closed")
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// do posts an operation onto the run loop. Dropped once the session closes.
func (s *Session) do(fn func()) {
	select {
	case s.ops <- fn:
	case <-s.done:
	}
}

func (s *Session) connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, s.cfg.ServerURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.cfg.ServerURL, err)
	}
	s.conn = conn
	go s.readFrames(ctx, conn)
	return nil
}

// readFrames feeds decoded frames into the run loop until the connection
// errors out, then reports the loss exactly once.
func (s *Session) readFrames(ctx context.Context, conn *websocket.Conn) {
	for {
		var frame proto.Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			select {
			case s.lost <- err:
			case <-s.done:
			case <-ctx.Done():
			}
			return
		}
		select {
		case s.frames <- frame:
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, frame proto.Frame) {
	if frame.Error != nil {
		s.log.Warn().Str("code", frame.Error.Code).Str("msg", frame.Error.Msg).Msg("relay rejected a frame")
		return
	}
	if frame.Type != proto.OutboundTypeEvent {
		return
	}

	switch frame.Event {
	case proto.EventWelcome:
		var data proto.WelcomeData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			s.log.Warn().Err(err).Msg("bad welcome payload")
			return
		}
		s.connID = data.ConnectionID
		s.writeFrame(ctx, proto.InboundTypeJoin, proto.JoinData{
			RoomKey:          s.cfg.RoomKey,
			ParticipantLabel: s.cfg.Label,
		})

	case proto.EventMembership:
		var members []string
		if err := json.Unmarshal(frame.Data, &members); err != nil {
			s.log.Warn().Err(err).Msg("bad membership payload")
			return
		}
		s.syncMembers(members)

	case proto.EventPeerNotice:
		var data proto.PeerNoticeData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			s.log.Warn().Err(err).Msg("bad peer notice payload")
			return
		}
		if data.Kind == "leave" {
			s.removePeer(data.ConnectionID)
			s.notice("%s left the room", participantName(data))
		} else {
			s.notice("%s joined the room", participantName(data))
		}

	case proto.EventSignal:
		var data proto.SignalEventData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			s.log.Warn().Err(err).Msg("bad signal payload")
			return
		}
		link := s.ensurePeerLink(data.From, false)
		if link == nil {
			return
		}
		if err := link.ApplySignal(data.Payload); err != nil {
			s.log.Warn().Err(err).Str("from", data.From).Msg("signal rejected by peer link")
		}

	case proto.EventTransport:
		var data proto.TransportEventData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			s.log.Warn().Err(err).Msg("bad transport payload")
			return
		}
		s.transport = data.State
		s.notice("transport from %s: playing=%v bpm=%d", data.From, data.State.IsPlaying, data.State.BPM)

	case proto.EventSequencer:
		var data proto.SequencerEventData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			s.log.Warn().Err(err).Msg("bad sequencer payload")
			return
		}
		if len(data.Grid) != proto.GridSteps {
			s.log.Warn().Int("len", len(data.Grid)).Msg("dropping sequencer update with wrong grid length")
			return
		}
		// Remote edits replace the grid outright and never enter the
		// local undo history.
		s.grid = cloneGrid(data.Grid)

	case proto.EventChat:
		var data proto.ChatEventData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			s.log.Warn().Err(err).Msg("bad chat payload")
			return
		}
		s.chatLog = append(s.chatLog, data)
		if len(s.chatLog) > maxChatLog {
			s.chatLog = s.chatLog[len(s.chatLog)-maxChatLog:]
		}
		s.notice("%s: %s", data.User, data.Message)

	default:
		s.log.Debug().Str("event", frame.Event).Msg("ignoring unknown event")
	}
}

// syncMembers replaces the participant view wholesale: links are pruned for
// departed members and ensured for everyone else. Initiator election is by
// id order so exactly one side of each pair sends the offer.
func (s *Session) syncMembers(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}

	for id := range s.peers {
		if _, ok := next[id]; !ok {
			s.removePeer(id)
		}
	}

	s.members = next
	s.ensureAllPeers()
}

func (s *Session) ensureAllPeers() {
	for id := range s.members {
		if id == s.connID || s.connID == "" {
			continue
		}
		s.ensurePeerLink(id, s.connID < id)
	}
}

// ensurePeerLink returns the link for remoteID, creating it at most once.
func (s *Session) ensurePeerLink(remoteID string, initiator bool) PeerLink {
	if remoteID == "" || remoteID == s.connID {
		return nil
	}
	if link, ok := s.peers[remoteID]; ok {
		return link
	}

	link, err := s.cfg.NewPeer(remoteID, initiator, s.sendSignal, s.peerClosed)
	if err != nil {
		s.log.Warn().Err(err).Str("remote_id", remoteID).Msg("peer link creation failed")
		return nil
	}
	s.peers[remoteID] = link
	s.log.Debug().Str("remote_id", remoteID).Bool("initiator", initiator).Msg("peer link created")
	return link
}

// sendSignal is handed to every peer link; pion invokes it from its own
// goroutines, so the actual write is posted onto the run loop.
func (s *Session) sendSignal(target string, payload json.RawMessage) {
	s.do(func() {
		s.writeFrame(context.Background(), proto.InboundTypeSignal, proto.SignalData{
			RoomKey:            s.cfg.RoomKey,
			TargetConnectionID: target,
			Payload:            payload,
		})
	})
}

func (s *Session) peerClosed(remoteID string) {
	s.do(func() {
		s.removePeer(remoteID)
	})
}

func (s *Session) removePeer(remoteID string) {
	link, ok := s.peers[remoteID]
	if !ok {
		return
	}
	delete(s.peers, remoteID)
	if err := link.Close(); err != nil {
		s.log.Debug().Err(err).Str("remote_id", remoteID).Msg("peer link close")
	}
}

func (s *Session) closePeers() {
	for id := range s.peers {
		s.removePeer(id)
	}
}

// acquireMedia runs off-loop; capture failure degrades to no local audio.
func (s *Session) acquireMedia(ctx context.Context) {
	if err := s.cfg.Media.Acquire(ctx); err != nil {
		s.log.Warn().Err(err).Msg("no local audio, continuing without capture")
		return
	}
	// Links created before this point carry no local track; retry for
	// members still lacking one so new links pick the track up.
	s.do(s.ensureAllPeers)
}

func (s *Session) publishTransport(ctx context.Context) {
	s.writeFrame(ctx, proto.InboundTypeTransport, proto.TransportData{
		RoomKey: s.cfg.RoomKey,
		State:   s.transport,
	})
}

func (s *Session) publishGrid(ctx context.Context) {
	s.writeFrame(ctx, proto.InboundTypeSequencer, proto.SequencerData{
		RoomKey: s.cfg.RoomKey,
		Grid:    cloneGrid(s.grid),
	})
}

func (s *Session) writeFrame(ctx context.Context, typ string, data any) {
	if s.conn == nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		s.log.Error().Err(err).Str("type", typ).Msg("marshal frame")
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, s.conn, proto.Inbound{Type: typ, Data: raw}); err != nil {
		s.log.Warn().Err(err).Str("type", typ).Msg("write frame")
	}
}

// pushHistory snapshots the grid before a local edit and clears the redo
// stack, keeping at most maxHistory entries.
func (s *Session) pushHistory() {
	s.undo = append(s.undo, cloneGrid(s.grid))
	if len(s.undo) > maxHistory {
		s.undo = s.undo[len(s.undo)-maxHistory:]
	}
	s.redo = s.redo[:0]
}

func (s *Session) restore(ctx context.Context) {
	if s.cfg.Store == nil {
		return
	}
	snap, err := s.cfg.Store.Load(ctx, s.cfg.RoomKey)
	if err != nil {
		s.log.Warn().Err(err).Msg("load autosave")
		return
	}
	if snap == nil {
		return
	}
	if snap.BPM > 0 {
		s.transport.BPM = snap.BPM
	}
	if len(snap.Grid) == proto.GridSteps {
		s.grid = cloneGrid(snap.Grid)
	}
	if snap.SessionName != "" {
		s.cfg.SessionName = snap.SessionName
	}
	s.log.Info().Time("saved_at", snap.UpdatedAt).Msg("restored autosave snapshot")
}

func (s *Session) autosave(ctx context.Context) {
	if s.cfg.Store == nil {
		return
	}
	err := s.cfg.Store.Save(ctx, s.cfg.RoomKey, store.Snapshot{
		SessionName: s.cfg.SessionName,
		BPM:         s.transport.BPM,
		Grid:        cloneGrid(s.grid),
		UpdatedAt:   time.Now(),
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("autosave")
	}
}

func (s *Session) nextBackoff() time.Duration {
	if s.backoff == 0 {
		s.backoff = s.cfg.BackoffMin
	} else {
		s.backoff *= 2
		if s.backoff > s.cfg.BackoffMax {
			s.backoff = s.cfg.BackoffMax
		}
	}
	return s.backoff
}

func (s *Session) dropConn() {
	if s.conn == nil {
		return
	}
	_ = s.conn.Close(websocket.StatusGoingAway, "reconnecting")
	s.conn = nil
	s.connID = ""
}

func (s *Session) teardown() {
	s.doneOnce.Do(func() { close(s.done) })
	s.closePeers()
	if s.cfg.Media != nil {
		s.cfg.Media.Release()
	}
	if s.conn != nil {
		_ = s.conn.Close(websocket.StatusNormalClosure, "bye")
		s.conn = nil
	}
}

func (s *Session) notice(format string, args ...any) {
	if s.cfg.OnNotice == nil {
		return
	}
	s.cfg.OnNotice(fmt.Sprintf(format, args...))
}

func participantName(n proto.PeerNoticeData) string {
	if n.ParticipantLabel != "" {
		return n.ParticipantLabel
	}
	return n.ConnectionID
}

func cloneGrid(grid []bool) []bool {
	out := make([]bool, len(grid))
	copy(out, grid)
	return out
}
