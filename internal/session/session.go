// Package session runs one goroutine per room. It is the only writer of the
// room state: every client command, connection change and deadline is a
// message on its inbox, applied one at a time through engine.Apply.
package session

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kaputi/kaputi-backend/internal/cues"
	"github.com/kaputi/kaputi-backend/internal/engine"
	"github.com/kaputi/kaputi-backend/internal/leaderboard"
	"github.com/kaputi/kaputi-backend/internal/logging"
	"github.com/kaputi/kaputi-backend/pkg/types"
)

type Msg interface{ isSessionMsg() }

// Join adds a player, or re-admits one when PlayerID is already seated.
type Join struct {
	PlayerID string
	Name     string
	Reply    chan JoinResult
}

func (Join) isSessionMsg() {}

type JoinResult struct {
	PlayerID string
	Snapshot types.RoomSnapshot
	Err      error
}

// Attach binds a live connection to a seated player.
type Attach struct {
	PlayerID string
	ConnID   string
	Outbox   chan types.ServerMessage // where this connection receives messages
	Reply    chan error
}

func (Attach) isSessionMsg() {}

type Detach struct{ ConnID string }

func (Detach) isSessionMsg() {}

// FromClient carries a command read off a connection. PlayerID is filled in
// from the connection, never trusted from the client.
type FromClient struct {
	ConnID string
	Cmd    engine.Command
}

func (FromClient) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isSessionMsg() {}

type timerFired struct{ gen int }

func (timerFired) isSessionMsg() {}

type View struct {
	Version    int
	NumClients int
	State      engine.State
}

type Options struct {
	Cards       engine.CardProvider
	Cues        cues.Dispatcher
	Leaderboard leaderboard.Sink
	Logger      *zap.Logger

	// OnClose runs once, on its own goroutine, after the session stops.
	OnClose func(code string)

	// TickInterval paces timerTick cues while a turn is playing.
	TickInterval time.Duration
	// UrgentBelow switches timerTick to timerUrgent.
	UrgentBelow time.Duration

	Clock       func() time.Time
	NewPlayerID func() string
	Shuffle     func(n int, swap func(i, j int))
}

func (o *Options) defaults() {
	if o.Cues == nil {
		o.Cues = cues.Nop{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.UrgentBelow <= 0 {
		o.UrgentBelow = 10 * time.Second
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.NewPlayerID == nil {
		o.NewPlayerID = func() string { return uuid.New().String() }
	}
	if o.Shuffle == nil {
		o.Shuffle = rand.Shuffle
	}
}

type conn struct {
	playerID string
	outbox   chan types.ServerMessage
}

type Session struct {
	code    string
	inbox   chan Msg
	state   engine.State
	version int
	conns   map[string]*conn
	opts    Options
	log     *zap.Logger

	timer    *time.Timer
	timerGen int
	timerAt  time.Time

	attached  atomic.Int32
	idleSince atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(parent context.Context, initial engine.State, opts Options) *Session {
	opts.defaults()
	ctx, cancel := context.WithCancel(parent)

	s := &Session{
		code:    initial.Code,
		inbox:   make(chan Msg, 64), // Small buffer
		state:   initial,
		version: 0,
		conns:   make(map[string]*conn),
		opts:    opts,
		log:     logging.Room(opts.Logger, initial.Code),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.idleSince.Store(opts.Clock().UnixNano())

	go s.loop()
	return s
}

func (s *Session) loop() {
	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case <-ticker.C:
			s.tickCue()

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Join:
				msg.Reply <- s.join(msg)

			case Attach:
				msg.Reply <- s.attach(msg)

			case Detach:
				s.detach(msg.ConnID)

			case FromClient:
				s.fromClient(msg)

			case timerFired:
				if msg.gen != s.timerGen {
					break // stale: superseded by a later arm
				}
				s.timerAt = time.Time{}
				s.apply(engine.Command{Type: engine.CmdTick}, false)

			case GetState:
				// reflect internal state without data races
				msg.Reply <- View{
					Version:    s.version,
					NumClients: len(s.conns),
					State:      s.state.Clone(),
				}

			case Shutdown:
				s.shutdown()
				return
			}

			if s.state.Phase == engine.PhaseClosed {
				s.shutdown()
				return
			}
		}
	}
}

func (s *Session) now() time.Time { return s.opts.Clock() }

// apply runs cmd through the engine and fans the result out. Client commands
// always broadcast; internal ones only when something changed.
func (s *Session) apply(cmd engine.Command, fromClient bool) (bool, error) {
	env := engine.Env{Now: s.now(), Cards: s.opts.Cards, Shuffle: s.opts.Shuffle}
	events, next, err := engine.Apply(s.state, cmd, env)
	if err != nil {
		return false, err
	}
	s.state = next
	s.react(events, env.Now)

	broadcast := fromClient || len(events) > 0
	if broadcast {
		s.version++
		s.broadcast()
	}
	s.arm()
	return broadcast, nil
}

func (s *Session) join(msg Join) JoinResult {
	id := msg.PlayerID
	status := engine.StatusDisconnected
	if p, ok := s.state.Player(id); ok {
		status = p.Status
		if s.hasConn(id) {
			status = engine.StatusConnected
		}
	} else {
		id = s.opts.NewPlayerID()
	}

	cmd := engine.Command{Type: engine.CmdJoin, PlayerID: id, Name: msg.Name, Status: status}
	if _, err := s.apply(cmd, true); err != nil {
		return JoinResult{Err: err}
	}
	return JoinResult{PlayerID: id, Snapshot: s.snapshot()}
}

func (s *Session) attach(msg Attach) error {
	if _, ok := s.state.Player(msg.PlayerID); !ok {
		return engine.ErrUnknownPlayer
	}
	c := &conn{playerID: msg.PlayerID, outbox: msg.Outbox}
	s.conns[msg.ConnID] = c
	s.countConns()
	s.log.Debug("connection attached", zap.String("player", msg.PlayerID), zap.String("conn", msg.ConnID))

	broadcast, err := s.apply(engine.Command{
		Type:     engine.CmdSetStatus,
		PlayerID: msg.PlayerID,
		Status:   engine.StatusConnected,
	}, false)
	if err != nil {
		return err
	}
	if !broadcast {
		// (Re)joining clients always get the current snapshot.
		s.send(msg.ConnID, c, s.snapshotMessage())
	}
	return nil
}

func (s *Session) detach(connID string) {
	c, ok := s.conns[connID]
	if !ok {
		return
	}
	delete(s.conns, connID)
	s.countConns()
	s.markGone(c.playerID)
}

// markGone flags a player disconnected once their last connection is gone.
func (s *Session) markGone(playerID string) {
	if s.hasConn(playerID) {
		return
	}
	if _, ok := s.state.Player(playerID); !ok {
		return
	}
	_, err := s.apply(engine.Command{
		Type:     engine.CmdSetStatus,
		PlayerID: playerID,
		Status:   engine.StatusDisconnected,
	}, false)
	if err != nil {
		s.log.Warn("mark disconnected", zap.String("player", playerID), zap.Error(err))
	}
}

func (s *Session) fromClient(msg FromClient) {
	c, ok := s.conns[msg.ConnID]
	if !ok {
		s.log.Debug("command from unknown connection", zap.String("conn", msg.ConnID))
		return
	}
	cmd := msg.Cmd
	cmd.PlayerID = c.playerID
	if cmd.Type == engine.CmdJoin || cmd.Type == engine.CmdTick {
		s.sendError(msg.ConnID, c, engine.ErrUnsupportedCommand)
		return
	}

	if _, err := s.apply(cmd, true); err != nil {
		s.log.Debug("command rejected",
			zap.String("player", c.playerID),
			zap.String("cmd", string(cmd.Type)),
			zap.String("code", engine.CodeOf(err)))
		s.sendError(msg.ConnID, c, err)
		return
	}

	if cmd.Type == engine.CmdLeave {
		for id, other := range s.conns {
			if other.playerID == c.playerID {
				close(other.outbox)
				delete(s.conns, id)
			}
		}
		s.countConns()
	}
}

func (s *Session) hasConn(playerID string) bool {
	for _, c := range s.conns {
		if c.playerID == playerID {
			return true
		}
	}
	return false
}

func (s *Session) countConns() {
	n := len(s.conns)
	prev := s.attached.Swap(int32(n))
	switch {
	case n == 0 && prev != 0:
		s.idleSince.Store(s.now().UnixNano())
	case n > 0:
		s.idleSince.Store(0)
	}
}

// arm schedules a timerFired for the state's next deadline. The generation
// counter makes any previously armed timer a no-op.
func (s *Session) arm() {
	at := s.state.NextDeadline()
	if s.timer != nil && at.Equal(s.timerAt) {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
	s.timerAt = at
	if at.IsZero() {
		return
	}

	gen := s.timerGen
	wait := max(at.Sub(s.now()), 0)
	s.timer = time.AfterFunc(wait, func() {
		select {
		case s.inbox <- timerFired{gen: gen}:
		case <-s.done:
		}
	})
}

func (s *Session) broadcast() {
	msg := s.snapshotMessage()
	var dropped []string
	for id, c := range s.conns {
		if !s.send(id, c, msg) {
			dropped = append(dropped, c.playerID)
		}
	}
	if len(dropped) > 0 {
		s.countConns()
		for _, playerID := range dropped {
			s.markGone(playerID)
		}
	}
}

// send never blocks the room: a connection that cannot keep up is dropped.
func (s *Session) send(id string, c *conn, msg types.ServerMessage) bool {
	select {
	case c.outbox <- msg:
		return true
	default:
		s.log.Info("dropping slow connection", zap.String("player", c.playerID), zap.String("conn", id))
		close(c.outbox)
		delete(s.conns, id)
		return false
	}
}

func (s *Session) sendError(id string, c *conn, err error) {
	s.send(id, c, types.ServerMessage{
		Type:    types.MsgError,
		Version: s.version,
		Error: &types.ErrorBody{
			Code:    engine.CodeOf(err),
			Kind:    string(engine.KindOf(err)),
			Message: err.Error(),
		},
	})
	if !s.hasConn(c.playerID) {
		s.countConns()
		s.markGone(c.playerID)
	}
}

func (s *Session) snapshot() types.RoomSnapshot {
	return BuildSnapshot(s.state, s.version, s.now())
}

func (s *Session) snapshotMessage() types.ServerMessage {
	snap := s.snapshot()
	return types.ServerMessage{Type: types.MsgStateSnapshot, Version: s.version, State: &snap}
}

func (s *Session) shutdown() {
	select {
	case <-s.done:
		return
	default:
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	closing := types.ServerMessage{Type: types.MsgRoomClosed, Version: s.version}
	for id, c := range s.conns {
		select {
		case c.outbox <- closing:
		default:
		}
		close(c.outbox) // Tell client no more messages
		delete(s.conns, id)
	}
	s.attached.Store(0)
	s.cancel()
	close(s.done)
	s.log.Info("room closed")

	if s.opts.OnClose != nil {
		go s.opts.OnClose(s.code)
	}
}

// Inbox exposes the command queue so tests or the WS layer can send messages.
func (s *Session) Inbox() chan<- Msg { return s.inbox }

func (s *Session) Code() string { return s.code }

// Done is closed once the session has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Attached is the number of live connections.
func (s *Session) Attached() int { return int(s.attached.Load()) }

// IdleSince reports when the last connection went away; zero while any is attached.
func (s *Session) IdleSince() time.Time {
	n := s.idleSince.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Send queues m unless the session has stopped.
func (s *Session) Send(m Msg) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.inbox <- m:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) JoinPlayer(ctx context.Context, playerID, name string) (JoinResult, error) {
	reply := make(chan JoinResult, 1)
	if err := s.request(ctx, Join{PlayerID: playerID, Name: name, Reply: reply}); err != nil {
		return JoinResult{}, err
	}
	select {
	case r := <-reply:
		return r, r.Err
	case <-ctx.Done():
		return JoinResult{}, ctx.Err()
	case <-s.done:
		return JoinResult{}, engine.ErrRoomNotFound
	}
}

func (s *Session) AttachConn(ctx context.Context, playerID, connID string, outbox chan types.ServerMessage) error {
	reply := make(chan error, 1)
	msg := Attach{PlayerID: playerID, ConnID: connID, Outbox: outbox, Reply: reply}
	if err := s.request(ctx, msg); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return engine.ErrRoomNotFound
	}
}

func (s *Session) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := s.request(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-s.done:
		return View{}, engine.ErrRoomNotFound
	}
}

func (s *Session) Snapshot(ctx context.Context) (types.RoomSnapshot, error) {
	v, err := s.View(ctx)
	if err != nil {
		return types.RoomSnapshot{}, err
	}
	return BuildSnapshot(v.State, v.Version, s.now()), nil
}

func (s *Session) request(ctx context.Context, m Msg) error {
	select {
	case <-s.done:
		return engine.ErrRoomNotFound
	default:
	}
	select {
	case s.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return engine.ErrRoomNotFound
	}
}
