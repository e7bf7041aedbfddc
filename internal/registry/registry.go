// Package registry owns the set of live rooms: it mints room codes, starts a
// session per room and reaps rooms nobody is connected to.
package registry

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/kaputi/kaputi-backend/internal/engine"
	"github.com/kaputi/kaputi-backend/internal/session"
)

// CodeAlphabet leaves out I, O, 0 and 1 so codes survive being read aloud.
const (
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	CodeLength   = 6
)

func GenerateCode() (string, error) {
	code := make([]byte, CodeLength)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(CodeAlphabet))))
		if err != nil {
			return "", err
		}
		code[i] = CodeAlphabet[num.Int64()]
	}
	return string(code), nil
}

type Msg interface{ isRegistryMsg() }

type CreateRoom struct {
	Reply chan Created
}

type Created struct {
	Session *session.Session
	Err     error
}

type GetRoom struct {
	Code  string
	Reply chan *session.Session
}

// RemoveRoom forgets a room once its session has stopped.
type RemoveRoom struct {
	Code string
}

type CountRooms struct {
	Reply chan int
}

type Shutdown struct{}

type sweepNow struct{ done chan struct{} }

func (CreateRoom) isRegistryMsg() {}
func (GetRoom) isRegistryMsg()    {}
func (RemoveRoom) isRegistryMsg() {}
func (CountRooms) isRegistryMsg() {}
func (Shutdown) isRegistryMsg()   {}
func (sweepNow) isRegistryMsg()   {}

type Options struct {
	Rules   engine.Rules
	Session session.Options

	// Grace is how long a room may sit with no connections before it is reaped.
	Grace         time.Duration
	SweepInterval time.Duration

	Clock   func() time.Time
	NewCode func() (string, error)
	Logger  *zap.Logger
}

type Registry struct {
	inbox chan Msg
	rooms map[string]*session.Session
	opts  Options
	log   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(parent context.Context, opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewCode == nil {
		opts.NewCode = GenerateCode
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 30 * time.Second
	}
	if opts.Session.Logger == nil {
		opts.Session.Logger = opts.Logger
	}

	ctx, cancel := context.WithCancel(parent)
	r := &Registry{
		inbox:  make(chan Msg, 64),
		rooms:  make(map[string]*session.Session),
		opts:   opts,
		log:    opts.Logger,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Registry) Inbox() chan<- Msg { return r.inbox }

func (r *Registry) Done() <-chan struct{} { return r.done }

func (r *Registry) loop() {
	defer close(r.done)
	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case <-ticker.C:
			r.sweep()

		case m := <-r.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				s, err := r.create()
				msg.Reply <- Created{Session: s, Err: err}

			case GetRoom:
				msg.Reply <- r.rooms[msg.Code] // May be nil

			case RemoveRoom:
				if s := r.rooms[msg.Code]; s != nil && stopped(s) {
					delete(r.rooms, msg.Code)
					r.log.Debug("room removed", zap.String("room", msg.Code))
				}

			case CountRooms:
				msg.Reply <- len(r.rooms)

			case sweepNow:
				r.sweep()
				close(msg.done)

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Registry) create() (*session.Session, error) {
	var code string
	for {
		c, err := r.opts.NewCode()
		if err != nil {
			return nil, err
		}
		if r.rooms[c] == nil {
			code = c
			break
		}
		r.log.Debug("collision on code, regenerating", zap.String("room", c))
	}

	opts := r.opts.Session
	opts.OnClose = r.Remove
	s := session.New(r.ctx, engine.NewState(code, r.opts.Rules, r.opts.Clock()), opts)
	r.rooms[code] = s
	r.log.Info("room created", zap.String("room", code), zap.Int("rooms", len(r.rooms)))
	return s, nil
}

// sweep reaps rooms that stopped on their own or have been empty past the grace period.
func (r *Registry) sweep() {
	now := r.opts.Clock()
	for code, s := range r.rooms {
		if stopped(s) {
			delete(r.rooms, code)
			continue
		}
		if r.opts.Grace <= 0 || s.Attached() > 0 {
			continue
		}
		idle := s.IdleSince()
		if idle.IsZero() || now.Sub(idle) < r.opts.Grace {
			continue
		}
		r.log.Info("reaping idle room", zap.String("room", code), zap.Duration("idle", now.Sub(idle)))
		s.Send(session.Shutdown{})
		delete(r.rooms, code)
	}
}

func (r *Registry) shutdown() {
	for _, s := range r.rooms {
		s.Send(session.Shutdown{})
	}
	clear(r.rooms)
	r.cancel()
}

func stopped(s *session.Session) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}

func (r *Registry) send(ctx context.Context, m Msg) error {
	select {
	case <-r.done:
		return engine.ErrRoomNotFound
	default:
	}
	select {
	case r.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return engine.ErrRoomNotFound
	}
}

// Create starts a new, empty room.
func (r *Registry) Create(ctx context.Context) (*session.Session, error) {
	reply := make(chan Created, 1)
	if err := r.send(ctx, CreateRoom{Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case c := <-reply:
		return c.Session, c.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		return nil, engine.ErrRoomNotFound
	}
}

// Lookup returns engine.ErrRoomNotFound for unknown or stopped rooms.
func (r *Registry) Lookup(ctx context.Context, code string) (*session.Session, error) {
	reply := make(chan *session.Session, 1)
	if err := r.send(ctx, GetRoom{Code: code, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case s := <-reply:
		if s == nil || stopped(s) {
			return nil, engine.ErrRoomNotFound
		}
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		return nil, engine.ErrRoomNotFound
	}
}

// Join seats a player in the room with the given code.
func (r *Registry) Join(ctx context.Context, code, playerID, name string) (session.JoinResult, error) {
	s, err := r.Lookup(ctx, code)
	if err != nil {
		return session.JoinResult{}, err
	}
	return s.JoinPlayer(ctx, playerID, name)
}

func (r *Registry) Count(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := r.send(ctx, CountRooms{Reply: reply}); err != nil {
		return 0, err
	}
	select {
	case n := <-reply:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-r.done:
		return 0, engine.ErrRoomNotFound
	}
}

// Remove is the sessions' close hook. It never blocks past registry shutdown.
func (r *Registry) Remove(code string) {
	select {
	case r.inbox <- RemoveRoom{Code: code}:
	case <-r.done:
	}
}

// Sweep runs one reaping pass and waits for it.
func (r *Registry) Sweep(ctx context.Context) error {
	done := make(chan struct{})
	if err := r.send(ctx, sweepNow{done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return engine.ErrRoomNotFound
	}
}

func (r *Registry) Shutdown() {
	select {
	case r.inbox <- Shutdown{}:
	case <-r.done:
	}
	<-r.done
}
