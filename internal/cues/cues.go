// Package cues dispatches named audio cues to whatever plays them. Dispatch
// is fire-and-forget: the game never waits for, or fails on, a cue.
package cues

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Cue string

const (
	TurnStart    Cue = "turnStart"
	TimerTick    Cue = "timerTick"
	TimerUrgent  Cue = "timerUrgent"
	TimerExpired Cue = "timerExpired"
	VoteApproved Cue = "voteApproved"
	VoteRejected Cue = "voteRejected"
	GameStart    Cue = "gameStart"
	CardPlay     Cue = "cardPlay"
	CardPickup   Cue = "cardPickup"
	VoteSubmit   Cue = "voteSubmit"
	PlayerJoin   Cue = "playerJoin"
	TopicSelect  Cue = "topicSelect"
)

type Dispatcher interface {
	Dispatch(room string, cue Cue)
}

type Nop struct{}

func (Nop) Dispatch(string, Cue) {}

// Channel is the pub/sub channel cue events are published on.
const Channel = "audio_cues"

type Message struct {
	Room string    `json:"room"`
	Cue  Cue       `json:"cue"`
	At   time.Time `json:"at"`
}

// RedisPublisher publishes cues so any number of front-end relays can play them.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
	timeout time.Duration
	log     *zap.Logger
	wg      sync.WaitGroup
}

func NewRedisPublisher(rdb *redis.Client, log *zap.Logger) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: Channel, timeout: 2 * time.Second, log: log}
}

func (p *RedisPublisher) Dispatch(room string, cue Cue) {
	payload, err := json.Marshal(Message{Room: room, Cue: cue, At: time.Now().UTC()})
	if err != nil {
		p.log.Warn("encode cue", zap.Error(err))
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
			p.log.Warn("publish cue failed",
				zap.String("room", room), zap.String("cue", string(cue)), zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight publishes finish.
func (p *RedisPublisher) Wait() { p.wg.Wait() }

// Recorder keeps every cue in memory.
type Recorder struct {
	mu   sync.Mutex
	cues []Message
}

func (r *Recorder) Dispatch(room string, cue Cue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cues = append(r.cues, Message{Room: room, Cue: cue, At: time.Now()})
}

func (r *Recorder) Cues() []Cue {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Cue, 0, len(r.cues))
	for _, m := range r.cues {
		out = append(out, m.Cue)
	}
	return out
}

func (r *Recorder) Has(cue Cue) bool {
	for _, c := range r.Cues() {
		if c == cue {
			return true
		}
	}
	return false
}
