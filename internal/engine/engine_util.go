package engine

import (
	"slices"
	"time"
)

func DefaultRules() Rules {
	return Rules{
		MaxPlayers:        8,
		MinPlayers:        2,
		MaxSlots:          8,
		Rounds:            3,
		TopicDuration:     20 * time.Second,
		TurnDuration:      90 * time.Second,
		VoteDuration:      30 * time.Second,
		ResolveGrace:      5 * time.Second,
		HoldTimeout:       2 * time.Minute,
		DisconnectRemoval: 5 * time.Minute,
		Reward:            DefaultReward(),
	}
}

func NewState(code string, rules Rules, now time.Time) State {
	return State{
		Code:      code,
		Phase:     PhaseWaiting,
		Players:   []Player{},
		CreatedAt: now,
		Rules:     rules.Normalize(),
	}
}

// Normalize repairs durations that would leave a room waiting forever. A
// vote always closes, and a zero ResolveGrace advances as soon as the turn
// is resolved.
func (r Rules) Normalize() Rules {
	if r.VoteDuration <= 0 {
		r.VoteDuration = DefaultRules().VoteDuration
	}
	if r.ResolveGrace < 0 {
		r.ResolveGrace = 0
	}
	return r
}

// Clone deep-copies everything Apply may mutate.
func (s State) Clone() State {
	c := s
	c.Players = slices.Clone(s.Players)
	if s.Turn != nil {
		t := *s.Turn
		t.Sentence.Slots = slices.Clone(s.Turn.Sentence.Slots)
		t.Eligible = slices.Clone(s.Turn.Eligible)
		t.Votes = slices.Clone(s.Turn.Votes)
		t.Acks = slices.Clone(s.Turn.Acks)
		c.Turn = &t
	}
	return c
}

func (s *State) player(id string) *Player {
	for i := range s.Players {
		if s.Players[i].ID == id {
			return &s.Players[i]
		}
	}
	return nil
}

// Player returns a copy of the player with the given id.
func (s State) Player(id string) (Player, bool) {
	if p := s.player(id); p != nil {
		return *p, true
	}
	return Player{}, false
}

func (s State) connectedCount() int {
	n := 0
	for _, p := range s.Players {
		if p.Status != StatusDisconnected {
			n++
		}
	}
	return n
}

// ConnectedCount is the number of players not marked disconnected.
func (s State) ConnectedCount() int { return s.connectedCount() }

func (s State) readyCount() int {
	n := 0
	for _, p := range s.Players {
		if p.Ready && p.Status != StatusDisconnected {
			n++
		}
	}
	return n
}

// ActivePlayerID is empty when no turn is running.
func (s State) ActivePlayerID() string {
	if s.Turn == nil {
		return ""
	}
	return s.Turn.ActivePlayerID
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
