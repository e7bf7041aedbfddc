package engine

import (
	"strings"
	"time"
)

func (s *State) join(cmd Command, now time.Time) ([]Event, error) {
	if cmd.PlayerID == "" {
		return nil, ErrUnknownPlayer
	}
	status := cmd.Status
	if status == "" {
		status = StatusConnected
	}

	// A known id is a reconnection, never a new seat.
	if p := s.player(cmd.PlayerID); p != nil {
		if name := strings.TrimSpace(cmd.Name); name != "" {
			p.Name = name
		}
		events := []Event{{Type: EvtPlayerRejoined, PlayerID: p.ID}}
		events = append(events, s.changeStatus(p, status, now)...)
		return events, nil
	}

	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return nil, ErrBadName
	}
	switch s.Phase {
	case PhaseWaiting:
	case PhaseFinished:
		return nil, ErrGameFinished
	default:
		return nil, ErrGameAlreadyStarted
	}
	if s.Rules.MaxPlayers > 0 && len(s.Players) >= s.Rules.MaxPlayers {
		return nil, ErrRoomFull
	}

	seat := 0
	for _, p := range s.Players {
		if p.Seat >= seat {
			seat = p.Seat + 1
		}
	}
	p := Player{
		ID:       cmd.PlayerID,
		Name:     name,
		Status:   status,
		Seat:     seat,
		JoinedAt: now,
	}
	if status == StatusDisconnected {
		p.DisconnectedAt = now
	}
	s.Players = append(s.Players, p)

	events := []Event{{Type: EvtPlayerJoined, PlayerID: p.ID}}
	if s.HostID == "" {
		s.HostID = p.ID
		events = append(events, Event{Type: EvtHostChanged, PlayerID: p.ID})
	}
	return events, nil
}

func (s *State) leave(cmd Command, now time.Time) ([]Event, error) {
	if s.player(cmd.PlayerID) == nil {
		return nil, ErrUnknownPlayer
	}
	events := []Event{{Type: EvtPlayerLeft, PlayerID: cmd.PlayerID}}
	return append(events, s.removePlayer(cmd.PlayerID, now)...), nil
}

// removePlayer drops a seat and repairs everything that referenced it.
func (s *State) removePlayer(id string, now time.Time) []Event {
	idx := -1
	for i := range s.Players {
		if s.Players[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	s.Players = append(s.Players[:idx], s.Players[idx+1:]...)

	if len(s.Players) == 0 {
		s.Phase = PhaseClosed
		s.Turn = nil
		return []Event{{Type: EvtRoomClosed}}
	}

	var events []Event
	if s.HostID == id {
		s.HostID = s.Players[0].ID
		events = append(events, Event{Type: EvtHostChanged, PlayerID: s.HostID})
	}

	if s.Phase == PhaseStarting {
		return append(events, s.cancelStart()...)
	}
	if s.Phase != PhaseStarted || s.Turn == nil {
		return events
	}
	if s.Rules.MinPlayers > 0 && len(s.Players) < s.Rules.MinPlayers {
		return append(events, s.finish(now)...)
	}

	t := s.Turn
	if t.ActivePlayerID == id {
		if t.Phase != TurnResolved {
			events = append(events, s.forfeit(now)...)
		}
		return append(events, s.advance(now)...)
	}
	switch t.Phase {
	case TurnVoting:
		events = append(events, s.maybeResolve(now)...)
	case TurnResolved:
		events = append(events, s.maybeAdvanceOnAcks(now)...)
	}
	return events
}

func (s *State) setReady(cmd Command) ([]Event, error) {
	p := s.player(cmd.PlayerID)
	if p == nil {
		return nil, ErrUnknownPlayer
	}
	if s.Phase != PhaseWaiting {
		return nil, ErrWrongPhase
	}
	p.Ready = cmd.Ready
	return []Event{{Type: EvtReadyChanged, PlayerID: p.ID}}, nil
}

func (s *State) setStatus(cmd Command, now time.Time) ([]Event, error) {
	p := s.player(cmd.PlayerID)
	if p == nil {
		return nil, ErrUnknownPlayer
	}
	switch cmd.Status {
	case StatusConnected, StatusDisconnected, StatusAway:
	default:
		return nil, ErrUnsupportedCommand
	}
	return s.changeStatus(p, cmd.Status, now), nil
}

func (s *State) changeStatus(p *Player, status Status, now time.Time) []Event {
	if p.Status == status {
		return nil
	}
	was := p.Status
	id := p.ID
	p.Status = status
	events := []Event{{Type: EvtStatusChanged, PlayerID: id}}

	if status == StatusDisconnected {
		p.DisconnectedAt = now
		events = append(events, s.cancelStart()...)
		if s.Phase == PhaseStarted && s.Turn != nil {
			switch s.Turn.Phase {
			case TurnVoting:
				events = append(events, s.maybeResolve(now)...)
			case TurnResolved:
				events = append(events, s.maybeAdvanceOnAcks(now)...)
			}
		}
		return events
	}

	p.DisconnectedAt = time.Time{}
	if was == StatusDisconnected {
		events = append(events, s.resume(now)...)
	}
	return events
}

func (s *State) startGame(cmd Command, env Env) ([]Event, error) {
	if s.player(cmd.PlayerID) == nil {
		return nil, ErrUnknownPlayer
	}
	if cmd.PlayerID != s.HostID {
		return nil, ErrNotHost
	}
	if s.Phase != PhaseWaiting {
		return nil, ErrWrongPhase
	}
	if s.readyCount() < s.minPlayers() {
		return nil, ErrNotEnoughPlayers
	}

	if s.Rules.RandomSeats && env.Shuffle != nil {
		env.Shuffle(len(s.Players), func(i, j int) {
			s.Players[i], s.Players[j] = s.Players[j], s.Players[i]
		})
	}
	for i := range s.Players {
		s.Players[i].Seat = i
	}

	if s.Rules.StartCountdown > 0 {
		s.Phase = PhaseStarting
		s.StartsAt = env.Now.Add(s.Rules.StartCountdown)
		return []Event{{Type: EvtGameStarting}}, nil
	}
	return s.begin(env.Now), nil
}

// cancelStart returns a counting-down room to waiting once too few ready
// players remain to start it.
func (s *State) cancelStart() []Event {
	if s.Phase != PhaseStarting || s.readyCount() >= s.minPlayers() {
		return nil
	}
	s.Phase = PhaseWaiting
	s.StartsAt = time.Time{}
	return []Event{{Type: EvtStartCancelled}}
}

// begin hands the room to the turn engine; the first seat plays first.
func (s *State) begin(now time.Time) []Event {
	s.Phase = PhaseStarted
	s.StartsAt = time.Time{}
	s.Round = 1
	events := []Event{{Type: EvtGameStarted}}

	first := s.Players[0]
	for _, p := range s.Players {
		if p.Status != StatusDisconnected {
			first = p
			break
		}
	}
	return append(events, s.startTurn(first, now)...)
}

func (s *State) closeRoom(cmd Command) ([]Event, error) {
	if s.player(cmd.PlayerID) == nil {
		return nil, ErrUnknownPlayer
	}
	if cmd.PlayerID != s.HostID {
		return nil, ErrNotHost
	}
	s.Phase = PhaseClosed
	s.Turn = nil
	return []Event{{Type: EvtRoomClosed, PlayerID: cmd.PlayerID}}, nil
}
