package engine

import "time"

func (s *State) minPlayers() int {
	return max(s.Rules.MinPlayers, 1)
}

func (s *State) startTurn(p Player, now time.Time) []Event {
	number := 1
	if s.Turn != nil {
		number = s.Turn.Number + 1
	}
	s.Turn = &Turn{
		Number:         number,
		ActivePlayerID: p.ID,
		ActiveSeat:     p.Seat,
		Phase:          TurnSelectingTopic,
		StartedAt:      now,
	}
	events := []Event{{Type: EvtTurnStarted, PlayerID: p.ID, TurnNumber: number}}
	if s.Rules.TopicDuration <= 0 {
		s.beginPlaying(now)
		return events
	}
	s.Turn.Deadline = now.Add(s.Rules.TopicDuration)
	return events
}

func (s *State) beginPlaying(now time.Time) {
	t := s.Turn
	t.Phase = TurnPlaying
	t.PlayingSince = now
	t.Deadline = deadline(now, s.Rules.TurnDuration)
}

func deadline(now time.Time, d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return now.Add(d)
}

// phaseDeadline is when phase p times out if entered at now. A resolved turn
// always gets one so the room moves on without every confirmation.
func (s *State) phaseDeadline(p TurnPhase, now time.Time) time.Time {
	if p == TurnResolved {
		return now.Add(max(s.Rules.ResolveGrace, 0))
	}
	return deadline(now, s.phaseDuration(p))
}

func (s *State) phaseDuration(p TurnPhase) time.Duration {
	switch p {
	case TurnSelectingTopic:
		return s.Rules.TopicDuration
	case TurnPlaying:
		return s.Rules.TurnDuration
	case TurnVoting:
		return s.Rules.VoteDuration
	default:
		return s.Rules.ResolveGrace
	}
}

// requireActive guards every command only the active player may issue.
func (s *State) requireActive(cmd Command, phase TurnPhase) (*Turn, error) {
	if s.player(cmd.PlayerID) == nil {
		return nil, ErrUnknownPlayer
	}
	if s.Phase != PhaseStarted || s.Turn == nil {
		return nil, ErrWrongPhase
	}
	if s.Turn.ActivePlayerID != cmd.PlayerID {
		return nil, ErrNotYourTurn
	}
	if s.Turn.Phase != phase || s.Turn.Held {
		return nil, ErrWrongPhase
	}
	return s.Turn, nil
}

func (s *State) selectTopic(cmd Command, now time.Time) ([]Event, error) {
	t, err := s.requireActive(cmd, TurnSelectingTopic)
	if err != nil {
		return nil, err
	}
	t.Topic = cmd.Topic
	s.beginPlaying(now)
	return []Event{{Type: EvtTopicSelected, PlayerID: cmd.PlayerID, TurnNumber: t.Number}}, nil
}

func (s *State) passTurn(cmd Command, now time.Time) ([]Event, error) {
	t, err := s.requireActive(cmd, TurnPlaying)
	if err != nil {
		return nil, err
	}
	if t.Sentence.Len() > 0 && t.Sentence.Complete() {
		return nil, ErrSentenceComplete
	}
	t.Sentence = Sentence{}
	t.Outcome = OutcomePassed
	t.Award = 0
	events := []Event{{Type: EvtTurnPassed, PlayerID: cmd.PlayerID, TurnNumber: t.Number}}
	return append(events, s.advance(now)...), nil
}

// advance ends the current turn and starts the next seat's, finishing the
// game once the configured number of rotations is complete.
func (s *State) advance(now time.Time) []Event {
	t := s.Turn
	if p := s.player(t.ActivePlayerID); p != nil {
		p.TurnsTaken++
	}
	events := []Event{{Type: EvtTurnAdvanced, PlayerID: t.ActivePlayerID, TurnNumber: t.Number}}

	next, wrapped, ok := s.nextSeat(t.ActiveSeat)
	if !ok {
		return append(events, s.finish(now)...)
	}
	if wrapped {
		s.Round++
		if s.Rules.Rounds > 0 && s.Round > s.Rules.Rounds {
			s.Round = s.Rules.Rounds
			return append(events, s.finish(now)...)
		}
	}
	return append(events, s.startTurn(next, now)...)
}

func (s *State) finish(now time.Time) []Event {
	s.Phase = PhaseFinished
	s.Turn = nil
	return []Event{{Type: EvtGameFinished}}
}

// forfeit resolves the active turn as empty without a vote.
func (s *State) forfeit(now time.Time) []Event {
	t := s.Turn
	t.Sentence = Sentence{}
	t.Outcome = OutcomeForfeited
	t.Award = 0
	t.Held = false
	t.HoldDeadline = time.Time{}
	return []Event{{Type: EvtTurnForfeited, PlayerID: t.ActivePlayerID, TurnNumber: t.Number}}
}

func (s *State) hold(now time.Time) []Event {
	t := s.Turn
	t.Held = true
	t.HoldDeadline = deadline(now, s.Rules.HoldTimeout)
	return []Event{{Type: EvtTurnHeld, PlayerID: t.ActivePlayerID, TurnNumber: t.Number}}
}

// resume restarts a held turn's current phase once enough players are back.
func (s *State) resume(now time.Time) []Event {
	if s.Phase != PhaseStarted || s.Turn == nil || !s.Turn.Held {
		return nil
	}
	if s.connectedCount() < s.minPlayers() {
		return nil
	}
	t := s.Turn
	t.Held = false
	t.HoldDeadline = time.Time{}
	t.Deadline = s.phaseDeadline(t.Phase, now)
	return []Event{{Type: EvtTurnResumed, PlayerID: t.ActivePlayerID, TurnNumber: t.Number}}
}

func (s *State) tick(now time.Time) []Event {
	var events []Event
	// Each step settles at most one deadline; a handful covers any cascade.
	for i := 0; i < 16; i++ {
		ev := s.step(now)
		if len(ev) == 0 {
			break
		}
		events = append(events, ev...)
	}
	return events
}

func (s *State) step(now time.Time) []Event {
	if s.Phase == PhaseClosed || s.Phase == PhaseFinished {
		return nil
	}

	if r := s.Rules.DisconnectRemoval; r > 0 {
		for _, p := range s.Players {
			if p.Status == StatusDisconnected && !now.Before(p.DisconnectedAt.Add(r)) {
				events := []Event{{Type: EvtPlayerRemoved, PlayerID: p.ID}}
				return append(events, s.removePlayer(p.ID, now)...)
			}
		}
	}

	switch s.Phase {
	case PhaseStarting:
		if events := s.cancelStart(); events != nil {
			return events
		}
		if !now.Before(s.StartsAt) {
			return s.begin(now)
		}
		return nil
	case PhaseStarted:
	default:
		return nil
	}

	t := s.Turn
	if t == nil {
		return nil
	}
	if t.Held {
		if !t.HoldDeadline.IsZero() && !now.Before(t.HoldDeadline) {
			events := s.forfeit(now)
			return append(events, s.advance(now)...)
		}
		return s.resume(now)
	}
	if t.Deadline.IsZero() || now.Before(t.Deadline) {
		return nil
	}
	if t.Phase != TurnResolved && s.connectedCount() < s.minPlayers() {
		return s.hold(now)
	}

	switch t.Phase {
	case TurnSelectingTopic:
		s.beginPlaying(now)
		return []Event{{Type: EvtTimerExpired, PlayerID: t.ActivePlayerID, TurnNumber: t.Number}}
	case TurnPlaying:
		events := []Event{{Type: EvtTimerExpired, PlayerID: t.ActivePlayerID, TurnNumber: t.Number}}
		return append(events, s.expirePlaying(now)...)
	case TurnVoting:
		return s.resolve(now)
	default:
		return s.advance(now)
	}
}

// expirePlaying submits whatever was built when the turn clock runs out.
func (s *State) expirePlaying(now time.Time) []Event {
	t := s.Turn
	t.Sentence.Trim()
	if t.Sentence.Len() == 0 && s.Rules.SkipEmptyOnTimeout {
		t.Outcome = OutcomeSkipped
		events := []Event{{Type: EvtTurnSkipped, PlayerID: t.ActivePlayerID, TurnNumber: t.Number}}
		return append(events, s.advance(now)...)
	}
	t.SubmittedAt = now
	return s.openVoting(now)
}
