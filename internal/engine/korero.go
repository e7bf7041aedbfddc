package engine

import (
	"slices"
	"time"
)

// RewardPolicy scores an approved sentence. Longer sentences and faster
// submissions score higher.
type RewardPolicy struct {
	BasePoints    int
	PointsPerCard int
	SpeedBonus    int
}

func DefaultReward() RewardPolicy {
	return RewardPolicy{BasePoints: 10, PointsPerCard: 5, SpeedBonus: 10}
}

// Award is zero for an empty sentence. elapsed is measured from the start of
// playing to submission; limit is the turn duration.
func (r RewardPolicy) Award(cards int, elapsed, limit time.Duration) int {
	if cards <= 0 {
		return 0
	}
	points := r.BasePoints + r.PointsPerCard*cards
	if limit > 0 && elapsed < limit {
		if elapsed < 0 {
			elapsed = 0
		}
		points += int(int64(r.SpeedBonus) * int64(limit-elapsed) / int64(limit))
	}
	return points
}

// Tally is the public view of a vote in progress.
type Tally struct {
	Approve  int
	Reject   int
	Pending  int
	Eligible int
}

func (t *Turn) hasVoted(id string) bool {
	return slices.ContainsFunc(t.Votes, func(v Vote) bool { return v.PlayerID == id })
}

// Tally counts cast votes and the eligible voters still connected.
func (s State) Tally() Tally {
	var out Tally
	t := s.Turn
	if t == nil {
		return out
	}
	for _, v := range t.Votes {
		if v.Approve {
			out.Approve++
		} else {
			out.Reject++
		}
	}
	for _, id := range t.Eligible {
		p := s.player(id)
		if p == nil || p.Status == StatusDisconnected {
			continue
		}
		out.Eligible++
		if !t.hasVoted(id) {
			out.Pending++
		}
	}
	return out
}

// Resolve applies the approval rule: a strict majority of cast votes
// approves, ties reject, abstainers are not counted.
func Resolve(votes []Vote) bool {
	approve, reject := 0, 0
	for _, v := range votes {
		if v.Approve {
			approve++
		} else {
			reject++
		}
	}
	return approve > reject
}

func (s *State) submitTurn(cmd Command, now time.Time) ([]Event, error) {
	t, err := s.requireActive(cmd, TurnPlaying)
	if err != nil {
		return nil, err
	}
	if !t.Sentence.Complete() {
		return nil, ErrSentenceIncomplete
	}
	t.Translation = cmd.Translation
	t.Spoken = true
	t.SubmittedAt = now
	events := []Event{{Type: EvtTurnSubmitted, PlayerID: cmd.PlayerID, TurnNumber: t.Number}}
	return append(events, s.openVoting(now)...), nil
}

// openVoting fixes the electorate: every other seated player.
func (s *State) openVoting(now time.Time) []Event {
	t := s.Turn
	t.Phase = TurnVoting
	t.Deadline = deadline(now, s.Rules.VoteDuration)
	t.Votes = nil
	t.Eligible = t.Eligible[:0]
	for _, p := range s.Players {
		if p.ID != t.ActivePlayerID {
			t.Eligible = append(t.Eligible, p.ID)
		}
	}
	return s.maybeResolve(now)
}

func (s *State) vote(cmd Command, now time.Time) ([]Event, error) {
	p := s.player(cmd.PlayerID)
	if p == nil {
		return nil, ErrUnknownPlayer
	}
	if s.Phase != PhaseStarted || s.Turn == nil {
		return nil, ErrWrongPhase
	}
	t := s.Turn
	if cmd.TurnNumber != 0 && cmd.TurnNumber != t.Number {
		return nil, ErrStaleTurn
	}
	if t.Phase != TurnVoting || t.Held {
		return nil, ErrWrongPhase
	}
	if cmd.PlayerID == t.ActivePlayerID || !slices.Contains(t.Eligible, cmd.PlayerID) {
		return nil, ErrNotEligible
	}
	if t.hasVoted(cmd.PlayerID) {
		return nil, ErrAlreadyVoted
	}

	t.Votes = append(t.Votes, Vote{
		PlayerID:  cmd.PlayerID,
		Approve:   cmd.Approve,
		Rationale: cmd.Rationale,
		CastAt:    now,
	})
	events := []Event{{Type: EvtVoteCast, PlayerID: cmd.PlayerID, TurnNumber: t.Number}}
	return append(events, s.maybeResolve(now)...), nil
}

// maybeResolve closes the vote early once every connected eligible voter has
// voted. With nobody connected to vote it waits for the deadline.
func (s *State) maybeResolve(now time.Time) []Event {
	t := s.Turn
	if t == nil || t.Phase != TurnVoting || t.Held {
		return nil
	}
	tally := s.Tally()
	if tally.Eligible == 0 || tally.Pending > 0 {
		return nil
	}
	return s.resolve(now)
}

func (s *State) resolve(now time.Time) []Event {
	t := s.Turn
	approved := Resolve(t.Votes)
	t.Award = 0
	t.Outcome = OutcomeRejected
	if approved {
		t.Outcome = OutcomeApproved
		elapsed := t.SubmittedAt.Sub(t.PlayingSince)
		t.Award = s.Rules.Reward.Award(t.Sentence.Filled(), elapsed, s.Rules.TurnDuration)
		if p := s.player(t.ActivePlayerID); p != nil {
			p.Score += t.Award
		}
	}
	t.Phase = TurnResolved
	t.Acks = nil
	t.Deadline = s.phaseDeadline(TurnResolved, now)
	return []Event{{
		Type:       EvtTurnResolved,
		PlayerID:   t.ActivePlayerID,
		TurnNumber: t.Number,
		Approved:   approved,
		Award:      t.Award,
	}}
}

func (s *State) confirmTurnEnd(cmd Command, now time.Time) ([]Event, error) {
	if s.player(cmd.PlayerID) == nil {
		return nil, ErrUnknownPlayer
	}
	if s.Phase != PhaseStarted || s.Turn == nil || s.Turn.Phase != TurnResolved {
		return nil, ErrWrongPhase
	}
	t := s.Turn
	if slices.Contains(t.Acks, cmd.PlayerID) {
		return nil, nil
	}
	t.Acks = append(t.Acks, cmd.PlayerID)
	events := []Event{{Type: EvtTurnAcked, PlayerID: cmd.PlayerID, TurnNumber: t.Number}}
	return append(events, s.maybeAdvanceOnAcks(now)...), nil
}

// maybeAdvanceOnAcks moves on early once every connected player has seen
// the result; otherwise ResolveGrace does it.
func (s *State) maybeAdvanceOnAcks(now time.Time) []Event {
	t := s.Turn
	if t == nil || t.Phase != TurnResolved {
		return nil
	}
	for _, p := range s.Players {
		if p.Status != StatusDisconnected && !slices.Contains(t.Acks, p.ID) {
			return nil
		}
	}
	return s.advance(now)
}
