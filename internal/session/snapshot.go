package session

import (
	"slices"
	"time"

	"github.com/kaputi/kaputi-backend/internal/engine"
	"github.com/kaputi/kaputi-backend/internal/leaderboard"
	"github.com/kaputi/kaputi-backend/pkg/types"
)

// BuildSnapshot renders st for the wire. Players are listed in seat order.
func BuildSnapshot(st engine.State, version int, now time.Time) types.RoomSnapshot {
	snap := types.RoomSnapshot{
		Code:    st.Code,
		Version: version,
		Phase:   string(st.Phase),
		HostID:  st.HostID,
		Round:   st.Round,
		Rounds:  st.Rules.Rounds,
		Players: make([]types.PlayerView, 0, len(st.Players)),
		Server:  now,
	}

	players := slices.Clone(st.Players)
	slices.SortStableFunc(players, func(a, b engine.Player) int { return a.Seat - b.Seat })
	for _, p := range players {
		snap.Players = append(snap.Players, types.PlayerView{
			ID:     p.ID,
			Name:   p.Name,
			Seat:   p.Seat,
			Status: string(p.Status),
			Ready:  p.Ready,
			Score:  p.Score,
			Host:   p.ID == st.HostID,
		})
	}

	if st.Turn != nil {
		snap.Turn = turnView(st, now)
	}

	if st.Phase == engine.PhaseFinished {
		slices.SortStableFunc(players, func(a, b engine.Player) int { return b.Score - a.Score })
		for _, p := range players {
			snap.Results = append(snap.Results, types.PlayerResult{
				PlayerID: p.ID,
				Name:     p.Name,
				Initials: leaderboard.Initials(p.Name),
				Score:    p.Score,
			})
		}
	}
	return snap
}

func turnView(st engine.State, now time.Time) *types.TurnView {
	t := st.Turn
	tally := st.Tally()
	v := &types.TurnView{
		Number:         t.Number,
		ActivePlayerID: t.ActivePlayerID,
		Phase:          string(t.Phase),
		RemainingMs:    st.TimeRemaining(now).Milliseconds(),
		Held:           t.Held,
		Topic:          t.Topic,
		Slots:          make([]types.SlotView, 0, t.Sentence.Len()),
		Translation:    t.Translation,
		Spoken:         t.Spoken,
		Tally: types.VoteTally{
			Approve:  tally.Approve,
			Reject:   tally.Reject,
			Pending:  tally.Pending,
			Eligible: tally.Eligible,
		},
		Outcome: string(t.Outcome),
		Award:   t.Award,
	}
	if !t.Deadline.IsZero() && !t.Held {
		d := t.Deadline
		v.Deadline = &d
	}
	for _, vote := range t.Votes {
		v.Tally.Voted = append(v.Tally.Voted, vote.PlayerID)
	}
	for _, slot := range t.Sentence.Slots {
		sv := types.SlotView{Role: slot.Role}
		if slot.Filled() {
			c := slot.Card
			sv.Card = &types.CardView{
				ID:           c.ID,
				Text:         c.Text,
				Romanization: c.Romanization,
				AudioID:      c.AudioID,
				Tags:         slices.Clone(c.Tags),
			}
		}
		v.Slots = append(v.Slots, sv)
	}
	return v
}
