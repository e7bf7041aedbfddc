package engine

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type stubCards map[string]Card

func (c stubCards) Card(id string) (Card, bool) {
	card, ok := c[id]
	return card, ok
}

func (c stubCards) CanPlace(card Card, role string) bool {
	return role == "" || slices.Contains(card.Tags, role)
}

var deck = stubCards{
	"te":     {ID: "te", Text: "te", Tags: []string{"determiner"}},
	"ngeru":  {ID: "ngeru", Text: "ngeru", Tags: []string{"noun"}},
	"moe":    {ID: "moe", Text: "moe", Tags: []string{"verb"}},
	"kei te": {ID: "kei te", Text: "kei te", Tags: []string{"particle"}},
}

func env(at time.Time) Env { return Env{Now: at, Cards: deck} }

// game is a small driver that applies commands and fails the test on error.
type game struct {
	t  *testing.T
	s  State
	at time.Time
}

func newGame(t *testing.T, rules Rules, players ...string) *game {
	t.Helper()
	g := &game{t: t, s: NewState("ROOM42", rules, t0), at: t0}
	for _, id := range players {
		g.must(Command{Type: CmdJoin, PlayerID: id, Name: id})
	}
	return g
}

func (g *game) apply(cmd Command) ([]Event, error) {
	events, next, err := Apply(g.s, cmd, env(g.at))
	g.s = next
	return events, err
}

func (g *game) must(cmd Command) []Event {
	g.t.Helper()
	events, err := g.apply(cmd)
	require.NoError(g.t, err, "command %s", cmd.Type)
	return events
}

func (g *game) after(d time.Duration) []Event {
	g.at = g.at.Add(d)
	return g.must(Command{Type: CmdTick})
}

func (g *game) start() {
	g.t.Helper()
	for _, p := range g.s.Players {
		g.must(Command{Type: CmdSetReady, PlayerID: p.ID, Ready: true})
	}
	g.must(Command{Type: CmdStartGame, PlayerID: g.s.HostID})
}

// playing skips topic selection for the active player.
func (g *game) playing() {
	g.t.Helper()
	g.must(Command{Type: CmdSelectTopic, PlayerID: g.s.ActivePlayerID(), Topic: "animals"})
}

func (g *game) build(cards ...string) {
	g.t.Helper()
	active := g.s.ActivePlayerID()
	for range cards {
		g.must(Command{Type: CmdCreateSlot, PlayerID: active})
	}
	for i, id := range cards {
		g.must(Command{Type: CmdPlayCard, PlayerID: active, Slot: i, CardID: id})
	}
}

func testRules() Rules {
	r := DefaultRules()
	r.Rounds = 0
	return r
}

func TestApply_RejectedCommandLeavesStateUntouched(t *testing.T) {
	g := newGame(t, testRules(), "H", "P")
	g.start()
	g.playing()
	before := g.s.Clone()

	_, err := g.apply(Command{Type: CmdCreateSlot, PlayerID: "P"})
	require.ErrorIs(t, err, ErrNotYourTurn)
	assert.Equal(t, before, g.s)
}

func TestEndToEnd_ApprovedSentenceScoresAndAdvances(t *testing.T) {
	g := newGame(t, testRules(), "H", "P")
	g.start()

	require.Equal(t, PhaseStarted, g.s.Phase)
	require.Equal(t, "H", g.s.ActivePlayerID())
	require.Equal(t, 1, g.s.Turn.Number)

	g.playing()
	g.at = g.at.Add(10 * time.Second)
	g.build("te", "ngeru", "moe")
	events := g.must(Command{Type: CmdSubmitTurn, PlayerID: "H", Translation: "the cat sleeps"})
	require.True(t, ContainsEvent(events, EvtTurnSubmitted))
	require.Equal(t, TurnVoting, g.s.Turn.Phase)
	assert.Equal(t, "the cat sleeps", g.s.Turn.Translation)
	assert.True(t, g.s.Turn.Spoken)

	events = g.must(Command{Type: CmdVote, PlayerID: "P", TurnNumber: 1, Approve: true})
	require.True(t, ContainsEvent(events, EvtTurnResolved))
	require.Equal(t, OutcomeApproved, g.s.Turn.Outcome)

	h, _ := g.s.Player("H")
	assert.Greater(t, h.Score, 0)
	assert.Equal(t, g.s.Turn.Award, h.Score)

	g.must(Command{Type: CmdConfirmTurnEnd, PlayerID: "H"})
	events = g.must(Command{Type: CmdConfirmTurnEnd, PlayerID: "P"})
	require.True(t, ContainsEvent(events, EvtTurnAdvanced))
	assert.Equal(t, "P", g.s.ActivePlayerID())
	assert.Equal(t, 2, g.s.Turn.Number)
	assert.Equal(t, TurnSelectingTopic, g.s.Turn.Phase)
}

func TestUndo_IsStrictSuffixPop(t *testing.T) {
	g := newGame(t, testRules(), "H", "P")
	g.start()
	g.playing()
	g.build("te", "ngeru", "moe")

	undo := Command{Type: CmdUndoLastCard, PlayerID: "H"}
	events := g.must(undo)
	require.Equal(t, EvtCardRemoved, events[0].Type)
	assert.Equal(t, 2, events[0].Slot)
	slots := g.s.Turn.Sentence.Slots
	require.Len(t, slots, 3)
	assert.NotNil(t, slots[1].Card, "index 1 must survive until index 2 is gone")
	assert.Nil(t, slots[2].Card)

	// Slot 1 cannot be touched while slot 2 still exists.
	_, err := g.apply(Command{Type: CmdPlayCard, PlayerID: "H", Slot: 1, CardID: "moe"})
	require.ErrorIs(t, err, ErrSlotFilled)

	events = g.must(undo)
	assert.Equal(t, EvtSlotRemoved, events[0].Type)
	require.Len(t, g.s.Turn.Sentence.Slots, 2)

	events = g.must(undo)
	assert.Equal(t, EvtCardRemoved, events[0].Type)
	assert.Equal(t, 1, events[0].Slot)
	assert.NotNil(t, g.s.Turn.Sentence.Slots[0].Card)
}

func TestPlayCard_Validation(t *testing.T) {
	cases := []struct {
		name    string
		slots   []string
		filled  []string
		player  string
		slot    int
		card    string
		wantErr error
	}{
		{name: "fills first empty slot", slots: []string{"", ""}, player: "H", slot: 0, card: "te"},
		{name: "out of order fill", slots: []string{"", ""}, player: "H", slot: 1, card: "te", wantErr: ErrInvalidSlotOrder},
		{name: "nonexistent slot", slots: []string{""}, player: "H", slot: 3, card: "te", wantErr: ErrInvalidSlot},
		{name: "negative slot", slots: []string{""}, player: "H", slot: -1, card: "te", wantErr: ErrInvalidSlot},
		{name: "filled slot", slots: []string{"", ""}, filled: []string{"te"}, player: "H", slot: 0, card: "moe", wantErr: ErrSlotFilled},
		{name: "role mismatch", slots: []string{"verb"}, player: "H", slot: 0, card: "ngeru", wantErr: ErrIllegalCard},
		{name: "role match", slots: []string{"noun"}, player: "H", slot: 0, card: "ngeru"},
		{name: "unknown card", slots: []string{""}, player: "H", slot: 0, card: "kuri", wantErr: ErrUnknownCard},
		{name: "not your turn", slots: []string{""}, player: "P", slot: 0, card: "te", wantErr: ErrNotYourTurn},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := newGame(t, testRules(), "H", "P")
			g.start()
			g.playing()
			for _, role := range tc.slots {
				g.must(Command{Type: CmdCreateSlot, PlayerID: "H", Role: role})
			}
			for i, id := range tc.filled {
				g.must(Command{Type: CmdPlayCard, PlayerID: "H", Slot: i, CardID: id})
			}

			_, err := g.apply(Command{Type: CmdPlayCard, PlayerID: tc.player, Slot: tc.slot, CardID: tc.card})
			if tc.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestSentenceCommands_WrongPhase(t *testing.T) {
	g := newGame(t, testRules(), "H", "P")
	g.start() // still selecting a topic

	for _, cmd := range []Command{
		{Type: CmdCreateSlot, PlayerID: "H"},
		{Type: CmdPlayCard, PlayerID: "H", CardID: "te"},
		{Type: CmdUndoLastCard, PlayerID: "H"},
		{Type: CmdSubmitTurn, PlayerID: "H"},
		{Type: CmdPassTurn, PlayerID: "H"},
	} {
		_, err := g.apply(cmd)
		assert.ErrorIs(t, err, ErrWrongPhase, string(cmd.Type))
	}
}

func TestCreateSlot_RespectsMaxSlots(t *testing.T) {
	rules := testRules()
	rules.MaxSlots = 2
	g := newGame(t, rules, "H", "P")
	g.start()
	g.playing()
	g.must(Command{Type: CmdCreateSlot, PlayerID: "H"})
	g.must(Command{Type: CmdCreateSlot, PlayerID: "H"})

	_, err := g.apply(Command{Type: CmdCreateSlot, PlayerID: "H"})
	require.ErrorIs(t, err, ErrSentenceTooLong)
	assert.Equal(t, KindCapacity, KindOf(err))
}

func TestSubmitTurn_RequiresFilledSlots(t *testing.T) {
	g := newGame(t, testRules(), "H", "P")
	g.start()
	g.playing()
	g.build("te")
	g.must(Command{Type: CmdCreateSlot, PlayerID: "H"})

	_, err := g.apply(Command{Type: CmdSubmitTurn, PlayerID: "H"})
	require.ErrorIs(t, err, ErrWrongPhase)
	assert.Equal(t, "WrongPhase", CodeOf(err))
	assert.Equal(t, TurnPlaying, g.s.Turn.Phase)
}

func TestSubmitTurn_EmptySentenceIsLegal(t *testing.T) {
	g := newGame(t, testRules(), "H", "P")
	g.start()
	g.playing()

	g.must(Command{Type: CmdSubmitTurn, PlayerID: "H", Translation: ""})
	require.Equal(t, TurnVoting, g.s.Turn.Phase)

	g.must(Command{Type: CmdVote, PlayerID: "P", Approve: true})
	assert.Equal(t, OutcomeApproved, g.s.Turn.Outcome)
	assert.Zero(t, g.s.Turn.Award, "empty sentence scores zero")
}

func TestResolve_Deterministic(t *testing.T) {
	cases := []struct {
		name  string
		votes []bool
		want  bool
	}{
		{name: "2 approve 1 reject", votes: []bool{true, true, false}, want: true},
		{name: "1 approve 1 reject tie", votes: []bool{true, false}, want: false},
		{name: "all abstain", votes: nil, want: false},
		{name: "single reject", votes: []bool{false}, want: false},
		{name: "single approve", votes: []bool{true}, want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var votes []Vote
			for i, v := range tc.votes {
				votes = append(votes, Vote{PlayerID: string(rune('a' + i)), Approve: v})
			}
			assert.Equal(t, tc.want, Resolve(votes))
		})
	}
}

func TestVote_Rules(t *testing.T) {
	g := newGame(t, testRules(), "H", "P", "Q", "R")
	g.start()
	g.playing()
	g.build("ngeru")
	g.must(Command{Type: CmdSubmitTurn, PlayerID: "H", Translation: "cat"})

	_, err := g.apply(Command{Type: CmdVote, PlayerID: "H", Approve: true})
	assert.ErrorIs(t, err, ErrNotEligible)

	_, err = g.apply(Command{Type: CmdVote, PlayerID: "P", TurnNumber: 7, Approve: true})
	assert.ErrorIs(t, err, ErrStaleTurn)

	g.must(Command{Type: CmdVote, PlayerID: "P", TurnNumber: 1, Approve: true})
	_, err = g.apply(Command{Type: CmdVote, PlayerID: "P", TurnNumber: 1, Approve: false})
	assert.ErrorIs(t, err, ErrAlreadyVoted)
	assert.Len(t, g.s.Turn.Votes, 1)

	tally := g.s.Tally()
	assert.Equal(t, Tally{Approve: 1, Pending: 2, Eligible: 3}, tally)

	g.must(Command{Type: CmdVote, PlayerID: "Q", Approve: true})
	events := g.must(Command{Type: CmdVote, PlayerID: "R", Approve: false})
	require.True(t, ContainsEvent(events, EvtTurnResolved))
	assert.Equal(t, OutcomeApproved, g.s.Turn.Outcome)
}

func TestVote_TieRejects(t *testing.T) {
	g := newGame(t, testRules(), "H", "P", "Q")
	g.start()
	g.playing()
	g.build("ngeru")
	g.must(Command{Type: CmdSubmitTurn, PlayerID: "H"})
	g.must(Command{Type: CmdVote, PlayerID: "P", Approve: true})
	g.must(Command{Type: CmdVote, PlayerID: "Q", Approve: false})

	assert.Equal(t, OutcomeRejected, g.s.Turn.Outcome)
	h, _ := g.s.Player("H")
	assert.Zero(t, h.Score)
}

func TestVoteDeadline_AbstainersExcluded(t *testing.T) {
	g := newGame(t, testRules(), "H", "P", "Q")
	g.start()
	g.playing()
	g.build("ngeru")
	g.must(Command{Type: CmdSubmitTurn, PlayerID: "H"})
	g.must(Command{Type: CmdVote, PlayerID: "P", Approve: true})
	require.Equal(t, TurnVoting, g.s.Turn.Phase)

	g.after(g.s.Rules.VoteDuration)
	assert.Equal(t, OutcomeApproved, g.s.Turn.Outcome, "Q abstained and is not counted as a reject")
}

func TestVoteDeadline_AllAbstainRejects(t *testing.T) {
	g := newGame(t, testRules(), "H", "P")
	g.start()
	g.playing()
	g.build("ngeru")
	g.must(Command{Type: CmdSubmitTurn, PlayerID: "H"})

	g.after(g.s.Rules.VoteDuration)
	assert.Equal(t, OutcomeRejected, g.s.Turn.Outcome)
}

func TestTurnDeadline_AutoVotesWithPartialSentence(t *testing.T) {
	g := newGame(t, testRules(), "H", "P")
	g.start()
	g.playing()
	g.build("te", "ngeru")
	g.must(Command{Type: CmdCreateSlot, PlayerID: "H"})

	events := g.after(g.s.Rules.TurnDuration)
	require.True(t, ContainsEvent(events, EvtTimerExpired))
	require.Equal(t, TurnVoting, g.s.Turn.Phase)
	assert.Equal(t, 2, g.s.Turn.Sentence.Len(), "trailing empty slot dropped")
}

func TestTurnDeadline_EmptySentence(t *testing.T) {
	t.Run("votes by default", func(t *testing.T) {
		g := newGame(t, testRules(), "H", "P")
		g.start()
		g.playing()
		g.after(g.s.Rules.TurnDuration)
		assert.Equal(t, TurnVoting, g.s.Turn.Phase)
	})

	t.Run("skip policy advances", func(t *testing.T) {
		rules := testRules()
		rules.SkipEmptyOnTimeout = true
		g := newGame(t, rules, "H", "P")
		g.start()
		g.playing()
		events := g.after(g.s.Rules.TurnDuration)
		require.True(t, ContainsEvent(events, EvtTurnSkipped))
		assert.Equal(t, "P", g.s.ActivePlayerID())
		assert.Equal(t, 2, g.s.Turn.Number)
	})
}

func TestTopicDeadline_StartsPlaying(t *testing.T) {
	g := newGame(t, testRules(), "H", "P")
	g.start()
	require.Equal(t, TurnSelectingTopic, g.s.Turn.Phase)

	g.after(g.s.Rules.TopicDuration)
	require.Equal(t, TurnPlaying, g.s.Turn.Phase)
	assert.Equal(t, g.at.Add(g.s.Rules.TurnDuration), g.s.Turn.Deadline)
}

func TestPassTurn_AdvancesWithZeroScore(t *testing.T) {
	g := newGame(t, testRules(), "H", "P")
	g.start()
	g.playing()
	g.build("te")
	g.must(Command{Type: CmdCreateSlot, PlayerID: "H"})

	_, err := g.apply(Command{Type: CmdPassTurn, PlayerID: "P"})
	require.ErrorIs(t, err, ErrNotYourTurn)

	events := g.must(Command{Type: CmdPassTurn, PlayerID: "H"})
	require.True(t, ContainsEvent(events, EvtTurnPassed))
	assert.Equal(t, "P", g.s.ActivePlayerID())
	assert.Zero(t, g.s.Turn.Sentence.Len())
	h, _ := g.s.Player("H")
	assert.Zero(t, h.Score)
	assert.Equal(t, 1, h.TurnsTaken)
}

func TestPassTurn_CompleteSentenceMustBeSubmitted(t *testing.T) {
	g := newGame(t, testRules(), "H", "P")
	g.start()
	g.playing()
	g.build("te", "ngeru")

	_, err := g.apply(Command{Type: CmdPassTurn, PlayerID: "H"})
	require.ErrorIs(t, err, ErrWrongPhase)
	assert.Equal(t, "WrongPhase", CodeOf(err))
	assert.Equal(t, "H", g.s.ActivePlayerID())
	assert.Equal(t, 2, g.s.Turn.Sentence.Len())
}

func TestResolvedGrace_AutoAdvances(t *testing.T) {
	g := newGame(t, testRules(), "H", "P")
	g.start()
	g.playing()
	g.must(Command{Type: CmdSubmitTurn, PlayerID: "H"})
	g.must(Command{Type: CmdVote, PlayerID: "P", Approve: false})
	g.must(Command{Type: CmdConfirmTurnEnd, PlayerID: "H"})
	require.Equal(t, TurnResolved, g.s.Turn.Phase)

	g.after(g.s.Rules.ResolveGrace)
	assert.Equal(t, "P", g.s.ActivePlayerID())
}

func TestZeroDurations_NeverStallTheRoom(t *testing.T) {
	rules := testRules()
	rules.ResolveGrace = 0
	rules.VoteDuration = 0
	g := newGame(t, rules, "H", "P", "Q")
	require.Equal(t, DefaultRules().VoteDuration, g.s.Rules.VoteDuration)
	g.start()
	g.playing()
	g.build("ngeru")
	g.must(Command{Type: CmdSubmitTurn, PlayerID: "H"})
	g.must(Command{Type: CmdVote, PlayerID: "P", Approve: true})
	g.must(Command{Type: CmdVote, PlayerID: "Q", Approve: true})
	require.Equal(t, TurnResolved, g.s.Turn.Phase)
	assert.Equal(t, g.at, g.s.NextDeadline(), "a resolved turn is always scheduled to advance")

	events := g.after(0)
	require.True(t, ContainsEvent(events, EvtTurnAdvanced))
	assert.Equal(t, "P", g.s.ActivePlayerID())

	// A silent voter cannot hold the vote open either.
	g.playing()
	g.must(Command{Type: CmdSubmitTurn, PlayerID: "P"})
	g.must(Command{Type: CmdVote, PlayerID: "H", Approve: false})
	require.Equal(t, TurnVoting, g.s.Turn.Phase)
	events = g.after(g.s.Rules.VoteDuration)
	require.True(t, ContainsEvent(events, EvtTurnResolved))
	assert.Equal(t, "Q", g.s.ActivePlayerID())
}

func TestDisconnectedPlayerSkipped_SeatAndScorePersist(t *testing.T) {
	g := newGame(t, testRules(), "H", "P", "Q")
	g.start()
	g.playing()
	g.build("ngeru")
	g.must(Command{Type: CmdSubmitTurn, PlayerID: "H"})
	g.must(Command{Type: CmdVote, PlayerID: "P", Approve: true})
	g.must(Command{Type: CmdVote, PlayerID: "Q", Approve: true})
	g.after(g.s.Rules.ResolveGrace)
	require.Equal(t, "P", g.s.ActivePlayerID())

	// P drops mid-turn: the turn continues, the next rotation skips P.
	g.playing()
	g.must(Command{Type: CmdSetStatus, PlayerID: "P", Status: StatusDisconnected})
	g.after(g.s.Rules.TurnDuration)
	require.Equal(t, TurnVoting, g.s.Turn.Phase)
	g.after(g.s.Rules.VoteDuration)
	g.after(g.s.Rules.ResolveGrace)
	require.Equal(t, "Q", g.s.ActivePlayerID())
	g.playing()
	g.must(Command{Type: CmdPassTurn, PlayerID: "Q"})
	require.Equal(t, "H", g.s.ActivePlayerID())
	g.playing()
	g.must(Command{Type: CmdPassTurn, PlayerID: "H"})
	assert.Equal(t, "Q", g.s.ActivePlayerID(), "P is skipped while disconnected")

	// Rejoining with the same id restores the seat instead of adding one.
	seatBefore, _ := g.s.Player("P")
	events := g.must(Command{Type: CmdJoin, PlayerID: "P", Name: "P"})
	require.True(t, ContainsEvent(events, EvtPlayerRejoined))
	assert.Len(t, g.s.Players, 3)
	p, _ := g.s.Player("P")
	assert.Equal(t, seatBefore.Seat, p.Seat)
	assert.Equal(t, StatusConnected, p.Status)
	assert.True(t, p.DisconnectedAt.IsZero())
}

func TestHeldTurn_ResumesOnReconnect(t *testing.T) {
	g := newGame(t, testRules(), "H", "P")
	g.start()
	g.playing()
	g.must(Command{Type: CmdPassTurn, PlayerID: "H"})
	require.Equal(t, "P", g.s.ActivePlayerID())
	g.playing()
	g.must(Command{Type: CmdCreateSlot, PlayerID: "P"})
	g.must(Command{Type: CmdCreateSlot, PlayerID: "P"})
	g.must(Command{Type: CmdCreateSlot, PlayerID: "P"})
	g.must(Command{Type: CmdPlayCard, PlayerID: "P", Slot: 0, CardID: "te"})

	g.must(Command{Type: CmdSetStatus, PlayerID: "P", Status: StatusDisconnected})
	events := g.after(g.s.Rules.TurnDuration)
	require.True(t, ContainsEvent(events, EvtTurnHeld))
	require.True(t, g.s.Turn.Held)
	assert.Equal(t, TurnPlaying, g.s.Turn.Phase, "held, not auto-resolved")
	assert.Equal(t, "P", g.s.ActivePlayerID())
	assert.Equal(t, 1, g.s.Turn.Sentence.Filled())

	g.at = g.at.Add(time.Minute)
	events = g.must(Command{Type: CmdJoin, PlayerID: "P"})
	require.True(t, ContainsEvent(events, EvtTurnResumed))
	assert.False(t, g.s.Turn.Held)
	assert.Equal(t, g.at.Add(g.s.Rules.TurnDuration), g.s.Turn.Deadline)
	g.must(Command{Type: CmdPlayCard, PlayerID: "P", Slot: 1, CardID: "ngeru"})
}

func TestHeldTurn_HardTimeoutForfeits(t *testing.T) {
	g := newGame(t, testRules(), "H", "P")
	g.start()
	g.playing()
	g.build("te")
	g.must(Command{Type: CmdSetStatus, PlayerID: "P", Status: StatusDisconnected})

	g.after(g.s.Rules.TurnDuration)
	require.True(t, g.s.Turn.Held)

	events := g.after(g.s.Rules.HoldTimeout)
	require.True(t, ContainsEvent(events, EvtTurnForfeited))
	require.True(t, ContainsEvent(events, EvtTurnAdvanced))
	assert.Equal(t, 2, g.s.Turn.Number)
	h, _ := g.s.Player("H")
	assert.Zero(t, h.Score)
}

func TestDisconnectRemoval_DropsSeatAndRepairsTurn(t *testing.T) {
	rules := testRules()
	rules.DisconnectRemoval = time.Minute
	rules.HoldTimeout = 0
	g := newGame(t, rules, "H", "P", "Q")
	g.start()
	g.playing()
	g.must(Command{Type: CmdSetStatus, PlayerID: "H", Status: StatusDisconnected})

	events := g.after(time.Minute)
	require.True(t, ContainsEvent(events, EvtPlayerRemoved))
	require.True(t, ContainsEvent(events, EvtHostChanged))
	_, ok := g.s.Player("H")
	assert.False(t, ok)
	assert.Equal(t, "P", g.s.HostID)
	assert.Equal(t, "P", g.s.ActivePlayerID(), "active seat must always be a registered player")
}

func TestLeave_BelowMinimumFinishesGame(t *testing.T) {
	g := newGame(t, testRules(), "H", "P")
	g.start()
	events := g.must(Command{Type: CmdLeave, PlayerID: "P"})
	require.True(t, ContainsEvent(events, EvtGameFinished))
	assert.Equal(t, PhaseFinished, g.s.Phase)
	assert.Nil(t, g.s.Turn)
}

func TestRounds_FinishGame(t *testing.T) {
	rules := testRules()
	rules.Rounds = 1
	g := newGame(t, rules, "H", "P")
	g.start()
	g.playing()
	g.must(Command{Type: CmdPassTurn, PlayerID: "H"})
	g.playing()
	events := g.must(Command{Type: CmdPassTurn, PlayerID: "P"})
	require.True(t, ContainsEvent(events, EvtGameFinished))
	assert.Equal(t, PhaseFinished, g.s.Phase)
	assert.Equal(t, 1, g.s.Round)
}

func TestReward_Curve(t *testing.T) {
	r := DefaultReward()
	limit := 90 * time.Second
	assert.Zero(t, r.Award(0, 0, limit))
	assert.Equal(t, 10+5*3+10, r.Award(3, 0, limit))
	assert.Equal(t, 10+5*3+5, r.Award(3, 45*time.Second, limit))
	assert.Equal(t, 10+5*3, r.Award(3, limit, limit))
	assert.Greater(t, r.Award(4, time.Minute, limit), r.Award(3, time.Minute, limit))
	assert.Greater(t, r.Award(3, time.Second, limit), r.Award(3, time.Minute, limit))
}

func TestNextDeadline(t *testing.T) {
	g := newGame(t, testRules(), "H", "P")
	assert.True(t, g.s.NextDeadline().IsZero())

	g.start()
	assert.Equal(t, t0.Add(g.s.Rules.TopicDuration), g.s.NextDeadline())

	g.at = g.at.Add(5 * time.Second)
	g.must(Command{Type: CmdSetStatus, PlayerID: "P", Status: StatusDisconnected})
	assert.Equal(t, t0.Add(g.s.Rules.TopicDuration), g.s.NextDeadline())
	assert.Equal(t, 15*time.Second, g.s.TimeRemaining(g.at))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindAuthorization, KindOf(ErrNotHost))
	assert.Equal(t, KindNotFound, KindOf(ErrRoomNotFound))
	assert.Equal(t, KindValidation, KindOf(errors.New("boom")))
	assert.Equal(t, "Internal", CodeOf(errors.New("boom")))
	assert.False(t, errors.Is(ErrNotHost, ErrWrongPhase))
}

func countdownRules() Rules {
	r := testRules()
	r.StartCountdown = 5 * time.Second
	return r
}

func TestStartCountdown_BeginsWhenItElapses(t *testing.T) {
	g := newGame(t, countdownRules(), "H", "P")
	g.start()
	require.Equal(t, PhaseStarting, g.s.Phase)
	assert.Equal(t, t0.Add(5*time.Second), g.s.NextDeadline())
	assert.Nil(t, g.s.Turn)

	_, err := g.apply(Command{Type: CmdSetReady, PlayerID: "P", Ready: false})
	require.ErrorIs(t, err, ErrWrongPhase)

	assert.Empty(t, g.after(4*time.Second))
	events := g.after(time.Second)
	require.True(t, ContainsEvent(events, EvtGameStarted))
	assert.Equal(t, PhaseStarted, g.s.Phase)
	assert.Equal(t, "H", g.s.ActivePlayerID())
	assert.True(t, g.s.StartsAt.IsZero())
}

func TestStartCountdown_CancelsBelowMinimum(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
	}{
		{"player leaves", Command{Type: CmdLeave, PlayerID: "P"}},
		{"player disconnects", Command{Type: CmdSetStatus, PlayerID: "P", Status: StatusDisconnected}},
		{"host leaves", Command{Type: CmdLeave, PlayerID: "H"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGame(t, countdownRules(), "H", "P")
			g.start()
			require.Equal(t, PhaseStarting, g.s.Phase)

			events := g.must(tt.cmd)
			require.True(t, ContainsEvent(events, EvtStartCancelled))
			assert.Equal(t, PhaseWaiting, g.s.Phase)
			assert.True(t, g.s.StartsAt.IsZero())

			g.after(5 * time.Second)
			assert.Equal(t, PhaseWaiting, g.s.Phase, "a cancelled countdown never starts the game")
			assert.Nil(t, g.s.Turn)
		})
	}
}

func TestStartCountdown_SurvivesWithEnoughPlayers(t *testing.T) {
	g := newGame(t, countdownRules(), "H", "P", "Q")
	g.start()
	events := g.must(Command{Type: CmdLeave, PlayerID: "Q"})
	assert.False(t, ContainsEvent(events, EvtStartCancelled))

	g.after(5 * time.Second)
	assert.Equal(t, PhaseStarted, g.s.Phase)
	assert.Len(t, g.s.Players, 2)
}

func TestStartGame_RandomSeatsUsesShuffle(t *testing.T) {
	rules := testRules()
	rules.RandomSeats = true
	g := newGame(t, rules, "H", "P", "Q")
	for _, id := range []string{"H", "P", "Q"} {
		g.must(Command{Type: CmdSetReady, PlayerID: id, Ready: true})
	}

	reverse := func(n int, swap func(i, j int)) {
		for i := 0; i < n/2; i++ {
			swap(i, n-1-i)
		}
	}
	e := env(g.at)
	e.Shuffle = reverse
	_, next, err := Apply(g.s, Command{Type: CmdStartGame, PlayerID: "H"}, e)
	require.NoError(t, err)

	var order []string
	for i, p := range next.Players {
		assert.Equal(t, i, p.Seat)
		order = append(order, p.ID)
	}
	assert.Equal(t, []string{"Q", "P", "H"}, order)
	assert.Equal(t, "Q", next.ActivePlayerID())
	assert.Equal(t, "H", next.HostID, "shuffling seats keeps the host")
}

func TestStartGame_JoinOrderWithoutRandomSeats(t *testing.T) {
	g := newGame(t, testRules(), "H", "P", "Q")
	for _, id := range []string{"H", "P", "Q"} {
		g.must(Command{Type: CmdSetReady, PlayerID: id, Ready: true})
	}
	e := env(g.at)
	e.Shuffle = func(int, func(i, j int)) { t.Fatal("shuffle called without RandomSeats") }
	_, next, err := Apply(g.s, Command{Type: CmdStartGame, PlayerID: "H"}, e)
	require.NoError(t, err)
	assert.Equal(t, "H", next.ActivePlayerID())
}

func TestStartGame_Guards(t *testing.T) {
	tests := []struct {
		name    string
		ready   []string
		by      string
		wantErr error
	}{
		{"not host", []string{"H", "P"}, "P", ErrNotHost},
		{"too few ready", []string{"H"}, "H", ErrNotEnoughPlayers},
		{"unknown player", []string{"H", "P"}, "X", ErrUnknownPlayer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGame(t, testRules(), "H", "P")
			for _, id := range tt.ready {
				g.must(Command{Type: CmdSetReady, PlayerID: id, Ready: true})
			}
			_, err := g.apply(Command{Type: CmdStartGame, PlayerID: tt.by})
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, PhaseWaiting, g.s.Phase)
		})
	}
}

func TestLeave_HostPassesToNextSeat(t *testing.T) {
	g := newGame(t, testRules(), "H", "P", "Q")
	require.Equal(t, "H", g.s.HostID)

	events := g.must(Command{Type: CmdLeave, PlayerID: "H"})
	require.True(t, ContainsEvent(events, EvtHostChanged))
	assert.Equal(t, "P", g.s.HostID)

	events = g.must(Command{Type: CmdLeave, PlayerID: "Q"})
	assert.False(t, ContainsEvent(events, EvtHostChanged), "host only changes when the host leaves")
	assert.Equal(t, "P", g.s.HostID)

	events = g.must(Command{Type: CmdLeave, PlayerID: "P"})
	require.True(t, ContainsEvent(events, EvtRoomClosed))
	assert.Equal(t, PhaseClosed, g.s.Phase)
}

func TestJoin_Guards(t *testing.T) {
	t.Run("game already started", func(t *testing.T) {
		g := newGame(t, testRules(), "H", "P")
		g.start()
		_, err := g.apply(Command{Type: CmdJoin, PlayerID: "N", Name: "Nikau"})
		require.ErrorIs(t, err, ErrGameAlreadyStarted)
		assert.Equal(t, KindCapacity, KindOf(err))
		assert.Len(t, g.s.Players, 2)

		// Known ids still get back in.
		events := g.must(Command{Type: CmdJoin, PlayerID: "P", Name: "P"})
		assert.True(t, ContainsEvent(events, EvtPlayerRejoined))
	})
	t.Run("during countdown", func(t *testing.T) {
		g := newGame(t, countdownRules(), "H", "P")
		g.start()
		_, err := g.apply(Command{Type: CmdJoin, PlayerID: "N", Name: "Nikau"})
		require.ErrorIs(t, err, ErrGameAlreadyStarted)
	})
	t.Run("game finished", func(t *testing.T) {
		g := newGame(t, testRules(), "H", "P")
		g.start()
		g.must(Command{Type: CmdLeave, PlayerID: "P"})
		require.Equal(t, PhaseFinished, g.s.Phase)
		_, err := g.apply(Command{Type: CmdJoin, PlayerID: "N", Name: "Nikau"})
		require.ErrorIs(t, err, ErrGameFinished)
	})
	t.Run("room full", func(t *testing.T) {
		rules := testRules()
		rules.MaxPlayers = 2
		g := newGame(t, rules, "H", "P")
		_, err := g.apply(Command{Type: CmdJoin, PlayerID: "N", Name: "Nikau"})
		require.ErrorIs(t, err, ErrRoomFull)
	})
	t.Run("blank name", func(t *testing.T) {
		g := newGame(t, testRules(), "H")
		_, err := g.apply(Command{Type: CmdJoin, PlayerID: "N", Name: "   "})
		require.ErrorIs(t, err, ErrBadName)
	})
}

func TestCloseRoom(t *testing.T) {
	g := newGame(t, testRules(), "H", "P")

	_, err := g.apply(Command{Type: CmdCloseRoom, PlayerID: "P"})
	require.ErrorIs(t, err, ErrNotHost)
	assert.Equal(t, PhaseWaiting, g.s.Phase)

	_, err = g.apply(Command{Type: CmdCloseRoom, PlayerID: "X"})
	require.ErrorIs(t, err, ErrUnknownPlayer)

	events := g.must(Command{Type: CmdCloseRoom, PlayerID: "H"})
	require.True(t, ContainsEvent(events, EvtRoomClosed))
	assert.Equal(t, PhaseClosed, g.s.Phase)

	_, err = g.apply(Command{Type: CmdJoin, PlayerID: "N", Name: "Nikau"})
	require.ErrorIs(t, err, ErrRoomClosed)
}
