package engine

import (
	"time"
)

type RoomPhase string

const (
	PhaseWaiting  RoomPhase = "waiting"
	PhaseStarting RoomPhase = "starting"
	PhaseStarted  RoomPhase = "started"
	PhaseFinished RoomPhase = "finished"
	PhaseClosed   RoomPhase = "closed"
)

type TurnPhase string

const (
	TurnSelectingTopic TurnPhase = "selecting-topic"
	TurnPlaying        TurnPhase = "playing"
	TurnVoting         TurnPhase = "voting"
	TurnResolved       TurnPhase = "resolved"
)

type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusAway         Status = "away"
)

type Outcome string

const (
	OutcomeApproved  Outcome = "approved"
	OutcomeRejected  Outcome = "rejected"
	OutcomeSkipped   Outcome = "skipped"
	OutcomePassed    Outcome = "passed"
	OutcomeForfeited Outcome = "forfeited"
)

type Player struct {
	ID             string
	Name           string
	Ready          bool
	Status         Status
	Score          int
	Seat           int
	TurnsTaken     int
	JoinedAt       time.Time
	DisconnectedAt time.Time
}

// Card is an immutable dictionary entry. The engine only looks at ID and
// hands the rest to the CardProvider's placement predicate.
type Card struct {
	ID           string   `json:"id"`
	Text         string   `json:"text"`
	Romanization string   `json:"romanization"`
	AudioID      string   `json:"audio_id"`
	Tags         []string `json:"tags"`
}

type Vote struct {
	PlayerID  string
	Approve   bool
	Rationale string
	CastAt    time.Time
}

type Turn struct {
	Number         int
	ActivePlayerID string
	ActiveSeat     int
	Phase          TurnPhase
	StartedAt      time.Time
	PlayingSince   time.Time
	Deadline       time.Time
	Topic          string
	Sentence       Sentence

	// Kōrero step.
	Translation string
	Spoken      bool
	SubmittedAt time.Time
	Eligible    []string
	Votes       []Vote

	Outcome Outcome
	Award   int
	Acks    []string

	Held         bool
	HoldDeadline time.Time
}

type State struct {
	Code      string
	Phase     RoomPhase
	HostID    string
	Players   []Player
	CreatedAt time.Time
	StartsAt  time.Time
	Round     int
	Turn      *Turn
	Rules     Rules
}

type Rules struct {
	MaxPlayers int
	MinPlayers int
	MaxSlots   int
	// Rounds is the number of full seat rotations before the game finishes; 0 plays forever.
	Rounds int

	TopicDuration     time.Duration
	TurnDuration      time.Duration
	VoteDuration      time.Duration
	ResolveGrace      time.Duration
	HoldTimeout       time.Duration
	DisconnectRemoval time.Duration
	StartCountdown    time.Duration

	SkipEmptyOnTimeout bool
	RandomSeats        bool

	Reward RewardPolicy
}

// CardProvider is the dictionary the sentence builder consults.
type CardProvider interface {
	Card(id string) (Card, bool)
	CanPlace(card Card, role string) bool
}

// Env carries everything Apply needs from outside the room state.
type Env struct {
	Now   time.Time
	Cards CardProvider
	// Shuffle permutes seats when Rules.RandomSeats is set; nil keeps join order.
	Shuffle func(n int, swap func(i, j int))
}

type CommandType string

const (
	CmdJoin           CommandType = "Join"
	CmdLeave          CommandType = "Leave"
	CmdSetReady       CommandType = "SetReady"
	CmdSetStatus      CommandType = "SetStatus"
	CmdStartGame      CommandType = "StartGame"
	CmdCloseRoom      CommandType = "CloseRoom"
	CmdSelectTopic    CommandType = "SelectTopic"
	CmdCreateSlot     CommandType = "CreateSlot"
	CmdPlayCard       CommandType = "PlayCard"
	CmdUndoLastCard   CommandType = "UndoLastCard"
	CmdSubmitTurn     CommandType = "SubmitTurn"
	CmdPassTurn       CommandType = "PassTurn"
	CmdVote           CommandType = "Vote"
	CmdConfirmTurnEnd CommandType = "ConfirmTurnEnd"
	CmdTick           CommandType = "Tick"
)

type Command struct {
	Type     CommandType
	PlayerID string

	Name        string
	Ready       bool
	Status      Status
	Topic       string
	Role        string
	Slot        int
	CardID      string
	Translation string
	TurnNumber  int
	Approve     bool
	Rationale   string
}

type EventType string

const (
	EvtPlayerJoined   EventType = "PlayerJoined"
	EvtPlayerRejoined EventType = "PlayerRejoined"
	EvtPlayerLeft     EventType = "PlayerLeft"
	EvtPlayerRemoved  EventType = "PlayerRemoved"
	EvtHostChanged    EventType = "HostChanged"
	EvtReadyChanged   EventType = "ReadyChanged"
	EvtStatusChanged  EventType = "StatusChanged"
	EvtGameStarting   EventType = "GameStarting"
	EvtStartCancelled EventType = "StartCancelled"
	EvtGameStarted    EventType = "GameStarted"
	EvtTurnStarted    EventType = "TurnStarted"
	EvtTopicSelected  EventType = "TopicSelected"
	EvtSlotCreated    EventType = "SlotCreated"
	EvtCardPlayed     EventType = "CardPlayed"
	EvtCardRemoved    EventType = "CardRemoved"
	EvtSlotRemoved    EventType = "SlotRemoved"
	EvtTurnSubmitted  EventType = "TurnSubmitted"
	EvtTimerExpired   EventType = "TimerExpired"
	EvtVoteCast       EventType = "VoteCast"
	EvtTurnResolved   EventType = "TurnResolved"
	EvtTurnAcked      EventType = "TurnAcked"
	EvtTurnPassed     EventType = "TurnPassed"
	EvtTurnSkipped    EventType = "TurnSkipped"
	EvtTurnForfeited  EventType = "TurnForfeited"
	EvtTurnHeld       EventType = "TurnHeld"
	EvtTurnResumed    EventType = "TurnResumed"
	EvtTurnAdvanced   EventType = "TurnAdvanced"
	EvtGameFinished   EventType = "GameFinished"
	EvtRoomClosed     EventType = "RoomClosed"
)

type Event struct {
	Type       EventType
	PlayerID   string
	TurnNumber int
	Slot       int
	Approved   bool
	Award      int
}

// Apply validates cmd against s and returns the resulting state. A rejected
// command returns s unchanged together with an *Error.
func Apply(s State, cmd Command, env Env) ([]Event, State, error) {
	if s.Phase == PhaseClosed {
		return nil, s, ErrRoomClosed
	}

	next := s.Clone()
	var (
		events []Event
		err    error
	)

	switch cmd.Type {
	case CmdJoin:
		events, err = next.join(cmd, env.Now)
	case CmdLeave:
		events, err = next.leave(cmd, env.Now)
	case CmdSetReady:
		events, err = next.setReady(cmd)
	case CmdSetStatus:
		events, err = next.setStatus(cmd, env.Now)
	case CmdStartGame:
		events, err = next.startGame(cmd, env)
	case CmdCloseRoom:
		events, err = next.closeRoom(cmd)
	case CmdSelectTopic:
		events, err = next.selectTopic(cmd, env.Now)
	case CmdCreateSlot:
		events, err = next.createSlot(cmd)
	case CmdPlayCard:
		events, err = next.playCard(cmd, env.Cards)
	case CmdUndoLastCard:
		events, err = next.undoLastCard(cmd)
	case CmdSubmitTurn:
		events, err = next.submitTurn(cmd, env.Now)
	case CmdPassTurn:
		events, err = next.passTurn(cmd, env.Now)
	case CmdVote:
		events, err = next.vote(cmd, env.Now)
	case CmdConfirmTurnEnd:
		events, err = next.confirmTurnEnd(cmd, env.Now)
	case CmdTick:
		events = next.tick(env.Now)
	default:
		err = ErrUnsupportedCommand
	}

	if err != nil {
		return nil, s, err
	}
	return events, next, nil
}

// NextDeadline is the earliest instant at which a Tick would change s.
// The zero time means nothing is scheduled.
func (s State) NextDeadline() time.Time {
	var next time.Time
	consider := func(t time.Time) {
		if t.IsZero() {
			return
		}
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}

	switch s.Phase {
	case PhaseClosed, PhaseFinished:
		return time.Time{}
	case PhaseStarting:
		consider(s.StartsAt)
	case PhaseStarted:
		if s.Turn != nil {
			if s.Turn.Held {
				consider(s.Turn.HoldDeadline)
			} else {
				consider(s.Turn.Deadline)
			}
		}
	}

	if s.Rules.DisconnectRemoval > 0 {
		for _, p := range s.Players {
			if p.Status == StatusDisconnected {
				consider(p.DisconnectedAt.Add(s.Rules.DisconnectRemoval))
			}
		}
	}
	return next
}

// TimeRemaining is the advisory countdown derived from the authoritative deadline.
func (s State) TimeRemaining(now time.Time) time.Duration {
	if s.Turn == nil || s.Turn.Held || s.Turn.Deadline.IsZero() {
		return 0
	}
	if d := s.Turn.Deadline.Sub(now); d > 0 {
		return d
	}
	return 0
}
