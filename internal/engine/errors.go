package engine

import "errors"

// Kind groups command errors the way clients are expected to react to them.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindCapacity      Kind = "capacity"
	KindNotFound      Kind = "not_found"
	KindTransport     Kind = "transport"
)

// Error is a rejected command. It never carries state; the room is left untouched.
type Error struct {
	Kind    Kind
	Code    string
	Message string

	parent *Error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Is(target error) bool {
	return e.parent != nil && target == error(e.parent)
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrUnsupportedCommand = newError(KindValidation, "UnsupportedCommand", "unsupported command")
	ErrWrongPhase         = newError(KindValidation, "WrongPhase", "command not allowed in this phase")
	ErrInvalidSlot        = newError(KindValidation, "InvalidSlot", "no such slot")
	ErrInvalidSlotOrder   = newError(KindValidation, "InvalidSlotOrder", "slots must be filled left to right")
	ErrSlotFilled         = newError(KindValidation, "SlotFilled", "slot already holds a card")
	ErrUnknownCard        = newError(KindValidation, "UnknownCard", "unknown card")
	ErrIllegalCard        = newError(KindValidation, "IllegalCard", "card cannot be placed in this slot")
	ErrNothingToUndo      = newError(KindValidation, "NothingToUndo", "sentence is empty")
	ErrStaleTurn          = newError(KindValidation, "StaleTurn", "vote is for a different turn")
	ErrAlreadyVoted       = newError(KindValidation, "AlreadyVoted", "vote already cast")
	ErrUnknownPlayer      = newError(KindValidation, "UnknownPlayer", "player is not in this room")
	ErrBadName            = newError(KindValidation, "BadName", "display name is required")

	ErrNotHost      = newError(KindAuthorization, "NotHost", "only the host can do that")
	ErrNotYourTurn  = newError(KindAuthorization, "NotYourTurn", "not your turn")
	ErrNotEligible  = newError(KindAuthorization, "NotEligible", "player cannot vote on this turn")
	ErrRoomClosed   = newError(KindAuthorization, "RoomClosed", "room is closed")
	ErrGameFinished = newError(KindAuthorization, "GameFinished", "game already finished")

	ErrRoomFull           = newError(KindCapacity, "RoomFull", "room is full")
	ErrNotEnoughPlayers   = newError(KindCapacity, "NotEnoughPlayers", "not enough ready players")
	ErrGameAlreadyStarted = newError(KindCapacity, "GameAlreadyStarted", "game already started")
	ErrSentenceTooLong    = newError(KindCapacity, "SentenceTooLong", "sentence has no room for another slot")

	ErrRoomNotFound = newError(KindNotFound, "RoomNotFound", "room not found")
)

// ErrSentenceIncomplete is reported as a WrongPhase failure: the turn cannot
// leave playing while a created slot is still empty.
var ErrSentenceIncomplete = &Error{
	Kind:    KindValidation,
	Code:    "WrongPhase",
	Message: "every created slot must be filled before submitting",
	parent:  ErrWrongPhase,
}

// ErrSentenceComplete is also a WrongPhase failure: a finished sentence is
// submitted, not passed.
var ErrSentenceComplete = &Error{
	Kind:    KindValidation,
	Code:    "WrongPhase",
	Message: "a complete sentence must be submitted, not passed",
	parent:  ErrWrongPhase,
}

// KindOf reports the taxonomy of err, defaulting to validation for unknown errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindValidation
}

// CodeOf reports the stable reason code of err.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "Internal"
}
