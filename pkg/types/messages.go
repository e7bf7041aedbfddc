// Package types is the JSON wire protocol shared by the server and clients.
package types

// Client -> Server message types.
const (
	MsgSetReady       = "SetReady"
	MsgStartGame      = "StartGame"
	MsgSelectTopic    = "SelectTopic"
	MsgCreateSlot     = "CreateSlot"
	MsgPlayCard       = "PlayCard"
	MsgUndoLastCard   = "UndoLastCard"
	MsgSubmitTurn     = "SubmitTurn"
	MsgPassTurn       = "PassTurn"
	MsgVote           = "Vote"
	MsgConfirmTurnEnd = "ConfirmTurnEnd"
	MsgSetAway        = "SetAway"
	MsgLeaveRoom      = "LeaveRoom"
	MsgCloseRoom      = "CloseRoom"
)

// Server -> Client message types.
const (
	MsgStateSnapshot = "StateSnapshot"
	MsgError         = "Error"
	MsgRoomClosed    = "RoomClosed"
)

type ClientMessage struct {
	Type        string `json:"type"`
	Ready       bool   `json:"ready,omitempty"`
	Away        bool   `json:"away,omitempty"`
	Topic       string `json:"topic,omitempty"`
	Role        string `json:"role,omitempty"`
	Slot        int    `json:"slot,omitempty"`
	CardID      string `json:"card_id,omitempty"`
	Translation string `json:"translation,omitempty"`
	TurnNumber  int    `json:"turn_number,omitempty"`
	Approve     bool   `json:"approve,omitempty"`
	Rationale   string `json:"rationale,omitempty"`
}

type ServerMessage struct {
	Type    string        `json:"type"` // "StateSnapshot" | "Error" | "RoomClosed"
	Version int           `json:"version,omitempty"`
	State   *RoomSnapshot `json:"state,omitempty"`
	Error   *ErrorBody    `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
