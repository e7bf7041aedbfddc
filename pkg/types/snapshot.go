package types

import "time"

// RoomSnapshot is broadcast after every state change and on (re)join.
// Deadlines are absolute server time; RemainingMs is derived from them when
// the snapshot is built and is for display only.
type RoomSnapshot struct {
	Code    string         `json:"code"`
	Version int            `json:"version"`
	Phase   string         `json:"phase"`
	HostID  string         `json:"host_id"`
	Round   int            `json:"round"`
	Rounds  int            `json:"rounds"`
	Players []PlayerView   `json:"players"`
	Turn    *TurnView      `json:"turn,omitempty"`
	Results []PlayerResult `json:"results,omitempty"`
	Server  time.Time      `json:"server_time"`
}

type PlayerView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Seat   int    `json:"seat"`
	Status string `json:"status"`
	Ready  bool   `json:"ready"`
	Score  int    `json:"score"`
	Host   bool   `json:"host"`
}

type TurnView struct {
	Number         int        `json:"number"`
	ActivePlayerID string     `json:"active_player_id"`
	Phase          string     `json:"phase"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	RemainingMs    int64      `json:"remaining_ms"`
	Held           bool       `json:"held"`
	Topic          string     `json:"topic,omitempty"`
	Slots          []SlotView `json:"slots"`
	Translation    string     `json:"translation,omitempty"`
	Spoken         bool       `json:"spoken"`
	Tally          VoteTally  `json:"tally"`
	Outcome        string     `json:"outcome,omitempty"`
	Award          int        `json:"award,omitempty"`
}

type SlotView struct {
	Role string    `json:"role,omitempty"`
	Card *CardView `json:"card,omitempty"`
}

type CardView struct {
	ID           string   `json:"id"`
	Text         string   `json:"text"`
	Romanization string   `json:"romanization,omitempty"`
	AudioID      string   `json:"audio_id,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}

type VoteTally struct {
	Approve  int `json:"approve"`
	Reject   int `json:"reject"`
	Pending  int `json:"pending"`
	Eligible int `json:"eligible"`
	// Voted lists who has voted so far, never how.
	Voted []string `json:"voted,omitempty"`
}

type PlayerResult struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Initials string `json:"initials"`
	Score    int    `json:"score"`
}
