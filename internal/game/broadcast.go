package game

import (
	"github.com/victornm/qlive/internal/domain"
)

// Scope selects which connections of a session receive an Update.
type Scope int

const (
	// ScopeAll reaches host, display and every player connection.
	ScopeAll Scope = iota
	// ScopePresenter reaches the host and display connections only.
	ScopePresenter
	// ScopePlayer reaches the connections of one player.
	ScopePlayer
)

// Update types on the wire.
const (
	UpdateGameState     = "gameStateUpdate"
	UpdatePlayerJoined  = "playerJoined"
	UpdatePlayerLeft    = "playerLeft"
	UpdateKicked        = "kicked"
	UpdateCountdownTick = "countdownTick"
)

// Update is one outbound broadcast. Updates for a session are emitted in
// state-machine order; the gateway must preserve that order per connection.
type Update struct {
	Scope    Scope
	PlayerID string // set for ScopePlayer
	Type     string
	Payload  any
}

// Broadcaster fans an update out to a session's connections. Implementations
// must not block: a slow client is the implementation's problem, never the
// session's.
type Broadcaster interface {
	Deliver(sessionID string, u Update)
}

type RosterEntry struct {
	PlayerID  string `json:"player_id"`
	Nickname  string `json:"nickname"`
	Connected bool   `json:"connected"`
	Score     int    `json:"score"`
}

// QuestionView is the current question as shown to clients while answering.
// It deliberately omits the correctness markers.
type QuestionView struct {
	QuestionID string        `json:"question_id"`
	Index      int           `json:"index"`
	Text       string        `json:"text"`
	Type       string        `json:"type"`
	Options    []domain.Option `json:"options"`
	TimeLimitMs int64        `json:"time_limit_ms"`
}

// PlayerResultView is one player's own outcome for the revealed question.
type PlayerResultView struct {
	QuestionID string `json:"question_id"`
	Answered   bool   `json:"answered"`
	Correct    bool   `json:"correct"`
	Points     int    `json:"points"`
	TotalScore int    `json:"total_score"`
}

// ResultView is the presenter's aggregate for the revealed question.
type ResultView struct {
	QuestionID       string         `json:"question_id"`
	CorrectOptionIDs []string       `json:"correct_option_ids"`
	CorrectCount     int            `json:"correct_count"`
	TotalAnswers     int            `json:"total_answers"`
	OptionCounts     map[string]int `json:"option_counts"`
}

type LeaderboardView struct {
	QuestionIndex int                      `json:"question_index"`
	Entries       []domain.LeaderboardEntry `json:"entries"`
	Final         bool                     `json:"final"`
}

// StatePayload is the gameStateUpdate body, scoped to the recipient.
type StatePayload struct {
	SessionID     string            `json:"session_id"`
	Phase         domain.Phase      `json:"phase"`
	QuestionIndex int               `json:"question_index"`
	QuestionCount int               `json:"question_count"`
	Roster        []RosterEntry     `json:"roster,omitempty"`
	Question      *QuestionView     `json:"question,omitempty"`
	Result        *ResultView       `json:"result,omitempty"`
	YourResult    *PlayerResultView `json:"your_result,omitempty"`
	Leaderboard   *LeaderboardView  `json:"leaderboard,omitempty"`
	ShareToken    string            `json:"share_token,omitempty"`
}

type CountdownPayload struct {
	QuestionIndex int   `json:"question_index"`
	RemainingMs   int64 `json:"remaining_ms"`
}

type RosterChangePayload struct {
	PlayerID string        `json:"player_id"`
	Nickname string        `json:"nickname"`
	Roster   []RosterEntry `json:"roster"`
}

type KickedPayload struct {
	Reason string `json:"reason"`
}
