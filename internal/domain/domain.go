package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Phase is one state of a session's per-question state machine.
type Phase string

const (
	PhaseLobby       Phase = "lobby"
	PhaseStarting    Phase = "starting"
	PhaseQuestion    Phase = "question"
	PhaseAnswers     Phase = "answers"
	PhaseResult      Phase = "result"
	PhaseLeaderboard Phase = "leaderboard"
	PhaseFinished    Phase = "finished"
)

// Role of a live connection bound to a session.
type Role string

const (
	RoleHost    Role = "host"
	RolePlayer  Role = "player"
	RoleDisplay Role = "display"
)

type QuestionType string

const (
	QuestionSingleChoice QuestionType = "single_choice"
	QuestionTrueFalse    QuestionType = "true_false"
	QuestionMultiSelect  QuestionType = "multi_select"
	QuestionOrdering     QuestionType = "ordering"
)

// QuizSnapshot is the immutable copy of a quiz taken at session start.
// Later edits to the source quiz never affect a running session.
type QuizSnapshot struct {
	QuizID    string
	Title     string
	Questions []QuestionSnapshot
}

type QuestionSnapshot struct {
	QuestionID string
	Text       string
	Type       QuestionType
	Options    []Option
	// CorrectOptionIDs holds one ID for single-choice and true/false, the
	// correct set for multi-select, and the canonical order for ordering.
	CorrectOptionIDs []string
	TimeLimit        time.Duration
	BasePoints       int
	// MinFactor floors speed-decayed points at BasePoints*MinFactor for any
	// correct answer. Zero means the engine default.
	MinFactor decimal.Decimal
}

type Option struct {
	OptionID string
	Text     string
}

// Choice is a player's answer payload. Single-choice and true/false carry
// exactly one option ID; ordering carries the full sequence.
type Choice struct {
	OptionIDs []string
}

// Submission is one accepted answer. At most one exists per (player, question).
type Submission struct {
	QuestionID string
	PlayerID   string
	Choice     Choice
	// ReceivedAt and Elapsed are derived from the server clock, never from
	// anything the client reports.
	ReceivedAt time.Time
	Elapsed    time.Duration
	Points     int
	Correct    bool
}

// Player is a joined participant. Disconnection keeps the record; only a
// host kick removes it.
type Player struct {
	PlayerID  string
	SessionID string
	Nickname  string
	Connected bool
	Score     int
	JoinedAt  time.Time
}

type LeaderboardEntry struct {
	PlayerID string
	Nickname string
	Score    int
	Rank     int
}

// RankingSnapshot is the ordered standing taken after one question's results.
type RankingSnapshot struct {
	QuestionIndex int
	Entries       []LeaderboardEntry
	TakenAt       time.Time
}

// PlayerResult is one player's final line in a finished session's summary.
type PlayerResult struct {
	PlayerID      string
	Nickname      string
	Score         int
	Rank          int
	CorrectCount  int
	AnsweredCount int
	AvgAnswerTime decimal.Decimal
}

// QuestionStats aggregates one question's submissions for the summary.
type QuestionStats struct {
	QuestionID    string
	QuestionIndex int
	CorrectCount  int
	TotalAnswers  int
	AvgAnswerTime decimal.Decimal
	// OptionCounts maps option ID to how many submissions chose it.
	OptionCounts map[string]int
}

// Summary is the durable record of a finished session.
type Summary struct {
	SessionID  string
	QuizID     string
	QuizTitle  string
	PIN        string
	StartedAt  time.Time
	FinishedAt time.Time
	ShareToken string
	Results    []PlayerResult
	Questions  []QuestionStats
	Snapshots  []RankingSnapshot
}
