package api

import (
	"time"

	"github.com/victornm/qlive/internal/domain"
)

type (
	SummaryView struct {
		SessionID  string         `json:"session_id"`
		QuizID     string         `json:"quiz_id"`
		QuizTitle  string         `json:"quiz_title"`
		PIN        string         `json:"pin"`
		StartedAt  time.Time      `json:"started_at"`
		FinishedAt time.Time      `json:"finished_at"`
		ShareToken string         `json:"share_token,omitempty"`
		Results    []ResultView   `json:"results"`
		Questions  []StatsView    `json:"questions"`
		Snapshots  []SnapshotView `json:"snapshots"`
	}

	ResultView struct {
		PlayerID      string `json:"player_id"`
		Nickname      string `json:"nickname"`
		Score         int    `json:"score"`
		Rank          int    `json:"rank"`
		CorrectCount  int    `json:"correct_count"`
		AnsweredCount int    `json:"answered_count"`
		AvgAnswerMs   string `json:"avg_answer_time_ms"`
	}

	StatsView struct {
		QuestionID    string         `json:"question_id"`
		QuestionIndex int            `json:"question_index"`
		CorrectCount  int            `json:"correct_count"`
		TotalAnswers  int            `json:"total_answers"`
		AvgAnswerMs   string         `json:"avg_answer_time_ms"`
		OptionCounts  map[string]int `json:"option_counts"`
	}

	SnapshotView struct {
		QuestionIndex int         `json:"question_index"`
		TakenAt       time.Time   `json:"taken_at"`
		Entries       []EntryView `json:"entries"`
	}

	EntryView struct {
		PlayerID string `json:"player_id"`
		Nickname string `json:"nickname"`
		Score    int    `json:"score"`
		Rank     int    `json:"rank"`
	}
)

func newSummaryView(sum *domain.Summary) SummaryView {
	view := SummaryView{
		SessionID:  sum.SessionID,
		QuizID:     sum.QuizID,
		QuizTitle:  sum.QuizTitle,
		PIN:        sum.PIN,
		StartedAt:  sum.StartedAt,
		FinishedAt: sum.FinishedAt,
		ShareToken: sum.ShareToken,
		Results:    make([]ResultView, 0, len(sum.Results)),
		Questions:  make([]StatsView, 0, len(sum.Questions)),
		Snapshots:  make([]SnapshotView, 0, len(sum.Snapshots)),
	}

	for _, r := range sum.Results {
		view.Results = append(view.Results, ResultView{
			PlayerID:      r.PlayerID,
			Nickname:      r.Nickname,
			Score:         r.Score,
			Rank:          r.Rank,
			CorrectCount:  r.CorrectCount,
			AnsweredCount: r.AnsweredCount,
			AvgAnswerMs:   r.AvgAnswerTime.String(),
		})
	}

	for _, q := range sum.Questions {
		view.Questions = append(view.Questions, StatsView{
			QuestionID:    q.QuestionID,
			QuestionIndex: q.QuestionIndex,
			CorrectCount:  q.CorrectCount,
			TotalAnswers:  q.TotalAnswers,
			AvgAnswerMs:   q.AvgAnswerTime.String(),
			OptionCounts:  q.OptionCounts,
		})
	}

	for _, snap := range sum.Snapshots {
		view.Snapshots = append(view.Snapshots, SnapshotView{
			QuestionIndex: snap.QuestionIndex,
			TakenAt:       snap.TakenAt,
			Entries:       newEntryViews(snap.Entries),
		})
	}

	return view
}

func newEntryViews(entries []domain.LeaderboardEntry) []EntryView {
	views := make([]EntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, EntryView{
			PlayerID: e.PlayerID,
			Nickname: e.Nickname,
			Score:    e.Score,
			Rank:     e.Rank,
		})
	}
	return views
}
