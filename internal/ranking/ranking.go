// Package ranking turns player scores into ordered standings and builds the
// final summary of a finished session. Pure aggregation, no shared state.
package ranking

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/qlive/internal/domain"
)

// Standing is one player's input to the ranking: cumulative score plus the
// total time spent answering, which breaks ties in display order.
type Standing struct {
	PlayerID        string
	Nickname        string
	Score           int
	TotalAnswerTime time.Duration
}

// Rank orders standings by score descending. Players with equal scores share
// a rank (standard competition ranking); among them, lower cumulative answer
// time sorts first, then nickname for a stable order.
func Rank(standings []Standing) []domain.LeaderboardEntry {
	sorted := make([]Standing, len(standings))
	copy(sorted, standings)

	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.TotalAnswerTime != b.TotalAnswerTime {
			return a.TotalAnswerTime < b.TotalAnswerTime
		}
		return a.Nickname < b.Nickname
	})

	entries := make([]domain.LeaderboardEntry, 0, len(sorted))
	rank := 0
	for i, s := range sorted {
		if i == 0 || s.Score != sorted[i-1].Score {
			rank = i + 1
		}
		entries = append(entries, domain.LeaderboardEntry{
			PlayerID: s.PlayerID,
			Nickname: s.Nickname,
			Score:    s.Score,
			Rank:     rank,
		})
	}

	return entries
}

// Snapshot captures the standings after one question's results.
func Snapshot(questionIndex int, standings []Standing, takenAt time.Time) domain.RankingSnapshot {
	return domain.RankingSnapshot{
		QuestionIndex: questionIndex,
		Entries:       Rank(standings),
		TakenAt:       takenAt,
	}
}

// QuestionStats aggregates the accepted submissions for one question.
func QuestionStats(q domain.QuestionSnapshot, questionIndex int, subs []domain.Submission) domain.QuestionStats {
	stats := domain.QuestionStats{
		QuestionID:    q.QuestionID,
		QuestionIndex: questionIndex,
		TotalAnswers:  len(subs),
		OptionCounts:  make(map[string]int, len(q.Options)),
	}

	var totalMs int64
	for _, sub := range subs {
		if sub.Correct {
			stats.CorrectCount++
		}
		totalMs += sub.Elapsed.Milliseconds()
		for _, id := range sub.Choice.OptionIDs {
			stats.OptionCounts[id]++
		}
	}

	if len(subs) > 0 {
		stats.AvgAnswerTime = decimal.NewFromInt(totalMs).
			Div(decimal.NewFromInt(int64(len(subs)))).
			Round(1)
	}

	return stats
}

// PlayerResults builds the final per-player lines from the last standings
// and each player's accepted submissions across the whole session.
func PlayerResults(standings []Standing, subsByPlayer map[string][]domain.Submission) []domain.PlayerResult {
	entries := Rank(standings)

	results := make([]domain.PlayerResult, 0, len(entries))
	for _, e := range entries {
		r := domain.PlayerResult{
			PlayerID: e.PlayerID,
			Nickname: e.Nickname,
			Score:    e.Score,
			Rank:     e.Rank,
		}

		subs := subsByPlayer[e.PlayerID]
		var totalMs int64
		for _, sub := range subs {
			r.AnsweredCount++
			if sub.Correct {
				r.CorrectCount++
			}
			totalMs += sub.Elapsed.Milliseconds()
		}
		if r.AnsweredCount > 0 {
			r.AvgAnswerTime = decimal.NewFromInt(totalMs).
				Div(decimal.NewFromInt(int64(r.AnsweredCount))).
				Round(1)
		}

		results = append(results, r)
	}

	return results
}
