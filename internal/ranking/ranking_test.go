package ranking_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/qlive/internal/domain"
	"github.com/victornm/qlive/internal/ranking"
)

func TestRank(t *testing.T) {
	tests := map[string]struct {
		arrange func() []ranking.Standing
		assert  func(t *testing.T, entries []domain.LeaderboardEntry)
	}{
		"ordered by score descending": {
			arrange: func() []ranking.Standing {
				return []ranking.Standing{
					{PlayerID: "p1", Nickname: "alice", Score: 500},
					{PlayerID: "p2", Nickname: "bob", Score: 1500},
					{PlayerID: "p3", Nickname: "carol", Score: 1000},
				}
			},
			assert: func(t *testing.T, entries []domain.LeaderboardEntry) {
				require.Len(t, entries, 3)
				assert.Equal(t, "bob", entries[0].Nickname)
				assert.Equal(t, "carol", entries[1].Nickname)
				assert.Equal(t, "alice", entries[2].Nickname)
				assert.Equal(t, []int{1, 2, 3}, []int{entries[0].Rank, entries[1].Rank, entries[2].Rank})
			},
		},

		"equal scores share a rank": {
			arrange: func() []ranking.Standing {
				return []ranking.Standing{
					{PlayerID: "p1", Nickname: "alice", Score: 1000, TotalAnswerTime: 8 * time.Second},
					{PlayerID: "p2", Nickname: "bob", Score: 1000, TotalAnswerTime: 5 * time.Second},
					{PlayerID: "p3", Nickname: "carol", Score: 400},
				}
			},
			assert: func(t *testing.T, entries []domain.LeaderboardEntry) {
				require.Len(t, entries, 3)
				// bob first on lower cumulative answer time, same rank as alice
				assert.Equal(t, "bob", entries[0].Nickname)
				assert.Equal(t, 1, entries[0].Rank)
				assert.Equal(t, "alice", entries[1].Nickname)
				assert.Equal(t, 1, entries[1].Rank)
				assert.Equal(t, 3, entries[2].Rank)
			},
		},

		"empty standings": {
			arrange: func() []ranking.Standing { return nil },
			assert: func(t *testing.T, entries []domain.LeaderboardEntry) {
				assert.Empty(t, entries)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			tt.assert(t, ranking.Rank(tt.arrange()))
		})
	}
}

func TestRank_DoesNotMutateInput(t *testing.T) {
	in := []ranking.Standing{
		{PlayerID: "p1", Score: 1},
		{PlayerID: "p2", Score: 2},
	}
	ranking.Rank(in)
	assert.Equal(t, "p1", in[0].PlayerID)
}

func TestQuestionStats(t *testing.T) {
	q := domain.QuestionSnapshot{
		QuestionID: "q1",
		Type:       domain.QuestionSingleChoice,
		Options:    []domain.Option{{OptionID: "a"}, {OptionID: "b"}},
	}

	subs := []domain.Submission{
		{PlayerID: "p1", Choice: domain.Choice{OptionIDs: []string{"a"}}, Elapsed: 2 * time.Second, Correct: true},
		{PlayerID: "p2", Choice: domain.Choice{OptionIDs: []string{"b"}}, Elapsed: 4 * time.Second},
		{PlayerID: "p3", Choice: domain.Choice{OptionIDs: []string{"a"}}, Elapsed: 6 * time.Second, Correct: true},
	}

	stats := ranking.QuestionStats(q, 0, subs)

	assert.Equal(t, 2, stats.CorrectCount)
	assert.Equal(t, 3, stats.TotalAnswers)
	assert.Equal(t, map[string]int{"a": 2, "b": 1}, stats.OptionCounts)
	assert.True(t, stats.AvgAnswerTime.Equal(decimal.NewFromInt(4000)), "avg of 2s, 4s, 6s in ms, got %s", stats.AvgAnswerTime)
}

func TestPlayerResults(t *testing.T) {
	standings := []ranking.Standing{
		{PlayerID: "p1", Nickname: "alice", Score: 1875},
		{PlayerID: "p2", Nickname: "bob", Score: 550},
	}

	subs := map[string][]domain.Submission{
		"p1": {
			{QuestionID: "q1", Elapsed: 5 * time.Second, Correct: true, Points: 875},
			{QuestionID: "q2", Elapsed: 3 * time.Second, Correct: true, Points: 1000},
		},
		"p2": {
			{QuestionID: "q1", Elapsed: 18 * time.Second, Correct: true, Points: 550},
			{QuestionID: "q2", Elapsed: 10 * time.Second, Correct: false},
		},
	}

	results := ranking.PlayerResults(standings, subs)
	require.Len(t, results, 2)

	assert.Equal(t, "alice", results[0].Nickname)
	assert.Equal(t, 1, results[0].Rank)
	assert.Equal(t, 2, results[0].CorrectCount)
	assert.Equal(t, 2, results[0].AnsweredCount)
	assert.True(t, results[0].AvgAnswerTime.Equal(decimal.NewFromInt(4000)))

	assert.Equal(t, "bob", results[1].Nickname)
	assert.Equal(t, 2, results[1].Rank)
	assert.Equal(t, 1, results[1].CorrectCount)
	assert.Equal(t, 2, results[1].AnsweredCount)
}
