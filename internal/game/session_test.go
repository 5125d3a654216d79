package game_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/qlive/internal/domain"
	"github.com/victornm/qlive/internal/errors"
	"github.com/victornm/qlive/internal/event"
	"github.com/victornm/qlive/internal/game"
)

const hostKey = "host-secret"

type recorder struct {
	mu      sync.Mutex
	updates []game.Update
}

func (r *recorder) Deliver(_ string, u game.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) byType(t string) []game.Update {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []game.Update
	for _, u := range r.updates {
		if u.Type == t {
			out = append(out, u)
		}
	}
	return out
}

func twoQuestionQuiz() domain.QuizSnapshot {
	return domain.QuizSnapshot{
		QuizID: "quiz-1",
		Title:  "capitals",
		Questions: []domain.QuestionSnapshot{
			{
				QuestionID:       "q1",
				Text:             "capital of France?",
				Type:             domain.QuestionSingleChoice,
				Options:          []domain.Option{{OptionID: "a"}, {OptionID: "b"}, {OptionID: "c"}},
				CorrectOptionIDs: []string{"b"},
				TimeLimit:        20 * time.Second,
				BasePoints:       1000,
			},
			{
				QuestionID:       "q2",
				Text:             "water boils at 100C at sea level",
				Type:             domain.QuestionTrueFalse,
				Options:          []domain.Option{{OptionID: "true"}, {OptionID: "false"}},
				CorrectOptionIDs: []string{"true"},
				TimeLimit:        10 * time.Second,
				BasePoints:       500,
			},
		},
	}
}

type fixture struct {
	s   *game.Session
	fc  *clockwork.FakeClock
	rec *recorder
	eb  *event.Bus
}

func makeSession(t *testing.T) *fixture {
	t.Helper()

	fc := clockwork.NewFakeClock()
	rec := &recorder{}
	eb := event.NewBus()

	s, err := game.NewSession(game.Config{
		SessionID:   "s1",
		PIN:         "482913",
		HostKey:     hostKey,
		Quiz:        twoQuestionQuiz(),
		Clock:       fc,
		Broadcaster: rec,
		EventBus:    eb,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	return &fixture{s: s, fc: fc, rec: rec, eb: eb}
}

func (f *fixture) join(t *testing.T, nickname string) game.JoinAck {
	t.Helper()
	ack, err := f.s.Join(context.Background(), nickname)
	require.NoError(t, err)
	return ack
}

func (f *fixture) exec(t *testing.T, cmd game.CommandType) {
	t.Helper()
	require.NoError(t, f.s.Execute(context.Background(), game.Command{Type: cmd, HostKey: hostKey}))
}

func (f *fixture) phase(t *testing.T) domain.Phase {
	t.Helper()
	p, err := f.s.GetProbe(context.Background())
	require.NoError(t, err)
	return p.Phase
}

// enterQuestion waits for the phase timer's watchers so fake-clock advances
// are observed deterministically.
func (f *fixture) awaitTimer(t *testing.T) {
	t.Helper()
	f.fc.BlockUntil(2) // countdown timer + tick ticker
}

func TestSession_StartRequiresPlayer(t *testing.T) {
	f := makeSession(t)

	err := f.s.Execute(context.Background(), game.Command{Type: game.CommandStartGame, HostKey: hostKey})
	assert.True(t, errors.Is(err, errors.CodeInvalidArgument), "start with empty lobby: %v", err)
	assert.Equal(t, domain.PhaseLobby, f.phase(t))
}

func TestSession_WrongPhaseCommandRejected(t *testing.T) {
	f := makeSession(t)
	f.join(t, "alice")

	err := f.s.Execute(context.Background(), game.Command{Type: game.CommandNextQuestion, HostKey: hostKey})
	assert.True(t, errors.Is(err, errors.CodeFailedPrecondition), "nextQuestion in lobby: %v", err)
	assert.Equal(t, domain.PhaseLobby, f.phase(t), "state must be unchanged")
}

func TestSession_NonHostCommandRejected(t *testing.T) {
	f := makeSession(t)
	f.join(t, "alice")

	err := f.s.Execute(context.Background(), game.Command{Type: game.CommandStartGame, HostKey: "wrong"})
	assert.True(t, errors.Is(err, errors.CodePermissionDenied), "got %v", err)
	assert.Equal(t, domain.PhaseLobby, f.phase(t))
}

func TestSession_JoinValidation(t *testing.T) {
	f := makeSession(t)
	f.join(t, "alice")

	_, err := f.s.Join(context.Background(), "")
	assert.True(t, errors.Is(err, errors.CodeInvalidArgument), "empty nickname: %v", err)

	_, err = f.s.Join(context.Background(), "this nickname is much longer than twenty four runes")
	assert.True(t, errors.Is(err, errors.CodeInvalidArgument), "overlong nickname: %v", err)

	_, err = f.s.Join(context.Background(), "Alice")
	assert.True(t, errors.Is(err, errors.CodeAlreadyExists), "duplicate nickname: %v", err)
}

func TestSession_FullRun(t *testing.T) {
	ctx := context.Background()
	f := makeSession(t)

	var finished []domain.EventSessionFinished
	var mu sync.Mutex
	f.eb.Subscribe(domain.EventNameSessionFinished, func(_ context.Context, e event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		finished = append(finished, e.(domain.EventSessionFinished))
		return nil
	})

	alice := f.join(t, "alice")
	bob := f.join(t, "bob")

	f.exec(t, game.CommandStartGame)
	require.Equal(t, domain.PhaseQuestion, f.phase(t))
	f.awaitTimer(t)

	// Alice answers correctly at 5s, Bob correctly at 18s.
	f.fc.Advance(5 * time.Second)
	_, err := f.s.Submit(ctx, alice.Token, "q1", domain.Choice{OptionIDs: []string{"b"}})
	require.NoError(t, err)

	f.fc.Advance(13 * time.Second)
	_, err = f.s.Submit(ctx, bob.Token, "q1", domain.Choice{OptionIDs: []string{"b"}})
	require.NoError(t, err)

	// Everyone connected has answered: the window closes before the timer.
	require.Equal(t, domain.PhaseAnswers, f.phase(t))

	f.exec(t, game.CommandShowResult)
	f.exec(t, game.CommandShowLeaderboard)
	require.Equal(t, domain.PhaseLeaderboard, f.phase(t))

	// Faster correct answer outscores slower; both above zero.
	states := f.rec.byType(game.UpdateGameState)
	require.NotEmpty(t, states)
	var board *game.LeaderboardView
	for _, u := range states {
		if p, ok := u.Payload.(game.StatePayload); ok && p.Leaderboard != nil {
			board = p.Leaderboard
		}
	}
	require.NotNil(t, board)
	require.Len(t, board.Entries, 2)
	assert.Equal(t, "alice", board.Entries[0].Nickname)
	assert.Equal(t, 1, board.Entries[0].Rank)
	assert.Equal(t, "bob", board.Entries[1].Nickname)
	assert.Greater(t, board.Entries[0].Score, board.Entries[1].Score)
	assert.Greater(t, board.Entries[1].Score, 0)

	// Second question: nobody answers, the timer closes the window.
	f.exec(t, game.CommandNextQuestion)
	require.Equal(t, domain.PhaseQuestion, f.phase(t))
	f.awaitTimer(t)

	f.fc.Advance(10 * time.Second)
	require.Eventually(t, func() bool {
		return f.phase(t) == domain.PhaseAnswers
	}, time.Second, 5*time.Millisecond, "timer expiry must close the answering window")

	f.exec(t, game.CommandShowResult)
	f.exec(t, game.CommandShowLeaderboard)

	// Last leaderboard shown: nextQuestion is no longer legal.
	err = f.s.Execute(ctx, game.Command{Type: game.CommandNextQuestion, HostKey: hostKey})
	assert.True(t, errors.Is(err, errors.CodeFailedPrecondition), "got %v", err)

	f.exec(t, game.CommandEndGame)
	require.Equal(t, domain.PhaseFinished, f.phase(t))

	f.eb.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, finished, 1)
	sum := finished[0].Summary
	assert.Equal(t, "s1", sum.SessionID)
	assert.Equal(t, "482913", sum.PIN)
	assert.NotEmpty(t, sum.ShareToken)
	require.Len(t, sum.Results, 2)
	assert.Equal(t, "alice", sum.Results[0].Nickname)
	assert.Equal(t, 1, sum.Results[0].CorrectCount)
	assert.Equal(t, 1, sum.Results[0].AnsweredCount)
	require.Len(t, sum.Questions, 2)
	assert.Equal(t, 2, sum.Questions[0].TotalAnswers)
	assert.Equal(t, 2, sum.Questions[0].CorrectCount)
	assert.Equal(t, 0, sum.Questions[1].TotalAnswers)
	assert.Len(t, sum.Snapshots, 2)
}

func TestSession_DuplicateSubmissionRejected(t *testing.T) {
	ctx := context.Background()
	f := makeSession(t)

	alice := f.join(t, "alice")
	f.join(t, "bob")

	f.exec(t, game.CommandStartGame)
	f.awaitTimer(t)

	f.fc.Advance(2 * time.Second)
	_, err := f.s.Submit(ctx, alice.Token, "q1", domain.Choice{OptionIDs: []string{"b"}})
	require.NoError(t, err)

	f.fc.Advance(2 * time.Second)
	_, err = f.s.Submit(ctx, alice.Token, "q1", domain.Choice{OptionIDs: []string{"a"}})
	assert.True(t, errors.Is(err, errors.CodeAlreadyExists), "got %v", err)

	// The first submission's score stands: second (wrong) answer changed nothing.
	f.exec(t, game.CommandShowAnswers)
	f.exec(t, game.CommandShowResult)

	var own *game.PlayerResultView
	for _, u := range f.rec.byType(game.UpdateGameState) {
		if u.Scope == game.ScopePlayer && u.PlayerID == alice.Player.PlayerID {
			if p, ok := u.Payload.(game.StatePayload); ok && p.YourResult != nil {
				own = p.YourResult
			}
		}
	}
	require.NotNil(t, own)
	assert.True(t, own.Correct)
	assert.Greater(t, own.Points, 0)
}

func TestSession_LateSubmissionRejected(t *testing.T) {
	ctx := context.Background()
	f := makeSession(t)

	alice := f.join(t, "alice")
	bob := f.join(t, "bob")

	f.exec(t, game.CommandStartGame)
	f.awaitTimer(t)

	f.fc.Advance(20 * time.Second)
	require.Eventually(t, func() bool {
		return f.phase(t) == domain.PhaseAnswers
	}, time.Second, 5*time.Millisecond)

	_, err := f.s.Submit(ctx, alice.Token, "q1", domain.Choice{OptionIDs: []string{"b"}})
	assert.True(t, errors.Is(err, errors.CodeFailedPrecondition), "late submission: %v", err)

	_, err = f.s.Submit(ctx, bob.Token, "nope", domain.Choice{OptionIDs: []string{"b"}})
	assert.Error(t, err, "wrong question id")
}

func TestSession_CountdownTicks(t *testing.T) {
	f := makeSession(t)
	f.join(t, "alice")

	f.exec(t, game.CommandStartGame)
	f.awaitTimer(t)

	f.fc.Advance(3 * time.Second)

	require.Eventually(t, func() bool {
		return len(f.rec.byType(game.UpdateCountdownTick)) >= 1
	}, time.Second, 5*time.Millisecond)

	tick := f.rec.byType(game.UpdateCountdownTick)[0]
	payload, ok := tick.Payload.(game.CountdownPayload)
	require.True(t, ok)
	assert.Equal(t, 0, payload.QuestionIndex)
	assert.Greater(t, payload.RemainingMs, int64(0))
}

func TestSession_KickedPlayer(t *testing.T) {
	ctx := context.Background()
	f := makeSession(t)

	alice := f.join(t, "alice")
	bob := f.join(t, "bob")

	f.exec(t, game.CommandStartGame)
	f.awaitTimer(t)

	f.fc.Advance(time.Second)
	_, err := f.s.Submit(ctx, bob.Token, "q1", domain.Choice{OptionIDs: []string{"b"}})
	require.NoError(t, err)

	err = f.s.Execute(ctx, game.Command{Type: game.CommandKickPlayer, HostKey: hostKey, PlayerID: bob.Player.PlayerID})
	require.NoError(t, err)

	// Kicked token can neither submit nor reconnect.
	_, err = f.s.Submit(ctx, bob.Token, "q1", domain.Choice{OptionIDs: []string{"b"}})
	assert.True(t, errors.Is(err, errors.CodePermissionDenied), "got %v", err)
	_, err = f.s.Reconnect(ctx, bob.Token)
	assert.True(t, errors.Is(err, errors.CodePermissionDenied), "got %v", err)

	// Bob's discarded submission does not block or appear anywhere.
	f.fc.Advance(time.Second)
	_, err = f.s.Submit(ctx, alice.Token, "q1", domain.Choice{OptionIDs: []string{"b"}})
	require.NoError(t, err)

	require.Equal(t, domain.PhaseAnswers, f.phase(t), "alice was the last connected player")

	f.exec(t, game.CommandShowResult)
	f.exec(t, game.CommandShowLeaderboard)

	var board *game.LeaderboardView
	for _, u := range f.rec.byType(game.UpdateGameState) {
		if p, ok := u.Payload.(game.StatePayload); ok && p.Leaderboard != nil {
			board = p.Leaderboard
		}
	}
	require.NotNil(t, board)
	require.Len(t, board.Entries, 1)
	assert.Equal(t, "alice", board.Entries[0].Nickname)
}

func TestSession_ReconnectKeepsProgress(t *testing.T) {
	ctx := context.Background()
	f := makeSession(t)

	alice := f.join(t, "alice")
	bob := f.join(t, "bob")

	f.exec(t, game.CommandStartGame)
	f.awaitTimer(t)

	f.fc.Advance(2 * time.Second)
	_, err := f.s.Submit(ctx, alice.Token, "q1", domain.Choice{OptionIDs: []string{"b"}})
	require.NoError(t, err)
	_, err = f.s.Submit(ctx, bob.Token, "q1", domain.Choice{OptionIDs: []string{"a"}})
	require.NoError(t, err)

	f.exec(t, game.CommandShowResult)
	f.exec(t, game.CommandShowLeaderboard)

	f.s.Disconnected(alice.Player.PlayerID)

	ack, err := f.s.Reconnect(ctx, alice.Token)
	require.NoError(t, err)
	assert.Equal(t, alice.Player.PlayerID, ack.Player.PlayerID)
	assert.Greater(t, ack.Player.Score, 0, "score survives reconnection")
	assert.Equal(t, domain.PhaseLeaderboard, ack.State.Phase)
}

func TestSession_DisconnectClosesWindowWhenRestAnswered(t *testing.T) {
	ctx := context.Background()
	f := makeSession(t)

	alice := f.join(t, "alice")
	bob := f.join(t, "bob")

	f.exec(t, game.CommandStartGame)
	f.awaitTimer(t)

	f.fc.Advance(time.Second)
	_, err := f.s.Submit(ctx, alice.Token, "q1", domain.Choice{OptionIDs: []string{"b"}})
	require.NoError(t, err)
	require.Equal(t, domain.PhaseQuestion, f.phase(t), "bob still pending")

	f.s.Disconnected(bob.Player.PlayerID)

	require.Eventually(t, func() bool {
		return f.phase(t) == domain.PhaseAnswers
	}, time.Second, 5*time.Millisecond)
}

func TestSession_EndGameAbortsFromAnyPhase(t *testing.T) {
	f := makeSession(t)
	f.join(t, "alice")

	f.exec(t, game.CommandStartGame)
	require.Equal(t, domain.PhaseQuestion, f.phase(t))

	f.exec(t, game.CommandEndGame)
	assert.Equal(t, domain.PhaseFinished, f.phase(t))

	// Finished sessions accept no further commands.
	err := f.s.Execute(context.Background(), game.Command{Type: game.CommandEndGame, HostKey: hostKey})
	assert.True(t, errors.Is(err, errors.CodeFailedPrecondition), "got %v", err)
}

func TestSession_QuestionIndexMonotonic(t *testing.T) {
	ctx := context.Background()
	f := makeSession(t)
	alice := f.join(t, "alice")

	f.exec(t, game.CommandStartGame)
	f.awaitTimer(t)

	indexes := []int{}
	probe := func() {
		p, err := f.s.GetProbe(ctx)
		require.NoError(t, err)
		_ = p
	}
	probe()

	for _, u := range f.rec.byType(game.UpdateGameState) {
		if p, ok := u.Payload.(game.StatePayload); ok && p.Phase == domain.PhaseQuestion {
			indexes = append(indexes, p.QuestionIndex)
		}
	}

	f.fc.Advance(time.Second)
	_, err := f.s.Submit(ctx, alice.Token, "q1", domain.Choice{OptionIDs: []string{"b"}})
	require.NoError(t, err)
	f.exec(t, game.CommandShowResult)
	f.exec(t, game.CommandShowLeaderboard)
	f.exec(t, game.CommandNextQuestion)

	for _, u := range f.rec.byType(game.UpdateGameState) {
		if p, ok := u.Payload.(game.StatePayload); ok && p.Phase == domain.PhaseQuestion {
			indexes = append(indexes, p.QuestionIndex)
		}
	}

	for i := 1; i < len(indexes); i++ {
		assert.GreaterOrEqual(t, indexes[i], indexes[i-1], "question index never goes backward")
	}
}
