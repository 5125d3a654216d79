// Package history persists finished sessions to Postgres and serves them
// back for the history and shared-result endpoints. It hangs off the event
// bus: the live engine never waits for a database write, and a failed write
// never rolls back in-memory state.
package history

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/qlive/internal/domain"
	"github.com/victornm/qlive/internal/errors"
	"github.com/victornm/qlive/internal/event"
)

const (
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 2 * time.Second
)

type Config struct {
	EventBus *event.Bus
	DB       *pgxpool.Pool

	// MaxAttempts bounds retries of a failed summary write.
	MaxAttempts  int
	RetryBackoff time.Duration
}

type Service struct {
	db       *pgxpool.Pool
	attempts int
	backoff  time.Duration
}

func NewService(c Config) *Service {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}

	s := &Service{
		db:       c.DB,
		attempts: c.MaxAttempts,
		backoff:  c.RetryBackoff,
	}

	if c.EventBus != nil {
		c.EventBus.Subscribe(domain.EventNameSessionFinished, func(ctx context.Context, e event.Event) error {
			return s.onSessionFinished(ctx, e.(domain.EventSessionFinished))
		})
	}

	return s
}

func (s *Service) onSessionFinished(ctx context.Context, e domain.EventSessionFinished) error {
	var err error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if err = s.SaveSummary(ctx, e.Summary); err == nil {
			return nil
		}

		slog.WarnContext(ctx, "history: save summary failed",
			"session", e.Summary.SessionID, "attempt", attempt, "err", err)

		if attempt < s.attempts {
			select {
			case <-ctx.Done():
				return stderrors.Join(err, ctx.Err())
			case <-time.After(s.backoff):
			}
		}
	}
	return err
}

// SaveSummary writes one finished session in a single transaction. A replay
// of an already-saved session is treated as success.
func (s *Service) SaveSummary(ctx context.Context, sum domain.Summary) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const insSessionStmt = `
INSERT INTO sessions (session_id, quiz_id, quiz_title, pin, share_token, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);`

	_, err = tx.Exec(ctx, insSessionStmt,
		sum.SessionID, sum.QuizID, sum.QuizTitle, sum.PIN, sum.ShareToken, sum.StartedAt, sum.FinishedAt)

	var pgErr *pgconn.PgError
	const codeUniqueViolation = "23505"
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		err = tx.Rollback(ctx)
		return err
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	const insResultStmt = `
INSERT INTO player_results (session_id, player_id, nickname, score, rank, correct_count, answered_count, avg_answer_time_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`

	for _, r := range sum.Results {
		_, err = tx.Exec(ctx, insResultStmt,
			sum.SessionID, r.PlayerID, r.Nickname, r.Score, r.Rank,
			r.CorrectCount, r.AnsweredCount, r.AvgAnswerTime)
		if err != nil {
			return fmt.Errorf("insert player result: %w", err)
		}
	}

	const insStatsStmt = `
INSERT INTO question_stats (session_id, question_id, question_index, correct_count, total_answers, avg_answer_time_ms, option_counts)
VALUES ($1, $2, $3, $4, $5, $6, $7);`

	for _, q := range sum.Questions {
		counts, merr := json.Marshal(q.OptionCounts)
		if merr != nil {
			err = fmt.Errorf("marshal option counts: %w", merr)
			return err
		}
		_, err = tx.Exec(ctx, insStatsStmt,
			sum.SessionID, q.QuestionID, q.QuestionIndex, q.CorrectCount,
			q.TotalAnswers, q.AvgAnswerTime, counts)
		if err != nil {
			return fmt.Errorf("insert question stats: %w", err)
		}
	}

	const insSnapshotStmt = `
INSERT INTO ranking_snapshots (session_id, question_index, taken_at, entries)
VALUES ($1, $2, $3, $4);`

	for _, snap := range sum.Snapshots {
		entries, merr := json.Marshal(snap.Entries)
		if merr != nil {
			err = fmt.Errorf("marshal snapshot entries: %w", merr)
			return err
		}
		_, err = tx.Exec(ctx, insSnapshotStmt,
			sum.SessionID, snap.QuestionIndex, snap.TakenAt, entries)
		if err != nil {
			return fmt.Errorf("insert ranking snapshot: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetSummary loads a persisted session by ID.
func (s *Service) GetSummary(ctx context.Context, sessionID string) (*domain.Summary, error) {
	const sessionStmt = `
SELECT session_id, quiz_id, quiz_title, pin, share_token, started_at, finished_at
FROM sessions WHERE session_id = $1;`

	var sum domain.Summary
	err := s.db.QueryRow(ctx, sessionStmt, sessionID).Scan(
		&sum.SessionID, &sum.QuizID, &sum.QuizTitle, &sum.PIN,
		&sum.ShareToken, &sum.StartedAt, &sum.FinishedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no history for session %s", sessionID))
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}

	if sum.Results, err = s.listResults(ctx, sessionID); err != nil {
		return nil, err
	}
	if sum.Questions, err = s.listQuestionStats(ctx, sessionID); err != nil {
		return nil, err
	}
	if sum.Snapshots, err = s.listSnapshots(ctx, sessionID); err != nil {
		return nil, err
	}

	return &sum, nil
}

// GetByShareToken loads a persisted session through its public share token.
func (s *Service) GetByShareToken(ctx context.Context, token string) (*domain.Summary, error) {
	const stmt = `SELECT session_id FROM sessions WHERE share_token = $1;`

	var sessionID string
	err := s.db.QueryRow(ctx, stmt, token).Scan(&sessionID)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no shared result for this token"))
	}
	if err != nil {
		return nil, fmt.Errorf("select share token: %w", err)
	}

	return s.GetSummary(ctx, sessionID)
}

func (s *Service) listResults(ctx context.Context, sessionID string) ([]domain.PlayerResult, error) {
	const stmt = `
SELECT player_id, nickname, score, rank, correct_count, answered_count, avg_answer_time_ms
FROM player_results WHERE session_id = $1 ORDER BY rank, nickname;`

	rows, err := s.db.Query(ctx, stmt, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select player results: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.PlayerResult, error) {
		var pr domain.PlayerResult
		err := r.Scan(&pr.PlayerID, &pr.Nickname, &pr.Score, &pr.Rank,
			&pr.CorrectCount, &pr.AnsweredCount, &pr.AvgAnswerTime)
		return pr, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect player results: %w", err)
	}
	return results, nil
}

func (s *Service) listQuestionStats(ctx context.Context, sessionID string) ([]domain.QuestionStats, error) {
	const stmt = `
SELECT question_id, question_index, correct_count, total_answers, avg_answer_time_ms, option_counts
FROM question_stats WHERE session_id = $1 ORDER BY question_index;`

	rows, err := s.db.Query(ctx, stmt, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select question stats: %w", err)
	}

	stats, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.QuestionStats, error) {
		var (
			qs     domain.QuestionStats
			counts []byte
		)
		if err := r.Scan(&qs.QuestionID, &qs.QuestionIndex, &qs.CorrectCount,
			&qs.TotalAnswers, &qs.AvgAnswerTime, &counts); err != nil {
			return qs, err
		}
		if err := json.Unmarshal(counts, &qs.OptionCounts); err != nil {
			return qs, fmt.Errorf("unmarshal option counts: %w", err)
		}
		return qs, nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect question stats: %w", err)
	}
	return stats, nil
}

func (s *Service) listSnapshots(ctx context.Context, sessionID string) ([]domain.RankingSnapshot, error) {
	const stmt = `
SELECT question_index, taken_at, entries
FROM ranking_snapshots WHERE session_id = $1 ORDER BY question_index;`

	rows, err := s.db.Query(ctx, stmt, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select ranking snapshots: %w", err)
	}

	snaps, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.RankingSnapshot, error) {
		var (
			snap    domain.RankingSnapshot
			entries []byte
		)
		if err := r.Scan(&snap.QuestionIndex, &snap.TakenAt, &entries); err != nil {
			return snap, err
		}
		if err := json.Unmarshal(entries, &snap.Entries); err != nil {
			return snap, fmt.Errorf("unmarshal snapshot entries: %w", err)
		}
		return snap, nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect ranking snapshots: %w", err)
	}
	return snaps, nil
}
