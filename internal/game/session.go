// Package game owns one live quiz run: a server-authoritative state machine
// driven by host commands, answer submissions, timer expiry and connection
// churn. All mutation of a session happens on its single run loop, so two
// players answering at the same instant, or a host double-clicking next,
// can never interleave into an inconsistent state.
package game

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/victornm/qlive/internal/domain"
	"github.com/victornm/qlive/internal/errors"
	"github.com/victornm/qlive/internal/event"
	"github.com/victornm/qlive/internal/ranking"
	"github.com/victornm/qlive/internal/scoring"
)

const (
	maxNicknameLen = 24

	defaultRequestTimeout = 5 * time.Second
	inboxSize             = 256
)

type CommandType string

const (
	CommandStartGame       CommandType = "startGame"
	CommandNextQuestion    CommandType = "nextQuestion"
	CommandShowAnswers     CommandType = "showAnswers"
	CommandShowResult      CommandType = "showResult"
	CommandShowLeaderboard CommandType = "showLeaderboard"
	CommandEndGame         CommandType = "endGame"
	CommandKickPlayer      CommandType = "kickPlayer"
)

// Command is one host-issued control input. HostKey proves the caller is the
// session's authorized host connection.
type Command struct {
	Type     CommandType
	HostKey  string
	PlayerID string // kickPlayer target
}

type Config struct {
	SessionID string
	PIN       string
	HostKey   string
	Quiz      domain.QuizSnapshot

	Clock       clockwork.Clock
	Broadcaster Broadcaster
	EventBus    *event.Bus

	// OnFinished is called once when the session reaches finished. Aborted is
	// true when the host ended the game before the last leaderboard.
	OnFinished func(sessionID string, aborted bool)

	RequestTimeout time.Duration
}

type playerState struct {
	domain.Player
	token           string
	totalAnswerTime time.Duration
}

// Session is one live run of a quiz from lobby to finished.
type Session struct {
	c Config

	inbox     chan envelope
	closed    chan struct{}
	closeOnce sync.Once

	timer *PhaseTimer

	// Everything below is owned by the run loop.
	phase             domain.Phase
	questionIndex     int
	questionStartedAt time.Time
	startedAt         time.Time
	timerGen          uint64

	players     map[string]*playerState // by player ID
	tokens      map[string]string       // reconnect token -> player ID
	kicked      map[string]bool         // kicked player IDs; their tokens are gone
	submissions []map[string]domain.Submission
	snapshots   []domain.RankingSnapshot

	shareToken string
}

type envelope struct {
	fn    func() error
	reply chan<- error
}

func NewSession(c Config) (*Session, error) {
	if c.SessionID == "" || c.PIN == "" || c.HostKey == "" {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("session: id, pin and host key are required"))
	}
	if len(c.Quiz.Questions) == 0 {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("session: quiz snapshot has no questions"))
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}

	s := &Session{
		c:           c,
		inbox:       make(chan envelope, inboxSize),
		closed:      make(chan struct{}),
		timer:       NewPhaseTimer(c.Clock),
		phase:       domain.PhaseLobby,
		questionIndex: -1,
		players:     make(map[string]*playerState),
		tokens:      make(map[string]string),
		kicked:      make(map[string]bool),
		submissions: make([]map[string]domain.Submission, len(c.Quiz.Questions)),
	}

	go s.run()

	return s, nil
}

func (s *Session) ID() string  { return s.c.SessionID }
func (s *Session) PIN() string { return s.c.PIN }

// ValidateHostKey reports whether key is this session's host secret.
func (s *Session) ValidateHostKey(key string) bool {
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.c.HostKey)) == 1
}

func (s *Session) run() {
	for {
		select {
		case <-s.closed:
			return
		case env := <-s.inbox:
			err := env.fn()
			if env.reply != nil {
				env.reply <- err
			}
		}
	}
}

// call runs fn on the session loop and waits for its result.
func (s *Session) call(ctx context.Context, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, s.c.RequestTimeout)
	defer cancel()

	reply := make(chan error, 1)

	select {
	case s.inbox <- envelope{fn: fn, reply: reply}:
	case <-s.closed:
		return errors.New(errors.CodeNotFound, errors.WithMessagef("session %s is gone", s.c.SessionID))
	case <-ctx.Done():
		return errors.New(errors.CodeDeadlineExceeded, errors.WithCause(ctx.Err()))
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return errors.New(errors.CodeDeadlineExceeded, errors.WithCause(ctx.Err()))
	}
}

// post queues fn on the session loop without waiting. Used for events that
// have no caller to answer: timer fires, disconnect notifications.
func (s *Session) post(fn func() error) {
	select {
	case s.inbox <- envelope{fn: fn}:
	case <-s.closed:
	}
}

// Close tears the session down: the phase timer is cancelled and the run
// loop stops. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.timer.Cancel()
		close(s.closed)
	})
}

// ---- join / reconnect / disconnect ----

// JoinAck is the synchronous answer to a successful join or reconnect.
type JoinAck struct {
	Player domain.Player
	Token  string
	State  StatePayload
}

// Join admits a new player. The nickname must be non-empty, at most 24 runes
// and unused by any currently connected player. Joining mid-game is allowed;
// the player starts scoreless in the current phase.
func (s *Session) Join(ctx context.Context, nickname string) (JoinAck, error) {
	var ack JoinAck
	err := s.call(ctx, func() error {
		if s.phase == domain.PhaseFinished {
			return errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("session %s is finished", s.c.SessionID))
		}

		nickname = strings.TrimSpace(nickname)
		if nickname == "" || utf8.RuneCountInString(nickname) > maxNicknameLen {
			return errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("nickname must be 1-%d characters", maxNicknameLen))
		}
		for _, p := range s.players {
			if p.Connected && strings.EqualFold(p.Nickname, nickname) {
				return errors.New(errors.CodeAlreadyExists,
					errors.WithMessagef("nickname %q is already taken", nickname))
			}
		}

		id, err := uuid.NewV7()
		if err != nil {
			return errors.Internal(fmt.Errorf("generate player ID: %w", err))
		}

		p := &playerState{
			Player: domain.Player{
				PlayerID:  id.String(),
				SessionID: s.c.SessionID,
				Nickname:  nickname,
				Connected: true,
				JoinedAt:  s.c.Clock.Now(),
			},
			token: uuid.NewString(),
		}
		s.players[p.PlayerID] = p
		s.tokens[p.token] = p.PlayerID

		ack = JoinAck{Player: p.Player, Token: p.token, State: s.stateFor(p.PlayerID)}

		s.deliver(Update{Scope: ScopeAll, Type: UpdatePlayerJoined, Payload: RosterChangePayload{
			PlayerID: p.PlayerID,
			Nickname: p.Nickname,
			Roster:   s.roster(),
		}})

		slog.InfoContext(ctx, "session: player joined",
			"session", s.c.SessionID, "player", p.PlayerID, "nickname", nickname)
		return nil
	})
	return ack, err
}

// Reconnect restores a dropped player by token. Identity, score and history
// survive; only kicked tokens are refused.
func (s *Session) Reconnect(ctx context.Context, token string) (JoinAck, error) {
	var ack JoinAck
	err := s.call(ctx, func() error {
		p, err := s.playerByToken(token)
		if err != nil {
			return err
		}
		if s.phase == domain.PhaseFinished {
			return errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("session %s is finished", s.c.SessionID))
		}

		p.Connected = true
		ack = JoinAck{Player: p.Player, Token: p.token, State: s.stateFor(p.PlayerID)}

		s.deliver(Update{Scope: ScopeAll, Type: UpdatePlayerJoined, Payload: RosterChangePayload{
			PlayerID: p.PlayerID,
			Nickname: p.Nickname,
			Roster:   s.roster(),
		}})

		slog.InfoContext(ctx, "session: player reconnected",
			"session", s.c.SessionID, "player", p.PlayerID)
		return nil
	})
	return ack, err
}

// Disconnected marks a player's socket as lost. The player record survives
// for reconnection. If every remaining connected player has already answered
// the current question, the answering window closes immediately.
func (s *Session) Disconnected(playerID string) {
	s.post(func() error {
		p, ok := s.players[playerID]
		if !ok {
			return nil
		}
		p.Connected = false

		s.deliver(Update{Scope: ScopeAll, Type: UpdatePlayerLeft, Payload: RosterChangePayload{
			PlayerID: p.PlayerID,
			Nickname: p.Nickname,
			Roster:   s.roster(),
		}})

		if s.phase == domain.PhaseQuestion && s.allConnectedAnswered() {
			s.lockAnswers()
		}
		return nil
	})
}

// ---- answer submission ----

type SubmitAck struct {
	QuestionID string
	ReceivedAt time.Time
}

// Submit accepts a player's answer for the session's current question.
// Elapsed time is measured on the server clock from question entry to
// receipt; nothing the client reports about timing is trusted.
func (s *Session) Submit(ctx context.Context, token, questionID string, choice domain.Choice) (SubmitAck, error) {
	var ack SubmitAck
	err := s.call(ctx, func() error {
		p, err := s.playerByToken(token)
		if err != nil {
			return err
		}

		if s.phase != domain.PhaseQuestion {
			return errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("submissions are locked in phase %s", s.phase))
		}

		q := s.c.Quiz.Questions[s.questionIndex]
		if questionID != q.QuestionID {
			return errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("question %s is not the current question", questionID))
		}

		if _, dup := s.submissions[s.questionIndex][p.PlayerID]; dup {
			return errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("answer already submitted: player=%s question=%s", p.PlayerID, questionID))
		}

		if !scoring.ValidateChoice(q, choice) {
			return errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("malformed choice for question %s", questionID))
		}

		now := s.c.Clock.Now()
		elapsed := now.Sub(s.questionStartedAt)
		points, correct := scoring.Score(q, choice, elapsed)

		if s.submissions[s.questionIndex] == nil {
			s.submissions[s.questionIndex] = make(map[string]domain.Submission)
		}
		s.submissions[s.questionIndex][p.PlayerID] = domain.Submission{
			QuestionID: questionID,
			PlayerID:   p.PlayerID,
			Choice:     choice,
			ReceivedAt: now,
			Elapsed:    elapsed,
			Points:     points,
			Correct:    correct,
		}
		p.totalAnswerTime += elapsed

		ack = SubmitAck{QuestionID: questionID, ReceivedAt: now}

		if s.allConnectedAnswered() {
			s.lockAnswers()
		}
		return nil
	})
	return ack, err
}

// ---- host commands ----

// Execute applies a host control command. Only the holder of the session's
// host key may issue commands; a wrong-phase command is rejected without any
// state change.
func (s *Session) Execute(ctx context.Context, cmd Command) error {
	return s.call(ctx, func() error {
		if !s.ValidateHostKey(cmd.HostKey) {
			return errors.New(errors.CodePermissionDenied,
				errors.WithMessagef("control commands require the host connection"))
		}

		switch cmd.Type {
		case CommandStartGame:
			return s.start()
		case CommandShowAnswers:
			return s.showAnswers()
		case CommandShowResult:
			return s.showResult()
		case CommandShowLeaderboard:
			return s.showLeaderboard()
		case CommandNextQuestion:
			return s.nextQuestion()
		case CommandEndGame:
			return s.endGame()
		case CommandKickPlayer:
			return s.kick(cmd.PlayerID)
		}

		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("unknown command %q", cmd.Type))
	})
}

func (s *Session) start() error {
	if s.phase != domain.PhaseLobby {
		return s.wrongPhase(CommandStartGame)
	}
	if s.connectedPlayerCount() == 0 {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("cannot start with no connected players"))
	}

	s.startedAt = s.c.Clock.Now()
	s.phase = domain.PhaseStarting
	s.broadcastState()

	// starting is momentary: the first question follows immediately.
	s.enterQuestion(0)
	return nil
}

func (s *Session) enterQuestion(idx int) {
	s.phase = domain.PhaseQuestion
	s.questionIndex = idx
	s.questionStartedAt = s.c.Clock.Now()
	if s.submissions[idx] == nil {
		s.submissions[idx] = make(map[string]domain.Submission)
	}

	s.timerGen++
	gen := s.timerGen
	q := s.c.Quiz.Questions[idx]

	s.broadcastState()

	s.timer.Start(q.TimeLimit,
		func(remaining time.Duration) {
			s.post(func() error {
				if gen != s.timerGen || s.phase != domain.PhaseQuestion {
					return nil
				}
				s.deliver(Update{Scope: ScopeAll, Type: UpdateCountdownTick, Payload: CountdownPayload{
					QuestionIndex: s.questionIndex,
					RemainingMs:   remaining.Milliseconds(),
				}})
				return nil
			})
		},
		func() {
			s.post(func() error {
				// A stale fire from a cancelled countdown must never close a
				// later question's window.
				if gen != s.timerGen || s.phase != domain.PhaseQuestion {
					return nil
				}
				s.lockAnswers()
				return nil
			})
		},
	)

	slog.Info("session: question started",
		"session", s.c.SessionID, "question", q.QuestionID, "index", idx)
}

// lockAnswers moves question -> answers: the timer is cancelled and no
// further submissions are accepted for this question.
func (s *Session) lockAnswers() {
	s.timer.Cancel()
	s.timerGen++
	s.phase = domain.PhaseAnswers
	s.broadcastState()
}

func (s *Session) showAnswers() error {
	if s.phase != domain.PhaseQuestion {
		return s.wrongPhase(CommandShowAnswers)
	}
	s.lockAnswers()
	return nil
}

func (s *Session) showResult() error {
	if s.phase != domain.PhaseAnswers {
		return s.wrongPhase(CommandShowResult)
	}

	s.phase = domain.PhaseResult

	// Scores change only here, by the non-negative points of the revealed
	// question, so cumulative scores are monotonically non-decreasing.
	for id, sub := range s.submissions[s.questionIndex] {
		if p, ok := s.players[id]; ok {
			p.Score += sub.Points
		}
	}

	q := s.c.Quiz.Questions[s.questionIndex]
	stats := ranking.QuestionStats(q, s.questionIndex, s.currentSubmissions())
	result := &ResultView{
		QuestionID:       q.QuestionID,
		CorrectOptionIDs: q.CorrectOptionIDs,
		CorrectCount:     stats.CorrectCount,
		TotalAnswers:     stats.TotalAnswers,
		OptionCounts:     stats.OptionCounts,
	}

	presenter := s.baseState()
	presenter.Result = result
	s.deliver(Update{Scope: ScopePresenter, Type: UpdateGameState, Payload: presenter})

	for id := range s.players {
		state := s.baseState()
		state.YourResult = s.playerResultView(id)
		s.deliver(Update{Scope: ScopePlayer, PlayerID: id, Type: UpdateGameState, Payload: state})
	}

	return nil
}

func (s *Session) showLeaderboard() error {
	if s.phase != domain.PhaseResult {
		return s.wrongPhase(CommandShowLeaderboard)
	}

	s.phase = domain.PhaseLeaderboard

	snap := ranking.Snapshot(s.questionIndex, s.standings(), s.c.Clock.Now())
	s.snapshots = append(s.snapshots, snap)

	state := s.baseState()
	state.Leaderboard = &LeaderboardView{
		QuestionIndex: snap.QuestionIndex,
		Entries:       snap.Entries,
		Final:         s.questionIndex == len(s.c.Quiz.Questions)-1,
	}
	s.deliver(Update{Scope: ScopeAll, Type: UpdateGameState, Payload: state})

	if s.c.EventBus != nil {
		s.c.EventBus.Publish(context.Background(), domain.EventLeaderboardUpdated{
			SessionID: s.c.SessionID,
			Snapshot:  snap,
		})
	}

	return nil
}

func (s *Session) nextQuestion() error {
	if s.phase != domain.PhaseLeaderboard {
		return s.wrongPhase(CommandNextQuestion)
	}
	if s.questionIndex+1 >= len(s.c.Quiz.Questions) {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("no questions remain; end the game instead"))
	}

	s.enterQuestion(s.questionIndex + 1)
	return nil
}

// endGame is valid from any non-finished state as the abort path, and is the
// only legal exit from the last question's leaderboard.
func (s *Session) endGame() error {
	if s.phase == domain.PhaseFinished {
		return s.wrongPhase(CommandEndGame)
	}

	aborted := !(s.phase == domain.PhaseLeaderboard && s.questionIndex == len(s.c.Quiz.Questions)-1)

	s.timer.Cancel()
	s.timerGen++
	s.phase = domain.PhaseFinished
	s.shareToken = uuid.NewString()

	summary := s.buildSummary()

	state := s.baseState()
	state.Leaderboard = &LeaderboardView{
		QuestionIndex: s.questionIndex,
		Entries:       ranking.Rank(s.standings()),
		Final:         true,
	}
	state.ShareToken = s.shareToken
	s.deliver(Update{Scope: ScopeAll, Type: UpdateGameState, Payload: state})

	if s.c.EventBus != nil {
		s.c.EventBus.Publish(context.Background(), domain.EventSessionFinished{Summary: summary})
	}

	if s.c.OnFinished != nil {
		s.c.OnFinished(s.c.SessionID, aborted)
	}

	slog.Info("session: finished",
		"session", s.c.SessionID, "aborted", aborted, "players", len(s.players))
	return nil
}

// kick permanently removes a player: the roster entry, the reconnect token
// and every accepted submission are gone, so the player appears in no future
// leaderboard computation and cannot rejoin.
func (s *Session) kick(playerID string) error {
	if s.phase == domain.PhaseFinished {
		return s.wrongPhase(CommandKickPlayer)
	}

	p, ok := s.players[playerID]
	if !ok {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("player %s not in session", playerID))
	}

	delete(s.players, playerID)
	delete(s.tokens, p.token)
	s.kicked[playerID] = true
	for _, subs := range s.submissions {
		delete(subs, playerID)
	}

	s.deliver(Update{Scope: ScopePlayer, PlayerID: playerID, Type: UpdateKicked, Payload: KickedPayload{
		Reason: "removed by the host",
	}})
	s.deliver(Update{Scope: ScopeAll, Type: UpdatePlayerLeft, Payload: RosterChangePayload{
		PlayerID: playerID,
		Nickname: p.Nickname,
		Roster:   s.roster(),
	}})

	if s.c.EventBus != nil {
		s.c.EventBus.Publish(context.Background(), domain.EventPlayerKicked{
			SessionID: s.c.SessionID,
			PlayerID:  playerID,
			Nickname:  p.Nickname,
		})
	}

	if s.phase == domain.PhaseQuestion && s.allConnectedAnswered() {
		s.lockAnswers()
	}
	return nil
}

// ---- probes ----

// Probe is the read-only view served to the REST lobby endpoint.
type Probe struct {
	SessionID   string
	PIN         string
	Phase       domain.Phase
	QuizTitle   string
	PlayerCount int
}

func (s *Session) GetProbe(ctx context.Context) (Probe, error) {
	var p Probe
	err := s.call(ctx, func() error {
		p = Probe{
			SessionID:   s.c.SessionID,
			PIN:         s.c.PIN,
			Phase:       s.phase,
			QuizTitle:   s.c.Quiz.Title,
			PlayerCount: s.connectedPlayerCount(),
		}
		return nil
	})
	return p, err
}

// State returns the presenter view of the current state. The gateway serves
// it as the first frame to a freshly attached host or display connection.
func (s *Session) State(ctx context.Context) (StatePayload, error) {
	var state StatePayload
	err := s.call(ctx, func() error {
		state = s.baseState()
		if s.phase == domain.PhaseLeaderboard && len(s.snapshots) > 0 {
			snap := s.snapshots[len(s.snapshots)-1]
			state.Leaderboard = &LeaderboardView{
				QuestionIndex: snap.QuestionIndex,
				Entries:       snap.Entries,
				Final:         s.questionIndex == len(s.c.Quiz.Questions)-1,
			}
		}
		return nil
	})
	return state, err
}

// Idle reports whether no client is connected: used by the registry's sweep
// of abandoned lobbies.
func (s *Session) Idle(ctx context.Context) (bool, error) {
	var idle bool
	err := s.call(ctx, func() error {
		idle = s.phase == domain.PhaseLobby && s.connectedPlayerCount() == 0
		return nil
	})
	return idle, err
}

// ---- loop-internal helpers ----

func (s *Session) wrongPhase(cmd CommandType) error {
	return errors.New(errors.CodeFailedPrecondition,
		errors.WithMessagef("command %s is not valid in phase %s", cmd, s.phase))
}

func (s *Session) playerByToken(token string) (*playerState, error) {
	id, ok := s.tokens[token]
	if !ok {
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("unknown or revoked player token"))
	}
	p, ok := s.players[id]
	if !ok || s.kicked[id] {
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("unknown or revoked player token"))
	}
	return p, nil
}

func (s *Session) connectedPlayerCount() int {
	n := 0
	for _, p := range s.players {
		if p.Connected {
			n++
		}
	}
	return n
}

func (s *Session) allConnectedAnswered() bool {
	connected := 0
	for id, p := range s.players {
		if !p.Connected {
			continue
		}
		connected++
		if _, ok := s.submissions[s.questionIndex][id]; !ok {
			return false
		}
	}
	return connected > 0
}

func (s *Session) currentSubmissions() []domain.Submission {
	subs := make([]domain.Submission, 0, len(s.submissions[s.questionIndex]))
	for _, sub := range s.submissions[s.questionIndex] {
		subs = append(subs, sub)
	}
	return subs
}

func (s *Session) standings() []ranking.Standing {
	standings := make([]ranking.Standing, 0, len(s.players))
	for _, p := range s.players {
		standings = append(standings, ranking.Standing{
			PlayerID:        p.PlayerID,
			Nickname:        p.Nickname,
			Score:           p.Score,
			TotalAnswerTime: p.totalAnswerTime,
		})
	}
	return standings
}

func (s *Session) roster() []RosterEntry {
	roster := make([]RosterEntry, 0, len(s.players))
	for _, p := range s.players {
		roster = append(roster, RosterEntry{
			PlayerID:  p.PlayerID,
			Nickname:  p.Nickname,
			Connected: p.Connected,
			Score:     p.Score,
		})
	}
	return roster
}

func (s *Session) baseState() StatePayload {
	state := StatePayload{
		SessionID:     s.c.SessionID,
		Phase:         s.phase,
		QuestionIndex: s.questionIndex,
		QuestionCount: len(s.c.Quiz.Questions),
		Roster:        s.roster(),
	}

	if s.phase == domain.PhaseQuestion || s.phase == domain.PhaseAnswers {
		q := s.c.Quiz.Questions[s.questionIndex]
		state.Question = &QuestionView{
			QuestionID:  q.QuestionID,
			Index:       s.questionIndex,
			Text:        q.Text,
			Type:        string(q.Type),
			Options:     q.Options,
			TimeLimitMs: q.TimeLimit.Milliseconds(),
		}
	}

	return state
}

// stateFor builds a joining or reconnecting player's first view of the
// session, scoped the same way live broadcasts are.
func (s *Session) stateFor(playerID string) StatePayload {
	state := s.baseState()
	if s.phase == domain.PhaseResult {
		state.YourResult = s.playerResultView(playerID)
	}
	return state
}

func (s *Session) playerResultView(playerID string) *PlayerResultView {
	p, ok := s.players[playerID]
	if !ok {
		return nil
	}

	q := s.c.Quiz.Questions[s.questionIndex]
	view := &PlayerResultView{
		QuestionID: q.QuestionID,
		TotalScore: p.Score,
	}
	if sub, ok := s.submissions[s.questionIndex][playerID]; ok {
		view.Answered = true
		view.Correct = sub.Correct
		view.Points = sub.Points
	}
	return view
}

func (s *Session) broadcastState() {
	s.deliver(Update{Scope: ScopeAll, Type: UpdateGameState, Payload: s.baseState()})
}

func (s *Session) deliver(u Update) {
	if s.c.Broadcaster != nil {
		s.c.Broadcaster.Deliver(s.c.SessionID, u)
	}
}

func (s *Session) buildSummary() domain.Summary {
	subsByPlayer := make(map[string][]domain.Submission, len(s.players))
	for _, subs := range s.submissions {
		for id, sub := range subs {
			subsByPlayer[id] = append(subsByPlayer[id], sub)
		}
	}

	questions := make([]domain.QuestionStats, 0, s.questionIndex+1)
	for i := 0; i <= s.questionIndex && i < len(s.c.Quiz.Questions); i++ {
		subs := make([]domain.Submission, 0, len(s.submissions[i]))
		for _, sub := range s.submissions[i] {
			subs = append(subs, sub)
		}
		questions = append(questions, ranking.QuestionStats(s.c.Quiz.Questions[i], i, subs))
	}

	snapshots := make([]domain.RankingSnapshot, len(s.snapshots))
	copy(snapshots, s.snapshots)

	return domain.Summary{
		SessionID:  s.c.SessionID,
		QuizID:     s.c.Quiz.QuizID,
		QuizTitle:  s.c.Quiz.Title,
		PIN:        s.c.PIN,
		StartedAt:  s.startedAt,
		FinishedAt: s.c.Clock.Now(),
		ShareToken: s.shareToken,
		Results:    ranking.PlayerResults(s.standings(), subsByPlayer),
		Questions:  questions,
		Snapshots:  snapshots,
	}
}
