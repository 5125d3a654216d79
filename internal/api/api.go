// Package api is the HTTP boundary: session creation and lobby probes for
// quiz tooling, history and shared-result reads, and the websocket route
// into the gateway.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"

	"github.com/victornm/qlive/internal/domain"
	"github.com/victornm/qlive/internal/errors"
	"github.com/victornm/qlive/internal/event"
	"github.com/victornm/qlive/internal/gateway"
	"github.com/victornm/qlive/internal/history"
	"github.com/victornm/qlive/internal/registry"
)

type Config struct {
	Router   *gin.Engine
	EventBus *event.Bus

	Registry *registry.Registry
	History  *history.Service
	Gateway  *gateway.Gateway

	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	reg  *registry.Registry
	hist *history.Service
	gw   *gateway.Gateway

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		reg:    c.Registry,
		hist:   c.History,
		gw:     c.Gateway,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
	}

	v1 := c.Router.Group("/v1")
	v1.POST("/sessions", a.CreateSession)
	v1.GET("/sessions/:pin", a.GetSession)
	v1.GET("/sessions/:pin/ws", a.Attach)
	v1.GET("/history/:sessionID", a.GetHistory)
	v1.GET("/results/:shareToken", a.GetSharedResult)

	c.Router.GET("/healthz", func(gc *gin.Context) {
		gc.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Register event handlers
	if c.EventBus != nil && c.Redis != nil {
		c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
			return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
		})
		c.EventBus.Subscribe(domain.EventNameSessionFinished, func(ctx context.Context, e event.Event) error {
			return a.PublishSessionFinished(ctx, e.(domain.EventSessionFinished))
		})
	}

	return a
}

type (
	CreateSessionRequest struct {
		Quiz Quiz `json:"quiz" binding:"required"`
	}

	Quiz struct {
		QuizID    string     `json:"quiz_id"`
		Title     string     `json:"title" binding:"required"`
		Questions []Question `json:"questions" binding:"required"`
	}

	Question struct {
		QuestionID       string   `json:"question_id"`
		Text             string   `json:"text" binding:"required"`
		Type             string   `json:"type" binding:"required"`
		Options          []Option `json:"options"`
		CorrectOptionIDs []string `json:"correct_option_ids"`
		TimeLimitMs      int64    `json:"time_limit_ms"`
		BasePoints       int      `json:"base_points"`
		MinFactor        float64  `json:"min_factor"`
	}

	Option struct {
		OptionID string `json:"option_id"`
		Text     string `json:"text"`
	}

	CreateSessionResponse struct {
		SessionID string `json:"session_id"`
		PIN       string `json:"pin"`
		HostKey   string `json:"host_key"`
	}
)

// CreateSession takes a quiz snapshot and spins up a live session with a
// fresh PIN. The host key in the response is the caller's secret; it is
// never broadcast.
func (a *API) CreateSession(gc *gin.Context) {
	var req CreateSessionRequest
	if err := gc.ShouldBindJSON(&req); err != nil {
		renderError(gc, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("%v", err)))
		return
	}

	quiz, err := parseQuiz(req.Quiz)
	if err != nil {
		renderError(gc, err)
		return
	}

	created, err := a.reg.Create(gc.Request.Context(), quiz)
	if err != nil {
		renderError(gc, err)
		return
	}

	gc.JSON(http.StatusCreated, CreateSessionResponse{
		SessionID: created.SessionID,
		PIN:       created.PIN,
		HostKey:   created.HostKey,
	})
}

type SessionProbe struct {
	SessionID   string `json:"session_id"`
	PIN         string `json:"pin"`
	Phase       string `json:"phase"`
	QuizTitle   string `json:"quiz_title"`
	PlayerCount int    `json:"player_count"`
}

// GetSession is the pre-join probe: it tells a client whether the PIN is
// live and joinable without opening a socket.
func (a *API) GetSession(gc *gin.Context) {
	sess, err := a.reg.Lookup(gc.Param("pin"))
	if err != nil {
		renderError(gc, err)
		return
	}

	probe, err := sess.GetProbe(gc.Request.Context())
	if err != nil {
		renderError(gc, err)
		return
	}

	gc.JSON(http.StatusOK, SessionProbe{
		SessionID:   probe.SessionID,
		PIN:         probe.PIN,
		Phase:       string(probe.Phase),
		QuizTitle:   probe.QuizTitle,
		PlayerCount: probe.PlayerCount,
	})
}

// Attach upgrades to websocket and hands the connection to the gateway.
func (a *API) Attach(gc *gin.Context) {
	a.gw.Handle(gc.Writer, gc.Request, gc.Param("pin"))
}

func (a *API) GetHistory(gc *gin.Context) {
	sum, err := a.hist.GetSummary(gc.Request.Context(), gc.Param("sessionID"))
	if err != nil {
		renderError(gc, err)
		return
	}

	gc.JSON(http.StatusOK, newSummaryView(sum))
}

func (a *API) GetSharedResult(gc *gin.Context) {
	sum, err := a.hist.GetByShareToken(gc.Request.Context(), gc.Param("shareToken"))
	if err != nil {
		renderError(gc, err)
		return
	}

	gc.JSON(http.StatusOK, newSummaryView(sum))
}

func renderError(gc *gin.Context, err error) {
	e := errors.Convert(err)
	gc.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{
		"error": gin.H{
			"code":    codes.Code(e.Code).String(),
			"message": e.Message,
		},
	})
}

var questionTypes = map[string]domain.QuestionType{
	string(domain.QuestionSingleChoice): domain.QuestionSingleChoice,
	string(domain.QuestionTrueFalse):    domain.QuestionTrueFalse,
	string(domain.QuestionMultiSelect):  domain.QuestionMultiSelect,
	string(domain.QuestionOrdering):     domain.QuestionOrdering,
}

// parseQuiz validates the request quiz and freezes it into the immutable
// snapshot a session runs on.
func parseQuiz(q Quiz) (domain.QuizSnapshot, error) {
	snap := domain.QuizSnapshot{
		QuizID: q.QuizID,
		Title:  q.Title,
	}
	if snap.QuizID == "" {
		snap.QuizID = uuid.NewString()
	}
	if len(q.Questions) == 0 {
		return snap, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("quiz needs at least one question"))
	}

	for i, in := range q.Questions {
		qt, ok := questionTypes[in.Type]
		if !ok {
			return snap, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("question %d: unknown type %q", i, in.Type))
		}
		if len(in.Options) < 2 {
			return snap, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("question %d: needs at least two options", i))
		}
		if in.TimeLimitMs <= 0 {
			return snap, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("question %d: time limit must be positive", i))
		}
		if in.BasePoints <= 0 {
			return snap, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("question %d: base points must be positive", i))
		}
		if in.MinFactor < 0 || in.MinFactor > 1 {
			return snap, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("question %d: min factor must be within [0, 1]", i))
		}

		known := make(map[string]bool, len(in.Options))
		options := make([]domain.Option, 0, len(in.Options))
		for _, o := range in.Options {
			if o.OptionID == "" {
				o.OptionID = uuid.NewString()
			}
			if known[o.OptionID] {
				return snap, errors.New(errors.CodeInvalidArgument,
					errors.WithMessagef("question %d: duplicate option %q", i, o.OptionID))
			}
			known[o.OptionID] = true
			options = append(options, domain.Option{OptionID: o.OptionID, Text: o.Text})
		}

		if err := checkCorrectSet(qt, in.CorrectOptionIDs, known); err != nil {
			return snap, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("question %d: %v", i, err))
		}

		out := domain.QuestionSnapshot{
			QuestionID:       in.QuestionID,
			Text:             in.Text,
			Type:             qt,
			Options:          options,
			CorrectOptionIDs: in.CorrectOptionIDs,
			TimeLimit:        millis(in.TimeLimitMs),
			BasePoints:       in.BasePoints,
		}
		if out.QuestionID == "" {
			out.QuestionID = uuid.NewString()
		}
		if in.MinFactor > 0 {
			out.MinFactor = decimal.NewFromFloat(in.MinFactor)
		}
		snap.Questions = append(snap.Questions, out)
	}

	return snap, nil
}

func millis(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }

func checkCorrectSet(qt domain.QuestionType, correct []string, options map[string]bool) error {
	seen := make(map[string]bool, len(correct))
	for _, id := range correct {
		if !options[id] {
			return errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("correct option %q is not an option", id))
		}
		if seen[id] {
			return errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("correct option %q repeated", id))
		}
		seen[id] = true
	}

	switch qt {
	case domain.QuestionSingleChoice, domain.QuestionTrueFalse:
		if len(correct) != 1 {
			return errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("%s takes exactly one correct option", qt))
		}
	case domain.QuestionMultiSelect:
		if len(correct) == 0 {
			return errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("multi_select takes at least one correct option"))
		}
	case domain.QuestionOrdering:
		if len(correct) != len(options) {
			return errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("ordering takes every option exactly once"))
		}
	}
	return nil
}
