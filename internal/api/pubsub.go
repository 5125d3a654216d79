package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/qlive/internal/domain"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	LeaderboardData struct {
		SessionID     string      `json:"session_id"`
		QuestionIndex int         `json:"question_index"`
		Entries       []EntryView `json:"entries"`
	}

	FinishedData struct {
		SessionID  string `json:"session_id"`
		ShareToken string `json:"share_token"`
	}
)

// PublishLeaderboardUpdated mirrors a ranking snapshot to redis: one message
// on the session channel for panel-style consumers, one per player so a
// results page can follow a single player without a socket.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	data := LeaderboardData{
		SessionID:     e.SessionID,
		QuestionIndex: e.Snapshot.QuestionIndex,
		Entries:       newEntryViews(e.Snapshot.Entries),
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	eg.Go(func() error {
		channel := fmt.Sprintf("%s:session:%s:leaderboard", a.prefix, e.SessionID)
		return a.publishNotification(ctx, channel, e.Name(), data)
	})

	for _, entry := range data.Entries {
		entry := entry
		eg.Go(func() error {
			channel := fmt.Sprintf("%s:player:%s", a.prefix, entry.PlayerID)
			return a.publishNotification(ctx, channel, e.Name(), data)
		})
	}

	return eg.Wait()
}

// PublishSessionFinished announces the share token on the session channel so
// external consumers know the durable record is on its way.
func (a *API) PublishSessionFinished(ctx context.Context, e domain.EventSessionFinished) error {
	channel := fmt.Sprintf("%s:session:%s:leaderboard", a.prefix, e.Summary.SessionID)
	return a.publishNotification(ctx, channel, e.Name(), FinishedData{
		SessionID:  e.Summary.SessionID,
		ShareToken: e.Summary.ShareToken,
	})
}

func (a *API) publishNotification(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, channel, b).Err()
}
