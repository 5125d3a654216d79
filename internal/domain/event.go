package domain

const (
	EventNameSessionFinished    = "session.finished"
	EventNameLeaderboardUpdated = "leaderboard.updated"
	EventNamePlayerKicked       = "player.kicked"
)

type EventSessionFinished struct {
	Summary Summary
}

func (EventSessionFinished) Name() string { return EventNameSessionFinished }

type EventLeaderboardUpdated struct {
	SessionID string
	Snapshot  RankingSnapshot
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }

type EventPlayerKicked struct {
	SessionID string
	PlayerID  string
	Nickname  string
}

func (EventPlayerKicked) Name() string { return EventNamePlayerKicked }
