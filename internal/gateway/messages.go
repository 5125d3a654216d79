package gateway

import (
	"time"

	"google.golang.org/grpc/codes"

	"github.com/victornm/qlive/internal/errors"
	"github.com/victornm/qlive/internal/game"
)

// Client request types. Attach types are only valid as a connection's first
// frame; everything else requires a bound role.
const (
	typeAttachHost    = "attachHost"
	typeAttachDisplay = "attachDisplay"
	typeJoinGame      = "joinGame"
	typeReconnect     = "reconnect"
	typeSubmitAnswer  = "submitAnswer"

	typeAck = "ack"
)

// request is every client frame. ID is chosen by the client and echoed in
// the ack so concurrent requests can be correlated.
type request struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	HostKey  string `json:"host_key,omitempty"`
	Nickname string `json:"nickname,omitempty"`
	Token    string `json:"token,omitempty"`

	QuestionID string   `json:"question_id,omitempty"`
	OptionIDs  []string `json:"option_ids,omitempty"`

	PlayerID string `json:"player_id,omitempty"` // kickPlayer target
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ack struct {
	Type    string     `json:"type"`
	ID      string     `json:"id"`
	OK      bool       `json:"ok"`
	Error   *wireError `json:"error,omitempty"`
	Payload any        `json:"payload,omitempty"`
}

func newAck(id string, payload any, err error) ack {
	if err == nil {
		return ack{Type: typeAck, ID: id, OK: true, Payload: payload}
	}
	e := errors.Convert(err)
	return ack{Type: typeAck, ID: id, Error: &wireError{
		Code:    codes.Code(e.Code).String(),
		Message: e.Message,
	}}
}

// broadcast is every server-initiated frame: state updates, roster changes,
// countdown ticks and kick notices.
type broadcast struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type attachPayload struct {
	SessionID string            `json:"session_id"`
	Role      string            `json:"role"`
	State     game.StatePayload `json:"state"`
}

type joinPayload struct {
	PlayerID string            `json:"player_id"`
	Nickname string            `json:"nickname"`
	Token    string            `json:"token"`
	State    game.StatePayload `json:"state"`
}

type submitPayload struct {
	QuestionID string    `json:"question_id"`
	ReceivedAt time.Time `json:"received_at"`
}

// hostCommands maps wire request types to session commands. Anything not in
// this table and not a submit is rejected.
var hostCommands = map[string]game.CommandType{
	string(game.CommandStartGame):       game.CommandStartGame,
	string(game.CommandNextQuestion):    game.CommandNextQuestion,
	string(game.CommandShowAnswers):     game.CommandShowAnswers,
	string(game.CommandShowResult):      game.CommandShowResult,
	string(game.CommandShowLeaderboard): game.CommandShowLeaderboard,
	string(game.CommandEndGame):         game.CommandEndGame,
	string(game.CommandKickPlayer):      game.CommandKickPlayer,
}
