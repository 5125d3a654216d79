// Package gateway terminates the websocket side of a session: it upgrades
// connections, binds each one to a role with its first frame, routes requests
// into the session and fans session updates back out. A connection that
// cannot keep up with its send buffer is dropped; the session loop is never
// made to wait for a socket.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/victornm/qlive/internal/domain"
	"github.com/victornm/qlive/internal/errors"
	"github.com/victornm/qlive/internal/game"
	"github.com/victornm/qlive/internal/telemetry"
)

const (
	defaultWriteTimeout     = 10 * time.Second
	defaultPongTimeout      = 60 * time.Second
	defaultPingInterval     = 30 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultMaxMessageSize   = 4 << 10
	defaultSendBuffer       = 64
)

// Resolver finds the live session behind a PIN. Satisfied by the registry.
type Resolver interface {
	Lookup(pin string) (*game.Session, error)
}

type Config struct {
	Resolver Resolver

	WriteTimeout     time.Duration
	PongTimeout      time.Duration
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	MaxMessageSize   int64
	SendBuffer       int

	CheckOrigin func(r *http.Request) bool
}

func (c *Config) setDefaults() {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = defaultPongTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = defaultSendBuffer
	}
}

// Gateway implements game.Broadcaster over websocket connection pools keyed
// by session ID.
type Gateway struct {
	c        Config
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	pools map[string]map[*conn]struct{}
}

func New(c Config) *Gateway {
	c.setDefaults()
	return &Gateway{
		c: c,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     c.CheckOrigin,
		},
		pools: make(map[string]map[*conn]struct{}),
	}
}

type conn struct {
	g    *Gateway
	ws   *websocket.Conn
	send chan []byte

	done     chan struct{}
	doneOnce sync.Once

	sessionID string
	role      domain.Role
	playerID  string // player role
	token     string // player role, for submits
	hostKey   string // host role
}

// Handle upgrades the request and runs the connection until it closes. The
// PIN comes from the route, not the frames.
func (g *Gateway) Handle(w http.ResponseWriter, r *http.Request, pin string) {
	sess, err := g.c.Resolver.Lookup(pin)
	if err != nil {
		e := errors.Convert(err)
		http.Error(w, e.Message, e.HTTPStatusCode())
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.WarnContext(r.Context(), "gateway: upgrade failed", "pin", pin, "err", err)
		return
	}

	g.serve(ws, sess)
}

// serve binds the connection's role from its first frame, then hands off to
// the read pump. Rejected attach attempts get an error ack and another try
// until the handshake deadline runs out.
func (g *Gateway) serve(ws *websocket.Conn, sess *game.Session) {
	ws.SetReadLimit(g.c.MaxMessageSize)

	c := &conn{
		g:         g,
		ws:        ws,
		send:      make(chan []byte, g.c.SendBuffer),
		done:      make(chan struct{}),
		sessionID: sess.ID(),
	}

	ctx := context.Background()
	var first ack
	for {
		ws.SetReadDeadline(time.Now().Add(g.c.HandshakeTimeout))
		_, raw, err := ws.ReadMessage()
		if err != nil {
			ws.Close()
			return
		}

		var req request
		if err := json.Unmarshal(raw, &req); err != nil {
			c.writeDirect(newAck("", nil, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("malformed frame: %v", err))))
			continue
		}

		bound, payload, err := c.bind(ctx, sess, req)
		if err != nil {
			c.writeDirect(newAck(req.ID, nil, err))
			continue
		}
		if !bound {
			c.writeDirect(newAck(req.ID, nil, errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("connection must attach or join before %q", req.Type))))
			continue
		}

		first = newAck(req.ID, payload, nil)
		break
	}

	// The ack is queued before the connection joins the pool so no broadcast
	// can overtake it.
	c.send <- mustMarshal(first)
	g.register(c)

	go c.writePump()
	c.readPump(sess)
}

// bind attempts to interpret req as an attach frame. bound is false when the
// request is of a post-attach type.
func (c *conn) bind(ctx context.Context, sess *game.Session, req request) (bound bool, payload any, err error) {
	switch req.Type {
	case typeAttachHost:
		if !sess.ValidateHostKey(req.HostKey) {
			return true, nil, errors.New(errors.CodePermissionDenied,
				errors.WithMessagef("host key does not match session %s", sess.ID()))
		}
		state, err := sess.State(ctx)
		if err != nil {
			return true, nil, err
		}
		c.role = domain.RoleHost
		c.hostKey = req.HostKey
		return true, attachPayload{SessionID: sess.ID(), Role: string(c.role), State: state}, nil

	case typeAttachDisplay:
		state, err := sess.State(ctx)
		if err != nil {
			return true, nil, err
		}
		c.role = domain.RoleDisplay
		return true, attachPayload{SessionID: sess.ID(), Role: string(c.role), State: state}, nil

	case typeJoinGame:
		ja, err := sess.Join(ctx, req.Nickname)
		if err != nil {
			return true, nil, err
		}
		c.role = domain.RolePlayer
		c.playerID = ja.Player.PlayerID
		c.token = ja.Token
		return true, joinPayload{
			PlayerID: ja.Player.PlayerID,
			Nickname: ja.Player.Nickname,
			Token:    ja.Token,
			State:    ja.State,
		}, nil

	case typeReconnect:
		ja, err := sess.Reconnect(ctx, req.Token)
		if err != nil {
			return true, nil, err
		}
		c.role = domain.RolePlayer
		c.playerID = ja.Player.PlayerID
		c.token = ja.Token
		return true, joinPayload{
			PlayerID: ja.Player.PlayerID,
			Nickname: ja.Player.Nickname,
			Token:    ja.Token,
			State:    ja.State,
		}, nil
	}

	return false, nil, nil
}

func (g *Gateway) register(c *conn) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pool := g.pools[c.sessionID]
	if pool == nil {
		pool = make(map[*conn]struct{})
		g.pools[c.sessionID] = pool
	}
	pool[c] = struct{}{}

	telemetry.ConnectionsActive.WithLabelValues(string(c.role)).Inc()
	slog.Info("gateway: connection bound",
		"session", c.sessionID, "role", c.role, "player", c.playerID)
}

// unregister is idempotent; the first caller shuts the write pump down.
func (g *Gateway) unregister(c *conn) {
	g.mu.Lock()
	pool, ok := g.pools[c.sessionID]
	if ok {
		if _, ok = pool[c]; ok {
			delete(pool, c)
			if len(pool) == 0 {
				delete(g.pools, c.sessionID)
			}
		}
	}
	g.mu.Unlock()

	if ok {
		telemetry.ConnectionsActive.WithLabelValues(string(c.role)).Dec()
		c.shutdown()
	}
}

func (c *conn) shutdown() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Deliver fans one session update out to the matching connections. Never
// blocks: a connection with a full send buffer is closed instead.
func (g *Gateway) Deliver(sessionID string, u game.Update) {
	g.mu.RLock()
	var targets []*conn
	for c := range g.pools[sessionID] {
		if scopeMatches(u, c) {
			targets = append(targets, c)
		}
	}
	g.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(broadcast{Type: u.Type, Payload: u.Payload})
	if err != nil {
		slog.Error("gateway: marshal update", "session", sessionID, "type", u.Type, "err", err)
		return
	}

	for _, c := range targets {
		if !c.trySend(data) {
			telemetry.BroadcastsDropped.Inc()
			slog.Warn("gateway: dropping slow connection",
				"session", sessionID, "role", c.role, "player", c.playerID)
			g.unregister(c)
			c.ws.Close()
		}
	}

	// A kicked notice is that connection's last frame.
	if u.Type == game.UpdateKicked {
		for _, c := range targets {
			g.unregister(c)
		}
	}
}

// CloseSession drops every connection of a session. The registry calls it
// when a session is destroyed.
func (g *Gateway) CloseSession(sessionID string) {
	g.mu.RLock()
	var targets []*conn
	for c := range g.pools[sessionID] {
		targets = append(targets, c)
	}
	g.mu.RUnlock()

	for _, c := range targets {
		g.unregister(c)
	}
}

func (c *conn) trySend(data []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// writeDirect is used before the write pump starts, during role binding.
func (c *conn) writeDirect(a ack) {
	c.ws.SetWriteDeadline(time.Now().Add(c.g.c.WriteTimeout))
	if err := c.ws.WriteJSON(a); err != nil {
		slog.Warn("gateway: write ack", "session", c.sessionID, "err", err)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(c.g.c.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.g.c.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.g.c.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			// Flush whatever is already queued, then say goodbye.
			for {
				select {
				case msg := <-c.send:
					c.ws.SetWriteDeadline(time.Now().Add(c.g.c.WriteTimeout))
					if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					c.ws.SetWriteDeadline(time.Now().Add(c.g.c.WriteTimeout))
					c.ws.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

func (c *conn) readPump(sess *game.Session) {
	defer func() {
		c.g.unregister(c)
		c.ws.Close()
		if c.role == domain.RolePlayer {
			sess.Disconnected(c.playerID)
		}
	}()

	c.ws.SetReadDeadline(time.Now().Add(c.g.c.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.g.c.PongTimeout))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("gateway: read failed",
					"session", c.sessionID, "role", c.role, "err", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.g.c.PongTimeout))

		var req request
		if err := json.Unmarshal(raw, &req); err != nil {
			c.reply(newAck("", nil, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("malformed frame: %v", err))))
			continue
		}

		c.handle(sess, req)
	}
}

// handle dispatches one post-attach request on the session.
func (c *conn) handle(sess *game.Session, req request) {
	ctx := context.Background()

	switch {
	case req.Type == typeSubmitAnswer:
		if c.role != domain.RolePlayer {
			c.reply(newAck(req.ID, nil, errors.New(errors.CodePermissionDenied,
				errors.WithMessagef("only players submit answers"))))
			return
		}
		sub, err := sess.Submit(ctx, c.token, req.QuestionID, domain.Choice{OptionIDs: req.OptionIDs})
		if err != nil {
			telemetry.SubmissionsTotal.WithLabelValues("rejected").Inc()
			c.reply(newAck(req.ID, nil, err))
			return
		}
		telemetry.SubmissionsTotal.WithLabelValues("accepted").Inc()
		c.reply(newAck(req.ID, submitPayload{QuestionID: sub.QuestionID, ReceivedAt: sub.ReceivedAt}, nil))

	case hostCommands[req.Type] != "":
		if c.role != domain.RoleHost {
			c.reply(newAck(req.ID, nil, errors.New(errors.CodePermissionDenied,
				errors.WithMessagef("%s commands require the host connection", req.Type))))
			return
		}
		err := sess.Execute(ctx, game.Command{
			Type:     hostCommands[req.Type],
			HostKey:  c.hostKey,
			PlayerID: req.PlayerID,
		})
		c.reply(newAck(req.ID, nil, err))

	case req.Type == typeAttachHost || req.Type == typeAttachDisplay ||
		req.Type == typeJoinGame || req.Type == typeReconnect:
		c.reply(newAck(req.ID, nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("connection is already bound as %s", c.role))))

	default:
		c.reply(newAck(req.ID, nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("unknown request type %q", req.Type))))
	}
}

// reply queues an ack behind any pending broadcasts for this connection.
func (c *conn) reply(a ack) {
	if !c.trySend(mustMarshal(a)) {
		telemetry.BroadcastsDropped.Inc()
		c.g.unregister(c)
		c.ws.Close()
	}
}

// scopeMatches reports whether an update's scope selects this connection.
func scopeMatches(u game.Update, c *conn) bool {
	switch u.Scope {
	case game.ScopeAll:
		return true
	case game.ScopePresenter:
		return c.role == domain.RoleHost || c.role == domain.RoleDisplay
	case game.ScopePlayer:
		return c.role == domain.RolePlayer && c.playerID == u.PlayerID
	}
	return false
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
