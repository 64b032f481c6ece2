// Package relay manages realtime WebSocket connections and routes encrypted
// envelopes between users. Each connection moves through three states:
// unauthenticated at transport connect, authenticated once an identity
// resolves, closed on disconnect or refusal. The relay only ever handles
// ciphertext; it never sees plaintext or keys.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/BjornHgn/securechat/auth"
	"github.com/BjornHgn/securechat/pkg/protocol"
	"github.com/BjornHgn/securechat/presence"
	"github.com/BjornHgn/securechat/session"
	"github.com/BjornHgn/securechat/store"
)

// makeUpgrader creates a WebSocket upgrader with origin checking.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

// Relay routes envelopes between live connections.
type Relay struct {
	sessions *session.Registry
	presence *presence.Directory
	auth     auth.Provider
	store    store.Store
	logger   *slog.Logger
	upgrader websocket.Upgrader

	maxMessageBytes int64
	persistTimeout  time.Duration
	insecureAlias   bool

	mu    sync.RWMutex
	conns map[string]*conn // channel id -> live connection
}

type conn struct {
	id          string
	userID      string
	ws          *websocket.Conn
	mu          sync.Mutex // guards writes to ws
	connectedAt time.Time
}

// Options configures the Relay.
type Options struct {
	AllowedOrigins        []string
	MaxMessageBytes       int64         // max WebSocket message size (default 64KB)
	PersistTimeout        time.Duration // bound on history-store calls (default 5s)
	InsecureFallbackAlias bool          // legacy double-join under an unverified user_id
}

// New creates a new Relay.
func New(sessions *session.Registry, dir *presence.Directory, ap auth.Provider, st store.Store, logger *slog.Logger, opts Options) *Relay {
	maxBytes := opts.MaxMessageBytes
	if maxBytes == 0 {
		maxBytes = 64 * 1024
	}
	persistTimeout := opts.PersistTimeout
	if persistTimeout == 0 {
		persistTimeout = 5 * time.Second
	}

	return &Relay{
		sessions:        sessions,
		presence:        dir,
		auth:            ap,
		store:           st,
		logger:          logger.With("component", "relay"),
		upgrader:        makeUpgrader(opts.AllowedOrigins),
		maxMessageBytes: maxBytes,
		persistTimeout:  persistTimeout,
		insecureAlias:   opts.InsecureFallbackAlias,
		conns:           make(map[string]*conn),
	}
}

// HandleWS handles a realtime client connection.
//
// Identity resolves through an ordered chain: the session_id query parameter
// against the session registry, then the same value as a bearer JWT, then the
// raw user_id query parameter as a last resort. A connection that resolves
// nothing is refused before the upgrade. A user_id that contradicts a
// resolved identity is logged and ignored unless the insecure fallback alias
// is enabled.
func (r *Relay) HandleWS(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	token := q.Get("session_id")
	fallback := q.Get("user_id")

	resolved := r.resolveToken(req.Context(), token)
	userID := resolved
	if userID == "" {
		userID = fallback
	}
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	aliasID := ""
	if resolved != "" && fallback != "" && fallback != resolved {
		if r.insecureAlias {
			aliasID = fallback
			r.logger.Warn("joining under unverified fallback user id",
				"user_id", resolved, "fallback_id", fallback)
		} else {
			r.logger.Warn("fallback user id contradicts session identity, ignoring",
				"user_id", resolved, "fallback_id", fallback)
		}
	}

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = ws.Close() }()

	ws.SetReadLimit(r.maxMessageBytes)

	c := &conn{
		id:          uuid.New().String(),
		userID:      userID,
		ws:          ws,
		connectedAt: time.Now(),
	}
	// The alias identity gets its own channel id so each channel id lives in
	// exactly one presence entry; both ids deliver to the same socket.
	aliasChannel := ""
	if aliasID != "" {
		aliasChannel = uuid.New().String()
	}

	r.mu.Lock()
	r.conns[c.id] = c
	if aliasChannel != "" {
		r.conns[aliasChannel] = c
	}
	r.mu.Unlock()

	r.presence.Join(userID, c.id)
	if aliasChannel != "" {
		r.presence.Join(aliasID, aliasChannel)
	}

	cancelKeepalive := startWSKeepalive(ws, &c.mu)
	defer cancelKeepalive()

	r.logger.Info("client connected", "user_id", userID, "channel_id", c.id)

	defer func() {
		r.presence.Leave(c.id)
		if aliasChannel != "" {
			r.presence.Leave(aliasChannel)
		}
		r.mu.Lock()
		delete(r.conns, c.id)
		if aliasChannel != "" {
			delete(r.conns, aliasChannel)
		}
		r.mu.Unlock()
		r.logger.Info("client disconnected", "user_id", userID, "channel_id", c.id)
	}()

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			r.logger.Debug("client read error", "channel_id", c.id, "error", err)
			return
		}
		// Any message resets the read deadline.
		_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))

		var ev protocol.Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			r.logger.Warn("invalid message from client", "channel_id", c.id, "error", err)
			continue
		}

		r.handleEvent(c, ev)
	}
}

// resolveToken tries the session registry first, then falls back to treating
// the token as a bearer JWT from the auth provider.
func (r *Relay) resolveToken(ctx context.Context, token string) string {
	if token == "" {
		return ""
	}
	if userID, err := r.sessions.Resolve(token); err == nil {
		return userID
	}
	if r.auth != nil {
		if identity, err := r.auth.ValidateToken(ctx, token); err == nil {
			return identity.UserID
		}
	}
	return ""
}

func (r *Relay) handleEvent(c *conn, ev protocol.Event) {
	switch ev.Type {
	case protocol.TypeMessage:
		r.handleMessage(c, ev.Payload)
	default:
		r.logger.Warn("unknown event type", "type", ev.Type, "channel_id", c.id)
	}
}

func (r *Relay) handleMessage(c *conn, payload any) {
	if c.userID == "" {
		return // never route for an unauthenticated channel
	}

	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Warn("marshal payload failed", "channel_id", c.id, "error", err)
		return
	}
	var env protocol.MessageEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.logger.Warn("unmarshal envelope failed", "channel_id", c.id, "error", err)
		return
	}

	if err := env.Validate(); err != nil {
		// Malformed envelopes are dropped, never forwarded and never fatal.
		r.logger.Warn("dropping invalid envelope", "channel_id", c.id, "error", err)
		return
	}

	now := time.Now()
	env.Normalize(now)

	if env.StoreHistory && r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.persistTimeout)
		err := r.store.AppendConversationMessage(ctx, &store.StoredMessage{
			ID:          env.ID,
			SenderID:    env.SenderID,
			RecipientID: env.RecipientID,
			Ciphertext:  env.EncryptedMessage,
			Timestamp:   env.Time(now),
		})
		cancel()
		if err != nil {
			// Persistence is best-effort; delivery is the primary guarantee.
			r.logger.Warn("failed to persist message, delivering anyway", "id", env.ID, "error", err)
		}
	}

	if n := r.deliver(env.RecipientID, protocol.TypeMessage, env); n == 0 {
		r.logger.Debug("recipient offline, message dropped",
			"recipient_id", env.RecipientID, "id", env.ID)
	}

	// Every channel of the sender learns the send succeeded, including the
	// originating one when the user has several devices.
	r.deliver(env.SenderID, protocol.TypeMessageSent, protocol.DeliveryReceipt{
		ID:          env.ID,
		RecipientID: env.RecipientID,
		Timestamp:   env.Timestamp,
	})
}

// deliver sends an event to every live channel of userID and returns how many
// sends succeeded. A channel registered in presence but missing from the
// connection table has vanished mid-flight; it is pruned and skipped.
func (r *Relay) deliver(userID, msgType string, payload any) int {
	channels := r.presence.ChannelsFor(userID)

	n := 0
	for _, chID := range channels {
		r.mu.RLock()
		c, ok := r.conns[chID]
		r.mu.RUnlock()
		if !ok {
			r.presence.Leave(chID)
			continue
		}
		if err := c.send(msgType, payload); err != nil {
			r.logger.Debug("send failed", "channel_id", chID, "error", err)
			continue
		}
		n++
	}
	return n
}

func (c *conn) send(msgType string, payload any) error {
	data, err := json.Marshal(protocol.Event{Type: msgType, Payload: payload})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// ConnCount returns the number of live channels, for readiness reporting.
func (r *Relay) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
