// Package presence tracks who is viewing which template and relays sync
// signals between their sessions over websockets.
package presence

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"itinera/api/internal/errs"
	"itinera/api/internal/metrics"
	"itinera/api/internal/util"
)

const (
	opTimeout    = 5 * time.Second
	publishQueue = 256
)

// Identity is the verified user behind a socket.
type Identity struct {
	UserID      string
	DisplayName string
	AvatarURL   string
}

// Origin identifies who caused a mutation. With a SocketID only that socket is
// skipped; otherwise every session of UserID is.
type Origin struct {
	SocketID string
	UserID   string
}

// Authorizer decides whether a user may join a template's channel.
type Authorizer interface {
	AuthorizeJoin(ctx context.Context, templateID, userID string) error
}

// Fanout relays broadcasts to the other instances of the service.
type Fanout interface {
	Publish(ctx context.Context, b Broadcast) error
	Subscribe(ctx context.Context, ready chan<- struct{}, deliver func(Broadcast)) error
}

// Broadcast addresses an envelope to the sessions of a template, of a user,
// or of a user within a template. Kick removes the addressed sessions from
// the template instead of delivering to them.
type Broadcast struct {
	TemplateID   string   `json:"templateId,omitempty"`
	UserID       string   `json:"userId,omitempty"`
	Envelope     Envelope `json:"envelope"`
	ExceptSocket string   `json:"exceptSocket,omitempty"`
	ExceptUser   string   `json:"exceptUser,omitempty"`
	Kick         bool     `json:"kick,omitempty"`
	Origin       string   `json:"origin,omitempty"`
}

type Config struct {
	SendQueue     int
	PingInterval  time.Duration
	PongWait      time.Duration
	WriteWait     time.Duration
	MaxMessage    int64
	RatePerSec    float64
	RateBurst     int
	AllowedOrigin string
}

func (c Config) withDefaults() Config {
	if c.SendQueue <= 0 {
		c.SendQueue = 64
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.MaxMessage <= 0 {
		c.MaxMessage = 64 * 1024
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 20
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 40
	}
	return c
}

type Options struct {
	Config     Config
	Roster     Roster
	Fanout     Fanout
	Authorizer Authorizer
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
	Instance   string
	Now        func() time.Time
}

type Hub struct {
	cfg      Config
	roster   Roster
	fanout   Fanout
	auth     Authorizer
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	upgrader websocket.Upgrader
	routes   map[string]handlerFunc

	mu      sync.RWMutex
	clients map[string]*client
	rooms   map[string]map[string]*client
	closed  bool
	wg      sync.WaitGroup

	publish chan Broadcast
}

func NewHub(opts Options) *Hub {
	cfg := opts.Config.withDefaults()
	if opts.Roster == nil {
		opts.Roster = NewMemoryRoster()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Instance == "" {
		opts.Instance = util.NewID()
	}

	h := &Hub{
		cfg:     cfg,
		roster:  opts.Roster,
		fanout:  opts.Fanout,
		auth:    opts.Authorizer,
		logger:  opts.Logger.With().Str("component", "presence").Str("instance", opts.Instance).Logger(),
		metrics: opts.Metrics,
		now:     opts.Now,
		clients: make(map[string]*client),
		rooms:   make(map[string]map[string]*client),
		publish: make(chan Broadcast, publishQueue),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	h.routes = newRouter()
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	allowed := h.cfg.AllowedOrigin
	if allowed == "" || allowed == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || origin == allowed
}

// ServeWS upgrades the request and runs the session until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, id Identity) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newClient(h, conn, id)
	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(h.cfg.WriteWait))
		_ = conn.Close()
		return
	}

	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	c.sendEvent(EvtConnected, ConnectedEvent{SocketID: c.socketID, UserID: id.UserID})
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.socketID] = c
	h.wg.Add(2)
	h.metrics.ConnectionOpened()
	h.logger.Debug().Str("socket_id", c.socketID).Str("user_id", c.identity.UserID).Msg("session connected")
	return true
}

// disconnect runs once per session when its read pump ends.
func (h *Hub) disconnect(c *client) {
	c.close()

	h.mu.Lock()
	delete(h.clients, c.socketID)
	templates := make([]string, 0, len(c.templates))
	for templateID := range c.templates {
		templates = append(templates, templateID)
	}
	h.mu.Unlock()

	for _, templateID := range templates {
		h.leave(c, templateID)
	}
	h.metrics.ConnectionClosed()
	h.logger.Debug().Str("socket_id", c.socketID).Str("user_id", c.identity.UserID).Msg("session disconnected")
}

// Run relays broadcasts to and from other instances until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	if h.fanout == nil {
		<-ctx.Done()
		return nil
	}

	subscribed := make(chan error, 1)
	go func() {
		subscribed <- h.fanout.Subscribe(ctx, nil, h.deliver)
	}()

	for {
		select {
		case <-ctx.Done():
			return <-subscribed
		case err := <-subscribed:
			if err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		case b := <-h.publish:
			pubCtx, cancel := context.WithTimeout(ctx, opTimeout)
			if err := h.fanout.Publish(pubCtx, b); err != nil {
				h.metrics.SideEffectFailed("fanout")
				h.logger.Warn().Err(err).Str("template_id", b.TemplateID).Msg("publish broadcast failed")
			}
			cancel()
		}
	}
}

// Close disconnects every session and waits for their goroutines.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	h.wg.Wait()
}

// NotifyMutated tells every other session of the template to re-read it.
func (h *Hub) NotifyMutated(templateID string, origin Origin) {
	b := Broadcast{TemplateID: templateID}
	if origin.SocketID != "" {
		b.ExceptSocket = origin.SocketID
	} else {
		b.ExceptUser = origin.UserID
	}
	if !h.setEnvelope(&b, EvtFetch, FetchEvent{TemplateID: templateID}) {
		return
	}
	h.broadcast(b)
}

// SendToUser delivers an event to every open session of the user.
func (h *Hub) SendToUser(userID, eventType string, data any) {
	b := Broadcast{UserID: userID}
	if !h.setEnvelope(&b, eventType, data) {
		return
	}
	h.broadcast(b)
}

// Kick removes the user's sessions from the template's roster.
func (h *Hub) Kick(templateID, userID string) {
	b := Broadcast{TemplateID: templateID, UserID: userID, Kick: true}
	if !h.setEnvelope(&b, EvtError, ErrorEvent{Code: "FORBIDDEN", Message: "access to this trip was removed", Command: CmdJoin}) {
		return
	}
	h.broadcast(b)
}

func (h *Hub) Members(ctx context.Context, templateID string) ([]Member, error) {
	entries, err := h.roster.Members(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return toMembers(entries), nil
}

func (h *Hub) setEnvelope(b *Broadcast, eventType string, data any) bool {
	env, err := NewEnvelope(eventType, data)
	if err != nil {
		h.logger.Error().Err(err).Str("type", eventType).Msg("encode event")
		return false
	}
	b.Envelope = env
	return true
}

// broadcast delivers locally and queues the broadcast for other instances.
// It never blocks.
func (h *Hub) broadcast(b Broadcast) {
	h.deliver(b)
	if h.fanout == nil {
		return
	}
	select {
	case h.publish <- b:
	default:
		h.metrics.SideEffectFailed("fanout")
		h.logger.Warn().Str("template_id", b.TemplateID).Msg("fanout queue full, broadcast not relayed")
	}
}

func (h *Hub) deliver(b Broadcast) {
	targets := h.targets(b)
	if len(targets) == 0 {
		return
	}
	if b.Kick {
		for _, c := range targets {
			c.enqueueEnvelope(b.Envelope)
			h.leave(c, b.TemplateID)
		}
		return
	}
	payload, err := json.Marshal(b.Envelope)
	if err != nil {
		h.logger.Error().Err(err).Msg("encode envelope")
		return
	}
	for _, c := range targets {
		if c.enqueue(payload) {
			h.metrics.Message("out", b.Envelope.Type)
		}
	}
}

func (h *Hub) targets(b Broadcast) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var pool map[string]*client
	if b.TemplateID != "" {
		pool = h.rooms[b.TemplateID]
	} else {
		pool = h.clients
	}
	out := make([]*client, 0, len(pool))
	for socketID, c := range pool {
		if b.UserID != "" && c.identity.UserID != b.UserID {
			continue
		}
		if b.ExceptSocket != "" && socketID == b.ExceptSocket {
			continue
		}
		if b.ExceptUser != "" && c.identity.UserID == b.ExceptUser {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (h *Hub) join(c *client, templateID string) error {
	ctx, cancel := h.opContext()
	defer cancel()

	if h.auth != nil {
		if err := h.auth.AuthorizeJoin(ctx, templateID, c.identity.UserID); err != nil {
			return err
		}
	}

	h.mu.RLock()
	_, already := c.templates[templateID]
	h.mu.RUnlock()
	if already {
		entries, err := h.roster.Members(ctx, templateID)
		if err != nil {
			return errs.Storage("read roster", err)
		}
		c.sendEvent(EvtUsersList, UsersListEvent{TemplateID: templateID, Users: toMembers(entries)})
		return nil
	}

	entry := Entry{
		TemplateID:  templateID,
		SocketID:    c.socketID,
		UserID:      c.identity.UserID,
		DisplayName: c.identity.DisplayName,
		AvatarURL:   c.identity.AvatarURL,
		JoinedAt:    h.now(),
	}
	entries, err := h.roster.Join(ctx, entry)
	if err != nil {
		return errs.Storage("join roster", err)
	}

	h.mu.Lock()
	room, ok := h.rooms[templateID]
	if !ok {
		room = make(map[string]*client)
		h.rooms[templateID] = room
	}
	room[c.socketID] = c
	c.templates[templateID] = struct{}{}
	h.mu.Unlock()
	h.metrics.RosterJoined()

	// Kick only reaches registered sessions, so access revoked since the first
	// check is caught here.
	if h.auth != nil {
		if err := h.auth.AuthorizeJoin(ctx, templateID, c.identity.UserID); err != nil {
			if h.detach(c, templateID) {
				h.metrics.RosterLeft()
				if _, _, leaveErr := h.roster.Leave(ctx, templateID, c.socketID); leaveErr != nil {
					h.metrics.SideEffectFailed("roster")
					h.logger.Warn().Err(leaveErr).Str("template_id", templateID).Str("socket_id", c.socketID).Msg("roster leave failed")
				}
			}
			return err
		}
	}

	c.sendEvent(EvtUsersList, UsersListEvent{TemplateID: templateID, Users: toMembers(entries)})

	b := Broadcast{TemplateID: templateID, ExceptSocket: c.socketID}
	if h.setEnvelope(&b, EvtUserJoined, UserJoinedEvent{TemplateID: templateID, User: entry.Member()}) {
		h.broadcast(b)
	}
	return nil
}

// detach removes the session from the template's room and reports whether it
// was there.
func (h *Hub) detach(c *client, templateID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[templateID]
	if !ok {
		return false
	}
	if _, member := room[c.socketID]; !member {
		return false
	}
	delete(room, c.socketID)
	if len(room) == 0 {
		delete(h.rooms, templateID)
	}
	delete(c.templates, templateID)
	return true
}

// leave is a no-op for sessions that have not joined the template.
func (h *Hub) leave(c *client, templateID string) {
	if !h.detach(c, templateID) {
		return
	}
	h.metrics.RosterLeft()

	ctx, cancel := h.opContext()
	defer cancel()
	entry, removed, err := h.roster.Leave(ctx, templateID, c.socketID)
	if err != nil {
		h.metrics.SideEffectFailed("roster")
		h.logger.Warn().Err(err).Str("template_id", templateID).Str("socket_id", c.socketID).Msg("roster leave failed")
	}
	if removed && entry.EditingCardID != "" {
		b := Broadcast{TemplateID: templateID, ExceptSocket: c.socketID}
		if h.setEnvelope(&b, EvtEditingEnd, c.editingEvent(templateID, entry.EditingCardID)) {
			h.broadcast(b)
		}
	}

	b := Broadcast{TemplateID: templateID, ExceptSocket: c.socketID}
	if h.setEnvelope(&b, EvtUserLeft, UserLeftEvent{TemplateID: templateID, UserID: c.identity.UserID, SocketID: c.socketID}) {
		h.broadcast(b)
	}
}

func (h *Hub) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}

func (h *Hub) joined(c *client, templateID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.templates[templateID]
	return ok
}

func toMembers(entries []Entry) []Member {
	out := make([]Member, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Member())
	}
	return out
}
