package presence

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"itinera/api/internal/errs"
)

type allowList map[string]bool

func (a allowList) AuthorizeJoin(_ context.Context, templateID, userID string) error {
	if templateID == "missing" {
		return errs.NotFound("template %s not found", templateID)
	}
	if !a[userID] {
		return errs.Forbidden("not a collaborator")
	}
	return nil
}

type harness struct {
	hub    *Hub
	roster *MemoryRoster
	server *httptest.Server
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	roster := NewMemoryRoster()
	if opts.Roster == nil {
		opts.Roster = roster
	}
	if opts.Authorizer == nil {
		opts.Authorizer = allowList{"alice": true, "bob": true}
	}
	opts.Logger = zerolog.Nop()
	hub := NewHub(opts)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.URL.Query().Get("user")
		hub.ServeWS(w, r, Identity{UserID: user, DisplayName: strings.ToUpper(user)})
	}))
	h := &harness{hub: hub, roster: roster, server: server}
	t.Cleanup(h.close)
	return h
}

func (h *harness) close() {
	h.hub.Close()
	h.server.Close()
}

type session struct {
	t        *testing.T
	conn     *websocket.Conn
	socketID string
}

func (h *harness) dial(t *testing.T, user string) *session {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws?user=" + user
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	s := &session{t: t, conn: conn}
	t.Cleanup(func() { _ = conn.Close() })

	var connected ConnectedEvent
	s.expect(EvtConnected, &connected)
	require.NotEmpty(t, connected.SocketID)
	s.socketID = connected.SocketID
	return s
}

func (s *session) send(eventType string, data any) {
	s.t.Helper()
	env, err := NewEnvelope(eventType, data)
	require.NoError(s.t, err)
	require.NoError(s.t, s.conn.WriteJSON(env))
}

func (s *session) next() Envelope {
	s.t.Helper()
	require.NoError(s.t, s.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var env Envelope
	require.NoError(s.t, s.conn.ReadJSON(&env))
	return env
}

func (s *session) expect(eventType string, out any) {
	s.t.Helper()
	env := s.next()
	require.Equal(s.t, eventType, env.Type, "payload: %s", string(env.Data))
	if out != nil {
		require.NoError(s.t, json.Unmarshal(env.Data, out))
	}
}

// waitFor skips events until one of eventType arrives.
func (s *session) waitFor(eventType string, out any) {
	s.t.Helper()
	for {
		env := s.next()
		if env.Type != eventType {
			continue
		}
		if out != nil {
			require.NoError(s.t, json.Unmarshal(env.Data, out))
		}
		return
	}
}

func (s *session) join(templateID string) UsersListEvent {
	s.t.Helper()
	s.send(CmdJoin, TemplateRef{TemplateID: templateID})
	var list UsersListEvent
	s.expect(EvtUsersList, &list)
	return list
}

func socketIDs(members []Member) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, m.SocketID)
	}
	return out
}

func TestJoinBroadcastsAndListsRoster(t *testing.T) {
	h := newHarness(t, Options{})
	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")

	list := alice.join("t1")
	assert.Equal(t, []string{alice.socketID}, socketIDs(list.Users))

	list = bob.join("t1")
	assert.ElementsMatch(t, []string{alice.socketID, bob.socketID}, socketIDs(list.Users))

	var joined UserJoinedEvent
	alice.expect(EvtUserJoined, &joined)
	assert.Equal(t, "bob", joined.User.UserID)
	assert.Equal(t, "BOB", joined.User.DisplayName)
	assert.Equal(t, bob.socketID, joined.User.SocketID)
}

func TestJoinRejected(t *testing.T) {
	h := newHarness(t, Options{})
	mallory := h.dial(t, "mallory")

	mallory.send(CmdJoin, TemplateRef{TemplateID: "t1"})
	var failure ErrorEvent
	mallory.expect(EvtError, &failure)
	assert.Equal(t, "FORBIDDEN", failure.Code)
	assert.Equal(t, CmdJoin, failure.Command)

	alice := h.dial(t, "alice")
	alice.send(CmdJoin, TemplateRef{TemplateID: "missing"})
	alice.expect(EvtError, &failure)
	assert.Equal(t, "NOT_FOUND", failure.Code)

	alice.send(CmdJoin, map[string]string{})
	alice.expect(EvtError, &failure)
	assert.Equal(t, "VALIDATION_ERROR", failure.Code)

	alice.send("template:explode", nil)
	alice.expect(EvtError, &failure)
	assert.Equal(t, "VALIDATION_ERROR", failure.Code)

	members, err := h.roster.Members(context.Background(), "t1")
	require.NoError(t, err)
	assert.Empty(t, members)
}

// revokedMidJoin allows a user's first check and denies every later one, as
// when a collaborator is removed while their join is in flight.
type revokedMidJoin struct {
	mu    sync.Mutex
	calls map[string]int
}

func (r *revokedMidJoin) AuthorizeJoin(_ context.Context, _, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[userID]++
	if userID == "bob" && r.calls[userID] > 1 {
		return errs.Forbidden("not a collaborator")
	}
	return nil
}

func TestJoinRevokedBeforeRegistration(t *testing.T) {
	auth := &revokedMidJoin{calls: map[string]int{}}
	h := newHarness(t, Options{Authorizer: auth})
	alice := h.dial(t, "alice")
	alice.join("t1")

	bob := h.dial(t, "bob")
	bob.send(CmdJoin, TemplateRef{TemplateID: "t1"})
	var failure ErrorEvent
	bob.expect(EvtError, &failure)
	assert.Equal(t, "FORBIDDEN", failure.Code)
	assert.Equal(t, CmdJoin, failure.Command)

	members, err := h.hub.Members(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{alice.socketID}, socketIDs(members))

	h.hub.mu.RLock()
	_, registered := h.hub.rooms["t1"][bob.socketID]
	h.hub.mu.RUnlock()
	assert.False(t, registered)

	// Alice never hears about the rejected session.
	h.hub.NotifyMutated("t1", Origin{})
	alice.expect(EvtFetch, nil)
}

func TestDisconnectRemovesOnlyThatSession(t *testing.T) {
	h := newHarness(t, Options{})
	alice := h.dial(t, "alice")
	aliceTab := h.dial(t, "alice")

	alice.join("t1")
	aliceTab.join("t1")
	alice.expect(EvtUserJoined, nil)

	require.NoError(t, aliceTab.conn.Close())

	var left UserLeftEvent
	alice.expect(EvtUserLeft, &left)
	assert.Equal(t, aliceTab.socketID, left.SocketID)
	assert.Equal(t, "alice", left.UserID)

	members, err := h.roster.Members(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{alice.socketID}, socketIDs(toMembers(members)))

	require.NoError(t, alice.conn.Close())
	require.Eventually(t, func() bool { return !h.roster.HasTemplate("t1") }, 3*time.Second, 10*time.Millisecond)
}

func TestExplicitLeave(t *testing.T) {
	h := newHarness(t, Options{})
	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")
	alice.join("t1")
	bob.join("t1")
	alice.expect(EvtUserJoined, nil)

	bob.send(CmdLeave, TemplateRef{TemplateID: "t1"})
	var left UserLeftEvent
	alice.expect(EvtUserLeft, &left)
	assert.Equal(t, "bob", left.UserID)

	// Bob no longer receives template traffic.
	bob.send(CmdFetch, TemplateRef{TemplateID: "t1"})
	var failure ErrorEvent
	bob.expect(EvtError, &failure)
	assert.Equal(t, "FORBIDDEN", failure.Code)
}

func TestNotifyMutatedSkipsOrigin(t *testing.T) {
	h := newHarness(t, Options{})
	alice := h.dial(t, "alice")
	aliceTab := h.dial(t, "alice")
	bob := h.dial(t, "bob")
	alice.join("t1")
	aliceTab.join("t1")
	alice.expect(EvtUserJoined, nil)
	bob.join("t1")
	alice.expect(EvtUserJoined, nil)
	aliceTab.expect(EvtUserJoined, nil)

	// Origin socket known: only that tab is skipped.
	h.hub.NotifyMutated("t1", Origin{SocketID: alice.socketID, UserID: "alice"})
	var fetch FetchEvent
	aliceTab.expect(EvtFetch, &fetch)
	assert.Equal(t, "t1", fetch.TemplateID)
	bob.expect(EvtFetch, nil)

	// The next thing alice sees is her own roster reply, not a fetch.
	alice.join("t1")

	// Without a socket every session of the acting user is skipped.
	h.hub.NotifyMutated("t1", Origin{UserID: "alice"})
	bob.expect(EvtFetch, nil)
	alice.join("t1")
	aliceTab.join("t1")
}

func TestInboundFetchRelays(t *testing.T) {
	h := newHarness(t, Options{})
	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")
	alice.join("t1")
	bob.join("t1")
	alice.expect(EvtUserJoined, nil)

	alice.send(CmdFetch, TemplateRef{TemplateID: "t1"})
	bob.expect(EvtFetch, nil)
	alice.join("t1")
}

func TestEditingSignals(t *testing.T) {
	h := newHarness(t, Options{})
	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")
	alice.join("t1")
	bob.join("t1")
	alice.expect(EvtUserJoined, nil)

	alice.send(CmdEditingStart, EditingRef{TemplateID: "t1", CardID: "c1"})
	var editing EditingEvent
	bob.expect(EvtEditingStart, &editing)
	assert.Equal(t, "c1", editing.CardID)
	assert.Equal(t, "alice", editing.UserID)

	list := bob.join("t1")
	for _, m := range list.Users {
		if m.SocketID == alice.socketID {
			assert.Equal(t, "c1", m.EditingCardID)
		}
	}

	alice.send(CmdEditingEnd, EditingRef{TemplateID: "t1", CardID: "c1"})
	bob.expect(EvtEditingEnd, &editing)
	assert.Equal(t, "c1", editing.CardID)

	// Leaving while editing releases the card first.
	alice.send(CmdEditingStart, EditingRef{TemplateID: "t1", CardID: "c2"})
	bob.expect(EvtEditingStart, nil)
	require.NoError(t, alice.conn.Close())
	bob.expect(EvtEditingEnd, &editing)
	assert.Equal(t, "c2", editing.CardID)
	bob.expect(EvtUserLeft, nil)
}

func TestSendToUserAndKick(t *testing.T) {
	h := newHarness(t, Options{})
	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")
	alice.join("t1")
	bob.join("t1")
	alice.expect(EvtUserJoined, nil)

	h.hub.SendToUser("bob", EvtNotification, map[string]string{"kind": "collaborator_added"})
	var note map[string]string
	bob.expect(EvtNotification, &note)
	assert.Equal(t, "collaborator_added", note["kind"])

	h.hub.Kick("t1", "bob")
	var failure ErrorEvent
	bob.expect(EvtError, &failure)
	assert.Equal(t, "FORBIDDEN", failure.Code)
	alice.expect(EvtUserLeft, nil)

	members, err := h.hub.Members(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{alice.socketID}, socketIDs(members))
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, Options{Config: Config{RatePerSec: 0.001, RateBurst: 1}})
	alice := h.dial(t, "alice")

	alice.join("t1")
	alice.send(CmdJoin, TemplateRef{TemplateID: "t1"})
	var failure ErrorEvent
	alice.expect(EvtError, &failure)
	assert.Equal(t, "RATE_LIMITED", failure.Code)
}

func TestFullQueueDropsSession(t *testing.T) {
	h := NewHub(Options{Logger: zerolog.Nop()})
	c := &client{hub: h, socketID: "s1", send: make(chan []byte, 1), done: make(chan struct{}), templates: map[string]struct{}{}}

	assert.True(t, c.enqueue([]byte("one")))
	assert.False(t, c.enqueue([]byte("two")))
	select {
	case <-c.done:
	default:
		t.Fatal("session should be closed after overflowing its queue")
	}
	assert.False(t, c.enqueue([]byte("three")))
}

func TestHubAcrossInstances(t *testing.T) {
	s := miniredis.RunT(t)
	clientA, err := Connect("redis://" + s.Addr())
	require.NoError(t, err)
	defer clientA.Close()
	clientB, err := Connect("redis://" + s.Addr())
	require.NoError(t, err)
	defer clientB.Close()

	fanoutB := NewRedisFanout(clientB, "b")
	a := newHarness(t, Options{Roster: NewRedisRoster(clientA), Fanout: NewRedisFanout(clientA, "a"), Instance: "a"})
	b := newHarness(t, Options{Roster: NewRedisRoster(clientB), Fanout: fanoutB, Instance: "b"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	go func() { _ = a.hub.Run(ctx); done <- struct{}{} }()
	go func() { _ = b.hub.Run(ctx); done <- struct{}{} }()
	defer func() {
		cancel()
		<-done
		<-done
	}()
	require.Eventually(t, func() bool {
		return s.PubSubNumSub(fanoutChannel)[fanoutChannel] == 2
	}, 3*time.Second, 10*time.Millisecond)

	alice := a.dial(t, "alice")
	bob := b.dial(t, "bob")
	alice.join("t1")

	// Relayed events may interleave with bob's own replies.
	bob.send(CmdJoin, TemplateRef{TemplateID: "t1"})
	var list UsersListEvent
	bob.waitFor(EvtUsersList, &list)
	assert.ElementsMatch(t, []string{alice.socketID, bob.socketID}, socketIDs(list.Users))

	var joined UserJoinedEvent
	alice.waitFor(EvtUserJoined, &joined)
	assert.Equal(t, bob.socketID, joined.User.SocketID)

	a.hub.NotifyMutated("t1", Origin{SocketID: alice.socketID})
	var fetch FetchEvent
	bob.waitFor(EvtFetch, &fetch)
	assert.Equal(t, "t1", fetch.TemplateID)
}

func TestHubCloseLeaksNothing(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	roster := NewMemoryRoster()
	hub := NewHub(Options{Roster: roster, Authorizer: allowList{"alice": true}, Logger: zerolog.Nop()})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, Identity{UserID: "alice"})
	}))

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	s := &session{t: t, conn: conn}
	s.expect(EvtConnected, nil)
	s.join("t1")

	hub.Close()
	_ = conn.Close()
	server.Close()

	assert.False(t, roster.HasTemplate("t1"))
}
