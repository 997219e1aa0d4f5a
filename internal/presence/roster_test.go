package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisRoster, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client, err := Connect("redis://" + s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisRoster(client), s
}

type rosterCase struct {
	name   string
	roster Roster
	hasKey func(templateID string) bool
}

func rosters(t *testing.T) []rosterCase {
	memory := NewMemoryRoster()
	redisRoster, s := setupTestRedis(t)
	return []rosterCase{
		{name: "memory", roster: memory, hasKey: memory.HasTemplate},
		{name: "redis", roster: redisRoster, hasKey: func(templateID string) bool { return s.Exists(rosterPrefix + templateID) }},
	}
}

func TestRosterJoinLeave(t *testing.T) {
	for _, rc := range rosters(t) {
		t.Run(rc.name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

			members, err := rc.roster.Join(ctx, Entry{TemplateID: "t1", SocketID: "s1", UserID: "alice", DisplayName: "Alice", JoinedAt: base})
			require.NoError(t, err)
			require.Len(t, members, 1)
			assert.Equal(t, "s1", members[0].SocketID)

			// A second tab of the same user is a separate session.
			members, err = rc.roster.Join(ctx, Entry{TemplateID: "t1", SocketID: "s2", UserID: "alice", JoinedAt: base.Add(time.Second)})
			require.NoError(t, err)
			require.Len(t, members, 2)
			assert.Equal(t, []string{"s1", "s2"}, []string{members[0].SocketID, members[1].SocketID})

			require.NoError(t, rc.roster.SetEditing(ctx, "t1", "s2", "card-9"))
			members, err = rc.roster.Members(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, "card-9", members[1].EditingCardID)

			entry, removed, err := rc.roster.Leave(ctx, "t1", "s1")
			require.NoError(t, err)
			assert.True(t, removed)
			assert.Equal(t, "Alice", entry.DisplayName)
			assert.True(t, rc.hasKey("t1"))

			_, removed, err = rc.roster.Leave(ctx, "t1", "s1")
			require.NoError(t, err)
			assert.False(t, removed)

			entry, removed, err = rc.roster.Leave(ctx, "t1", "s2")
			require.NoError(t, err)
			assert.True(t, removed)
			assert.Equal(t, "card-9", entry.EditingCardID)
			assert.False(t, rc.hasKey("t1"), "empty template keys are deleted")

			members, err = rc.roster.Members(ctx, "t1")
			require.NoError(t, err)
			assert.Empty(t, members)
		})
	}
}

func TestRosterSetEditingUnknownSession(t *testing.T) {
	for _, rc := range rosters(t) {
		t.Run(rc.name, func(t *testing.T) {
			require.NoError(t, rc.roster.SetEditing(context.Background(), "nope", "s1", "c1"))
			assert.False(t, rc.hasKey("nope"))
		})
	}
}

func TestConnectFailure(t *testing.T) {
	_, err := Connect("redis://127.0.0.1:1/0")
	assert.Error(t, err)
	_, err = Connect("not a url")
	assert.Error(t, err)
}

func TestRedisFanoutSkipsOwnMessages(t *testing.T) {
	s := miniredis.RunT(t)
	clientA, err := Connect("redis://" + s.Addr())
	require.NoError(t, err)
	defer clientA.Close()
	clientB, err := Connect("redis://" + s.Addr())
	require.NoError(t, err)
	defer clientB.Close()

	a := NewRedisFanout(clientA, "instance-a")
	b := NewRedisFanout(clientB, "instance-b")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Broadcast, 4)
	readyA, readyB := make(chan struct{}), make(chan struct{})
	ownEcho := make(chan Broadcast, 4)
	go func() { _ = a.Subscribe(ctx, readyA, func(m Broadcast) { ownEcho <- m }) }()
	go func() { _ = b.Subscribe(ctx, readyB, func(m Broadcast) { received <- m }) }()
	<-readyA
	<-readyB

	env, err := NewEnvelope(EvtFetch, FetchEvent{TemplateID: "t1"})
	require.NoError(t, err)
	require.NoError(t, a.Publish(ctx, Broadcast{TemplateID: "t1", Envelope: env, ExceptSocket: "s1"}))

	select {
	case got := <-received:
		assert.Equal(t, "t1", got.TemplateID)
		assert.Equal(t, "s1", got.ExceptSocket)
		assert.Equal(t, "instance-a", got.Origin)
		assert.Equal(t, EvtFetch, got.Envelope.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast was not relayed")
	}

	select {
	case got := <-ownEcho:
		t.Fatalf("publisher received its own broadcast: %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}
