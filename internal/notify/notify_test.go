package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"itinera/api/internal/store"
	"itinera/api/internal/store/storetest"
)

type pushed struct {
	userID    string
	eventType string
	payload   Payload
}

type recordingPusher struct {
	mu     sync.Mutex
	events []pushed
}

func (r *recordingPusher) SendToUser(userID, eventType string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, pushed{userID: userID, eventType: eventType, payload: data.(Payload)})
}

func (r *recordingPusher) snapshot() []pushed {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pushed(nil), r.events...)
}

type failingStore struct{}

func (failingStore) InsertNotification(context.Context, store.Notification) error {
	return errors.New("disk full")
}

func run(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func TestDispatcherStoresAndPushes(t *testing.T) {
	s := storetest.New(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertTemplate(context.Background(), store.Template{
		ID: "t1", OwnerUserID: "owner", Title: "Rome", Privacy: store.PrivacyPrivate, CreatedAt: now, UpdatedAt: now,
	}))

	pusher := &recordingPusher{}
	d := NewDispatcher(s, pusher, Options{
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return now },
		NewID:  func() string { return "n1" },
	})
	run(t, d)

	d.Notify(Event{RecipientUserID: "friend", ActorUserID: "owner", TemplateID: "t1", Kind: KindCollaboratorAdded, Message: "You can now edit Rome"})

	require.Eventually(t, func() bool { return len(pusher.snapshot()) == 1 }, 3*time.Second, 10*time.Millisecond)
	got := pusher.snapshot()[0]
	assert.Equal(t, "friend", got.userID)
	assert.Equal(t, EventType, got.eventType)
	assert.Equal(t, Payload{ID: "n1", Kind: KindCollaboratorAdded, Message: "You can now edit Rome", TemplateID: "t1", ActorUserID: "owner", CreatedAt: now}, got.payload)

	stored, err := s.ListNotifications(context.Background(), "friend", 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "t1", stored[0].TemplateID)
	assert.Nil(t, stored[0].ReadAt)
}

func TestDispatcherSkipsSelfNotifications(t *testing.T) {
	d := NewDispatcher(failingStore{}, nil, Options{Logger: zerolog.Nop(), QueueSize: 1})

	d.Notify(Event{RecipientUserID: "owner", ActorUserID: "owner", Kind: KindTemplateCopied})
	d.Notify(Event{ActorUserID: "owner", Kind: KindTemplateCopied})
	assert.Len(t, d.queue, 0)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	d := NewDispatcher(failingStore{}, nil, Options{Logger: zerolog.Nop(), QueueSize: 1})

	d.Notify(Event{RecipientUserID: "a", ActorUserID: "b", Kind: KindTemplateCopied})
	d.Notify(Event{RecipientUserID: "c", ActorUserID: "b", Kind: KindTemplateCopied})
	require.Len(t, d.queue, 1)
	assert.Equal(t, "a", (<-d.queue).RecipientUserID)
}

func TestDispatcherSwallowsStoreFailures(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pusher := &recordingPusher{}
	d := NewDispatcher(failingStore{}, pusher, Options{Logger: zerolog.Nop(), Workers: 2})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	d.Notify(Event{RecipientUserID: "a", ActorUserID: "b", Kind: KindTemplateCopied})
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, 3*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, pusher.snapshot())
}
