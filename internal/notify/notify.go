// Package notify records and pushes best-effort notifications. A failure here
// never reaches the mutation that caused it.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"itinera/api/internal/metrics"
	"itinera/api/internal/store"
	"itinera/api/internal/util"
)

const (
	KindCollaboratorAdded   = "collaborator_added"
	KindCollaboratorRemoved = "collaborator_removed"
	KindTemplateCopied      = "template_copied"

	// EventType is the presence event that carries a notification.
	EventType = "notification"
)

// Event is one notification to deliver.
type Event struct {
	RecipientUserID string
	ActorUserID     string
	TemplateID      string
	Kind            string
	Message         string
}

// Payload is what open sessions of the recipient receive.
type Payload struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Message     string    `json:"message"`
	TemplateID  string    `json:"templateUuid,omitempty"`
	ActorUserID string    `json:"actorUserId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func NewPayload(n store.Notification) Payload {
	return Payload{
		ID:          n.ID,
		Kind:        n.Kind,
		Message:     n.Message,
		TemplateID:  n.TemplateID,
		ActorUserID: n.ActorUserID,
		CreatedAt:   n.CreatedAt,
	}
}

type Store interface {
	InsertNotification(ctx context.Context, n store.Notification) error
}

// Pusher delivers an event to the open sessions of a user.
type Pusher interface {
	SendToUser(userID, eventType string, data any)
}

type Options struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
	Now       func() time.Time
	NewID     func() string
}

type Dispatcher struct {
	store   Store
	pusher  Pusher
	opts    Options
	logger  zerolog.Logger
	metrics *metrics.Metrics
	queue   chan Event
}

func NewDispatcher(st Store, pusher Pusher, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = util.NewID
	}
	return &Dispatcher{
		store:   st,
		pusher:  pusher,
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "notify").Logger(),
		metrics: opts.Metrics,
		queue:   make(chan Event, opts.QueueSize),
	}
}

// Notify queues an event without blocking. Events are dropped when the
// queue is full or the recipient is the actor.
func (d *Dispatcher) Notify(e Event) {
	if e.RecipientUserID == "" || e.RecipientUserID == e.ActorUserID {
		return
	}
	select {
	case d.queue <- e:
	default:
		d.metrics.SideEffectFailed("notification")
		d.logger.Warn().
			Str("recipient_id", e.RecipientUserID).
			Str("template_id", e.TemplateID).
			Str("kind", e.Kind).
			Msg("notification queue full, dropping event")
	}
}

// Run delivers queued events until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.opts.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case e := <-d.queue:
					d.deliver(ctx, e)
				}
			}
		})
	}
	return g.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, e Event) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	n := store.Notification{
		ID:              d.opts.NewID(),
		RecipientUserID: e.RecipientUserID,
		ActorUserID:     e.ActorUserID,
		TemplateID:      e.TemplateID,
		Kind:            e.Kind,
		Message:         e.Message,
		CreatedAt:       d.opts.Now(),
	}
	if err := d.store.InsertNotification(ctx, n); err != nil {
		d.metrics.SideEffectFailed("notification")
		d.logger.Warn().Err(err).
			Str("recipient_id", e.RecipientUserID).
			Str("template_id", e.TemplateID).
			Str("kind", e.Kind).
			Msg("store notification")
		return
	}
	if d.pusher != nil {
		d.pusher.SendToUser(n.RecipientUserID, EventType, NewPayload(n))
	}
}
