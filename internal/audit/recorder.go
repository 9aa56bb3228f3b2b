// Package audit forwards session lifecycle transitions to Kafka.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/EstateDesk/internal/authstate"
	pkgkafka "github.com/utafrali/EstateDesk/pkg/kafka"
)

// TopicSessionEvents carries session.authenticated and session.logged_out.
const TopicSessionEvents = "estatedesk.session.events"

// Event types.
const (
	EventAuthenticated = "session.authenticated"
	EventLoggedOut     = "session.logged_out"
)

const (
	defaultQueueSize    = 64
	defaultFlushTimeout = 5 * time.Second
)

var droppedEvents = promauto.NewCounter(prometheus.CounterOpts{
	Name: "estatedesk_audit_events_dropped_total",
	Help: "Session events dropped because the audit queue was full",
})

// Publisher is the Kafka side of the recorder.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// SessionData is the payload of both event types. Tokens are never included.
type SessionData struct {
	UserID         string `json:"user_id"`
	Email          string `json:"email,omitempty"`
	Role           string `json:"role,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
}

// Config tunes a Recorder.
type Config struct {
	Topic        string
	Source       string
	QueueSize    int
	FlushTimeout time.Duration
	Now          func() time.Time
}

// Recorder turns publisher notifications into events. Notifications are
// queued without blocking; Run drains the queue.
type Recorder struct {
	publisher Publisher
	cfg       Config
	queue     chan *pkgkafka.Event
	logger    *slog.Logger

	mu   sync.Mutex
	last authstate.State
}

// NewRecorder creates a Recorder publishing through pub.
func NewRecorder(pub Publisher, cfg Config, logger *slog.Logger) *Recorder {
	if cfg.Topic == "" {
		cfg.Topic = TopicSessionEvents
	}
	if cfg.Source == "" {
		cfg.Source = "estatedesk-dashboard"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = defaultFlushTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Recorder{
		publisher: pub,
		cfg:       cfg,
		queue:     make(chan *pkgkafka.Event, cfg.QueueSize),
		logger:    logger,
	}
}

// Attach subscribes to r and returns the unsubscribe function. The current
// state is taken as the baseline, so attaching alone emits nothing.
func (r *Recorder) Attach(reader authstate.Reader) func() {
	r.mu.Lock()
	r.last = reader.State()
	r.mu.Unlock()
	return reader.Subscribe(r.observe)
}

func (r *Recorder) observe(next authstate.State) {
	r.mu.Lock()
	prev := r.last
	r.last = next
	r.mu.Unlock()

	eventType, user := transition(prev, next)
	if eventType == "" {
		return
	}

	event, err := pkgkafka.NewEvent(eventType, user.UserID, r.cfg.Source, r.cfg.Now(), user)
	if err != nil {
		r.logger.Error("build session event", slog.String("error", err.Error()))
		return
	}

	select {
	case r.queue <- event:
	default:
		droppedEvents.Inc()
		r.logger.Warn("audit queue full, dropping session event",
			slog.String("event_type", eventType),
			slog.String("user_id", user.UserID),
		)
	}
}

// transition names the event for prev → next, if any. A switch between two
// users yields authenticated for the new one; loading flips are ignored.
func transition(prev, next authstate.State) (string, SessionData) {
	switch {
	case next.User != nil && (prev.User == nil || prev.User.ID != next.User.ID):
		return EventAuthenticated, SessionData{
			UserID:         next.User.ID,
			Email:          next.User.Email,
			Role:           next.User.Role,
			OrganizationID: next.User.OrganizationID,
		}
	case next.User == nil && prev.User != nil && next.Status() == authstate.StatusLoggedOut:
		return EventLoggedOut, SessionData{
			UserID:         prev.User.ID,
			OrganizationID: prev.User.OrganizationID,
		}
	default:
		return "", SessionData{}
	}
}

// Run publishes queued events until ctx is done, then flushes what is left
// within the configured timeout. Publish failures are logged and skipped.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case event := <-r.queue:
			r.send(ctx, event)
		case <-ctx.Done():
			return r.flush(context.WithoutCancel(ctx))
		}
	}
}

func (r *Recorder) flush(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.FlushTimeout)
	defer cancel()

	for {
		select {
		case event := <-r.queue:
			r.send(ctx, event)
		default:
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("flush session events: %w", ctx.Err())
		}
	}
}

func (r *Recorder) send(ctx context.Context, event *pkgkafka.Event) {
	if err := r.publisher.Publish(ctx, r.cfg.Topic, event); err != nil {
		r.logger.Warn("publish session event",
			slog.String("event_type", event.EventType),
			slog.String("error", err.Error()),
		)
	}
}
