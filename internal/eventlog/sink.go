// Package eventlog provides the durable, append-only record of every
// protocol event. The production sink persists to Postgres and fans
// events out on NATS without ever making the protocol path wait.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/pts-server/pts-server-pro/internal/metrics"
	"github.com/pts-server/pts-server-pro/internal/models"
	"github.com/pts-server/pts-server-pro/internal/storage"
)

// Sink accepts protocol events. Implementations must not block the
// caller.
type Sink interface {
	Record(event *models.EventLog)
}

// AsyncSink buffers events on a channel; a single worker persists each
// one and publishes it to NATS. A full buffer drops the event — a slow
// sink must never stall protocol responsiveness.
type AsyncSink struct {
	store   storage.Store
	nc      *nats.Conn
	metrics *metrics.Metrics

	ch   chan *models.EventLog
	done chan struct{}
}

// NewAsyncSink creates the sink. nc may be nil when NATS fan-out is
// not configured.
func NewAsyncSink(store storage.Store, nc *nats.Conn, bufferSize int, m *metrics.Metrics) *AsyncSink {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &AsyncSink{
		store:   store,
		nc:      nc,
		metrics: m,
		ch:      make(chan *models.EventLog, bufferSize),
		done:    make(chan struct{}),
	}
}

// Record enqueues an event. Never blocks; on a full buffer the event
// is dropped with a warning.
func (s *AsyncSink) Record(event *models.EventLog) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	select {
	case s.ch <- event:
	default:
		s.metrics.IncEventDropped()
		log.Warn().
			Str("pts_id", event.PtsID).
			Str("type", string(event.Type)).
			Msg("Event buffer full, dropping event")
	}
}

// Run drains the buffer until the context is cancelled, then finishes
// whatever is already queued. Call in its own goroutine.
func (s *AsyncSink) Run(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case event := <-s.ch:
			s.process(event)
		case <-ctx.Done():
			for {
				select {
				case event := <-s.ch:
					s.process(event)
				default:
					return
				}
			}
		}
	}
}

// Done reports worker completion after Run returns.
func (s *AsyncSink) Done() <-chan struct{} {
	return s.done
}

func (s *AsyncSink) process(event *models.EventLog) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.store.CreateEventLog(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("pts_id", event.PtsID).
			Str("type", string(event.Type)).
			Msg("Failed to persist event")
	}

	s.publish(event)
}

// publish fans the event out on NATS, best-effort.
func (s *AsyncSink) publish(event *models.EventLog) {
	if s.nc == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal event for NATS")
		return
	}

	subject := fmt.Sprintf("pts.%s.%s", event.PtsID, event.Type)
	if err := s.nc.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to publish event")
	}
}
