package alerting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/SteelMorgan/serverpulse-agent/internal/domain"
	"github.com/SteelMorgan/serverpulse-agent/internal/telemetry"
)

// AlertSender delivers alerts to the collector
type AlertSender interface {
	SendAlert(ctx context.Context, alert domain.Alert) error
}

// EventArchive stores every delivered event
type EventArchive interface {
	WriteEvent(ctx context.Context, ev *domain.Event) error
}

// ErrClosed is returned by Deliver after the dispatcher stopped
var ErrClosed = errors.New("dispatcher stopped")

type item struct {
	event *domain.Event
	alert *domain.Alert
}

// Dispatcher accepts events from monitor loops into a bounded queue and
// forwards them from a single worker goroutine. A full queue blocks Deliver
// until ctx expires, which makes the loop rewind and retry later.
type Dispatcher struct {
	sender      AlertSender
	archive     EventArchive
	metrics     *telemetry.Metrics
	minSeverity domain.Severity
	sendTimeout time.Duration
	drain       time.Duration

	queue chan item
	done  chan struct{}

	// mu is held shared by enqueuers and exclusively by Run before draining,
	// so nothing lands in the queue after the drain starts
	mu     sync.RWMutex
	closed bool
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithArchive also writes every event to the archive
func WithArchive(a EventArchive) Option {
	return func(d *Dispatcher) { d.archive = a }
}

// WithMetrics records dispatch outcomes
func WithMetrics(m *telemetry.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithMinSeverity sets the lowest log event severity that becomes an alert
func WithMinSeverity(s domain.Severity) Option {
	return func(d *Dispatcher) { d.minSeverity = s }
}

// WithQueueSize sets the queue capacity
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan item, n)
		}
	}
}

// WithSendTimeout bounds each forward to the collector
func WithSendTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.sendTimeout = t }
}

// WithDrainTimeout bounds how long queued items are still forwarded after Run is cancelled
func WithDrainTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.drain = t }
}

// NewDispatcher creates a dispatcher. sender may be nil to only archive.
func NewDispatcher(sender AlertSender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sender:      sender,
		minSeverity: domain.SeverityHigh,
		sendTimeout: 2 * time.Minute,
		drain:       5 * time.Second,
		queue:       make(chan item, 256),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver implements monitor.Sink
func (d *Dispatcher) Deliver(ctx context.Context, ev domain.Event) error {
	return d.enqueue(ctx, item{event: &ev})
}

// Notify queues an alert that did not come from a log line
func (d *Dispatcher) Notify(ctx context.Context, alert domain.Alert) error {
	return d.enqueue(ctx, item{alert: &alert})
}

// OnServiceChange is a services.ChangeFunc that alerts on failures
func (d *Dispatcher) OnServiceChange(name string, prev, cur domain.ServiceStatus) {
	alert, ok := ServiceAlert(name, prev, cur)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Notify(ctx, alert); err != nil {
		log.Error().Err(err).Str("service", name).Msg("Failed to queue service alert")
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, it item) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	select {
	case d.queue <- it:
		d.metrics.SetQueueLength(len(d.queue))
		return nil
	case <-d.done:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("alert queue full: %w", ctx.Err())
	}
}

// Len returns the number of queued items
func (d *Dispatcher) Len() int {
	return len(d.queue)
}

// Run forwards queued items until ctx is cancelled, then drains what is
// left within the drain timeout
func (d *Dispatcher) Run(ctx context.Context) error {
	log.Info().
		Int("queue_size", cap(d.queue)).
		Str("min_severity", d.minSeverity.String()).
		Bool("archive", d.archive != nil).
		Msg("Starting alert dispatcher")

	for {
		select {
		case it := <-d.queue:
			d.metrics.SetQueueLength(len(d.queue))
			d.process(ctx, it)
		case <-ctx.Done():
			close(d.done)
			d.mu.Lock()
			d.closed = true
			d.mu.Unlock()
			d.drainQueue()
			log.Info().Msg("Alert dispatcher stopped")
			return nil
		}
	}
}

func (d *Dispatcher) drainQueue() {
	ctx, cancel := context.WithTimeout(context.Background(), d.drain)
	defer cancel()
	for {
		select {
		case it := <-d.queue:
			d.process(ctx, it)
		default:
			d.metrics.SetQueueLength(0)
			return
		}
		if ctx.Err() != nil {
			log.Warn().Int("dropped", len(d.queue)).Msg("Drain timeout reached, dropping queued alerts")
			return
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, it item) {
	if it.alert != nil {
		d.send(ctx, *it.alert)
		return
	}

	ev := it.event
	if d.archive != nil {
		if err := d.archive.WriteEvent(ctx, ev); err != nil {
			log.Warn().Err(err).Str("event_id", ev.ID).Msg("Failed to archive event")
		}
	}

	alert, ok := EventAlert(ev, d.minSeverity)
	if !ok {
		log.Debug().
			Str("event_id", ev.ID).
			Str("severity", ev.Severity.String()).
			Msg("Event below alert threshold")
		return
	}
	if alert.Type == domain.AlertTypeCrash {
		log.Warn().Str("cause", string(ev.Cause)).Str("file", ev.SourcePath).Msg("Crash detected")
	}
	d.send(ctx, alert)
}

func (d *Dispatcher) send(ctx context.Context, alert domain.Alert) {
	if d.sender == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	err := d.sender.SendAlert(sctx, alert)
	d.metrics.ObserveAlert(alert.Type, err)
	if err != nil {
		log.Error().
			Err(err).
			Str("type", alert.Type).
			Str("severity", alert.Severity.String()).
			Msg("Failed to send alert")
	}
}
