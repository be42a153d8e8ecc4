package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/SteelMorgan/serverpulse-agent/internal/classify"
	"github.com/SteelMorgan/serverpulse-agent/internal/domain"
	"github.com/SteelMorgan/serverpulse-agent/internal/tailer"
	"github.com/SteelMorgan/serverpulse-agent/internal/telemetry"
)

const tracerName = "serverpulse-agent/monitor"

// Sink receives classified events, one at a time and in file order.
// Deliver should honour ctx; a returned error means the event was not accepted.
// A call that outlives the sink timeout is awaited before the next delivery,
// and if it eventually succeeds its line is not delivered again.
type Sink interface {
	Deliver(ctx context.Context, ev domain.Event) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, ev domain.Event) error

// Deliver calls f
func (f SinkFunc) Deliver(ctx context.Context, ev domain.Event) error {
	return f(ctx, ev)
}

// OffsetStore persists tail positions between runs
type OffsetStore interface {
	LoadStates(ctx context.Context, monitor string) ([]tailer.State, error)
	SaveStates(ctx context.Context, monitor string, states []tailer.State) error
}

// Config describes one monitor loop
type Config struct {
	Name          string
	Sources       []classify.LogSource
	Interval      time.Duration
	ErrorCooldown time.Duration
	SinkTimeout   time.Duration
	StartAtEnd    bool
}

// Loop periodically tails its sources, classifies new lines and hands events to the sink.
// A Loop owns its Tailer and runs on a single goroutine.
type Loop struct {
	cfg        Config
	sink       Sink
	tailer     *tailer.Tailer
	classifier *classify.Classifier
	metrics    *telemetry.Metrics
	offsets    OffsetStore

	// pending is a delivery abandoned at the sink timeout but still running
	pending  *pendingDelivery
	accepted map[lineRef]bool
}

// lineRef names one line of one file
type lineRef struct {
	path  string
	start int64
}

type pendingDelivery struct {
	ref  lineRef
	done chan error
}

// Option configures a Loop
type Option func(*Loop)

// WithTailer replaces the default tailer
func WithTailer(t *tailer.Tailer) Option {
	return func(l *Loop) { l.tailer = t }
}

// WithClassifier replaces the default classifier
func WithClassifier(c *classify.Classifier) Option {
	return func(l *Loop) { l.classifier = c }
}

// WithMetrics records loop activity
func WithMetrics(m *telemetry.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// WithOffsetStore persists tail positions across restarts
func WithOffsetStore(s OffsetStore) Option {
	return func(l *Loop) { l.offsets = s }
}

// SinkError marks a delivery failure that aborted a cycle
type SinkError struct {
	Path   string
	Offset int64
	Err    error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("failed to deliver event from %s at offset %d: %v", e.Path, e.Offset, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// New creates a loop
func New(cfg Config, sink Sink, opts ...Option) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.ErrorCooldown <= 0 {
		cfg.ErrorCooldown = cfg.Interval
	}

	l := &Loop{cfg: cfg, sink: sink, accepted: make(map[lineRef]bool)}
	for _, opt := range opts {
		opt(l)
	}
	if l.tailer == nil {
		l.tailer = tailer.New()
	}
	if l.classifier == nil {
		l.classifier = classify.New(cfg.Name)
	}
	return l
}

// Name returns the loop name
func (l *Loop) Name() string {
	return l.cfg.Name
}

// Run polls until ctx is cancelled. Failures never stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	log.Info().
		Str("monitor", l.cfg.Name).
		Int("sources", len(l.cfg.Sources)).
		Dur("interval", l.cfg.Interval).
		Dur("error_cooldown", l.cfg.ErrorCooldown).
		Msg("Starting monitor loop")

	l.restore(ctx)
	if l.cfg.StartAtEnd {
		l.primeAll()
	}
	defer l.persist(context.Background())

	for {
		wait := l.cfg.Interval
		if err := l.RunCycle(ctx); err != nil && ctx.Err() == nil {
			log.Error().
				Err(err).
				Str("monitor", l.cfg.Name).
				Dur("cooldown", l.cfg.ErrorCooldown).
				Msg("Monitor cycle failed, cooling down")
			wait = l.cfg.ErrorCooldown
		}

		if !sleep(ctx, wait) {
			log.Info().Str("monitor", l.cfg.Name).Msg("Monitor loop stopped")
			return nil
		}
	}
}

// RunCycle polls every source once. Per-source failures are logged and skipped;
// the returned error is a *SinkError, after which the undelivered line has been
// rewound so the next cycle delivers it again.
func (l *Loop) RunCycle(ctx context.Context) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "monitor.cycle")
	span.SetAttributes(attribute.String("monitor.name", l.cfg.Name))
	start := time.Now()

	var lines, events int
	defer func() {
		l.metrics.ObserveCycle(l.cfg.Name, time.Since(start))
		span.SetAttributes(
			attribute.Int("monitor.lines", lines),
			attribute.Int("monitor.events", events),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "delivery failed")
		} else {
			span.SetStatus(codes.Ok, "success")
		}
		span.End()
		if lines > 0 {
			l.persist(ctx)
		}
	}()

	for i := range l.cfg.Sources {
		src := &l.cfg.Sources[i]
		for _, path := range l.expand(src) {
			if ctx.Err() != nil {
				return nil
			}
			n, e, err := l.pollPath(ctx, src, path)
			lines += n
			events += e
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// pollPath reads new lines of one file and delivers matching events.
// It returns lines read, events delivered and a *SinkError on delivery failure.
func (l *Loop) pollPath(ctx context.Context, src *classify.LogSource, path string) (int, int, error) {
	lines, err := l.tailer.Poll(path)
	if err != nil {
		log.Warn().
			Err(err).
			Str("monitor", l.cfg.Name).
			Str("file", path).
			Msg("Failed to poll log file, skipping until next cycle")
		l.metrics.ObservePollError(l.cfg.Name)
		return 0, 0, nil
	}
	l.metrics.ObserveLines(l.cfg.Name, len(lines))

	fileSrc := *src
	fileSrc.Path = path

	delivered := 0
	for _, line := range lines {
		ev, ok := l.classifier.Classify(line.Text, &fileSrc)
		if !ok {
			continue
		}

		if err := l.deliver(ctx, ev, lineRef{path: path, start: line.Start}); err != nil {
			l.tailer.Rewind(path, line.Start)
			l.metrics.ObserveSinkFailure(l.cfg.Name)
			return len(lines), delivered, &SinkError{Path: path, Offset: line.Start, Err: err}
		}
		l.metrics.ObserveEvent(l.cfg.Name, &ev)
		delivered++

		log.Debug().
			Str("monitor", l.cfg.Name).
			Str("file", path).
			Str("cause", string(ev.Cause)).
			Str("severity", ev.Severity.String()).
			Msg("Event delivered")
	}
	return len(lines), delivered, nil
}

// deliver hands ev to the sink, giving up after SinkTimeout even if the sink
// ignores ctx. A call given up on is remembered; the next delivery first waits
// for its outcome, and a late success marks ref as already accepted.
func (l *Loop) deliver(ctx context.Context, ev domain.Event, ref lineRef) error {
	if l.sink == nil {
		return errors.New("no sink configured")
	}

	dctx := ctx
	cancel := func() {}
	if l.cfg.SinkTimeout > 0 {
		dctx, cancel = context.WithTimeout(ctx, l.cfg.SinkTimeout)
	}
	defer cancel()

	if err := l.settle(dctx); err != nil {
		return err
	}
	for seen := range l.accepted {
		if seen.path != ref.path {
			continue
		}
		// only the rewound line itself can be the one already accepted
		delete(l.accepted, seen)
		if seen == ref {
			return nil
		}
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("sink panicked: %v", r)
			}
		}()
		done <- l.sink.Deliver(dctx, ev)
	}()

	select {
	case err := <-done:
		return err
	case <-dctx.Done():
		l.pending = &pendingDelivery{ref: ref, done: done}
		return fmt.Errorf("sink did not accept event: %w", dctx.Err())
	}
}

// settle waits for an abandoned delivery to finish
func (l *Loop) settle(ctx context.Context) error {
	if l.pending == nil {
		return nil
	}
	select {
	case err := <-l.pending.done:
		if err == nil {
			l.accepted[l.pending.ref] = true
			log.Warn().
				Str("monitor", l.cfg.Name).
				Str("file", l.pending.ref.path).
				Int64("offset", l.pending.ref.start).
				Msg("Sink accepted event after timeout, skipping redelivery")
		}
		l.pending = nil
		return nil
	case <-ctx.Done():
		return fmt.Errorf("previous delivery still in flight: %w", ctx.Err())
	}
}

// expand resolves a source path to the files it currently names, sorted.
// Plain paths are returned as is so that a missing file stays a quiet no-op.
func (l *Loop) expand(src *classify.LogSource) []string {
	if !strings.ContainsAny(src.Path, "*?[{") {
		return []string{src.Path}
	}

	matches, err := doublestar.FilepathGlob(src.Path, doublestar.WithFilesOnly())
	if err != nil {
		log.Warn().
			Err(err).
			Str("monitor", l.cfg.Name).
			Str("pattern", src.Path).
			Msg("Failed to expand source pattern")
		l.metrics.ObservePollError(l.cfg.Name)
		return nil
	}
	sort.Strings(matches)
	return matches
}

func (l *Loop) primeAll() {
	for i := range l.cfg.Sources {
		for _, path := range l.expand(&l.cfg.Sources[i]) {
			if err := l.tailer.Prime(path); err != nil {
				log.Warn().
					Err(err).
					Str("monitor", l.cfg.Name).
					Str("file", path).
					Msg("Failed to position at end of file")
			}
		}
	}
}

func (l *Loop) restore(ctx context.Context) {
	if l.offsets == nil {
		return
	}
	states, err := l.offsets.LoadStates(ctx, l.cfg.Name)
	if err != nil {
		log.Warn().Err(err).Str("monitor", l.cfg.Name).Msg("Failed to load saved offsets")
		return
	}
	l.tailer.Restore(states)
	log.Info().
		Str("monitor", l.cfg.Name).
		Int("files", len(states)).
		Msg("Restored saved offsets")
}

func (l *Loop) persist(ctx context.Context) {
	if l.offsets == nil {
		return
	}
	if err := l.offsets.SaveStates(ctx, l.cfg.Name, l.tailer.Snapshot()); err != nil {
		log.Warn().Err(err).Str("monitor", l.cfg.Name).Msg("Failed to save offsets")
	}
}

// sleep waits for d or until ctx is done; it reports whether the full wait elapsed
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
