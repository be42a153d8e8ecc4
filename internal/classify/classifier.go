package classify

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/SteelMorgan/serverpulse-agent/internal/domain"
	"github.com/SteelMorgan/serverpulse-agent/internal/patterns"
)

// fallbackTimestampLayout formats wall-clock time when a line carries no timestamp
const fallbackTimestampLayout = "2006-01-02 15:04:05"

// LogSource is one tailed file (or glob) with its parser and pattern table
type LogSource struct {
	Path     string
	Kind     domain.LogKind
	Patterns *patterns.Table
}

// Classifier turns raw lines into events
type Classifier struct {
	monitor string
	now     func() time.Time
	newID   func() string
}

// Option configures a Classifier
type Option func(*Classifier)

// WithClock overrides the wall clock used for fallback timestamps
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) { c.now = now }
}

// WithIDGenerator overrides event ID generation
func WithIDGenerator(newID func() string) Option {
	return func(c *Classifier) { c.newID = newID }
}

// New creates a classifier stamping events with the owning monitor name
func New(monitor string, opts ...Option) *Classifier {
	c := &Classifier{
		monitor: monitor,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify matches line against the source's pattern table and builds an event
// from the first matching pattern. It never fails: malformed input yields no
// event or an event with default fields.
func (c *Classifier) Classify(line string, src *LogSource) (ev domain.Event, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			var path string
			if src != nil {
				path = src.Path
			}
			log.Warn().
				Interface("panic", r).
				Str("file", path).
				Msg("Classification failed, line skipped")
			ev, ok = domain.Event{}, false
		}
	}()

	line = strings.TrimSpace(line)
	if line == "" || src == nil {
		return domain.Event{}, false
	}

	pattern, matched := src.Patterns.Match(line)
	if !matched {
		return domain.Event{}, false
	}

	now := c.now()
	ev = domain.Event{
		ID:             c.newID(),
		Monitor:        c.monitor,
		Type:           eventType(src.Kind),
		Timestamp:      extractTimestamp(line, now),
		DetectedAt:     now,
		SourcePath:     src.Path,
		SourceKind:     src.Kind,
		RawLine:        line,
		MatchedPattern: pattern.Expr,
		Severity:       severityFor(src.Kind, line),
		Cause:          domain.CauseUnknown,
		Fields:         extractCommonFields(line),
	}

	switch src.Kind {
	case domain.KindSyslog:
		ev.Cause = DetermineCause(line)
	case domain.KindAuth:
		applyAuth(&ev, line)
	case domain.KindNginx, domain.KindApache:
		if ip := firstGroup(clientIPRe, line); ip != "" {
			setField(&ev, domain.FieldClientIP, ip)
		}
	}

	if len(ev.Fields) == 0 {
		ev.Fields = nil
	}
	return ev, true
}

func eventType(kind domain.LogKind) string {
	switch kind {
	case domain.KindSyslog:
		return domain.EventTypeCrash
	case domain.KindAuth:
		return domain.EventTypeAuth
	case domain.KindNginx:
		return domain.EventTypeNginxError
	case domain.KindApache:
		return domain.EventTypeApacheError
	case domain.KindMySQL:
		return domain.EventTypeMySQLError
	default:
		return domain.EventTypeLog
	}
}

// applyAuth sets auth-specific cause, severity and fields.
// "Failed password" is checked before "Invalid user"; a line carrying both is a failed login.
func applyAuth(ev *domain.Event, line string) {
	switch {
	case strings.Contains(line, "Failed password"):
		ev.Cause = domain.CauseAuthFailedLogin
		ev.Severity = domain.SeverityHigh
		setField(ev, domain.FieldEventType, "failed_login")

		if m := failedPasswordRe.FindStringSubmatch(line); m != nil {
			setField(ev, domain.FieldUsername, m[1])
		} else if u := firstGroup(userRe, line); u != "" {
			setField(ev, domain.FieldUsername, u)
		}
		if ip := firstGroup(fromIPRe, line); ip != "" {
			setField(ev, domain.FieldSourceIP, ip)
		}

	case strings.Contains(line, "Invalid user"):
		ev.Cause = domain.CauseAuthInvalidUser
		ev.Severity = domain.SeverityHigh
		setField(ev, domain.FieldEventType, "invalid_user")

		if u := firstGroup(invalidUserRe, line); u != "" {
			setField(ev, domain.FieldUsername, u)
		}
		if ip := firstGroup(fromIPRe, line); ip != "" {
			setField(ev, domain.FieldSourceIP, ip)
		}
	}
}

func setField(ev *domain.Event, key, value string) {
	if ev.Fields == nil {
		ev.Fields = make(map[string]string)
	}
	ev.Fields[key] = value
}
