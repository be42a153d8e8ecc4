package writer

import (
	"context"
	"time"

	"github.com/SteelMorgan/serverpulse-agent/internal/domain"
)

// EventWriter archives classified events in batches
type EventWriter interface {
	// WriteEvent adds an event to the pending batch, flushing when it is full
	WriteEvent(ctx context.Context, ev *domain.Event) error

	// Flush forces writing all pending events
	Flush(ctx context.Context) error

	// Close flushes pending events and stops the background flusher
	Close() error
}

// BatchConfig configures batch behavior
type BatchConfig struct {
	MaxSize             int           // Maximum events per batch
	FlushInterval       time.Duration // Maximum time an event waits before flush
	EnableDeduplication bool          // Skip events whose fingerprint is already stored
	AgentID             string
	Hostname            string
}
