package offset

import (
	"context"

	"github.com/SteelMorgan/serverpulse-agent/internal/tailer"
)

// Store persists tail positions per monitor
// Implementations: BoltDB
type Store interface {
	// LoadStates returns every saved state of monitor, ordered by path
	LoadStates(ctx context.Context, monitor string) ([]tailer.State, error)

	// SaveStates replaces the saved states of monitor
	SaveStates(ctx context.Context, monitor string, states []tailer.State) error

	// Delete removes the saved state of one file
	Delete(ctx context.Context, monitor, filePath string) error

	// List returns all saved offsets keyed by "monitor:path"
	List(ctx context.Context) (map[string]int64, error)

	// Close closes the store
	Close() error
}
