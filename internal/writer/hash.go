package writer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/SteelMorgan/serverpulse-agent/internal/domain"
)

// Fingerprint identifies an event by where it was read and what it said.
// A line redelivered after a sink failure yields the same fingerprint.
func Fingerprint(ev *domain.Event) string {
	h := sha256.New()

	fmt.Fprintf(h, "%s|", ev.Monitor)
	fmt.Fprintf(h, "%s|", ev.SourcePath)
	fmt.Fprintf(h, "%s|", ev.Timestamp)
	fmt.Fprintf(h, "%s|", ev.MatchedPattern)
	fmt.Fprintf(h, "%s|", ev.RawLine)

	return hex.EncodeToString(h.Sum(nil))
}

// fieldArrays flattens Event.Fields into sorted parallel arrays
func fieldArrays(m map[string]string) ([]string, []string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = m[k]
	}
	return keys, values
}
