package tailer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultMaxLineBytes caps the text returned for a single line
	DefaultMaxLineBytes = 1024 * 1024 // 1MB
	// DefaultMaxBytesPerPoll caps how much of a file is read in one poll;
	// the remainder is picked up by the next poll
	DefaultMaxBytesPerPoll = 8 * 1024 * 1024

	primeScanChunk = 64 * 1024
)

// ErrNotRegular is returned when a source path is not a regular file
var ErrNotRegular = errors.New("not a regular file")

// Identity fingerprints the file behind a path (device+inode where available)
type Identity struct {
	Dev uint64
	Ino uint64
}

// Known reports whether the platform produced a usable fingerprint
func (i Identity) Known() bool {
	return i.Dev != 0 || i.Ino != 0
}

// State is the tail position of one path
type State struct {
	Path     string
	Offset   int64
	Identity Identity
}

// Line is a complete line read from a file.
// Start and End are byte offsets; End is just past the terminator.
type Line struct {
	Text  string
	Start int64
	End   int64
}

// Tailer reads complete lines appended to files since the previous poll.
// A Tailer is not safe for concurrent use: it is owned by one monitor loop.
type Tailer struct {
	states          map[string]*State
	midLine         map[string]bool // primed inside an over-long line
	maxLineBytes    int
	maxBytesPerPoll int64
}

// Option configures a Tailer
type Option func(*Tailer)

// WithMaxLineBytes overrides the per-line cap
func WithMaxLineBytes(n int) Option {
	return func(t *Tailer) {
		if n > 0 {
			t.maxLineBytes = n
		}
	}
}

// WithMaxBytesPerPoll overrides the per-poll read budget
func WithMaxBytesPerPoll(n int64) Option {
	return func(t *Tailer) {
		if n > 0 {
			t.maxBytesPerPoll = n
		}
	}
}

// New creates a tailer with an empty state table
func New(opts ...Option) *Tailer {
	t := &Tailer{
		states:          make(map[string]*State),
		midLine:         make(map[string]bool),
		maxLineBytes:    DefaultMaxLineBytes,
		maxBytesPerPoll: DefaultMaxBytesPerPoll,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.maxBytesPerPoll < int64(t.maxLineBytes) {
		t.maxBytesPerPoll = int64(t.maxLineBytes)
	}
	return t
}

// Poll returns the complete lines appended to path since the last poll, in file order.
// A missing file yields no lines and leaves the state untouched. On error the
// state is left untouched as well, so the same bytes are retried next poll.
func (t *Tailer) Poll(path string) ([]Line, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: %w", path, ErrNotRegular)
	}

	size := info.Size()
	id := identityOf(info)

	var offset int64
	prev, tracked := t.states[path]
	if tracked {
		offset = prev.Offset
		if rotated(prev.Identity, id) || size < offset {
			log.Info().
				Str("file", path).
				Int64("old_offset", offset).
				Int64("file_size", size).
				Bool("identity_changed", rotated(prev.Identity, id)).
				Msg("Log file rotated or truncated, reading from start")
			offset = 0
			delete(t.midLine, path)
		}
	}

	if size == offset {
		t.states[path] = &State{Path: path, Offset: offset, Identity: id}
		return nil, nil
	}

	budget := size - offset
	limited := false
	if budget > t.maxBytesPerPoll {
		budget = t.maxBytesPerPoll
		limited = true
	}

	buf := make([]byte, budget)
	n, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read %s at offset %d: %w", path, offset, err)
	}
	buf = buf[:n]

	skipped := false
	if t.midLine[path] {
		// drop the rest of the line Prime landed in
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			t.states[path] = &State{Path: path, Offset: offset + int64(n), Identity: id}
			return nil, nil
		}
		offset += int64(idx + 1)
		buf = buf[idx+1:]
		n = len(buf)
		skipped = true
		delete(t.midLine, path)
	}

	lines, consumed := t.split(buf, offset)

	// A line longer than the whole poll budget would otherwise never terminate
	if consumed == 0 && limited && !skipped && n > 0 {
		lines = append(lines, Line{
			Text:  string(truncate(buf, t.maxLineBytes)),
			Start: offset,
			End:   offset + int64(n),
		})
		consumed = int64(n)
		log.Warn().
			Str("file", path).
			Int64("offset", offset).
			Int("bytes", n).
			Msg("Line exceeds read budget, emitting truncated")
	}

	t.states[path] = &State{Path: path, Offset: offset + consumed, Identity: id}
	return lines, nil
}

// split cuts buf into complete lines. It returns the lines and how many bytes
// of buf they cover; a trailing unterminated segment is not consumed.
func (t *Tailer) split(buf []byte, base int64) ([]Line, int64) {
	var lines []Line
	var pos int
	for pos < len(buf) {
		idx := bytes.IndexByte(buf[pos:], '\n')
		if idx < 0 {
			break
		}
		raw := buf[pos : pos+idx]
		raw = bytes.TrimSuffix(raw, []byte{'\r'})
		lines = append(lines, Line{
			Text:  string(truncate(raw, t.maxLineBytes)),
			Start: base + int64(pos),
			End:   base + int64(pos+idx+1),
		})
		pos += idx + 1
	}
	return lines, int64(pos)
}

func truncate(b []byte, max int) []byte {
	if len(b) > max {
		return b[:max]
	}
	return b
}

func rotated(prev, cur Identity) bool {
	return prev.Known() && cur.Known() && prev != cur
}

// Prime starts tracking path at the end of its last complete line, so only
// lines written from now on are returned. Already tracked or missing paths are left alone.
func (t *Tailer) Prime(path string) error {
	if _, ok := t.states[path]; ok {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s: %w", path, ErrNotRegular)
	}

	offset, midLine, err := t.lastLineBoundary(f, info.Size())
	if err != nil {
		return fmt.Errorf("failed to seek to end of %s: %w", path, err)
	}
	if midLine {
		t.midLine[path] = true
	}

	t.states[path] = &State{Path: path, Offset: offset, Identity: identityOf(info)}
	log.Debug().
		Str("file", path).
		Int64("offset", offset).
		Msg("Positioned at end of file")
	return nil
}

// lastLineBoundary finds the offset just past the last '\n' in the file,
// scanning backwards at most maxLineBytes. midLine reports that no newline was
// found in that window, so the returned end of file lies inside a line.
func (t *Tailer) lastLineBoundary(f io.ReaderAt, size int64) (offset int64, midLine bool, err error) {
	limit := size - int64(t.maxLineBytes)
	if limit < 0 {
		limit = 0
	}

	end := size
	chunk := make([]byte, primeScanChunk)
	for end > limit {
		start := end - primeScanChunk
		if start < limit {
			start = limit
		}
		buf := chunk[:end-start]
		if _, err := f.ReadAt(buf, start); err != nil && !errors.Is(err, io.EOF) {
			return 0, false, err
		}
		if idx := bytes.LastIndexByte(buf, '\n'); idx >= 0 {
			return start + int64(idx) + 1, false, nil
		}
		end = start
	}

	if limit == 0 {
		// the whole file is one unterminated line still being written
		return 0, false, nil
	}
	return size, true, nil
}

// Rewind moves the offset of path back to offset so the bytes after it are
// returned again by the next poll. Forward moves are ignored.
func (t *Tailer) Rewind(path string, offset int64) {
	st, ok := t.states[path]
	if !ok || offset < 0 || offset >= st.Offset {
		return
	}
	st.Offset = offset
}

// Forget drops the state of path
func (t *Tailer) Forget(path string) {
	delete(t.states, path)
	delete(t.midLine, path)
}

// State returns the current state of path
func (t *Tailer) State(path string) (State, bool) {
	st, ok := t.states[path]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Snapshot returns a copy of all states ordered by path
func (t *Tailer) Snapshot() []State {
	out := make([]State, 0, len(t.states))
	for _, st := range t.states {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Restore seeds states for paths not tracked yet. Restored offsets are
// validated by the next poll like any other (identity and size checks).
func (t *Tailer) Restore(states []State) {
	for _, st := range states {
		if st.Path == "" || st.Offset < 0 {
			continue
		}
		if _, ok := t.states[st.Path]; ok {
			continue
		}
		s := st
		t.states[st.Path] = &s
	}
}
