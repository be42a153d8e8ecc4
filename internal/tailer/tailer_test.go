package tailer

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func appendFile(t *testing.T, path, data string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(data); err != nil {
		f.Close()
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func texts(lines []Line) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Text
	}
	return out
}

func mustPoll(t *testing.T, tl *Tailer, path string) []string {
	t.Helper()
	lines, err := tl.Poll(path)
	if err != nil {
		t.Fatalf("Poll(%s) error = %v", path, err)
	}
	return texts(lines)
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPoll_NoLossNoDuplication(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 20; round++ {
		t.Run(fmt.Sprintf("round_%d", round), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "app.log")

			var want []string
			var sb strings.Builder
			n := 50 + rng.Intn(100)
			for i := 0; i < n; i++ {
				line := fmt.Sprintf("line %d %s", i, strings.Repeat("x", rng.Intn(40)))
				want = append(want, line)
				sb.WriteString(line)
				sb.WriteByte('\n')
			}
			data := sb.String()

			tl := New()
			var got []string
			for pos := 0; pos < len(data); {
				size := 1 + rng.Intn(120)
				if pos+size > len(data) {
					size = len(data) - pos
				}
				appendFile(t, path, data[pos:pos+size])
				pos += size

				if rng.Intn(3) > 0 {
					got = append(got, mustPoll(t, tl, path)...)
				}
			}
			got = append(got, mustPoll(t, tl, path)...)

			if !equal(got, want) {
				t.Fatalf("lines mismatch: got %d lines, want %d", len(got), len(want))
			}
			if extra := mustPoll(t, tl, path); len(extra) != 0 {
				t.Errorf("expected no lines after final poll, got %v", extra)
			}
		})
	}
}

func TestPoll_PartialLineDeferred(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	tl := New()

	appendFile(t, path, "first\nsec")
	if got := mustPoll(t, tl, path); !equal(got, []string{"first"}) {
		t.Fatalf("expected [first], got %v", got)
	}

	st, _ := tl.State(path)
	if st.Offset != int64(len("first\n")) {
		t.Errorf("offset must stop after last complete line, got %d", st.Offset)
	}

	if got := mustPoll(t, tl, path); len(got) != 0 {
		t.Fatalf("unterminated line must not be returned, got %v", got)
	}

	appendFile(t, path, "ond\nthird\n")
	if got := mustPoll(t, tl, path); !equal(got, []string{"second", "third"}) {
		t.Fatalf("expected [second third], got %v", got)
	}
}

func TestPoll_RotationToShorterFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "syslog")
	tl := New()

	appendFile(t, path, "old line one\nold line two\nold line three\n")
	if got := mustPoll(t, tl, path); len(got) != 3 {
		t.Fatalf("expected 3 lines, got %v", got)
	}

	if err := os.Rename(path, path+".1"); err != nil {
		t.Fatal(err)
	}
	appendFile(t, path, "new\n")

	if got := mustPoll(t, tl, path); !equal(got, []string{"new"}) {
		t.Fatalf("expected [new] from start of rotated file, got %v", got)
	}
}

func TestPoll_RotationToLongerFileDetectedByIdentity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "syslog")
	tl := New()

	appendFile(t, path, "a\n")
	mustPoll(t, tl, path)

	st, _ := tl.State(path)
	if !st.Identity.Known() {
		t.Skip("file identity not available on this platform")
	}

	if err := os.Rename(path, path+".1"); err != nil {
		t.Fatal(err)
	}
	appendFile(t, path, "fresh one\nfresh two\n")

	if got := mustPoll(t, tl, path); !equal(got, []string{"fresh one", "fresh two"}) {
		t.Fatalf("expected new file read from start, got %v", got)
	}
}

func TestPoll_Truncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	tl := New()

	appendFile(t, path, "0123456789\nabcdefghij\n")
	mustPoll(t, tl, path)

	if err := os.Truncate(path, 0); err != nil {
		t.Fatal(err)
	}
	appendFile(t, path, "short\n")

	if got := mustPoll(t, tl, path); !equal(got, []string{"short"}) {
		t.Fatalf("expected [short] after truncation, got %v", got)
	}
}

func TestPoll_MissingFileKeepsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	tl := New()

	lines, err := tl.Poll(path)
	if err != nil || len(lines) != 0 {
		t.Fatalf("missing file: got %v, %v", lines, err)
	}
	if _, ok := tl.State(path); ok {
		t.Error("missing file must not create state")
	}

	appendFile(t, path, "one\n")
	mustPoll(t, tl, path)
	before, _ := tl.State(path)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if got := mustPoll(t, tl, path); len(got) != 0 {
		t.Fatalf("expected nothing for removed file, got %v", got)
	}
	after, _ := tl.State(path)
	if after != before {
		t.Errorf("state changed for missing file: %+v -> %+v", before, after)
	}
}

func TestPoll_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.log")
	appendFile(t, path, "")
	tl := New()

	if got := mustPoll(t, tl, path); len(got) != 0 {
		t.Fatalf("expected no lines, got %v", got)
	}
	appendFile(t, path, "hello\n")
	if got := mustPoll(t, tl, path); !equal(got, []string{"hello"}) {
		t.Fatalf("expected [hello], got %v", got)
	}
}

func TestPoll_Directory(t *testing.T) {
	dir := t.TempDir()
	tl := New()

	_, err := tl.Poll(dir)
	if !errors.Is(err, ErrNotRegular) {
		t.Fatalf("expected ErrNotRegular, got %v", err)
	}
	if _, ok := tl.State(dir); ok {
		t.Error("failed poll must not create state")
	}
}

func TestPoll_CRLFAndOffsets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "win.log")
	appendFile(t, path, "one\r\ntwo\n")
	tl := New()

	lines, err := tl.Poll(path)
	if err != nil {
		t.Fatal(err)
	}
	if !equal(texts(lines), []string{"one", "two"}) {
		t.Fatalf("unexpected lines %v", texts(lines))
	}
	if lines[0].Start != 0 || lines[0].End != 5 || lines[1].Start != 5 || lines[1].End != 9 {
		t.Errorf("unexpected offsets %+v", lines)
	}
}

func TestPoll_LongLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "long.log")
	tl := New(WithMaxLineBytes(8), WithMaxBytesPerPoll(16))

	appendFile(t, path, strings.Repeat("a", 12)+"\nok\n")
	got := mustPoll(t, tl, path)
	if !equal(got, []string{"aaaaaaaa", "ok"}) {
		t.Fatalf("expected truncated long line then ok, got %v", got)
	}

	// unterminated run longer than the whole budget is forced out
	appendFile(t, path, strings.Repeat("b", 40))
	got = mustPoll(t, tl, path)
	if !equal(got, []string{"bbbbbbbb"}) {
		t.Fatalf("expected forced truncated line, got %v", got)
	}
}

func TestPoll_BudgetSpreadsAcrossPolls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.log")
	tl := New(WithMaxLineBytes(4), WithMaxBytesPerPoll(8))

	appendFile(t, path, "aa\nbb\ncc\ndd\n")

	var got []string
	for i := 0; i < 4; i++ {
		got = append(got, mustPoll(t, tl, path)...)
	}
	if !equal(got, []string{"aa", "bb", "cc", "dd"}) {
		t.Fatalf("expected all lines across polls, got %v", got)
	}
}

func TestPrime(t *testing.T) {
	dir := t.TempDir()

	t.Run("existing file starts at end", func(t *testing.T) {
		path := filepath.Join(dir, "existing.log")
		appendFile(t, path, "history\n")
		tl := New()
		if err := tl.Prime(path); err != nil {
			t.Fatal(err)
		}
		if got := mustPoll(t, tl, path); len(got) != 0 {
			t.Fatalf("history must be skipped, got %v", got)
		}
		appendFile(t, path, "live\n")
		if got := mustPoll(t, tl, path); !equal(got, []string{"live"}) {
			t.Fatalf("expected [live], got %v", got)
		}
	})

	t.Run("partial last line is kept", func(t *testing.T) {
		path := filepath.Join(dir, "partial.log")
		appendFile(t, path, "history\nhalf")
		tl := New()
		if err := tl.Prime(path); err != nil {
			t.Fatal(err)
		}
		appendFile(t, path, "-done\n")
		if got := mustPoll(t, tl, path); !equal(got, []string{"half-done"}) {
			t.Fatalf("expected [half-done], got %v", got)
		}
	})

	t.Run("over-long last line is skipped to its end", func(t *testing.T) {
		path := filepath.Join(dir, "long.log")
		appendFile(t, path, "history\n"+strings.Repeat("x", 40))
		tl := New(WithMaxLineBytes(16))
		if err := tl.Prime(path); err != nil {
			t.Fatal(err)
		}
		appendFile(t, path, "tail\n")
		if got := mustPoll(t, tl, path); len(got) != 0 {
			t.Fatalf("fragment of the primed line must not be returned, got %v", got)
		}
		appendFile(t, path, "next\n")
		if got := mustPoll(t, tl, path); !equal(got, []string{"next"}) {
			t.Fatalf("expected [next], got %v", got)
		}
	})

	t.Run("missing file is read from start when it appears", func(t *testing.T) {
		path := filepath.Join(dir, "later.log")
		tl := New()
		if err := tl.Prime(path); err != nil {
			t.Fatal(err)
		}
		appendFile(t, path, "first\n")
		if got := mustPoll(t, tl, path); !equal(got, []string{"first"}) {
			t.Fatalf("expected [first], got %v", got)
		}
	})
}

func TestRewind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	appendFile(t, path, "a\nb\nc\n")
	tl := New()

	lines, err := tl.Poll(path)
	if err != nil {
		t.Fatal(err)
	}
	tl.Rewind(path, lines[1].Start)

	if got := mustPoll(t, tl, path); !equal(got, []string{"b", "c"}) {
		t.Fatalf("expected [b c] after rewind, got %v", got)
	}

	st, _ := tl.State(path)
	tl.Rewind(path, st.Offset+10)
	after, _ := tl.State(path)
	if after.Offset != st.Offset {
		t.Error("forward rewind must be ignored")
	}
}

func TestSnapshotRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	appendFile(t, path, "a\nb\n")

	first := New()
	mustPoll(t, first, path)
	snap := first.Snapshot()
	if len(snap) != 1 || snap[0].Offset != 4 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	appendFile(t, path, "c\n")

	second := New()
	second.Restore(snap)
	if got := mustPoll(t, second, path); !equal(got, []string{"c"}) {
		t.Fatalf("expected [c] after restore, got %v", got)
	}

	second.Forget(path)
	if _, ok := second.State(path); ok {
		t.Error("Forget must drop state")
	}
}
