package offset

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/SteelMorgan/serverpulse-agent/internal/tailer"
)

func openStore(t *testing.T) *BoltDBStore {
	t.Helper()
	s, err := NewBoltDBStore(filepath.Join(t.TempDir(), "offsets.db"))
	if err != nil {
		t.Fatalf("NewBoltDBStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBoltDBStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	crash := []tailer.State{
		{Path: "/var/log/kern.log", Offset: 100, Identity: tailer.Identity{Dev: 1, Ino: 2}},
		{Path: "/var/log/syslog", Offset: 4096, Identity: tailer.Identity{Dev: 1, Ino: 3}},
	}
	logs := []tailer.State{
		{Path: "/var/log/auth.log", Offset: 7},
	}

	if err := s.SaveStates(ctx, "crash_detector", crash); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveStates(ctx, "log_monitor", logs); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadStates(ctx, "crash_detector")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(crash) {
		t.Fatalf("LoadStates() returned %d states, want %d", len(got), len(crash))
	}
	for i := range crash {
		if got[i] != crash[i] {
			t.Errorf("state %d = %+v, want %+v", i, got[i], crash[i])
		}
	}

	other, err := s.LoadStates(ctx, "log_monitor")
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 1 || other[0] != logs[0] {
		t.Errorf("monitors must not share states, got %+v", other)
	}
}

func TestBoltDBStore_SaveReplaces(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	if err := s.SaveStates(ctx, "m", []tailer.State{{Path: "/a", Offset: 1}, {Path: "/b", Offset: 2}}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveStates(ctx, "m", []tailer.State{{Path: "/b", Offset: 5}}); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadStates(ctx, "m")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Path != "/b" || got[0].Offset != 5 {
		t.Fatalf("expected only /b at 5, got %+v", got)
	}
}

func TestBoltDBStore_DeleteList(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	if err := s.SaveStates(ctx, "m", []tailer.State{{Path: "/a", Offset: 10}, {Path: "/b", Offset: 20}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "m", "/a"); err != nil {
		t.Fatal(err)
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all["m:/b"] != 20 {
		t.Errorf("List() = %v", all)
	}
}

func TestBoltDBStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "offsets.db")

	s, err := NewBoltDBStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveStates(ctx, "m", []tailer.State{{Path: "/a", Offset: 42}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = NewBoltDBStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	got, err := s.LoadStates(ctx, "m")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Offset != 42 {
		t.Errorf("offsets lost across reopen: %+v", got)
	}
}
