package patterns

import (
	"strings"
	"testing"

	"github.com/SteelMorgan/serverpulse-agent/internal/domain"
)

func TestTable_FirstMatchWins(t *testing.T) {
	table, err := Compile([]string{`disk`, `disk full`})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	p, ok := table.Match("ERROR: disk full on /var")
	if !ok {
		t.Fatal("expected a match")
	}
	if p.Expr != "disk" {
		t.Errorf("expected first pattern to win, got %q", p.Expr)
	}
}

func TestTable_CaseInsensitiveUnanchored(t *testing.T) {
	table, err := Compile([]string{`out of memory`})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	tests := []struct {
		name string
		line string
		want bool
	}{
		{name: "mixed case mid-line", line: "Dec 25 kernel: Out Of Memory: Killed process 42", want: true},
		{name: "upper case", line: "OUT OF MEMORY", want: true},
		{name: "no match", line: "memory ok", want: false},
		{name: "empty", line: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got := table.Match(tt.line)
			if got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

func TestCompile_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		exprs []string
	}{
		{name: "invalid syntax", exprs: []string{`([a-z`}},
		{name: "empty pattern", exprs: []string{"  "}},
		{name: "nested quantifier", exprs: []string{`(a+)+`}},
		{name: "dot star plus", exprs: []string{`(.*)+`}},
		{name: "too long", exprs: []string{strings.Repeat("a", maxRegexLength+1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Compile(tt.exprs); err == nil {
				t.Errorf("Compile(%v) expected error", tt.exprs)
			}
		})
	}
}

func TestNilTable(t *testing.T) {
	var table *Table
	if _, ok := table.Match("anything"); ok {
		t.Error("nil table must not match")
	}
	if table.Len() != 0 {
		t.Error("nil table must be empty")
	}
}

func TestCrashTable(t *testing.T) {
	table := CrashTable()

	tests := []struct {
		line    string
		wantTag string
	}{
		{line: "Dec 25 14:30:45 server kernel: [12345.678901] Oops: 0002 [#1] SMP", wantTag: string(domain.CauseKernelPanic)},
		{line: "app[991]: segfault at 0 ip 00007f sp 00007ffd error 4", wantTag: string(domain.CauseSegmentationFault)},
		{line: "kernel: Memory cgroup out of memory: Killed process 1234 (java)", wantTag: string(domain.CauseOutOfMemory)},
		{line: "mce: [Hardware Error]: Machine check events logged", wantTag: string(domain.CauseHardwareError)},
		{line: "systemd[1]: nginx.service: Failed with result 'exit-code'", wantTag: string(domain.CauseServiceFailure)},
		{line: "blk_update_request: I/O error, dev sda, sector 0", wantTag: string(domain.CauseIOError)},
		{line: "connect to 10.0.0.1 port 80: Connection refused", wantTag: string(domain.CauseNetworkError)},
	}

	for _, tt := range tests {
		p, ok := table.Match(tt.line)
		if !ok {
			t.Errorf("expected %q to match the crash table", tt.line)
			continue
		}
		if p.CauseTag != tt.wantTag {
			t.Errorf("line %q matched %q (tag %q), want tag %q", tt.line, p.Expr, p.CauseTag, tt.wantTag)
		}
	}

	if _, ok := table.Match("sshd[1]: Accepted publickey for deploy"); ok {
		t.Error("benign line must not match the crash table")
	}
}

func TestDefaultLogSources(t *testing.T) {
	for _, src := range DefaultLogSources() {
		if _, err := Compile(src.Patterns); err != nil {
			t.Errorf("default patterns for %s do not compile: %v", src.Path, err)
		}
	}

	if got := DefaultPatternsFor(domain.KindNginx); len(got) != 4 {
		t.Errorf("expected 4 nginx patterns, got %d", len(got))
	}
	if got := DefaultPatternsFor(domain.KindSyslog); len(got) != len(crashSpecs) {
		t.Errorf("expected crash patterns for syslog kind, got %d", len(got))
	}
	if got := DefaultPatternsFor(domain.KindGeneric); got != nil {
		t.Errorf("expected no generic defaults, got %v", got)
	}
}
