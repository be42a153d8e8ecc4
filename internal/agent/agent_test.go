package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SteelMorgan/serverpulse-agent/internal/api"
	"github.com/SteelMorgan/serverpulse-agent/internal/collector"
	"github.com/SteelMorgan/serverpulse-agent/internal/config"
	"github.com/SteelMorgan/serverpulse-agent/internal/domain"
	"github.com/SteelMorgan/serverpulse-agent/internal/services"
)

type fakeTransport struct {
	mu          sync.Mutex
	registerErr error
	registered  bool
	metrics     int
	heartbeats  int
	alerts      []domain.Alert
	commands    []api.Command
	acks        map[api.CommandID]interface{}
}

func (f *fakeTransport) Register(ctx context.Context, info domain.SystemInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = f.registerErr == nil
	return f.registerErr
}

func (f *fakeTransport) SendMetrics(ctx context.Context, snap *domain.MetricsSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics++
	return nil
}

func (f *fakeTransport) SendHeartbeat(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	return nil
}

func (f *fakeTransport) SendAlert(ctx context.Context, alert domain.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
	return nil
}

func (f *fakeTransport) GetCommands(ctx context.Context) ([]api.Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmds := f.commands
	f.commands = nil
	return cmds, nil
}

func (f *fakeTransport) AcknowledgeCommand(ctx context.Context, id api.CommandID, result interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acks == nil {
		f.acks = make(map[api.CommandID]interface{})
	}
	f.acks[id] = result
	return nil
}

func (f *fakeTransport) alertTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.alerts))
	for i, a := range f.alerts {
		out[i] = a.Type
	}
	return out
}

type fakeSource struct {
	snap domain.MetricsSnapshot
}

func (f *fakeSource) CollectAll(ctx context.Context) (*domain.MetricsSnapshot, error) {
	s := f.snap
	return &s, nil
}

func (f *fakeSource) SystemInfo(ctx context.Context) (domain.SystemInfo, error) {
	return domain.SystemInfo{Hostname: "test-host"}, nil
}

type okExecutor struct {
	mu   sync.Mutex
	runs []string
}

func (e *okExecutor) Execute(ctx context.Context, name string, args ...string) (string, error) {
	cmd := strings.Join(append([]string{name}, args...), " ")
	e.mu.Lock()
	e.runs = append(e.runs, cmd)
	e.mu.Unlock()

	switch {
	case strings.Contains(cmd, "is-active"):
		return "active", nil
	case strings.Contains(cmd, "show"):
		return "ActiveState=active\nLoadState=loaded\nSubState=running\nMainPID=1", nil
	case strings.Contains(cmd, "restart missing"):
		return "", errors.New("exit status 5")
	}
	return "", nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Server.Endpoint = "https://collector.test"
	cfg.Server.AuthToken = "token"
	cfg.Server.AgentID = "agent-1"
	cfg.Monitoring.Services = []string{"nginx"}
	cfg.Monitoring.LogPaths = []string{filepath.Join(dir, "syslog")}
	cfg.Monitoring.CustomLogs = []config.CustomLog{
		{Path: filepath.Join(dir, "auth.log"), Parser: "auth"},
	}
	cfg.Monitoring.StartAtEnd = false
	cfg.Monitoring.CrashInterval = 1
	cfg.Monitoring.LogInterval = 1
	return cfg
}

func newTestAgent(t *testing.T, cfg *config.Config, tr *fakeTransport, src *fakeSource, ex *okExecutor) *Agent {
	t.Helper()
	mon := services.NewMonitor(services.Config{Services: cfg.Monitoring.Services}, services.WithExecutor(ex))
	a, err := New(cfg, WithTransport(tr), WithMetricsSource(src), WithServiceMonitor(mon))
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestCrashSources(t *testing.T) {
	cfg := config.Default()
	cfg.Monitoring.LogPaths = nil
	sources := CrashSources(cfg)
	if len(sources) != 3 {
		t.Fatalf("expected default crash paths, got %d", len(sources))
	}
	for _, s := range sources {
		if s.Kind != domain.KindSyslog || s.Patterns.Len() == 0 {
			t.Errorf("unexpected crash source %+v", s)
		}
	}
}

func TestLogSources(t *testing.T) {
	t.Run("defaults when empty", func(t *testing.T) {
		cfg := config.Default()
		cfg.Monitoring.CustomLogs = nil
		sources, err := LogSources(cfg)
		if err != nil {
			t.Fatal(err)
		}
		if len(sources) != 4 || sources[0].Kind != domain.KindAuth {
			t.Errorf("unexpected default sources %+v", sources)
		}
	})

	t.Run("parser defaults fill missing patterns", func(t *testing.T) {
		cfg := config.Default()
		cfg.Monitoring.CustomLogs = []config.CustomLog{{Path: "/srv/nginx/error.log", Parser: "nginx"}}
		sources, err := LogSources(cfg)
		if err != nil {
			t.Fatal(err)
		}
		if sources[0].Kind != domain.KindNginx || sources[0].Patterns.Len() != 4 {
			t.Errorf("unexpected source %+v", sources[0])
		}
	})

	t.Run("invalid pattern", func(t *testing.T) {
		cfg := config.Default()
		cfg.Monitoring.CustomLogs = []config.CustomLog{{Path: "/x.log", Patterns: []string{"("}}}
		if _, err := LogSources(cfg); err == nil {
			t.Error("expected compile error")
		}
	})

	t.Run("unknown parser", func(t *testing.T) {
		cfg := config.Default()
		cfg.Monitoring.CustomLogs = []config.CustomLog{{Path: "/x.log", Parser: "cobol"}}
		if _, err := LogSources(cfg); err == nil {
			t.Error("expected parser error")
		}
	})
}

func TestThresholdTracker(t *testing.T) {
	tr := newThresholdTracker()
	cpu := domain.Alert{Details: collector.ThresholdDetails{Metric: "cpu_percent"}}
	disk := domain.Alert{Details: collector.ThresholdDetails{Metric: "disk_percent", Target: "/"}}

	if got := tr.update([]domain.Alert{cpu}); len(got) != 1 {
		t.Fatalf("first breach must alert, got %d", len(got))
	}
	if got := tr.update([]domain.Alert{cpu, disk}); len(got) != 1 {
		t.Fatalf("only the new breach must alert, got %d", len(got))
	}
	tr.update(nil)
	if got := tr.update([]domain.Alert{cpu}); len(got) != 1 {
		t.Errorf("breach after recovery must alert again, got %d", len(got))
	}
}

func TestPollCommands(t *testing.T) {
	cfg := testConfig(t)
	tr := &fakeTransport{commands: []api.Command{
		{ID: "1", Type: CommandRestartService, Parameters: map[string]interface{}{"service": "nginx"}},
		{ID: "2", Type: CommandRestartService, Parameters: map[string]interface{}{"service": "missing"}},
		{ID: "3", Type: CommandRestartService},
		{ID: "4", Type: CommandCollectMetrics},
		{ID: "5", Type: "reboot"},
	}}
	ex := &okExecutor{}
	a := newTestAgent(t, cfg, tr, &fakeSource{}, ex)

	a.pollCommands(context.Background())

	want := map[api.CommandID]string{"1": "success", "2": "error", "3": "error", "4": "success", "5": "unsupported"}
	for id, status := range want {
		res, ok := tr.acks[id].(CommandResult)
		if !ok {
			t.Errorf("command %s not acknowledged", id)
			continue
		}
		if res.Status != status {
			t.Errorf("command %s status = %q, want %q", id, res.Status, status)
		}
	}
	if tr.metrics != 1 {
		t.Errorf("collect_metrics must send a snapshot, sent %d", tr.metrics)
	}
}

func TestCollectAndSend_ThresholdAlertOnce(t *testing.T) {
	cfg := testConfig(t)
	tr := &fakeTransport{}
	src := &fakeSource{snap: domain.MetricsSnapshot{CPU: domain.CPUMetrics{UsagePercent: 99}}}
	a := newTestAgent(t, cfg, tr, src, &okExecutor{})

	a.collectAndSend(context.Background())
	a.collectAndSend(context.Background())

	if tr.metrics != 2 {
		t.Errorf("metrics sent %d times, want 2", tr.metrics)
	}
	if got := tr.alertTypes(); len(got) != 1 || got[0] != domain.AlertTypeThreshold {
		t.Errorf("expected a single threshold alert, got %v", got)
	}
}

func TestRun_RegistrationFailure(t *testing.T) {
	cfg := testConfig(t)
	tr := &fakeTransport{registerErr: api.ErrRegistrationFailed}
	a := newTestAgent(t, cfg, tr, &fakeSource{}, &okExecutor{})

	if err := a.Run(context.Background()); !errors.Is(err, api.ErrRegistrationFailed) {
		t.Fatalf("Run() error = %v, want registration failure", err)
	}
}

func TestRun_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.OffsetDB = filepath.Join(t.TempDir(), "offsets.db")
	if err := os.WriteFile(cfg.Monitoring.LogPaths[0], []byte("Dec 25 14:30:45 host kernel: Oops: 0002 [#1] SMP\n"), 0644); err != nil {
		t.Fatal(err)
	}
	authLine := "Dec 25 14:31:00 host sshd[99]: Failed password for root from 10.0.0.7 port 22 ssh2\n"
	if err := os.WriteFile(cfg.Monitoring.CustomLogs[0].Path, []byte(authLine), 0644); err != nil {
		t.Fatal(err)
	}

	tr := &fakeTransport{}
	a := newTestAgent(t, cfg, tr, &fakeSource{}, &okExecutor{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(tr.alertTypes()) >= 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}

	types := strings.Join(tr.alertTypes(), ",")
	if !strings.Contains(types, domain.AlertTypeCrash) || !strings.Contains(types, domain.AlertTypeLogEvent) {
		t.Errorf("expected crash and log alerts, got %s", types)
	}
	if !tr.registered {
		t.Error("agent did not register")
	}
	if _, err := os.Stat(cfg.Storage.OffsetDB); err != nil {
		t.Errorf("offset store not created: %v", err)
	}
}
