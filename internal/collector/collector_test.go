package collector

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/SteelMorgan/serverpulse-agent/internal/domain"
)

func TestCheckThresholds(t *testing.T) {
	th := Thresholds{CPUPercent: 80, MemoryPercent: 85, DiskPercent: 90, Load1: 5}

	tests := []struct {
		name     string
		snap     domain.MetricsSnapshot
		metrics  []string
		severity []domain.Severity
	}{
		{
			name: "all below",
			snap: domain.MetricsSnapshot{
				CPU:         domain.CPUMetrics{UsagePercent: 10},
				Memory:      domain.MemoryMetrics{Percent: 20},
				LoadAverage: domain.LoadAverage{Load1: 0.5},
			},
		},
		{
			name:     "equal is not exceeded",
			snap:     domain.MetricsSnapshot{CPU: domain.CPUMetrics{UsagePercent: 80}},
			metrics:  nil,
			severity: nil,
		},
		{
			name:     "cpu slightly over",
			snap:     domain.MetricsSnapshot{CPU: domain.CPUMetrics{UsagePercent: 81}},
			metrics:  []string{"cpu_percent"},
			severity: []domain.Severity{domain.SeverityHigh},
		},
		{
			name:     "memory far over",
			snap:     domain.MetricsSnapshot{Memory: domain.MemoryMetrics{Percent: 99}},
			metrics:  []string{"memory_percent"},
			severity: []domain.Severity{domain.SeverityCritical},
		},
		{
			name: "one alert per full partition",
			snap: domain.MetricsSnapshot{Disk: domain.DiskMetrics{Partitions: []domain.PartitionUsage{
				{Mountpoint: "/", Percent: 95},
				{Mountpoint: "/boot", Percent: 40},
				{Mountpoint: "/var", Percent: 91},
			}}},
			metrics:  []string{"disk_percent", "disk_percent"},
			severity: []domain.Severity{domain.SeverityHigh, domain.SeverityHigh},
		},
		{
			name:     "load",
			snap:     domain.MetricsSnapshot{LoadAverage: domain.LoadAverage{Load1: 12}},
			metrics:  []string{"load1"},
			severity: []domain.Severity{domain.SeverityCritical},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := CheckThresholds(&tt.snap, th)
			if len(alerts) != len(tt.metrics) {
				t.Fatalf("CheckThresholds() returned %d alerts, want %d: %+v", len(alerts), len(tt.metrics), alerts)
			}
			for i, a := range alerts {
				if a.Type != domain.AlertTypeThreshold {
					t.Errorf("alert %d type = %q", i, a.Type)
				}
				d, ok := a.Details.(ThresholdDetails)
				if !ok {
					t.Fatalf("alert %d details = %T", i, a.Details)
				}
				if d.Metric != tt.metrics[i] {
					t.Errorf("alert %d metric = %q, want %q", i, d.Metric, tt.metrics[i])
				}
				if a.Severity != tt.severity[i] {
					t.Errorf("alert %d severity = %v, want %v", i, a.Severity, tt.severity[i])
				}
			}
		})
	}
}

func TestCheckThresholds_DisabledAndNil(t *testing.T) {
	if got := CheckThresholds(nil, Thresholds{CPUPercent: 1}); got != nil {
		t.Errorf("nil snapshot produced %v", got)
	}
	snap := &domain.MetricsSnapshot{CPU: domain.CPUMetrics{UsagePercent: 100}}
	if got := CheckThresholds(snap, Thresholds{}); len(got) != 0 {
		t.Errorf("zero thresholds must disable checks, got %v", got)
	}
}

func TestTopProcesses(t *testing.T) {
	procs := []domain.ProcessInfo{
		{PID: 1, CPUPercent: 1, MemoryPercent: 5},
		{PID: 2, CPUPercent: 50},
		{PID: 3, CPUPercent: 1, MemoryPercent: 9},
		{PID: 4, CPUPercent: 20},
	}

	got := TopProcesses(procs, 3)
	want := []int32{2, 4, 3}
	if len(got) != len(want) {
		t.Fatalf("TopProcesses() len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].PID != want[i] {
			t.Errorf("position %d pid = %d, want %d", i, got[i].PID, want[i])
		}
	}
	if procs[0].PID != 1 {
		t.Error("input slice must not be reordered")
	}
}

func TestCollectAll_Host(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("host probes are exercised on linux only")
	}
	c := New(WithCPUSample(50*time.Millisecond), WithTopProcesses(3))
	c.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	snap, err := c.CollectAll(context.Background())
	if err != nil {
		t.Fatalf("CollectAll() error = %v", err)
	}
	if !snap.Timestamp.Equal(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("Timestamp = %v", snap.Timestamp)
	}
	if snap.Memory.Total == 0 {
		t.Error("expected memory total to be populated")
	}
	if len(snap.Processes) > 3 {
		t.Errorf("expected at most 3 processes, got %d", len(snap.Processes))
	}
}

func TestCollectAll_Groups(t *testing.T) {
	c := New(WithGroups([]string{"nothing-known"}))
	snap, err := c.CollectAll(context.Background())
	if err != nil {
		t.Fatalf("CollectAll() error = %v", err)
	}
	if snap.Memory.Total != 0 || len(snap.Processes) != 0 || len(snap.Errors) != 0 {
		t.Errorf("disabled groups must not be collected: %+v", snap)
	}
}

func TestCollectAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().CollectAll(ctx); err == nil {
		t.Error("expected error for cancelled context")
	}
}
