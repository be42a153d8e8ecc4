package collector

import (
	"fmt"

	"github.com/SteelMorgan/serverpulse-agent/internal/domain"
)

// Thresholds are the alerting limits for a snapshot. A zero value disables the check.
type Thresholds struct {
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
	Load1         float64
}

// ThresholdDetails is attached to threshold alerts
type ThresholdDetails struct {
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Target    string  `json:"target,omitempty"`
}

// CheckThresholds returns one alert per exceeded limit
func CheckThresholds(snap *domain.MetricsSnapshot, th Thresholds) []domain.Alert {
	if snap == nil {
		return nil
	}

	var alerts []domain.Alert
	add := func(sev domain.Severity, msg string, d ThresholdDetails) {
		alerts = append(alerts, domain.Alert{
			Type:      domain.AlertTypeThreshold,
			Severity:  sev,
			Message:   msg,
			Details:   d,
			Timestamp: snap.Timestamp,
		})
	}

	if th.CPUPercent > 0 && snap.CPU.UsagePercent > th.CPUPercent {
		add(overBy(snap.CPU.UsagePercent, th.CPUPercent),
			fmt.Sprintf("CPU usage %.1f%% exceeds %.1f%%", snap.CPU.UsagePercent, th.CPUPercent),
			ThresholdDetails{Metric: "cpu_percent", Value: snap.CPU.UsagePercent, Threshold: th.CPUPercent})
	}
	if th.MemoryPercent > 0 && snap.Memory.Percent > th.MemoryPercent {
		add(overBy(snap.Memory.Percent, th.MemoryPercent),
			fmt.Sprintf("Memory usage %.1f%% exceeds %.1f%%", snap.Memory.Percent, th.MemoryPercent),
			ThresholdDetails{Metric: "memory_percent", Value: snap.Memory.Percent, Threshold: th.MemoryPercent})
	}
	if th.DiskPercent > 0 {
		for _, p := range snap.Disk.Partitions {
			if p.Percent <= th.DiskPercent {
				continue
			}
			add(overBy(p.Percent, th.DiskPercent),
				fmt.Sprintf("Disk usage on %s %.1f%% exceeds %.1f%%", p.Mountpoint, p.Percent, th.DiskPercent),
				ThresholdDetails{Metric: "disk_percent", Value: p.Percent, Threshold: th.DiskPercent, Target: p.Mountpoint})
		}
	}
	if th.Load1 > 0 && snap.LoadAverage.Load1 > th.Load1 {
		add(overBy(snap.LoadAverage.Load1, th.Load1),
			fmt.Sprintf("Load average %.2f exceeds %.2f", snap.LoadAverage.Load1, th.Load1),
			ThresholdDetails{Metric: "load1", Value: snap.LoadAverage.Load1, Threshold: th.Load1})
	}
	return alerts
}

// overBy escalates to critical once the value is 10% above the limit
func overBy(value, limit float64) domain.Severity {
	if value >= limit*1.1 {
		return domain.SeverityCritical
	}
	return domain.SeverityHigh
}
