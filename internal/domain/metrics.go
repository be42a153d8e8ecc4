package domain

import "time"

// MetricsSnapshot is one sample of host metrics sent to the collector
type MetricsSnapshot struct {
	Timestamp   time.Time                `json:"timestamp"`
	System      SystemInfo               `json:"system_info"`
	CPU         CPUMetrics               `json:"cpu"`
	Memory      MemoryMetrics            `json:"memory"`
	Disk        DiskMetrics              `json:"disk"`
	Network     NetworkMetrics           `json:"network"`
	Uptime      UptimeInfo               `json:"uptime"`
	LoadAverage LoadAverage              `json:"load_average"`
	Processes   []ProcessInfo            `json:"processes"`
	Services    map[string]ServiceStatus `json:"services,omitempty"`
	Errors      []string                 `json:"errors,omitempty"` // partial collection failures
}

// SystemInfo describes the host
type SystemInfo struct {
	Hostname         string `json:"hostname"`
	OS               string `json:"system"`
	Platform         string `json:"platform"`
	PlatformVersion  string `json:"release"`
	KernelVersion    string `json:"version"`
	Arch             string `json:"machine"`
	CPUModel         string `json:"processor"`
	CPUCount         int    `json:"cpu_count"`
	CPUCountPhysical int    `json:"cpu_count_physical"`
}

// CPUMetrics holds CPU utilization
type CPUMetrics struct {
	UsagePercent float64   `json:"usage_percent"`
	UsagePerCore []float64 `json:"usage_per_core"`
	User         float64   `json:"user"`
	System       float64   `json:"system"`
	Idle         float64   `json:"idle"`
	IOWait       float64   `json:"iowait"`
	Steal        float64   `json:"steal"`
	FrequencyMHz float64   `json:"frequency_mhz"`
}

// MemoryMetrics holds virtual memory and swap usage
type MemoryMetrics struct {
	Total       uint64  `json:"total"`
	Available   uint64  `json:"available"`
	Used        uint64  `json:"used"`
	Free        uint64  `json:"free"`
	Percent     float64 `json:"percent"`
	Buffers     uint64  `json:"buffers"`
	Cached      uint64  `json:"cached"`
	SwapTotal   uint64  `json:"swap_total"`
	SwapUsed    uint64  `json:"swap_used"`
	SwapPercent float64 `json:"swap_percent"`
}

// DiskMetrics holds per-partition usage and aggregate IO counters
type DiskMetrics struct {
	Partitions []PartitionUsage `json:"usage"`
	ReadCount  uint64           `json:"read_count"`
	WriteCount uint64           `json:"write_count"`
	ReadBytes  uint64           `json:"read_bytes"`
	WriteBytes uint64           `json:"write_bytes"`
}

// PartitionUsage is usage of a single mounted filesystem
type PartitionUsage struct {
	Device     string  `json:"device"`
	Mountpoint string  `json:"mountpoint"`
	FSType     string  `json:"fstype"`
	Total      uint64  `json:"total"`
	Used       uint64  `json:"used"`
	Free       uint64  `json:"free"`
	Percent    float64 `json:"percent"`
}

// NetworkMetrics holds aggregate interface counters
type NetworkMetrics struct {
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
	ErrIn       uint64 `json:"errin"`
	ErrOut      uint64 `json:"errout"`
	DropIn      uint64 `json:"dropin"`
	DropOut     uint64 `json:"dropout"`
	Connections int    `json:"connections"`
}

// UptimeInfo holds boot time and uptime
type UptimeInfo struct {
	BootTime      time.Time `json:"boot_time"`
	UptimeSeconds uint64    `json:"uptime_seconds"`
}

// LoadAverage holds 1/5/15 minute load averages
type LoadAverage struct {
	Load1  float64 `json:"1min"`
	Load5  float64 `json:"5min"`
	Load15 float64 `json:"15min"`
}

// ProcessInfo is a single entry of the top process list
type ProcessInfo struct {
	PID           int32   `json:"pid"`
	Name          string  `json:"name"`
	Username      string  `json:"username"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float32 `json:"memory_percent"`
	Status        string  `json:"status"`
}
