package collector

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/SteelMorgan/serverpulse-agent/internal/domain"
)

// Metric groups accepted in collection.metrics
const (
	GroupSystemStats  = "system_stats"
	GroupDiskUsage    = "disk_usage"
	GroupNetworkStats = "network_stats"
	GroupProcessList  = "process_list"
)

// SystemCollector samples host metrics through gopsutil
type SystemCollector struct {
	topN      int
	cpuSample time.Duration
	groups    map[string]bool
	now       func() time.Time
}

// Option configures a SystemCollector
type Option func(*SystemCollector)

// WithTopProcesses sets how many processes are reported
func WithTopProcesses(n int) Option {
	return func(c *SystemCollector) { c.topN = n }
}

// WithCPUSample sets the window used to measure CPU utilization
func WithCPUSample(d time.Duration) Option {
	return func(c *SystemCollector) { c.cpuSample = d }
}

// WithGroups restricts collection to the named metric groups.
// An empty list collects everything.
func WithGroups(groups []string) Option {
	return func(c *SystemCollector) {
		if len(groups) == 0 {
			c.groups = nil
			return
		}
		c.groups = make(map[string]bool, len(groups))
		for _, g := range groups {
			c.groups[g] = true
		}
	}
}

// New creates a collector with a 1s CPU sample and top 10 processes
func New(opts ...Option) *SystemCollector {
	c := &SystemCollector{
		topN:      10,
		cpuSample: time.Second,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *SystemCollector) enabled(group string) bool {
	return c.groups == nil || c.groups[group]
}

// CollectAll takes one snapshot. Individual probe failures are recorded in
// snapshot.Errors; an error is returned only when nothing could be collected.
func (c *SystemCollector) CollectAll(ctx context.Context) (*domain.MetricsSnapshot, error) {
	snap := &domain.MetricsSnapshot{Timestamp: c.now().UTC()}

	type probe struct {
		name  string
		group string
		fn    func(context.Context, *domain.MetricsSnapshot) error
	}
	probes := []probe{
		{"system_info", GroupSystemStats, c.collectSystemInfo},
		{"cpu", GroupSystemStats, c.collectCPU},
		{"memory", GroupSystemStats, c.collectMemory},
		{"uptime", GroupSystemStats, c.collectUptime},
		{"load_average", GroupSystemStats, c.collectLoad},
		{"disk", GroupDiskUsage, c.collectDisk},
		{"network", GroupNetworkStats, c.collectNetwork},
		{"processes", GroupProcessList, c.collectProcesses},
	}

	attempted, failed := 0, 0
	for _, p := range probes {
		if !c.enabled(p.group) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attempted++
		if err := p.fn(ctx, snap); err != nil {
			failed++
			snap.Errors = append(snap.Errors, fmt.Sprintf("%s: %v", p.name, err))
			log.Debug().Err(err).Str("probe", p.name).Msg("Metric probe failed")
		}
	}

	if attempted > 0 && failed == attempted {
		return nil, fmt.Errorf("all metric probes failed: %v", snap.Errors)
	}

	log.Debug().
		Int("probes", attempted).
		Int("failed", failed).
		Msg("System metrics collected")
	return snap, nil
}

// SystemInfo describes the host for registration
func (c *SystemCollector) SystemInfo(ctx context.Context) (domain.SystemInfo, error) {
	var snap domain.MetricsSnapshot
	if err := c.collectSystemInfo(ctx, &snap); err != nil {
		return domain.SystemInfo{}, fmt.Errorf("failed to read host info: %w", err)
	}
	return snap.System, nil
}

func (c *SystemCollector) collectSystemInfo(ctx context.Context, snap *domain.MetricsSnapshot) error {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return err
	}
	snap.System = domain.SystemInfo{
		Hostname:        info.Hostname,
		OS:              info.OS,
		Platform:        info.Platform,
		PlatformVersion: info.PlatformVersion,
		KernelVersion:   info.KernelVersion,
		Arch:            info.KernelArch,
	}

	if logical, err := cpu.CountsWithContext(ctx, true); err == nil {
		snap.System.CPUCount = logical
	}
	if physical, err := cpu.CountsWithContext(ctx, false); err == nil {
		snap.System.CPUCountPhysical = physical
	}
	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		snap.System.CPUModel = infos[0].ModelName
		snap.CPU.FrequencyMHz = infos[0].Mhz
	}
	return nil
}

func (c *SystemCollector) collectCPU(ctx context.Context, snap *domain.MetricsSnapshot) error {
	// one sampling window for both totals and per-core values
	perCore, err := cpu.PercentWithContext(ctx, c.cpuSample, true)
	if err != nil {
		return err
	}
	snap.CPU.UsagePerCore = perCore
	if len(perCore) > 0 {
		var sum float64
		for _, p := range perCore {
			sum += p
		}
		snap.CPU.UsagePercent = sum / float64(len(perCore))
	}

	times, err := cpu.TimesWithContext(ctx, false)
	if err == nil && len(times) > 0 {
		t := times[0]
		snap.CPU.User = t.User
		snap.CPU.System = t.System
		snap.CPU.Idle = t.Idle
		snap.CPU.IOWait = t.Iowait
		snap.CPU.Steal = t.Steal
	}
	return nil
}

func (c *SystemCollector) collectMemory(ctx context.Context, snap *domain.MetricsSnapshot) error {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return err
	}
	snap.Memory = domain.MemoryMetrics{
		Total:     vm.Total,
		Available: vm.Available,
		Used:      vm.Used,
		Free:      vm.Free,
		Percent:   vm.UsedPercent,
		Buffers:   vm.Buffers,
		Cached:    vm.Cached,
	}

	if swap, err := mem.SwapMemoryWithContext(ctx); err == nil {
		snap.Memory.SwapTotal = swap.Total
		snap.Memory.SwapUsed = swap.Used
		snap.Memory.SwapPercent = swap.UsedPercent
	}
	return nil
}

func (c *SystemCollector) collectUptime(ctx context.Context, snap *domain.MetricsSnapshot) error {
	boot, err := host.BootTimeWithContext(ctx)
	if err != nil {
		return err
	}
	uptime, err := host.UptimeWithContext(ctx)
	if err != nil {
		return err
	}
	snap.Uptime = domain.UptimeInfo{
		BootTime:      time.Unix(int64(boot), 0).UTC(),
		UptimeSeconds: uptime,
	}
	return nil
}

func (c *SystemCollector) collectLoad(ctx context.Context, snap *domain.MetricsSnapshot) error {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return err
	}
	snap.LoadAverage = domain.LoadAverage{Load1: avg.Load1, Load5: avg.Load5, Load15: avg.Load15}
	return nil
}

func (c *SystemCollector) collectDisk(ctx context.Context, snap *domain.MetricsSnapshot) error {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return err
	}
	for _, p := range parts {
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			// permission denied on some system mounts
			continue
		}
		if usage.Total == 0 {
			continue
		}
		snap.Disk.Partitions = append(snap.Disk.Partitions, domain.PartitionUsage{
			Device:     p.Device,
			Mountpoint: p.Mountpoint,
			FSType:     p.Fstype,
			Total:      usage.Total,
			Used:       usage.Used,
			Free:       usage.Free,
			Percent:    usage.UsedPercent,
		})
	}

	counters, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		return nil
	}
	for _, io := range counters {
		snap.Disk.ReadCount += io.ReadCount
		snap.Disk.WriteCount += io.WriteCount
		snap.Disk.ReadBytes += io.ReadBytes
		snap.Disk.WriteBytes += io.WriteBytes
	}
	return nil
}

func (c *SystemCollector) collectNetwork(ctx context.Context, snap *domain.MetricsSnapshot) error {
	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return err
	}
	if len(counters) > 0 {
		t := counters[0]
		snap.Network = domain.NetworkMetrics{
			BytesSent:   t.BytesSent,
			BytesRecv:   t.BytesRecv,
			PacketsSent: t.PacketsSent,
			PacketsRecv: t.PacketsRecv,
			ErrIn:       t.Errin,
			ErrOut:      t.Errout,
			DropIn:      t.Dropin,
			DropOut:     t.Dropout,
		}
	}

	if conns, err := net.ConnectionsWithContext(ctx, "all"); err == nil {
		snap.Network.Connections = len(conns)
	}
	return nil
}

func (c *SystemCollector) collectProcesses(ctx context.Context, snap *domain.MetricsSnapshot) error {
	if c.topN <= 0 {
		return nil
	}
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return err
	}

	infos := make([]domain.ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// exited or access denied
			continue
		}
		info := domain.ProcessInfo{PID: p.Pid, Name: name}
		info.CPUPercent, _ = p.CPUPercentWithContext(ctx)
		info.MemoryPercent, _ = p.MemoryPercentWithContext(ctx)
		info.Username, _ = p.UsernameWithContext(ctx)
		if status, err := p.StatusWithContext(ctx); err == nil && len(status) > 0 {
			info.Status = status[0]
		}
		infos = append(infos, info)
	}

	snap.Processes = TopProcesses(infos, c.topN)
	return nil
}

// TopProcesses returns the n busiest processes ordered by CPU then memory
func TopProcesses(procs []domain.ProcessInfo, n int) []domain.ProcessInfo {
	sorted := append([]domain.ProcessInfo(nil), procs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CPUPercent != sorted[j].CPUPercent {
			return sorted[i].CPUPercent > sorted[j].CPUPercent
		}
		return sorted[i].MemoryPercent > sorted[j].MemoryPercent
	})
	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
