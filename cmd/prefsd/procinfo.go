package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/process"
)

type procStats struct {
	PID     int32
	Name    string
	RSS     uint64
	CPU     float64
	Started time.Time
}

// daemonStats samples the running daemon's resource usage by PID.
func daemonStats(ctx context.Context, pid int) (procStats, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return procStats{}, fmt.Errorf("process %d: %w", pid, err)
	}

	stats := procStats{PID: p.Pid}
	if name, err := p.NameWithContext(ctx); err == nil {
		stats.Name = name
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		stats.RSS = mem.RSS
	}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		stats.CPU = cpu
	}
	if ms, err := p.CreateTimeWithContext(ctx); err == nil {
		stats.Started = time.UnixMilli(ms)
	}
	return stats, nil
}

func (s procStats) String() string {
	out := fmt.Sprintf("PID %d, %s RSS, %.1f%% CPU", s.PID, humanize.IBytes(s.RSS), s.CPU)
	if !s.Started.IsZero() {
		out += ", started " + humanize.Time(s.Started)
	}
	return out
}
