package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"screen-recorder/pkg/models"
)

// ErrInsufficientSpace is returned when the output volume is below the
// configured free space floor.
var ErrInsufficientSpace = errors.New("insufficient free space for recording")

type SystemMonitor struct {
	outputDir string
	minFree   uint64

	once   sync.Once
	static models.HostSpecs
	err    error
}

// NewSystemMonitor watches the volume holding outputDir. minFree 0 disables
// the free space check.
func NewSystemMonitor(outputDir string, minFree uint64) *SystemMonitor {
	return &SystemMonitor{outputDir: outputDir, minFree: minFree}
}

// CheckFreeSpace verifies the volume that will hold path has at least the
// configured free space. path need not exist yet.
func (m *SystemMonitor) CheckFreeSpace(ctx context.Context, path string) error {
	if m.minFree == 0 {
		return nil
	}
	dir := existingDir(path)
	usage, err := disk.UsageWithContext(ctx, dir)
	if err != nil {
		return fmt.Errorf("failed to get disk usage of %s: %w", dir, err)
	}
	if usage.Free < m.minFree {
		return fmt.Errorf("%w: %d bytes free on %s, need %d", ErrInsufficientSpace, usage.Free, dir, m.minFree)
	}
	return nil
}

// existingDir walks up from path to the nearest directory that exists.
func existingDir(path string) string {
	dir := filepath.Dir(filepath.Clean(path))
	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}

// Specs gathers host specs plus current CPU, RAM and disk figures.
func (m *SystemMonitor) Specs(ctx context.Context) (models.HostSpecs, error) {
	// Static specs don't change at runtime.
	m.once.Do(func() {
		m.static, m.err = staticSpecs(ctx)
	})
	if m.err != nil {
		return models.HostSpecs{}, m.err
	}
	specs := m.static

	// 1. Memory
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return specs, fmt.Errorf("failed to get mem stats: %w", err)
	}
	specs.MemoryTotal = v.Total
	specs.MemoryAvailable = v.Available

	// 2. CPU over a short window
	cpuPct, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false)
	if err != nil {
		return specs, fmt.Errorf("failed to get cpu stats: %w", err)
	}
	if len(cpuPct) > 0 {
		specs.CPUPercent = cpuPct[0]
	}

	// 3. Output volume
	if m.outputDir != "" {
		specs.OutputDir = m.outputDir
		usage, err := disk.UsageWithContext(ctx, existingDir(filepath.Join(m.outputDir, "x")))
		if err != nil {
			return specs, fmt.Errorf("failed to get disk usage: %w", err)
		}
		specs.DiskFree = usage.Free
		specs.DiskTotal = usage.Total
	}
	return specs, nil
}

func staticSpecs(ctx context.Context) (models.HostSpecs, error) {
	var specs models.HostSpecs
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return specs, fmt.Errorf("failed to get host info: %w", err)
	}
	specs.Hostname = info.Hostname
	specs.OS = info.OS
	specs.Platform = info.Platform

	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return specs, fmt.Errorf("failed to count cpus: %w", err)
	}
	specs.CPUCores = cores
	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		specs.CPUModel = infos[0].ModelName
	}
	return specs, nil
}
