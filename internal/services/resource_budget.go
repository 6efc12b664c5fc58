package services

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// WorkerBudget is the concurrency chosen for parallel analysis stages.
type WorkerBudget struct {
	CPUCores          int     `json:"cpu_cores"`
	MemoryGB          float64 `json:"memory_gb"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	Workers           int     `json:"workers"`
}

// SystemStats is a point-in-time view of host resources.
type SystemStats struct {
	CPUCores          int     `json:"cpu_cores"`
	MemoryTotalGB     float64 `json:"memory_total_gb"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	Goroutines        int     `json:"goroutines"`
}

const bytesPerGB = 1024 * 1024 * 1024

// ReadSystemStats samples CPU and memory. Fields that cannot be read are left
// at their runtime fallbacks.
func ReadSystemStats(ctx context.Context) SystemStats {
	stats := SystemStats{CPUCores: runtime.NumCPU(), Goroutines: runtime.NumGoroutine()}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		stats.CPUCores = n
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemoryTotalGB = float64(vm.Total) / bytesPerGB
		stats.MemoryUsedPercent = vm.UsedPercent
	}
	return stats
}

// ComputeWorkerBudget sizes worker pools from the host: one worker per core,
// halved below 4GB of memory or above 85% memory use, clamped to
// [minWorkers, maxWorkers].
func ComputeWorkerBudget(stats SystemStats, minWorkers, maxWorkers int) WorkerBudget {
	if minWorkers < 1 {
		minWorkers = 1
	}
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}

	workers := stats.CPUCores
	if stats.MemoryTotalGB > 0 && stats.MemoryTotalGB < 4 {
		workers /= 2
	}
	if stats.MemoryUsedPercent > 85 {
		workers /= 2
	}
	workers = min(max(workers, minWorkers), maxWorkers)

	return WorkerBudget{
		CPUCores:          stats.CPUCores,
		MemoryGB:          stats.MemoryTotalGB,
		MemoryUsedPercent: stats.MemoryUsedPercent,
		Workers:           workers,
	}
}
