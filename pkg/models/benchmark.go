package models

import "time"

// BenchmarkCategory selects a benchmark workload.
type BenchmarkCategory string

const (
	BenchNetwork BenchmarkCategory = "network"
	BenchDisk    BenchmarkCategory = "disk"
	BenchMemory  BenchmarkCategory = "memory"
)

// Valid returns true if the category is a known value.
func (c BenchmarkCategory) Valid() bool {
	switch c {
	case BenchNetwork, BenchDisk, BenchMemory:
		return true
	default:
		return false
	}
}

// AllBenchmarkCategories returns every category in fixed run order.
func AllBenchmarkCategories() []BenchmarkCategory {
	return []BenchmarkCategory{BenchNetwork, BenchDisk, BenchMemory}
}

// BenchmarkResult is one measured metric. Results are append-only and
// never mutated after creation; they form the audit trail used to
// validate kernel and tunable changes.
type BenchmarkResult struct {
	// Category is the workload that produced the metric.
	Category BenchmarkCategory `json:"category"`
	// Metric is the metric name, e.g. "disk_write_mb_s".
	Metric string `json:"metric"`
	// Value is the measured value.
	Value float64 `json:"value"`
	// Unit is the value's unit, e.g. "MB/s".
	Unit string `json:"unit"`
	// KernelID references the kernel the measurement was taken under.
	KernelID string `json:"kernel_id,omitempty"`
	// TunableSetID references the tunable set in effect, if any.
	TunableSetID string `json:"tunable_set_id,omitempty"`
	// MeasuredAt is when the metric was recorded.
	MeasuredAt time.Time `json:"measured_at"`
}
