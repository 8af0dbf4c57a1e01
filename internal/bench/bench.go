// Package bench measures network, disk and memory performance so kernel
// and tunable changes can be compared over time. Results are append-only;
// each row links the kernel and tunable set it was measured under.
package bench

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/vkm-dev/vkm/internal/exec"
	"github.com/vkm-dev/vkm/internal/logging"
	"github.com/vkm-dev/vkm/internal/state"
	"github.com/vkm-dev/vkm/pkg/models"
)

// ErrUnknownBenchmark indicates a category outside network/disk/memory.
var ErrUnknownBenchmark = errors.New("unknown benchmark category")

// Harness runs benchmarks with bounded runtimes and records results.
type Harness struct {
	db     *state.DB
	runner exec.CommandRunner
	log    *logging.Logger

	// ProcRoot is /proc, overridable for tests.
	ProcRoot string
	// WorkDir hosts the disk benchmark's scratch file.
	WorkDir string
	// Timeout bounds each individual measurement command.
	Timeout time.Duration
	// PingTarget and IperfServer are the network measurement endpoints.
	PingTarget  string
	IperfServer string
}

// NewHarness wires a Harness with production defaults.
func NewHarness(db *state.DB, runner exec.CommandRunner, log *logging.Logger) *Harness {
	return &Harness{
		db:          db,
		runner:      runner,
		log:         log,
		ProcRoot:    "/proc",
		WorkDir:     "/var/tmp",
		Timeout:     60 * time.Second,
		PingTarget:  "1.1.1.1",
		IperfServer: "iperf.he.net",
	}
}

// Run executes one benchmark category. kernelID tags the results; the
// most recent tunable set id is attached automatically.
func (h *Harness) Run(ctx context.Context, category models.BenchmarkCategory, kernelID string) (results []models.BenchmarkResult, err error) {
	start := time.Now()
	defer func() { h.log.Outcome("benchmark", start, err, "category", string(category)) }()

	var measurements []models.BenchmarkResult
	switch category {
	case models.BenchNetwork:
		measurements, err = h.network(ctx)
	case models.BenchDisk:
		measurements, err = h.disk(ctx)
	case models.BenchMemory:
		measurements, err = h.memory()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBenchmark, category)
	}
	if err != nil {
		return nil, err
	}

	setID := h.latestTunableSet()
	now := time.Now().UTC()
	for i := range measurements {
		measurements[i].Category = category
		measurements[i].KernelID = kernelID
		measurements[i].TunableSetID = setID
		measurements[i].MeasuredAt = now
		if err := h.db.RecordBenchmark(&measurements[i]); err != nil {
			return measurements, err
		}
	}
	return measurements, nil
}

// RunAll executes every category, continuing past individual failures so
// one missing tool does not void the whole run.
func (h *Harness) RunAll(ctx context.Context, kernelID string) ([]models.BenchmarkResult, error) {
	var all []models.BenchmarkResult
	var firstErr error
	for _, cat := range models.AllBenchmarkCategories() {
		results, err := h.Run(ctx, cat, kernelID)
		all = append(all, results...)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return all, firstErr
}

func (h *Harness) latestTunableSet() string {
	sets, err := h.db.ListTunableSets()
	if err != nil || len(sets) == 0 {
		return ""
	}
	return sets[0].ID
}

func (h *Harness) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, h.Timeout)
}

var (
	pingAvgRe   = regexp.MustCompile(`= [\d.]+/([\d.]+)/`)
	iperfRecvRe = regexp.MustCompile(`([\d.]+) Mbits/sec.*receiver`)
	ddRateRe    = regexp.MustCompile(`([\d.,]+) MB/s`)
)

// network measures round-trip latency and, when iperf3 is installed,
// TCP throughput against the configured server.
func (h *Harness) network(ctx context.Context) ([]models.BenchmarkResult, error) {
	var results []models.BenchmarkResult

	pctx, cancel := h.bounded(ctx)
	out, err := h.runner.Run(pctx, "", "ping", "-c", "5", "-q", h.PingTarget)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("ping %s: %v: %s", h.PingTarget, err, strings.TrimSpace(string(out)))
	}
	m := pingAvgRe.FindSubmatch(out)
	if m == nil {
		return nil, fmt.Errorf("ping output unparseable: %s", strings.TrimSpace(string(out)))
	}
	latency, _ := strconv.ParseFloat(string(m[1]), 64)
	results = append(results, models.BenchmarkResult{Metric: "latency_avg", Value: latency, Unit: "ms"})

	if !h.runner.LookPath("iperf3") {
		h.log.Info("iperf3 not installed, skipping throughput measurement")
		return results, nil
	}

	ictx, cancel := h.bounded(ctx)
	out, err = h.runner.Run(ictx, "", "iperf3", "-c", h.IperfServer, "-t", "5", "-f", "m")
	cancel()
	if err != nil {
		// Public iperf servers are busy often; latency alone is still a result.
		h.log.Warn("iperf3 failed", "server", h.IperfServer, "error", err)
		return results, nil
	}
	if m := iperfRecvRe.FindSubmatch(out); m != nil {
		throughput, _ := strconv.ParseFloat(string(m[1]), 64)
		results = append(results, models.BenchmarkResult{Metric: "tcp_throughput", Value: throughput, Unit: "Mbit/s"})
	}
	return results, nil
}

// disk measures direct-IO write and read rates with dd.
func (h *Harness) disk(ctx context.Context) ([]models.BenchmarkResult, error) {
	scratch := filepath.Join(h.WorkDir, "vkm-bench.tmp")
	defer os.Remove(scratch)

	wctx, cancel := h.bounded(ctx)
	out, err := h.runner.Run(wctx, "", "dd",
		"if=/dev/zero", "of="+scratch, "bs=1M", "count=256", "oflag=direct", "conv=fdatasync")
	cancel()
	if err != nil {
		return nil, fmt.Errorf("dd write: %v: %s", err, strings.TrimSpace(string(out)))
	}
	write, err := parseDDRate(out)
	if err != nil {
		return nil, err
	}

	rctx, cancel := h.bounded(ctx)
	out, err = h.runner.Run(rctx, "", "dd",
		"if="+scratch, "of=/dev/null", "bs=1M", "iflag=direct")
	cancel()
	if err != nil {
		return nil, fmt.Errorf("dd read: %v: %s", err, strings.TrimSpace(string(out)))
	}
	read, err := parseDDRate(out)
	if err != nil {
		return nil, err
	}

	return []models.BenchmarkResult{
		{Metric: "write_rate", Value: write, Unit: "MB/s"},
		{Metric: "read_rate", Value: read, Unit: "MB/s"},
	}, nil
}

func parseDDRate(out []byte) (float64, error) {
	m := ddRateRe.FindSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("dd output unparseable: %s", strings.TrimSpace(string(out)))
	}
	return strconv.ParseFloat(strings.ReplaceAll(string(m[1]), ",", "."), 64)
}

// memory reports headroom and swap pressure from /proc/meminfo.
func (h *Harness) memory() ([]models.BenchmarkResult, error) {
	data, err := os.ReadFile(filepath.Join(h.ProcRoot, "meminfo"))
	if err != nil {
		return nil, fmt.Errorf("read meminfo: %w", err)
	}
	content := string(data)

	availMB := meminfoMB(content, "MemAvailable")
	swapTotal := meminfoMB(content, "SwapTotal")
	swapFree := meminfoMB(content, "SwapFree")

	return []models.BenchmarkResult{
		{Metric: "mem_available", Value: availMB, Unit: "MB"},
		{Metric: "swap_used", Value: swapTotal - swapFree, Unit: "MB"},
	}, nil
}

func meminfoMB(content, field string) float64 {
	re := regexp.MustCompile(field + `:\s*(\d+)`)
	m := re.FindStringSubmatch(content)
	if m == nil {
		return 0
	}
	kb, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return kb / 1024
}

// History returns recorded results, optionally filtered by category.
func (h *Harness) History(category *models.BenchmarkCategory) ([]models.BenchmarkResult, error) {
	return h.db.ListBenchmarks(category)
}
