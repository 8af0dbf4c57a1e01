package bench

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vkm-dev/vkm/internal/exec"
	"github.com/vkm-dev/vkm/internal/logging"
	"github.com/vkm-dev/vkm/internal/state"
	"github.com/vkm-dev/vkm/pkg/models"
)

const pingOutput = `PING 1.1.1.1 (1.1.1.1) 56(84) bytes of data.

--- 1.1.1.1 ping statistics ---
5 packets transmitted, 5 received, 0% packet loss, time 4006ms
rtt min/avg/max/mdev = 5.123/5.847/6.912/0.611 ms
`

const iperfOutput = `Connecting to host iperf.he.net, port 5201
[ ID] Interval           Transfer     Bitrate         Retr
[  5]   0.00-5.00   sec   562 MBytes   943 Mbits/sec    0             sender
[  5]   0.00-5.04   sec   560 MBytes   932.51 Mbits/sec                  receiver
`

const ddWriteOutput = `256+0 records in
256+0 records out
268435456 bytes (268 MB, 256 MiB) copied, 1.234 s, 217 MB/s
`

const ddReadOutput = `256+0 records in
256+0 records out
268435456 bytes (268 MB, 256 MiB) copied, 0.512 s, 524 MB/s
`

const meminfoFixture = `MemTotal:        4046436 kB
MemFree:          271552 kB
MemAvailable:    2097152 kB
SwapTotal:       1048576 kB
SwapFree:         786432 kB
`

func newBenchFixture(t *testing.T) (*Harness, *state.DB, *exec.FakeRunner) {
	t.Helper()

	db, err := state.Open(filepath.Join(t.TempDir(), "vkm.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	runner := exec.NewFakeRunner()
	h := NewHarness(db, runner, logging.NewWriter(io.Discard))
	h.WorkDir = t.TempDir()

	procRoot := t.TempDir()
	if err := os.WriteFile(filepath.Join(procRoot, "meminfo"), []byte(meminfoFixture), 0o644); err != nil {
		t.Fatal(err)
	}
	h.ProcRoot = procRoot
	return h, db, runner
}

func findMetric(t *testing.T, results []models.BenchmarkResult, metric string) models.BenchmarkResult {
	t.Helper()
	for _, r := range results {
		if r.Metric == metric {
			return r
		}
	}
	t.Fatalf("metric %s missing from %+v", metric, results)
	return models.BenchmarkResult{}
}

func TestNetworkBenchmark(t *testing.T) {
	h, db, runner := newBenchFixture(t)
	runner.Respond("ping", pingOutput, nil)
	runner.Respond("iperf3", iperfOutput, nil)

	results, err := h.Run(context.Background(), models.BenchNetwork, "6.1.0-vps")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	latency := findMetric(t, results, "latency_avg")
	if latency.Value != 5.847 || latency.Unit != "ms" {
		t.Errorf("latency = %+v", latency)
	}
	throughput := findMetric(t, results, "tcp_throughput")
	if throughput.Value != 932.51 || throughput.Unit != "Mbit/s" {
		t.Errorf("throughput = %+v", throughput)
	}

	stored, err := db.ListBenchmarks(nil)
	if err != nil || len(stored) != 2 {
		t.Fatalf("stored = %d results, err %v", len(stored), err)
	}
	if stored[0].KernelID != "6.1.0-vps" {
		t.Errorf("kernel id = %q", stored[0].KernelID)
	}
}

func TestNetworkBenchmarkWithoutIperf(t *testing.T) {
	h, _, runner := newBenchFixture(t)
	runner.Respond("ping", pingOutput, nil)
	runner.Missing = []string{"iperf3"}

	results, err := h.Run(context.Background(), models.BenchNetwork, "6.1.0-vps")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 1 || results[0].Metric != "latency_avg" {
		t.Errorf("results = %+v", results)
	}
}

func TestDiskBenchmark(t *testing.T) {
	h, _, runner := newBenchFixture(t)
	runner.RespondQueue("dd",
		exec.FakeResponse{Output: []byte(ddWriteOutput)},
		exec.FakeResponse{Output: []byte(ddReadOutput)},
	)

	results, err := h.Run(context.Background(), models.BenchDisk, "6.1.0-vps")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if w := findMetric(t, results, "write_rate"); w.Value != 217 {
		t.Errorf("write rate = %+v", w)
	}
	if r := findMetric(t, results, "read_rate"); r.Value != 524 {
		t.Errorf("read rate = %+v", r)
	}

	// Direct IO flags are what make the measurement honest.
	lines := runner.CommandLines()
	if len(lines) != 2 {
		t.Fatalf("dd invocations = %v", lines)
	}
	joined := strings.Join(lines, "\n")
	for _, flag := range []string{"oflag=direct", "conv=fdatasync", "iflag=direct"} {
		if !strings.Contains(joined, flag) {
			t.Errorf("flag %s missing from %v", flag, lines)
		}
	}
}

func TestMemoryBenchmark(t *testing.T) {
	h, _, _ := newBenchFixture(t)

	results, err := h.Run(context.Background(), models.BenchMemory, "6.1.0-vps")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if avail := findMetric(t, results, "mem_available"); avail.Value != 2048 {
		t.Errorf("mem_available = %+v", avail)
	}
	if swap := findMetric(t, results, "swap_used"); swap.Value != 256 {
		t.Errorf("swap_used = %+v", swap)
	}
}

func TestBenchmarkUnknownCategory(t *testing.T) {
	h, _, _ := newBenchFixture(t)
	_, err := h.Run(context.Background(), models.BenchmarkCategory("cpu"), "k")
	if !errors.Is(err, ErrUnknownBenchmark) {
		t.Errorf("err = %v, want ErrUnknownBenchmark", err)
	}
}

func TestRunAllContinuesPastFailures(t *testing.T) {
	h, db, runner := newBenchFixture(t)
	runner.Respond("ping", "", errors.New("network unreachable"))
	runner.RespondQueue("dd",
		exec.FakeResponse{Output: []byte(ddWriteOutput)},
		exec.FakeResponse{Output: []byte(ddReadOutput)},
	)

	results, err := h.RunAll(context.Background(), "6.1.0-vps")
	if err == nil {
		t.Fatal("expected the ping failure to surface")
	}
	// Disk and memory still ran.
	findMetric(t, results, "write_rate")
	findMetric(t, results, "mem_available")

	stored, _ := db.ListBenchmarks(nil)
	if len(stored) != 4 {
		t.Errorf("stored results = %d, want 4", len(stored))
	}
}
