package build

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vkm-dev/vkm/internal/config"
	"github.com/vkm-dev/vkm/internal/exec"
	"github.com/vkm-dev/vkm/internal/logging"
	"github.com/vkm-dev/vkm/internal/patch"
	"github.com/vkm-dev/vkm/internal/state"
	"github.com/vkm-dev/vkm/pkg/models"
)

type fakeHost struct {
	cores   int
	availMB uint64
	freeMB  uint64
}

func (h *fakeHost) CPU() (int, string)                { return h.cores, "test cpu" }
func (h *fakeHost) Memory() (uint64, uint64, error)   { return h.availMB * 2, h.availMB, nil }
func (h *fakeHost) DiskFreeMB(string) (uint64, error) { return h.freeMB, nil }

type buildFixture struct {
	builder *Builder
	db      *state.DB
	runner  *exec.FakeRunner
	cfg     *config.Config
	host    *fakeHost
}

func newBuildFixture(t *testing.T) *buildFixture {
	t.Helper()

	cfg := config.Default()
	root := t.TempDir()
	cfg.General.BuildDir = filepath.Join(root, "build")
	cfg.General.StateDir = filepath.Join(root, "state")
	cfg.General.LogDir = filepath.Join(root, "log")

	db, err := state.Open(filepath.Join(root, "vkm.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	runner := exec.NewFakeRunner()
	runner.Respond("uname", "6.1.0-current\n", nil)

	slogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	patches := patch.NewManager(db, runner, patch.NewFetcher(), slogger)
	host := &fakeHost{cores: 4, availMB: 8192, freeMB: 60 * 1024}

	b := NewBuilder(cfg, db, runner, patches, host, logging.NewWriter(io.Discard))
	return &buildFixture{builder: b, db: db, runner: runner, cfg: cfg, host: host}
}

// plantPackage pre-creates the deb the faked make would have produced.
func (f *buildFixture) plantPackage(t *testing.T, id, version string) {
	t.Helper()
	scratch := filepath.Join(f.cfg.General.BuildDir, id)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		t.Fatalf("create scratch: %v", err)
	}
	deb := filepath.Join(scratch, "linux-image-"+version+"-vps_"+version+"-1_amd64.deb")
	if err := os.WriteFile(deb, []byte("deb"), 0o644); err != nil {
		t.Fatalf("plant package: %v", err)
	}
}

func TestCompileSuccess(t *testing.T) {
	f := newBuildFixture(t)
	f.plantPackage(t, "6.1.0-vps", "6.1.0")

	rec, err := f.builder.Compile(context.Background(), Request{Version: "6.1.0", Profile: models.ProfileVPS})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if rec.Status != models.KernelCompiled {
		t.Errorf("status = %s, want compiled", rec.Status)
	}
	if !strings.HasPrefix(rec.PackagePath, filepath.Join(f.cfg.General.StateDir, "packages")) {
		t.Errorf("package not collected: %q", rec.PackagePath)
	}
	if _, err := os.Stat(rec.PackagePath); err != nil {
		t.Errorf("package file missing: %v", err)
	}

	// Persisted record matches.
	stored, err := f.db.GetKernel("6.1.0-vps")
	if err != nil || stored == nil {
		t.Fatalf("stored record: %v", err)
	}
	if stored.Status != models.KernelCompiled {
		t.Errorf("stored status = %s", stored.Status)
	}

	lines := f.runner.CommandLines()
	joined := strings.Join(lines, "\n")
	for _, want := range []string{
		"wget",
		"tar -xf",
		"./scripts/config --enable CONFIG_KVM_GUEST",
		"./scripts/config --set-str CONFIG_DEFAULT_TCP_CONG bbr",
		"make olddefconfig",
		"make -j4 bindeb-pkg LOCALVERSION=-vps",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing command %q in:\n%s", want, joined)
		}
	}

	// The compile carries compiler and flags in the environment.
	var makeEnv []string
	for _, c := range f.runner.Calls {
		if c.Name == "make" && strings.HasPrefix(c.Args[0], "-j") {
			makeEnv = c.Env
		}
	}
	envJoined := strings.Join(makeEnv, " ")
	if !strings.Contains(envJoined, "CC=gcc") || !strings.Contains(envJoined, "KCFLAGS=-O2") {
		t.Errorf("make env = %v", makeEnv)
	}

	// Scratch was cleaned up, lock released.
	if _, err := os.Stat(filepath.Join(f.cfg.General.BuildDir, "6.1.0-vps")); !os.IsNotExist(err) {
		t.Error("scratch dir not removed")
	}
	if _, err := os.Stat(filepath.Join(f.cfg.General.BuildDir, "6.1.0-vps.lock")); !os.IsNotExist(err) {
		t.Error("scratch lock not released")
	}
}

func TestCompileInsufficientDisk(t *testing.T) {
	f := newBuildFixture(t)
	f.host.freeMB = 1024

	_, err := f.builder.Compile(context.Background(), Request{Version: "6.1.0", Profile: models.ProfileVPS})
	if !errors.Is(err, ErrInsufficientResources) {
		t.Fatalf("err = %v, want ErrInsufficientResources", err)
	}

	// The precheck refuses before any record is written.
	rec, _ := f.db.GetKernel("6.1.0-vps")
	if rec != nil {
		t.Errorf("record should not exist: %+v", rec)
	}
}

func TestCompileRetriesSingleThreaded(t *testing.T) {
	f := newBuildFixture(t)
	f.plantPackage(t, "6.1.0-vps", "6.1.0")
	f.runner.Respond("make -j4", "cc1: out of memory", errors.New("exit status 2"))

	rec, err := f.builder.Compile(context.Background(), Request{Version: "6.1.0", Profile: models.ProfileVPS})
	if err != nil {
		t.Fatalf("Compile failed despite retry: %v", err)
	}
	if rec.Status != models.KernelCompiled {
		t.Errorf("status = %s", rec.Status)
	}

	joined := strings.Join(f.runner.CommandLines(), "\n")
	if !strings.Contains(joined, "make -j1 bindeb-pkg") {
		t.Errorf("no single-threaded retry in:\n%s", joined)
	}
}

func TestCompileFailurePreservesLog(t *testing.T) {
	f := newBuildFixture(t)
	f.plantPackage(t, "6.1.0-vps", "6.1.0")
	f.runner.Respond("make -j4", "error: implicit declaration\n", errors.New("exit status 2"))
	f.runner.Respond("make -j1", "error: implicit declaration\n", errors.New("exit status 2"))

	_, err := f.builder.Compile(context.Background(), Request{Version: "6.1.0", Profile: models.ProfileVPS})
	if !errors.Is(err, ErrBuildFailure) {
		t.Fatalf("err = %v, want ErrBuildFailure", err)
	}

	rec, _ := f.db.GetKernel("6.1.0-vps")
	if rec == nil || rec.Status != models.KernelFailed {
		t.Fatalf("record = %+v", rec)
	}
	if rec.BuildLogPath == "" {
		t.Fatal("build log path not recorded")
	}
	data, err := os.ReadFile(rec.BuildLogPath)
	if err != nil {
		t.Fatalf("build log missing: %v", err)
	}
	if !strings.Contains(string(data), "implicit declaration") {
		t.Errorf("log content = %q", data)
	}
}

func TestCompileInvalidConfigKey(t *testing.T) {
	f := newBuildFixture(t)

	_, err := f.builder.Compile(context.Background(), Request{
		Version:   "6.1.0",
		Profile:   models.ProfileVPS,
		Overrides: map[string]string{"CONFIG_bad-key": "y"},
	})
	if !errors.Is(err, ErrInvalidConfigKey) {
		t.Fatalf("err = %v, want ErrInvalidConfigKey", err)
	}
	// Rejected before any record was written.
	rec, _ := f.db.GetKernel("6.1.0-vps")
	if rec != nil {
		t.Errorf("record should not exist: %+v", rec)
	}
}

func TestCompileRefusesLiveRecord(t *testing.T) {
	f := newBuildFixture(t)
	existing := &models.KernelRecord{
		ID: "6.1.0-vps", Version: "6.1.0", Variant: "vps",
		Status: models.KernelActive, CreatedAt: time.Now(),
	}
	if err := f.db.CreateKernel(existing); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	_, err := f.builder.Compile(context.Background(), Request{Version: "6.1.0", Profile: models.ProfileVPS})
	if !errors.Is(err, ErrAlreadyBuilt) {
		t.Fatalf("err = %v, want ErrAlreadyBuilt", err)
	}
}

func TestCompileRebuildsFailedRecord(t *testing.T) {
	f := newBuildFixture(t)
	failed := &models.KernelRecord{
		ID: "6.1.0-vps", Version: "6.1.0", Variant: "vps",
		Status: models.KernelFailed, CreatedAt: time.Now(),
	}
	if err := f.db.CreateKernel(failed); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	f.plantPackage(t, "6.1.0-vps", "6.1.0")

	rec, err := f.builder.Compile(context.Background(), Request{Version: "6.1.0", Profile: models.ProfileVPS})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if rec.Status != models.KernelCompiled {
		t.Errorf("status = %s", rec.Status)
	}
}

func TestRebuildReappliesPatches(t *testing.T) {
	f := newBuildFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "--- a/net/ipv4/tcp_bbr.c\n")
	}))
	t.Cleanup(srv.Close)

	req := Request{
		Version: "6.1.0",
		Profile: models.ProfileVPS,
		Patches: []patch.Entry{{Name: "bbr3", Source: "xanmod", URL: srv.URL + "/bbr3.patch"}},
	}

	// First build: patch applies, then make fails both attempts.
	f.runner.RespondQueue("make -j4", exec.FakeResponse{Output: []byte("oops"), Err: errors.New("exit status 2")})
	f.runner.RespondQueue("make -j1", exec.FakeResponse{Output: []byte("oops"), Err: errors.New("exit status 2")})
	if _, err := f.builder.Compile(context.Background(), req); !errors.Is(err, ErrBuildFailure) {
		t.Fatalf("err = %v, want ErrBuildFailure", err)
	}

	// Rebuild on a fresh tree: the patch must be applied again, not
	// skipped on the strength of the discarded tree's provenance.
	callsBefore := len(f.runner.Calls)
	f.plantPackage(t, "6.1.0-vps", "6.1.0")
	rec, err := f.builder.Compile(context.Background(), req)
	if err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	if rec.Status != models.KernelCompiled {
		t.Errorf("status = %s, want compiled", rec.Status)
	}

	applied := false
	for _, c := range f.runner.Calls[callsBefore:] {
		if c.Name == "patch" && c.Args[0] == "-p1" && c.Args[1] != "--dry-run" {
			applied = true
		}
	}
	if !applied {
		t.Error("rebuild skipped the patch instead of reapplying it")
	}
}

func TestCompileScratchLockHeld(t *testing.T) {
	f := newBuildFixture(t)
	if err := os.MkdirAll(f.cfg.General.BuildDir, 0o755); err != nil {
		t.Fatal(err)
	}
	lock := filepath.Join(f.cfg.General.BuildDir, "6.1.0-vps.lock")
	if err := os.WriteFile(lock, []byte("12345\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := f.builder.Compile(context.Background(), Request{Version: "6.1.0", Profile: models.ProfileVPS})
	if !errors.Is(err, ErrBuildInProgress) {
		t.Fatalf("err = %v, want ErrBuildInProgress", err)
	}
}

func TestCompileFetchFailure(t *testing.T) {
	f := newBuildFixture(t)
	f.runner.Respond("wget", "404 Not Found", errors.New("exit status 8"))

	_, err := f.builder.Compile(context.Background(), Request{Version: "9.9.9", Profile: models.ProfileVPS})
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
	rec, _ := f.db.GetKernel("9.9.9-vps")
	if rec == nil || rec.Status != models.KernelFailed {
		t.Errorf("record = %+v", rec)
	}
}
