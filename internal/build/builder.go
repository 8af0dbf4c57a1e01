// Package build compiles kernel versions through a staged pipeline:
// resource precheck, source fetch, patching, configuration and the
// package build itself. Every stage transition is persisted so an
// interrupted build is visible in `list-kernels`.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/vkm-dev/vkm/internal/config"
	"github.com/vkm-dev/vkm/internal/exec"
	"github.com/vkm-dev/vkm/internal/logging"
	"github.com/vkm-dev/vkm/internal/patch"
	"github.com/vkm-dev/vkm/internal/profile"
	"github.com/vkm-dev/vkm/internal/state"
	"github.com/vkm-dev/vkm/pkg/models"
)

var (
	// ErrInsufficientResources indicates the host lacks the disk or memory
	// headroom to attempt a build.
	ErrInsufficientResources = errors.New("insufficient resources")
	// ErrSourceUnavailable indicates the kernel tarball could not be
	// downloaded or extracted.
	ErrSourceUnavailable = errors.New("kernel source unavailable")
	// ErrInvalidConfigKey indicates a config override that is not a
	// well-formed CONFIG_ symbol.
	ErrInvalidConfigKey = errors.New("invalid config key")
	// ErrBuildFailure indicates compilation failed after the single
	// reduced-parallelism retry. The build log is preserved.
	ErrBuildFailure = errors.New("kernel build failed")
	// ErrBuildInProgress indicates another build of the same kernel id
	// holds the scratch directory.
	ErrBuildInProgress = errors.New("build already in progress")
	// ErrAlreadyBuilt indicates a live record for this version+profile exists.
	ErrAlreadyBuilt = errors.New("kernel already built")
)

// Free disk required to fetch, extract and compile a kernel tree.
const requiredDiskMB = 30 * 1024

// HostFacts is the slice of sysinfo the builder consults for prechecks
// and parallelism.
type HostFacts interface {
	CPU() (cores int, model string)
	Memory() (totalMB, availableMB uint64, err error)
	DiskFreeMB(path string) (uint64, error)
}

// Request describes one kernel to build.
type Request struct {
	// Version is the upstream kernel version, e.g. "6.1.42".
	Version string
	// Profile is the optimization profile name.
	Profile string
	// Overrides are extra CONFIG_ overrides merged on top of the profile.
	Overrides map[string]string
	// Patches are applied in order after the source is extracted.
	Patches []patch.Entry
}

// ID returns the kernel record id for the request.
func (r Request) ID() string {
	return r.Version + "-" + r.Profile
}

// Builder runs the compile pipeline.
type Builder struct {
	cfg     *config.Config
	db      *state.DB
	runner  exec.CommandRunner
	patches *patch.Manager
	host    HostFacts
	log     *logging.Logger
}

// NewBuilder wires a Builder against its collaborators.
func NewBuilder(cfg *config.Config, db *state.DB, runner exec.CommandRunner, patches *patch.Manager, host HostFacts, log *logging.Logger) *Builder {
	return &Builder{cfg: cfg, db: db, runner: runner, patches: patches, host: host, log: log}
}

// Compile runs the full pipeline for one request. The scratch directory
// is removed on every exit path; a failed compile keeps its build log.
func (b *Builder) Compile(ctx context.Context, req Request) (rec *models.KernelRecord, err error) {
	start := time.Now()
	defer func() { b.log.Outcome("compile", start, err, "kernel", req.ID()) }()

	resolved, err := profile.Resolve(req.Profile, req.Overrides)
	if err != nil {
		return nil, err
	}
	if err := validateDelta(resolved.Delta); err != nil {
		return nil, err
	}

	// Precheck before any record exists, so a host that cannot build
	// leaves no state behind.
	if err = b.precheck(); err != nil {
		return nil, err
	}

	rec, err = b.openRecord(req, resolved.Delta)
	if err != nil {
		return nil, err
	}

	scratch := filepath.Join(b.cfg.General.BuildDir, rec.ID)
	unlock, err := b.lockScratch(scratch)
	if err != nil {
		return rec, err
	}
	defer unlock()
	defer os.RemoveAll(scratch)

	treeDir, err := b.fetch(ctx, rec, scratch)
	if err != nil {
		return rec, b.fail(rec, "", err)
	}

	if len(req.Patches) > 0 {
		if _, err = b.patches.Apply(ctx, rec.ID, treeDir, req.Version, req.Patches); err != nil {
			return rec, b.fail(rec, "", err)
		}
	}
	if err = b.setStatus(rec, models.KernelPatched); err != nil {
		return rec, err
	}

	if err = b.configure(ctx, rec, treeDir, resolved.Delta); err != nil {
		return rec, b.fail(rec, "", err)
	}

	logPath, err := b.compile(ctx, rec, treeDir)
	if err != nil {
		return rec, b.fail(rec, logPath, err)
	}

	pkgPath, err := b.collectPackage(rec, scratch)
	if err != nil {
		return rec, b.fail(rec, logPath, err)
	}

	rec.PackagePath = pkgPath
	rec.BuildLogPath = logPath
	rec.Status = models.KernelCompiled
	if err = b.db.UpdateKernel(rec); err != nil {
		return rec, err
	}
	return rec, nil
}

var configKeyRe = regexp.MustCompile(`^CONFIG_[A-Z0-9_]+$`)

func validateDelta(delta models.ConfigDelta) error {
	for _, key := range delta.Keys() {
		if !configKeyRe.MatchString(key) {
			return fmt.Errorf("%w: %q", ErrInvalidConfigKey, key)
		}
	}
	return nil
}

// openRecord creates the Pending record, or resurrects a failed/retired
// one. A live record for the same id refuses the build.
func (b *Builder) openRecord(req Request, delta models.ConfigDelta) (*models.KernelRecord, error) {
	existing, err := b.db.GetKernel(req.ID())
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Status != models.KernelFailed && existing.Status != models.KernelRetired {
			return nil, fmt.Errorf("%w: %s is %s", ErrAlreadyBuilt, req.ID(), existing.Status)
		}
		// The old scratch tree is gone, so provenance from the previous
		// build no longer describes any tree. Clear it or the rebuild
		// would skip its patches as already applied.
		if err := b.db.DeleteTreePatches(existing.ID); err != nil {
			return nil, err
		}
		existing.Status = models.KernelPending
		existing.ConfigDelta = delta
		existing.PackagePath = ""
		existing.BuildLogPath = ""
		if err := b.db.UpdateKernel(existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	rec := &models.KernelRecord{
		ID:          req.ID(),
		Version:     req.Version,
		Variant:     req.Profile,
		ConfigDelta: delta,
		Status:      models.KernelPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := b.db.CreateKernel(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (b *Builder) precheck() error {
	free, err := b.host.DiskFreeMB(b.cfg.General.BuildDir)
	if err != nil {
		// Build dir may not exist yet; measure its parent filesystem.
		free, err = b.host.DiskFreeMB(filepath.Dir(b.cfg.General.BuildDir))
		if err != nil {
			return fmt.Errorf("disk precheck: %w", err)
		}
	}
	if free < requiredDiskMB {
		return fmt.Errorf("%w: %d MB free, need %d MB", ErrInsufficientResources, free, requiredDiskMB)
	}

	_, avail, err := b.host.Memory()
	if err != nil {
		return fmt.Errorf("memory precheck: %w", err)
	}
	if avail < uint64(b.cfg.Compilation.MemPerJobMB) {
		return fmt.Errorf("%w: %d MB available, need %d MB for one compile job",
			ErrInsufficientResources, avail, b.cfg.Compilation.MemPerJobMB)
	}
	return nil
}

// lockScratch takes the per-kernel scratch lock. The lock file sits next
// to the scratch dir so RemoveAll on the scratch never releases it early.
func (b *Builder) lockScratch(scratch string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(scratch), 0755); err != nil {
		return nil, fmt.Errorf("create build dir: %w", err)
	}
	lockPath := scratch + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrBuildInProgress, lockPath)
		}
		return nil, fmt.Errorf("take build lock: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()
	return func() { os.Remove(lockPath) }, nil
}

// fetch downloads and extracts the source tarball into scratch.
func (b *Builder) fetch(ctx context.Context, rec *models.KernelRecord, scratch string) (string, error) {
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}

	major := strings.SplitN(rec.Version, ".", 2)[0]
	url := fmt.Sprintf("https://cdn.kernel.org/pub/linux/kernel/v%s.x/linux-%s.tar.xz", major, rec.Version)
	tarPath := filepath.Join(scratch, "linux-"+rec.Version+".tar.xz")

	out, err := b.runner.Run(ctx, scratch, "wget", "-q", "-O", tarPath, url)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v: %s", ErrSourceUnavailable, url, err, strings.TrimSpace(string(out)))
	}
	out, err = b.runner.Run(ctx, scratch, "tar", "-xf", tarPath, "-C", scratch)
	if err != nil {
		return "", fmt.Errorf("%w: extracting %s: %v: %s", ErrSourceUnavailable, tarPath, err, strings.TrimSpace(string(out)))
	}

	treeDir := filepath.Join(scratch, "linux-"+rec.Version)
	rec.SourcePath = treeDir
	rec.Status = models.KernelFetched
	if err := b.db.UpdateKernel(rec); err != nil {
		return "", err
	}
	return treeDir, nil
}

// configure seeds .config from the running kernel when available, applies
// the delta through scripts/config and settles it with olddefconfig.
func (b *Builder) configure(ctx context.Context, rec *models.KernelRecord, treeDir string, delta models.ConfigDelta) error {
	seeded := false
	if running, err := b.runner.Run(ctx, "", "uname", "-r"); err == nil {
		bootConfig := "/boot/config-" + strings.TrimSpace(string(running))
		if _, err := b.runner.Run(ctx, "", "cp", bootConfig, filepath.Join(treeDir, ".config")); err == nil {
			seeded = true
		}
	}
	if !seeded {
		if out, err := b.runner.Run(ctx, treeDir, "make", "defconfig"); err != nil {
			return fmt.Errorf("make defconfig: %v: %s", err, strings.TrimSpace(string(out)))
		}
	}

	for _, key := range delta.Keys() {
		args := configArgs(key, delta[key])
		if out, err := b.runner.Run(ctx, treeDir, "./scripts/config", args...); err != nil {
			return fmt.Errorf("scripts/config %s: %v: %s", key, err, strings.TrimSpace(string(out)))
		}
	}

	if out, err := b.runner.Run(ctx, treeDir, "make", "olddefconfig"); err != nil {
		return fmt.Errorf("make olddefconfig: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return b.setStatus(rec, models.KernelConfigured)
}

// configArgs maps a delta value onto the scripts/config verb.
func configArgs(key, value string) []string {
	switch value {
	case "y":
		return []string{"--enable", key}
	case "n":
		return []string{"--disable", key}
	case "m":
		return []string{"--module", key}
	}
	if _, err := strconv.Atoi(value); err == nil {
		return []string{"--set-val", key, value}
	}
	return []string{"--set-str", key, value}
}

// compile runs make bindeb-pkg, retrying once single-threaded on failure.
// The combined output is preserved under the log dir either way.
func (b *Builder) compile(ctx context.Context, rec *models.KernelRecord, treeDir string) (string, error) {
	cores, _ := b.host.CPU()
	_, avail, err := b.host.Memory()
	if err != nil {
		return "", fmt.Errorf("read memory: %w", err)
	}
	jobs := Parallelism(cores, avail, b.cfg.Compilation.MemPerJobMB, b.cfg.General.ParallelJobs)

	if err := os.MkdirAll(b.cfg.General.LogDir, 0755); err != nil {
		return "", fmt.Errorf("create log dir: %w", err)
	}
	logPath := filepath.Join(b.cfg.General.LogDir, "build-"+rec.ID+".log")

	env := []string{
		"KCFLAGS=-" + b.cfg.Compilation.Optimization + " " + b.cfg.Compilation.CustomCflags,
		"CC=" + b.cfg.Compilation.Compiler,
	}
	args := []string{fmt.Sprintf("-j%d", jobs), "bindeb-pkg", "LOCALVERSION=-" + rec.Variant}

	b.log.Info("compile started", "kernel", rec.ID, "jobs", jobs)
	out, err := b.runner.RunEnv(ctx, treeDir, env, "make", args...)
	appendLog(logPath, out)
	if err != nil && jobs > 1 {
		// A parallel build on a constrained host can die in ways a
		// serial one survives; retry once before giving up.
		b.log.Warn("parallel build failed, retrying single-threaded", "kernel", rec.ID)
		args[0] = "-j1"
		out, err = b.runner.RunEnv(ctx, treeDir, env, "make", args...)
		appendLog(logPath, out)
	}
	if err != nil {
		return logPath, fmt.Errorf("%w: %v: log preserved at %s", ErrBuildFailure, err, logPath)
	}
	return logPath, nil
}

func appendLog(path string, data []byte) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	f.Write(data)
}

// collectPackage moves the produced linux-image deb out of the scratch
// dir before it is removed.
func (b *Builder) collectPackage(rec *models.KernelRecord, scratch string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(scratch, "linux-image-"+rec.Version+"*.deb"))
	if err != nil {
		return "", err
	}
	var src string
	for _, m := range matches {
		if !strings.Contains(m, "-dbg") {
			src = m
			break
		}
	}
	if src == "" {
		return "", fmt.Errorf("%w: no linux-image package produced", ErrBuildFailure)
	}

	pkgDir := filepath.Join(b.cfg.General.StateDir, "packages")
	if err := os.MkdirAll(pkgDir, 0755); err != nil {
		return "", fmt.Errorf("create package dir: %w", err)
	}
	dest := filepath.Join(pkgDir, filepath.Base(src))
	if err := moveFile(src, dest); err != nil {
		return "", fmt.Errorf("collect package: %w", err)
	}
	return dest, nil
}

// moveFile renames, falling back to copy when scratch and state live on
// different filesystems.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

func (b *Builder) setStatus(rec *models.KernelRecord, status models.KernelStatus) error {
	rec.Status = status
	return b.db.SetKernelStatus(rec.ID, status)
}

// fail marks the record failed, keeping the build log path when one exists.
func (b *Builder) fail(rec *models.KernelRecord, logPath string, cause error) error {
	rec.Status = models.KernelFailed
	if logPath != "" {
		rec.BuildLogPath = logPath
	}
	if err := b.db.UpdateKernel(rec); err != nil {
		b.log.Error("failed to record build failure", "kernel", rec.ID, "error", err)
	}
	return cause
}
