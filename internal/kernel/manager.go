// Package kernel manages installed kernels: registering built packages
// with the bootloader, switching between them behind a confirmation
// window with automatic rollback, and retiring old ones under the
// retention cap.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/vkm-dev/vkm/internal/boot"
	"github.com/vkm-dev/vkm/internal/config"
	"github.com/vkm-dev/vkm/internal/logging"
	"github.com/vkm-dev/vkm/internal/state"
	"github.com/vkm-dev/vkm/pkg/models"
)

var (
	// ErrKernelNotFound indicates no record exists for the id.
	ErrKernelNotFound = errors.New("kernel not found")
	// ErrKernelLimitReached indicates the retention cap is hit and no
	// kernel is evictable.
	ErrKernelLimitReached = errors.New("kernel limit reached")
	// ErrSwitchInProgress indicates an unconfirmed switch exists.
	ErrSwitchInProgress = errors.New("switch in progress")
	// ErrNotRetirable indicates the kernel is active, activating or pinned.
	ErrNotRetirable = errors.New("kernel not retirable")
	// ErrNotInstallable indicates the kernel has no compiled package.
	ErrNotInstallable = errors.New("kernel not installable")
	// ErrNoPendingSwitch indicates confirm was called with nothing pending.
	ErrNoPendingSwitch = errors.New("no pending switch")
)

// runningKernel reports the currently booted kernel release.
type runningKernel interface {
	CurrentKernel(ctx context.Context) (string, error)
}

// Manager owns kernel lifecycle transitions past compilation.
type Manager struct {
	cfg    *config.Config
	db     *state.DB
	loader boot.Loader
	host   runningKernel
	log    *logging.Logger

	// BootDir holds the kernel images backed up before a switch.
	BootDir string
}

// NewManager wires a Manager against its collaborators.
func NewManager(cfg *config.Config, db *state.DB, loader boot.Loader, host runningKernel, log *logging.Logger) *Manager {
	return &Manager{cfg: cfg, db: db, loader: loader, host: host, log: log, BootDir: "/boot"}
}

// Install registers a compiled kernel with the bootloader. When the
// retention cap is reached the oldest unpinned non-active kernel is
// retired first; if none qualifies the install is refused.
func (m *Manager) Install(ctx context.Context, kernelID string) (rec *models.KernelRecord, err error) {
	start := time.Now()
	defer func() { m.log.Outcome("install", start, err, "kernel", kernelID) }()

	rec, err = m.db.GetKernel(kernelID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrKernelNotFound, kernelID)
	}
	if rec.Status != models.KernelCompiled || rec.PackagePath == "" {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotInstallable, kernelID, rec.Status)
	}

	if err = m.enforceRetention(ctx); err != nil {
		return nil, err
	}

	if err = m.loader.InstallPackage(ctx, rec.PackagePath); err != nil {
		return nil, err
	}
	if err = m.loader.Refresh(ctx); err != nil {
		return nil, err
	}

	// The package install names its release version-variant, which is
	// exactly the record id.
	entry, err := boot.EntryForVersion(ctx, m.loader, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("locate boot entry for %s: %w", rec.ID, err)
	}

	rec.BootEntryID = entry.ID
	rec.Status = models.KernelInstalled
	if err = m.db.UpdateKernel(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// enforceRetention retires the oldest evictable kernel when the cap is
// reached, or refuses when every retained kernel is active or pinned.
func (m *Manager) enforceRetention(ctx context.Context) error {
	n, err := m.db.CountRetained()
	if err != nil {
		return err
	}
	if n < m.cfg.General.MaxKernels {
		return nil
	}

	victim, err := m.db.OldestEvictable()
	if err != nil {
		return err
	}
	if victim == nil {
		return fmt.Errorf("%w: %d kernels retained, none evictable", ErrKernelLimitReached, n)
	}

	m.log.Info("evicting kernel for retention", "kernel", victim.ID, "max_kernels", m.cfg.General.MaxKernels)
	return m.retire(ctx, victim)
}

// Retire removes an installed kernel from the bootloader and marks the
// record retired. Active, activating and pinned kernels are refused.
func (m *Manager) Retire(ctx context.Context, kernelID string) (err error) {
	start := time.Now()
	defer func() { m.log.Outcome("retire", start, err, "kernel", kernelID) }()

	rec, err := m.db.GetKernel(kernelID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrKernelNotFound, kernelID)
	}
	if rec.Pinned {
		return fmt.Errorf("%w: %s is pinned", ErrNotRetirable, kernelID)
	}
	switch rec.Status {
	case models.KernelActive, models.KernelActivating:
		return fmt.Errorf("%w: %s is %s", ErrNotRetirable, kernelID, rec.Status)
	case models.KernelRetired:
		// Idempotent.
		return nil
	}
	return m.retire(ctx, rec)
}

func (m *Manager) retire(ctx context.Context, rec *models.KernelRecord) error {
	if rec.Status.Installed() {
		if err := m.loader.RemoveKernel(ctx, rec.ID); err != nil {
			return err
		}
		if err := m.loader.Refresh(ctx); err != nil {
			return err
		}
	}
	if rec.PackagePath != "" {
		// Best effort; the package may already be gone.
		os.Remove(rec.PackagePath)
	}

	rec.Status = models.KernelRetired
	rec.BootEntryID = ""
	rec.PackagePath = ""
	return m.db.UpdateKernel(rec)
}

// Pin marks or unmarks a kernel as exempt from retention eviction.
func (m *Manager) Pin(kernelID string, pinned bool) error {
	rec, err := m.db.GetKernel(kernelID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrKernelNotFound, kernelID)
	}
	return m.db.SetKernelPinned(kernelID, pinned)
}

// List returns kernel records, optionally filtered by status.
func (m *Manager) List(status *models.KernelStatus) ([]models.KernelRecord, error) {
	return m.db.ListKernels(status)
}
