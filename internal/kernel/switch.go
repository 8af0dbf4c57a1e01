package kernel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/vkm-dev/vkm/internal/boot"
	"github.com/vkm-dev/vkm/internal/state"
	"github.com/vkm-dev/vkm/pkg/models"
)

// Switch arms a reboot into the target kernel. The target is selected
// for the next boot only; the previous default stays in place so a
// kernel that fails to boot falls back on its own. The switch stays
// pending until Confirm or BootCheck resolves it within the confirm
// window.
func (m *Manager) Switch(ctx context.Context, kernelID string) (sw *state.Switch, err error) {
	start := time.Now()
	defer func() { m.log.Outcome("switch", start, err, "kernel", kernelID) }()

	if pending, perr := m.db.PendingSwitch(); perr != nil {
		return nil, perr
	} else if pending != nil {
		return nil, fmt.Errorf("%w: switch to %s pending until %s",
			ErrSwitchInProgress, pending.ToKernel, pending.Deadline.Format(time.RFC3339))
	}

	unlock, err := m.takeSwitchLock()
	if err != nil {
		return nil, err
	}
	// The lock outlives this call; it is released when the switch resolves.
	defer func() {
		if err != nil {
			unlock()
		}
	}()

	rec, err := m.db.GetKernel(kernelID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrKernelNotFound, kernelID)
	}
	if !rec.Status.Installed() || rec.Status == models.KernelActive {
		return nil, fmt.Errorf("cannot switch to %s: status %s", kernelID, rec.Status)
	}

	active, err := m.db.ActiveKernel()
	if err != nil {
		return nil, err
	}
	fromID := ""
	if active != nil {
		fromID = active.ID
	}

	if m.cfg.General.AutoBackup {
		running, rerr := m.host.CurrentKernel(ctx)
		if rerr == nil {
			if berr := m.backupBootFiles(running); berr != nil {
				m.log.Warn("boot file backup failed", "kernel", running, "error", berr)
			}
		}
	}

	entryID := rec.BootEntryID
	if entryID == "" {
		entry, eerr := boot.EntryForVersion(ctx, m.loader, rec.ID)
		if eerr != nil {
			return nil, eerr
		}
		entryID = entry.ID
	}
	if err = m.loader.SetNextBoot(ctx, entryID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sw = &state.Switch{
		ID:         uuid.New().String(),
		FromKernel: fromID,
		ToKernel:   kernelID,
		StartedAt:  now,
		Deadline:   now.Add(m.cfg.General.ConfirmWindow),
		Status:     state.SwitchPending,
	}
	if err = m.db.CreateSwitch(sw); err != nil {
		return nil, err
	}
	if err = m.db.SetKernelStatus(kernelID, models.KernelActivating); err != nil {
		return nil, err
	}
	if err = m.writeMarker(kernelID); err != nil {
		return nil, err
	}

	m.log.Info("switch armed", "from", fromID, "to", kernelID, "deadline", sw.Deadline)
	return sw, nil
}

// Confirm resolves the pending switch after a successful boot into the
// target kernel. The target becomes the persistent default.
func (m *Manager) Confirm(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { m.log.Outcome("confirm", start, err) }()

	sw, err := m.db.PendingSwitch()
	if err != nil {
		return err
	}
	if sw == nil {
		return ErrNoPendingSwitch
	}

	running, err := m.host.CurrentKernel(ctx)
	if err != nil {
		return err
	}
	if running != sw.ToKernel {
		return fmt.Errorf("running kernel %s is not the switch target %s; boot into it first or run boot-check",
			running, sw.ToKernel)
	}
	return m.commit(ctx, sw)
}

// BootCheck resolves a pending switch from a boot-time timer: it
// confirms when the target kernel is running, and rolls back when the
// host came up on another kernel or the confirm window expired. With
// nothing pending it is a no-op, so the timer can fire on every boot.
func (m *Manager) BootCheck(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { m.log.Outcome("boot-check", start, err) }()

	sw, err := m.db.PendingSwitch()
	if err != nil {
		return err
	}
	if sw == nil {
		return nil
	}

	running, err := m.host.CurrentKernel(ctx)
	if err != nil {
		return err
	}

	if running == sw.ToKernel && time.Now().Before(sw.Deadline) {
		return m.commit(ctx, sw)
	}

	reason := "booted " + running
	if !time.Now().Before(sw.Deadline) {
		reason = "confirm window expired"
	}
	m.log.Warn("rolling back switch", "to", sw.ToKernel, "reason", reason)
	return m.rollback(ctx, sw)
}

// commit finalizes a confirmed switch.
func (m *Manager) commit(ctx context.Context, sw *state.Switch) error {
	rec, err := m.db.GetKernel(sw.ToKernel)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrKernelNotFound, sw.ToKernel)
	}

	entryID := rec.BootEntryID
	if entryID != "" {
		if err := m.loader.SetDefault(ctx, entryID); err != nil {
			return err
		}
	}

	if sw.FromKernel != "" {
		if err := m.db.SetKernelStatus(sw.FromKernel, models.KernelInactive); err != nil {
			return err
		}
	}
	now := time.Now().UTC()
	rec.Status = models.KernelActive
	rec.ActivatedAt = &now
	if err := m.db.UpdateKernel(rec); err != nil {
		return err
	}
	if err := m.db.ResolveSwitch(sw.ID, state.SwitchConfirmed); err != nil {
		return err
	}
	m.releaseSwitchArtifacts()
	m.log.Info("switch confirmed", "kernel", sw.ToKernel)
	return nil
}

// rollback returns the system to the pre-switch kernel. Safe to call
// repeatedly; a resolved switch is never pending again.
func (m *Manager) rollback(ctx context.Context, sw *state.Switch) error {
	if sw.FromKernel != "" {
		from, err := m.db.GetKernel(sw.FromKernel)
		if err != nil {
			return err
		}
		if from != nil && from.BootEntryID != "" {
			if err := m.loader.SetDefault(ctx, from.BootEntryID); err != nil {
				return err
			}
		}
	}
	if err := m.db.SetKernelStatus(sw.ToKernel, models.KernelInstalled); err != nil {
		return err
	}
	if err := m.db.ResolveSwitch(sw.ID, state.SwitchRolledBack); err != nil {
		return err
	}
	m.releaseSwitchArtifacts()
	m.log.Info("switch rolled back", "to", sw.ToKernel, "restored", sw.FromKernel)
	return nil
}

func (m *Manager) takeSwitchLock() (func(), error) {
	path := m.cfg.SwitchLockPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: lock held at %s", ErrSwitchInProgress, path)
		}
		return nil, err
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()
	return func() { os.Remove(path) }, nil
}

func (m *Manager) writeMarker(kernelID string) error {
	return os.WriteFile(m.cfg.PendingSwitchMarker(), []byte(kernelID+"\n"), 0644)
}

// releaseSwitchArtifacts removes the marker and lock left by Switch.
func (m *Manager) releaseSwitchArtifacts() {
	os.Remove(m.cfg.PendingSwitchMarker())
	os.Remove(m.cfg.SwitchLockPath())
}

// backupBootFiles copies the running kernel's boot files into the
// backup dir before the switch touches the boot configuration.
func (m *Manager) backupBootFiles(running string) error {
	destDir := m.cfg.BackupDir(running)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return err
	}

	copied := 0
	for _, prefix := range []string{"vmlinuz-", "initrd.img-", "config-", "System.map-"} {
		src := filepath.Join(m.BootDir, prefix+running)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := copyFile(src, filepath.Join(destDir, prefix+running)); err != nil {
			return err
		}
		copied++
	}
	if copied == 0 {
		return errors.New("no boot files found for " + running)
	}
	m.log.Info("boot files backed up", "kernel", running, "dir", destDir, "files", copied)
	return nil
}

func copyFile(src, dest string) error {
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
	return out.Close()
}
