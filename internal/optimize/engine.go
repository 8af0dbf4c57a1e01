package optimize

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vkm-dev/vkm/internal/config"
	"github.com/vkm-dev/vkm/internal/logging"
	"github.com/vkm-dev/vkm/internal/state"
	"github.com/vkm-dev/vkm/pkg/models"
)

var (
	// ErrUnknownCategory indicates a category outside network/memory/io/harden/all.
	ErrUnknownCategory = errors.New("unknown tunable category")
	// ErrPartialApply indicates a write failed mid-set and the already
	// written keys were restored.
	ErrPartialApply = errors.New("partial tunable apply")
	// ErrNoTunableSets indicates a revert with nothing applied.
	ErrNoTunableSets = errors.New("no tunable sets to revert")
)

// Engine applies tunable bundles atomically and records each applied set
// with its captured previous values, so any set can be reverted later.
type Engine struct {
	cfg *config.Config
	db  *state.DB
	sys Applier
	log *logging.Logger

	// PersistDir holds the sysctl.d drop-ins making sets survive reboot.
	PersistDir string
}

// NewEngine wires an Engine.
func NewEngine(cfg *config.Config, db *state.DB, sys Applier, log *logging.Logger) *Engine {
	return &Engine{cfg: cfg, db: db, sys: sys, log: log, PersistDir: "/etc/sysctl.d"}
}

// bundle resolves a category to its tunables.
func (e *Engine) bundle(category string) ([]models.Tunable, error) {
	switch category {
	case CategoryNetwork:
		return networkBundle(e.cfg), nil
	case CategoryMemory:
		return memoryBundle(e.cfg), nil
	case CategoryIO:
		devices, err := e.sys.BlockDevices()
		if err != nil {
			return nil, err
		}
		return ioBundle(e.cfg, devices), nil
	case CategoryHarden:
		return hardenBundle(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
}

// Apply captures current values and writes the category's bundle. Keys
// already at their target are left alone; when every key matches, no set
// is recorded and (nil, nil) is returned. A failed write restores the
// keys written before it and reports ErrPartialApply; a failure to
// record or persist the set restores every key, so nothing irrevertible
// survives an error.
func (e *Engine) Apply(category string) (set *models.TunableSet, err error) {
	start := time.Now()
	defer func() { e.log.Outcome("optimize", start, err, "category", category) }()

	bundle, err := e.bundle(category)
	if err != nil {
		return nil, err
	}

	// Capture first; only keys that actually change enter the set.
	var pending []models.Tunable
	for _, t := range bundle {
		current, rerr := e.sys.Read(t.Key)
		if rerr != nil {
			return nil, rerr
		}
		if current == t.Value {
			continue
		}
		t.Previous = current
		pending = append(pending, t)
	}
	if len(pending) == 0 {
		e.log.Info("tunables already applied", "category", category)
		return nil, nil
	}

	// restore puts back the captured values of the first n pending keys,
	// newest first.
	restore := func(n int) error {
		for j := n - 1; j >= 0; j-- {
			if rerr := e.sys.Write(pending[j].Key, pending[j].Previous); rerr != nil {
				return fmt.Errorf("restore of %s failed: %v", pending[j].Key, rerr)
			}
		}
		return nil
	}

	for i, t := range pending {
		if werr := e.sys.Write(t.Key, t.Value); werr != nil {
			if rerr := restore(i); rerr != nil {
				return nil, fmt.Errorf("%w: %s: %v; %v", ErrPartialApply, t.Key, werr, rerr)
			}
			return nil, fmt.Errorf("%w: %s: %v", ErrPartialApply, t.Key, werr)
		}
	}

	// A live change without a durable set cannot be reverted later, so a
	// failure to record or persist the set takes the writes back out.
	set = &models.TunableSet{
		ID:        uuid.New().String(),
		Category:  category,
		Tunables:  pending,
		AppliedAt: time.Now().UTC(),
	}
	if err = e.db.CreateTunableSet(set); err != nil {
		if rerr := restore(len(pending)); rerr != nil {
			return nil, fmt.Errorf("record tunable set: %v; %v", err, rerr)
		}
		return nil, fmt.Errorf("record tunable set: %w", err)
	}
	if err = e.persist(category); err != nil {
		if derr := e.db.DeleteTunableSet(set.ID); derr != nil {
			return nil, fmt.Errorf("%v; dropping set also failed: %v", err, derr)
		}
		if rerr := restore(len(pending)); rerr != nil {
			return nil, fmt.Errorf("%v; %v", err, rerr)
		}
		return nil, err
	}
	e.log.Info("tunables applied", "category", category, "set", set.ID, "keys", len(pending))
	return set, nil
}

// ApplyAll applies the network, memory and io bundles.
func (e *Engine) ApplyAll() ([]*models.TunableSet, error) {
	var sets []*models.TunableSet
	for _, cat := range Categories() {
		set, err := e.Apply(cat)
		if err != nil {
			return sets, err
		}
		if set != nil {
			sets = append(sets, set)
		}
	}
	return sets, nil
}

// RevertLatest undoes the most recently applied set.
func (e *Engine) RevertLatest() (err error) {
	start := time.Now()
	defer func() { e.log.Outcome("optimize-revert", start, err) }()

	sets, err := e.db.ListTunableSets()
	if err != nil {
		return err
	}
	if len(sets) == 0 {
		return ErrNoTunableSets
	}
	return e.revert(&sets[0])
}

// RevertSet undoes one recorded set by id.
func (e *Engine) RevertSet(id string) error {
	set, err := e.db.GetTunableSet(id)
	if err != nil {
		return err
	}
	if set == nil {
		return fmt.Errorf("%w: %s", ErrNoTunableSets, id)
	}
	return e.revert(set)
}

// revert restores the captured previous values in reverse application
// order, then drops the set and rewrites persistence.
func (e *Engine) revert(set *models.TunableSet) error {
	for i := len(set.Tunables) - 1; i >= 0; i-- {
		t := set.Tunables[i]
		if err := e.sys.Write(t.Key, t.Previous); err != nil {
			return fmt.Errorf("%w: restoring %s: %v", ErrPartialApply, t.Key, err)
		}
	}
	if err := e.db.DeleteTunableSet(set.ID); err != nil {
		return err
	}
	if err := e.persist(set.Category); err != nil {
		return err
	}
	e.log.Info("tunable set reverted", "category", set.Category, "set", set.ID)
	return nil
}

// persist rewrites the category's sysctl.d drop-in from the surviving
// sets, so the live state and the boot state never diverge. Sysfs keys
// cannot ride in sysctl.d and are reapplied by the boot-check timer.
func (e *Engine) persist(category string) error {
	if err := os.MkdirAll(e.PersistDir, 0755); err != nil {
		return fmt.Errorf("create persist dir: %w", err)
	}
	path := filepath.Join(e.PersistDir, "99-vkm-"+category+".conf")

	sets, err := e.db.ListTunableSets()
	if err != nil {
		return err
	}

	var b strings.Builder
	for i := len(sets) - 1; i >= 0; i-- {
		if sets[i].Category != category {
			continue
		}
		for _, t := range sets[i].Tunables {
			if strings.HasPrefix(t.Key, sysfsPrefix) {
				continue
			}
			fmt.Fprintf(&b, "%s = %s\n", t.Key, t.Value)
		}
	}

	if b.Len() == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
		return nil
	}
	content := "# Managed by vkm; do not edit.\n" + b.String()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Reapply rewrites the live values of every recorded set, oldest first.
// Run after boot to restore sysfs keys that sysctl.d cannot carry.
func (e *Engine) Reapply() error {
	sets, err := e.db.ListTunableSets()
	if err != nil {
		return err
	}
	for i := len(sets) - 1; i >= 0; i-- {
		for _, t := range sets[i].Tunables {
			if err := e.sys.Write(t.Key, t.Value); err != nil {
				return fmt.Errorf("reapply %s: %w", t.Key, err)
			}
		}
	}
	return nil
}

// Sets lists recorded tunable sets, newest first.
func (e *Engine) Sets() ([]models.TunableSet, error) {
	return e.db.ListTunableSets()
}
