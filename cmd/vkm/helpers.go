package main

import (
	"fmt"
	"os"

	"github.com/vkm-dev/vkm/internal/bench"
	"github.com/vkm-dev/vkm/internal/boot"
	"github.com/vkm-dev/vkm/internal/build"
	"github.com/vkm-dev/vkm/internal/config"
	"github.com/vkm-dev/vkm/internal/exec"
	"github.com/vkm-dev/vkm/internal/kernel"
	"github.com/vkm-dev/vkm/internal/logging"
	"github.com/vkm-dev/vkm/internal/optimize"
	"github.com/vkm-dev/vkm/internal/patch"
	"github.com/vkm-dev/vkm/internal/state"
	"github.com/vkm-dev/vkm/internal/sysinfo"
)

// app bundles the collaborators every subcommand wires up: config,
// state database, operation log, command runner and host collector.
type app struct {
	cfg    *config.Config
	db     *state.DB
	log    *logging.Logger
	runner *exec.ExecRunner
	host   *sysinfo.Collector
}

func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.General.StateDir, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	db, err := state.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	log, err := logging.Open(cfg.General.LogDir)
	if err != nil {
		db.Close()
		return nil, err
	}

	runner := exec.NewRunner()
	return &app{
		cfg:    cfg,
		db:     db,
		log:    log,
		runner: runner,
		host:   sysinfo.NewCollector(runner),
	}, nil
}

func (a *app) Close() {
	a.db.Close()
	a.log.Close()
}

func (a *app) kernels() *kernel.Manager {
	return kernel.NewManager(a.cfg, a.db, boot.NewGrub(a.runner), a.host, a.log)
}

func (a *app) patches() *patch.Manager {
	return patch.NewManager(a.db, a.runner, patch.NewFetcher(), a.log.Logger)
}

func (a *app) builder() *build.Builder {
	return build.NewBuilder(a.cfg, a.db, a.runner, a.patches(), a.host, a.log)
}

func (a *app) optimizer() *optimize.Engine {
	return optimize.NewEngine(a.cfg, a.db, optimize.NewProcApplier(), a.log)
}

func (a *app) benchmarks() *bench.Harness {
	return bench.NewHarness(a.db, a.runner, a.log)
}
