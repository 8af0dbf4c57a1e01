// Package config handles configuration loading and management for vkm.
// Configuration lives in an ini file with [general], [compilation], [vps],
// [security] and [patches] sections. Absent keys fall back to built-in
// defaults; a value that cannot be parsed is a fatal ErrConfig at load time,
// never a silent fallback.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/ini.v1"
)

// ErrConfig indicates malformed configuration. Fatal at load time.
var ErrConfig = errors.New("invalid configuration")

// DefaultPath is the system-wide config file installed by the provisioner.
const DefaultPath = "/etc/vkm/config.ini"

// Config holds all configuration for vkm.
type Config struct {
	General     GeneralConfig     `mapstructure:"general"`
	Compilation CompilationConfig `mapstructure:"compilation"`
	VPS         VPSConfig         `mapstructure:"vps"`
	Security    SecurityConfig    `mapstructure:"security"`
	Patches     PatchesConfig     `mapstructure:"patches"`
}

// GeneralConfig holds directory layout and kernel retention settings.
type GeneralConfig struct {
	// BuildDir is the scratch root for kernel builds.
	BuildDir string `mapstructure:"build_dir"`
	// SourceDir is where extracted kernel sources are kept during a build.
	SourceDir string `mapstructure:"kernel_source_dir"`
	// StateDir holds the sqlite state database, locks and backups.
	StateDir string `mapstructure:"state_dir"`
	// LogDir is the durable operation log root.
	LogDir string `mapstructure:"log_dir"`
	// ParallelJobs overrides the computed compile parallelism when > 0.
	ParallelJobs int `mapstructure:"parallel_jobs"`
	// MaxKernels bounds the number of retained kernel records.
	MaxKernels int `mapstructure:"max_kernels"`
	// AutoBackup copies the current kernel's boot files before a switch.
	AutoBackup bool `mapstructure:"auto_backup"`
	// ConfirmWindow is how long a switch may stay unconfirmed before
	// boot-check rolls it back.
	ConfirmWindow time.Duration `mapstructure:"confirm_window"`
}

// CompilationConfig holds compiler and flag settings.
type CompilationConfig struct {
	Compiler     string `mapstructure:"compiler"`
	Optimization string `mapstructure:"default_optimization"`
	CustomCflags string `mapstructure:"custom_cflags"`
	EnableLTO    bool   `mapstructure:"enable_lto"`
	DebugInfo    bool   `mapstructure:"debug_info"`
	// MemPerJobMB is the per-compile-job memory estimate used to derive
	// the parallelism ceiling from available memory.
	MemPerJobMB int `mapstructure:"mem_per_job_mb"`
}

// VPSConfig holds runtime tunable targets for the vps profile.
type VPSConfig struct {
	TCPCongestion        string `mapstructure:"tcp_congestion"`
	IOScheduler          string `mapstructure:"io_scheduler"`
	TransparentHugepages string `mapstructure:"transparent_hugepages"`
	VMSwappiness         int    `mapstructure:"vm_swappiness"`
}

// SecurityConfig holds hardening toggles.
type SecurityConfig struct {
	EnableHardening bool `mapstructure:"enable_hardening"`
	AuditLogging    bool `mapstructure:"audit_logging"`
}

// PatchesConfig holds patch source settings.
type PatchesConfig struct {
	// ManifestPath points at the trusted patch-source manifest.
	ManifestPath string `mapstructure:"manifest_path"`
	// AutoDownload allows fetching trusted sources without --url.
	AutoDownload bool `mapstructure:"auto_download"`
}

// Load loads configuration from the default path, falling back to built-in
// defaults when the file does not exist.
func Load() (*Config, error) {
	return LoadFromPath(DefaultPath)
}

// LoadFromPath loads configuration from a specific ini file.
// A missing file yields pure defaults; a malformed file is ErrConfig.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Absent file: built-in defaults apply.
		return unmarshal(v)
	}

	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrConfig, path, err)
	}

	settings := make(map[string]interface{})
	for _, sec := range f.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		keys := make(map[string]interface{}, len(sec.Keys()))
		for _, key := range sec.Keys() {
			keys[key.Name()] = key.Value()
		}
		settings[sec.Name()] = keys
	}
	if err := v.MergeConfigMap(settings); err != nil {
		return nil, fmt.Errorf("%w: merging %s: %v", ErrConfig, path, err)
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	// Ini values arrive as strings; weak typing converts "5" -> 5 while
	// still rejecting non-numeric input.
	weak := func(dc *mapstructure.DecoderConfig) { dc.WeaklyTypedInput = true }
	if err := v.Unmarshal(cfg, weak); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate rejects values that parsed but are out of range.
func (c *Config) validate() error {
	if c.General.MaxKernels < 1 {
		return fmt.Errorf("%w: general.max_kernels must be >= 1, got %d", ErrConfig, c.General.MaxKernels)
	}
	if c.General.ParallelJobs < 0 {
		return fmt.Errorf("%w: general.parallel_jobs must be >= 0, got %d", ErrConfig, c.General.ParallelJobs)
	}
	if c.Compilation.MemPerJobMB < 1 {
		return fmt.Errorf("%w: compilation.mem_per_job_mb must be >= 1, got %d", ErrConfig, c.Compilation.MemPerJobMB)
	}
	if c.General.ConfirmWindow <= 0 {
		return fmt.Errorf("%w: general.confirm_window must be positive, got %s", ErrConfig, c.General.ConfirmWindow)
	}
	if c.VPS.VMSwappiness < 0 || c.VPS.VMSwappiness > 100 {
		return fmt.Errorf("%w: vps.vm_swappiness must be 0-100, got %d", ErrConfig, c.VPS.VMSwappiness)
	}
	return nil
}

// setDefaults configures built-in default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("general.build_dir", "/tmp/vkm-build")
	v.SetDefault("general.kernel_source_dir", "/usr/src")
	v.SetDefault("general.state_dir", "/var/lib/vkm")
	v.SetDefault("general.log_dir", "/var/log/vkm")
	v.SetDefault("general.parallel_jobs", 0)
	v.SetDefault("general.max_kernels", 5)
	v.SetDefault("general.auto_backup", true)
	v.SetDefault("general.confirm_window", "10m")

	v.SetDefault("compilation.compiler", "gcc")
	v.SetDefault("compilation.default_optimization", "O2")
	v.SetDefault("compilation.custom_cflags", "-march=native")
	v.SetDefault("compilation.enable_lto", false)
	v.SetDefault("compilation.debug_info", false)
	v.SetDefault("compilation.mem_per_job_mb", 2048)

	v.SetDefault("vps.tcp_congestion", "bbr")
	v.SetDefault("vps.io_scheduler", "mq-deadline")
	v.SetDefault("vps.transparent_hugepages", "madvise")
	v.SetDefault("vps.vm_swappiness", 1)

	v.SetDefault("security.enable_hardening", true)
	v.SetDefault("security.audit_logging", true)

	v.SetDefault("patches.manifest_path", "/etc/vkm/patches.yaml")
	v.SetDefault("patches.auto_download", true)
}

// Default returns a Config with built-in default values.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, _ := unmarshal(v)
	return cfg
}

// DBPath returns the state database path under the state dir.
func (c *Config) DBPath() string {
	return filepath.Join(c.General.StateDir, "vkm.db")
}

// SwitchLockPath returns the system-wide switch serialization lock file.
func (c *Config) SwitchLockPath() string {
	return filepath.Join(c.General.StateDir, "switch.lock")
}

// PendingSwitchMarker returns the marker file watched by `switch --wait`.
func (c *Config) PendingSwitchMarker() string {
	return filepath.Join(c.General.StateDir, "switch.pending")
}

// BackupDir returns the kernel backup directory for a kernel version.
func (c *Config) BackupDir(version string) string {
	return filepath.Join(c.General.StateDir, "backups", version)
}
