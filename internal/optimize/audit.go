package optimize

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/vkm-dev/vkm/internal/exec"
)

// auditRules watches kernel module loading, identity files and clock
// changes. Loaded by auditd from rules.d.
var auditRules = []string{
	"-D",
	"-b 8192",
	"-f 1",
	"",
	"-w /sbin/insmod -p x -k modules",
	"-w /sbin/rmmod -p x -k modules",
	"-w /sbin/modprobe -p x -k modules",
	"",
	"-w /etc/passwd -p wa -k passwd_changes",
	"-w /etc/group -p wa -k group_changes",
	"-w /etc/shadow -p wa -k shadow_changes",
	"",
	"-a always,exit -F arch=b64 -S adjtimex -S settimeofday -k time-change",
	"-a always,exit -F arch=b32 -S adjtimex -S settimeofday -S stime -k time-change",
}

// AuditRules installs the auditd ruleset that accompanies the
// hardening bundle.
type AuditRules struct {
	runner exec.CommandRunner

	// Path is the rules.d file the ruleset is written to.
	Path string
}

// NewAuditRules creates an installer over the system auditd.
func NewAuditRules(runner exec.CommandRunner) *AuditRules {
	return &AuditRules{runner: runner, Path: "/etc/audit/rules.d/vkm.rules"}
}

// Install writes the ruleset and reloads auditd.
func (r *AuditRules) Install(ctx context.Context) error {
	content := strings.Join(auditRules, "\n") + "\n"
	if err := os.WriteFile(r.Path, []byte(content), 0640); err != nil {
		return fmt.Errorf("write audit rules: %w", err)
	}
	return r.reload(ctx)
}

// Remove deletes the ruleset and reloads auditd. Missing file is a no-op.
func (r *AuditRules) Remove(ctx context.Context) error {
	if err := os.Remove(r.Path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("remove audit rules: %w", err)
	}
	return r.reload(ctx)
}

func (r *AuditRules) reload(ctx context.Context) error {
	if !r.runner.LookPath("systemctl") {
		return nil
	}
	if out, err := r.runner.Run(ctx, "", "systemctl", "restart", "auditd"); err != nil {
		return fmt.Errorf("restart auditd: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
