package state

import (
	"database/sql"
	"fmt"
	"time"
)

// SwitchStatus represents the status of a kernel switch attempt.
type SwitchStatus string

const (
	// SwitchPending means activation happened and the confirmation window
	// is open.
	SwitchPending SwitchStatus = "pending"
	// SwitchConfirmed means the new kernel was confirmed running.
	SwitchConfirmed SwitchStatus = "confirmed"
	// SwitchRolledBack means the window expired or the boot check failed
	// and the previous kernel was restored.
	SwitchRolledBack SwitchStatus = "rolled_back"
)

// Switch is one activation attempt with its confirmation window.
type Switch struct {
	ID         string       `json:"id"`
	FromKernel string       `json:"from_kernel"`
	ToKernel   string       `json:"to_kernel"`
	StartedAt  time.Time    `json:"started_at"`
	Deadline   time.Time    `json:"deadline"`
	Status     SwitchStatus `json:"status"`
}

// CreateSwitch records a new switch attempt.
func (db *DB) CreateSwitch(s *Switch) error {
	_, err := db.Exec(`
		INSERT INTO switches (id, from_kernel, to_kernel, started_at, deadline, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.ID, s.FromKernel, s.ToKernel, formatTime(s.StartedAt), formatTime(s.Deadline), string(s.Status))
	if err != nil {
		return fmt.Errorf("create switch: %w", err)
	}
	return nil
}

// PendingSwitch returns the switch awaiting confirmation, or nil.
// At most one switch is pending at a time.
func (db *DB) PendingSwitch() (*Switch, error) {
	row := db.QueryRow(`
		SELECT id, from_kernel, to_kernel, started_at, deadline, status
		FROM switches WHERE status = ? ORDER BY started_at DESC LIMIT 1
	`, string(SwitchPending))

	var s Switch
	var startedAt, deadline string
	err := row.Scan(&s.ID, &s.FromKernel, &s.ToKernel, &startedAt, &deadline, &s.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending switch: %w", err)
	}
	s.StartedAt, _ = parseTime(startedAt)
	s.Deadline, _ = parseTime(deadline)
	return &s, nil
}

// ResolveSwitch finalizes a switch attempt as confirmed or rolled back.
func (db *DB) ResolveSwitch(id string, status SwitchStatus) error {
	res, err := db.Exec(`UPDATE switches SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("resolve switch: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("resolve switch: switch %s not found", id)
	}
	return nil
}
