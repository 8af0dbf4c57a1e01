package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vkm-dev/vkm/pkg/models"
)

// CreateKernel inserts a new kernel record.
func (db *DB) CreateKernel(k *models.KernelRecord) error {
	delta, err := json.Marshal(k.ConfigDelta)
	if err != nil {
		return fmt.Errorf("marshal config delta: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO kernels (id, version, variant, source_path, config_delta, status,
			package_path, boot_entry_id, pinned, build_log_path, created_at, activated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, k.ID, k.Version, k.Variant, k.SourcePath, string(delta), string(k.Status),
		k.PackagePath, k.BootEntryID, boolToInt(k.Pinned), k.BuildLogPath,
		formatTime(k.CreatedAt), nullableTime(k.ActivatedAt))
	if err != nil {
		return fmt.Errorf("create kernel: %w", err)
	}
	return nil
}

// GetKernel retrieves a kernel record by id. Returns nil when absent.
func (db *DB) GetKernel(id string) (*models.KernelRecord, error) {
	row := db.QueryRow(`
		SELECT id, version, variant, source_path, config_delta, status,
			package_path, boot_entry_id, pinned, build_log_path, created_at, activated_at
		FROM kernels WHERE id = ?
	`, id)
	return scanKernel(row)
}

// UpdateKernel persists all mutable fields of a kernel record.
func (db *DB) UpdateKernel(k *models.KernelRecord) error {
	delta, err := json.Marshal(k.ConfigDelta)
	if err != nil {
		return fmt.Errorf("marshal config delta: %w", err)
	}

	_, err = db.Exec(`
		UPDATE kernels SET source_path = ?, config_delta = ?, status = ?,
			package_path = ?, boot_entry_id = ?, pinned = ?, build_log_path = ?, activated_at = ?
		WHERE id = ?
	`, k.SourcePath, string(delta), string(k.Status), k.PackagePath,
		k.BootEntryID, boolToInt(k.Pinned), k.BuildLogPath,
		nullableTime(k.ActivatedAt), k.ID)
	if err != nil {
		return fmt.Errorf("update kernel: %w", err)
	}
	return nil
}

// SetKernelStatus transitions a kernel record to the given status.
func (db *DB) SetKernelStatus(id string, status models.KernelStatus) error {
	res, err := db.Exec(`UPDATE kernels SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("set kernel status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("set kernel status: kernel %s not found", id)
	}
	return nil
}

// SetKernelPinned marks or unmarks a kernel as pinned.
func (db *DB) SetKernelPinned(id string, pinned bool) error {
	_, err := db.Exec(`UPDATE kernels SET pinned = ? WHERE id = ?`, boolToInt(pinned), id)
	if err != nil {
		return fmt.Errorf("set kernel pinned: %w", err)
	}
	return nil
}

// ListKernels returns kernel records, newest first. A non-nil status
// filters to that lifecycle state.
func (db *DB) ListKernels(status *models.KernelStatus) ([]models.KernelRecord, error) {
	query := `
		SELECT id, version, variant, source_path, config_delta, status,
			package_path, boot_entry_id, pinned, build_log_path, created_at, activated_at
		FROM kernels`
	args := []any{}
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list kernels: %w", err)
	}
	defer rows.Close()

	var kernels []models.KernelRecord
	for rows.Next() {
		k, err := scanKernelRows(rows)
		if err != nil {
			return nil, err
		}
		kernels = append(kernels, *k)
	}
	return kernels, rows.Err()
}

// ActiveKernel returns the record currently in the Active state, or nil.
func (db *DB) ActiveKernel() (*models.KernelRecord, error) {
	row := db.QueryRow(`
		SELECT id, version, variant, source_path, config_delta, status,
			package_path, boot_entry_id, pinned, build_log_path, created_at, activated_at
		FROM kernels WHERE status = ?
	`, string(models.KernelActive))
	return scanKernel(row)
}

// CountRetained counts records occupying a retention slot: every state
// between Compiled and Inactive, excluding Failed and Retired.
func (db *DB) CountRetained() (int, error) {
	row := db.QueryRow(`
		SELECT COUNT(*) FROM kernels
		WHERE status IN (?, ?, ?, ?, ?)
	`, string(models.KernelCompiled), string(models.KernelInstalled),
		string(models.KernelActivating), string(models.KernelActive),
		string(models.KernelInactive))

	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count retained kernels: %w", err)
	}
	return n, nil
}

// OldestEvictable returns the oldest record that may be evicted to make
// room: Installed or Inactive, never Active or Activating, never pinned.
// Returns nil when no record qualifies.
func (db *DB) OldestEvictable() (*models.KernelRecord, error) {
	row := db.QueryRow(`
		SELECT id, version, variant, source_path, config_delta, status,
			package_path, boot_entry_id, pinned, build_log_path, created_at, activated_at
		FROM kernels
		WHERE status IN (?, ?, ?) AND pinned = 0
		ORDER BY created_at ASC LIMIT 1
	`, string(models.KernelCompiled), string(models.KernelInstalled), string(models.KernelInactive))
	return scanKernel(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKernelFrom(s rowScanner) (*models.KernelRecord, error) {
	var k models.KernelRecord
	var delta, createdAt string
	var sourcePath, packagePath, bootEntryID, buildLogPath sql.NullString
	var activatedAt sql.NullString
	var pinned int

	err := s.Scan(&k.ID, &k.Version, &k.Variant, &sourcePath, &delta, &k.Status,
		&packagePath, &bootEntryID, &pinned, &buildLogPath, &createdAt, &activatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan kernel: %w", err)
	}

	k.SourcePath = sourcePath.String
	k.PackagePath = packagePath.String
	k.BootEntryID = bootEntryID.String
	k.BuildLogPath = buildLogPath.String
	k.Pinned = pinned != 0
	if delta != "" {
		if err := json.Unmarshal([]byte(delta), &k.ConfigDelta); err != nil {
			return nil, fmt.Errorf("unmarshal config delta: %w", err)
		}
	}
	k.CreatedAt, _ = parseTime(createdAt)
	k.ActivatedAt = parseNullableTime(activatedAt)
	return &k, nil
}

func scanKernel(row *sql.Row) (*models.KernelRecord, error) {
	return scanKernelFrom(row)
}

func scanKernelRows(rows *sql.Rows) (*models.KernelRecord, error) {
	return scanKernelFrom(rows)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
