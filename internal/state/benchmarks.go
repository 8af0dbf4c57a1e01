package state

import (
	"fmt"

	"github.com/vkm-dev/vkm/pkg/models"
)

// RecordBenchmark appends one benchmark result. Results are never updated
// or deleted; they are the audit trail.
func (db *DB) RecordBenchmark(r *models.BenchmarkResult) error {
	_, err := db.Exec(`
		INSERT INTO benchmarks (category, metric, value, unit, kernel_id, tunable_set_id, measured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, string(r.Category), r.Metric, r.Value, r.Unit, r.KernelID, r.TunableSetID, formatTime(r.MeasuredAt))
	if err != nil {
		return fmt.Errorf("record benchmark: %w", err)
	}
	return nil
}

// ListBenchmarks returns recorded results, most recent first. A non-nil
// category filters to that workload.
func (db *DB) ListBenchmarks(category *models.BenchmarkCategory) ([]models.BenchmarkResult, error) {
	query := `
		SELECT category, metric, value, unit, kernel_id, tunable_set_id, measured_at
		FROM benchmarks`
	args := []any{}
	if category != nil {
		query += ` WHERE category = ?`
		args = append(args, string(*category))
	}
	query += ` ORDER BY measured_at DESC, id DESC`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list benchmarks: %w", err)
	}
	defer rows.Close()

	var results []models.BenchmarkResult
	for rows.Next() {
		var r models.BenchmarkResult
		var measuredAt string
		if err := rows.Scan(&r.Category, &r.Metric, &r.Value, &r.Unit, &r.KernelID, &r.TunableSetID, &measuredAt); err != nil {
			return nil, fmt.Errorf("scan benchmark: %w", err)
		}
		r.MeasuredAt, _ = parseTime(measuredAt)
		results = append(results, r)
	}
	return results, rows.Err()
}
