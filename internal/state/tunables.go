package state

import (
	"database/sql"
	"fmt"

	"github.com/vkm-dev/vkm/pkg/models"
)

// CreateTunableSet stores a tunable set and its entries atomically.
func (db *DB) CreateTunableSet(set *models.TunableSet) error {
	return db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO tunable_sets (id, category, applied_at) VALUES (?, ?, ?)
		`, set.ID, set.Category, formatTime(set.AppliedAt)); err != nil {
			return fmt.Errorf("create tunable set: %w", err)
		}
		for i, t := range set.Tunables {
			if _, err := tx.Exec(`
				INSERT INTO tunables (set_id, idx, key, previous, value) VALUES (?, ?, ?, ?, ?)
			`, set.ID, i, t.Key, t.Previous, t.Value); err != nil {
				return fmt.Errorf("create tunable %s: %w", t.Key, err)
			}
		}
		return nil
	})
}

// GetTunableSet retrieves a tunable set with its entries. Returns nil
// when absent.
func (db *DB) GetTunableSet(id string) (*models.TunableSet, error) {
	sets, err := db.queryTunableSets(`WHERE ts.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return nil, nil
	}
	return &sets[0], nil
}

// ListTunableSets returns all applied sets, most recent first. Revert
// replays them in this order.
func (db *DB) ListTunableSets() ([]models.TunableSet, error) {
	return db.queryTunableSets(``)
}

func (db *DB) queryTunableSets(where string, args ...any) ([]models.TunableSet, error) {
	rows, err := db.Query(`
		SELECT ts.id, ts.category, ts.applied_at, t.key, t.previous, t.value
		FROM tunable_sets ts
		JOIN tunables t ON t.set_id = ts.id
		`+where+`
		ORDER BY ts.applied_at DESC, ts.id, t.idx ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query tunable sets: %w", err)
	}
	defer rows.Close()

	var sets []models.TunableSet
	index := map[string]int{}
	for rows.Next() {
		var id, category, appliedAt string
		var t models.Tunable
		if err := rows.Scan(&id, &category, &appliedAt, &t.Key, &t.Previous, &t.Value); err != nil {
			return nil, fmt.Errorf("scan tunable: %w", err)
		}
		i, ok := index[id]
		if !ok {
			ts := models.TunableSet{ID: id, Category: category}
			ts.AppliedAt, _ = parseTime(appliedAt)
			sets = append(sets, ts)
			i = len(sets) - 1
			index[id] = i
		}
		sets[i].Tunables = append(sets[i].Tunables, t)
	}
	return sets, rows.Err()
}

// DeleteTunableSet removes a set after its tunables have been reverted.
func (db *DB) DeleteTunableSet(id string) error {
	_, err := db.Exec(`DELETE FROM tunable_sets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete tunable set: %w", err)
	}
	return nil
}
