package vm

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// ProfileStore persists loop profiles in a sqlite database so hot loops
// from previous runs are recognized immediately on startup.
type ProfileStore struct {
	db *sql.DB
}

const profileSchema = `
CREATE TABLE IF NOT EXISTS loop_profiles (
	code       TEXT    NOT NULL,
	start_pc   INTEGER NOT NULL,
	end_pc     INTEGER NOT NULL,
	back_edges INTEGER NOT NULL,
	hot        INTEGER NOT NULL,
	PRIMARY KEY (code, start_pc)
);
`

// OpenProfileStore opens (creating if necessary) a profile database.
func OpenProfileStore(path string) (*ProfileStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if _, err := db.Exec(profileSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &ProfileStore{db: db}, nil
}

// Load returns every persisted loop profile.
func (s *ProfileStore) Load() ([]*LoopProfile, error) {
	rows, err := s.db.Query(
		`SELECT code, start_pc, end_pc, back_edges, hot FROM loop_profiles`)
	if err != nil {
		return nil, fmt.Errorf("querying profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*LoopProfile
	for rows.Next() {
		var p LoopProfile
		var hot int
		if err := rows.Scan(&p.Key.Code, &p.Key.Start, &p.End, &p.BackEdges, &hot); err != nil {
			return nil, fmt.Errorf("scanning profile: %w", err)
		}
		p.IsHot = hot != 0
		profiles = append(profiles, &p)
	}
	return profiles, rows.Err()
}

// Save upserts the given profiles in one transaction.
func (s *ProfileStore) Save(profiles []*LoopProfile) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO loop_profiles (code, start_pc, end_pc, back_edges, hot)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (code, start_pc) DO UPDATE SET
			end_pc = excluded.end_pc,
			back_edges = excluded.back_edges,
			hot = excluded.hot`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range profiles {
		hot := 0
		if p.IsHot {
			hot = 1
		}
		if _, err := stmt.Exec(p.Key.Code, p.Key.Start, p.End, p.BackEdges, hot); err != nil {
			tx.Rollback()
			return fmt.Errorf("upserting %s@%d: %w", p.Key.Code, p.Key.Start, err)
		}
	}
	return tx.Commit()
}

// Clear removes every persisted profile.
func (s *ProfileStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM loop_profiles`); err != nil {
		return fmt.Errorf("clearing profiles: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *ProfileStore) Close() error {
	return s.db.Close()
}
