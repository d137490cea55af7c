package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// sqliteSchema creates both collections. Favorites carry no foreign key to
// stops: an entry may outlive the stop it was copied from.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS stops (
    stop_id   INTEGER PRIMARY KEY,
    stop_name TEXT    NOT NULL,
    next_stop TEXT
);

CREATE INDEX IF NOT EXISTS idx_stops_name ON stops(stop_name);

CREATE TABLE IF NOT EXISTS favorites (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    bus_stop_id   INTEGER NOT NULL UNIQUE,
    bus_stop_name TEXT,
    next_bus_stop TEXT,
    created_at    INTEGER NOT NULL
);
`

// sqliteStore is the embedded SQLite implementation of Store.
type sqliteStore struct {
	db *sql.DB

	// writeMu serializes mutating operations; SQLite allows one writer anyway,
	// and holding the lock avoids SQLITE_BUSY between our own goroutines.
	writeMu sync.Mutex
}

// initSQLite compiles the embedded SQLite build once per process.
var initSQLite = sqlite3.Initialize

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway store.
func OpenSQLite(ctx context.Context, path string) (Store, error) {
	// Compiling the embedded SQLite build can take seconds on a cold host, so
	// it runs before the per-query timeout starts.
	if err := initSQLite(); err != nil {
		return nil, persistenceErr("initialize", err)
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_txlock=immediate"
	if path == ":memory:" {
		dsn = "file::memory:?_txlock=immediate"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, persistenceErr("open", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, persistenceErr("create schema", err)
	}

	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return persistenceErr("close", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Stops
// ---------------------------------------------------------------------------

func (s *sqliteStore) ListStops(ctx context.Context) ([]StopRecord, error) {
	return s.queryStops(ctx, "ListStops", `
		SELECT stop_id, stop_name, next_stop
		FROM stops
		ORDER BY stop_id`)
}

func (s *sqliteStore) SearchStops(ctx context.Context, query string) ([]StopRecord, error) {
	if strings.TrimSpace(query) == "" {
		return s.ListStops(ctx)
	}
	return s.queryStops(ctx, "SearchStops", `
		SELECT stop_id, stop_name, next_stop
		FROM stops
		WHERE stop_name LIKE '%' || ? || '%' ESCAPE '\'
		ORDER BY stop_id`, escapeLike(query))
}

func (s *sqliteStore) queryStops(ctx context.Context, op, query string, args ...any) ([]StopRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistenceErr(op, err)
	}
	defer rows.Close()

	stops := []StopRecord{}
	for rows.Next() {
		var rec StopRecord
		var next sql.NullString
		if err := rows.Scan(&rec.StopID, &rec.StopName, &next); err != nil {
			return nil, persistenceErr(op, fmt.Errorf("scan: %w", err))
		}
		rec.NextStop = fromNullString(next)
		stops = append(stops, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr(op, err)
	}
	return stops, nil
}

func (s *sqliteStore) CountStops(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stops`).Scan(&n); err != nil {
		return 0, persistenceErr("CountStops", err)
	}
	return n, nil
}

func (s *sqliteStore) InsertStops(ctx context.Context, records []StopRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO stops (stop_id, stop_name, next_stop) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, rec := range records {
			if _, err := stmt.ExecContext(ctx, rec.StopID, rec.StopName, toNullString(rec.NextStop)); err != nil {
				if isSQLiteConstraint(err) {
					return fmt.Errorf("duplicate stop id %d: %w", rec.StopID, err)
				}
				return fmt.Errorf("insert stop %d: %w", rec.StopID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, persistenceErr("InsertStops", err)
	}
	return len(records), nil
}

// ---------------------------------------------------------------------------
// Favorites
// ---------------------------------------------------------------------------

func (s *sqliteStore) ListFavorites(ctx context.Context) ([]FavoriteEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bus_stop_id, bus_stop_name, next_bus_stop, created_at
		FROM favorites
		ORDER BY id`)
	if err != nil {
		return nil, persistenceErr("ListFavorites", err)
	}
	defer rows.Close()

	favs := []FavoriteEntry{}
	for rows.Next() {
		f, err := scanFavorite(rows)
		if err != nil {
			return nil, persistenceErr("ListFavorites", fmt.Errorf("scan: %w", err))
		}
		favs = append(favs, f)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("ListFavorites", err)
	}
	return favs, nil
}

func (s *sqliteStore) AddFavorite(ctx context.Context, entry FavoriteEntry) (*FavoriteEntry, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var f FavoriteEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO favorites (bus_stop_id, bus_stop_name, next_bus_stop, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (bus_stop_id) DO NOTHING`,
			entry.BusStopID, toNullString(entry.BusStopName), toNullString(entry.NextBusStop),
			time.Now().UTC().UnixMilli())
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}

		row := tx.QueryRowContext(ctx, `
			SELECT id, bus_stop_id, bus_stop_name, next_bus_stop, created_at
			FROM favorites
			WHERE bus_stop_id = ?`, entry.BusStopID)
		f, err = scanFavorite(row)
		return err
	})
	if err != nil {
		return nil, persistenceErr("AddFavorite", err)
	}
	return &f, nil
}

func (s *sqliteStore) DeleteFavorite(ctx context.Context, id int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM favorites WHERE id = ?`, id)
	if err != nil {
		return persistenceErr("DeleteFavorite", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistenceErr("DeleteFavorite", err)
	}
	if n == 0 {
		return ErrFavoriteNotFound
	}
	return nil
}

// DeleteAllFavorites deletes each entry of the current snapshot one by one and
// commits once. Any failed delete rolls the whole batch back.
func (s *sqliteStore) DeleteAllFavorites(ctx context.Context) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var deleted int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ids, err := favoriteIDs(ctx, tx)
		if err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `DELETE FROM favorites WHERE id = ?`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, id); err != nil {
				return fmt.Errorf("delete favorite %d: %w", id, err)
			}
		}
		deleted = len(ids)
		return nil
	})
	if err != nil {
		return 0, persistenceErr("DeleteAllFavorites", err)
	}
	return deleted, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// withTx runs fn inside a transaction, committing on success and rolling back
// on any error.
func (s *sqliteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func favoriteIDs(ctx context.Context, tx *sql.Tx) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM favorites ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFavorite(row rowScanner) (FavoriteEntry, error) {
	var f FavoriteEntry
	var name, next sql.NullString
	var createdMillis int64
	if err := row.Scan(&f.ID, &f.BusStopID, &name, &next, &createdMillis); err != nil {
		return FavoriteEntry{}, err
	}
	f.BusStopName = fromNullString(name)
	f.NextBusStop = fromNullString(next)
	f.CreatedAt = time.UnixMilli(createdMillis).UTC()
	return f, nil
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// isSQLiteConstraint reports whether err is a SQLite constraint violation.
func isSQLiteConstraint(err error) bool {
	var sqliteErr *sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.CONSTRAINT
}
