package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgStore is the pgx-backed implementation of Store.
type pgStore struct {
	pool *pgxpool.Pool

	// writeMu serializes mutating operations issued through this process.
	writeMu sync.Mutex
}

// NewPostgresStore creates a Store backed by the given connection pool.
// The pool is owned by the store and closed by Close.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}

// ---------------------------------------------------------------------------
// Stops
// ---------------------------------------------------------------------------

func (s *pgStore) ListStops(ctx context.Context) ([]StopRecord, error) {
	return s.queryStops(ctx, "ListStops", `
		SELECT stop_id, stop_name, next_stop
		FROM stops
		ORDER BY stop_id`)
}

func (s *pgStore) SearchStops(ctx context.Context, query string) ([]StopRecord, error) {
	if query == "" {
		return s.ListStops(ctx)
	}
	return s.queryStops(ctx, "SearchStops", `
		SELECT stop_id, stop_name, next_stop
		FROM stops
		WHERE stop_name ILIKE '%' || $1 || '%'
		ORDER BY stop_id`, escapeLike(query))
}

func (s *pgStore) queryStops(ctx context.Context, op, sql string, args ...any) ([]StopRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, persistenceErr(op, err)
	}
	defer rows.Close()

	stops := []StopRecord{}
	for rows.Next() {
		var rec StopRecord
		if err := rows.Scan(&rec.StopID, &rec.StopName, &rec.NextStop); err != nil {
			return nil, persistenceErr(op, fmt.Errorf("scan: %w", err))
		}
		stops = append(stops, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr(op, err)
	}
	return stops, nil
}

func (s *pgStore) CountStops(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stops`).Scan(&n); err != nil {
		return 0, persistenceErr("CountStops", err)
	}
	return n, nil
}

// InsertStops writes all records with a single batch inside one transaction.
// A unique violation on stop_id aborts the whole batch.
func (s *pgStore) InsertStops(ctx context.Context, records []StopRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, rec := range records {
			batch.Queue(`INSERT INTO stops (stop_id, stop_name, next_stop) VALUES ($1, $2, $3)`,
				rec.StopID, rec.StopName, rec.NextStop)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		if isUniqueViolation(err) {
			return 0, persistenceErr("InsertStops", fmt.Errorf("duplicate stop id: %w", err))
		}
		return 0, persistenceErr("InsertStops", err)
	}
	return len(records), nil
}

// ---------------------------------------------------------------------------
// Favorites
// ---------------------------------------------------------------------------

func (s *pgStore) ListFavorites(ctx context.Context) ([]FavoriteEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT id, bus_stop_id, bus_stop_name, next_bus_stop, created_at
		FROM favorites
		ORDER BY id`)
	if err != nil {
		return nil, persistenceErr("ListFavorites", err)
	}
	defer rows.Close()

	favs := []FavoriteEntry{}
	for rows.Next() {
		var f FavoriteEntry
		if err := rows.Scan(&f.ID, &f.BusStopID, &f.BusStopName, &f.NextBusStop, &f.CreatedAt); err != nil {
			return nil, persistenceErr("ListFavorites", fmt.Errorf("scan: %w", err))
		}
		favs = append(favs, f)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("ListFavorites", err)
	}
	return favs, nil
}

func (s *pgStore) AddFavorite(ctx context.Context, entry FavoriteEntry) (*FavoriteEntry, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	// The no-op update makes RETURNING yield the existing row on conflict
	// without changing any stored column.
	f := FavoriteEntry{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO favorites (bus_stop_id, bus_stop_name, next_bus_stop)
		VALUES ($1, $2, $3)
		ON CONFLICT (bus_stop_id) DO UPDATE SET bus_stop_id = favorites.bus_stop_id
		RETURNING id, bus_stop_id, bus_stop_name, next_bus_stop, created_at`,
		entry.BusStopID, entry.BusStopName, entry.NextBusStop,
	).Scan(&f.ID, &f.BusStopID, &f.BusStopName, &f.NextBusStop, &f.CreatedAt)
	if err != nil {
		return nil, persistenceErr("AddFavorite", err)
	}
	return &f, nil
}

func (s *pgStore) DeleteFavorite(ctx context.Context, id int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `DELETE FROM favorites WHERE id = $1`, id)
	if err != nil {
		return persistenceErr("DeleteFavorite", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFavoriteNotFound
	}
	return nil
}

// DeleteAllFavorites reads the current favorite IDs and deletes exactly that
// snapshot in the same transaction.
func (s *pgStore) DeleteAllFavorites(ctx context.Context) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var deleted int
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT id FROM favorites ORDER BY id`)
		if err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		tag, err := tx.Exec(ctx, `DELETE FROM favorites WHERE id = ANY($1)`, ids)
		if err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		if int(tag.RowsAffected()) != len(ids) {
			return fmt.Errorf("delete: removed %d of %d entries", tag.RowsAffected(), len(ids))
		}
		deleted = len(ids)
		return nil
	})
	if err != nil {
		return 0, persistenceErr("DeleteAllFavorites", err)
	}
	return deleted, nil
}

// isUniqueViolation reports whether err carries PostgreSQL SQLSTATE 23505.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
