// Package storage provides the persistent entity store for stop records and
// favorite entries, with PostgreSQL and embedded SQLite implementations.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrFavoriteNotFound is returned when a favorite entry does not exist.
var ErrFavoriteNotFound = errors.New("favorite not found")

// PersistenceError reports a failed read or commit against the backing store.
// The data the store held before the failed operation remains authoritative.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// StopRecord is a known bus stop, sourced from the remote provider.
type StopRecord struct {
	StopID   int64
	StopName string
	// NextStop is the name of the following stop on the route, if known.
	NextStop *string
}

// FavoriteEntry is a user's saved stop. It is a denormalized copy of the stop
// data: BusStopID may reference a stop that is not in the stops collection.
type FavoriteEntry struct {
	// ID is assigned by the store and increases with insertion order.
	ID          int64
	BusStopID   int64
	BusStopName *string
	NextBusStop *string
	CreatedAt   time.Time
}

// StopsRepository defines operations on the stops collection.
type StopsRepository interface {
	// ListStops returns every stored stop, ordered by stop ID.
	ListStops(ctx context.Context) ([]StopRecord, error)

	// SearchStops returns stops whose name contains query, case-insensitively.
	// An empty query behaves like ListStops.
	SearchStops(ctx context.Context, query string) ([]StopRecord, error)

	// CountStops returns the number of stored stops.
	CountStops(ctx context.Context) (int, error)

	// InsertStops inserts records in a single transaction. Either every record
	// becomes visible or none does.
	InsertStops(ctx context.Context, records []StopRecord) (int, error)
}

// FavoritesRepository defines operations on the favorites collection.
type FavoritesRepository interface {
	// ListFavorites returns all favorites in insertion order.
	ListFavorites(ctx context.Context) ([]FavoriteEntry, error)

	// AddFavorite stores a new favorite. If the stop is already a favorite the
	// existing entry is returned unchanged.
	AddFavorite(ctx context.Context, entry FavoriteEntry) (*FavoriteEntry, error)

	// DeleteFavorite removes the favorite with the given ID.
	// Returns ErrFavoriteNotFound when no such entry exists.
	DeleteFavorite(ctx context.Context, id int64) error

	// DeleteAllFavorites removes every favorite present when the call acquires
	// the write lock, in one transaction. On failure nothing is removed.
	DeleteAllFavorites(ctx context.Context) (int, error)
}

// Store is the entity store: both collections behind one explicitly opened
// and closed handle.
type Store interface {
	StopsRepository
	FavoritesRepository

	// Close releases the underlying database handle.
	Close() error
}

// queryTimeout is applied to every database operation.
const queryTimeout = 5 * time.Second

func persistenceErr(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
