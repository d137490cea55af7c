package service

import (
	"context"
	"sync"
	"time"

	"github.com/FooledKiwi/busstop-api/internal/storage"
)

// ---------------------------------------------------------------------------
// Test doubles shared by the service tests
// ---------------------------------------------------------------------------

// memStore is an in-memory StopsRepository and FavoritesRepository.
// Setting an *Err field makes the matching operation fail without changing
// any data, the way a rolled-back transaction would.
type memStore struct {
	mu     sync.Mutex
	stops  map[int64]storage.StopRecord
	favs   []storage.FavoriteEntry
	nextID int64

	countErr  error
	insertErr error
	listErr   error
	addErr    error
	deleteErr error
	clearErr  error

	countCalls int
}

func newMemStore() *memStore {
	return &memStore{stops: make(map[int64]storage.StopRecord)}
}

func (m *memStore) ListStops(_ context.Context) ([]storage.StopRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.StopRecord, 0, len(m.stops))
	for _, s := range m.stops {
		out = append(out, s)
	}
	return out, nil
}

func (m *memStore) SearchStops(ctx context.Context, _ string) ([]storage.StopRecord, error) {
	return m.ListStops(ctx)
}

func (m *memStore) CountStops(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countCalls++
	if m.countErr != nil {
		return 0, m.countErr
	}
	return len(m.stops), nil
}

func (m *memStore) InsertStops(_ context.Context, records []storage.StopRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	for _, r := range records {
		m.stops[r.StopID] = r
	}
	return len(records), nil
}

func (m *memStore) ListFavorites(_ context.Context) ([]storage.FavoriteEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]storage.FavoriteEntry, len(m.favs))
	copy(out, m.favs)
	return out, nil
}

func (m *memStore) AddFavorite(_ context.Context, e storage.FavoriteEntry) (*storage.FavoriteEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return nil, m.addErr
	}
	for _, f := range m.favs {
		if f.BusStopID == e.BusStopID {
			existing := f
			return &existing, nil
		}
	}
	m.nextID++
	e.ID = m.nextID
	e.CreatedAt = time.Now()
	m.favs = append(m.favs, e)
	return &e, nil
}

func (m *memStore) DeleteFavorite(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	for i, f := range m.favs {
		if f.ID == id {
			m.favs = append(m.favs[:i], m.favs[i+1:]...)
			return nil
		}
	}
	return storage.ErrFavoriteNotFound
}

func (m *memStore) DeleteAllFavorites(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clearErr != nil {
		return 0, m.clearErr
	}
	n := len(m.favs)
	m.favs = nil
	return n, nil
}

func strPtr(s string) *string { return &s }
