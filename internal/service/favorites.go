package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/FooledKiwi/busstop-api/internal/metrics"
	"github.com/FooledKiwi/busstop-api/internal/storage"
	"go.uber.org/zap"
)

// ErrInvalidStopID is returned when a favorite names a non-positive stop ID.
var ErrInvalidStopID = errors.New("bus stop id must be a positive integer")

// FavoritesService is the user-facing API over stored favorites.
// Every read goes to the repository; the service keeps no copy of the list.
type FavoritesService struct {
	repo    storage.FavoritesRepository
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewFavoritesService creates a FavoritesService on top of repo.
// m may be nil when metrics are not needed (e.g. in tests).
func NewFavoritesService(repo storage.FavoritesRepository, logger *zap.Logger, m *metrics.Collector) *FavoritesService {
	return &FavoritesService{
		repo:    repo,
		logger:  logger.Named("favorites"),
		metrics: m,
	}
}

// List returns all favorites in insertion order. An empty list is not an error.
func (s *FavoritesService) List(ctx context.Context) ([]storage.FavoriteEntry, error) {
	favs, err := s.repo.ListFavorites(ctx)
	if err != nil {
		s.logger.Error("list favorites failed", zap.Error(err))
		return nil, fmt.Errorf("favorites: List: %w", err)
	}
	return favs, nil
}

// Add saves a stop as a favorite. Name and next stop are optional.
func (s *FavoritesService) Add(ctx context.Context, entry storage.FavoriteEntry) (*storage.FavoriteEntry, error) {
	if entry.BusStopID <= 0 {
		return nil, ErrInvalidStopID
	}

	fav, err := s.repo.AddFavorite(ctx, entry)
	s.metrics.ObserveFavoriteOp("add", err)
	if err != nil {
		s.logger.Error("add favorite failed", zap.Int64("bus_stop_id", entry.BusStopID), zap.Error(err))
		return nil, fmt.Errorf("favorites: Add: %w", err)
	}

	s.logger.Debug("favorite added", zap.Int64("id", fav.ID), zap.Int64("bus_stop_id", fav.BusStopID))
	return fav, nil
}

// RemoveOne deletes the favorite with the given ID and leaves every other
// entry untouched.
func (s *FavoritesService) RemoveOne(ctx context.Context, id int64) error {
	err := s.repo.DeleteFavorite(ctx, id)
	s.metrics.ObserveFavoriteOp("remove", err)
	switch {
	case errors.Is(err, storage.ErrFavoriteNotFound):
		return err
	case err != nil:
		s.logger.Error("remove favorite failed", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("favorites: RemoveOne: %w", err)
	}

	s.logger.Debug("favorite removed", zap.Int64("id", id))
	return nil
}

// ClearAll removes every favorite atomically. On failure the list is left as
// it was before the call.
func (s *FavoritesService) ClearAll(ctx context.Context) (int, error) {
	n, err := s.repo.DeleteAllFavorites(ctx)
	s.metrics.ObserveFavoriteOp("clear_all", err)
	if err != nil {
		s.logger.Error("clear favorites failed", zap.Error(err))
		return 0, fmt.Errorf("favorites: ClearAll: %w", err)
	}

	s.logger.Info("favorites cleared", zap.Int("deleted", n))
	return n, nil
}
