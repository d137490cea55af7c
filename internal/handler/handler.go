// Package handler exposes the stops, favorites and bootstrap operations over
// HTTP.
package handler

import (
	"net/http"
	"strconv"

	"github.com/FooledKiwi/busstop-api/internal/service"
	"github.com/FooledKiwi/busstop-api/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler holds the domain dependencies for all HTTP handlers.
// A single Handler is shared across all route groups; individual methods are
// registered as gin handler functions.
type Handler struct {
	favorites *service.FavoritesService
	stops     storage.StopsRepository
	bootstrap *service.Bootstrapper
	logger    *zap.Logger
}

// New creates a Handler with the given dependencies.
func New(
	favorites *service.FavoritesService,
	stops storage.StopsRepository,
	bootstrap *service.Bootstrapper,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		favorites: favorites,
		stops:     stops,
		bootstrap: bootstrap,
		logger:    logger.Named("http"),
	}
}

// parseID extracts the ":id" path parameter as a positive int64.
// On failure it writes a 400 response and returns (0, false).
func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
		return 0, false
	}
	return id, true
}
