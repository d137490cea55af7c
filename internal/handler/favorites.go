package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/FooledKiwi/busstop-api/internal/service"
	"github.com/FooledKiwi/busstop-api/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// unknownLabel is shown for a favorite whose stop name or next stop is not
// known.
const unknownLabel = "Unknown"

// emptyFavoritesMessage is returned alongside an empty favorites list.
const emptyFavoritesMessage = "You have no favorite stops yet."

type favoriteJSON struct {
	ID          int64     `json:"id"`
	BusStopID   int64     `json:"bus_stop_id"`
	BusStopName *string   `json:"bus_stop_name"`
	NextBusStop *string   `json:"next_bus_stop"`
	Label       string    `json:"label"`
	CreatedAt   time.Time `json:"created_at"`
}

func toFavoriteJSON(f storage.FavoriteEntry) favoriteJSON {
	return favoriteJSON{
		ID:          f.ID,
		BusStopID:   f.BusStopID,
		BusStopName: f.BusStopName,
		NextBusStop: f.NextBusStop,
		Label:       favoriteLabel(f),
		CreatedAt:   f.CreatedAt,
	}
}

// favoriteLabel renders "<name> (<next>)", or unknownLabel when either part
// is missing.
func favoriteLabel(f storage.FavoriteEntry) string {
	if f.BusStopName == nil || *f.BusStopName == "" || f.NextBusStop == nil || *f.NextBusStop == "" {
		return unknownLabel
	}
	return *f.BusStopName + " (" + *f.NextBusStop + ")"
}

// ListFavorites handles GET /api/v1/favorites
//
// Response 200:
//
//	{"favorites":[{"id":1,"bus_stop_id":7,"bus_stop_name":"Central","next_bus_stop":"Museum","label":"Central (Museum)","created_at":"..."}]}
//
// An empty list also carries a "message" placeholder.
//
// Response 500: storage error.
func (h *Handler) ListFavorites(c *gin.Context) {
	favs, err := h.favorites.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load favorites"})
		return
	}

	out := make([]favoriteJSON, len(favs))
	for i, f := range favs {
		out[i] = toFavoriteJSON(f)
	}

	body := gin.H{"favorites": out}
	if len(out) == 0 {
		body["message"] = emptyFavoritesMessage
	}
	c.JSON(http.StatusOK, body)
}

type addFavoriteRequest struct {
	BusStopID   int64   `json:"bus_stop_id" binding:"required,gt=0"`
	BusStopName *string `json:"bus_stop_name"`
	NextBusStop *string `json:"next_bus_stop"`
}

// AddFavorite handles POST /api/v1/favorites
//
// Request body:
//
//	{"bus_stop_id":7,"bus_stop_name":"Central","next_bus_stop":"Museum"}
//
// Name and next stop are optional. Adding a stop that is already a favorite
// returns the existing entry.
//
// Response 201: the stored favorite.
// Response 400: invalid body.
// Response 500: storage error; the favorites list is unchanged.
func (h *Handler) AddFavorite(c *gin.Context) {
	var req addFavoriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bus_stop_id must be a positive integer"})
		return
	}

	fav, err := h.favorites.Add(c.Request.Context(), storage.FavoriteEntry{
		BusStopID:   req.BusStopID,
		BusStopName: req.BusStopName,
		NextBusStop: req.NextBusStop,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidStopID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save favorite, your list is unchanged"})
		return
	}

	c.JSON(http.StatusCreated, toFavoriteJSON(*fav))
}

// RemoveFavorite handles DELETE /api/v1/favorites/:id
//
// Response 204: removed.
// Response 400: id is not a valid integer.
// Response 404: no favorite with that id.
// Response 500: storage error; the favorites list is unchanged.
func (h *Handler) RemoveFavorite(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	err := h.favorites.RemoveOne(c.Request.Context(), id)
	switch {
	case errors.Is(err, storage.ErrFavoriteNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "favorite not found"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not remove favorite, your list is unchanged"})
		return
	}

	c.Status(http.StatusNoContent)
}

// ClearFavorites handles DELETE /api/v1/favorites
//
// Response 200:
//
//	{"deleted":3}
//
// Response 500: storage error; the favorites list is unchanged.
func (h *Handler) ClearFavorites(c *gin.Context) {
	n, err := h.favorites.ClearAll(c.Request.Context())
	if err != nil {
		h.logger.Warn("clear favorites rejected", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not clear favorites, your list is unchanged"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": n})
}
