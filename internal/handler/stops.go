package handler

import (
	"net/http"

	"github.com/FooledKiwi/busstop-api/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type stopJSON struct {
	StopID   int64   `json:"stop_id"`
	StopName string  `json:"stop_name"`
	NextStop *string `json:"next_stop"`
}

// ListStops handles GET /api/v1/stops
//
// Query params:
//   - q (optional) string: case-insensitive substring of the stop name
//
// Response 200:
//
//	[{"stop_id":1,"stop_name":"Central","next_stop":"Museum"}]
//
// Response 500: storage error.
func (h *Handler) ListStops(c *gin.Context) {
	var (
		stops []storage.StopRecord
		err   error
	)
	if q := c.Query("q"); q != "" {
		stops, err = h.stops.SearchStops(c.Request.Context(), q)
	} else {
		stops, err = h.stops.ListStops(c.Request.Context())
	}
	if err != nil {
		h.logger.Error("list stops failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query stops"})
		return
	}

	out := make([]stopJSON, len(stops))
	for i, s := range stops {
		out[i] = stopJSON{StopID: s.StopID, StopName: s.StopName, NextStop: s.NextStop}
	}

	c.JSON(http.StatusOK, out)
}
