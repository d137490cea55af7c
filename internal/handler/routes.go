package handler

import (
	"time"

	"github.com/FooledKiwi/busstop-api/internal/middleware"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the API v1 endpoints on rg.
//
// Every route gets requestTimeout except POST /bootstrap, which waits on the
// remote provider and gets fetchTimeout instead.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, requestTimeout, fetchTimeout time.Duration) {
	short := middleware.Timeout(requestTimeout, h.logger)

	rg.GET("/bootstrap", short, h.GetBootstrap)
	rg.POST("/bootstrap", middleware.Timeout(fetchTimeout, h.logger), h.AnswerBootstrap)

	rg.GET("/stops", short, h.ListStops)

	fav := rg.Group("/favorites", short)
	{
		fav.GET("", h.ListFavorites)
		fav.POST("", h.AddFavorite)
		fav.DELETE("", h.ClearFavorites)
		fav.DELETE("/:id", h.RemoveFavorite)
	}
}
