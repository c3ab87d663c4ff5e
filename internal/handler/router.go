package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/scenesearch/internal/middleware"
)

type RouterDeps struct {
	Search        *SearchHandler
	Catalog       *CatalogHandler
	MutationLimit time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.POST("/search", deps.Search.Search)
	api.POST("/timeline", deps.Search.Timeline)
	api.GET("/models", deps.Search.Models)

	api.GET("/catalog", deps.Catalog.Stats)
	mutations := api.Group("/catalog")
	mutations.Use(middleware.RateLimit(deps.MutationLimit))
	mutations.POST("/upload", deps.Catalog.Upload)
	mutations.POST("/reload", deps.Catalog.Reload)
}
