package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/scenesearch/internal/ai"
	"github.com/xxxsen/scenesearch/internal/pkg/errcode"
	"github.com/xxxsen/scenesearch/internal/pkg/response"
	"github.com/xxxsen/scenesearch/internal/service"
)

type SearchHandler struct {
	search    *service.SearchService
	embedders *ai.Manager
}

func NewSearchHandler(search *service.SearchService, embedders *ai.Manager) *SearchHandler {
	return &SearchHandler{search: search, embedders: embedders}
}

func (h *SearchHandler) Search(c *gin.Context) {
	var req service.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	scenes, err := h.search.Search(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Items(c, scenes)
}

func (h *SearchHandler) Timeline(c *gin.Context) {
	var req service.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	scenes, err := h.search.Timeline(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Items(c, scenes)
}

type modelItem struct {
	Name    string `json:"name"`
	Model   string `json:"model"`
	Default bool   `json:"default"`
}

func (h *SearchHandler) Models(c *gin.Context) {
	names := h.embedders.Names()
	items := make([]modelItem, 0, len(names))
	for _, name := range names {
		modelName, err := h.embedders.ModelName(name)
		if err != nil {
			handleError(c, err)
			return
		}
		items = append(items, modelItem{Name: name, Model: modelName, Default: name == h.embedders.DefaultName()})
	}
	response.Items(c, items)
}
