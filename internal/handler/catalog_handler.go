package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/scenesearch/internal/catalog"
	"github.com/xxxsen/scenesearch/internal/pkg/errcode"
	"github.com/xxxsen/scenesearch/internal/pkg/response"
	"github.com/xxxsen/scenesearch/internal/service"
)

type CatalogHandler struct {
	search        *service.SearchService
	maxUploadSize int64
}

func NewCatalogHandler(search *service.SearchService, maxUploadSize int64) *CatalogHandler {
	return &CatalogHandler{search: search, maxUploadSize: maxUploadSize}
}

type reloadRequest struct {
	Key string `json:"key"`
}

type loadResponse struct {
	Report *catalog.LoadReport `json:"report"`
	Stats  catalog.Stats       `json:"stats"`
}

func (h *CatalogHandler) Stats(c *gin.Context) {
	response.Success(c, h.search.Stats())
}

func (h *CatalogHandler) Upload(c *gin.Context) {
	if h.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize)
	}
	file, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			response.Error(c, errcode.ErrInvalidFile, "file exceeds "+formatUploadLimit(h.maxUploadSize))
			return
		}
		response.Error(c, errcode.ErrInvalidFile, "file is required")
		return
	}
	if h.maxUploadSize > 0 && file.Size > h.maxUploadSize {
		response.Error(c, errcode.ErrInvalidFile, "file exceeds "+formatUploadLimit(h.maxUploadSize))
		return
	}
	opened, err := file.Open()
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "failed to open file")
		return
	}
	defer opened.Close()

	report, err := h.search.Upload(c.Request.Context(), file.Filename, opened, file.Size)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, loadResponse{Report: report, Stats: h.search.Stats()})
}

func (h *CatalogHandler) Reload(c *gin.Context) {
	var req reloadRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	report, err := h.search.Reload(c.Request.Context(), req.Key)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, loadResponse{Report: report, Stats: h.search.Stats()})
}

func formatUploadLimit(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
	)
	switch {
	case bytes <= 0:
		return "0MB"
	case bytes < mb:
		return strconv.FormatInt((bytes+kb-1)/kb, 10) + "KB"
	default:
		return strconv.FormatInt(bytes/mb, 10) + "MB"
	}
}
