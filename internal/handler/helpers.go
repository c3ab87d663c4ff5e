package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/scenesearch/internal/ai"
	"github.com/xxxsen/scenesearch/internal/catalog"
	"github.com/xxxsen/scenesearch/internal/filestore"
	"github.com/xxxsen/scenesearch/internal/pkg/errcode"
	appErr "github.com/xxxsen/scenesearch/internal/pkg/errors"
	"github.com/xxxsen/scenesearch/internal/pkg/response"
	"github.com/xxxsen/scenesearch/internal/scene"
	"github.com/xxxsen/scenesearch/internal/service"
)

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	requestID, _ := c.Get("request_id")
	logutil.GetLogger(c.Request.Context()).Error("request failed",
		zap.Any("request_id", requestID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	switch {
	case errors.Is(err, appErr.ErrInvalid):
		response.Error(c, errcode.ErrInvalid, err.Error())
	case errors.Is(err, ai.ErrUnsupportedProvider):
		response.Error(c, errcode.ErrInvalid, err.Error())
	case errors.Is(err, ai.ErrProviderUnavailable):
		response.Error(c, errcode.ErrAIUnavailable, "embedding provider unavailable")
	case errors.Is(err, scene.ErrDimensionMismatch):
		response.Error(c, errcode.ErrDimension, err.Error())
	case errors.Is(err, catalog.ErrMalformedCatalog):
		response.Error(c, errcode.ErrMalformedCatalog, err.Error())
	case errors.Is(err, service.ErrStoreCatalog):
		response.Error(c, errcode.ErrUploadFailed, "failed to store catalog")
	case errors.Is(err, filestore.ErrNotFound):
		response.Error(c, errcode.ErrNotFound, "not found")
	default:
		response.Error(c, errcode.ErrInternal, "internal error")
	}
}
