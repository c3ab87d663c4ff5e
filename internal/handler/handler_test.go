package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/common/webapi"

	"github.com/xxxsen/scenesearch/internal/ai"
	"github.com/xxxsen/scenesearch/internal/catalog"
	"github.com/xxxsen/scenesearch/internal/config"
	"github.com/xxxsen/scenesearch/internal/filestore"
	"github.com/xxxsen/scenesearch/internal/handler"
	"github.com/xxxsen/scenesearch/internal/middleware"
	"github.com/xxxsen/scenesearch/internal/pkg/errcode"
	"github.com/xxxsen/scenesearch/internal/scene"
	"github.com/xxxsen/scenesearch/internal/service"
)

const testCatalog = `[
	{"vector":[1,0],"start_ntp_float":0,"end_ntp_float":5,"text":"a dog"},
	{"vector":[0.9,0.1],"start_ntp_float":8,"end_ntp_float":12,"text":"runs fast"},
	{"vector":[0,1],"start_ntp_float":100,"end_ntp_float":105,"text":"a cat"}
]`

type vecEmbedder struct {
	vec []float32
	err error
}

func (v vecEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return v.vec, v.err
}

func (v vecEmbedder) ModelName() string { return "test:vec" }

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func setupRouter(t *testing.T, maxUpload int64) http.Handler {
	t.Helper()
	files, err := filestore.New(config.FileStoreConfig{
		Type: "local",
		Data: map[string]interface{}{
			"dir": t.TempDir(),
		},
	})
	require.NoError(t, err)
	return setupRouterWithStore(t, maxUpload, files)
}

func setupRouterWithStore(t *testing.T, maxUpload int64, files filestore.Store) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	manager, err := ai.NewManager([]ai.EmbedderEntry{
		{Name: "vec", Embedder: vecEmbedder{vec: []float32{1, 0}}},
		{Name: "wide", Embedder: vecEmbedder{vec: []float32{1, 0, 0}}},
		{Name: "down", Embedder: vecEmbedder{err: ai.ErrProviderUnavailable}},
	}, "vec", 0)
	require.NoError(t, err)
	svc := service.NewSearchService(catalog.NewStore(), manager, scene.NewScorer(0, 0), files, service.SearchConfig{
		CatalogKey: "movie.json",
		Search:     scene.DefaultOptions(),
		Timeline:   scene.Options{Threshold: scene.TimelineThreshold, GapThreshold: scene.TimelineGapThreshold},
	})

	deps := handler.RouterDeps{
		Search:  handler.NewSearchHandler(svc, manager),
		Catalog: handler.NewCatalogHandler(svc, maxUpload),
	}
	engine, err := webapi.NewEngine(
		"/api/v1",
		"",
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(nil),
		),
	)
	require.NoError(t, err)
	return engine
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) envelope {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	var out envelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func uploadCatalog(t *testing.T, router http.Handler, name, content string) envelope {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/catalog/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	var out envelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func TestSearchEmptyCatalog(t *testing.T) {
	router := setupRouter(t, 0)
	out := doJSON(t, router, http.MethodPost, "/api/v1/search", `{"query":"dog"}`)
	require.Equal(t, 0, out.Code)
	require.JSONEq(t, `{"items":[]}`, string(out.Data))
}

func TestUploadThenSearch(t *testing.T) {
	router := setupRouter(t, 0)
	out := uploadCatalog(t, router, "movie.json", testCatalog)
	require.Equal(t, 0, out.Code, out.Msg)
	require.Contains(t, string(out.Data), `"loaded":3`)

	out = doJSON(t, router, http.MethodPost, "/api/v1/search", `{"query":"dog"}`)
	require.Equal(t, 0, out.Code)
	var result struct {
		Items []map[string]interface{} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &result))
	require.Len(t, result.Items, 1)
	item := result.Items[0]
	require.Equal(t, float64(0), item["representative_timestamp"])
	require.Equal(t, float64(12), item["end_time"])
	require.Equal(t, "a dog runs fast", item["combined_description"])
	require.NotContains(t, item, "label")

	out = doJSON(t, router, http.MethodPost, "/api/v1/timeline", `{"query":"dog"}`)
	require.Equal(t, 0, out.Code)
	require.Contains(t, string(out.Data), `"label":"Scene 1"`)

	out = doJSON(t, router, http.MethodGet, "/api/v1/catalog", "")
	require.Equal(t, 0, out.Code)
	require.Contains(t, string(out.Data), `"chunks":3`)
	require.Contains(t, string(out.Data), `"source":"movie.json"`)
}

func TestSearchErrors(t *testing.T) {
	router := setupRouter(t, 0)
	require.Equal(t, 0, uploadCatalog(t, router, "movie.json", testCatalog).Code)

	tests := []struct {
		name string
		body string
		code int
	}{
		{name: "broken body", body: `{`, code: errcode.ErrInvalid},
		{name: "empty query", body: `{"query":""}`, code: errcode.ErrInvalid},
		{name: "unknown model", body: `{"query":"dog","model":"bert"}`, code: errcode.ErrInvalid},
		{name: "provider down", body: `{"query":"dog","model":"down"}`, code: errcode.ErrAIUnavailable},
		{name: "dimension mismatch", body: `{"query":"dog","model":"wide"}`, code: errcode.ErrDimension},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := doJSON(t, router, http.MethodPost, "/api/v1/search", tt.body)
			require.Equal(t, tt.code, out.Code)
		})
	}
}

func TestUploadErrors(t *testing.T) {
	router := setupRouter(t, 0)
	out := uploadCatalog(t, router, "bad.json", `{"vector":[1]}`)
	require.Equal(t, errcode.ErrMalformedCatalog, out.Code)
	out = uploadCatalog(t, router, "bad.json", `[{"vector":[1]}]`)
	require.Equal(t, errcode.ErrMalformedCatalog, out.Code)

	small := setupRouter(t, 128)
	out = uploadCatalog(t, small, "big.json", testCatalog)
	require.Equal(t, errcode.ErrInvalidFile, out.Code)

	out = doJSON(t, router, http.MethodPost, "/api/v1/catalog/upload", `{}`)
	require.Equal(t, errcode.ErrInvalidFile, out.Code)
}

type readOnlyStore struct {
	filestore.Store
}

func (readOnlyStore) Save(ctx context.Context, key string, r io.Reader, size int64) error {
	return errors.New("read-only file system")
}

func TestUploadStoreFailure(t *testing.T) {
	files, err := filestore.New(config.FileStoreConfig{Type: "local", Data: map[string]interface{}{"dir": t.TempDir()}})
	require.NoError(t, err)
	router := setupRouterWithStore(t, 0, readOnlyStore{Store: files})
	out := uploadCatalog(t, router, "movie.json", testCatalog)
	require.Equal(t, errcode.ErrUploadFailed, out.Code)

	out = doJSON(t, router, http.MethodGet, "/api/v1/catalog", "")
	require.Equal(t, 0, out.Code)
	require.Contains(t, string(out.Data), `"chunks":0`)
}

func TestReloadMissingCatalog(t *testing.T) {
	router := setupRouter(t, 0)
	out := doJSON(t, router, http.MethodPost, "/api/v1/catalog/reload", "")
	require.Equal(t, errcode.ErrNotFound, out.Code)
}

func TestModels(t *testing.T) {
	router := setupRouter(t, 0)
	out := doJSON(t, router, http.MethodGet, "/api/v1/models", "")
	require.Equal(t, 0, out.Code)
	require.Contains(t, string(out.Data), `{"name":"vec","model":"test:vec","default":true}`)
}
