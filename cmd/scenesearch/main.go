package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/scenesearch/internal/catalog"
	"github.com/xxxsen/scenesearch/internal/handler"
	"github.com/xxxsen/scenesearch/internal/job"
	"github.com/xxxsen/scenesearch/internal/middleware"
	"github.com/xxxsen/scenesearch/internal/model"
	"github.com/xxxsen/scenesearch/internal/schedule"
	"github.com/xxxsen/scenesearch/internal/service"
)

func main() {
	var (
		configPath string
		query      string
		modelName  string
		timeline   bool
		key        string
		file       string
	)

	rootCmd := &cobra.Command{
		Use:   "scenesearch",
		Short: "semantic search over video scene catalogs",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run scenesearch server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return runServer(a)
		},
	}
	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")

	searchCmd := &cobra.Command{
		Use:   "search",
		Short: "search the catalog from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if _, err := a.search.Reload(cmd.Context(), key); err != nil {
				return err
			}
			run := a.search.Search
			if timeline {
				run = a.search.Timeline
			}
			if query != "" {
				return searchOnce(cmd.Context(), cmd.OutOrStdout(), run, service.SearchRequest{Query: query, Model: modelName})
			}
			return searchLoop(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), run, modelName)
		},
	}
	searchCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	searchCmd.Flags().StringVar(&query, "query", "", "run a single query and exit")
	searchCmd.Flags().StringVar(&modelName, "model", "", "embedder name, defaults to embedder.default")
	searchCmd.Flags().BoolVar(&timeline, "timeline", false, "use the timeline profile")
	searchCmd.Flags().StringVar(&key, "key", "", "catalog key, defaults to catalog.key")

	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "load a catalog and print its load report",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				return inspectFile(cmd.Context(), cmd.OutOrStdout(), file)
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			report, err := a.search.Reload(cmd.Context(), key)
			if report != nil {
				if encErr := writeJSON(cmd.OutOrStdout(), report); encErr != nil {
					return encErr
				}
			}
			return err
		},
	}
	inspectCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	inspectCmd.Flags().StringVar(&key, "key", "", "catalog key in the file store, defaults to catalog.key")
	inspectCmd.Flags().StringVar(&file, "file", "", "inspect a local catalog file without a config")

	rootCmd.AddCommand(runCmd, searchCmd, inspectCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func runServer(a *app) error {
	cfg := a.cfg
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("catalog", cfg.Catalog.Key),
		zap.String("file_store", cfg.FileStore.Type),
		zap.Strings("embedders", a.embedders.Names()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := schedule.NewCronScheduler()
	var reload *job.CatalogReloadJob
	if cfg.Catalog.Key != "" {
		reload = job.NewCatalogReloadJob(a.search, cfg.Catalog.Key)
		if cfg.Catalog.ReloadSpec != "" {
			if err := scheduler.AddJob(reload, cfg.Catalog.ReloadSpec); err != nil {
				return fmt.Errorf("schedule catalog reload: %w", err)
			}
		}
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	// A failed initial load keeps the server up on an empty catalog.
	switch {
	case reload == nil:
		logutil.GetLogger(ctx).Warn("no catalog key configured, starting with an empty catalog")
	case !scheduler.RunNow(reload.Name()):
		if err := reload.Run(ctx); err != nil {
			logutil.GetLogger(ctx).Error("initial catalog load failed", zap.String("key", cfg.Catalog.Key), zap.Error(err))
		}
	}

	deps := handler.RouterDeps{
		Search:        handler.NewSearchHandler(a.search, a.embedders),
		Catalog:       handler.NewCatalogHandler(a.search, cfg.MaxUploadSize),
		MutationLimit: time.Duration(cfg.RateLimitSeconds) * time.Second,
	}
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSOrigins),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(context.Background()).Info("http server listening", zap.String("addr", addr))

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}

type searchFunc func(ctx context.Context, req service.SearchRequest) ([]model.MergedScene, error)

func searchOnce(ctx context.Context, w io.Writer, run searchFunc, req service.SearchRequest) error {
	scenes, err := run(ctx, req)
	if err != nil {
		return err
	}
	printScenes(w, scenes)
	return nil
}

// searchLoop reads one query per line until exit, quit or end of input. Query
// errors are printed and the loop continues.
func searchLoop(ctx context.Context, r io.Reader, w io.Writer, run searchFunc, modelName string) error {
	scanner := bufio.NewScanner(r)
	for {
		fmt.Fprint(w, "Enter search query (or 'exit' to quit): ")
		if !scanner.Scan() {
			fmt.Fprintln(w)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "exit", "quit":
			return nil
		case "":
			continue
		}
		if err := searchOnce(ctx, w, run, service.SearchRequest{Query: line, Model: modelName}); err != nil {
			fmt.Fprintf(w, "search failed: %v\n", err)
		}
	}
}

func printScenes(w io.Writer, scenes []model.MergedScene) {
	if len(scenes) == 0 {
		fmt.Fprintln(w, "No matching scenes found.")
		return
	}
	for _, s := range scenes {
		prefix := ""
		if s.Label != "" {
			prefix = s.Label + ": "
		}
		fmt.Fprintf(w, "%sFound scene at timestamp: %.2f (until %.2f, similarity %.3f, %d chunks)\n",
			prefix, s.Timestamp, s.EndTime, s.Similarity, s.ChunkCount)
	}
}

func inspectFile(ctx context.Context, w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, report, err := catalog.Load(ctx, path, f)
	if report != nil {
		if encErr := writeJSON(w, report); encErr != nil {
			return errors.Join(err, encErr)
		}
	}
	return err
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
