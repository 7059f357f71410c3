package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/codesearch-hq/hybridsearch/internal/chunk"
	"github.com/codesearch-hq/hybridsearch/internal/config"
	"github.com/codesearch-hq/hybridsearch/internal/embed"
	"github.com/codesearch-hq/hybridsearch/internal/httpapi"
	"github.com/codesearch-hq/hybridsearch/internal/index"
	"github.com/codesearch-hq/hybridsearch/internal/logging"
	"github.com/codesearch-hq/hybridsearch/internal/mcp"
	"github.com/codesearch-hq/hybridsearch/internal/scanner"
	"github.com/codesearch-hq/hybridsearch/internal/search"
	"github.com/codesearch-hq/hybridsearch/internal/session"
	"github.com/codesearch-hq/hybridsearch/internal/store"
	"github.com/codesearch-hq/hybridsearch/internal/telemetry"
	"github.com/codesearch-hq/hybridsearch/internal/watcher"
)

// defaultWatcherStartupTimeout bounds how long the background file watcher
// may take to initialize. Overridable via CODESEARCH_WATCHER_STARTUP_TIMEOUT.
const defaultWatcherStartupTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var transport string
	var port int
	var sessionName string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP server for AI coding assistants.

The server speaks JSON-RPC over stdio by default (for Claude Code, Cursor)
and exposes search, search_code, search_docs, and index_status tools.

With --transport http, it instead serves the HTTP search endpoint on --port.

Examples:
  codesearch serve                       # stdio MCP server
  codesearch serve --transport http --port 8765
  codesearch serve --session work-api    # track usage under a session`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				if cleanup, err := logging.SetupMCPModeWithLevel("debug"); err == nil {
					defer cleanup()
				}
			}
			projectPath := ""
			return runServeWithSession(cmd.Context(), sessionName, projectPath, transport, port)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport type (stdio|http)")
	cmd.Flags().IntVar(&port, "port", 8765, "Port for HTTP transport")
	cmd.Flags().StringVar(&sessionName, "session", "", "Session name to open or resume")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging to ~/.codesearch/logs/")

	return cmd
}

// runServe starts the server for the current directory's project.
func runServe(ctx context.Context, transport string, port int) error {
	return runServeWithSession(ctx, "", "", transport, port)
}

// runServeWithSession starts the server, optionally recording usage under a
// named session. projectPath overrides project-root discovery when set.
func runServeWithSession(ctx context.Context, sessionName, projectPath, transport string, port int) error {
	// BUG-034/BUG-035: stdout is reserved for JSON-RPC; all logging goes to
	// file before anything else runs.
	if cleanup, err := logging.SetupMCPMode(); err == nil {
		defer cleanup()
	}

	root := projectPath
	if root == "" {
		var err error
		root, err = config.FindProjectRoot(".")
		if err != nil {
			root, _ = os.Getwd()
		}
	}

	if sessionName != "" {
		if err := touchSession(sessionName, root); err != nil {
			slog.Warn("session tracking unavailable", slog.String("error", err.Error()))
		}
	}

	dataDir := filepath.Join(root, ".codesearch")
	metadataPath := filepath.Join(dataDir, "metadata.db")
	if _, err := os.Stat(metadataPath); os.IsNotExist(err) {
		return fmt.Errorf("no index found at %s. Run 'codesearch index' first", root)
	}

	if transport == "stdio" {
		if err := verifyStdinForMCP(); err != nil {
			slog.Warn("stdin check failed", slog.String("error", err.Error()))
		}
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return fmt.Errorf("failed to open metadata: %w", err)
	}

	keyword, err := store.OpenKeywordIndex(filepath.Join(dataDir, "keyword.bleve"))
	if err != nil {
		_ = metadata.Close()
		return fmt.Errorf("failed to open keyword index: %w", err)
	}

	embed.SetMLXConfig(embed.MLXServerConfig{
		Endpoint: cfg.Embeddings.MLXEndpoint,
		Model:    cfg.Embeddings.MLXModel,
	})
	provider := embed.ParseProvider(cfg.Embeddings.Provider)
	embedder, err := embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
	if err != nil {
		slog.Warn("embedder unavailable, serving keyword-only search",
			slog.String("error", err.Error()))
		embedder = embed.NewStaticEmbedder768()
	}

	vector, err := store.NewVectorIndex(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	if err != nil {
		_ = keyword.Close()
		_ = metadata.Close()
		_ = embedder.Close()
		return fmt.Errorf("failed to create vector store: %w", err)
	}
	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	if _, statErr := os.Stat(vectorPath); statErr == nil {
		if loadErr := vector.Load(vectorPath); loadErr != nil {
			slog.Warn("vector load failed, semantic search degraded",
				slog.String("error", loadErr.Error()))
		}
	}

	// Query telemetry, persisted alongside the metadata
	var metrics *telemetry.QueryMetrics
	if metricsStore, merr := telemetry.NewSQLiteMetricsStore(metadata.DB()); merr == nil {
		metrics = telemetry.NewQueryMetrics(metricsStore)
		defer func() { _ = metrics.Close() }()
	}

	engineOpts := []search.EngineOption{
		search.WithGraph(search.LoadGraphService(ctx, metadata)),
	}
	if metrics != nil {
		engineOpts = append(engineOpts, search.WithMetrics(metrics))
	}
	engine, err := search.NewEngine(keyword, vector, embedder, metadata, cfg.Search, engineOpts...)
	if err != nil {
		_ = keyword.Close()
		_ = vector.Close()
		_ = metadata.Close()
		_ = embedder.Close()
		return err
	}
	defer func() {
		_ = engine.Close()
		_ = embedder.Close()
	}()

	// BUG-035: the file watcher can take seconds on slow filesystems; it
	// must never delay the MCP handshake, so it starts in the background.
	go startBackgroundWatcher(ctx, root, dataDir, cfg, engine, metadata)

	switch transport {
	case "http":
		return serveHTTP(ctx, engine, cfg, port)
	default:
		server, err := mcp.NewServer(engine, metadata, embedder, cfg, root)
		if err != nil {
			return fmt.Errorf("failed to create MCP server: %w", err)
		}
		if metrics != nil {
			server.SetMetrics(metrics)
		}
		return server.Serve(ctx, transport, "")
	}
}

// serveHTTP runs the HTTP search endpoint until ctx is cancelled.
func serveHTTP(ctx context.Context, engine *search.Engine, cfg *config.Config, port int) error {
	handler := httpapi.NewHandler(engine, cfg.Search)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("HTTP search endpoint listening", slog.Int("port", port))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// startBackgroundWatcher wires the hybrid file watcher to the incremental
// index coordinator so edits re-index at file granularity.
func startBackgroundWatcher(ctx context.Context, root, dataDir string, cfg *config.Config, engine *search.Engine, metadata store.MetadataStore) {
	startupTimeout := defaultWatcherStartupTimeout
	if v := os.Getenv("CODESEARCH_WATCHER_STARTUP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			startupTimeout = d
		}
	}

	opts := watcher.DefaultOptions()
	opts.IgnorePatterns = cfg.Paths.Exclude
	w, err := watcher.NewHybridWatcher(opts)
	if err != nil {
		slog.Warn("file watcher unavailable, incremental re-index disabled",
			slog.String("error", err.Error()))
		return
	}

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	err = w.Start(startCtx, root)
	cancel()
	if err != nil {
		slog.Warn("file watcher failed to start",
			slog.String("error", err.Error()))
		return
	}

	var sc *scanner.Scanner
	if s, serr := scanner.New(); serr == nil {
		sc = s
	}
	coordinator := index.NewCoordinator(index.CoordinatorConfig{
		ProjectID:       hashString(root),
		RootPath:        root,
		DataDir:         dataDir,
		Engine:          engine,
		Metadata:        metadata,
		CodeChunker:     chunk.NewCodeChunker(),
		MDChunker:       chunk.NewMarkdownChunker(),
		Scanner:         sc,
		ExcludePatterns: cfg.Paths.Exclude,
	})

	if err := coordinator.ReconcileFilesOnStartup(ctx); err != nil {
		slog.Warn("startup file reconciliation failed",
			slog.String("error", err.Error()))
	}

	slog.Info("file watcher started", slog.String("type", w.WatcherType()))
	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return
		case events, ok := <-w.Events():
			if !ok {
				return
			}
			if err := coordinator.HandleEvents(ctx, events); err != nil {
				slog.Warn("incremental index update failed",
					slog.String("error", err.Error()))
			}
		}
	}
}

// touchSession opens (or creates) the named session so `codesearch sessions`
// reflects last use.
func touchSession(name, root string) error {
	cfg := config.NewConfig()
	mgr, err := session.NewManager(session.ManagerConfig{
		StoragePath: cfg.Sessions.StoragePath,
		MaxSessions: cfg.Sessions.MaxSessions,
	})
	if err != nil {
		return err
	}
	sess, err := mgr.Open(name, root)
	if err != nil {
		return err
	}
	return mgr.Save(sess)
}

// verifyStdinForMCP checks that stdin is a pipe, not a terminal. The MCP
// handshake never arrives on an interactive terminal, which otherwise looks
// like a hang.
func verifyStdinForMCP() error {
	fd := os.Stdin.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return fmt.Errorf("stdin is a terminal; MCP serve expects a pipe from an MCP client (use 'codesearch search' for interactive queries)")
	}
	return nil
}
