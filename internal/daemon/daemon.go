package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/codesearch-hq/hybridsearch/internal/config"
	"github.com/codesearch-hq/hybridsearch/internal/embed"
	"github.com/codesearch-hq/hybridsearch/internal/search"
	"github.com/codesearch-hq/hybridsearch/internal/store"
)

// Daemon keeps the embedding model and per-project search engines loaded in
// memory so CLI searches skip the multi-second initialization cost. It owns
// the Unix-socket RPC server and implements its RequestHandler.
type Daemon struct {
	config   Config
	embedder embed.Embedder
	server   *Server
	pidFile  *PIDFile
	started  time.Time

	compaction *CompactionManager

	mu       sync.RWMutex
	projects map[string]*projectState
}

// projectState is one loaded project's search stack, evicted LRU when more
// than Config.MaxProjects are open.
type projectState struct {
	rootPath string
	engine   *search.Engine
	metadata store.MetadataStore
	vector   *store.VectorIndex
	loadedAt time.Time
	lastUsed time.Time
}

// Close releases the project's engine and the stores behind it. Safe to
// call on a partially-initialized state.
func (p *projectState) Close() error {
	if p.engine == nil {
		return nil
	}
	return p.engine.Close()
}

// DaemonOption configures a Daemon at construction time.
type DaemonOption func(*Daemon)

// WithEmbedder injects a pre-built embedder instead of the config-selected
// one. Used by tests and by callers that already hold a warmed-up model.
func WithEmbedder(e embed.Embedder) DaemonOption {
	return func(d *Daemon) {
		d.embedder = e
	}
}

// NewDaemon validates cfg and constructs a Daemon. The embedder is lazily
// initialized on Start unless injected via WithEmbedder.
func NewDaemon(cfg Config, opts ...DaemonOption) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	d := &Daemon{
		config:   cfg,
		projects: make(map[string]*projectState),
		pidFile:  NewPIDFile(cfg.PIDPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start runs the daemon until ctx is cancelled: it claims the PID file,
// initializes the embedder if none was injected, and serves RPC requests on
// the Unix socket. Stale PID and socket files from a dead daemon are
// cleaned up on the way in.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.config.EnsureDir(); err != nil {
		return err
	}

	if d.pidFile.IsRunning() {
		return fmt.Errorf("daemon already running (pid file: %s)", d.config.PIDPath)
	}
	if err := d.pidFile.Write(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer func() { _ = d.pidFile.Remove() }()

	if d.embedder == nil {
		cfg := config.NewConfig()
		provider := embed.ParseProvider(cfg.Embeddings.Provider)
		embedder, err := embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
		if err != nil {
			slog.Warn("embedder init failed, daemon serves keyword-only search",
				slog.String("error", err.Error()))
		} else {
			d.embedder = embedder
		}
	}

	server, err := NewServer(d.config.SocketPath)
	if err != nil {
		return err
	}
	server.SetHandler(d)
	d.server = server
	d.started = time.Now()

	d.compaction = NewCompactionManager(d, config.NewConfig().Compaction)
	d.compaction.Start(ctx)
	defer d.compaction.Stop()

	err = server.ListenAndServe(ctx)
	d.cleanup()
	return err
}

// HandleSearch serves one search RPC: it resolves (or loads) the project's
// engine, translates the wire params, and converts the results back to the
// wire shape.
func (d *Daemon) HandleSearch(ctx context.Context, params SearchParams) ([]SearchResult, error) {
	state, err := d.projectFor(ctx, params.RootPath)
	if err != nil {
		return nil, err
	}

	opts := search.SearchOptions{
		Limit:        params.Limit,
		Offset:       params.Offset,
		Filter:       params.Filter,
		Language:     params.Language,
		SymbolType:   params.EntityType,
		Scopes:       params.Scopes,
		Repositories: params.Repositories,
		Mode:         modeFromWire(params.Mode),
		BM25Only:     params.BM25Only,
		Transitive:   params.Transitive,
		Depth:        params.Depth,
		Explain:      params.Explain,
	}

	results, err := state.engine.Search(ctx, params.Query, opts)
	if err != nil {
		return nil, err
	}
	if d.compaction != nil {
		d.compaction.OnSearchComplete(params.RootPath)
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		if r.Chunk == nil {
			continue
		}
		sr := SearchResult{
			FilePath:       r.Chunk.FilePath,
			StartLine:      r.Chunk.StartLine,
			EndLine:        r.Chunk.EndLine,
			Score:          r.Score,
			Content:        r.Chunk.Content,
			Language:       r.Chunk.Language,
			TransitivePath: r.TransitivePath,
		}
		if params.Explain {
			sr.KeywordScore = r.BM25Score
			sr.VectorScore = r.VecScore
		}
		if r.Explain != nil {
			sr.Explain = &ExplainData{
				Query:              r.Explain.Query,
				Mode:               string(r.Explain.Mode),
				KeywordResultCount: r.Explain.KeywordResultCount,
				VectorResultCount:  r.Explain.VectorResultCount,
				KeywordWeight:      r.Explain.Weights.Keyword,
				VectorWeight:       r.Explain.Weights.Vector,
				KeywordFailed:      r.Explain.KeywordFailed,
				VectorFailed:       r.Explain.VectorFailed,
				TransitiveUsed:     r.Explain.TransitiveUsed,
			}
		}
		out = append(out, sr)
	}
	return out, nil
}

func modeFromWire(mode string) search.Mode {
	switch strings.ToLower(mode) {
	case "keyword":
		return search.ModeKeyword
	case "vector":
		return search.ModeVector
	default:
		return search.ModeHybrid
	}
}

// GetStatus reports the daemon's health for the status RPC.
func (d *Daemon) GetStatus() StatusResult {
	d.mu.Lock()
	loaded := len(d.projects)
	d.mu.Unlock()

	status := StatusResult{
		Running:        true,
		PID:            os.Getpid(),
		Uptime:         time.Since(d.started).Round(time.Second).String(),
		EmbedderType:   "unavailable",
		EmbedderStatus: "unavailable",
		ProjectsLoaded: loaded,
	}
	if d.embedder != nil {
		status.EmbedderType = d.embedder.ModelName()
		if d.embedder.Available(context.Background()) {
			status.EmbedderStatus = "ready"
		} else {
			status.EmbedderStatus = "recovering"
		}
	}
	return status
}

// projectFor returns the loaded state for rootPath, loading it (and
// evicting the least-recently-used project past MaxProjects) on first use.
func (d *Daemon) projectFor(ctx context.Context, rootPath string) (*projectState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if state, ok := d.projects[rootPath]; ok {
		state.lastUsed = time.Now()
		return state, nil
	}

	state, err := d.loadProject(ctx, rootPath)
	if err != nil {
		return nil, err
	}

	if len(d.projects) >= d.config.MaxProjects {
		d.evictLRU()
	}
	d.projects[rootPath] = state
	return state, nil
}

// loadProject opens the metadata store, keyword index, and vector index for
// a project and assembles a search engine over them.
func (d *Daemon) loadProject(ctx context.Context, rootPath string) (*projectState, error) {
	dataDir := filepath.Join(rootPath, ".codesearch")
	metadataPath := filepath.Join(dataDir, "metadata.db")
	if _, err := os.Stat(metadataPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("no index found at %s, run 'codesearch index' first", rootPath)
	}

	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("open metadata: %w", err)
	}

	keyword, err := store.OpenKeywordIndex(filepath.Join(dataDir, "keyword.bleve"))
	if err != nil {
		_ = metadata.Close()
		return nil, fmt.Errorf("open keyword index: %w", err)
	}

	var vector *store.VectorIndex
	if d.embedder != nil {
		vector, err = store.NewVectorIndex(store.DefaultVectorStoreConfig(d.embedder.Dimensions()))
		if err != nil {
			_ = keyword.Close()
			_ = metadata.Close()
			return nil, fmt.Errorf("create vector index: %w", err)
		}
		vectorPath := filepath.Join(dataDir, "vectors.hnsw")
		if _, statErr := os.Stat(vectorPath); statErr == nil {
			if loadErr := vector.Load(vectorPath); loadErr != nil {
				slog.Warn("vector load failed, semantic search degraded",
					slog.String("project", rootPath),
					slog.String("error", loadErr.Error()))
			}
		}
	}

	cfg, err := config.Load(rootPath)
	if err != nil {
		cfg = config.NewConfig()
	}

	engine, err := search.NewEngine(keyword, vector, d.embedder, metadata, cfg.Search,
		search.WithGraph(search.LoadGraphService(ctx, metadata)))
	if err != nil {
		_ = keyword.Close()
		if vector != nil {
			_ = vector.Close()
		}
		_ = metadata.Close()
		return nil, err
	}

	now := time.Now()
	slog.Info("project loaded", slog.String("root", rootPath))
	return &projectState{
		rootPath: rootPath,
		engine:   engine,
		metadata: metadata,
		vector:   vector,
		loadedAt: now,
		lastUsed: now,
	}, nil
}

// evictLRU closes and removes the least-recently-used project. Caller must
// hold d.mu.
func (d *Daemon) evictLRU() {
	var oldest string
	var oldestTime time.Time
	for root, state := range d.projects {
		if oldest == "" || state.lastUsed.Before(oldestTime) {
			oldest = root
			oldestTime = state.lastUsed
		}
	}
	if oldest == "" {
		return
	}
	if err := d.projects[oldest].Close(); err != nil {
		slog.Warn("project close failed during eviction",
			slog.String("root", oldest),
			slog.String("error", err.Error()))
	}
	delete(d.projects, oldest)
	slog.Debug("project evicted", slog.String("root", oldest))
}

// cleanup releases every loaded project and the embedder on shutdown.
func (d *Daemon) cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for root, state := range d.projects {
		if err := state.Close(); err != nil {
			slog.Warn("project close failed during shutdown",
				slog.String("root", root),
				slog.String("error", err.Error()))
		}
	}
	d.projects = make(map[string]*projectState)

	if d.embedder != nil {
		_ = d.embedder.Close()
		d.embedder = nil
	}
}
