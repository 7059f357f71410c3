package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codesearch-hq/hybridsearch/internal/config"
	"github.com/codesearch-hq/hybridsearch/internal/daemon"
	"github.com/codesearch-hq/hybridsearch/internal/embed"
	"github.com/codesearch-hq/hybridsearch/internal/logging"
	"github.com/codesearch-hq/hybridsearch/internal/output"
	"github.com/codesearch-hq/hybridsearch/internal/search"
	"github.com/codesearch-hq/hybridsearch/internal/store"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit      int
	offset     int
	filter     string // "all", "code", "docs"
	language   string
	mode       string // "hybrid", "keyword", "vector"
	format     string // "text", "json"
	scopes     []string // path prefixes for filtering
	repos      []string // repository tags for filtering
	entityType string
	bm25Only   bool // FEAT-DIM1: skip semantic search, use keyword search only
	transitive bool // follow implements/extends closure
	depth      int  // closure depth when --transitive is set
	local      bool // Force local search (bypass daemon)
	explain    bool // FEAT-UNIX3: show search decision process
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed codebase",
		Long: `Search the indexed codebase using hybrid search.

Combines keyword and semantic (embedding) search with weighted score
merging, with optional implements/extends graph traversal.

Examples:
  codesearch search "authentication middleware"
  codesearch search "handleRequest" --type code --limit 5
  codesearch search "setup instructions" --type docs
  codesearch search "implements:Repository" --transitive --depth 3
  codesearch search "error handling" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().IntVar(&opts.offset, "offset", 0, "Skip the first N results")
	cmd.Flags().StringVarP(&opts.filter, "type", "t", "all", "Filter by type: all, code, docs")
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "Filter by language (e.g., go, python)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "hybrid", "Search mode: hybrid, keyword, vector")
	cmd.Flags().StringSliceVarP(&opts.scopes, "scope", "s", nil, "Filter by path scope (repeatable, e.g., --scope services/api)")
	cmd.Flags().StringSliceVar(&opts.repos, "repository", nil, "Filter by repository tag (repeatable)")
	cmd.Flags().StringVar(&opts.entityType, "entity-type", "", "Filter by entity type (function, class, interface, ...)")
	cmd.Flags().BoolVar(&opts.bm25Only, "bm25-only", false, "Use keyword search only (skip semantic search)")
	cmd.Flags().BoolVar(&opts.transitive, "transitive", false, "Augment results via implements/extends graph closure")
	cmd.Flags().IntVar(&opts.depth, "depth", 0, "Graph closure depth for --transitive (1-10)")
	cmd.Flags().BoolVar(&opts.local, "local", false, "Force local search (bypass daemon)")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "Show search decision process (backend results, weights, merge)")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	// Initialize logging for CLI observability (BUG-039)
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if _, cleanup, err := logging.Setup(logCfg); err == nil {
		defer cleanup()
	}

	slog.Info("search_started", slog.String("query", query), slog.Int("limit", opts.limit))
	out := output.New(cmd.OutOrStdout())

	// Find project root
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	// Check for index
	dataDir := filepath.Join(root, ".codesearch")
	metadataPath := filepath.Join(dataDir, "metadata.db")
	if _, err := os.Stat(metadataPath); os.IsNotExist(err) {
		return fmt.Errorf("no index found. Run 'codesearch index' first")
	}

	// Try daemon-based search first (fast, keeps embedder loaded)
	// Skip daemon if --local flag is set
	daemonCfg := daemon.DefaultConfig()
	client := daemon.NewClient(daemonCfg)
	if !opts.local && client.IsRunning() {
		slog.Info("search_using_daemon")
		results, err := client.Search(ctx, daemon.SearchParams{
			Query:        query,
			RootPath:     root,
			Limit:        opts.limit,
			Offset:       opts.offset,
			Filter:       opts.filter,
			Language:     opts.language,
			Scopes:       opts.scopes,
			Repositories: opts.repos,
			EntityType:   opts.entityType,
			Mode:         opts.mode,
			BM25Only:     opts.bm25Only,
			Transitive:   opts.transitive,
			Depth:        opts.depth,
			Explain:      opts.explain, // FEAT-UNIX3
		})
		if err != nil {
			// Daemon error - log warning and fall through to local search
			slog.Warn("Daemon search failed, falling back to local",
				slog.String("error", err.Error()))
		} else {
			slog.Info("search_complete", slog.String("mode", "daemon"), slog.Int("results", len(results)))
			return formatDaemonResults(cmd, out, query, results, opts.format)
		}
	}

	// Fallback: Local search with dimension-compatible StaticEmbedder
	slog.Info("search_using_local")
	return runLocalSearch(ctx, cmd, root, query, opts)
}

// runLocalSearch performs search without daemon using StaticEmbedder.
// This is fast but has lower semantic quality than Hugot embeddings.
func runLocalSearch(ctx context.Context, cmd *cobra.Command, root, query string, opts searchOptions) error {
	out := output.New(cmd.OutOrStdout())
	dataDir := filepath.Join(root, ".codesearch")

	// Load configuration
	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	// Initialize stores
	metadataPath := filepath.Join(dataDir, "metadata.db")
	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return fmt.Errorf("failed to open metadata: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	keyword, err := store.OpenKeywordIndex(filepath.Join(dataDir, "keyword.bleve"))
	if err != nil {
		return fmt.Errorf("failed to open keyword index: %w", err)
	}

	// BUG-073: Only create embedder when not using --bm25-only
	var embedder embed.Embedder
	var dimensions int

	if opts.bm25Only || opts.mode == "keyword" {
		// Use static embedder for keyword-only mode (no network calls needed)
		embedder = embed.NewStaticEmbedder768()
		dimensions = embedder.Dimensions()
		slog.Debug("keyword_only_mode", slog.Int("dimensions", dimensions))
	} else {
		// Wire MLX config from config.yaml to embedder factory
		embed.SetMLXConfig(embed.MLXServerConfig{
			Endpoint: cfg.Embeddings.MLXEndpoint,
			Model:    cfg.Embeddings.MLXModel,
		})

		// Use config-based embedder selection (same as index command) - fixes BUG-039
		provider := embed.ParseProvider(cfg.Embeddings.Provider)
		embedder, err = embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
		if err != nil {
			return fmt.Errorf("failed to create embedder: %w", err)
		}
		dimensions = embedder.Dimensions()
		slog.Debug("embedder_initialized",
			slog.String("provider", provider.String()),
			slog.String("model", embedder.ModelName()),
			slog.Int("dimensions", dimensions))
	}
	defer func() { _ = embedder.Close() }()

	vector, err := store.NewVectorIndex(store.DefaultVectorStoreConfig(dimensions))
	if err != nil {
		return fmt.Errorf("failed to create vector store: %w", err)
	}

	// Try to load vectors
	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	if _, err := os.Stat(vectorPath); err == nil {
		if loadErr := vector.Load(vectorPath); loadErr != nil {
			slog.Debug("vector_load_failed", slog.String("error", loadErr.Error()))
		}
	}

	engine, err := search.NewEngine(keyword, vector, embedder, metadata, cfg.Search,
		search.WithGraph(search.LoadGraphService(ctx, metadata)))
	if err != nil {
		return fmt.Errorf("failed to create search engine: %w", err)
	}
	defer func() { _ = engine.Close() }()

	// Build search options
	searchOpts := search.SearchOptions{
		Limit:        opts.limit,
		Offset:       opts.offset,
		Filter:       opts.filter,
		Language:     opts.language,
		SymbolType:   opts.entityType,
		Scopes:       opts.scopes,
		Repositories: opts.repos,
		Mode:         modeFromFlag(opts.mode),
		BM25Only:     opts.bm25Only,
		Transitive:   opts.transitive,
		Depth:        opts.depth,
		Explain:      opts.explain, // FEAT-UNIX3
	}

	// Execute search
	results, err := engine.Search(ctx, query, searchOpts)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	slog.Info("search_complete", slog.String("mode", "local"), slog.Int("results", len(results)))

	// Format and output results
	if len(results) == 0 {
		out.Status("", fmt.Sprintf("No results found for %q", query))
		return nil
	}

	switch opts.format {
	case "json":
		return formatJSON(cmd, results)
	default:
		return formatText(out, query, results)
	}
}

// modeFromFlag maps the CLI mode flag onto a search mode; unknown values
// fall back to hybrid.
func modeFromFlag(mode string) search.Mode {
	switch strings.ToLower(mode) {
	case "keyword":
		return search.ModeKeyword
	case "vector":
		return search.ModeVector
	default:
		return search.ModeHybrid
	}
}

// formatDaemonResults formats search results from daemon.
func formatDaemonResults(cmd *cobra.Command, out *output.Writer, query string, results []daemon.SearchResult, format string) error {
	if len(results) == 0 {
		out.Status("", fmt.Sprintf("No results found for %q", query))
		return nil
	}

	switch format {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	default:
		// FEAT-UNIX3: Show explain header if first result has explain data
		hasExplain := results[0].Explain != nil
		if hasExplain {
			formatDaemonExplainHeader(out, results[0].Explain)
		}

		out.Statusf("🔍", "Found %d results for %q:", len(results), query)
		out.Newline()

		for i, r := range results {
			location := r.FilePath
			if r.StartLine > 0 {
				location = fmt.Sprintf("%s:%d", r.FilePath, r.StartLine)
			}

			// FEAT-UNIX3: Include per-backend scores in explain mode
			if hasExplain {
				out.Statusf("", "%d. %s (score: %.3f)", i+1, location, r.Score)
				out.Status("", fmt.Sprintf("      keyword: %.3f | vector: %.3f", r.KeywordScore, r.VectorScore))
			} else {
				out.Statusf("", "%d. %s (score: %.2f)", i+1, location, r.Score)
			}
			if len(r.TransitivePath) > 0 {
				out.Status("", "   via "+strings.Join(r.TransitivePath, " → "))
			}

			// Show snippet (first 3 lines)
			snippet := getSnippet(r.Content, 3)
			for _, line := range snippet {
				out.Status("", "   "+line)
			}
			out.Newline()
		}
		return nil
	}
}

// formatDaemonExplainHeader outputs the explain summary for daemon results.
// FEAT-UNIX3: Implements Unix Rule of Transparency for search debugging.
func formatDaemonExplainHeader(out *output.Writer, explain *daemon.ExplainData) {
	out.Status("", "════════════════════════════════════════")
	out.Status("", "SEARCH EXPLANATION")
	out.Status("", "════════════════════════════════════════")
	out.Status("", fmt.Sprintf("Query: %q", explain.Query))
	out.Status("", fmt.Sprintf("Mode: %s", explain.Mode))
	out.Newline()

	out.Status("", fmt.Sprintf("Keyword Results: %d (weight: %.2f)", explain.KeywordResultCount, explain.KeywordWeight))
	out.Status("", fmt.Sprintf("Vector Results: %d (weight: %.2f)", explain.VectorResultCount, explain.VectorWeight))
	if explain.KeywordFailed {
		out.Status("", "Keyword backend failed; results are vector-only")
	}
	if explain.VectorFailed {
		out.Status("", "Vector backend failed; results are keyword-only")
	}
	if explain.TransitiveUsed {
		out.Status("", "Transitive graph augmentation: on")
	}
	out.Status("", "════════════════════════════════════════")
	out.Newline()
}

// formatText outputs results in human-readable format.
func formatText(out *output.Writer, query string, results []*search.SearchResult) error {
	// FEAT-UNIX3: Show explain header if first result has explain data
	hasExplain := len(results) > 0 && results[0].Explain != nil
	if hasExplain {
		formatExplainHeader(out, results[0].Explain)
	}

	out.Statusf("🔍", "Found %d results for %q:", len(results), query)
	out.Newline()

	for i, r := range results {
		if r.Chunk == nil {
			continue
		}

		// Format: 1. path/to/file.go:42 (score: 0.89)
		location := r.Chunk.FilePath
		if r.Chunk.StartLine > 0 {
			location = fmt.Sprintf("%s:%d", r.Chunk.FilePath, r.Chunk.StartLine)
		}

		// FEAT-UNIX3: Include per-backend scores in explain mode
		if hasExplain {
			out.Statusf("", "%d. %s (score: %.3f)", i+1, location, r.Score)
			out.Status("", fmt.Sprintf("      keyword: %.3f | vector: %.3f", r.BM25Score, r.VecScore))
		} else {
			out.Statusf("", "%d. %s (score: %.2f)", i+1, location, r.Score)
		}
		if len(r.TransitivePath) > 0 {
			out.Status("", "   via "+strings.Join(r.TransitivePath, " → "))
		}

		// Show snippet (first 3 lines)
		snippet := getSnippet(r.Chunk.Content, 3)
		for _, line := range snippet {
			out.Status("", "   "+line)
		}
		out.Newline()
	}

	return nil
}

// formatExplainHeader outputs the explain summary for a search.
// FEAT-UNIX3: Implements Unix Rule of Transparency for search debugging.
func formatExplainHeader(out *output.Writer, explain *search.ExplainData) {
	out.Status("", "════════════════════════════════════════")
	out.Status("", "SEARCH EXPLANATION")
	out.Status("", "════════════════════════════════════════")
	out.Status("", fmt.Sprintf("Query: %q", explain.Query))
	out.Status("", fmt.Sprintf("Mode: %s", explain.Mode))
	out.Newline()

	out.Status("", fmt.Sprintf("Keyword Results: %d (weight: %.2f)", explain.KeywordResultCount, explain.Weights.Keyword))
	out.Status("", fmt.Sprintf("Vector Results: %d (weight: %.2f)", explain.VectorResultCount, explain.Weights.Vector))
	if explain.KeywordFailed {
		out.Status("", "Keyword backend failed; results are vector-only")
	}
	if explain.VectorFailed {
		out.Status("", "Vector backend failed; results are keyword-only")
	}
	if explain.TransitiveUsed {
		out.Status("", "Transitive graph augmentation: on")
	}
	out.Status("", "════════════════════════════════════════")
	out.Newline()
}

// formatJSON outputs results in JSON format.
func formatJSON(cmd *cobra.Command, results []*search.SearchResult) error {
	type jsonResult struct {
		FilePath       string   `json:"file_path"`
		StartLine      int      `json:"start_line"`
		EndLine        int      `json:"end_line"`
		Score          float64  `json:"score"`
		Content        string   `json:"content"`
		Language       string   `json:"language,omitempty"`
		TransitivePath []string `json:"transitive_path,omitempty"`
	}

	var output []jsonResult
	for _, r := range results {
		if r.Chunk == nil {
			continue
		}
		output = append(output, jsonResult{
			FilePath:       r.Chunk.FilePath,
			StartLine:      r.Chunk.StartLine,
			EndLine:        r.Chunk.EndLine,
			Score:          r.Score,
			Content:        r.Chunk.Content,
			Language:       r.Chunk.Language,
			TransitivePath: r.TransitivePath,
		})
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

// getSnippet returns the first n lines of content.
func getSnippet(content string, n int) []string {
	lines := strings.Split(content, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	// Trim trailing empty lines
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
