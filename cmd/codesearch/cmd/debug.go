package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/codesearch-hq/hybridsearch/internal/config"
	"github.com/codesearch-hq/hybridsearch/internal/store"
)

// DebugInfo aggregates everything `codesearch debug` reports.
// FEAT-UNIX4: one dense diagnostic snapshot for bug reports.
type DebugInfo struct {
	IndexPath   string `json:"index_path"`
	ProjectRoot string `json:"project_root"`
	ProjectName string `json:"project_name,omitempty"`

	FileCount  int       `json:"file_count"`
	ChunkCount int       `json:"chunk_count"`
	IndexedAt  time.Time `json:"indexed_at,omitempty"`

	Languages map[string]float64 `json:"languages,omitempty"`

	EmbedderProvider string `json:"embedder_provider"`
	EmbedderModel    string `json:"embedder_model"`
	IndexModel       string `json:"index_model,omitempty"`
	IndexDimensions  int    `json:"index_dimensions,omitempty"`

	KeywordSizeBytes  int64 `json:"keyword_size_bytes"`
	VectorSizeBytes   int64 `json:"vector_size_bytes"`
	MetadataSizeBytes int64 `json:"metadata_size_bytes"`
}

func newDebugCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Print diagnostic information about the index",
		Long: `Print a diagnostic snapshot of the local index: file and chunk
counts, embedder configuration, index sizes, and language mix.

Use --json for machine-readable output to attach to bug reports.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := config.FindProjectRoot(".")
			if err != nil {
				root, _ = os.Getwd()
			}

			dataDir := filepath.Join(root, ".codesearch")
			if _, err := os.Stat(filepath.Join(dataDir, "metadata.db")); os.IsNotExist(err) {
				return fmt.Errorf("no index found at %s. Run 'codesearch index' first", root)
			}

			info, err := collectDebugInfo(cmd.Context(), root, dataDir)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			printDebugInfo(cmd, info)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// collectDebugInfo gathers the diagnostic snapshot from the metadata store
// and the on-disk index layout.
func collectDebugInfo(ctx context.Context, root, dataDir string) (*DebugInfo, error) {
	info := &DebugInfo{
		IndexPath:   dataDir,
		ProjectRoot: root,
	}

	metadata, err := store.NewSQLiteStore(filepath.Join(dataDir, "metadata.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	projectID := hashString(root)
	if project, err := metadata.GetProject(ctx, projectID); err == nil && project != nil {
		info.ProjectName = project.Name
		info.FileCount = project.FileCount
		info.ChunkCount = project.ChunkCount
		info.IndexedAt = project.IndexedAt
	}

	if paths, err := metadata.GetFilePathsByProject(ctx, projectID); err == nil && len(paths) > 0 {
		info.Languages = languageMix(paths)
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}
	info.EmbedderProvider = cfg.Embeddings.Provider
	if info.EmbedderProvider == "" {
		info.EmbedderProvider = "auto"
	}
	info.EmbedderModel = cfg.Embeddings.Model

	info.IndexModel, _ = metadata.GetState(ctx, store.StateKeyIndexModel)
	if dims, err := metadata.GetState(ctx, store.StateKeyIndexDimension); err == nil && dims != "" {
		info.IndexDimensions, _ = strconv.Atoi(dims)
	}

	info.KeywordSizeBytes = getDirSize(filepath.Join(dataDir, "keyword.bleve"))
	info.VectorSizeBytes = getFileSize(filepath.Join(dataDir, "vectors.hnsw"))
	info.MetadataSizeBytes = getFileSize(filepath.Join(dataDir, "metadata.db"))

	return info, nil
}

func printDebugInfo(cmd *cobra.Command, info *DebugInfo) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "CodeSearch Debug Info")
	fmt.Fprintln(out, strings.Repeat("=", 40))

	fmt.Fprintln(out, "\nPROJECT")
	fmt.Fprintf(out, "  Root:  %s\n", info.ProjectRoot)
	fmt.Fprintf(out, "  Index: %s\n", info.IndexPath)
	if info.ProjectName != "" {
		fmt.Fprintf(out, "  Name:  %s\n", info.ProjectName)
	}

	fmt.Fprintln(out, "\nFILES & CHUNKS")
	fmt.Fprintf(out, "  Files:     %s\n", formatNumber(info.FileCount))
	fmt.Fprintf(out, "  Chunks:    %s\n", formatNumber(info.ChunkCount))
	fmt.Fprintf(out, "  Indexed:   %s\n", formatAge(info.IndexedAt))
	fmt.Fprintf(out, "  Languages: %s\n", formatLanguages(info.Languages))

	fmt.Fprintln(out, "\nEMBEDDER")
	fmt.Fprintf(out, "  Provider:   %s\n", info.EmbedderProvider)
	fmt.Fprintf(out, "  Model:      %s\n", info.EmbedderModel)
	if info.IndexModel != "" {
		fmt.Fprintf(out, "  Index model: %s (%d dims)\n", info.IndexModel, info.IndexDimensions)
	}

	fmt.Fprintln(out, "\nBM25 INDEX")
	fmt.Fprintf(out, "  Size: %s\n", store.FormatBytes(info.KeywordSizeBytes))

	fmt.Fprintln(out, "\nVECTOR STORE")
	fmt.Fprintf(out, "  Size: %s\n", store.FormatBytes(info.VectorSizeBytes))

	fmt.Fprintln(out, "\nSTORAGE")
	total := info.KeywordSizeBytes + info.VectorSizeBytes + info.MetadataSizeBytes
	fmt.Fprintf(out, "  Metadata: %s\n", store.FormatBytes(info.MetadataSizeBytes))
	fmt.Fprintf(out, "  Total:    %s\n", store.FormatBytes(total))
}

// languageMix buckets file paths by normalized extension and returns each
// bucket's share of the total.
func languageMix(paths []string) map[string]float64 {
	counts := make(map[string]int)
	total := 0
	for _, p := range paths {
		ext := strings.TrimPrefix(filepath.Ext(p), ".")
		if ext == "" {
			continue
		}
		counts[normalizeExtension(ext)]++
		total++
	}
	if total == 0 {
		return nil
	}
	mix := make(map[string]float64, len(counts))
	for lang, n := range counts {
		mix[lang] = float64(n) / float64(total)
	}
	return mix
}

// normalizeExtension collapses extension aliases onto one language tag.
func normalizeExtension(ext string) string {
	switch ext {
	case "tsx":
		return "ts"
	case "jsx", "mjs":
		return "js"
	case "yml":
		return "yaml"
	case "htm":
		return "html"
	default:
		return ext
	}
}

// formatAge renders a timestamp as a relative age.
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		n := int(d.Minutes())
		if n == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", n)
	case d < 24*time.Hour:
		n := int(d.Hours())
		if n == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", n)
	default:
		n := int(d.Hours() / 24)
		if n == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", n)
	}
}

// formatNumber inserts thousands separators.
func formatNumber(n int) string {
	s := strconv.Itoa(n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// formatLanguages renders a language mix sorted by descending share.
func formatLanguages(langs map[string]float64) string {
	if len(langs) == 0 {
		return "none"
	}
	type entry struct {
		lang  string
		share float64
	}
	entries := make([]entry, 0, len(langs))
	for lang, share := range langs {
		entries = append(entries, entry{lang, share})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].share != entries[j].share {
			return entries[i].share > entries[j].share
		}
		return entries[i].lang < entries[j].lang
	})

	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = fmt.Sprintf("%s (%.0f%%)", e.lang, e.share*100)
	}
	return strings.Join(parts, ", ")
}
