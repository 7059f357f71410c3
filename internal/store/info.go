package store

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// EmbedderInfoInput describes the currently-configured embedder, for
// compatibility checking against what the index was built with.
type EmbedderInfoInput struct {
	Model      string
	Backend    string
	Dimensions int
}

// GetIndexInfo assembles the `index info` report: what the index was built
// with, how big it is, and whether the current embedder is compatible.
func GetIndexInfo(ctx context.Context, metadata MetadataStore, dataDir string, current *EmbedderInfoInput) (*IndexInfo, error) {
	info := &IndexInfo{
		Location:    dataDir,
		ProjectRoot: filepath.Dir(dataDir),
	}

	info.IndexModel, _ = metadata.GetState(ctx, StateKeyIndexModel)
	if dims, err := metadata.GetState(ctx, StateKeyIndexDimension); err == nil && dims != "" {
		info.IndexDimensions, _ = strconv.Atoi(dims)
	}
	info.IndexBackend = inferBackendFromModel(info.IndexModel)

	withEmb, withoutEmb, err := metadata.GetEmbeddingStats(ctx)
	if err == nil {
		info.ChunkCount = withEmb + withoutEmb
	}

	// Document count approximated by distinct indexed files
	if paths, err := metadata.GetFilePathsByProject(ctx, ""); err == nil && len(paths) > 0 {
		info.DocumentCount = len(paths)
	}

	info.BM25SizeBytes = getDirSize(filepath.Join(dataDir, "keyword.bleve")) +
		getDirSize(filepath.Join(dataDir, "bm25.bleve")) +
		fileSize(filepath.Join(dataDir, "bm25.db"))
	info.VectorSizeBytes = fileSize(filepath.Join(dataDir, "vectors.hnsw"))
	info.IndexSizeBytes = info.BM25SizeBytes + info.VectorSizeBytes +
		fileSize(filepath.Join(dataDir, "metadata.db"))

	if st, err := os.Stat(dataDir); err == nil {
		info.UpdatedAt = st.ModTime()
	}
	if st, err := os.Stat(filepath.Join(dataDir, "metadata.db")); err == nil {
		info.CreatedAt = st.ModTime()
		if info.UpdatedAt.Before(st.ModTime()) {
			info.UpdatedAt = st.ModTime()
		}
	}

	if current != nil {
		info.CurrentModel = current.Model
		info.CurrentBackend = current.Backend
		info.CurrentDimensions = current.Dimensions
		info.Compatible = info.IndexDimensions == 0 || info.IndexDimensions == current.Dimensions
	}

	return info, nil
}

// inferBackendFromModel guesses the embedding backend from a model name.
func inferBackendFromModel(model string) string {
	switch {
	case strings.HasPrefix(model, "static"):
		return "static"
	case strings.HasPrefix(model, "/") || containsAny(model, []string{"mlx-community/", "mlx-"}):
		return "mlx"
	default:
		return "ollama"
	}
}

func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// getDirSize returns the total size of all files under dir, 0 if missing.
func getDirSize(dir string) int64 {
	var size int64
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			if fi, err := d.Info(); err == nil {
				size += fi.Size()
			}
		}
		return nil
	})
	return size
}

func fileSize(path string) int64 {
	if st, err := os.Stat(path); err == nil && !st.IsDir() {
		return st.Size()
	}
	return 0
}

// FormatBytes renders a byte count in human-readable units.
func FormatBytes(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	case n < 1024*1024*1024:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	default:
		return fmt.Sprintf("%.1f GB", float64(n)/(1024*1024*1024))
	}
}

// FormatTime renders a timestamp for display; the zero time reads "unknown".
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format("2006-01-02 15:04:05")
}
