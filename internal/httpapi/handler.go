// Package httpapi exposes the search pipeline over HTTP: a single /search
// endpoint returning ranked merged results plus facet counts.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/codesearch-hq/hybridsearch/internal/config"
	cserrors "github.com/codesearch-hq/hybridsearch/internal/errors"
	"github.com/codesearch-hq/hybridsearch/internal/graph"
	"github.com/codesearch-hq/hybridsearch/internal/search"
	"github.com/codesearch-hq/hybridsearch/internal/store"
)

// SearchBackend is what the handler needs from the engine.
type SearchBackend interface {
	SearchRequest(ctx context.Context, req search.Request) (*search.Response, error)
}

// Handler serves the /search endpoint.
type Handler struct {
	backend SearchBackend
	cfg     config.SearchConfig
	mux     *http.ServeMux
}

// NewHandler builds the HTTP handler over a search backend.
func NewHandler(backend SearchBackend, cfg config.SearchConfig) *Handler {
	h := &Handler{backend: backend, cfg: cfg, mux: http.NewServeMux()}
	h.mux.HandleFunc("/search", h.handleSearch)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// resultJSON is one row of the response body.
type resultJSON struct {
	ChunkID         string   `json:"chunk_id"`
	FilePath        string   `json:"file_path,omitempty"`
	EntityName      string   `json:"entity_name,omitempty"`
	EntityType      string   `json:"entity_type,omitempty"`
	Language        string   `json:"language,omitempty"`
	Repository      string   `json:"repository,omitempty"`
	StartLine       int      `json:"start_line,omitempty"`
	EndLine         int      `json:"end_line,omitempty"`
	Content         string   `json:"content,omitempty"`
	Score           float64  `json:"score"`
	FromBothSources bool     `json:"from_both_sources"`
	TransitivePath  []string `json:"transitive_path,omitempty"`
}

type responseJSON struct {
	Results []resultJSON                     `json:"results"`
	Facets  map[string][]store.FacetResult   `json:"facets"`
	Query   string                           `json:"query"`
	Size    int                              `json:"size"`
	Page    int                              `json:"page"`
}

type errorJSON struct {
	Error string `json:"error"`
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	query := q.Get("q")
	if strings.TrimSpace(query) == "" {
		writeJSON(w, http.StatusBadRequest, errorJSON{Error: "query is required"})
		return
	}

	limit := 10
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	transitive := false
	if v := q.Get("transitive"); v != "" {
		transitive, _ = strconv.ParseBool(v)
	}

	depth := 0
	if v := q.Get("depth"); v != "" {
		depth, _ = strconv.Atoi(v)
	}
	if transitive && (depth < graph.MinDepth || depth > graph.MaxDepth) {
		writeJSON(w, http.StatusBadRequest, errorJSON{
			Error: fmt.Sprintf("depth must be between %d and %d", graph.MinDepth, graph.MaxDepth),
		})
		return
	}

	req := search.Request{
		Query: query,
		Filters: store.SearchFilters{
			Languages:        multiValue(q, "language"),
			Repositories:     multiValue(q, "repository"),
			FilePathPrefixes: multiValue(q, "file_path"),
			EntityTypes:      multiValue(q, "entity_type"),
		},
		Limit:      limit,
		Offset:     offset,
		Mode:       modeFromParam(q.Get("mode")),
		Transitive: transitive,
		Depth:      depth,
		FacetLimit: h.cfg.FacetLimit,
	}
	if req.FacetLimit <= 0 {
		req.FacetLimit = 10
	}

	resp, err := h.backend.SearchRequest(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		body := errorJSON{Error: "search failed"}
		var cse *cserrors.CodeSearchError
		if errors.As(err, &cse) {
			switch cse.Code {
			case cserrors.ErrCodeDepthOutOfRange, cserrors.ErrCodeInvalidInput, cserrors.ErrCodeQueryBlank:
				status = http.StatusBadRequest
				body.Error = cse.Message
			default:
				body.Error = fmt.Sprintf("search failed: %s", cse.Message)
			}
		}
		if status == http.StatusInternalServerError {
			slog.Error("search request failed", slog.String("error", err.Error()))
		}
		writeJSON(w, status, body)
		return
	}

	results := make([]resultJSON, 0, len(resp.Results))
	for _, m := range resp.Results {
		results = append(results, toResultJSON(m))
	}

	facets := resp.Facets
	if facets == nil {
		facets = map[string][]store.FacetResult{}
	}

	writeJSON(w, http.StatusOK, responseJSON{
		Results: results,
		Facets:  facets,
		Query:   query,
		Size:    len(results),
		Page:    offset / limit,
	})
}

func toResultJSON(m search.MergedResult) resultJSON {
	out := resultJSON{
		ChunkID:         string(m.ChunkID),
		Score:           m.CombinedScore,
		FromBothSources: m.FromBothSources,
		TransitivePath:  m.TransitivePath,
	}
	if doc := m.KeywordDoc; doc != nil {
		out.FilePath = doc.FilePath
		out.EntityName = doc.EntityName
		out.EntityType = doc.EntityType
		out.Language = doc.Language
		out.Repository = store.DeriveRepository(doc.FilePath)
		out.StartLine = doc.StartLine
		out.EndLine = doc.EndLine
		out.Content = doc.Content
	} else if filePath, entityName, startLine, endLine, ok := store.ParseChunkId(m.ChunkID); ok {
		out.FilePath = filePath
		out.EntityName = entityName
		out.StartLine = startLine
		out.EndLine = endLine
		out.Repository = store.DeriveRepository(filePath)
	}
	return out
}

// multiValue collects repeated query parameters, accepting both "key" and
// the "key[]" spelling.
func multiValue(q map[string][]string, key string) []string {
	var out []string
	out = append(out, q[key]...)
	out = append(out, q[key+"[]"]...)
	return out
}

// modeFromParam maps the mode parameter onto a search mode; unknown values
// fall back to hybrid.
func modeFromParam(mode string) search.Mode {
	switch strings.ToLower(mode) {
	case "keyword":
		return search.ModeKeyword
	case "vector":
		return search.ModeVector
	default:
		return search.ModeHybrid
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("response encode failed", slog.String("error", err.Error()))
	}
}
