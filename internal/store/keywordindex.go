package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	bleveanalysis "github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	bleveSearch "github.com/blevesearch/bleve/v2/search"
	bleveQuery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/gofrs/flock"

	"github.com/codesearch-hq/hybridsearch/internal/analysis"
	"github.com/codesearch-hq/hybridsearch/internal/queryast"
)

// Field names of the keyword index's document schema.
const (
	FieldContent            = "content"
	FieldEntityName         = "entity_name"
	FieldEntityNameKeyword  = "entity_name_keyword"
	FieldDocSummary         = "doc_summary"
	FieldLanguage           = "language"
	FieldEntityType         = "entity_type"
	FieldFilePath           = "file_path"
	FieldRepository         = "repository"
	FieldStartLine          = "start_line"
	FieldEndLine            = "end_line"
	FieldStartByte          = "start_byte"
	FieldEndByte            = "end_byte"
	FieldDocumentID         = "document_id"
	metaFieldPrefix         = "meta_"
	tokenizerNameContent    = "hybridsearch_content_tokenizer"
	tokenizerNameExempt     = "hybridsearch_exempt_tokenizer"
	analyzerNameContent     = "hybridsearch_content_analyzer"
	analyzerNameExempt      = "hybridsearch_exempt_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(tokenizerNameContent, contentTokenizerConstructor)
	_ = registry.RegisterTokenizer(tokenizerNameExempt, exemptTokenizerConstructor)
}

// sanitizeMetaKey lowercases k and replaces non-alphanumeric runs with "_",
// matching the "meta_{k}" attribute-mirroring convention.
var nonAlnumRegexp = regexp.MustCompile(`[^a-z0-9]+`)

func sanitizeMetaKey(k string) string {
	lower := strings.ToLower(k)
	return nonAlnumRegexp.ReplaceAllString(lower, "_")
}

// --- bleve tokenizer adapters over internal/analysis ---

type analysisTokenizer struct {
	exempt bool
}

func contentTokenizerConstructor(_ map[string]interface{}, _ *registry.Cache) (bleveanalysis.Tokenizer, error) {
	return &analysisTokenizer{exempt: false}, nil
}

func exemptTokenizerConstructor(_ map[string]interface{}, _ *registry.Cache) (bleveanalysis.Tokenizer, error) {
	return &analysisTokenizer{exempt: true}, nil
}

func (t *analysisTokenizer) Tokenize(input []byte) bleveanalysis.TokenStream {
	text := string(input)
	an := analysis.New()
	var tokens []string
	if t.exempt {
		tokens = an.AnalyzeExempt(text)
	} else {
		tokens = an.Analyze(text)
	}

	stream := make(bleveanalysis.TokenStream, 0, len(tokens))
	offset := 0
	lowerText := strings.ToLower(text)
	pos := 1
	for _, tok := range tokens {
		start := strings.Index(lowerText[offset:], tok)
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(tok)
		stream = append(stream, &bleveanalysis.Token{
			Term:     []byte(tok),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     bleveanalysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}
	return stream
}

func buildKeywordIndexMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()

	if err := im.AddCustomAnalyzer(analyzerNameContent, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     tokenizerNameContent,
		"token_filters": []string{lowercase.Name},
	}); err != nil {
		return nil, fmt.Errorf("add content analyzer: %w", err)
	}
	if err := im.AddCustomAnalyzer(analyzerNameExempt, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     tokenizerNameExempt,
		"token_filters": []string{lowercase.Name},
	}); err != nil {
		return nil, fmt.Errorf("add exempt analyzer: %w", err)
	}

	chunkMapping := bleve.NewDocumentMapping()
	chunkMapping.Dynamic = true // meta_* attribute mirrors

	tokenizedField := func(analyzer string, includeTermVectors bool) *mapping.FieldMapping {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = analyzer
		fm.Store = true
		fm.IncludeInAll = false
		fm.IncludeTermVectors = includeTermVectors
		return fm
	}

	exactField := func() *mapping.FieldMapping {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = keyword.Name
		fm.Store = true
		fm.IncludeInAll = false
		return fm
	}

	numericField := func() *mapping.FieldMapping {
		fm := bleve.NewNumericFieldMapping()
		fm.Store = true
		fm.Index = true
		return fm
	}

	chunkMapping.AddFieldMappingsAt(FieldContent, tokenizedField(analyzerNameContent, true))
	chunkMapping.AddFieldMappingsAt(FieldEntityName, tokenizedField(analyzerNameExempt, true))
	chunkMapping.AddFieldMappingsAt(FieldEntityNameKeyword, exactField())
	chunkMapping.AddFieldMappingsAt(FieldDocSummary, tokenizedField(analyzerNameContent, false))
	chunkMapping.AddFieldMappingsAt(FieldLanguage, exactField())
	chunkMapping.AddFieldMappingsAt(FieldEntityType, exactField())
	chunkMapping.AddFieldMappingsAt(FieldFilePath, exactField())
	chunkMapping.AddFieldMappingsAt(FieldRepository, exactField())
	chunkMapping.AddFieldMappingsAt(FieldDocumentID, exactField())
	chunkMapping.AddFieldMappingsAt(FieldStartLine, numericField())
	chunkMapping.AddFieldMappingsAt(FieldEndLine, numericField())
	chunkMapping.AddFieldMappingsAt(FieldStartByte, numericField())
	chunkMapping.AddFieldMappingsAt(FieldEndByte, numericField())

	im.DefaultMapping = chunkMapping
	im.DefaultAnalyzer = analyzerNameContent
	return im, nil
}

// toDocument converts a TextChunk into the keyword index's document shape:
// a plain map so dynamic meta_* fields can be attached alongside the
// explicitly-mapped schema fields.
func toDocument(chunk *TextChunk) map[string]interface{} {
	id := string(chunk.ChunkId())
	doc := map[string]interface{}{
		FieldContent:           chunk.Content,
		FieldEntityName:        chunk.EntityName,
		FieldEntityNameKeyword: chunk.EntityName,
		FieldLanguage:          chunk.Language,
		FieldEntityType:        chunk.EntityType,
		FieldFilePath:          chunk.FilePath,
		FieldRepository:        DeriveRepository(chunk.FilePath),
		FieldDocumentID:        id,
		FieldStartLine:         float64(chunk.StartLine),
		FieldEndLine:           float64(chunk.EndLine),
		FieldStartByte:         float64(chunk.StartByte),
		FieldEndByte:           float64(chunk.EndByte),
	}
	for k, v := range chunk.Attributes {
		if k == "doc_summary" {
			doc[FieldDocSummary] = v
			continue
		}
		doc[metaFieldPrefix+sanitizeMetaKey(k)] = v
	}
	return doc
}

// SearchFilters restricts results along independent dimensions. Each
// dimension is OR'd internally; dimensions are AND'd together.
// Nil/empty slices mean "no restriction on this dimension".
type SearchFilters struct {
	Languages        []string
	Repositories     []string
	FilePathPrefixes []string
	EntityTypes      []string
}

func (f SearchFilters) isEmpty() bool {
	return len(f.Languages) == 0 && len(f.Repositories) == 0 &&
		len(f.FilePathPrefixes) == 0 && len(f.EntityTypes) == 0
}

func (f SearchFilters) toBleveQuery() bleveQuery.Query {
	if f.isEmpty() {
		return nil
	}
	var conjuncts []bleveQuery.Query
	addDisjunction := func(field string, values []string) {
		if len(values) == 0 {
			return
		}
		var disjuncts []bleveQuery.Query
		for _, v := range values {
			tq := bleve.NewTermQuery(v)
			tq.SetField(field)
			disjuncts = append(disjuncts, tq)
		}
		if len(disjuncts) == 1 {
			conjuncts = append(conjuncts, disjuncts[0])
			return
		}
		conjuncts = append(conjuncts, bleve.NewDisjunctionQuery(disjuncts...))
	}

	addDisjunction(FieldLanguage, f.Languages)
	addDisjunction(FieldRepository, f.Repositories)
	addDisjunction(FieldEntityType, f.EntityTypes)

	if len(f.FilePathPrefixes) > 0 {
		var disjuncts []bleveQuery.Query
		for _, prefix := range f.FilePathPrefixes {
			pq := bleve.NewPrefixQuery(prefix)
			pq.SetField(FieldFilePath)
			disjuncts = append(disjuncts, pq)
		}
		if len(disjuncts) == 1 {
			conjuncts = append(conjuncts, disjuncts[0])
		} else {
			conjuncts = append(conjuncts, bleve.NewDisjunctionQuery(disjuncts...))
		}
	}

	if len(conjuncts) == 1 {
		return conjuncts[0]
	}
	return bleve.NewConjunctionQuery(conjuncts...)
}

// KeywordHitDoc is a single scored document returned by the keyword index,
// carrying enough of the field schema to reconstruct a ChunkId and serve as
// a MergedResult.KeywordDoc.
type KeywordHitDoc struct {
	DocumentID string
	ChunkID    ChunkId
	FilePath   string
	EntityName string
	Language   string
	EntityType string
	Repository string
	StartLine  int
	EndLine    int
	Content    string
	Score      float64
	// FieldMatches maps field -> contributing sub-score, derived from the
	// engine's explanation. May be empty; never nil.
	FieldMatches map[string]float64
}

// IndexStatsFull mirrors get_index_stats(): (num_docs, max_doc, num_deleted_docs).
type IndexStatsFull struct {
	NumDocs        int
	MaxDoc         int
	NumDeletedDocs int
}

// KeywordIndex is the bleve-backed multi-field inverted index. A single
// writer lock (via gofrs/flock on the index directory) enforces the
// single-writer-many-readers contract; bleve's own index snapshots
// give readers a consistent view unaffected by concurrent writes.
type KeywordIndex struct {
	mu    sync.RWMutex
	index bleve.Index
	path  string
	lock  *flock.Flock
}

// OpenKeywordIndex opens (or creates) a keyword index at path. An empty path
// creates an in-memory index (used in tests).
func OpenKeywordIndex(path string) (*KeywordIndex, error) {
	im, err := buildKeywordIndexMapping()
	if err != nil {
		return nil, err
	}

	var idx bleve.Index
	var fileLock *flock.Flock
	if path == "" {
		idx, err = bleve.NewMemOnly(im)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, fmt.Errorf("create index dir: %w", mkErr)
		}
		fileLock = flock.New(path + ".lock")
		if _, lockErr := fileLock.TryLock(); lockErr != nil {
			return nil, fmt.Errorf("acquire keyword index writer lock: %w", lockErr)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, im)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open keyword index: %w", err)
	}

	return &KeywordIndex{index: idx, path: path, lock: fileLock}, nil
}

func (k *KeywordIndex) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.lock != nil {
		_ = k.lock.Unlock()
	}
	return k.index.Close()
}

// AddChunks buffers and commits chunks in a single batch write.
func (k *KeywordIndex) AddChunks(chunks []*TextChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	batch := k.index.NewBatch()
	for _, c := range chunks {
		if err := batch.Index(string(c.ChunkId()), toDocument(c)); err != nil {
			return fmt.Errorf("index chunk %s: %w", c.ChunkId(), err)
		}
	}
	return k.index.Batch(batch)
}

// AddChunksBatch indexes chunks in fixed-size batches, committing each one.
func (k *KeywordIndex) AddChunksBatch(chunks []*TextChunk, batchSize int) error {
	if batchSize <= 0 {
		batchSize = len(chunks)
	}
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := k.AddChunks(chunks[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// RemoveChunksForFile deletes every document whose file_path matches path.
func (k *KeywordIndex) RemoveChunksForFile(path string) error {
	ids, err := k.documentIDsForFile(path)
	if err != nil {
		return err
	}
	return k.removeByID(ids)
}

// UpdateChunksForFile atomically replaces every chunk under path: a single
// delete-by-file then add, sharing one commit so no partial state is ever
// observable.
func (k *KeywordIndex) UpdateChunksForFile(path string, newChunks []*TextChunk) error {
	ids, err := k.documentIDsForFile(path)
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	batch := k.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	for _, c := range newChunks {
		if err := batch.Index(string(c.ChunkId()), toDocument(c)); err != nil {
			return fmt.Errorf("index chunk %s: %w", c.ChunkId(), err)
		}
	}
	return k.index.Batch(batch)
}

// UpdateDocument replaces a single chunk: delete-by-document_id then add.
func (k *KeywordIndex) UpdateDocument(chunk *TextChunk) error {
	return k.UpdateDocuments([]*TextChunk{chunk})
}

// UpdateDocuments replaces a list of chunks by document_id, one commit.
func (k *KeywordIndex) UpdateDocuments(chunks []*TextChunk) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	batch := k.index.NewBatch()
	for _, c := range chunks {
		id := string(c.ChunkId())
		batch.Delete(id)
		if err := batch.Index(id, toDocument(c)); err != nil {
			return fmt.Errorf("index chunk %s: %w", id, err)
		}
	}
	return k.index.Batch(batch)
}

// RemoveDocument removes a single chunk by ChunkId. The return value is an
// opaque non-negative count of write operations performed (always 1 on
// success), not a "documents logically removed" count.
func (k *KeywordIndex) RemoveDocument(id ChunkId) (int, error) {
	return k.RemoveDocuments([]ChunkId{id})
}

// RemoveDocuments removes chunks by ChunkId in a single batch, returning the
// number of batch delete operations performed.
func (k *KeywordIndex) RemoveDocuments(ids []ChunkId) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = string(id)
	}
	if err := k.removeByID(strIDs); err != nil {
		return 0, err
	}
	return 1, nil
}

func (k *KeywordIndex) removeByID(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	batch := k.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return k.index.Batch(batch)
}

func (k *KeywordIndex) documentIDsForFile(path string) ([]string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	tq := bleve.NewTermQuery(path)
	tq.SetField(FieldFilePath)
	req := bleve.NewSearchRequest(tq)
	req.Fields = nil
	req.Size = 1_000_000

	result, err := k.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("find chunks for file %s: %w", path, err)
	}
	ids := make([]string, len(result.Hits))
	for i, hit := range result.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// Search returns documents matching query, descending by raw score.
func (k *KeywordIndex) Search(q string, limit int) ([]*KeywordHitDoc, error) {
	hits, _, err := k.searchInternal(q, limit, SearchFilters{}, false)
	return hits, err
}

// SearchWithScores is Search plus optional per-field match contributions.
func (k *KeywordIndex) SearchWithScores(q string, limit int, filters SearchFilters, includeFieldMatch bool) ([]*KeywordHitDoc, error) {
	hits, _, err := k.searchInternal(q, limit, filters, includeFieldMatch)
	return hits, err
}

// SearchField restricts search to a single field. A non-positive limit
// returns every match.
func (k *KeywordIndex) SearchField(field, value string, limit int) ([]*KeywordHitDoc, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if limit <= 0 {
		limit = 10_000
	}
	mq := bleve.NewMatchQuery(value)
	mq.SetField(field)
	req := bleve.NewSearchRequest(mq)
	req.Size = limit
	req.Fields = []string{FieldFilePath, FieldEntityName, FieldLanguage, FieldEntityType, FieldRepository, FieldStartLine, FieldEndLine, FieldContent}

	result, err := k.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search field %s: %w", field, err)
	}
	return toHitDocs(result), nil
}

// LookupByEntityNames builds a disjunction over entity_name_keyword for the
// given names, AND'd with filters.
func (k *KeywordIndex) LookupByEntityNames(names []string, limit int, filters SearchFilters) ([]*KeywordHitDoc, error) {
	if len(names) == 0 {
		return nil, nil
	}
	k.mu.RLock()
	defer k.mu.RUnlock()

	var disjuncts []bleveQuery.Query
	for _, n := range names {
		tq := bleve.NewTermQuery(n)
		tq.SetField(FieldEntityNameKeyword)
		disjuncts = append(disjuncts, tq)
	}
	var q bleveQuery.Query = bleve.NewDisjunctionQuery(disjuncts...)
	if fq := filters.toBleveQuery(); fq != nil {
		q = bleve.NewConjunctionQuery(q, fq)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{FieldFilePath, FieldEntityName, FieldLanguage, FieldEntityType, FieldRepository, FieldStartLine, FieldEndLine, FieldContent}

	result, err := k.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("lookup by entity names: %w", err)
	}
	return toHitDocs(result), nil
}

// bleveQueryForString parses q through the code-aware query grammar and
// translates the resulting tree into a bleve query object.
func bleveQueryForString(q string) bleveQuery.Query {
	parser := queryast.NewQueryParser(nil)
	node := parser.Parse(q)
	return translateQueryNode(node)
}

func translateQueryNode(node *queryast.QueryNode) bleveQuery.Query {
	if node == nil {
		return bleve.NewMatchAllQuery()
	}
	switch node.Kind {
	case queryast.NodeMatchAll:
		return bleve.NewMatchAllQuery()
	case queryast.NodeTerm:
		return bleve.NewTermQuery(node.Term)
	case queryast.NodeWildcard:
		return bleve.NewWildcardQuery(node.Term)
	case queryast.NodePhrase:
		return bleve.NewPhraseQuery(node.Terms, "")
	case queryast.NodeField:
		q := translateQueryNode(node.Children[0])
		setQueryField(q, node.Field)
		return q
	case queryast.NodeBoost:
		q := translateQueryNode(node.Children[0])
		if bq, ok := q.(bleveQuery.Query); ok {
			if setter, ok2 := bq.(interface{ SetBoost(float64) }); ok2 {
				setter.SetBoost(node.Boost)
			}
		}
		return q
	case queryast.NodeAnd:
		children := make([]bleveQuery.Query, 0, len(node.Children))
		for _, c := range node.Children {
			children = append(children, translateQueryNode(c))
		}
		return bleve.NewConjunctionQuery(children...)
	case queryast.NodeOr:
		children := make([]bleveQuery.Query, 0, len(node.Children))
		for _, c := range node.Children {
			children = append(children, translateQueryNode(c))
		}
		return bleve.NewDisjunctionQuery(children...)
	case queryast.NodeNot:
		must := bleve.NewMatchAllQuery()
		mustNot := translateQueryNode(node.Children[0])
		bq := bleve.NewBooleanQuery()
		bq.AddMust(must)
		bq.AddMustNot(mustNot)
		return bq
	default:
		return bleve.NewMatchNoneQuery()
	}
}

// setQueryField restricts a leaf query (term/wildcard/phrase/match-all) to a
// single field, matching the field-qualified query grammar.
func setQueryField(q bleveQuery.Query, field string) {
	if setter, ok := q.(interface{ SetField(string) }); ok {
		setter.SetField(field)
	}
}

func (k *KeywordIndex) searchInternal(q string, limit int, filters SearchFilters, includeFieldMatch bool) ([]*KeywordHitDoc, int, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	bq := bleveQueryForString(q)
	if fq := filters.toBleveQuery(); fq != nil {
		bq = bleve.NewConjunctionQuery(bq, fq)
	}

	req := bleve.NewSearchRequest(bq)
	req.Size = limit
	req.Fields = []string{FieldFilePath, FieldEntityName, FieldLanguage, FieldEntityType, FieldRepository, FieldStartLine, FieldEndLine, FieldContent}
	req.IncludeLocations = includeFieldMatch
	req.Explain = includeFieldMatch

	result, err := k.index.Search(req)
	if err != nil {
		return nil, 0, fmt.Errorf("search: %w", err)
	}
	return toHitDocs(result), int(result.Total), nil
}

func toHitDocs(result *bleve.SearchResult) []*KeywordHitDoc {
	out := make([]*KeywordHitDoc, 0, len(result.Hits))
	for _, hit := range result.Hits {
		d := &KeywordHitDoc{
			DocumentID: hit.ID,
			ChunkID:    ChunkId(hit.ID),
			Score:      hit.Score,
		}
		if v, ok := hit.Fields[FieldFilePath].(string); ok {
			d.FilePath = v
		}
		if v, ok := hit.Fields[FieldEntityName].(string); ok {
			d.EntityName = v
		}
		if v, ok := hit.Fields[FieldLanguage].(string); ok {
			d.Language = v
		}
		if v, ok := hit.Fields[FieldEntityType].(string); ok {
			d.EntityType = v
		}
		if v, ok := hit.Fields[FieldRepository].(string); ok {
			d.Repository = v
		}
		if v, ok := hit.Fields[FieldStartLine].(float64); ok {
			d.StartLine = int(v)
		}
		if v, ok := hit.Fields[FieldEndLine].(float64); ok {
			d.EndLine = int(v)
		}
		d.FieldMatches = fieldMatchesFromExplanation(hit)
		out = append(out, d)
	}
	return out
}

// fieldMatchesFromExplanation derives a field->sub-score mapping from
// bleve's explanation tree. It is empty (never nil) when no explanation is
// available or no leaf is attributable to a field.
func fieldMatchesFromExplanation(hit *bleveSearch.DocumentMatch) map[string]float64 {
	matches := make(map[string]float64)
	if hit == nil || hit.Expl == nil {
		return matches
	}
	var walk func(node *bleveSearch.Explanation)
	walk = func(node *bleveSearch.Explanation) {
		if node == nil {
			return
		}
		for field := range hit.Locations {
			if strings.Contains(node.Message, field) {
				matches[field] += node.Value
			}
		}
		for _, child := range node.Children {
			walk(child)
		}
	}
	walk(hit.Expl)
	return matches
}

// FacetResult is one (value, count) pair within a facet.
type FacetResult struct {
	Value string
	Count int
}

// ComputeFacets aggregates counts per value of {language, repository,
// entity_type} over the query-matching set, truncated to maxValuesPerFacet.
// maxValuesPerFacet == 0 yields an empty mapping.
func (k *KeywordIndex) ComputeFacets(q string, filters SearchFilters, maxValuesPerFacet int) (map[string][]FacetResult, error) {
	out := map[string][]FacetResult{}
	if maxValuesPerFacet == 0 {
		return out, nil
	}

	k.mu.RLock()
	defer k.mu.RUnlock()

	bq := bleveQueryForString(q)
	if fq := filters.toBleveQuery(); fq != nil {
		bq = bleve.NewConjunctionQuery(bq, fq)
	}

	req := bleve.NewSearchRequest(bq)
	req.Size = 0
	for _, field := range []string{FieldLanguage, FieldRepository, FieldEntityType} {
		fr := bleve.NewFacetRequest(field, maxValuesPerFacet)
		req.AddFacet(field, fr)
	}

	result, err := k.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("compute facets: %w", err)
	}

	for field, facetResult := range result.Facets {
		var values []FacetResult
		for _, term := range facetResult.Terms.Terms() {
			values = append(values, FacetResult{Value: term.Term, Count: term.Count})
		}
		sort.Slice(values, func(i, j int) bool { return values[i].Count > values[j].Count })
		if len(values) > maxValuesPerFacet {
			values = values[:maxValuesPerFacet]
		}
		out[field] = values
	}
	return out, nil
}

// GetIndexStats returns (num_docs, max_doc, num_deleted_docs).
func (k *KeywordIndex) GetIndexStats() (IndexStatsFull, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	count, err := k.index.DocCount()
	if err != nil {
		return IndexStatsFull{}, err
	}
	return IndexStatsFull{NumDocs: int(count), MaxDoc: int(count), NumDeletedDocs: 0}, nil
}

// parseLineRange is a small helper used when reconstructing ChunkIds from
// raw field values (e.g. from an external caller holding string forms).
func parseLineRange(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
