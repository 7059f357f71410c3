package store

import (
	"fmt"
	"path"
	"strings"
)

// TextChunk is the immutable unit of retrieval handed to the search
// pipeline by the ingestion pipeline. It is never mutated after creation;
// updates are modelled as remove-then-add at file granularity.
type TextChunk struct {
	Content    string
	Language   string // lowercase tag
	EntityType string // class, interface, method, function, ...
	EntityName string
	FilePath   string
	StartLine  int
	EndLine    int
	StartByte  int
	EndByte    int
	// Attributes is an unordered string->string mapping. Recognized keys
	// include "doc_summary" and "visibility"; every other key is mirrored
	// into a sanitized meta_{k} field by the keyword index.
	Attributes map[string]string
}

// ToTextChunk maps the ingestion pipeline's chunk shape onto the search
// pipeline's retrieval unit. The primary symbol names the entity; chunks
// without symbols (markdown sections, plain text) fall back to the file
// name and content type.
func ToTextChunk(c *Chunk) *TextChunk {
	tc := &TextChunk{
		Content:   c.Content,
		Language:  strings.ToLower(c.Language),
		FilePath:  c.FilePath,
		StartLine: c.StartLine,
		EndLine:   c.EndLine,
	}

	if len(c.Symbols) > 0 {
		primary := c.Symbols[0]
		tc.EntityName = primary.Name
		tc.EntityType = string(primary.Type)
		if primary.DocComment != "" {
			tc.Attributes = map[string]string{"doc_summary": primary.DocComment}
		}
	} else {
		tc.EntityName = path.Base(c.FilePath)
		tc.EntityType = string(c.ContentType)
	}

	if len(c.Metadata) > 0 {
		if tc.Attributes == nil {
			tc.Attributes = make(map[string]string, len(c.Metadata))
		}
		for k, v := range c.Metadata {
			tc.Attributes[k] = v
		}
	}
	return tc
}

// ChunkId is the canonical cross-index identity of a TextChunk:
// "{file_path}:{entity_name}:{start_line}:{end_line}". Two chunks sharing a
// ChunkId are the same logical hit regardless of which index produced them.
type ChunkId string

// NewChunkId computes the canonical ChunkId for a chunk's identifying fields.
func NewChunkId(filePath, entityName string, startLine, endLine int) ChunkId {
	return ChunkId(fmt.Sprintf("%s:%s:%d:%d", filePath, entityName, startLine, endLine))
}

// ChunkId returns the canonical identity of the chunk.
func (c *TextChunk) ChunkId() ChunkId {
	return NewChunkId(c.FilePath, c.EntityName, c.StartLine, c.EndLine)
}

// ParseChunkId splits a ChunkId back into its identifying fields. The
// format is "{file_path}:{entity_name}:{start_line}:{end_line}"; file_path
// and entity_name may themselves contain colons, so the two trailing line
// numbers anchor the split from the right and the entity name is taken as
// the last colon-free segment before them.
func ParseChunkId(id ChunkId) (filePath, entityName string, startLine, endLine int, ok bool) {
	s := string(id)

	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return "", "", 0, 0, false
	}
	if _, err := fmt.Sscanf(s[i+1:], "%d", &endLine); err != nil {
		return "", "", 0, 0, false
	}
	s = s[:i]

	i = strings.LastIndexByte(s, ':')
	if i < 0 {
		return "", "", 0, 0, false
	}
	if _, err := fmt.Sscanf(s[i+1:], "%d", &startLine); err != nil {
		return "", "", 0, 0, false
	}
	s = s[:i]

	i = strings.LastIndexByte(s, ':')
	if i < 0 {
		return "", "", 0, 0, false
	}
	return s[:i], s[i+1:], startLine, endLine, true
}

// knownHostPrefixes are stripped from file_path before repository-tag
// derivation.
var knownHostPrefixes = []string{"github.com/", "gitlab.com/"}

// DeriveRepository computes the Repository tag for a file_path: the
// penultimate path segment after stripping a known host prefix, else the
// directory immediately above the filename; "unknown" if the path has no
// parent directory.
func DeriveRepository(filePath string) string {
	p := filePath
	for _, prefix := range knownHostPrefixes {
		if strings.HasPrefix(p, prefix) {
			p = strings.TrimPrefix(p, prefix)
			break
		}
	}

	p = strings.Trim(p, "/")
	if p == "" {
		return "unknown"
	}

	segments := strings.Split(p, "/")
	if len(segments) < 2 {
		return "unknown"
	}
	// The directory immediately above the filename is segments[len-2].
	// When a known host prefix was stripped, that directory is also the
	// "penultimate path segment" (owner/repo/... -> repo is segments[1]
	// only when exactly two segments remain before the file; in the
	// general case the directory above the file is the correct tag).
	return segments[len(segments)-2]
}
