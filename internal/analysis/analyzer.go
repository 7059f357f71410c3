// Package analysis implements the code-aware text analyzer: identifier
// splitting (camelCase, snake_case, acronym runs), stop-word filtering, and
// number preservation, shared by indexing and query-time term analysis.
package analysis

import (
	"regexp"
	"strings"
	"unicode"
)

// tokenRegex matches alphanumeric runs, keeping underscores for the
// subsequent snake_case split.
var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// StopWords is the fixed programming stop-word set dropped from analyzed
// content, unless the caller requests the exempt variant (see Analyzer.AnalyzeExempt).
var StopWords = BuildStopWordSet([]string{
	"public", "private", "protected", "static", "final", "abstract",
	"class", "interface", "enum", "struct", "trait", "impl",
	"void", "int", "long", "short", "byte", "char", "bool", "boolean",
	"float", "double", "string", "var", "let", "const",
	"implements", "extends", "package", "import", "namespace", "using",
	"return", "if", "else", "for", "while", "do", "switch", "case",
	"break", "continue", "default", "new", "this", "self", "super",
	"try", "catch", "finally", "throw", "throws", "func", "function",
	"def", "null", "nil", "true", "false",
})

// Analyzer applies the code-aware analysis pipeline to free
// text. It is stateless and safe for concurrent use; per-call scratch state
// never escapes a single Analyze invocation.
type Analyzer struct {
	stopWords map[string]struct{}
}

// New constructs an Analyzer using the default stop-word set.
func New() *Analyzer {
	return &Analyzer{stopWords: StopWords}
}

// NewWithStopWords constructs an Analyzer using a caller-supplied stop-word set.
func NewWithStopWords(stopWords map[string]struct{}) *Analyzer {
	return &Analyzer{stopWords: stopWords}
}

// Analyze tokenizes text, applying stop-word filtering.
func (a *Analyzer) Analyze(text string) []string {
	return a.analyze(text, true)
}

// AnalyzeExempt tokenizes text without stop-word filtering. Used for
// entity_name, which is exempt from stop-word removal so short meaningful
// identifiers (e.g. "Get", "Set") are never dropped.
func (a *Analyzer) AnalyzeExempt(text string) []string {
	return a.analyze(text, false)
}

func (a *Analyzer) analyze(text string, filterStopWords bool) []string {
	words := tokenRegex.FindAllString(text, -1)
	tokens := make([]string, 0, len(words)*2)

	for _, word := range words {
		lowerOriginal := strings.ToLower(word)
		tokens = append(tokens, lowerOriginal)

		for _, part := range splitIdentifier(word) {
			// Drop sub-parts of length 1; the original token (which may
			// legitimately be length 1, e.g. a lone digit) is kept above.
			if len(part) <= 1 {
				continue
			}
			lowerPart := strings.ToLower(part)
			if lowerPart == lowerOriginal {
				continue
			}
			tokens = append(tokens, lowerPart)
		}
	}

	if !filterStopWords {
		return tokens
	}

	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, stop := a.stopWords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	return out
}

// splitIdentifier splits snake_case first, then camelCase/PascalCase
// (including acronym runs) within each snake-case part.
func splitIdentifier(token string) []string {
	if strings.Contains(token, "_") {
		var result []string
		for _, part := range strings.Split(token, "_") {
			if part == "" {
				continue
			}
			result = append(result, splitCamelCase(part)...)
		}
		return result
	}
	return splitCamelCase(token)
}

// splitCamelCase splits camelCase/PascalCase identifiers, treating runs of
// uppercase letters as a single acronym token: "XMLParser" -> ["XML", "Parser"].
func splitCamelCase(s string) []string {
	if s == "" {
		return nil
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

// BuildStopWordSet converts a slice of stop words to a set for lookup.
func BuildStopWordSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}
