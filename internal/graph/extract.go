package graph

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Relation is a single structural edge extracted from source text. From is
// the parent (interface or superclass) and To the entity that implements
// or extends it, matching the edge direction Service.AddEdge expects for
// descendant closures.
type Relation struct {
	Kind RelationKind
	From string
	To   string
}

var (
	// class Foo extends Bar implements Baz, Qux  (Java, TypeScript, PHP)
	classDeclRegexp = regexp.MustCompile(`\bclass\s+([A-Za-z_][A-Za-z0-9_]*)\s*(?:<[^>{]*>)?\s*((?:extends|implements)[^{:;]*)`)
	extendsClause   = regexp.MustCompile(`\bextends\s+([A-Za-z0-9_,.<>\s]+?)(?:\bimplements\b|$)`)
	implementsClause = regexp.MustCompile(`\bimplements\s+([A-Za-z0-9_,.<>\s]+)$`)

	// interface Foo extends Bar, Baz
	interfaceDeclRegexp = regexp.MustCompile(`\binterface\s+([A-Za-z_][A-Za-z0-9_]*)\s*(?:<[^>{]*>)?\s+extends\s+([A-Za-z0-9_,.<>\s]+)`)

	// class Foo(Bar, Baz):  (Python)
	pythonClassRegexp = regexp.MustCompile(`\bclass\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(([^)]*)\)\s*:`)
)

// ExtractRelations scans source text for class/interface declarations and
// returns the implements/extends edges they declare. Go sources yield
// nothing: Go interface satisfaction is implicit and not declared in text.
func ExtractRelations(content, language string) []Relation {
	switch strings.ToLower(language) {
	case "go", "":
		return nil
	case "python":
		return extractPythonRelations(content)
	default:
		return extractDeclaredRelations(content)
	}
}

func extractDeclaredRelations(content string) []Relation {
	var rels []Relation

	for _, m := range classDeclRegexp.FindAllStringSubmatch(content, -1) {
		name, clauses := m[1], m[2]
		if em := extendsClause.FindStringSubmatch(clauses); em != nil {
			for _, parent := range splitTypeList(em[1]) {
				rels = append(rels, Relation{Kind: RelationExtends, From: parent, To: name})
			}
		}
		if im := implementsClause.FindStringSubmatch(clauses); im != nil {
			for _, parent := range splitTypeList(im[1]) {
				rels = append(rels, Relation{Kind: RelationImplements, From: parent, To: name})
			}
		}
	}

	for _, m := range interfaceDeclRegexp.FindAllStringSubmatch(content, -1) {
		name, parents := m[1], m[2]
		for _, parent := range splitTypeList(parents) {
			rels = append(rels, Relation{Kind: RelationExtends, From: parent, To: name})
		}
	}

	return rels
}

func extractPythonRelations(content string) []Relation {
	var rels []Relation
	for _, m := range pythonClassRegexp.FindAllStringSubmatch(content, -1) {
		name, bases := m[1], m[2]
		for _, base := range splitTypeList(bases) {
			if base == "object" {
				continue
			}
			rels = append(rels, Relation{Kind: RelationExtends, From: base, To: name})
		}
	}
	return rels
}

// EncodeRelations serializes relations for persistence in the metadata
// store's key-value state, so the graph can be rebuilt at load time without
// re-parsing sources.
func EncodeRelations(rels []Relation) (string, error) {
	data, err := json.Marshal(rels)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeRelations is the inverse of EncodeRelations. An empty input yields
// an empty slice.
func DecodeRelations(encoded string) ([]Relation, error) {
	if encoded == "" {
		return nil, nil
	}
	var rels []Relation
	if err := json.Unmarshal([]byte(encoded), &rels); err != nil {
		return nil, err
	}
	return rels, nil
}

// ServiceFromRelations builds a populated Service from decoded relations.
func ServiceFromRelations(rels []Relation) *Service {
	s := NewService()
	for _, r := range rels {
		_ = s.AddEdge(r.Kind, r.From, r.To)
	}
	return s
}

// splitTypeList splits "Foo, bar.Baz<T, U>" into bare type names, dropping
// package qualifiers and generic parameter sections (whose commas would
// otherwise split mid-type).
func splitTypeList(list string) []string {
	var flat strings.Builder
	depth := 0
	for _, r := range list {
		switch r {
		case '<', '(':
			depth++
		case '>', ')':
			if depth > 0 {
				depth--
			}
		default:
			if depth == 0 {
				flat.WriteRune(r)
			}
		}
	}

	var out []string
	for _, part := range strings.Split(flat.String(), ",") {
		name := strings.TrimSpace(part)
		if i := strings.IndexAny(name, " \t\n"); i >= 0 {
			name = name[:i]
		}
		if i := strings.LastIndexByte(name, '.'); i >= 0 {
			name = name[i+1:]
		}
		if name == "" {
			continue
		}
		out = append(out, name)
	}
	return out
}
