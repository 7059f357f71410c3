package queryast

import (
	"fmt"
	"strings"

	"github.com/codesearch-hq/hybridsearch/internal/analysis"
)

// DefaultFanoutFields are the fields a bare term expands across and the fields used for fallback-on-parse-failure.
var DefaultFanoutFields = []string{
	"content", "entity_name", "entity_name_keyword", "doc_summary",
	"language", "entity_type", "repository",
}

// BoostTable maps field name to its query-time boost. Zero-value lookups
// (field absent from the table) default to 1.0.
type BoostTable map[string]float64

// DefaultBoostTable returns the default per-field boosts applied to bare
// query terms.
func DefaultBoostTable() BoostTable {
	return BoostTable{
		"entity_name":         3.0,
		"entity_name_keyword": 3.0,
		"doc_summary":         2.0,
		"content":             1.0,
		"language":            1.0,
		"entity_type":         1.0,
		"repository":          1.0,
	}
}

func (b BoostTable) boostOf(field string) float64 {
	if v, ok := b[field]; ok {
		return v
	}
	return 1.0
}

// NodeKind enumerates the shapes a parsed query node may take.
type NodeKind int

const (
	NodeMatchAll NodeKind = iota
	NodeTerm
	NodePhrase
	NodeWildcard
	NodeField
	NodeAnd
	NodeOr
	NodeNot
	NodeBoost
)

// QueryNode is one node of the parsed query tree.
type QueryNode struct {
	Kind     NodeKind
	Field    string       // set for NodeField; the field restricted to
	Term     string       // analyzed term, for NodeTerm/NodeWildcard
	Terms    []string     // analyzed terms in order, for NodePhrase
	Boost    float64      // set for NodeBoost
	Children []*QueryNode // operands, for NodeAnd/NodeOr/NodeNot/NodeField/NodeBoost
}

func boostNode(child *QueryNode, boost float64) *QueryNode {
	if boost == 1.0 {
		return child
	}
	return &QueryNode{Kind: NodeBoost, Boost: boost, Children: []*QueryNode{child}}
}

// QueryParser parses raw query strings into a QueryNode tree, applying
// field boosts and falling back to a disjunctive default-fanout query on
// syntax errors. It is stateless and safe for concurrent use.
type QueryParser struct {
	boosts   BoostTable
	analyzer *analysis.Analyzer
}

// NewQueryParser constructs a parser with the given boost table. A nil
// table uses DefaultBoostTable.
func NewQueryParser(boosts BoostTable) *QueryParser {
	if boosts == nil {
		boosts = DefaultBoostTable()
	}
	return &QueryParser{boosts: boosts, analyzer: analysis.New()}
}

// Parse parses q into a query tree. Null/empty/whitespace-only queries
// return a match-all sentinel. On syntax error, it falls back to a
// disjunction of one analyzed-term arm per default field (never returns an
// error to the caller; the request
// must still succeed).
func (p *QueryParser) Parse(q string) *QueryNode {
	if strings.TrimSpace(q) == "" {
		return &QueryNode{Kind: NodeMatchAll}
	}

	node, err := p.parseStrict(q)
	if err != nil {
		return p.fallback(q)
	}
	return node
}

// IsValid reports whether q is accepted by the strict-mode parser.
// Null/empty query is treated as valid.
func (p *QueryParser) IsValid(q string) bool {
	if strings.TrimSpace(q) == "" {
		return true
	}
	_, err := p.parseStrict(q)
	return err == nil
}

// fallback builds the disjunction of fallback sub-queries: one analyzed-term
// arm per default field with its configured boost.
func (p *QueryParser) fallback(q string) *QueryNode {
	terms := p.analyzer.Analyze(q)
	term := strings.ToLower(strings.TrimSpace(q))
	if len(terms) > 0 {
		term = terms[0]
	}
	return p.defaultFanout(term)
}

// defaultFanout expands a bare analyzed term into a disjunction across
// DefaultFanoutFields, each arm boost-wrapped per the boost table.
func (p *QueryParser) defaultFanout(term string) *QueryNode {
	arms := make([]*QueryNode, 0, len(DefaultFanoutFields))
	for _, field := range DefaultFanoutFields {
		arm := &QueryNode{Kind: NodeField, Field: field, Children: []*QueryNode{{Kind: NodeTerm, Term: term}}}
		arms = append(arms, boostNode(arm, p.boosts.boostOf(field)))
	}
	if len(arms) == 1 {
		return arms[0]
	}
	return &QueryNode{Kind: NodeOr, Children: arms}
}

// --- recursive-descent parser over the query grammar ---

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
	tokColon
	tokPhrase
	tokWord
)

type lexToken struct {
	kind tokenKind
	text string
}

type lexer struct {
	runes []rune
	pos   int
}

func newLexer(s string) *lexer { return &lexer{runes: []rune(s)} }

func (l *lexer) peekRune() (rune, bool) {
	if l.pos >= len(l.runes) {
		return 0, false
	}
	return l.runes[l.pos], true
}

func (l *lexer) next() (lexToken, error) {
	l.skipSpace()
	r, ok := l.peekRune()
	if !ok {
		return lexToken{kind: tokEOF}, nil
	}

	switch r {
	case '(':
		l.pos++
		return lexToken{kind: tokLParen}, nil
	case ')':
		l.pos++
		return lexToken{kind: tokRParen}, nil
	case ':':
		l.pos++
		return lexToken{kind: tokColon}, nil
	case '"':
		return l.lexPhrase()
	}

	word := l.lexWord()
	if word == "" {
		return lexToken{}, fmt.Errorf("unexpected character %q", r)
	}
	switch word {
	case "AND":
		return lexToken{kind: tokAnd}, nil
	case "OR":
		return lexToken{kind: tokOr}, nil
	case "NOT":
		return lexToken{kind: tokNot}, nil
	}
	return lexToken{kind: tokWord, text: word}, nil
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.runes) && (l.runes[l.pos] == ' ' || l.runes[l.pos] == '\t' || l.runes[l.pos] == '\n') {
		l.pos++
	}
}

func (l *lexer) lexPhrase() (lexToken, error) {
	l.pos++ // consume opening quote
	start := l.pos
	for l.pos < len(l.runes) && l.runes[l.pos] != '"' {
		l.pos++
	}
	if l.pos >= len(l.runes) {
		return lexToken{}, fmt.Errorf("unterminated phrase")
	}
	text := string(l.runes[start:l.pos])
	l.pos++ // consume closing quote
	return lexToken{kind: tokPhrase, text: text}, nil
}

func isWordRune(r rune) bool {
	switch r {
	case '(', ')', ':', '"', ' ', '\t', '\n':
		return false
	default:
		return true
	}
}

func (l *lexer) lexWord() string {
	start := l.pos
	for l.pos < len(l.runes) && isWordRune(l.runes[l.pos]) {
		l.pos++
	}
	return string(l.runes[start:l.pos])
}

// parser is a single-use recursive-descent parser instance.
type parser struct {
	lex *lexer
	cur lexToken
	qp  *QueryParser
}

func (p *QueryParser) parseStrict(q string) (*QueryNode, error) {
	pp := &parser{lex: newLexer(q), qp: p}
	if err := pp.advance(); err != nil {
		return nil, err
	}
	node, err := pp.parseOr()
	if err != nil {
		return nil, err
	}
	if pp.cur.kind != tokEOF {
		return nil, fmt.Errorf("unexpected trailing input near %q", pp.cur.text)
	}
	return node, nil
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = tok
	return nil
}

func (p *parser) parseOr() (*QueryNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	children := []*QueryNode{left}
	for p.cur.kind == tokOr {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return &QueryNode{Kind: NodeOr, Children: children}, nil
}

func (p *parser) parseAnd() (*QueryNode, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	children := []*QueryNode{left}
	for {
		if p.cur.kind == tokAnd {
			if err := p.advance(); err != nil {
				return nil, err
			}
			right, err := p.parseNot()
			if err != nil {
				return nil, err
			}
			children = append(children, right)
			continue
		}
		// Implicit AND between adjacent primaries (e.g. `foo bar`).
		if p.startsPrimary() {
			right, err := p.parseNot()
			if err != nil {
				return nil, err
			}
			children = append(children, right)
			continue
		}
		break
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return &QueryNode{Kind: NodeAnd, Children: children}, nil
}

func (p *parser) startsPrimary() bool {
	switch p.cur.kind {
	case tokLParen, tokPhrase, tokWord:
		return true
	default:
		return false
	}
}

func (p *parser) parseNot() (*QueryNode, error) {
	if p.cur.kind == tokNot {
		if err := p.advance(); err != nil {
			return nil, err
		}
		child, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &QueryNode{Kind: NodeNot, Children: []*QueryNode{child}}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (*QueryNode, error) {
	switch p.cur.kind {
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		node, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.cur.kind != tokRParen {
			return nil, fmt.Errorf("expected closing parenthesis")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return node, nil
	case tokPhrase:
		text := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.qp.phraseOrFieldNode("", text), nil
	case tokWord:
		word := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.kind == tokColon {
			if err := p.advance(); err != nil {
				return nil, err
			}
			return p.parseFieldValue(word)
		}
		return p.qp.bareTermNode(word), nil
	default:
		return nil, fmt.Errorf("unexpected token")
	}
}

func (p *parser) parseFieldValue(field string) (*QueryNode, error) {
	switch p.cur.kind {
	case tokPhrase:
		text := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.qp.phraseOrFieldNode(field, text), nil
	case tokWord:
		value := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.qp.fieldTermNode(field, value), nil
	default:
		return nil, fmt.Errorf("expected field value")
	}
}

// bareTermNode builds the default-fanout disjunction for an un-field-qualified term.
func (p *QueryParser) bareTermNode(raw string) *QueryNode {
	if strings.ContainsAny(raw, "*?") {
		return p.defaultFanoutWildcard(raw)
	}
	terms := p.analyzer.Analyze(raw)
	if len(terms) == 0 {
		terms = []string{strings.ToLower(raw)}
	}
	return p.defaultFanout(terms[0])
}

func (p *QueryParser) defaultFanoutWildcard(raw string) *QueryNode {
	lower := strings.ToLower(raw)
	arms := make([]*QueryNode, 0, len(DefaultFanoutFields))
	for _, field := range DefaultFanoutFields {
		arm := &QueryNode{Kind: NodeField, Field: field, Children: []*QueryNode{{Kind: NodeWildcard, Term: lower}}}
		arms = append(arms, boostNode(arm, p.boosts.boostOf(field)))
	}
	return &QueryNode{Kind: NodeOr, Children: arms}
}

// fieldTermNode builds a single field-qualified term/wildcard node.
func (p *QueryParser) fieldTermNode(field, value string) *QueryNode {
	kind := NodeTerm
	term := value
	if strings.ContainsAny(value, "*?") {
		kind = NodeWildcard
		term = strings.ToLower(value)
	} else {
		terms := p.analyzer.Analyze(value)
		if len(terms) > 0 {
			term = terms[0]
		} else {
			term = strings.ToLower(value)
		}
	}
	node := &QueryNode{Kind: NodeField, Field: field, Children: []*QueryNode{{Kind: kind, Term: term}}}
	return boostNode(node, p.boosts.boostOf(field))
}

// phraseOrFieldNode builds a phrase query, analyzed but position-ordered,
// optionally restricted to a field.
func (p *QueryParser) phraseOrFieldNode(field, text string) *QueryNode {
	terms := p.analyzer.Analyze(text)
	phrase := &QueryNode{Kind: NodePhrase, Terms: terms}
	if field == "" {
		// Bare phrase: fan out across default fields like a bare term.
		arms := make([]*QueryNode, 0, len(DefaultFanoutFields))
		for _, f := range DefaultFanoutFields {
			arm := &QueryNode{Kind: NodeField, Field: f, Children: []*QueryNode{{Kind: NodePhrase, Terms: terms}}}
			arms = append(arms, boostNode(arm, p.boosts.boostOf(f)))
		}
		return &QueryNode{Kind: NodeOr, Children: arms}
	}
	node := &QueryNode{Kind: NodeField, Field: field, Children: []*QueryNode{phrase}}
	return boostNode(node, p.boosts.boostOf(field))
}
