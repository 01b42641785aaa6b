package query

import (
	"errors"
	"fmt"
)

var (
	// ErrSyntax is returned in strict mode when the query does not match the
	// grammar.
	ErrSyntax = errors.New("query syntax error")

	// ErrUnknownColumn is returned in strict mode when a column reference
	// matches neither a header nor a valid 1-based index.
	ErrUnknownColumn = errors.New("unknown column")
)

// ColumnRef is a column reference as written in the query: a header name or
// a 1-based column number.
type ColumnRef struct {
	Name string

	// Quoted is set when the reference was written in quotes or backticks.
	Quoted bool
}

// Condition is an equality predicate. Value is compared verbatim against
// the cell text.
type Condition struct {
	Column ColumnRef
	Value  string
}

// Query is a parsed query.
//
//	SELECT (* | col[, col...]) [FROM name] [WHERE col = value (AND col = value)*] [ORDER BY col [ASC|DESC]]
type Query struct {
	Star    bool
	Columns []ColumnRef
	From    string
	Where   []Condition
	OrderBy *ColumnRef
	Desc    bool
}

// Parse parses text.
//
// Keywords are case-insensitive. Column names may span several words
// ("first name") or be quoted with backticks. Literals may be quoted with
// single or double quotes, which are stripped; unquoted literals run up to
// the next AND, ORDER BY or end of input and keep the whitespace between
// their words as written.
//
// In lenient mode Parse never fails: a query without SELECT selects all
// columns, conditions without "=" are dropped, and trailing garbage is
// ignored. In strict mode those cases return [ErrSyntax].
func Parse(text string, opts Options) (*Query, error) {
	p := &parser{text: text, toks: tokenize(text), strict: opts.Strict}

	q, err := p.parse()
	if err != nil {
		return nil, err
	}

	return q, nil
}

type parser struct {
	text   string
	toks   []token
	i      int
	strict bool
}

func (p *parser) cur() token {
	return p.peek(0)
}

func (p *parser) peek(n int) token {
	if p.i+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}

	return p.toks[p.i+n]
}

func (p *parser) advance() token {
	t := p.cur()
	if p.i < len(p.toks)-1 {
		p.i++
	}

	return t
}

func (p *parser) errf(format string, args ...any) error {
	return fmt.Errorf("%w: at offset %d: %s", ErrSyntax, p.cur().pos, fmt.Sprintf(format, args...))
}

func (p *parser) atEOF() bool {
	return p.cur().typ == tEOF
}

func (p *parser) atOrderBy() bool {
	return p.cur().is("ORDER") && p.peek(1).is("BY")
}

// atClause reports whether the current token starts a top-level clause.
func (p *parser) atClause() bool {
	return p.atEOF() || p.cur().is("FROM") || p.cur().is("WHERE") || p.atOrderBy()
}

func (p *parser) skipToClause() {
	for !p.atClause() {
		p.advance()
	}
}

func (p *parser) parse() (*Query, error) {
	q := &Query{}

	if p.cur().is("SELECT") {
		p.advance()

		err := p.parseProjection(q)
		if err != nil {
			return nil, err
		}
	} else {
		if p.strict {
			return nil, p.errf("expected SELECT")
		}

		q.Star = true
		p.skipToClause()
	}

	if p.cur().is("FROM") {
		p.advance()
		q.From = p.words(func() bool { return p.atClause() })
	}

	if p.cur().is("WHERE") {
		p.advance()

		err := p.parseWhere(q)
		if err != nil {
			return nil, err
		}
	}

	if p.atOrderBy() {
		p.advance()
		p.advance()

		err := p.parseOrderBy(q)
		if err != nil {
			return nil, err
		}
	}

	if !p.atEOF() && p.strict {
		return nil, p.errf("unexpected %q", p.cur().val)
	}

	return q, nil
}

func (p *parser) parseProjection(q *Query) error {
	if t := p.cur(); t.typ == tSymbol && t.val == "*" {
		p.advance()
		q.Star = true

		if !p.atClause() {
			if p.strict {
				return p.errf("unexpected %q after *", p.cur().val)
			}

			p.skipToClause()
		}

		return nil
	}

	for {
		ref, ok := p.columnRef(func() bool { return p.atClause() || p.isSymbol(",") })
		if ok {
			q.Columns = append(q.Columns, ref)
		} else if p.strict {
			return p.errf("expected column")
		}

		if !p.isSymbol(",") {
			break
		}

		p.advance()
	}

	if !p.atClause() {
		if p.strict {
			return p.errf("unexpected %q in column list", p.cur().val)
		}

		p.skipToClause()
	}

	if len(q.Columns) == 0 {
		if p.strict {
			return p.errf("empty column list")
		}

		q.Star = true
	}

	return nil
}

func (p *parser) parseWhere(q *Query) error {
	endOfCond := func() bool { return p.atEOF() || p.atOrderBy() || p.cur().is("AND") }

	for {
		cond, err := p.condition(endOfCond)
		if err != nil {
			return err
		}

		if cond != nil {
			q.Where = append(q.Where, *cond)
		}

		if !p.cur().is("AND") {
			break
		}

		p.advance()
	}

	if !p.atEOF() && !p.atOrderBy() {
		if p.strict {
			return p.errf("unexpected %q in WHERE", p.cur().val)
		}

		for !p.atEOF() && !p.atOrderBy() {
			p.advance()
		}
	}

	return nil
}

// condition parses "col = literal". In lenient mode a malformed condition
// is skipped and nil is returned.
func (p *parser) condition(end func() bool) (*Condition, error) {
	ref, ok := p.columnRef(func() bool { return end() || p.isSymbol("=") })

	if !ok || !p.isSymbol("=") {
		if p.strict {
			return nil, p.errf("expected column = value")
		}

		for !end() {
			p.advance()
		}

		return nil, nil
	}

	p.advance()

	var value string

	switch t := p.cur(); t.typ {
	case tString, tIdent:
		value = t.val
		p.advance()
	default:
		value = p.words(end)
	}

	if !end() {
		if p.strict {
			return nil, p.errf("unexpected %q after value", p.cur().val)
		}

		for !end() {
			p.advance()
		}
	}

	return &Condition{Column: ref, Value: value}, nil
}

func (p *parser) parseOrderBy(q *Query) error {
	ref, ok := p.columnRef(func() bool { return p.atEOF() || p.cur().is("ASC") || p.cur().is("DESC") })
	if !ok {
		if p.strict {
			return p.errf("expected column after ORDER BY")
		}

		return nil
	}

	q.OrderBy = &ref

	switch {
	case p.cur().is("DESC"):
		q.Desc = true
		p.advance()
	case p.cur().is("ASC"):
		p.advance()
	}

	return nil
}

// columnRef reads a quoted identifier or a run of words ending where stop
// reports true.
func (p *parser) columnRef(stop func() bool) (ColumnRef, bool) {
	if t := p.cur(); (t.typ == tIdent || t.typ == tString) && !stop() {
		p.advance()
		return ColumnRef{Name: t.val, Quoted: true}, true
	}

	name := p.words(stop)
	if name == "" {
		return ColumnRef{}, false
	}

	return ColumnRef{Name: name}, true
}

// words consumes consecutive bare words until stop reports true or a
// non-word token is reached, and returns the input text they span, inner
// whitespace included.
func (p *parser) words(stop func() bool) string {
	start, end := -1, -1

	for !stop() && p.cur().typ == tWord {
		t := p.advance()
		if start < 0 {
			start = t.pos
		}

		end = t.pos + len(t.val)
	}

	if start < 0 {
		return ""
	}

	return p.text[start:end]
}

func (p *parser) isSymbol(s string) bool {
	t := p.cur()

	return t.typ == tSymbol && t.val == s
}
