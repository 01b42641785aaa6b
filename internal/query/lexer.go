package query

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenType int

const (
	tEOF tokenType = iota
	tWord
	tString // quoted with ' or "
	tIdent  // quoted with `
	tSymbol // , = *
)

type token struct {
	typ tokenType
	val string
	pos int
}

// is reports whether t is a bare word equal to kw, ignoring case.
func (t token) is(kw string) bool {
	return t.typ == tWord && strings.EqualFold(t.val, kw)
}

type lexer struct {
	s   string
	pos int
}

func (lx *lexer) peek() rune {
	if lx.pos >= len(lx.s) {
		return 0
	}

	r, _ := utf8.DecodeRuneInString(lx.s[lx.pos:])

	return r
}

func (lx *lexer) next() rune {
	if lx.pos >= len(lx.s) {
		return 0
	}

	r, size := utf8.DecodeRuneInString(lx.s[lx.pos:])
	lx.pos += size

	return r
}

// tokenize splits s into tokens. It never fails: an unterminated quote runs
// to the end of input.
func tokenize(s string) []token {
	lx := &lexer{s: s}

	var out []token

	for {
		tok := lx.nextToken()
		out = append(out, tok)

		if tok.typ == tEOF {
			return out
		}
	}
}

func (lx *lexer) nextToken() token {
	for unicode.IsSpace(lx.peek()) {
		lx.next()
	}

	start := lx.pos

	r := lx.peek()
	switch {
	case r == 0:
		return token{typ: tEOF, pos: start}
	case r == '\'' || r == '"':
		return token{typ: tString, val: lx.quoted(r), pos: start}
	case r == '`':
		return token{typ: tIdent, val: lx.quoted(r), pos: start}
	case r == ',' || r == '=' || r == '*':
		lx.next()
		return token{typ: tSymbol, val: string(r), pos: start}
	}

	var sb strings.Builder

	for {
		ch := lx.peek()
		if ch == 0 || unicode.IsSpace(ch) || strings.ContainsRune(",=*'\"`", ch) {
			break
		}

		sb.WriteRune(lx.next())
	}

	return token{typ: tWord, val: sb.String(), pos: start}
}

// quoted consumes a literal delimited by q. A doubled delimiter stands for
// one literal delimiter.
func (lx *lexer) quoted(q rune) string {
	lx.next()

	var sb strings.Builder

	for {
		ch := lx.next()
		if ch == 0 {
			return sb.String()
		}

		if ch == q {
			if lx.peek() == q {
				lx.next()
				sb.WriteRune(q)

				continue
			}

			return sb.String()
		}

		sb.WriteRune(ch)
	}
}
