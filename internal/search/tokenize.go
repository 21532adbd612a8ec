package search

import (
	"strings"
	"unicode"
)

// Tokenize splits a quicksearch expression into include and exclude
// terms. Double-quoted runs form a single token; a leading "-" or a
// trailing "!" marks an exclude and a leading "+" is dropped.
func Tokenize(expr string) (includes, excludes []string) {
	for _, tok := range splitQuoted(expr) {
		switch {
		case tok.text == "":
			continue
		case strings.HasPrefix(tok.text, "-") && len(tok.text) > 1:
			excludes = append(excludes, tok.text[1:])
		case tok.negated:
			excludes = append(excludes, tok.text)
		case strings.HasSuffix(tok.text, "!") && len(tok.text) > 1 && !tok.quoted:
			excludes = append(excludes, tok.text[:len(tok.text)-1])
		case strings.HasPrefix(tok.text, "+") && len(tok.text) > 1:
			includes = append(includes, tok.text[1:])
		default:
			includes = append(includes, tok.text)
		}
	}
	return includes, excludes
}

type token struct {
	text    string
	quoted  bool
	negated bool
}

func splitQuoted(expr string) []token {
	var (
		tokens  []token
		cur     strings.Builder
		quoted  bool
		inQuote bool
		negated bool
	)
	flush := func() {
		if cur.Len() > 0 || quoted {
			tokens = append(tokens, token{text: cur.String(), quoted: quoted, negated: negated})
		}
		cur.Reset()
		quoted, negated = false, false
	}
	for _, r := range expr {
		switch {
		case r == '"':
			if !inQuote && cur.String() == "-" {
				cur.Reset()
				negated = true
			}
			inQuote = !inQuote
			quoted = true
		case unicode.IsSpace(r) && !inQuote:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}
