// Package mediaquery decides whether a chain of enclosing media conditions can ever
// apply to an on-screen rendering context.
package mediaquery

import (
	"strings"

	parse "github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
)

// screenTypes are the media types an on-screen browsing context matches.
var screenTypes = map[string]bool{
	"screen": true,
	"all":    true,
}

// Query is one comma-separated entry of a media query list, reduced to the parts
// that matter for screen relevance.
type Query struct {
	Raw     string
	Type    string // lowercased media type, empty for feature-only queries
	Negated bool
	Invalid bool
}

// IsScreenRelevant reports whether a rule wrapped in chain (outermost first) can apply
// on screen. Every link must be relevant; an empty chain is always relevant.
func IsScreenRelevant(chain []string) bool {
	for _, link := range chain {
		if !IsLinkRelevant(link) {
			return false
		}
	}
	return true
}

// IsLinkRelevant reports whether a single media query list can match a screen.
// A list matches when any of its queries does; an empty list means no restriction.
func IsLinkRelevant(mediaText string) bool {
	if strings.TrimSpace(mediaText) == "" {
		return true
	}
	for _, q := range ParseList(mediaText) {
		if q.screenRelevant() {
			return true
		}
	}
	return false
}

func (q Query) screenRelevant() bool {
	if q.Invalid {
		// Invalid queries evaluate to "not all".
		return false
	}
	if q.Type == "" {
		// Feature-only queries ("(min-width: 40em)", "not (hover)") may hold on screen.
		return true
	}
	if q.Negated {
		return !screenTypes[q.Type]
	}
	return screenTypes[q.Type]
}

// ParseList splits a media query list on top-level commas and parses each entry.
func ParseList(mediaText string) []Query {
	var (
		queries []Query
		current []css.Token
		raw     strings.Builder
		depth   int
	)
	flush := func() {
		queries = append(queries, parseQuery(strings.TrimSpace(raw.String()), current))
		current = nil
		raw.Reset()
	}

	lexer := css.NewLexer(parse.NewInputString(mediaText))
	for {
		tt, data := lexer.Next()
		if tt == css.ErrorToken {
			break
		}
		switch tt {
		case css.LeftParenthesisToken, css.FunctionToken:
			depth++
		case css.RightParenthesisToken:
			if depth > 0 {
				depth--
			}
		case css.CommaToken:
			if depth == 0 {
				flush()
				continue
			}
		case css.CommentToken:
			continue
		}
		raw.Write(data)
		current = append(current, css.Token{TokenType: tt, Data: append([]byte(nil), data...)})
	}
	flush()
	return queries
}

// parseQuery reads the "[only | not] type [and ...]" prefix of a single query.
// Tokens inside parentheses are media features and do not affect the type.
func parseQuery(raw string, tokens []css.Token) Query {
	q := Query{Raw: raw}

	var idents []string
	depth := 0
	sawParen := false
	for _, t := range tokens {
		switch t.TokenType {
		case css.LeftParenthesisToken, css.FunctionToken:
			if depth == 0 && len(idents) == 0 {
				sawParen = true
			}
			depth++
		case css.RightParenthesisToken:
			depth--
		case css.IdentToken:
			if depth == 0 {
				idents = append(idents, strings.ToLower(string(t.Data)))
			}
		case css.WhitespaceToken:
		default:
			if depth == 0 {
				q.Invalid = true
			}
		}
	}

	if len(idents) == 0 {
		if !sawParen {
			q.Invalid = true
		}
		return q
	}

	i := 0
	switch idents[0] {
	case "only":
		i = 1
	case "not":
		q.Negated = true
		i = 1
	}
	if i >= len(idents) {
		// "not (hover)" negates a condition, not a type.
		if !sawParen && !hasParen(tokens) {
			q.Invalid = true
		}
		q.Negated = false
		return q
	}
	if idents[i] == "and" || idents[i] == "or" {
		// Leading feature list such as "(color) and (hover)".
		q.Negated = false
		return q
	}
	q.Type = idents[i]
	return q
}

func hasParen(tokens []css.Token) bool {
	for _, t := range tokens {
		if t.TokenType == css.LeftParenthesisToken || t.TokenType == css.FunctionToken {
			return true
		}
	}
	return false
}
