// Package cssutil holds the small pieces of CSS text processing the extractor needs:
// normalising rule text for deduplication, simplifying selectors so they can be matched
// against a freshly loaded DOM, and rebasing relative url() references.
package cssutil

import (
	"strings"

	parse "github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
)

// token is a lexed CSS token with its data copied out of the lexer buffer.
type token struct {
	tt   css.TokenType
	data string
}

// tokenize lexes s completely. The lexer reuses its buffer, so data is copied.
func tokenize(s string) []token {
	lexer := css.NewLexer(parse.NewInputString(s))
	var tokens []token
	for {
		tt, data := lexer.Next()
		if tt == css.ErrorToken {
			return tokens
		}
		tokens = append(tokens, token{tt: tt, data: string(data)})
	}
}

// tightPunctuation never needs surrounding whitespace to keep its meaning.
var tightPunctuation = map[css.TokenType]bool{
	css.LeftBraceToken:  true,
	css.RightBraceToken: true,
	css.SemicolonToken:  true,
	css.CommaToken:      true,
}

func isTight(t token) bool {
	if tightPunctuation[t.tt] {
		return true
	}
	return t.tt == css.DelimToken && t.data == ">"
}

// Normalize collapses whitespace and drops comments so that textually equivalent
// rules produce the same key. Whitespace next to braces, semicolons, commas and the
// child combinator is removed entirely, as is whitespace after a colon. Whitespace
// before a colon is kept: "a :hover" and "a:hover" are different selectors.
func Normalize(s string) string {
	var b strings.Builder
	var prev *token
	pendingSpace := false
	for _, t := range tokenize(s) {
		switch t.tt {
		case css.CommentToken:
			continue
		case css.WhitespaceToken:
			pendingSpace = true
			continue
		}
		if pendingSpace && prev != nil && prev.tt != css.ColonToken && !isTight(*prev) && !isTight(t) {
			b.WriteByte(' ')
		}
		pendingSpace = false
		b.WriteString(t.data)
		current := t
		prev = &current
	}
	return b.String()
}

// SplitSelectorList splits a selector list on commas that are not nested inside
// parentheses or brackets, e.g. "a, b:is(c, d)" yields ["a", "b:is(c, d)"].
func SplitSelectorList(selector string) []string {
	var (
		parts []string
		b     strings.Builder
		depth int
	)
	for _, t := range tokenize(selector) {
		switch t.tt {
		case css.LeftParenthesisToken, css.FunctionToken, css.LeftBracketToken:
			depth++
		case css.RightParenthesisToken, css.RightBracketToken:
			if depth > 0 {
				depth--
			}
		case css.CommaToken:
			if depth == 0 {
				if part := strings.TrimSpace(b.String()); part != "" {
					parts = append(parts, part)
				}
				b.Reset()
				continue
			}
		}
		b.WriteString(t.data)
	}
	if part := strings.TrimSpace(b.String()); part != "" {
		parts = append(parts, part)
	}
	return parts
}
