package cssutil

import (
	"net/url"
	"strings"

	"github.com/tdewolff/parse/v2/css"
)

// RebaseURLs rewrites relative url() references in rule text so they resolve against
// base, the URL of the stylesheet the rule came from. Data URIs, fragment-only
// references and absolute URLs are left alone. An empty or unparsable base returns
// text unchanged.
func RebaseURLs(text, base string) string {
	if base == "" || !strings.Contains(strings.ToLower(text), "url(") {
		return text
	}
	baseURL, err := url.Parse(base)
	if err != nil || !baseURL.IsAbs() {
		return text
	}

	tokens := tokenize(text)
	var b strings.Builder
	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		switch {
		case t.tt == css.URLToken && len(t.data) > len("url(") && strings.HasSuffix(t.data, ")"):
			// Unquoted form: url(images/a.png)
			inner := strings.TrimSpace(t.data[len("url(") : len(t.data)-1])
			if ref, ok := resolve(baseURL, unquote(inner)); ok {
				b.WriteString(urlFunction(ref))
			} else {
				b.WriteString(t.data)
			}

		case t.tt == css.FunctionToken && strings.EqualFold(t.data, "url("):
			// Quoted form: url("images/a.png")
			j := skipWhitespace(tokens, i+1)
			k := skipWhitespace(tokens, j+1)
			if j < len(tokens) && tokens[j].tt == css.StringToken &&
				k < len(tokens) && tokens[k].tt == css.RightParenthesisToken {
				if ref, ok := resolve(baseURL, unquote(tokens[j].data)); ok {
					b.WriteString(urlFunction(ref))
					i = k
					continue
				}
			}
			b.WriteString(t.data)

		default:
			b.WriteString(t.data)
		}
	}
	return b.String()
}

func skipWhitespace(tokens []token, i int) int {
	for i < len(tokens) && tokens[i].tt == css.WhitespaceToken {
		i++
	}
	return i
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// urlFunction serialises ref the way browsers do, as a double-quoted url().
// Resolved references are percent-encoded, so only quotes and backslashes need escaping.
func urlFunction(ref string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(ref)
	return `url("` + escaped + `")`
}

// resolve returns the absolute form of ref and whether it differs from the input.
func resolve(base *url.URL, ref string) (string, bool) {
	lower := strings.ToLower(ref)
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(lower, "data:") {
		return ref, false
	}
	parsed, err := url.Parse(ref)
	if err != nil || parsed.IsAbs() {
		return ref, false
	}
	return base.ResolveReference(parsed).String(), true
}
