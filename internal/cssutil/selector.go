package cssutil

import (
	"strings"

	"github.com/tdewolff/parse/v2/css"
)

// statefulPseudoClasses depend on user interaction or navigation history, so they never
// hold on a page that has only just loaded. The rule is still critical if the element
// it targets is above the fold.
var statefulPseudoClasses = map[string]bool{
	"hover":         true,
	"active":        true,
	"focus":         true,
	"focus-within":  true,
	"focus-visible": true,
	"visited":       true,
	"target":        true,
	"target-within": true,
	"user-invalid":  true,
	"user-valid":    true,
	"playing":       true,
	"paused":        true,
	"fullscreen":    true,
}

// legacyPseudoElements may be written with a single colon.
var legacyPseudoElements = map[string]bool{
	"before":       true,
	"after":        true,
	"first-line":   true,
	"first-letter": true,
}

// selectorListPseudos take a selector list as their argument.
var selectorListPseudos = map[string]bool{
	"not":     true,
	"is":      true,
	"where":   true,
	"matches": true,
	"has":     true,
}

// SimplifySelector strips pseudo-elements, stateful pseudo-classes and vendor-prefixed
// pseudos from a single complex selector so that querySelectorAll can match the
// elements the original rule would style. A compound left empty becomes "*".
//
//	"a:hover > span::before" -> "a > span"
//	"::selection"            -> "*"
//
// Selector-list arguments are simplified entry by entry. A :not() whose argument
// loses anything is dropped whole, since negating a weakened selector would exclude
// elements the original matches. An :is(), :where() or :has() with an entry that
// simplifies to "*" is dropped whole too, as it then constrains nothing.
func SimplifySelector(selector string) string {
	tokens := tokenize(selector)
	var b strings.Builder

	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		if t.tt != css.ColonToken {
			b.WriteString(t.data)
			continue
		}

		// Count the colons: "::" introduces a pseudo-element.
		j := i + 1
		doubleColon := false
		if j < len(tokens) && tokens[j].tt == css.ColonToken {
			doubleColon = true
			j++
		}
		if j >= len(tokens) {
			b.WriteString(t.data)
			continue
		}

		name, isFunction := pseudoName(tokens[j])
		if name == "" {
			b.WriteString(t.data)
			continue
		}

		drop := doubleColon ||
			legacyPseudoElements[name] ||
			statefulPseudoClasses[name] ||
			strings.HasPrefix(name, "-")

		end := j
		if isFunction {
			end = matchingParen(tokens, j)
		}

		if !drop && isFunction && selectorListPseudos[name] {
			args, keep := simplifyArguments(name, joinTokens(tokens[j+1:end]))
			if keep {
				b.WriteString(t.data)
				b.WriteString(tokens[j].data)
				b.WriteString(args)
				b.WriteByte(')')
				i = end
				continue
			}
			drop = true
		}
		if !drop {
			b.WriteString(t.data)
			continue
		}

		if compoundIsEmpty(b.String()) && !continuesCompound(tokens, end+1) {
			b.WriteByte('*')
		}
		i = end
	}

	return strings.TrimSpace(b.String())
}

// simplifyArguments simplifies the selector list argument of the named pseudo-class.
// It reports false when the whole pseudo-class has to go.
func simplifyArguments(name, args string) (string, bool) {
	entries := SplitSelectorList(args)
	simplified := make([]string, 0, len(entries))
	for _, entry := range entries {
		original := strings.TrimSpace(entry)
		entry = SimplifySelector(original)
		if name == "not" && entry != original {
			return "", false
		}
		if entry == "*" && original != "*" {
			return "", false
		}
		simplified = append(simplified, entry)
	}
	if len(simplified) == 0 {
		return args, true
	}
	return strings.Join(simplified, ", "), true
}

func joinTokens(tokens []token) string {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteString(t.data)
	}
	return b.String()
}

// pseudoName returns the lowercased name of the pseudo starting at t.
func pseudoName(t token) (string, bool) {
	switch t.tt {
	case css.IdentToken:
		return strings.ToLower(t.data), false
	case css.FunctionToken:
		return strings.ToLower(strings.TrimSuffix(t.data, "(")), true
	}
	return "", false
}

// matchingParen returns the index of the token closing the function opened at start.
func matchingParen(tokens []token, start int) int {
	depth := 0
	for k := start; k < len(tokens); k++ {
		switch tokens[k].tt {
		case css.FunctionToken, css.LeftParenthesisToken:
			depth++
		case css.RightParenthesisToken:
			depth--
			if depth == 0 {
				return k
			}
		}
	}
	return len(tokens) - 1
}

// compoundIsEmpty reports whether the selector text written so far ends between compounds.
func compoundIsEmpty(written string) bool {
	trimmed := strings.TrimRight(written, " \t\n\r\f")
	if trimmed == "" || len(trimmed) != len(written) {
		return true
	}
	switch trimmed[len(trimmed)-1] {
	case '>', '+', '~', ',', '(':
		return true
	}
	return false
}

// continuesCompound reports whether the token at i extends the current compound selector,
// in which case no universal selector is needed.
func continuesCompound(tokens []token, i int) bool {
	if i >= len(tokens) {
		return false
	}
	t := tokens[i]
	switch t.tt {
	case css.HashToken, css.LeftBracketToken:
		return true
	case css.ColonToken:
		// A following pseudo that survives keeps the compound non-empty; one that is
		// dropped will insert "*" itself.
		return false
	case css.DelimToken:
		return t.data == "."
	}
	return false
}
