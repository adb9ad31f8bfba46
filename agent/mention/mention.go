// Package mention finds @name references to registered agents in free text.
//
// A candidate is '@' followed by a run of word characters that is not preceded
// by a word character (so user@example.com is not a candidate) and not followed
// by a literal dot (so @example.com is not either). Only candidates whose
// lowercase form names a registered agent are accepted; everything else is
// left in the text untouched.
package mention

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Names is a snapshot of registered agent names, stored lowercase.
type Names map[string]struct{}

// NewNames builds a snapshot from names.
func NewNames(names ...string) Names {
	n := make(Names, len(names))
	for _, name := range names {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			n[name] = struct{}{}
		}
	}
	return n
}

// Has reports whether name (any case) is registered.
func (n Names) Has(name string) bool {
	_, ok := n[strings.ToLower(name)]
	return ok
}

// Result is the outcome of Extract.
type Result struct {
	// Agents in first-seen order, lowercase, without duplicates.
	Agents []string
	// Text with accepted mentions removed and trimmed.
	Text string
}

// token is one candidate occurrence in the source text.
type token struct {
	start, end int // byte offsets of "@name"
	name       string
}

// scan returns every candidate token in text.
func scan(text string) []token {
	var out []token
	for i := 0; i < len(text); {
		if text[i] != '@' {
			_, size := utf8.DecodeRuneInString(text[i:])
			i += size
			continue
		}
		if i > 0 {
			prev, _ := utf8.DecodeLastRuneInString(text[:i])
			if isWord(prev) {
				i++
				continue
			}
		}
		j := i + 1
		for j < len(text) {
			r, size := utf8.DecodeRuneInString(text[j:])
			if !isWord(r) {
				break
			}
			j += size
		}
		if j == i+1 {
			i++
			continue
		}
		if j < len(text) && text[j] == '.' {
			i = j
			continue
		}
		out = append(out, token{start: i, end: j, name: text[i+1 : j]})
		i = j
	}
	return out
}

func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Extract returns the registered agents mentioned in text and the text with
// those mentions stripped.
func Extract(text string, names Names) Result {
	tokens := scan(text)
	res := Result{Agents: []string{}}
	seen := make(map[string]bool)
	var accepted []token
	for _, tok := range tokens {
		lower := strings.ToLower(tok.name)
		if !names.Has(lower) {
			continue
		}
		accepted = append(accepted, tok)
		if !seen[lower] {
			seen[lower] = true
			res.Agents = append(res.Agents, lower)
		}
	}
	res.Text = strings.TrimSpace(strip(text, accepted))
	return res
}

// Agents returns only the mentioned agents.
func Agents(text string, names Names) []string {
	return Extract(text, names).Agents
}

// Strip removes accepted mentions of registered agents from text.
func Strip(text string, names Names) string {
	return Extract(text, names).Text
}

// strip cuts the given tokens out of text. A space directly following a
// removed token is dropped as well so "@a @b do X" becomes "do X".
func strip(text string, tokens []token) string {
	if len(tokens) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, tok := range tokens {
		if tok.start < last {
			continue
		}
		b.WriteString(text[last:tok.start])
		last = tok.end
		for last < len(text) && (text[last] == ' ' || text[last] == '\t') {
			last++
		}
	}
	b.WriteString(text[last:])
	return b.String()
}
