package query

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Token is a word located in a text, with byte offsets into that text.
type Token struct {
	Text  string // Case- and diacritic-folded
	Start int
	End   int
}

// isTokenRune approximates the FTS5 unicode61 tokenizer: letters, digits,
// private-use characters and combining marks are token characters,
// everything else separates.
func isTokenRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.In(r, unicode.Co, unicode.Mn)
}

// fold lowercases s and strips its diacritics, as unicode61 does with its
// default remove_diacritics setting.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// Tokenize splits text the way the full-text index does.
func Tokenize(text []byte) []Token {
	var tokens []Token
	start := -1
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRune(text[i:])
		if isTokenRune(r) {
			if start < 0 {
				start = i
			}
		} else if start >= 0 {
			tokens = append(tokens, Token{Text: fold(string(text[start:i])), Start: start, End: i})
			start = -1
		}
		i += size
	}
	if start >= 0 {
		tokens = append(tokens, Token{Text: fold(string(text[start:])), Start: start, End: len(text)})
	}
	return tokens
}

var matchOperators = map[string]bool{"AND": true, "OR": true, "NOT": true, "NEAR": true}

// ParseTerms extracts the search terms of an FTS5 match expression in order
// of first appearance. Operators, column filters and syntax characters are
// dropped; a trailing '*' marks a prefix term, including after a closing
// quote ("bro"*), where it applies to the phrase's last word. Duplicate
// terms collapse to their first index.
func ParseTerms(expr string) []Term {
	var (
		terms   []Term
		seen    = map[Term]bool{}
		inQuote bool
	)
	b := []byte(expr)
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == '"' {
			inQuote = !inQuote
			i += size
			continue
		}
		if !isTokenRune(r) {
			i += size
			continue
		}

		j := i
		for j < len(b) {
			r2, s2 := utf8.DecodeRune(b[j:])
			if !isTokenRune(r2) {
				break
			}
			j += s2
		}
		word := string(b[i:j])
		i = j

		if j < len(b) && b[j] == ':' && !inQuote {
			i = j + 1
			continue
		}
		if !inQuote && matchOperators[word] {
			continue
		}
		prefix := (j < len(b) && b[j] == '*') ||
			(inQuote && j+1 < len(b) && b[j] == '"' && b[j+1] == '*')
		t := Term{Text: fold(word), Prefix: prefix}
		if !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}
	return terms
}

// Span is one located term match: which term, and where in the text.
type Span struct {
	TermIndex int
	Start     int
	Length    int
}

// Locate finds every token of text matching one of terms. Spans are ordered
// by Start and satisfy Start+Length <= len(text).
func Locate(text []byte, terms []Term) []Span {
	if len(terms) == 0 || len(text) == 0 {
		return nil
	}
	var spans []Span
	for _, tok := range Tokenize(text) {
		for idx, term := range terms {
			if tok.Text == term.Text || (term.Prefix && strings.HasPrefix(tok.Text, term.Text)) {
				spans = append(spans, Span{TermIndex: idx, Start: tok.Start, Length: tok.End - tok.Start})
				break
			}
		}
	}
	return spans
}
