package main

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jdkato/prose/tokenize"
)

// Word tokenization in the Penn Treebank style.
//
// The Treebank word tokenizer does the main split: clitics (n't, 's, 'll,
// ...) become their own tokens, brackets and sentence punctuation are
// separated, and straight double quotes turn into `` (opening) or ''
// (closing). Each of its tokens then goes through splitChunk, which peels
// off what the Treebank rules leave attached inside running text (periods
// before the next sentence, curly quotes, dashes, punctuation in front of a
// clitic). WordTokenize maps both quote artifacts back to a plain ".
//
// The output is a fixed point: tokenizing the space-joined tokens again
// gives the same tokens.
//
// Casing is left alone; Vocabulary decides whether lookups are lowercased.

const (
	openQuoteArtifact  = "``"
	closeQuoteArtifact = "''"
	plainQuote         = "\""
)

var treebank = tokenize.NewTreebankWordTokenizer()

// Span is a token together with its byte offsets in the source text.
// End is exclusive.
type Span struct {
	Text  string
	Start int
	End   int
}

// WordTokenize splits text into normalized word tokens.
func WordTokenize(text string) []string {
	spans := tokenSpans(text)
	if len(spans) == 0 {
		return nil
	}
	tokens := make([]string, len(spans))
	for i, s := range spans {
		tokens[i] = s.Text
	}
	return tokens
}

// normalizeQuote replaces the tokenizer's quote artifacts with ".
func normalizeQuote(token string) string {
	if token == openQuoteArtifact || token == closeQuoteArtifact {
		return plainQuote
	}
	return token
}

// clitics split off the end of a word, longest first.
var clitics = []string{"n't", "'ll", "'re", "'ve", "'s", "'m", "'d"}

func isClitic(s string) bool {
	for _, c := range clitics {
		if s == c {
			return true
		}
	}
	return false
}

// leading punctuation split off the front of a chunk one rune at a time.
func isLeadingPunct(r rune) bool {
	switch r {
	case '(', '[', '{', '<', '"', '\'', '`', '$', '#', '“', '‘', '«':
		return true
	}
	return false
}

func isTrailingPunct(r rune) bool {
	switch r {
	case ')', ']', '}', '>', '"', '\'', ',', ';', ':', '?', '!', '.', '%', '”', '’', '»':
		return true
	}
	return false
}

// isDash reports runes that always stand alone, even inside a word.
func isDash(r rune) bool {
	return r == '—' || r == '–'
}

// isQuoteRune reports source characters the tokenizer may emit as a quote
// artifact.
func isQuoteRune(r rune) bool {
	switch r {
	case '"', '“', '”', '„':
		return true
	}
	return false
}

// tokenSpans tokenizes text and keeps byte offsets for each token so that
// answer character positions can be mapped onto token indices. Offsets are
// recovered by scanning the source for each token in order.
func tokenSpans(text string) []Span {
	var spans []Span

	cursor := 0
	for _, tok := range treebank.Tokenize(text) {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		start, end := locateToken(text, tok, cursor)
		if text[start:end] == tok {
			spans = append(spans, splitChunk(tok, start)...)
			cursor = end
			continue
		}
		// Rewritten by the tokenizer, e.g. " emitted as ``: split the token
		// on its own and find each piece in the source.
		for _, piece := range splitChunk(tok, 0) {
			start, end = locateToken(text, piece.Text, cursor)
			spans = append(spans, Span{Text: piece.Text, Start: start, End: end})
			cursor = end
		}
	}

	for k := range spans {
		spans[k].Text = normalizeQuote(spans[k].Text)
	}
	return spans
}

// locateToken finds tok in text at or after cursor. A quote artifact matches
// a single quote character in the source. A token that cannot be found gets
// an empty span at the cursor.
func locateToken(text, tok string, cursor int) (start, end int) {
	i := cursor
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !unicode.IsSpace(r) {
			break
		}
		i += size
	}

	if strings.HasPrefix(text[i:], tok) {
		return i, i + len(tok)
	}
	if tok == openQuoteArtifact || tok == closeQuoteArtifact {
		if r, size := utf8.DecodeRuneInString(text[i:]); isQuoteRune(r) {
			return i, i + size
		}
	}
	if j := strings.Index(text[i:], tok); j >= 0 {
		return i + j, i + j + len(tok)
	}
	return i, i
}

// splitChunk tokenizes a whitespace-free chunk starting at byte offset base.
// Leading and trailing punctuation and a final clitic are peeled off
// repeatedly until the remaining word changes no more.
func splitChunk(chunk string, base int) []Span {
	// Dashes split a chunk into independent pieces.
	for idx, r := range chunk {
		if isDash(r) {
			size := utf8.RuneLen(r)
			out := splitChunk(chunk[:idx], base)
			out = append(out, Span{Text: chunk[idx : idx+size], Start: base + idx, End: base + idx + size})
			return append(out, splitChunk(chunk[idx+size:], base+idx+size)...)
		}
	}

	var head, tail []Span // tail is collected right to left
	lo, hi := 0, len(chunk)
	for {
		lo, head = peelLeading(chunk, base, lo, hi, head)
		hi, tail = peelTrailing(chunk, base, lo, hi, tail)
		if hi <= lo {
			break
		}
		split := cliticSplit(chunk[lo:hi])
		if split == 0 {
			break
		}
		tail = append(tail, Span{Text: chunk[lo+split : hi], Start: base + lo + split, End: base + hi})
		hi = lo + split
	}

	out := head
	if hi > lo {
		out = append(out, Span{Text: chunk[lo:hi], Start: base + lo, End: base + hi})
	}
	for k := len(tail) - 1; k >= 0; k-- {
		out = append(out, tail[k])
	}
	return out
}

func peelLeading(chunk string, base, lo, hi int, head []Span) (int, []Span) {
	for lo < hi {
		rest := chunk[lo:hi]
		// Literal `` and '' in the text are already quote tokens.
		if strings.HasPrefix(rest, openQuoteArtifact) || strings.HasPrefix(rest, closeQuoteArtifact) {
			head = append(head, Span{Text: openQuoteArtifact, Start: base + lo, End: base + lo + 2})
			lo += 2
			continue
		}
		r, size := utf8.DecodeRuneInString(rest)
		if !isLeadingPunct(r) || hi-lo == size && r != '"' && r != '“' {
			break
		}
		// A bare clitic ('s, 'll) is already a token.
		if r == '\'' && isClitic(strings.ToLower(rest)) {
			break
		}
		tok := rest[:size]
		if r == '"' || r == '“' {
			tok = openQuoteArtifact
		}
		head = append(head, Span{Text: tok, Start: base + lo, End: base + lo + size})
		lo += size
	}
	return lo, head
}

func peelTrailing(chunk string, base, lo, hi int, tail []Span) (int, []Span) {
	for hi > lo {
		rest := chunk[lo:hi]
		if strings.HasSuffix(rest, closeQuoteArtifact) {
			tail = append(tail, Span{Text: closeQuoteArtifact, Start: base + hi - 2, End: base + hi})
			hi -= 2
			continue
		}
		r, size := utf8.DecodeLastRuneInString(rest)
		if !isTrailingPunct(r) {
			break
		}
		// A period stays attached to abbreviations like "U.S." and "...".
		if r == '.' && hi-lo > size && strings.Contains(rest[:len(rest)-size], ".") {
			break
		}
		tok := rest[len(rest)-size:]
		if r == '"' || r == '”' {
			tok = closeQuoteArtifact
		}
		tail = append(tail, Span{Text: tok, Start: base + hi - size, End: base + hi})
		hi -= size
	}
	return hi, tail
}

// cliticSplit returns the byte offset where a final clitic starts in word,
// or 0 when word does not end in one. Curly apostrophes count as straight.
func cliticSplit(word string) int {
	for _, c := range clitics {
		for _, form := range []string{c, strings.Replace(c, "'", "’", 1)} {
			n := len(word) - len(form)
			if n > 0 && strings.EqualFold(word[n:], form) {
				return n
			}
		}
	}
	return 0
}
