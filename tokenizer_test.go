package main

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWordTokenize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"plain", "Where did Super Bowl 50 take place?",
			[]string{"Where", "did", "Super", "Bowl", "50", "take", "place", "?"}},
		{"quotes become plain", `He said "hello," and left.`,
			[]string{"He", "said", `"`, "hello", ",", `"`, "and", "left", "."}},
		{"literal quote artifacts", "``golden anniversary''",
			[]string{`"`, "golden", "anniversary", `"`}},
		{"negation clitic", "I can't go.",
			[]string{"I", "ca", "n't", "go", "."}},
		{"possessive", "Levi's Stadium",
			[]string{"Levi", "'s", "Stadium"}},
		{"curly possessive", "Levi’s Stadium",
			[]string{"Levi", "’s", "Stadium"}},
		{"en dash", "Panthers 24–10 to",
			[]string{"Panthers", "24", "–", "10", "to"}},
		{"brackets", "League (NFL) for",
			[]string{"League", "(", "NFL", ")", "for"}},
		{"bracket before clitic", "the NFL (AFC)'s champion",
			[]string{"the", "NFL", "(", "AFC", ")", "'s", "champion"}},
		{"quote before clitic", `The "Super Bowl"'s logo`,
			[]string{"The", `"`, "Super", "Bowl", `"`, "'s", "logo"}},
		{"curly quote before clitic", "“Formation”’s video",
			[]string{`"`, "Formation", `"`, "’s", "video"}},
		{"whitespace only", " \t\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WordTokenize(tt.text))
		})
	}
}

func TestWordTokenizeNeverEmitsQuoteArtifacts(t *testing.T) {
	for _, tok := range WordTokenize("``a'' \"b\" “c” ''d``") {
		assert.NotEqual(t, openQuoteArtifact, tok)
		assert.NotEqual(t, closeQuoteArtifact, tok)
	}
}

func TestWordTokenizeIdempotent(t *testing.T) {
	texts := []string{
		superBowlContext,
		`He said "I can't, won't and shouldn't" (twice).`,
		"The players' union isn't happy—at all.",
		"the NFL (AFC)'s champion",
		`The "Super Bowl"'s logo`,
		"“Formation”’s video",
		"the U.S. team won 24–10 in Santa Clara, Calif.",
		`'Tis "odd".) ("x"'s) [y]'ll z,'d`,
	}
	for _, text := range texts {
		first := WordTokenize(text)
		second := WordTokenize(strings.Join(first, " "))
		assert.Equal(t, first, second, "re-tokenizing %q", text)
	}
}

func TestTokenSpansOffsets(t *testing.T) {
	text := `Levi's Stadium, said "hi"`
	spans := tokenSpans(text)

	want := []Span{
		{"Levi", 0, 4},
		{"'s", 4, 6},
		{"Stadium", 7, 14},
		{",", 14, 15},
		{"said", 16, 20},
		{`"`, 21, 22},
		{"hi", 22, 24},
		{`"`, 24, 25},
	}
	assert.Equal(t, want, spans)

	for _, s := range spans {
		if s.Text != `"` {
			assert.Equal(t, s.Text, text[s.Start:s.End])
		}
	}
}

// Every token splitChunk emits must come back unchanged when split again,
// which is what makes re-tokenizing joined output stable.
func TestSplitChunkTokensAreStable(t *testing.T) {
	alphabet := []string{
		"a", "B", "s", "t", "n", ".", ",", ";", "!", "?", "'", "\"", "`",
		"(", ")", "[", "]", "$", "%", "“", "”", "‘", "’", "—", "–",
		"'s", "n't", "’s", "''", "``",
	}
	rng := rand.New(rand.NewSource(42))

	for n := 0; n < 20000; n++ {
		var b strings.Builder
		for k := 1 + rng.Intn(8); k > 0; k-- {
			b.WriteString(alphabet[rng.Intn(len(alphabet))])
		}
		chunk := b.String()

		for _, sp := range splitChunk(chunk, 0) {
			again := splitChunk(sp.Text, 0)
			if !assert.Len(t, again, 1, "chunk %q token %q", chunk, sp.Text) {
				return
			}
			assert.Equal(t, normalizeQuote(sp.Text), normalizeQuote(again[0].Text), "chunk %q", chunk)
		}
	}
}
