package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSQuADReferences(t *testing.T) {
	ds, err := LoadSQuAD(writeSQuAD(t, t.TempDir(), testParagraphs))
	require.NoError(t, err)

	refs := ds.References()
	assert.Len(t, refs, 4)
	assert.Equal(t, []string{"Denver Broncos", "Broncos"}, refs["q1"])
	assert.Len(t, ds.Texts(), 6)
}

func TestLoadSQuADErrors(t *testing.T) {
	_, err := LoadSQuAD("does-not-exist.json")
	assert.Error(t, err)
}

func TestToExamplesAlignsAnswers(t *testing.T) {
	v := testVocabs(t, 4)
	examples := labeledExamples(t, v)

	want := map[string]string{
		"q1": "Denver Broncos",
		"q2": "Santa Clara , California",
		"q3": "golden anniversary",
		"q4": "The Carolina Panthers",
	}
	for _, ex := range examples {
		got := strings.Join(ex.CTokens[ex.StartIdx:ex.EndIdx+1], " ")
		assert.Equal(t, want[ex.ID], got, "example %s", ex.ID)
		assert.Len(t, ex.CWord, len(ex.CTokens))
		assert.Len(t, ex.CChar, len(ex.CTokens))
	}
}

func TestToExamplesContextCap(t *testing.T) {
	v := testVocabs(t, 4)
	ds, err := LoadSQuAD(writeSQuAD(t, t.TempDir(), testParagraphs))
	require.NoError(t, err)

	examples, stats := ds.ToExamples(v, 10)
	assert.Equal(t, ExampleStats{Kept: 1, TooLong: 3}, stats)
	require.Len(t, examples, 1)
	assert.Equal(t, "q4", examples[0].ID)
}

func TestToExamplesSkipsUnanswerable(t *testing.T) {
	v := testVocabs(t, 4)
	paras := []testParagraph{{
		context: "The Carolina Panthers lost the game.",
		qas:     []testQA{{"q5", "Who won?", nil}},
	}}
	ds, err := LoadSQuAD(writeSQuAD(t, t.TempDir(), paras))
	require.NoError(t, err)

	examples, stats := ds.ToExamples(v, 0)
	assert.Empty(t, examples)
	assert.Equal(t, 1, stats.Unanswered)
}

func TestAnswerSpan(t *testing.T) {
	text := "Panthers 24–10 win"
	spans := tokenSpans(text)
	runes := runeOffsets(text)

	// "10" starts at rune 12 (the en dash is one rune, three bytes).
	start, end, err := answerSpan(spans, runes, 12, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, start)
	assert.Equal(t, 3, end)

	// An answer starting mid-token still covers that token.
	start, end, err = answerSpan(spans, runes, 2, 12)
	require.NoError(t, err)
	assert.Equal(t, 0, start)
	assert.Equal(t, 3, end)

	_, _, err = answerSpan(spans, runes, 17, 5)
	assert.ErrorIs(t, err, ErrNoAnswerSpan)
}
