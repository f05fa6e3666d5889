package main

import (
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

type testQA struct {
	id       string
	question string
	answers  []string
}

type testParagraph struct {
	context string
	qas     []testQA
}

// testParagraphs is a tiny SQuAD split around the Super Bowl 50 paragraph.
var testParagraphs = []testParagraph{
	{
		context: superBowlContext,
		qas: []testQA{
			{"q1", "Which NFL team won Super Bowl 50?", []string{"Denver Broncos", "Broncos"}},
			{"q2", "Where did Super Bowl 50 take place?", []string{"Santa Clara, California", "Levi's Stadium"}},
			{"q3", "What anniversary did the league emphasize?", []string{"golden anniversary"}},
		},
	},
	{
		context: "The Carolina Panthers lost the game.",
		qas: []testQA{
			{"q4", "Who lost the game?", []string{"The Carolina Panthers"}},
		},
	},
}

// writeSQuAD writes paragraphs as a SQuAD v1.1 file and returns its path.
// answer_start is the rune offset of the answer's first occurrence.
func writeSQuAD(t testing.TB, dir string, paragraphs []testParagraph) string {
	t.Helper()

	var paras []map[string]any
	for _, p := range paragraphs {
		var qas []map[string]any
		for _, qa := range p.qas {
			var answers []map[string]any
			for _, a := range qa.answers {
				idx := strings.Index(p.context, a)
				require.GreaterOrEqual(t, idx, 0, "answer %q not in context", a)
				answers = append(answers, map[string]any{
					"answer_start": utf8.RuneCountInString(p.context[:idx]),
					"text":         a,
				})
			}
			qas = append(qas, map[string]any{"id": qa.id, "question": qa.question, "answers": answers})
		}
		paras = append(paras, map[string]any{"context": p.context, "qas": qas})
	}
	doc := map[string]any{
		"version": "1.1",
		"data":    []map[string]any{{"title": "Super_Bowl_50", "paragraphs": paras}},
	}

	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(dir, "squad.json")
	require.NoError(t, os.WriteFile(path, raw, 0644))
	return path
}

// testVocabs builds vocabularies over the fixture texts with random
// wordDim-d vectors.
func testVocabs(t testing.TB, wordDim int) *Vocabs {
	t.Helper()

	words := make(map[string]int)
	chars := make(map[string]int)
	add := func(text string) {
		for _, tok := range WordTokenize(text) {
			words[tok]++
			for _, r := range tok {
				chars[string(r)]++
			}
		}
	}
	for _, p := range testParagraphs {
		add(p.context)
		for _, qa := range p.qas {
			add(qa.question)
		}
	}

	word := BuildVocabulary(words, 1, true)
	char := BuildVocabulary(chars, 1, false)
	vectors := NewTensorRand(rand.New(rand.NewSource(11)), 0.5, word.Size(), wordDim)
	return &Vocabs{Char: char, Word: word, Vectors: vectors}
}

// tinyConfig is small enough for numeric gradient checks.
func tinyConfig(v *Vocabs) ModelConfig {
	return ModelConfig{
		WordVocabSize:    v.Word.Size(),
		WordDim:          v.Vectors.Cols(),
		CharVocabSize:    v.Char.Size(),
		CharDim:          3,
		CharChannelSize:  4,
		CharChannelWidth: 2,
		HiddenSize:       3,
		HighwayLayers:    1,
		DropoutRate:      0,
	}
}

func newTinyModel(t testing.TB, v *Vocabs, seed int64) *BiDAF {
	t.Helper()
	model, err := NewBiDAF(tinyConfig(v), v.Vectors, seed)
	require.NoError(t, err)
	return model
}

// labeledExamples converts the fixture split into examples with gold spans.
func labeledExamples(t testing.TB, v *Vocabs) []Example {
	t.Helper()
	ds, err := LoadSQuAD(writeSQuAD(t, t.TempDir(), testParagraphs))
	require.NoError(t, err)
	examples, stats := ds.ToExamples(v, 0)
	require.Equal(t, 4, stats.Kept)
	return examples
}

func labeledBatch(t testing.TB, v *Vocabs) *Batch {
	t.Helper()
	b, err := NewBatch(labeledExamples(t, v))
	require.NoError(t, err)
	return b
}
