package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAnswer(t *testing.T) {
	tokens := []string{"Denver", "Broncos", "defeated", "the", "Panthers"}
	tests := []struct {
		name       string
		start, end int
		want       string
	}{
		{"single token", 4, 4, "Panthers"},
		{"span", 0, 1, "Denver Broncos"},
		{"end before start", 3, 1, ""},
		{"end clamped", 3, 9, "the Panthers"},
		{"start clamped", -2, 0, "Denver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeAnswer(tokens, tt.start, tt.end))
		})
	}
}

func TestDecodeSpan(t *testing.T) {
	pStart := []float64{0.1, 0.2, 0.1, 0.6}
	pEnd := []float64{0.1, 0.7, 0.1, 0.1}

	s, e, score := DecodeSpan(pStart, pEnd, false)
	assert.Equal(t, 3, s)
	assert.Equal(t, 1, e)
	assert.InDelta(t, 0.42, score, 1e-12)

	s, e, score = DecodeSpan(pStart, pEnd, true)
	assert.Equal(t, 1, s)
	assert.Equal(t, 1, e)
	assert.InDelta(t, 0.14, score, 1e-12)
}

func TestDecodeSpanConstrainedMatchesBruteForce(t *testing.T) {
	pStart := []float64{0.05, 0.3, 0.1, 0.25, 0.3}
	pEnd := []float64{0.2, 0.05, 0.4, 0.05, 0.3}

	best, bs, be := -1.0, 0, 0
	for s := range pStart {
		for e := s; e < len(pEnd); e++ {
			if p := pStart[s] * pEnd[e]; p > best {
				best, bs, be = p, s, e
			}
		}
	}

	s, e, score := DecodeSpan(pStart, pEnd, true)
	assert.Equal(t, bs, s)
	assert.Equal(t, be, e)
	assert.InDelta(t, best, score, 1e-12)
	assert.LessOrEqual(t, s, e)
}

func TestWritePredictionsOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outputs", "predictions.json")

	require.NoError(t, WritePredictions(path, map[string]string{"a": "first", "b": "second"}))
	require.NoError(t, WritePredictions(path, map[string]string{"c": "Levi's Stadium"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]string
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, map[string]string{"c": "Levi's Stadium"}, got)
}

func TestEvaluatorScoresDevSet(t *testing.T) {
	v := testVocabs(t, 4)
	model := newTinyModel(t, v, 3)

	ds, err := LoadSQuAD(writeSQuAD(t, t.TempDir(), testParagraphs))
	require.NoError(t, err)
	examples, _ := ds.ToExamples(v, 0)
	dev, err := NewIterator(examples, IteratorOptions{BatchSize: 3})
	require.NoError(t, err)

	progress := &countingProgress{}
	ev := &Evaluator{
		References:     ds.References(),
		PredictionFile: filepath.Join(t.TempDir(), "predictions.json"),
		Progress:       progress,
	}
	result, err := ev.Evaluate(model, dev)
	require.NoError(t, err)

	assert.False(t, model.Training())
	assert.Equal(t, 4, result.Examples)
	assert.Greater(t, result.Loss, 0.0)
	assert.GreaterOrEqual(t, result.ExactMatch, 0.0)
	assert.LessOrEqual(t, result.ExactMatch, 100.0)
	assert.GreaterOrEqual(t, result.F1, result.ExactMatch)
	assert.LessOrEqual(t, result.F1, 100.0)
	assert.Equal(t, 2, progress.total)
	assert.Equal(t, 2, progress.count)

	raw, err := os.ReadFile(ev.PredictionFile)
	require.NoError(t, err)
	var written map[string]string
	require.NoError(t, json.Unmarshal(raw, &written))
	assert.Equal(t, result.Predictions, written)
	for _, id := range []string{"q1", "q2", "q3", "q4"} {
		assert.Contains(t, written, id)
	}

	// A second pass rewinds the iterator and reproduces the predictions.
	again, err := ev.Evaluate(model, dev)
	require.NoError(t, err)
	assert.Equal(t, result.Predictions, again.Predictions)
	assert.InDelta(t, result.Loss, again.Loss, 1e-9)
}

func TestEvaluatorConstrainedSpans(t *testing.T) {
	v := testVocabs(t, 4)
	model := newTinyModel(t, v, 5)
	b := labeledBatch(t, v)

	model.Eval()
	start, end := model.Forward(b)
	for i, a := range decodeBatch(b, start, end, true) {
		assert.LessOrEqual(t, a.Start, a.End)
		assert.Less(t, a.End, b.CLens[i], "decoded span stays inside the real context")
		assert.NotEmpty(t, a.Text)
		assert.Equal(t, b.IDs[i], a.ID)
	}
}
