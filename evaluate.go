package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EvalResult is what one dev pass reports.
type EvalResult struct {
	Loss        float64
	ExactMatch  float64
	F1          float64
	Examples    int
	Predictions map[string]string
}

// Evaluator runs the model over a dev split, writes the predictions file and
// scores it against the reference answers.
type Evaluator struct {
	// References maps question id to gold answers. Scoring is skipped when nil.
	References map[string][]string

	// PredictionFile is overwritten on every call when non-empty.
	PredictionFile string

	// Constrained picks the best span with start <= end instead of taking
	// the start and end argmax independently.
	Constrained bool

	Progress ProgressReporter
}

// Evaluate runs one full pass over dev. The model is left in evaluation mode;
// callers that keep training switch it back.
func (ev *Evaluator) Evaluate(model *BiDAF, dev *Iterator) (EvalResult, error) {
	result := EvalResult{Predictions: make(map[string]string)}
	model.Eval()
	dev.Reset()

	if ev.Progress != nil {
		ev.Progress.Start(dev.BatchesPerEpoch())
		defer ev.Progress.Finish()
	}

	for {
		batch, ok, err := dev.Next()
		if err != nil {
			return result, fmt.Errorf("evaluate: failed to build batch: %w", err)
		}
		if !ok {
			break
		}

		start, end := model.Forward(batch)
		if batch.HasLabels() {
			if err := checkLabels(batch); err != nil {
				return result, fmt.Errorf("evaluate: %w", err)
			}
			result.Loss += SpanLoss(start, end, batch)
		}

		for i, a := range decodeBatch(batch, start, end, ev.Constrained) {
			result.Predictions[batch.IDs[i]] = a.Text
		}
		result.Examples += batch.Size()

		if ev.Progress != nil {
			ev.Progress.Increment()
		}
	}

	if ev.PredictionFile != "" {
		if err := WritePredictions(ev.PredictionFile, result.Predictions); err != nil {
			return result, err
		}
	}
	if ev.References != nil {
		scores := ScorePredictions(ev.References, result.Predictions)
		result.ExactMatch = scores.ExactMatch
		result.F1 = scores.F1
	}
	return result, nil
}

// Answer is a decoded span for one example.
type Answer struct {
	ID       string
	Question string
	Text     string
	Start    int // token index into the context
	End      int
	Score    float64 // pStart[Start] * pEnd[End]
}

// decodeBatch turns batch scores into answers using each example's real
// context length.
func decodeBatch(b *Batch, start, end *Tensor, constrained bool) []Answer {
	pStart, pEnd := Softmax(start), Softmax(end)
	answers := make([]Answer, b.Size())
	for i := range answers {
		n := b.CLens[i]
		s, e, score := DecodeSpan(pStart.Row(i)[:n], pEnd.Row(i)[:n], constrained)
		answers[i] = Answer{
			ID:    b.IDs[i],
			Text:  DecodeAnswer(b.CTokens[i], s, e),
			Start: s,
			End:   e,
			Score: score,
		}
	}
	return answers
}

// DecodeSpan picks a (start, end) pair from start and end probabilities.
//
// Unconstrained, start and end are independent argmaxes and end may come
// before start. Constrained, the pair maximizes pStart[s]·pEnd[e] over s <= e.
func DecodeSpan(pStart, pEnd []float64, constrained bool) (start, end int, score float64) {
	if !constrained {
		start, end = argmax(pStart), argmax(pEnd)
		return start, end, pStart[start] * pEnd[end]
	}

	bestStart := 0
	score = -1
	for e := range pEnd {
		if pStart[e] > pStart[bestStart] {
			bestStart = e
		}
		if p := pStart[bestStart] * pEnd[e]; p > score {
			start, end, score = bestStart, e, p
		}
	}
	return start, end, score
}

// DecodeAnswer joins tokens[start..end] with spaces. An end before start
// is an empty answer, not an error.
func DecodeAnswer(tokens []string, start, end int) string {
	if start < 0 {
		start = 0
	}
	if end >= len(tokens) {
		end = len(tokens) - 1
	}
	if end < start {
		return ""
	}
	return strings.Join(tokens[start:end+1], " ")
}

// WritePredictions overwrites filename with a single JSON object mapping
// example id to answer text.
func WritePredictions(filename string, predictions map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("evaluate: failed to create predictions directory: %w", err)
	}
	raw, err := json.Marshal(predictions)
	if err != nil {
		return fmt.Errorf("evaluate: failed to marshal predictions: %w", err)
	}
	if err := os.WriteFile(filename, append(raw, '\n'), 0644); err != nil {
		return fmt.Errorf("evaluate: failed to write predictions: %w", err)
	}
	return nil
}
