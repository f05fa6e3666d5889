package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"unicode/utf8"
)

// ErrNoAnswerSpan is returned when an answer cannot be located in its context.
var ErrNoAnswerSpan = errors.New("squad: answer not found in context tokens")

// SQuAD is the SQuAD v1.1 dataset file layout.
type SQuAD struct {
	Data []struct {
		Title      string `json:"title"`
		Paragraphs []struct {
			Context string `json:"context"`
			Qas     []struct {
				ID       string `json:"id"`
				Question string `json:"question"`
				Answers  []struct {
					AnswerStart int    `json:"answer_start"`
					Text        string `json:"text"`
				} `json:"answers"`
			} `json:"qas"`
		} `json:"paragraphs"`
	} `json:"data"`
	Version string `json:"version"`
}

// LoadSQuAD reads a dataset file.
func LoadSQuAD(filename string) (*SQuAD, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("squad: failed to read %s: %w", filename, err)
	}
	var ds SQuAD
	if err := json.Unmarshal(raw, &ds); err != nil {
		return nil, fmt.Errorf("squad: failed to parse %s: %w", filename, err)
	}
	return &ds, nil
}

// References returns every gold answer text keyed by question id.
func (ds *SQuAD) References() map[string][]string {
	refs := make(map[string][]string)
	for _, article := range ds.Data {
		for _, para := range article.Paragraphs {
			for _, qa := range para.Qas {
				answers := make([]string, 0, len(qa.Answers))
				for _, a := range qa.Answers {
					answers = append(answers, a.Text)
				}
				refs[qa.ID] = answers
			}
		}
	}
	return refs
}

// Texts collects every question and context string, for vocabulary building.
func (ds *SQuAD) Texts() []string {
	var texts []string
	for _, article := range ds.Data {
		for _, para := range article.Paragraphs {
			texts = append(texts, para.Context)
			for _, qa := range para.Qas {
				texts = append(texts, qa.Question)
			}
		}
	}
	return texts
}

// ExampleStats reports what ToExamples kept and dropped.
type ExampleStats struct {
	Kept       int
	TooLong    int
	Unanswered int
}

// ToExamples converts the dataset into labeled examples. The gold span is
// the first answer mapped onto context token indices. Contexts with more
// than contextLen tokens are dropped when contextLen > 0.
func (ds *SQuAD) ToExamples(vocabs *Vocabs, contextLen int) ([]Example, ExampleStats) {
	var (
		examples []Example
		stats    ExampleStats
	)

	for _, article := range ds.Data {
		for _, para := range article.Paragraphs {
			spans := tokenSpans(para.Context)
			if len(spans) == 0 {
				continue
			}
			if contextLen > 0 && len(spans) > contextLen {
				stats.TooLong += len(para.Qas)
				continue
			}
			runeToByte := runeOffsets(para.Context)
			cTokens := spanTexts(spans)

			for _, qa := range para.Qas {
				qTokens := WordTokenize(qa.Question)
				if len(qa.Answers) == 0 || len(qTokens) == 0 {
					stats.Unanswered++
					continue
				}
				answer := qa.Answers[0]
				start, end, err := answerSpan(spans, runeToByte, answer.AnswerStart, utf8.RuneCountInString(answer.Text))
				if err != nil {
					stats.Unanswered++
					continue
				}

				ex := newExample(qa.ID, qTokens, cTokens, vocabs)
				ex.StartIdx = start
				ex.EndIdx = end
				examples = append(examples, ex)
				stats.Kept++
			}
		}
	}

	return examples, stats
}

// runeOffsets maps a rune index to its byte offset; the final entry is len(s).
func runeOffsets(s string) []int {
	offsets := make([]int, 0, len(s)+1)
	for i := range s {
		offsets = append(offsets, i)
	}
	return append(offsets, len(s))
}

// answerSpan maps an answer given in rune positions onto token indices:
// the first token ending after the answer start and the last token starting
// before the answer end.
func answerSpan(spans []Span, runeToByte []int, runeStart, runeLen int) (int, int, error) {
	if runeStart < 0 || runeStart+runeLen >= len(runeToByte) || runeLen <= 0 {
		return 0, 0, ErrNoAnswerSpan
	}
	byteStart := runeToByte[runeStart]
	byteEnd := runeToByte[runeStart+runeLen]

	start, end := -1, -1
	for i, s := range spans {
		if start < 0 && s.End > byteStart {
			start = i
		}
		if s.Start < byteEnd {
			end = i
		}
	}
	if start < 0 || end < start {
		return 0, 0, ErrNoAnswerSpan
	}
	return start, end, nil
}

func spanTexts(spans []Span) []string {
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = s.Text
	}
	return out
}
