package main

import (
	"log"
	"regexp"
	"strings"
)

// SQuAD v1.1 scoring: exact match and token F1 after answer normalization,
// each taken as the maximum over all reference answers and reported as a
// percentage over every question in the dataset. Questions without a
// prediction score zero.

const asciiPunctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

var articles = regexp.MustCompile(`\b(a|an|the)\b`)

// NormalizeAnswer lowercases, strips ASCII punctuation and the articles
// a/an/the, and collapses whitespace.
func NormalizeAnswer(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		if strings.ContainsRune(asciiPunctuation, r) {
			return -1
		}
		return r
	}, s)
	s = articles.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// ExactMatch reports whether prediction and reference normalize identically.
func ExactMatch(prediction, reference string) bool {
	return NormalizeAnswer(prediction) == NormalizeAnswer(reference)
}

// F1 is the harmonic mean of token precision and recall between the
// normalized prediction and reference.
func F1(prediction, reference string) float64 {
	predTokens := strings.Fields(NormalizeAnswer(prediction))
	refTokens := strings.Fields(NormalizeAnswer(reference))

	counts := make(map[string]int, len(refTokens))
	for _, tok := range refTokens {
		counts[tok]++
	}
	same := 0
	for _, tok := range predTokens {
		if counts[tok] > 0 {
			counts[tok]--
			same++
		}
	}
	if same == 0 {
		return 0
	}

	precision := float64(same) / float64(len(predTokens))
	recall := float64(same) / float64(len(refTokens))
	return 2 * precision * recall / (precision + recall)
}

// Scores are percentages in [0, 100].
type Scores struct {
	ExactMatch float64 `json:"exact_match"`
	F1         float64 `json:"f1"`
	Total      int     `json:"total"`
	Missing    int     `json:"missing"`
}

// ScorePredictions scores predictions against every reference question.
func ScorePredictions(references map[string][]string, predictions map[string]string) Scores {
	var (
		scores Scores
		em, f1 float64
	)

	for id, golds := range references {
		scores.Total++
		pred, ok := predictions[id]
		if !ok {
			scores.Missing++
			continue
		}

		bestEM, bestF1 := 0.0, 0.0
		for _, gold := range golds {
			if ExactMatch(pred, gold) {
				bestEM = 1
			}
			bestF1 = max(bestF1, F1(pred, gold))
		}
		em += bestEM
		f1 += bestF1
	}

	if scores.Missing > 0 {
		log.Printf("metric: %d unanswered questions scored 0", scores.Missing)
	}
	if scores.Total > 0 {
		scores.ExactMatch = 100 * em / float64(scores.Total)
		scores.F1 = 100 * f1 / float64(scores.Total)
	}
	return scores
}
