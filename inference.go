package main

import (
	"fmt"
)

// Runner answers ad-hoc questions with a trained model.
type Runner struct {
	Model       *BiDAF
	Vocabs      *Vocabs
	Constrained bool
}

// NewRunner returns a runner with the model switched to evaluation mode.
func NewRunner(model *BiDAF, vocabs *Vocabs, constrained bool) *Runner {
	model.Eval()
	return &Runner{Model: model, Vocabs: vocabs, Constrained: constrained}
}

// Answer runs every question against its paired context as one batch and
// returns one answer per pair, in order.
func (r *Runner) Answer(questions, contexts []string) ([]Answer, error) {
	examples, err := BuildExamples(questions, contexts, r.Vocabs)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	batch, err := NewBatch(examples)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}

	r.Model.Eval()
	start, end := r.Model.Forward(batch)
	answers := decodeBatch(batch, start, end, r.Constrained)
	for i := range answers {
		answers[i].Question = questions[i]
	}
	return answers, nil
}

// Default queries for the predict command when none are given.
var (
	superBowlContext = "Super Bowl 50 was an American football game to determine the champion of the National Football League (NFL) for the 2015 season. " +
		"The American Football Conference (AFC) champion Denver Broncos defeated the National Football Conference (NFC) champion Carolina Panthers 24–10 to earn their third Super Bowl title. " +
		"The game was played on February 7, 2016, at Levi's Stadium in the San Francisco Bay Area at Santa Clara, California. " +
		"As this was the 50th Super Bowl, the league emphasized the \"golden anniversary\" with various gold-themed initiatives, " +
		"as well as temporarily suspending the tradition of naming each Super Bowl game with Roman numerals " +
		"(under which the game would have been known as \"Super Bowl L\"), so that the logo could prominently feature the Arabic numerals 50."

	defaultQuestions = []string{
		"Where did Super Bowl 50 take place?",
		"Which NFL team won Super Bowl 50?",
	}
	defaultContexts = []string{superBowlContext, superBowlContext}
)
