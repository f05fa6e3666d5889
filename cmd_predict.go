package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
)

// RunPredictCommand answers -question/-context pairs with a saved model.
// Without pairs it answers the two Super Bowl 50 questions.
func RunPredictCommand(args []string) error {
	cfg, err := ParseConfig("predict", args, time.Now())
	if err != nil {
		return err
	}
	if cfg.ModelFile == "" {
		return ErrNoModel
	}
	closeLog, err := SetupLogging("predict", cfg.LogDir)
	if err != nil {
		return err
	}
	defer closeLog()
	UseDevice(SelectDevice(cfg.GPU))

	model, vocabs, err := loadModelAndVocabs(cfg)
	if err != nil {
		return err
	}

	questions, contexts := cfg.Questions, cfg.Contexts
	if len(questions) == 0 {
		questions, contexts = defaultQuestions, defaultContexts
	}

	runner := NewRunner(model, vocabs, cfg.ConstrainedSpan)
	answers, err := runner.Answer(questions, contexts)
	if err != nil {
		return err
	}

	bold := color.New(color.Bold)
	for _, a := range answers {
		bold.Printf("Q: %s\n", a.Question)
		if a.Text == "" {
			color.Yellow("A: (no answer: end %d before start %d)", a.End, a.Start)
		} else {
			color.Green("A: %s", a.Text)
		}
		fmt.Printf("   tokens [%d, %d], p=%.4f, id %s\n\n", a.Start, a.End, a.Score, a.ID)
	}
	return nil
}
