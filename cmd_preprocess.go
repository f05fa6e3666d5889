package main

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"
)

// RunPreprocessCommand builds the word and character vocabularies from the
// train and dev files and writes them, with the pretrained vectors, to
// -vocab-dir.
func RunPreprocessCommand(args []string) error {
	cfg, err := ParseConfig("preprocess", args, time.Now())
	if err != nil {
		return err
	}
	closeLog, err := SetupLogging("preprocess", cfg.LogDir)
	if err != nil {
		return err
	}
	defer closeLog()

	fmt.Println("Step 1: Counting tokens")
	wordCounts := make(map[string]int)
	charCounts := make(map[string]int)
	for _, path := range []string{cfg.TrainFile, cfg.DevFile} {
		ds, err := LoadSQuAD(path)
		if err != nil {
			return err
		}
		texts := ds.Texts()
		for _, text := range texts {
			for _, tok := range WordTokenize(text) {
				wordCounts[tok]++
				for _, r := range tok {
					charCounts[string(r)]++
				}
			}
		}
		log.Printf("preprocess: %s: %d questions and contexts", path, len(texts))
	}

	words := BuildVocabulary(wordCounts, cfg.MinFreq, true)
	chars := BuildVocabulary(charCounts, cfg.MinFreq, false)
	fmt.Printf("  Word vocabulary: %d entries\n", words.Size())
	fmt.Printf("  Char vocabulary: %d entries\n", chars.Size())

	fmt.Println("Step 2: Building pretrained vectors")
	vectors, err := pretrainedVectors(cfg, words)
	if err != nil {
		return err
	}

	fmt.Println("Step 3: Writing", cfg.VocabDir)
	if err := os.MkdirAll(cfg.VocabDir, 0755); err != nil {
		return fmt.Errorf("preprocess: failed to create %s: %w", cfg.VocabDir, err)
	}
	files := cfg.VocabFiles()
	if err := chars.Save(files.Char); err != nil {
		return err
	}
	if err := words.Save(files.Word); err != nil {
		return err
	}
	if err := SaveVectors(files.Vectors, vectors); err != nil {
		return err
	}
	log.Printf("preprocess: wrote %s, %s, %s", files.Char, files.Word, files.Vectors)
	return nil
}

// pretrainedVectors reads GloVe vectors for the vocabulary, or draws small
// random vectors when no GloVe file is configured.
func pretrainedVectors(cfg Config, words *Vocabulary) (*Tensor, error) {
	if cfg.GloVeFile == "" {
		log.Printf("preprocess: no -glove file, using random %d-d vectors", cfg.WordDim)
		rng := rand.New(rand.NewSource(cfg.Seed))
		vectors := NewTensorRand(rng, 0.1, words.Size(), cfg.WordDim)
		clear(vectors.Row(UnkID))
		clear(vectors.Row(PadID))
		return vectors, nil
	}

	vectors, found, err := LoadGloVe(cfg.GloVeFile, words, cfg.WordDim)
	if err != nil {
		return nil, err
	}
	fmt.Printf("  Found %d/%d words in %s\n", found, words.Size(), cfg.GloVeFile)
	return vectors, nil
}
