package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) > 1 {
		cmd := os.Args[1]
		var run func([]string) error
		switch cmd {
		case "preprocess":
			run = RunPreprocessCommand
		case "train":
			run = RunTrainCommand
		case "evaluate":
			run = RunEvaluateCommand
		case "predict":
			run = RunPredictCommand
		case "help", "-h", "--help":
			printUsage()
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
			printUsage()
			os.Exit(1)
		}
		if err := run(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	printUsage()
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  go run . [command] [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  preprocess  Build word/char vocabularies and pretrained vectors from SQuAD")
	fmt.Println("  train       Train a BiDAF model, evaluating on dev every -print-freq batches")
	fmt.Println("  evaluate    Score a saved model on the dev set (EM / F1)")
	fmt.Println("  predict     Answer questions about contexts with a saved model")
	fmt.Println("  help        Show this help message")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  go run . preprocess -train-file=inputs/train-v1.1.json -dev-file=inputs/dev-v1.1.json -glove=glove.6B.100d.txt")
	fmt.Println("  go run . train -epoch=12 -print-freq=250 -train-batch-size=60")
	fmt.Println("  go run . evaluate -model=saved_models/BiDAF_02_17_14_59_12.bin")
	fmt.Println("  go run . predict -model=saved_models/BiDAF_02_17_14_59_12.bin -question=\"Who won?\" -context=\"Denver won.\"")
	fmt.Println("  go run . train -config=config.example.yaml")
	fmt.Println()
}
