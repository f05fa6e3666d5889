package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandsEndToEnd(t *testing.T) {
	root := t.TempDir()
	squadFile := writeSQuAD(t, root, testParagraphs)
	dir := func(name string) string { return filepath.Join(root, name) }

	common := []string{
		"-train-file", squadFile,
		"-dev-file", squadFile,
		"-vocab-dir", dir("vocabs"),
		"-log-root", dir("logs"),
		"-save-dir", dir("saved_models"),
		"-output-dir", dir("outputs"),
		"-gpu", "-1",
	}
	args := func(extra ...string) []string {
		return append(append([]string{}, common...), extra...)
	}

	require.NoError(t, RunPreprocessCommand(args("-word-dim", "4")))
	for _, name := range []string{"char_vocab.txt", "word_vocab.txt", "pretrained_vectors.bin"} {
		assert.FileExists(t, filepath.Join(dir("vocabs"), name))
	}

	require.NoError(t, RunTrainCommand(args(
		"-char-dim", "3",
		"-char-channel-size", "4",
		"-char-channel-width", "2",
		"-hidden-size", "3",
		"-highway-layers", "1",
		"-train-batch-size", "2",
		"-dev-batch-size", "3",
		"-epoch", "1",
		"-print-freq", "2",
	)))

	snapshots, err := filepath.Glob(filepath.Join(dir("saved_models"), "BiDAF_*.bin"))
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	predictions, err := filepath.Glob(filepath.Join(dir("outputs"), "predictions_*.json"))
	require.NoError(t, err)
	require.Len(t, predictions, 1, "training evaluated on dev")
	metricsFiles, err := filepath.Glob(filepath.Join(dir("logs"), "*", "metrics.db"))
	require.NoError(t, err)
	require.Len(t, metricsFiles, 1)

	require.NoError(t, RunEvaluateCommand(args("-model", snapshots[0], "-constrained-span")))
	require.NoError(t, RunPredictCommand(args("-model", snapshots[0])))
	require.NoError(t, RunPredictCommand(args("-model", snapshots[0],
		"-question", "Who lost the game?", "-context", "The Carolina Panthers lost the game.")))

	raw, err := os.ReadFile(predictions[0])
	require.NoError(t, err)
	var written map[string]string
	require.NoError(t, json.Unmarshal(raw, &written))
	assert.Len(t, written, 4)
}

func TestCommandsRequireModel(t *testing.T) {
	logs := filepath.Join(t.TempDir(), "logs")
	assert.ErrorIs(t, RunEvaluateCommand([]string{"-log-root", logs}), ErrNoModel)
	assert.ErrorIs(t, RunPredictCommand([]string{"-log-root", logs}), ErrNoModel)
}
