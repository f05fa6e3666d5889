package main

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	// ErrEmptyBatch is returned when a batch would contain no examples.
	ErrEmptyBatch = errors.New("batch: no examples")

	// ErrLengthMismatch is returned when questions and contexts are not paired.
	ErrLengthMismatch = errors.New("batch: questions and contexts differ in length")

	// ErrEmptyText is returned for a question or context with no tokens.
	ErrEmptyText = errors.New("batch: text has no tokens")
)

// Example is one question/context pair converted to ids. Character ids are
// unpadded here; NewBatch pads them to the batch-wide maximum token length.
// StartIdx and EndIdx are -1 when the example has no gold answer.
type Example struct {
	ID       string
	QWord    []int
	QChar    [][]int
	CWord    []int
	CChar    [][]int
	CTokens  []string
	StartIdx int
	EndIdx   int
}

func newExample(id string, qTokens, cTokens []string, vocabs *Vocabs) Example {
	return Example{
		ID:       id,
		QWord:    wordIDs(qTokens, vocabs.Word),
		QChar:    charIDs(qTokens, vocabs.Char),
		CWord:    wordIDs(cTokens, vocabs.Word),
		CChar:    charIDs(cTokens, vocabs.Char),
		CTokens:  cTokens,
		StartIdx: -1,
		EndIdx:   -1,
	}
}

func wordIDs(tokens []string, vocab *Vocabulary) []int {
	ids := make([]int, len(tokens))
	for i, tok := range tokens {
		ids[i] = vocab.Lookup(tok)
	}
	return ids
}

func charIDs(tokens []string, vocab *Vocabulary) [][]int {
	ids := make([][]int, len(tokens))
	for i, tok := range tokens {
		row := make([]int, 0, utf8.RuneCountInString(tok))
		for _, r := range tok {
			row = append(row, vocab.Lookup(string(r)))
		}
		ids[i] = row
	}
	return ids
}

// BuildExamples tokenizes paired questions and contexts into unlabeled
// examples. Empty input lists and texts without tokens are rejected because
// the padding widths would be undefined.
func BuildExamples(questions, contexts []string, vocabs *Vocabs) ([]Example, error) {
	if len(questions) == 0 || len(contexts) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(questions) != len(contexts) {
		return nil, fmt.Errorf("%w: %d questions, %d contexts", ErrLengthMismatch, len(questions), len(contexts))
	}

	examples := make([]Example, len(questions))
	for i := range questions {
		qTokens := WordTokenize(questions[i])
		if len(qTokens) == 0 {
			return nil, fmt.Errorf("%w: question %d", ErrEmptyText, i)
		}
		cTokens := WordTokenize(contexts[i])
		if len(cTokens) == 0 {
			return nil, fmt.Errorf("%w: context %d", ErrEmptyText, i)
		}
		examples[i] = newExample(uuid.NewString(), qTokens, cTokens, vocabs)
	}
	return examples, nil
}

// Batch is a group of examples stacked into rectangular id grids.
//
// Word grids are padded with PadID to the longest sequence. Character grids
// are padded to the longest token: qCharLen over every question token in the
// batch and cCharLen over every context token, computed independently, so
// the widths change from batch to batch.
type Batch struct {
	IDs      []string
	QWord    [][]int   // [B][qLen]
	QLens    []int     // [B]
	QChar    [][][]int // [B][qLen][qCharLen]
	CWord    [][]int   // [B][cLen]
	CLens    []int     // [B]
	CChar    [][][]int // [B][cLen][cCharLen]
	CTokens  [][]string
	StartIdx []int
	EndIdx   []int
}

// Size returns the number of examples in the batch.
func (b *Batch) Size() int { return len(b.IDs) }

// CLen returns the padded context length.
func (b *Batch) CLen() int { return len(b.CWord[0]) }

// QLen returns the padded question length.
func (b *Batch) QLen() int { return len(b.QWord[0]) }

// HasLabels reports whether every example carries a gold span.
func (b *Batch) HasLabels() bool {
	for i := range b.StartIdx {
		if b.StartIdx[i] < 0 || b.EndIdx[i] < 0 {
			return false
		}
	}
	return true
}

// NewBatch pads examples into a Batch.
func NewBatch(examples []Example) (*Batch, error) {
	if len(examples) == 0 {
		return nil, ErrEmptyBatch
	}

	qLen, cLen, qCharLen, cCharLen := 0, 0, 0, 0
	for i, ex := range examples {
		if len(ex.QWord) == 0 || len(ex.CWord) == 0 {
			return nil, fmt.Errorf("%w: example %d (%s)", ErrEmptyText, i, ex.ID)
		}
		qLen = max(qLen, len(ex.QWord))
		cLen = max(cLen, len(ex.CWord))
		qCharLen = max(qCharLen, maxTokenLen(ex.QChar))
		cCharLen = max(cCharLen, maxTokenLen(ex.CChar))
	}

	b := &Batch{
		IDs:      make([]string, len(examples)),
		QWord:    make([][]int, len(examples)),
		QLens:    make([]int, len(examples)),
		QChar:    make([][][]int, len(examples)),
		CWord:    make([][]int, len(examples)),
		CLens:    make([]int, len(examples)),
		CChar:    make([][][]int, len(examples)),
		CTokens:  make([][]string, len(examples)),
		StartIdx: make([]int, len(examples)),
		EndIdx:   make([]int, len(examples)),
	}
	for i, ex := range examples {
		b.IDs[i] = ex.ID
		b.QWord[i] = padIDs(ex.QWord, qLen)
		b.QLens[i] = len(ex.QWord)
		b.QChar[i] = padGrid(ex.QChar, qLen, qCharLen)
		b.CWord[i] = padIDs(ex.CWord, cLen)
		b.CLens[i] = len(ex.CWord)
		b.CChar[i] = padGrid(ex.CChar, cLen, cCharLen)
		b.CTokens[i] = ex.CTokens
		b.StartIdx[i] = ex.StartIdx
		b.EndIdx[i] = ex.EndIdx
	}
	return b, nil
}

func maxTokenLen(grid [][]int) int {
	n := 0
	for _, row := range grid {
		n = max(n, len(row))
	}
	return n
}

func padIDs(ids []int, length int) []int {
	out := make([]int, length)
	copy(out, ids)
	for i := len(ids); i < length; i++ {
		out[i] = PadID
	}
	return out
}

func padGrid(grid [][]int, rows, cols int) [][]int {
	out := make([][]int, rows)
	for i := range out {
		var src []int
		if i < len(grid) {
			src = grid[i]
		}
		out[i] = padIDs(src, cols)
	}
	return out
}

// ===========================================================================
// ITERATOR
// ===========================================================================

// IteratorOptions configures batching.
type IteratorOptions struct {
	BatchSize int
	Shuffle   bool  // reshuffle (and re-bucket) at every epoch
	Repeat    bool  // start a new epoch instead of stopping
	Seed      int64 // shuffling seed
}

// Iterator yields batches over a fixed example set and counts epochs.
//
// Epoch() is the zero-based pass the most recently returned batch belongs
// to. With Repeat set the iterator never ends; the caller watches Epoch()
// to decide when to stop.
type Iterator struct {
	examples []Example
	opts     IteratorOptions
	rng      *rand.Rand

	batches    [][]int
	pos        int
	epoch      int
	iterations int
}

// NewIterator creates an iterator. Examples are not copied.
func NewIterator(examples []Example, opts IteratorOptions) (*Iterator, error) {
	if len(examples) == 0 {
		return nil, ErrEmptyBatch
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch: batch size must be positive, got %d", opts.BatchSize)
	}
	it := &Iterator{
		examples: examples,
		opts:     opts,
		rng:      rand.New(rand.NewSource(opts.Seed)),
	}
	it.Reset()
	return it, nil
}

// Reset rewinds to the start of epoch 0.
func (it *Iterator) Reset() {
	it.rng = rand.New(rand.NewSource(it.opts.Seed))
	it.epoch = 0
	it.iterations = 0
	it.pos = 0
	it.batches = it.plan()
}

// Epoch returns the epoch of the last batch returned by Next.
func (it *Iterator) Epoch() int { return it.epoch }

// Iterations returns how many batches Next has returned since Reset.
func (it *Iterator) Iterations() int { return it.iterations }

// BatchesPerEpoch returns the number of batches in one pass.
func (it *Iterator) BatchesPerEpoch() int {
	return (len(it.examples) + it.opts.BatchSize - 1) / it.opts.BatchSize
}

// Next returns the next batch. ok is false once a non-repeating iterator
// has finished its single pass.
func (it *Iterator) Next() (batch *Batch, ok bool, err error) {
	if it.pos >= len(it.batches) {
		if !it.opts.Repeat {
			return nil, false, nil
		}
		it.epoch++
		it.pos = 0
		it.batches = it.plan()
	}

	idx := it.batches[it.pos]
	it.pos++
	it.iterations++

	group := make([]Example, len(idx))
	for i, k := range idx {
		group[i] = it.examples[k]
	}
	batch, err = NewBatch(group)
	if err != nil {
		return nil, false, err
	}
	return batch, true, nil
}

// plan lays out one epoch of batches. When shuffling, examples are shuffled,
// sorted by context length inside pools of 100 batches to keep padding low,
// and the resulting batches are shuffled again.
func (it *Iterator) plan() [][]int {
	order := make([]int, len(it.examples))
	for i := range order {
		order[i] = i
	}

	size := it.opts.BatchSize
	if it.opts.Shuffle {
		it.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		pool := size * 100
		for lo := 0; lo < len(order); lo += pool {
			hi := min(lo+pool, len(order))
			chunk := order[lo:hi]
			sort.SliceStable(chunk, func(i, j int) bool {
				return len(it.examples[chunk[i]].CWord) < len(it.examples[chunk[j]].CWord)
			})
		}
	}

	var batches [][]int
	for lo := 0; lo < len(order); lo += size {
		hi := min(lo+size, len(order))
		batches = append(batches, order[lo:hi])
	}
	if it.opts.Shuffle {
		it.rng.Shuffle(len(batches), func(i, j int) { batches[i], batches[j] = batches[j], batches[i] })
	}
	return batches
}
