package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// This file implements the forward pass of a Bidirectional Attention Flow
// (BiDAF) reader.
//
// INTENTION:
// Map a (context, question) pair to two distributions over context
// positions: where the answer starts and where it ends.
//
// LAYERS (per example, context length T, question length J):
//
// 1. Character embedding: each token's characters are embedded, convolved
//    with a window of CharChannelWidth characters and max-pooled over time,
//    giving CharChannelSize features per token.
//
// 2. Word embedding: pretrained vectors, frozen.
//
// 3. Highway network: two gated layers over [word; char]
//      y = g ⊙ relu(x Wt + bt) + (1 - g) ⊙ x,   g = σ(x Wg + bg)
//
// 4. Contextual layer: H = tanh(y Wc + bc) for the context, U the same for
//    the question (shared weights), width 2·HiddenSize.
//
// 5. Attention flow:
//      S[t,j] = w1·H_t + w2·U_j + w3·(H_t ⊙ U_j)
//      Context-to-query: Ũ = softmax_j(S) U
//      Query-to-context: h̃ = softmax_t(max_j S) H, tiled over T
//      G = [H; Ũ; H⊙Ũ; H⊙h̃]
//
// 6. Modeling: M = tanh(G Wm + bm), M2 = tanh(M Wm2 + bm2)
//
// 7. Output: start = [G; M] w_p1, end = [G; M2] w_p2
//
// WHAT'S SIMPLER THAN THE PAPER:
// The contextual and modeling layers are position-wise projections rather
// than bidirectional LSTMs. The attention flow layer, which is what gives
// the model its name, is complete.
//
// Every layer keeps what its backward pass needs in a cache struct;
// bidaf_backward.go consumes them.
//
// ===========================================================================

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
)

// maskedScore fills score positions past an example's context length so
// softmax assigns them zero probability.
const maskedScore = -1e30

// ModelConfig holds the architecture hyperparameters. It is stored in the
// snapshot header so a snapshot rebuilds the same shapes.
type ModelConfig struct {
	WordVocabSize    int     `json:"word_vocab_size"`
	WordDim          int     `json:"word_dim"`
	CharVocabSize    int     `json:"char_vocab_size"`
	CharDim          int     `json:"char_dim"`
	CharChannelSize  int     `json:"char_channel_size"`
	CharChannelWidth int     `json:"char_channel_width"`
	HiddenSize       int     `json:"hidden_size"`
	HighwayLayers    int     `json:"highway_layers"`
	DropoutRate      float64 `json:"dropout_rate"`
}

// Validate rejects shapes that cannot build a model.
func (c ModelConfig) Validate() error {
	for name, v := range map[string]int{
		"word_vocab_size":    c.WordVocabSize,
		"word_dim":           c.WordDim,
		"char_vocab_size":    c.CharVocabSize,
		"char_dim":           c.CharDim,
		"char_channel_size":  c.CharChannelSize,
		"char_channel_width": c.CharChannelWidth,
		"hidden_size":        c.HiddenSize,
	} {
		if v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidShape, name, v)
		}
	}
	if c.HighwayLayers < 0 {
		return fmt.Errorf("%w: highway_layers must be non-negative", ErrInvalidShape)
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return fmt.Errorf("%w: dropout_rate must be in [0, 1), got %g", ErrInvalidShape, c.DropoutRate)
	}
	return nil
}

func (c ModelConfig) embedDim() int  { return c.WordDim + c.CharChannelSize }
func (c ModelConfig) ctxDim() int    { return 2 * c.HiddenSize }
func (c ModelConfig) flowDim() int   { return 4 * c.ctxDim() }
func (c ModelConfig) outputDim() int { return c.flowDim() + c.ctxDim() }

// Highway is one gated highway layer.
type Highway struct {
	gateW, gateB   *Tensor
	transW, transB *Tensor
}

// BiDAF is the reader model. Parameters are mutated only by an optimizer
// step; Forward never writes to them.
type BiDAF struct {
	config ModelConfig

	wordEmbed *Tensor // (vocab, word_dim), frozen
	charEmbed *Tensor // (char_vocab, char_dim)
	convW     *Tensor // (char_dim*width, channels)
	convB     *Tensor // (1, channels)

	highways []*Highway

	ctxW, ctxB *Tensor // (embed, 2h)

	attC, attQ, attCQ *Tensor // (1, 2h) each

	modW, modB       *Tensor // (8h, 2h)
	endModW, endModB *Tensor // (2h, 2h)

	startW, startB *Tensor // (10h, 1)
	endW, endB     *Tensor // (10h, 1)

	training bool
	rng      *rand.Rand
}

// NamedTensor pairs a parameter with its stable snapshot name.
type NamedTensor struct {
	Name   string
	Tensor *Tensor
}

// NewBiDAF builds a model around pretrained word vectors. vectors must have
// one row per word id and WordDim columns; it is used as is, not copied.
func NewBiDAF(config ModelConfig, vectors *Tensor, seed int64) (*BiDAF, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if vectors.Rows() != config.WordVocabSize || vectors.Cols() != config.WordDim {
		return nil, fmt.Errorf("%w: vectors %v, want (%d, %d)", ErrShapeMismatch,
			vectors.shape, config.WordVocabSize, config.WordDim)
	}

	rng := rand.New(rand.NewSource(seed))
	init := func(fanIn int, shape ...int) *Tensor {
		return NewTensorRand(rng, 1/math.Sqrt(float64(fanIn)), shape...)
	}

	e, c := config.embedDim(), config.ctxDim()
	window := config.CharDim * config.CharChannelWidth

	m := &BiDAF{
		config:    config,
		wordEmbed: vectors,
		charEmbed: NewTensorRand(rng, 0.1, config.CharVocabSize, config.CharDim),
		convW:     init(window, window, config.CharChannelSize),
		convB:     NewTensor(1, config.CharChannelSize),
		ctxW:      init(e, e, c),
		ctxB:      NewTensor(1, c),
		attC:      init(c, 1, c),
		attQ:      init(c, 1, c),
		attCQ:     init(c, 1, c),
		modW:      init(config.flowDim(), config.flowDim(), c),
		modB:      NewTensor(1, c),
		endModW:   init(c, c, c),
		endModB:   NewTensor(1, c),
		startW:    init(config.outputDim(), config.outputDim(), 1),
		startB:    NewTensor(1, 1),
		endW:      init(config.outputDim(), config.outputDim(), 1),
		endB:      NewTensor(1, 1),
		training:  true,
		rng:       rng,
	}
	for l := 0; l < config.HighwayLayers; l++ {
		m.highways = append(m.highways, &Highway{
			gateW:  init(e, e, e),
			gateB:  NewTensor(1, e),
			transW: init(e, e, e),
			transB: NewTensor(1, e),
		})
	}
	return m, nil
}

// Config returns the architecture the model was built with.
func (m *BiDAF) Config() ModelConfig { return m.config }

// Train enables dropout.
func (m *BiDAF) Train() { m.training = true }

// Eval disables dropout so forward passes are deterministic.
func (m *BiDAF) Eval() { m.training = false }

// Training reports the current mode.
func (m *BiDAF) Training() bool { return m.training }

// NamedParameters returns every trainable tensor in snapshot order.
// The frozen word embedding is not included.
func (m *BiDAF) NamedParameters() []NamedTensor {
	params := []NamedTensor{
		{"char_embed", m.charEmbed},
		{"char_conv.weight", m.convW},
		{"char_conv.bias", m.convB},
	}
	for l, h := range m.highways {
		params = append(params,
			NamedTensor{fmt.Sprintf("highway.%d.gate.weight", l), h.gateW},
			NamedTensor{fmt.Sprintf("highway.%d.gate.bias", l), h.gateB},
			NamedTensor{fmt.Sprintf("highway.%d.transform.weight", l), h.transW},
			NamedTensor{fmt.Sprintf("highway.%d.transform.bias", l), h.transB},
		)
	}
	return append(params,
		NamedTensor{"context.weight", m.ctxW},
		NamedTensor{"context.bias", m.ctxB},
		NamedTensor{"att.context", m.attC},
		NamedTensor{"att.question", m.attQ},
		NamedTensor{"att.product", m.attCQ},
		NamedTensor{"modeling.weight", m.modW},
		NamedTensor{"modeling.bias", m.modB},
		NamedTensor{"modeling_end.weight", m.endModW},
		NamedTensor{"modeling_end.bias", m.endModB},
		NamedTensor{"output_start.weight", m.startW},
		NamedTensor{"output_start.bias", m.startB},
		NamedTensor{"output_end.weight", m.endW},
		NamedTensor{"output_end.bias", m.endB},
	)
}

// Parameters returns every trainable tensor.
func (m *BiDAF) Parameters() []*Tensor {
	named := m.NamedParameters()
	params := make([]*Tensor, len(named))
	for i, p := range named {
		params[i] = p.Tensor
	}
	return params
}

// ===========================================================================
// FORWARD
// ===========================================================================

// Forward scores every context position of every example in the batch.
// Both results are (batch, cLen); positions past an example's context
// length hold maskedScore.
//
// In evaluation mode examples are scored by a pool of workers; each writes
// only its own output rows, so the result does not depend on scheduling.
// Training mode draws dropout masks from one generator and stays sequential.
func (m *BiDAF) Forward(b *Batch) (start, end *Tensor) {
	start = NewTensor(b.Size(), b.CLen())
	end = NewTensor(b.Size(), b.CLen())

	score := func(i int) {
		cache := m.ForwardWithCache(b, i)
		startRow, endRow := start.Row(i), end.Row(i)
		for t := range startRow {
			if t < len(cache.p1) {
				startRow[t] = cache.p1[t]
				endRow[t] = cache.p2[t]
			} else {
				startRow[t] = maskedScore
				endRow[t] = maskedScore
			}
		}
	}

	workers := min(GetGlobalComputeConfig().numWorkers(), b.Size())
	if m.training || workers <= 1 {
		for i := 0; i < b.Size(); i++ {
			score(i)
		}
		return start, end
	}

	jobs := make(chan int, b.Size())
	for i := 0; i < b.Size(); i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				score(i)
			}
		}()
	}
	wg.Wait()
	return start, end
}

// charCache keeps one token's convolution inputs.
type charCache struct {
	ids     []int   // character ids, padded to at least the window width
	windows *Tensor // (positions, char_dim*width)
	pre     *Tensor // (positions, channels)
	arg     []int   // argmax position per channel
}

// highwayCache keeps one highway layer's activations.
type highwayCache struct {
	in    *Tensor
	gate  *Tensor
	trPre *Tensor
	tr    *Tensor
}

// encodeCache keeps the embedding-to-contextual activations of one sequence.
type encodeCache struct {
	chars []*charCache
	mask  []float64 // dropout multipliers, nil when dropout is off
	hwy   []*highwayCache
	y     *Tensor // highway output
	h     *Tensor // contextual output
}

// ExampleCache holds everything the backward pass needs for one example.
type ExampleCache struct {
	ctx, qry *encodeCache

	s     *Tensor // similarity (T, J)
	a     *Tensor // context-to-query attention (T, J)
	uHat  *Tensor // attended question (T, 2h)
	jStar []int   // argmax_j S[t, j]
	b     *Tensor // query-to-context attention (1, T)
	hHat  *Tensor // attended context (1, 2h)

	g   *Tensor // (T, 8h)
	mod *Tensor // (T, 2h)
	m2  *Tensor // (T, 2h)
	gm  *Tensor // [G; M]
	gm2 *Tensor // [G; M2]

	p1, p2 []float64
}

// Scores returns the start and end scores over the example's real tokens.
func (c *ExampleCache) Scores() (start, end []float64) { return c.p1, c.p2 }

// ForwardWithCache runs example i of the batch over its unpadded tokens.
func (m *BiDAF) ForwardWithCache(b *Batch, i int) *ExampleCache {
	cLen, qLen := b.CLens[i], b.QLens[i]

	cache := &ExampleCache{
		ctx: m.encode(b.CWord[i][:cLen], b.CChar[i][:cLen]),
		qry: m.encode(b.QWord[i][:qLen], b.QChar[i][:qLen]),
	}
	h, u := cache.ctx.h, cache.qry.h
	T, J, d := h.Rows(), u.Rows(), h.Cols()

	// Similarity S = (H w1) 1ᵀ + 1 (U w2)ᵀ + (H ⊙ w3) Uᵀ
	scaled := NewTensor(T, d)
	for t := 0; t < T; t++ {
		row, src := scaled.Row(t), h.Row(t)
		for k := range row {
			row[k] = src[k] * m.attCQ.data[k]
		}
	}
	s := MatMul(scaled, Transpose(u))
	for t := 0; t < T; t++ {
		hw := dot(h.Row(t), m.attC.data)
		row := s.Row(t)
		for j := 0; j < J; j++ {
			row[j] += hw + dot(u.Row(j), m.attQ.data)
		}
	}
	cache.s = s

	// Context-to-query
	cache.a = Softmax(s)
	cache.uHat = MatMul(cache.a, u)

	// Query-to-context
	maxS := NewTensor(1, T)
	cache.jStar = make([]int, T)
	for t := 0; t < T; t++ {
		j := argmax(s.Row(t))
		cache.jStar[t] = j
		maxS.data[t] = s.Row(t)[j]
	}
	cache.b = Softmax(maxS)
	cache.hHat = MatMul(cache.b, h)

	// G = [H; Ũ; H⊙Ũ; H⊙h̃]
	hu := Mul(h, cache.uHat)
	hh := NewTensor(T, d)
	for t := 0; t < T; t++ {
		row, src := hh.Row(t), h.Row(t)
		for k := range row {
			row[k] = src[k] * cache.hHat.data[k]
		}
	}
	cache.g = ConcatCols(h, cache.uHat, hu, hh)

	cache.mod = Tanh(AddBias(MatMul(cache.g, m.modW), m.modB))
	cache.m2 = Tanh(AddBias(MatMul(cache.mod, m.endModW), m.endModB))

	cache.gm = ConcatCols(cache.g, cache.mod)
	cache.gm2 = ConcatCols(cache.g, cache.m2)
	cache.p1 = AddBias(MatMul(cache.gm, m.startW), m.startB).data
	cache.p2 = AddBias(MatMul(cache.gm2, m.endW), m.endB).data

	return cache
}

// encode runs embedding, highway and contextual layers over one sequence.
func (m *BiDAF) encode(words []int, chars [][]int) *encodeCache {
	n := len(words)
	wd, cd := m.config.WordDim, m.config.CharChannelSize

	cache := &encodeCache{chars: make([]*charCache, n)}
	x := NewTensor(n, wd+cd)
	for i := 0; i < n; i++ {
		row := x.Row(i)
		copy(row[:wd], m.wordEmbed.Row(words[i]))
		cc, feats := m.charConv(chars[i])
		cache.chars[i] = cc
		copy(row[wd:], feats)
	}

	if m.training && m.config.DropoutRate > 0 {
		keep := 1 - m.config.DropoutRate
		cache.mask = make([]float64, len(x.data))
		for k := range x.data {
			if m.rng.Float64() < keep {
				cache.mask[k] = 1 / keep
			}
			x.data[k] *= cache.mask[k]
		}
	}

	for _, hw := range m.highways {
		hc := &highwayCache{in: x}
		hc.gate = Sigmoid(AddBias(MatMul(x, hw.gateW), hw.gateB))
		hc.trPre = AddBias(MatMul(x, hw.transW), hw.transB)
		hc.tr = ReLU(hc.trPre)
		out := NewTensor(x.shape...)
		for k := range out.data {
			g := hc.gate.data[k]
			out.data[k] = g*hc.tr.data[k] + (1-g)*x.data[k]
		}
		cache.hwy = append(cache.hwy, hc)
		x = out
	}

	cache.y = x
	cache.h = Tanh(AddBias(MatMul(x, m.ctxW), m.ctxB))
	return cache
}

// charConv embeds one token's characters, convolves and max-pools them.
func (m *BiDAF) charConv(ids []int) (*charCache, []float64) {
	width, dim := m.config.CharChannelWidth, m.config.CharDim

	padded := ids
	if len(padded) < width {
		padded = padIDs(ids, width)
	}
	positions := len(padded) - width + 1

	windows := NewTensor(positions, dim*width)
	for k := 0; k < positions; k++ {
		row := windows.Row(k)
		for w := 0; w < width; w++ {
			copy(row[w*dim:(w+1)*dim], m.charEmbed.Row(padded[k+w]))
		}
	}
	pre := AddBias(MatMul(windows, m.convW), m.convB)

	channels := m.config.CharChannelSize
	feats := make([]float64, channels)
	arg := make([]int, channels)
	for c := 0; c < channels; c++ {
		best := 0
		for k := 1; k < positions; k++ {
			if pre.data[k*channels+c] > pre.data[best*channels+c] {
				best = k
			}
		}
		arg[c] = best
		feats[c] = math.Max(0, pre.data[best*channels+c])
	}

	return &charCache{ids: padded, windows: windows, pre: pre, arg: arg}, feats
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
