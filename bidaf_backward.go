package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Backward pass for one BiDAF example. Gradients flow from the two score
// vectors back through output, modeling, attention flow, contextual,
// highway and character-CNN layers, and are accumulated into Tensor.grad of
// every trainable parameter. The word embedding is frozen and receives none.
//
// ATTENTION FLOW GRADIENTS (the only non-obvious part):
//
//   G = [H; Ũ; H⊙Ũ; H⊙h̃]  splits ∂G into four blocks d0..d3:
//     ∂H += d0 + d2⊙Ũ + d3⊙h̃      ∂Ũ = d1 + d2⊙H      ∂h̃ = Σ_t d3_t⊙H_t
//
//   Ũ = a U                        ∂a = ∂Ũ Uᵀ,  ∂U += aᵀ ∂Ũ,  ∂S += softmax'(a, ∂a)
//   h̃ = b H,  b = softmax(max_j S) ∂b = ∂h̃ Hᵀ, ∂H += bᵀ ∂h̃, ∂S[t, j*_t] += softmax'(b, ∂b)_t
//
//   S = (H w1) 1ᵀ + 1 (U w2)ᵀ + (H⊙w3) Uᵀ
//     ∂w1 = Σ_t r_t H_t,  ∂H_t += r_t w1      with r = row sums of ∂S
//     ∂w2 = Σ_j c_j U_j,  ∂U_j += c_j w2      with c = column sums of ∂S
//     ∂H += (∂S U) ⊙ w3,  ∂U += (∂Sᵀ H) ⊙ w3,  ∂w3 = Σ_t H_t ⊙ (∂S U)_t
//
// ===========================================================================

// BackwardWithCache accumulates parameter gradients for one example given
// ∂L/∂start and ∂L/∂end over its real context tokens.
func (m *BiDAF) BackwardWithCache(cache *ExampleCache, gradStart, gradEnd []float64) {
	T := len(cache.p1)
	d := m.config.ctxDim()

	// Output layer
	dGM := LinearBackward(cache.gm, m.startW, m.startB, NewTensorFrom(gradStart, T, 1))
	dGM2 := LinearBackward(cache.gm2, m.endW, m.endB, NewTensorFrom(gradEnd, T, 1))
	parts := SplitCols(dGM, m.config.flowDim(), d)
	dG, dMod := parts[0], parts[1]
	parts2 := SplitCols(dGM2, m.config.flowDim(), d)
	dG = Add(dG, parts2[0])

	// Modeling layers
	dM2Pre := TanhBackward(cache.m2, parts2[1])
	dMod = Add(dMod, LinearBackward(cache.mod, m.endModW, m.endModB, dM2Pre))
	dModPre := TanhBackward(cache.mod, dMod)
	dG = Add(dG, LinearBackward(cache.g, m.modW, m.modB, dModPre))

	// Attention flow
	h, u := cache.ctx.h, cache.qry.h
	blocks := SplitCols(dG, d, d, d, d)
	d0, d1, d2, d3 := blocks[0], blocks[1], blocks[2], blocks[3]

	dH := d0
	dUHat := Add(d1, Mul(d2, h))
	dHHat := make([]float64, d)
	for t := 0; t < T; t++ {
		dhRow, hRow, uhRow := dH.Row(t), h.Row(t), cache.uHat.Row(t)
		d2Row, d3Row := d2.Row(t), d3.Row(t)
		for k := 0; k < d; k++ {
			dhRow[k] += d2Row[k]*uhRow[k] + d3Row[k]*cache.hHat.data[k]
			dHHat[k] += d3Row[k] * hRow[k]
		}
	}

	// Query-to-context
	dB := NewTensor(1, T)
	for t := 0; t < T; t++ {
		hRow, dhRow := h.Row(t), dH.Row(t)
		dB.data[t] = dot(dHHat, hRow)
		bt := cache.b.data[t]
		for k := 0; k < d; k++ {
			dhRow[k] += bt * dHHat[k]
		}
	}
	dMaxS := SoftmaxBackward(cache.b, dB)

	// Context-to-query
	dA := MatMul(dUHat, Transpose(u))
	dU := MatMul(Transpose(cache.a), dUHat)
	dS := SoftmaxBackward(cache.a, dA)
	for t := 0; t < T; t++ {
		dS.Row(t)[cache.jStar[t]] += dMaxS.data[t]
	}

	// Similarity
	J := u.Rows()
	dSU := MatMul(dS, u)             // (T, d)
	dSTH := MatMul(Transpose(dS), h) // (J, d)
	for t := 0; t < T; t++ {
		r := 0.0
		for _, v := range dS.Row(t) {
			r += v
		}
		hRow, dhRow, dsuRow := h.Row(t), dH.Row(t), dSU.Row(t)
		for k := 0; k < d; k++ {
			m.attC.grad[k] += r * hRow[k]
			m.attCQ.grad[k] += hRow[k] * dsuRow[k]
			dhRow[k] += r*m.attC.data[k] + dsuRow[k]*m.attCQ.data[k]
		}
	}
	for j := 0; j < J; j++ {
		c := 0.0
		for t := 0; t < T; t++ {
			c += dS.Row(t)[j]
		}
		uRow, duRow, dsthRow := u.Row(j), dU.Row(j), dSTH.Row(j)
		for k := 0; k < d; k++ {
			m.attQ.grad[k] += c * uRow[k]
			duRow[k] += c*m.attQ.data[k] + dsthRow[k]*m.attCQ.data[k]
		}
	}

	m.encodeBackward(cache.ctx, dH)
	m.encodeBackward(cache.qry, dU)
}

// encodeBackward pushes ∂L/∂H of one sequence back to the character CNN.
func (m *BiDAF) encodeBackward(cache *encodeCache, dH *Tensor) {
	dPre := TanhBackward(cache.h, dH)
	dx := LinearBackward(cache.y, m.ctxW, m.ctxB, dPre)

	for l := len(m.highways) - 1; l >= 0; l-- {
		hw, hc := m.highways[l], cache.hwy[l]

		dGate := NewTensor(dx.shape...)
		dTr := NewTensor(dx.shape...)
		dIn := NewTensor(dx.shape...)
		for k, g := range hc.gate.data {
			dy := dx.data[k]
			dGate.data[k] = dy * (hc.tr.data[k] - hc.in.data[k])
			dTr.data[k] = dy * g
			dIn.data[k] = dy * (1 - g)
		}
		dIn = Add(dIn, LinearBackward(hc.in, hw.gateW, hw.gateB, SigmoidBackward(hc.gate, dGate)))
		dIn = Add(dIn, LinearBackward(hc.in, hw.transW, hw.transB, ReLUBackward(hc.trPre, dTr)))
		dx = dIn
	}

	if cache.mask != nil {
		for k := range dx.data {
			dx.data[k] *= cache.mask[k]
		}
	}

	wd := m.config.WordDim
	for i, cc := range cache.chars {
		m.charConvBackward(cc, dx.Row(i)[wd:])
	}
}

// charConvBackward routes each channel's gradient to the window that won
// the max-pool, then into the convolution and character embeddings.
func (m *BiDAF) charConvBackward(cc *charCache, gradFeats []float64) {
	channels := m.config.CharChannelSize
	dPre := NewTensor(cc.pre.shape...)
	routed := false
	for c, g := range gradFeats {
		k := cc.arg[c]
		if g != 0 && cc.pre.data[k*channels+c] > 0 {
			dPre.data[k*channels+c] = g
			routed = true
		}
	}
	if !routed {
		return
	}

	dWindows := LinearBackward(cc.windows, m.convW, m.convB, dPre)
	width, dim := m.config.CharChannelWidth, m.config.CharDim
	for k := 0; k < dWindows.Rows(); k++ {
		row := dWindows.Row(k)
		for w := 0; w < width; w++ {
			grad := m.charEmbed.GradRow(cc.ids[k+w])
			for j := 0; j < dim; j++ {
				grad[j] += row[w*dim+j]
			}
		}
	}
}
