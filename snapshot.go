package main

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ===========================================================================
// MODEL SNAPSHOTS
// ===========================================================================
//
// Format:
//   uint32 header length (little endian)
//   JSON header: model config + ordered list of {name, shape}
//   float64 little-endian data of each tensor, in header order
//
// The frozen word embedding is stored too, so a snapshot is self-contained.
// Loading checks every name and shape against the architecture the config
// builds, so a snapshot from a different layout fails loudly instead of
// silently misassigning weights.
// ===========================================================================

// ErrSnapshotMismatch indicates a snapshot whose tensors do not match the model.
var ErrSnapshotMismatch = errors.New("snapshot: tensor layout mismatch")

type snapshotEntry struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
}

type snapshotHeader struct {
	Config  ModelConfig     `json:"config"`
	Tensors []snapshotEntry `json:"tensors"`
}

func (m *BiDAF) snapshotTensors() []NamedTensor {
	return append([]NamedTensor{{"word_embed", m.wordEmbed}}, m.NamedParameters()...)
}

// Save writes the model to filename, creating parent directories.
func (m *BiDAF) Save(filename string) error {
	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("snapshot: failed to create directory: %w", err)
		}
	}

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("snapshot: failed to create file: %w", err)
	}
	defer f.Close()

	tensors := m.snapshotTensors()
	header := snapshotHeader{Config: m.config}
	for _, nt := range tensors {
		header.Tensors = append(header.Tensors, snapshotEntry{Name: nt.Name, Shape: nt.Tensor.Shape()})
	}
	raw, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("snapshot: failed to marshal header: %w", err)
	}

	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, uint32(len(raw))); err != nil {
		return fmt.Errorf("snapshot: failed to write header length: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("snapshot: failed to write header: %w", err)
	}
	for _, nt := range tensors {
		if err := binary.Write(w, binary.LittleEndian, nt.Tensor.data); err != nil {
			return fmt.Errorf("snapshot: failed to write %s: %w", nt.Name, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("snapshot: failed to flush: %w", err)
	}
	return f.Close()
}

// LoadBiDAF reads a model written by Save. The model comes back in
// evaluation mode.
func LoadBiDAF(filename string, seed int64) (*BiDAF, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("snapshot: failed to open file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var headerLen uint32
	if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("snapshot: failed to read header length: %w", err)
	}
	raw := make([]byte, headerLen)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("snapshot: failed to read header: %w", err)
	}
	var header snapshotHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("snapshot: failed to parse header: %w", err)
	}

	if err := header.Config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: invalid config: %v", ErrSnapshotMismatch, err)
	}
	vectors := NewTensor(header.Config.WordVocabSize, header.Config.WordDim)
	model, err := NewBiDAF(header.Config, vectors, seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotMismatch, err)
	}

	tensors := model.snapshotTensors()
	if len(tensors) != len(header.Tensors) {
		return nil, fmt.Errorf("%w: %d tensors in file, model has %d", ErrSnapshotMismatch, len(header.Tensors), len(tensors))
	}
	for i, nt := range tensors {
		entry := header.Tensors[i]
		if entry.Name != nt.Name || !shapeEqual(entry.Shape, nt.Tensor.shape) {
			return nil, fmt.Errorf("%w: file has %s%v, model expects %s%v", ErrSnapshotMismatch,
				entry.Name, entry.Shape, nt.Name, nt.Tensor.shape)
		}
		if err := binary.Read(r, binary.LittleEndian, nt.Tensor.data); err != nil {
			return nil, fmt.Errorf("snapshot: failed to read %s: %w", nt.Name, err)
		}
	}

	model.Eval()
	return model, nil
}
