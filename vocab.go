package main

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Reserved vocabulary entries. Every vocabulary starts with these two ids,
// so an unknown token always maps to UnkID and padding to PadID.
const (
	UnkToken = "<unk>"
	PadToken = "<pad>"

	UnkID = 0
	PadID = 1
)

const vocabHeader = "BIDAF_VOCAB"

var (
	// ErrVocabFormat indicates a vocabulary or vectors file that cannot be parsed.
	ErrVocabFormat = errors.New("vocab: invalid file format")
)

// Vocabulary is an immutable bidirectional token <-> id mapping.
//
// Word vocabularies are built lowercased; character vocabularies are not.
// The flag travels with the file so lookups match how the ids were built.
type Vocabulary struct {
	itos  []string
	stoi  map[string]int
	lower bool
}

// NewVocabulary creates a vocabulary from tokens in id order. The reserved
// entries are prepended; duplicates and reserved tokens in tokens are skipped.
func NewVocabulary(tokens []string, lower bool) *Vocabulary {
	v := &Vocabulary{
		itos:  []string{UnkToken, PadToken},
		stoi:  map[string]int{UnkToken: UnkID, PadToken: PadID},
		lower: lower,
	}
	for _, tok := range tokens {
		if lower {
			tok = strings.ToLower(tok)
		}
		if _, ok := v.stoi[tok]; ok {
			continue
		}
		v.stoi[tok] = len(v.itos)
		v.itos = append(v.itos, tok)
	}
	return v
}

// BuildVocabulary orders tokens by descending count (ties alphabetically)
// and drops those seen fewer than minFreq times.
func BuildVocabulary(counts map[string]int, minFreq int, lower bool) *Vocabulary {
	merged := counts
	if lower {
		merged = make(map[string]int, len(counts))
		for tok, n := range counts {
			merged[strings.ToLower(tok)] += n
		}
	}

	tokens := make([]string, 0, len(merged))
	for tok, n := range merged {
		if n >= minFreq {
			tokens = append(tokens, tok)
		}
	}
	sort.Slice(tokens, func(i, j int) bool {
		if merged[tokens[i]] != merged[tokens[j]] {
			return merged[tokens[i]] > merged[tokens[j]]
		}
		return tokens[i] < tokens[j]
	})

	return NewVocabulary(tokens, lower)
}

// Lookup returns the id of tok, or UnkID.
func (v *Vocabulary) Lookup(tok string) int {
	if v.lower {
		tok = strings.ToLower(tok)
	}
	if id, ok := v.stoi[tok]; ok {
		return id
	}
	return UnkID
}

// Token returns the token for id, or UnkToken when id is out of range.
func (v *Vocabulary) Token(id int) string {
	if id < 0 || id >= len(v.itos) {
		return UnkToken
	}
	return v.itos[id]
}

// Size returns the number of entries including the reserved ones.
func (v *Vocabulary) Size() int {
	return len(v.itos)
}

// Lower reports whether lookups are case-folded.
func (v *Vocabulary) Lower() bool {
	return v.lower
}

// Save writes the vocabulary as text: a header line, then one
// "id<TAB>hex(token)" line per entry in id order.
func (v *Vocabulary) Save(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("vocab: failed to create file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if _, err := fmt.Fprintf(w, "%s lower=%t\n", vocabHeader, v.lower); err != nil {
		return fmt.Errorf("vocab: failed to write header: %w", err)
	}
	for id, tok := range v.itos {
		if _, err := fmt.Fprintf(w, "%d\t%s\n", id, hex.EncodeToString([]byte(tok))); err != nil {
			return fmt.Errorf("vocab: failed to write entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("vocab: failed to flush: %w", err)
	}
	return nil
}

// LoadVocabulary reads a file written by Save.
func LoadVocabulary(filename string) (*Vocabulary, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("vocab: failed to open file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return nil, fmt.Errorf("%w: empty file %s", ErrVocabFormat, filename)
	}
	header := strings.Fields(scanner.Text())
	if len(header) != 2 || header[0] != vocabHeader {
		return nil, fmt.Errorf("%w: bad header in %s", ErrVocabFormat, filename)
	}
	lower, err := strconv.ParseBool(strings.TrimPrefix(header[1], "lower="))
	if err != nil {
		return nil, fmt.Errorf("%w: bad lower flag: %v", ErrVocabFormat, err)
	}

	v := &Vocabulary{stoi: make(map[string]int), lower: lower}
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: line %q", ErrVocabFormat, line)
		}
		id, err := strconv.Atoi(parts[0])
		if err != nil || id != len(v.itos) {
			return nil, fmt.Errorf("%w: unexpected id %q", ErrVocabFormat, parts[0])
		}
		raw, err := hex.DecodeString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decode token: %v", ErrVocabFormat, err)
		}
		tok := string(raw)
		v.stoi[tok] = id
		v.itos = append(v.itos, tok)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("vocab: error reading file: %w", err)
	}
	if len(v.itos) < 2 || v.itos[UnkID] != UnkToken || v.itos[PadID] != PadToken {
		return nil, fmt.Errorf("%w: missing reserved entries in %s", ErrVocabFormat, filename)
	}
	return v, nil
}

// ===========================================================================
// PRETRAINED VECTORS
// ===========================================================================

type vectorsHeader struct {
	Rows int `json:"rows"`
	Dim  int `json:"dim"`
}

// SaveVectors writes an embedding matrix (rows indexed by word id):
// a 4-byte header length, a JSON header, then float64 little-endian rows.
func SaveVectors(filename string, vectors *Tensor) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("vectors: failed to create file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	header, err := json.Marshal(vectorsHeader{Rows: vectors.Rows(), Dim: vectors.Cols()})
	if err != nil {
		return fmt.Errorf("vectors: failed to marshal header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(header))); err != nil {
		return fmt.Errorf("vectors: failed to write header length: %w", err)
	}
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("vectors: failed to write header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, vectors.data); err != nil {
		return fmt.Errorf("vectors: failed to write data: %w", err)
	}
	return w.Flush()
}

// LoadVectors reads a matrix written by SaveVectors.
func LoadVectors(filename string) (*Tensor, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("vectors: failed to open file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var headerLen uint32
	if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("vectors: failed to read header length: %w", err)
	}
	raw := make([]byte, headerLen)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("vectors: failed to read header: %w", err)
	}
	var header vectorsHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVocabFormat, err)
	}
	if header.Rows <= 0 || header.Dim <= 0 {
		return nil, fmt.Errorf("%w: vectors shape %dx%d", ErrVocabFormat, header.Rows, header.Dim)
	}

	vectors := NewTensor(header.Rows, header.Dim)
	if err := binary.Read(r, binary.LittleEndian, vectors.data); err != nil {
		return nil, fmt.Errorf("vectors: failed to read data: %w", err)
	}
	return vectors, nil
}

// LoadGloVe builds an embedding matrix for vocab from a GloVe text file
// ("word v1 v2 ... vdim" per line). Words missing from the file keep a zero
// vector, as do the reserved rows.
func LoadGloVe(filename string, vocab *Vocabulary, dim int) (*Tensor, int, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, 0, fmt.Errorf("glove: failed to open file: %w", err)
	}
	defer f.Close()

	vectors := NewTensor(vocab.Size(), dim)
	found := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != dim+1 {
			continue
		}
		id := vocab.Lookup(fields[0])
		if id == UnkID || id == PadID {
			continue
		}
		row := vectors.Row(id)
		for k, s := range fields[1:] {
			val, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, 0, fmt.Errorf("glove: bad value for %q: %w", fields[0], err)
			}
			row[k] = val
		}
		found++
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("glove: error reading file: %w", err)
	}
	return vectors, found, nil
}

// VocabFiles names the three artifacts the preprocess command writes.
type VocabFiles struct {
	Char    string
	Word    string
	Vectors string
}

// Vocabs bundles what every command loads at startup.
type Vocabs struct {
	Char    *Vocabulary
	Word    *Vocabulary
	Vectors *Tensor
}

// LoadVocabs loads the char vocabulary, word vocabulary and pretrained vectors.
func LoadVocabs(files VocabFiles) (*Vocabs, error) {
	char, err := LoadVocabulary(files.Char)
	if err != nil {
		return nil, fmt.Errorf("failed to load char vocab: %w", err)
	}
	word, err := LoadVocabulary(files.Word)
	if err != nil {
		return nil, fmt.Errorf("failed to load word vocab: %w", err)
	}
	vectors, err := LoadVectors(files.Vectors)
	if err != nil {
		return nil, fmt.Errorf("failed to load pretrained vectors: %w", err)
	}
	if vectors.Rows() != word.Size() {
		return nil, fmt.Errorf("%w: %d vectors for %d words", ErrVocabFormat, vectors.Rows(), word.Size())
	}
	return &Vocabs{Char: char, Word: word, Vectors: vectors}, nil
}
