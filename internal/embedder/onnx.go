//go:build onnx

// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package embedder

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig locates the MiniLM model and tokenizer on disk.
type ONNXConfig struct {
	ModelPath     string
	TokenizerPath string
	// LibraryPath points at libonnxruntime; empty uses the loader default.
	LibraryPath string
	// Dimension defaults to DefaultDimension (all-MiniLM-L6-v2).
	Dimension int
}

// ONNX runs a MiniLM sentence encoder through onnxruntime. Builds without
// the onnx tag fall back to the hash embedder.
type ONNX struct {
	session   *ort.DynamicAdvancedSession
	vocab     map[string]int64
	clsToken  int64
	sepToken  int64
	unkToken  int64
	dimension int
}

const maxSequenceLen = 128

// NewONNX loads the model and tokenizer and initializes the runtime.
func NewONNX(cfg ONNXConfig) (*ONNX, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx: ModelPath is required")
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("onnx: initialize runtime: %w", err)
	}

	vocab, special, err := loadVocab(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: load tokenizer: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("onnx: create session: %w", err)
	}

	return &ONNX{
		session:   session,
		vocab:     vocab,
		clsToken:  special["[CLS]"],
		sepToken:  special["[SEP]"],
		unkToken:  special["[UNK]"],
		dimension: cfg.Dimension,
	}, nil
}

func (e *ONNX) Dimension() int { return e.dimension }

func (e *ONNX) Embed(text string) ([]float32, error) {
	inputIDs := make([]int64, maxSequenceLen)
	attentionMask := make([]int64, maxSequenceLen)
	tokenTypeIDs := make([]int64, maxSequenceLen)

	tokens := e.tokenize(text)
	if len(tokens) > maxSequenceLen-2 {
		tokens = tokens[:maxSequenceLen-2]
	}
	inputIDs[0] = e.clsToken
	attentionMask[0] = 1
	for i, tok := range tokens {
		inputIDs[i+1] = tok
		attentionMask[i+1] = 1
	}
	inputIDs[len(tokens)+1] = e.sepToken
	attentionMask[len(tokens)+1] = 1

	shape := ort.NewShape(1, int64(maxSequenceLen))
	idsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("onnx: input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("onnx: attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()
	typeTensor, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("onnx: token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{idsTensor, maskTensor, typeTensor}, outputs); err != nil {
		return nil, fmt.Errorf("onnx: inference: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("onnx: unexpected output tensor type")
	}
	return e.meanPool(hidden, attentionMask)
}

func (e *ONNX) EmbedBatch(texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Close releases the onnxruntime session.
func (e *ONNX) Close() error {
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	return nil
}

// meanPool averages token states over attended positions, then normalizes.
func (e *ONNX) meanPool(hidden *ort.Tensor[float32], attentionMask []int64) ([]float32, error) {
	data := hidden.GetData()
	shape := hidden.GetShape()
	if len(shape) != 3 || shape[2] != int64(e.dimension) {
		return nil, fmt.Errorf("onnx: unexpected output shape %v", shape)
	}
	seqLen := int(shape[1])

	vec := make([]float32, e.dimension)
	attended := float32(0)
	for i := 0; i < seqLen; i++ {
		if attentionMask[i] == 0 {
			continue
		}
		attended++
		offset := i * e.dimension
		for j := 0; j < e.dimension; j++ {
			vec[j] += data[offset+j]
		}
	}
	if attended > 0 {
		for j := range vec {
			vec[j] /= attended
		}
	}
	return normalize(vec), nil
}

// tokenize performs greedy WordPiece over a lowercased, whitespace-split
// input, which is all MiniLM's uncased vocabulary needs.
func (e *ONNX) tokenize(text string) []int64 {
	var ids []int64
	for _, word := range strings.Fields(strings.ToLower(text)) {
		ids = append(ids, e.wordPiece(word)...)
	}
	return ids
}

func (e *ONNX) wordPiece(word string) []int64 {
	var ids []int64
	runes := []rune(word)
	start := 0
	for start < len(runes) {
		end := len(runes)
		matched := int64(-1)
		for end > start {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := e.vocab[piece]; ok {
				matched = id
				break
			}
			end--
		}
		if matched < 0 {
			return []int64{e.unkToken}
		}
		ids = append(ids, matched)
		start = end
	}
	return ids
}

// loadVocab reads the vocabulary out of a HuggingFace tokenizer.json.
func loadVocab(path string) (map[string]int64, map[string]int64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var file struct {
		Model struct {
			Vocab map[string]int64 `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, nil, err
	}
	if len(file.Model.Vocab) == 0 {
		return nil, nil, fmt.Errorf("tokenizer has no vocabulary")
	}
	special := map[string]int64{}
	for _, tok := range []string{"[CLS]", "[SEP]", "[UNK]"} {
		id, ok := file.Model.Vocab[tok]
		if !ok {
			return nil, nil, fmt.Errorf("tokenizer missing %s token", tok)
		}
		special[tok] = id
	}
	return file.Model.Vocab, special, nil
}
