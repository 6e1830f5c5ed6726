// Package tokenizer provides the byte-level tokenizer used by the toy model
// and the generation driver. Every byte maps to its own id, with BOS and EOS
// appended past the byte range, so any string round-trips exactly.
package tokenizer

import (
	"fmt"
	"strings"
)

const (
	byteVocab = 256

	// BOS and EOS sit directly after the byte ids.
	BOS = byteVocab
	EOS = byteVocab + 1

	// VocabSize is the model's output dimension.
	VocabSize = byteVocab + 2
)

// ByteLevel tokenizes text one byte per token.
type ByteLevel struct {
	punct []int
}

// NewByteLevel returns a tokenizer over the 256 byte ids plus BOS and EOS.
func NewByteLevel() *ByteLevel {
	t := &ByteLevel{}
	for _, c := range []byte(`!"#$%&'()*,-./:;?@[]_{}`) {
		t.punct = append(t.punct, int(c))
	}
	return t
}

// Encode maps each byte of s to its id. The result never includes BOS or
// EOS; callers add those when the model expects them.
func (t *ByteLevel) Encode(s string) ([]int, error) {
	ids := make([]int, 0, len(s))
	for i := 0; i < len(s); i++ {
		ids = append(ids, int(s[i]))
	}
	return ids, nil
}

// Decode reassembles a string from token ids, skipping BOS and EOS.
func (t *ByteLevel) Decode(ids []int) (string, error) {
	var sb strings.Builder
	sb.Grow(len(ids))
	for _, id := range ids {
		switch {
		case id >= 0 && id < byteVocab:
			sb.WriteByte(byte(id))
		case id == BOS || id == EOS:
			// markers carry no text
		default:
			return "", fmt.Errorf("token id %d out of range [0, %d)", id, VocabSize)
		}
	}
	return sb.String(), nil
}

// SpecialIDs returns the ids that carry no text content.
func (t *ByteLevel) SpecialIDs() []int { return []int{BOS, EOS} }

// PunctuationIDs returns the ids of common punctuation bytes. Eviction
// strategies that class-protect punctuation consult this set.
func (t *ByteLevel) PunctuationIDs() []int {
	out := make([]int, len(t.punct))
	copy(out, t.punct)
	return out
}
