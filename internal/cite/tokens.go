package cite

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Encoding is the byte-pair encoding used by the embedding models
// regscope targets. Chunk-size validation must use the same encoding
// the embedding service sees, so this is the ground truth everywhere.
const Encoding = "cl100k_base"

// Counter counts tokens in a text.
type Counter interface {
	Count(text string) int
}

// CounterFunc adapts a function to the Counter interface.
// Tests inject cheap counters this way.
type CounterFunc func(string) int

// Count implements Counter.
func (f CounterFunc) Count(text string) int { return f(text) }

type bpeCounter struct {
	enc *tiktoken.Tiktoken
}

// NewCounter returns a Counter backed by the embedding model's BPE.
// Construction fails if the encoding cannot be loaded; callers treat
// that as a startup configuration problem.
func NewCounter() (Counter, error) {
	enc, err := tiktoken.GetEncoding(Encoding)
	if err != nil {
		return nil, fmt.Errorf("load %s encoding: %w", Encoding, err)
	}
	return &bpeCounter{enc: enc}, nil
}

// Count returns the number of BPE tokens in text. Empty text is 0 tokens.
func (c *bpeCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}
