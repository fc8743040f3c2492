// Package tokenizer abstracts token counting behind a single interface so
// the chat package's history buffer never depends on a specific encoding.
package tokenizer

import (
	"github.com/pkoukk/tiktoken-go"
)

// Counter counts the number of tokens a model would consume for a given
// string. Swappable so tests can stub it out without loading a real BPE
// vocabulary.
type Counter interface {
	Count(text string) int
}

// TiktokenCounter counts tokens using the cl100k_base encoding, matching the
// encoding used for gpt-4 and gpt-3.5-turbo.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the cl100k_base encoding once and reuses it for
// every Count call.
func NewTiktokenCounter() (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{enc: enc}, nil
}

// Count returns the number of tokens in text.
func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}
