package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// wordCounter is a deterministic stand-in for TiktokenCounter used to
// exercise code that only depends on the Counter interface.
type wordCounter struct{}

func (wordCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(strings.Fields(text))
}

func TestCounterInterfaceSatisfiedByStub(t *testing.T) {
	var c Counter = wordCounter{}
	assert.Equal(t, 3, c.Count("one two three"))
	assert.Equal(t, 0, c.Count(""))
}
