package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// charCounter counts one token per character, giving tests precise, easy to
// reason about budgets without pulling in a real BPE vocabulary.
type charCounter struct{}

func (charCounter) Count(text string) int {
	return len([]rune(text))
}

func TestBufferKeepsEverythingUnderBudget(t *testing.T) {
	history := []ChatMessage{
		NewMessage("system", "sys"),
		NewMessage("user", "hi"),
		NewMessage("assistant", "yo"),
	}
	b := NewBuffer(100, charCounter{}, history)

	result := b.Buffer(nil)

	require.Len(t, result, 3)
	assert.Equal(t, "system", result[0].Role)
	assert.Equal(t, "user", result[1].Role)
	assert.Equal(t, "assistant", result[2].Role)
}

func TestBufferShrinksWindowFromTheFront(t *testing.T) {
	history := []ChatMessage{
		NewMessage("system", "s"),
		NewMessage("user", "aaaaaaaaaa"),
		NewMessage("assistant", "bbbbbbbbbb"),
		NewMessage("user", "cc"),
	}
	// budget: maxTokens(20) - system(1) - margin(5) = 14 available.
	// tail-to-head: "cc"(2) fits, +assistant(10)=12 fits, +user(10)=22 doesn't.
	b := NewBuffer(20, charCounter{}, history)

	result := b.Buffer(nil)

	require.Len(t, result, 3)
	assert.Equal(t, "system", result[0].Role)
	assert.Equal(t, "bbbbbbbbbb", result[1].Content)
	assert.Equal(t, "cc", result[2].Content)
}

func TestBufferTruncatesLastMessageWhenStillOverBudget(t *testing.T) {
	longMessage := strings.Repeat("x", 50)
	history := []ChatMessage{
		NewMessage("system", "s"),
		NewMessage("user", longMessage),
	}
	b := NewBuffer(10, charCounter{}, history)

	result := b.Buffer(nil)

	require.Len(t, result, 2)
	assert.Less(t, len(result[1].Content), len(longMessage))
}

func TestBufferInsertsEphemeralWithoutPersistingIt(t *testing.T) {
	history := []ChatMessage{
		NewMessage("system", "s"),
		NewMessage("user", "hi"),
		NewMessage("assistant", "yo"),
	}
	b := NewBuffer(100, charCounter{}, history)
	ephemeral := NewMessage("system", "extra context")

	result := b.Buffer(&ephemeral)

	require.Len(t, result, 4)
	assert.Equal(t, "extra context", result[2].Content)
	assert.True(t, result[2].Metadata[ephemeralMetaKey].(bool))

	persisted := b.History()
	require.Len(t, persisted, 3)
	for _, m := range persisted {
		assert.NotEqual(t, "extra context", m.Content)
	}
}

func TestBufferInsertsEphemeralAtEndForShortHistory(t *testing.T) {
	history := []ChatMessage{
		NewMessage("user", "hi"),
	}
	b := NewBuffer(100, charCounter{}, history)
	ephemeral := NewMessage("system", "extra")

	result := b.Buffer(&ephemeral)

	require.Len(t, result, 2)
	assert.Equal(t, "extra", result[1].Content)
}

func TestTokenCountReadsFloatFromDeserializedMetadata(t *testing.T) {
	msg := NewMessage("user", "hello")
	msg.Metadata[tokenCountMetaKey] = float64(7) // what encoding/json hands back

	n, ok := msg.tokenCount()

	require.True(t, ok)
	assert.Equal(t, 7, n)
}

func TestAddMessageAppendsAndOptionallyRebuilds(t *testing.T) {
	b := NewBuffer(100, charCounter{}, []ChatMessage{NewMessage("system", "s")})

	raw := b.AddMessage(NewMessage("user", "hello"), false)
	require.Len(t, raw, 2)

	rebuilt := b.AddMessage(NewMessage("assistant", "hi"), true)
	require.Len(t, rebuilt, 3)
	assert.Equal(t, "system", rebuilt[0].Role)
}

func TestUpdateSystemMessageReplacesExistingOne(t *testing.T) {
	b := NewBuffer(100, charCounter{}, []ChatMessage{
		NewMessage("system", "old"),
		NewMessage("user", "hi"),
	})

	b.UpdateSystemMessage(NewMessage("system", "new"))

	history := b.History()
	require.Len(t, history, 2)
	assert.Equal(t, "new", history[0].Content)
}
