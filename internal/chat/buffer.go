package chat

import "criabot-gateway/internal/tokenizer"

const (
	extraTokenMargin  = 5
	tokenCountMetaKey = "token_count"
	ephemeralMetaKey  = "is_ephemeral"
)

// ChatMessage is one turn of chat history.
type ChatMessage struct {
	Role             string                 `json:"role"`
	Content          string                 `json:"content"`
	AdditionalKwargs map[string]interface{} `json:"additional_kwargs,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// NewMessage builds a ChatMessage with an initialized metadata map.
func NewMessage(role, content string) ChatMessage {
	return ChatMessage{
		Role:             role,
		Content:          content,
		AdditionalKwargs: map[string]interface{}{},
		Metadata:         map[string]interface{}{},
	}
}

// tokenCount reads the cached count, tolerating the float64 that JSON
// deserialization turns it into after a cache round-trip.
func (m *ChatMessage) tokenCount() (int, bool) {
	if m.Metadata == nil {
		return 0, false
	}
	switch n := m.Metadata[tokenCountMetaKey].(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func (m *ChatMessage) setTokenCount(n int) {
	if m.Metadata == nil {
		m.Metadata = map[string]interface{}{}
	}
	m.Metadata[tokenCountMetaKey] = n
}

func (m *ChatMessage) setEphemeral(v bool) {
	if m.Metadata == nil {
		m.Metadata = map[string]interface{}{}
	}
	m.Metadata[ephemeralMetaKey] = v
}

// Buffer is a token-bounded sliding window over a chat's history. It keeps
// exactly one system message pinned at the front and, on each turn, can
// inject an additional ephemeral system message that is returned to the
// caller but never persisted back into history.
type Buffer struct {
	maxTokens int
	counter   tokenizer.Counter
	history   []ChatMessage
}

// NewBuffer wraps an existing history (e.g. loaded from cache) in a buffer
// bounded to maxTokens.
func NewBuffer(maxTokens int, counter tokenizer.Counter, history []ChatMessage) *Buffer {
	return &Buffer{maxTokens: maxTokens, counter: counter, history: history}
}

// History returns the buffer's persisted history (it never includes an
// ephemeral message).
func (b *Buffer) History() []ChatMessage {
	return b.history
}

// AddMessage appends message to history. When rebuild is true the window is
// immediately recomputed and returned; otherwise the raw history is returned.
func (b *Buffer) AddMessage(message ChatMessage, rebuild bool) []ChatMessage {
	b.history = append(b.history, message)
	if rebuild {
		return b.Buffer(nil)
	}
	return b.history
}

// popSystem splits history into its non-system messages and the sole system
// message, if any.
func popSystem(history []ChatMessage) ([]ChatMessage, *ChatMessage) {
	var system *ChatMessage
	rest := make([]ChatMessage, 0, len(history))
	for i := range history {
		if history[i].Role == "system" {
			m := history[i]
			system = &m
			continue
		}
		rest = append(rest, history[i])
	}
	return rest, system
}

// UpdateSystemMessage replaces the buffer's system message, keeping it
// pinned at position 0.
func (b *Buffer) UpdateSystemMessage(message ChatMessage) {
	rest, _ := popSystem(b.history)
	b.history = append([]ChatMessage{message}, rest...)
}

func (b *Buffer) historyTokens(history []ChatMessage) int {
	total := 0
	for i := range history {
		if n, ok := history[i].tokenCount(); ok {
			total += n
		}
	}
	return total
}

func (b *Buffer) ensureTokenCounts(history []ChatMessage) {
	for i := range history {
		if _, ok := history[i].tokenCount(); !ok {
			history[i].setTokenCount(b.counter.Count(history[i].Content))
		}
	}
}

// Buffer recomputes the sliding window from the current history and
// optionally injects an ephemeral system message into the returned slice.
// Window shrinking stops at a single remaining message; if that one message
// still exceeds budget its content is truncated in place.
func (b *Buffer) Buffer(systemEphemeral *ChatMessage) []ChatMessage {
	history, system := popSystem(append([]ChatMessage(nil), b.history...))
	b.ensureTokenCounts(history)

	if system != nil {
		system.setEphemeral(false)
		system.setTokenCount(b.counter.Count(system.Content))
	}
	if systemEphemeral != nil {
		systemEphemeral.setEphemeral(true)
		systemEphemeral.setTokenCount(b.counter.Count(systemEphemeral.Content))
	}

	systemTokens := 0
	if system != nil {
		systemTokens, _ = system.tokenCount()
	}
	ephemeralTokens := 0
	if systemEphemeral != nil {
		ephemeralTokens, _ = systemEphemeral.tokenCount()
	}

	available := b.maxTokens - systemTokens - ephemeralTokens - extraTokenMargin
	if available < 0 {
		available = 0
	}

	messageCount := len(history)
	for messageCount > 1 && b.historyTokens(history[len(history)-messageCount:]) > available {
		messageCount--
	}
	history = history[len(history)-messageCount:]

	if len(history) == 1 {
		b.truncateMessage(&history[0], available)
	}

	if system != nil {
		history = append([]ChatMessage{*system}, history...)
	}

	b.history = append([]ChatMessage(nil), history...)

	result := append([]ChatMessage(nil), history...)
	if systemEphemeral != nil {
		pos := len(result) - 1
		if len(result) <= 1 {
			pos = 1
		}
		result = insertMessage(result, pos, *systemEphemeral)
	}

	return result
}

func insertMessage(s []ChatMessage, index int, v ChatMessage) []ChatMessage {
	if index >= len(s) || index < 0 {
		return append(s, v)
	}
	s = append(s, ChatMessage{})
	copy(s[index+1:], s[index:])
	s[index] = v
	return s
}

// truncateMessage shrinks a single over-budget message's content until it
// fits maxTokens. One token is roughly 4 characters; trimming 3 characters
// per excess token avoids re-looping more than a couple of times.
func (b *Buffer) truncateMessage(message *ChatMessage, maxTokens int) {
	for {
		count := b.counter.Count(message.Content)
		message.setTokenCount(count)
		if count <= maxTokens {
			return
		}
		excess := count - maxTokens
		removeChars := excess * 3
		if removeChars >= len(message.Content) {
			message.Content = ""
			message.setTokenCount(b.counter.Count(message.Content))
			return
		}
		message.Content = message.Content[:len(message.Content)-removeChars]
	}
}
