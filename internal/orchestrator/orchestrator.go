// Package orchestrator wires the bot store, session cache, and RAG client
// together into the chat lifecycle operations the transport layer calls:
// start/end/exists/history plus the send and query turns themselves.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"criabot-gateway/internal/apperr"
	"criabot-gateway/internal/bot"
	"criabot-gateway/internal/botstore"
	"criabot-gateway/internal/cache"
	"criabot-gateway/internal/chat"
	"criabot-gateway/internal/ragsdk"
	"criabot-gateway/internal/tokenizer"

	"github.com/google/uuid"
)

// BotStore is the subset of botstore.Store the orchestrator depends on,
// narrowed so tests can stub it without a database.
type BotStore interface {
	RetrieveBot(ctx context.Context, name string) (botstore.Bot, error)
	RetrieveBotParams(ctx context.Context, botID int) (chat.BotParameters, error)
	BotExists(ctx context.Context, names ...string) (bool, error)
}

// Orchestrator is the single point every chat turn passes through. It holds
// no per-request state of its own; everything persisted between turns lives
// in the session cache or the bot store.
type Orchestrator struct {
	bots     BotStore
	sessions cache.SessionCache
	rag      ragsdk.Client
	counter  tokenizer.Counter
	chatTTL  time.Duration

	initMu      sync.Mutex
	initialized bool

	chatLocks keyedMutex
}

// New builds an Orchestrator. chatTTL bounds how long an idle session
// survives in the cache. The LLM and rerank model ids are not fixed here:
// each turn reads them from the bot's index group provisioning record.
func New(bots BotStore, sessions cache.SessionCache, rag ragsdk.Client, counter tokenizer.Counter, chatTTL time.Duration) *Orchestrator {
	return &Orchestrator{
		bots:     bots,
		sessions: sessions,
		rag:      rag,
		counter:  counter,
		chatTTL:  chatTTL,
	}
}

// Initialize marks the orchestrator as started. A second call raises
// ErrInitializedAlready rather than silently no-op'ing, matching the
// upstream service's own guard against double bootstrapping. Its BotExists
// call passes no names, so the bot store answers it without running a query
// and store connectivity is not checked here.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.initMu.Lock()
	defer o.initMu.Unlock()

	if o.initialized {
		return apperr.New(apperr.ErrInitializedAlready, "orchestrator is already initialized")
	}

	if _, err := o.bots.BotExists(ctx); err != nil {
		return err
	}

	o.initialized = true
	return nil
}

// StartChat creates a new empty chat session and returns its id.
func (o *Orchestrator) StartChat(ctx context.Context) (string, error) {
	chatID := uuid.New().String()
	state := cache.ChatState{StartedAt: time.Now().Unix()}

	if err := o.sessions.Set(ctx, chatID, state, o.chatTTL); err != nil {
		return "", err
	}
	return chatID, nil
}

// EndChat removes a chat session, raising ErrChatNotFound if it doesn't
// exist.
func (o *Orchestrator) EndChat(ctx context.Context, chatID string) error {
	exists, err := o.sessions.Exists(ctx, chatID)
	if err != nil {
		return err
	}
	if !exists {
		return apperr.New(apperr.ErrChatNotFound, fmt.Sprintf("chat %q not found", chatID))
	}
	return o.sessions.Delete(ctx, chatID)
}

// ChatExists reports whether chatID names a live session.
func (o *Orchestrator) ChatExists(ctx context.Context, chatID string) (bool, error) {
	return o.sessions.Exists(ctx, chatID)
}

// ChatHistory returns the persisted message history for chatID.
func (o *Orchestrator) ChatHistory(ctx context.Context, chatID string) ([]chat.ChatMessage, error) {
	state, ok, err := o.sessions.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.ErrChatNotFound, fmt.Sprintf("chat %q not found", chatID))
	}
	return state.History, nil
}

// Send runs one turn of an existing chat session. Turns against the same
// chat_id are serialized: a chat's history must be read, appended to, and
// written back as one unit, and two concurrent sends racing on the same
// session would otherwise let the second overwrite the first's persisted
// turn.
func (o *Orchestrator) Send(ctx context.Context, chatID, botName string, extraBots []string, prompt string, metadataFilter map[string]interface{}) (chat.ChatReply, error) {
	unlock := o.chatLocks.Lock(chatID)
	defer unlock()

	state, ok, err := o.sessions.Get(ctx, chatID)
	if err != nil {
		return chat.ChatReply{}, err
	}
	if !ok {
		return chat.ChatReply{}, apperr.New(apperr.ErrChatNotFound, fmt.Sprintf("chat %q not found", chatID))
	}

	reply, history, turnErr := o.runTurn(ctx, botName, extraBots, prompt, metadataFilter, state.History)

	// The user's prompt is persisted whether or not the LLM call behind it
	// succeeded, so a retried send continues from where the failure left
	// off instead of replaying the same prompt into a stale history.
	state.History = history
	if err := o.sessions.Set(ctx, chatID, state, o.chatTTL); err != nil {
		if turnErr == nil {
			return chat.ChatReply{}, err
		}
	}

	return reply, turnErr
}

// Query runs a single turn with no persisted session: start, send, and end
// happen atomically in one call, for callers that don't need multi-turn
// history.
func (o *Orchestrator) Query(ctx context.Context, botName string, extraBots []string, prompt string, metadataFilter map[string]interface{}) (chat.ChatReply, error) {
	reply, _, err := o.runTurn(ctx, botName, extraBots, prompt, metadataFilter, nil)
	return reply, err
}

// runTurn loads the bot's current parameters, builds a Chat over history,
// and runs prompt through it, returning the reply and the chat's updated
// history regardless of whether the turn itself errored.
func (o *Orchestrator) runTurn(ctx context.Context, botName string, extraBots []string, prompt string, metadataFilter map[string]interface{}, history []chat.ChatMessage) (chat.ChatReply, []chat.ChatMessage, error) {
	botRecord, err := o.bots.RetrieveBot(ctx, botName)
	if err != nil {
		return chat.ChatReply{}, history, err
	}

	params, err := o.bots.RetrieveBotParams(ctx, botRecord.ID)
	if err != nil {
		return chat.ChatReply{}, history, err
	}

	if exists, err := o.bots.BotExists(ctx, extraBots...); err != nil {
		return chat.ChatReply{}, history, err
	} else if !exists {
		return chat.ChatReply{}, history, apperr.New(apperr.ErrBotNotFound, "one or more extra_bots do not exist")
	}

	handle := bot.New(botName, o.rag)

	groupInfo, err := handle.RetrieveGroupInfo(ctx)
	if err != nil {
		return chat.ChatReply{}, history, err
	}

	retriever := chat.NewContextRetriever(handle, o.rag, groupInfo.RerankModelID, chat.RetrieverParams{
		TopK: params.TopK,
		MinK: params.MinK,
		TopN: params.TopN,
		MinN: params.MinN,
	})

	turn := chat.NewChat(history, o.counter, retriever, o.rag, groupInfo.LLMModelID, params)

	reply, err := turn.Send(ctx, prompt, metadataFilter, extraBots)
	if err != nil {
		return chat.ChatReply{}, turn.History(), err
	}

	return reply, turn.History(), nil
}

// keyedMutex hands out a distinct, lazily created lock per key, so turns
// against different chats never wait on each other. Entries are
// reference-counted and removed once the last holder or waiter releases,
// keeping the map sized by concurrently active chats rather than every
// chat_id the process has ever seen.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*chatLock
}

type chatLock struct {
	sync.Mutex
	refs int
}

// Lock blocks until the lock for key is held and returns a func to release
// it.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*chatLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &chatLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
