package botstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"criabot-gateway/internal/apperr"
	"criabot-gateway/internal/chat"
)

// Bot is the identity record for a bot name, independent of its tunable
// parameters.
type Bot struct {
	ID        int
	Name      string
	CreatedAt time.Time
}

// Store persists Bot identities and their BotParameters.
type Store struct {
	db *DB
}

// NewStore builds a Store over an already-connected DB.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// RetrieveBot looks up a bot by name.
func (s *Store) RetrieveBot(ctx context.Context, name string) (Bot, error) {
	var b Bot
	row := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM bots WHERE name = $1`, name)
	if err := row.Scan(&b.ID, &b.Name, &b.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Bot{}, apperr.New(apperr.ErrBotNotFound, fmt.Sprintf("bot %q not found", name))
		}
		return Bot{}, apperr.Wrap(err, apperr.ErrDatabaseError)
	}
	return b, nil
}

// BotExists reports whether every name in names refers to a known bot.
func (s *Store) BotExists(ctx context.Context, names ...string) (bool, error) {
	for _, name := range names {
		var count int
		row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bots WHERE name = $1`, name)
		if err := row.Scan(&count); err != nil {
			return false, apperr.Wrap(err, apperr.ErrDatabaseError)
		}
		if count == 0 {
			return false, nil
		}
	}
	return true, nil
}

// CreateBot inserts a new bot identity plus its starting parameters in one
// transaction. The caller is responsible for provisioning the bot's RAG
// indexes beforehand; this store only persists the records.
func (s *Store) CreateBot(ctx context.Context, name string, params chat.BotParameters) (Bot, error) {
	exists, err := s.BotExists(ctx, name)
	if err != nil {
		return Bot{}, err
	}
	if exists {
		return Bot{}, apperr.New(apperr.ErrBotExists, fmt.Sprintf("bot %q already exists", name))
	}

	var bot Bot
	err = s.db.Transaction(func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`INSERT INTO bots (name, created_at) VALUES ($1, now()) RETURNING id, name, created_at`,
			name,
		)
		if err := row.Scan(&bot.ID, &bot.Name, &bot.CreatedAt); err != nil {
			return apperr.Wrap(err, apperr.ErrDatabaseError)
		}

		_, err := tx.ExecContext(ctx, insertBotParamsQuery,
			bot.ID,
			params.MaxInputTokens, params.MaxReplyTokens, params.Temperature, params.TopP,
			params.TopK, params.MinK, params.TopN, params.MinN,
			params.LLMGenerateRelatedPrompts,
			params.NoContextMessage, params.NoContextUseMessage, params.NoContextLLMGuess,
			params.SystemMessage,
		)
		if err != nil {
			return apperr.Wrap(err, apperr.ErrDatabaseError)
		}
		return nil
	})
	if err != nil {
		return Bot{}, err
	}
	return bot, nil
}

// RetrieveBotParams fetches the current tuning parameters for a bot. Called
// fresh at the start of every chat turn, per the core's "never cached
// across requests" contract.
func (s *Store) RetrieveBotParams(ctx context.Context, botID int) (chat.BotParameters, error) {
	var p chat.BotParameters
	row := s.db.QueryRowContext(ctx, selectBotParamsQuery, botID)
	err := row.Scan(
		&p.MaxInputTokens, &p.MaxReplyTokens, &p.Temperature, &p.TopP,
		&p.TopK, &p.MinK, &p.TopN, &p.MinN,
		&p.LLMGenerateRelatedPrompts,
		&p.NoContextMessage, &p.NoContextUseMessage, &p.NoContextLLMGuess,
		&p.SystemMessage,
	)
	if err == sql.ErrNoRows {
		return chat.BotParameters{}, apperr.New(apperr.ErrBotNotFound, fmt.Sprintf("no parameters for bot id %d", botID))
	}
	if err != nil {
		return chat.BotParameters{}, apperr.Wrap(err, apperr.ErrDatabaseError)
	}
	return p, nil
}

// UpdateParameters overwrites a bot's tuning parameters. An unknown bot id
// is an error, never a silent no-op.
func (s *Store) UpdateParameters(ctx context.Context, botID int, params chat.BotParameters) error {
	result, err := s.db.ExecContext(ctx, updateBotParamsQuery,
		params.MaxInputTokens, params.MaxReplyTokens, params.Temperature, params.TopP,
		params.TopK, params.MinK, params.TopN, params.MinN,
		params.LLMGenerateRelatedPrompts,
		params.NoContextMessage, params.NoContextUseMessage, params.NoContextLLMGuess,
		params.SystemMessage,
		botID,
	)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrDatabaseError)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apperr.Wrap(err, apperr.ErrDatabaseError)
	}
	if affected == 0 {
		return apperr.New(apperr.ErrBotNotFound, fmt.Sprintf("no parameters for bot id %d", botID))
	}
	return nil
}

const insertBotParamsQuery = `
INSERT INTO bot_parameters (
	bot_id, max_input_tokens, max_reply_tokens, temperature, top_p,
	top_k, min_k, top_n, min_n,
	llm_generate_related_prompts,
	no_context_message, no_context_use_message, no_context_llm_guess,
	system_message
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

const selectBotParamsQuery = `
SELECT
	max_input_tokens, max_reply_tokens, temperature, top_p,
	top_k, min_k, top_n, min_n,
	llm_generate_related_prompts,
	no_context_message, no_context_use_message, no_context_llm_guess,
	system_message
FROM bot_parameters WHERE bot_id = $1`

const updateBotParamsQuery = `
UPDATE bot_parameters SET
	max_input_tokens = $1, max_reply_tokens = $2, temperature = $3, top_p = $4,
	top_k = $5, min_k = $6, top_n = $7, min_n = $8,
	llm_generate_related_prompts = $9,
	no_context_message = $10, no_context_use_message = $11, no_context_llm_guess = $12,
	system_message = $13
WHERE bot_id = $14`
