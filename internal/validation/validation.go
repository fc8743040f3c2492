// Package validation holds the request-shape checks the transport layer
// runs before handing a request to the core: prompt bounds, chat_id format,
// bot and extra_bots naming, and index types. The metadata filter is not
// checked; it is passed on to the retriever as received.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"criabot-gateway/internal/apperr"

	"github.com/google/uuid"
)

const maxPromptLength = 4000

var botNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// MetadataFilter mirrors the structured filter forwarded verbatim to the
// retriever.
type MetadataFilter struct {
	Must    []interface{} `json:"must,omitempty"`
	MustNot []interface{} `json:"must_not,omitempty"`
	Should  []interface{} `json:"should,omitempty"`
}

// ValidatePrompt rejects an empty or oversized prompt.
func ValidatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return apperr.New(apperr.ErrMissingRequiredField, "prompt is required")
	}
	if len(prompt) > maxPromptLength {
		return apperr.NewWithDetails(
			apperr.ErrValidationFailed,
			"prompt exceeds maximum length",
			map[string]interface{}{"max_length": maxPromptLength, "actual": len(prompt)},
		)
	}
	return nil
}

// ValidateChatID checks that chatID is a well-formed UUID. Any UUID version
// is accepted, although start_chat only ever produces version 4.
func ValidateChatID(chatID string) error {
	if chatID == "" {
		return apperr.New(apperr.ErrInvalidChatID, "chat_id is required")
	}
	if _, err := uuid.Parse(chatID); err != nil {
		return apperr.New(apperr.ErrInvalidChatID, "chat_id must be a valid UUID")
	}
	return nil
}

// ValidateBotName checks a bot name is safe to use as an index-group
// component (it gets concatenated with "-document-index"/"-question-index").
func ValidateBotName(name string) error {
	if name == "" {
		return apperr.New(apperr.ErrMissingRequiredField, "bot_name is required")
	}
	if !botNamePattern.MatchString(name) {
		return apperr.New(apperr.ErrValidationFailed, "bot_name must contain only alphanumeric characters, hyphens, and underscores")
	}
	return nil
}

// ValidateIndexType checks a path parameter names one of the two index types
// every bot owns.
func ValidateIndexType(indexType string) error {
	if indexType != "DOCUMENT" && indexType != "QUESTION" {
		return apperr.New(apperr.ErrValidationFailed, `index type must be "DOCUMENT" or "QUESTION"`)
	}
	return nil
}

// ValidateExtraBots checks every federated peer bot name is well-formed and
// doesn't repeat or name the owning bot itself.
func ValidateExtraBots(botName string, extraBots []string) error {
	seen := make(map[string]bool, len(extraBots))
	for _, name := range extraBots {
		if err := ValidateBotName(name); err != nil {
			return err
		}
		if name == botName {
			return apperr.New(apperr.ErrValidationFailed, fmt.Sprintf("extra_bots cannot include the owning bot %q", botName))
		}
		if seen[name] {
			return apperr.New(apperr.ErrValidationFailed, fmt.Sprintf("extra_bots contains a duplicate: %q", name))
		}
		seen[name] = true
	}
	return nil
}
