// Package bot resolves a bot's identity to the pair of index groups it owns
// and provides the search/content operations that run against them.
package bot

import (
	"context"

	"criabot-gateway/internal/ragsdk"
)

// indexSuffix maps an index type to the suffix appended to a bot's name to
// get its underlying index group name. This must NOT be changed: existing
// indexes are keyed on it.
var indexSuffix = map[string]string{
	"QUESTION": "-question-index",
	"DOCUMENT": "-document-index",
}

// GroupName returns the index group name for a bot name and index type.
func GroupName(botName, indexType string) string {
	return botName + indexSuffix[indexType]
}

// Bot is a handle bound to one bot's name and its backing search client.
type Bot struct {
	name   string
	client ragsdk.Client
}

// New builds a Bot bound to name, backed by client for search/rerank/chat.
func New(name string, client ragsdk.Client) *Bot {
	return &Bot{name: name, client: client}
}

// Name returns the bot's name.
func (b *Bot) Name() string {
	return b.name
}

// GroupName returns this bot's index group name for indexType.
func (b *Bot) GroupName(indexType string) string {
	return GroupName(b.name, indexType)
}

// SearchGroup resolves indexType to this bot's index group and searches it,
// folding extraGroups (already resolved to group names by the caller) into
// the same request. Satisfies chat.GroupSearcher.
func (b *Bot) SearchGroup(ctx context.Context, indexType string, config ragsdk.SearchGroupConfig) (ragsdk.GroupSearchResponse, error) {
	return b.client.SearchGroup(ctx, b.GroupName(indexType), config)
}

// RetrieveGroupInfo reads the model ids this bot's indexes are provisioned
// with, keyed off the DOCUMENT group (both of a bot's groups share one
// provisioning record).
func (b *Bot) RetrieveGroupInfo(ctx context.Context) (ragsdk.GroupInfo, error) {
	return b.client.About(ctx, b.GroupName("DOCUMENT"))
}

// Exists reports whether this bot's DOCUMENT index is reachable, used as the
// existence check for extra_bots validation.
func (b *Bot) Exists(ctx context.Context) bool {
	_, err := b.RetrieveGroupInfo(ctx)
	return err == nil
}

// UploadContent adds a file to one of the bot's indexes. Chunking and
// embedding happen in the RAG backend; this just routes the payload to the
// right group.
func (b *Bot) UploadContent(ctx context.Context, indexType string, file ragsdk.ContentUpload) error {
	return b.client.UploadContent(ctx, b.GroupName(indexType), file, false)
}

// UpdateContent replaces a file already indexed under indexType.
func (b *Bot) UpdateContent(ctx context.Context, indexType string, file ragsdk.ContentUpload) error {
	return b.client.UploadContent(ctx, b.GroupName(indexType), file, true)
}

// DeleteContent removes a file from one of the bot's indexes.
func (b *Bot) DeleteContent(ctx context.Context, indexType, fileName string) error {
	return b.client.DeleteContent(ctx, b.GroupName(indexType), fileName)
}

// ListContent lists the files currently indexed under indexType.
func (b *Bot) ListContent(ctx context.Context, indexType string) ([]string, error) {
	return b.client.ListContent(ctx, b.GroupName(indexType))
}
