package chat

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"criabot-gateway/internal/bot"
	"criabot-gateway/internal/ragsdk"

	"golang.org/x/sync/errgroup"
)

const (
	fileNameMetadataKey       = "file_name"
	llmReplyMetadataKey       = "llm_reply"
	groupNameMetadataKey      = "group_name"
	answerMetadataKey         = "answer"
	relatedPromptsMetadataKey = "related_prompts"

	// IndexTypeDocument and IndexTypeQuestion name the two index groups every
	// bot maintains. Bot.SearchGroup resolves these to the bot's actual
	// group names (<bot>-document-index / <bot>-question-index).
	IndexTypeDocument = "DOCUMENT"
	IndexTypeQuestion = "QUESTION"
)

// GroupSearcher resolves an index type to a bot's underlying index group
// and searches it, folding in any extraGroups the caller asked to search
// alongside it. Bot satisfies this.
type GroupSearcher interface {
	SearchGroup(ctx context.Context, indexType string, config ragsdk.SearchGroupConfig) (ragsdk.GroupSearchResponse, error)
}

// RetrieverParams are the bot-tunable knobs that shape a single retrieval.
type RetrieverParams struct {
	TopK int
	MinK float64
	TopN int
	MinN float64
}

// ContextRetriever fans out DOCUMENT/QUESTION index searches, reranks the
// merged candidates, and classifies the winning node into a Context.
type ContextRetriever struct {
	bot         GroupSearcher
	rerank      ragsdk.RerankClient
	rerankModel int
	params      RetrieverParams
}

func NewContextRetriever(bot GroupSearcher, rerank ragsdk.RerankClient, rerankModel int, params RetrieverParams) *ContextRetriever {
	return &ContextRetriever{bot: bot, rerank: rerank, rerankModel: rerankModel, params: params}
}

// RetrieverResponse is the result of a retrieval pass: the resolved Context
// (nil if nothing relevant turned up) plus accounting needed by the reply.
// GroupResponses stays an ordered slice (DOCUMENT before QUESTION) because
// the concatenation order of nodes decides rerank tie-breaks downstream.
type RetrieverResponse struct {
	Context        Context
	GroupResponses []ragsdk.GroupSearchResponse
	TokenUsage     []ragsdk.CompletionUsage
	SearchUnits    int
}

// Assets flattens the assets attached to every searched group's response.
func (r RetrieverResponse) Assets() []ragsdk.Asset {
	var all []ragsdk.Asset
	for _, gr := range r.GroupResponses {
		all = append(all, gr.Assets...)
	}
	return all
}

// Retrieve searches the DOCUMENT and QUESTION indexes concurrently, reranks
// the merged candidates, and classifies the winner. extraBotNames federates
// each peer bot's matching index into the search for its own index type
// (a peer's DOCUMENT index is folded into the DOCUMENT search, its QUESTION
// index into the QUESTION search).
func (r *ContextRetriever) Retrieve(ctx context.Context, prompt string, metadataFilter map[string]interface{}, extraBotNames []string) (RetrieverResponse, error) {
	groupResponses, searchUnits, err := r.searchGroups(ctx, prompt, metadataFilter, extraBotNames)
	if err != nil {
		return RetrieverResponse{}, err
	}

	resp := RetrieverResponse{GroupResponses: groupResponses, SearchUnits: searchUnits}

	var nodes []ragsdk.TextNodeWithScore
	for _, gr := range groupResponses {
		nodes = append(nodes, gr.Nodes...)
	}
	if len(nodes) < 1 {
		return resp, nil
	}

	rerankResp, err := r.rerank.Rerank(ctx, r.rerankModel, prompt, nodes, r.params.TopN, r.params.MinN)
	if err != nil {
		return RetrieverResponse{}, err
	}
	resp.SearchUnits += rerankResp.SearchUnits

	if len(rerankResp.RankedNodes) > 0 {
		resp.Context = BuildContext(rerankResp.RankedNodes)
	}

	return resp, nil
}

func (r *ContextRetriever) searchGroups(ctx context.Context, prompt string, metadataFilter map[string]interface{}, extraBotNames []string) ([]ragsdk.GroupSearchResponse, int, error) {
	indexTypes := []string{IndexTypeDocument, IndexTypeQuestion}
	responses := make([]ragsdk.GroupSearchResponse, len(indexTypes))

	g, gctx := errgroup.WithContext(ctx)
	for i, indexType := range indexTypes {
		i, indexType := i, indexType
		extraGroups := make([]string, len(extraBotNames))
		for j, name := range extraBotNames {
			extraGroups[j] = bot.GroupName(name, indexType)
		}
		g.Go(func() error {
			resp, err := r.bot.SearchGroup(gctx, indexType, ragsdk.SearchGroupConfig{
				Prompt:       prompt,
				TopK:         r.params.TopK,
				MinK:         r.params.MinK,
				TopN:         r.params.TopN,
				MinN:         r.params.MinN,
				SearchFilter: metadataFilter,
				ExtraGroups:  extraGroups,
			})
			if err != nil {
				return err
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	searchUnits := 0
	for _, resp := range responses {
		searchUnits += resp.SearchUnits
	}
	return responses, searchUnits, nil
}

// BuildContext classifies the top-ranked node into a QuestionContext or
// TextContext.
//
// Candidates are compared against the first node's score, not the running
// best: a later node that beats node[0] displaces an earlier node that also
// beat it, and exact ties keep the earlier node. The reranker returns nodes
// in descending score order, so in practice node[0] wins.
func BuildContext(rankedNodes []ragsdk.TextNodeWithScore) Context {
	topNodeScore := rankedNodes[0].Score
	topNode := rankedNodes[0]
	for _, node := range rankedNodes {
		if node.Score > topNodeScore {
			topNode = node
		}
	}

	var relatedPrompts []RelatedPrompt

	if isQuestionNode(topNode) {
		relatedPrompts = extractRelatedPrompts(topNode)

		if !isLLMReply(topNode) {
			return &QuestionContext{
				FileName:       stringMeta(topNode, fileNameMetadataKey),
				GroupName:      stringMeta(topNode, groupNameMetadataKey),
				Node:           topNode,
				RelatedPrompts: relatedPrompts,
			}
		}

		// The node answers a question and an LLM rewrite was requested, but
		// only the top node's text feeds the rewrite prompt; the full
		// ranked list is still kept on Nodes for citation/asset lookup.
		return &TextContext{
			Text:           buildTextContext([]ragsdk.TextNodeWithScore{topNode}),
			Nodes:          rankedNodes,
			RelatedPrompts: relatedPrompts,
		}
	}

	return &TextContext{
		Text:           buildTextContext(rankedNodes),
		Nodes:          rankedNodes,
		RelatedPrompts: relatedPrompts,
	}
}

func isQuestionNode(node ragsdk.TextNodeWithScore) bool {
	_, hasAnswer := node.Node.Metadata[answerMetadataKey]
	_, hasLLMReply := node.Node.Metadata[llmReplyMetadataKey]
	return hasAnswer && hasLLMReply
}

func isLLMReply(node ragsdk.TextNodeWithScore) bool {
	if !isQuestionNode(node) {
		return false
	}
	v, _ := node.Node.Metadata[llmReplyMetadataKey].(bool)
	return v
}

func stringMeta(node ragsdk.TextNodeWithScore, key string) string {
	v, _ := node.Node.Metadata[key].(string)
	return v
}

func extractRelatedPrompts(node ragsdk.TextNodeWithScore) []RelatedPrompt {
	raw, ok := node.Node.Metadata[relatedPromptsMetadataKey]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []RelatedPrompt:
		return v
	case []string:
		prompts := make([]RelatedPrompt, len(v))
		for i, p := range v {
			prompts[i] = RelatedPrompt{Prompt: p}
		}
		return prompts
	case []interface{}:
		prompts := make([]RelatedPrompt, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				prompts = append(prompts, RelatedPrompt{Prompt: s})
			}
		}
		return prompts
	default:
		return nil
	}
}

func buildTextContext(nodes []ragsdk.TextNodeWithScore) string {
	parts := make([]string, len(nodes))
	for i, node := range nodes {
		parts[i] = fmt.Sprintf("[DOCUMENT #%d]\n%s", i+1, node.Node.Text)
	}
	return strings.Join(parts, "\n\n")
}

var multiSpace = regexp.MustCompile(` +`)

func cleanText(text string) string {
	return strings.TrimSpace(multiSpace.ReplaceAllString(text, " "))
}

// buildContextPrompt wraps a TextContext's text in the instructions the LLM
// needs to ground its reply on it (and to embed referenced image assets).
func buildContextPrompt(textContext *TextContext, bestGuess bool) string {
	extraText := `If nothing from this information is relevant, say your database don't have that information, even if you do have a guess.`
	if bestGuess {
		extraText = `If nothing from this information is relevant, use your knowledge to guess.`
	}

	prompt := fmt.Sprintf(`[INSTRUCTIONS]
The documents below are the top results returned from a search engine.
They may be relevant or completely irrelevant to the question.

IMPORTANT: If you use ANY information from an IMAGE DESCRIPTION, ALWAYS EMBED THE IMAGE as part of your answer using the format ![Asset](<image_id>),
where <image_id> is a placeholder for the uuid found in the image description start/end tags. ONLY include the raw UUID, NEVER a URL.
The ID of an image is found in the tags at the start and end of its description in the context below.
A description tag looks like this: [IMAGE <image_id> DESCRIPTION START].

%s

[INFORMATION]
%s
`, extraText, textContext.Text)

	return cleanText(prompt)
}

// buildNoContextGuessPrompt is used when the bot is configured to have the
// LLM guess when nothing relevant was found. With hasMessage set, the prompt
// also says the canned no-context message was already sent to the user.
func buildNoContextGuessPrompt(noContextMessage string, hasMessage bool) string {
	if hasMessage {
		stripped := strings.ReplaceAll(noContextMessage, "\n", "")
		return cleanText(fmt.Sprintf(`[EXTRA INSTRUCTIONS]

No information was found regarding the following question.
The user was already sent the message "%s" to let them know this.

Use your knowledge to suggest what you think. Make sure you say it's a guess.
Start your reply with a conjunction, like "However", or "But", and attempt to make a guess.
`, stripped))
	}

	return cleanText(`[EXTRA INSTRUCTIONS]

No information was found regarding the following question.
Use your knowledge to suggest what you think. Make sure you say it's a guess.
`)
}

// buildNoContextLLMPrompt is used when the bot has no canned no-context
// message and isn't configured to guess — it just tells the LLM to say it
// doesn't know.
func buildNoContextLLMPrompt() string {
	return cleanText(`[EXTRA INSTRUCTIONS]

No information was found regarding the following question.

Respond that you do not know the answer, taking the question into account.
`)
}
