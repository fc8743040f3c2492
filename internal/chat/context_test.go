package chat

import (
	"context"
	"strings"
	"testing"

	"criabot-gateway/internal/ragsdk"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodeWithScore(score float64, metadata map[string]interface{}, text string) ragsdk.TextNodeWithScore {
	return ragsdk.TextNodeWithScore{
		Score: score,
		Node:  ragsdk.TextNode{Text: text, Metadata: metadata},
	}
}

func TestBuildContextPlainTextWhenTopNodeIsNotAQuestion(t *testing.T) {
	nodes := []ragsdk.TextNodeWithScore{
		nodeWithScore(0.9, map[string]interface{}{}, "alpha"),
		nodeWithScore(0.5, map[string]interface{}{}, "beta"),
	}

	result := BuildContext(nodes)

	text, ok := result.(*TextContext)
	require.True(t, ok)
	assert.Equal(t, "[DOCUMENT #1]\nalpha\n\n[DOCUMENT #2]\nbeta", text.Text)
	assert.Len(t, text.Nodes, 2)
}

func TestBuildContextQuestionNodeWithoutLLMReplySkipsLLM(t *testing.T) {
	nodes := []ragsdk.TextNodeWithScore{
		nodeWithScore(0.9, map[string]interface{}{
			"answer":    "Paris",
			"llm_reply": false,
			"file_name": "faq.md",
			"group_name": "faq-question-index",
		}, "what is the capital of france?"),
	}

	result := BuildContext(nodes)

	question, ok := result.(*QuestionContext)
	require.True(t, ok)
	assert.Equal(t, "faq.md", question.FileName)
	assert.Equal(t, "faq-question-index", question.GroupName)
}

func TestBuildContextQuestionNodeWithLLMReplyUsesOnlyTopNodeText(t *testing.T) {
	nodes := []ragsdk.TextNodeWithScore{
		nodeWithScore(0.9, map[string]interface{}{
			"answer":    "Paris",
			"llm_reply": true,
		}, "top node text"),
		nodeWithScore(0.4, map[string]interface{}{}, "other node text"),
	}

	result := BuildContext(nodes)

	text, ok := result.(*TextContext)
	require.True(t, ok)
	assert.Contains(t, text.Text, "top node text")
	assert.NotContains(t, text.Text, "other node text")
	// the full ranked list is still retained for citation/asset purposes.
	assert.Len(t, text.Nodes, 2)
}

func TestBuildContextTieBreakComparesAgainstFirstNodeScore(t *testing.T) {
	// node[0]=0.5, node[1]=0.9 (beats node[0], becomes top), node[2]=0.7
	// (still beats node[0]'s fixed 0.5, so it wins even though it's lower
	// than node[1]'s 0.9).
	nodes := []ragsdk.TextNodeWithScore{
		nodeWithScore(0.5, map[string]interface{}{}, "first"),
		nodeWithScore(0.9, map[string]interface{}{}, "second"),
		nodeWithScore(0.7, map[string]interface{}{}, "third"),
	}

	result := BuildContext(nodes)

	text, ok := result.(*TextContext)
	require.True(t, ok)
	assert.Equal(t, "[DOCUMENT #1]\nthird", text.Text)
}

type stubSearcher struct {
	responses map[string]ragsdk.GroupSearchResponse
	seenGroups map[string][]string
}

func (s stubSearcher) SearchGroup(_ context.Context, indexType string, config ragsdk.SearchGroupConfig) (ragsdk.GroupSearchResponse, error) {
	if s.seenGroups != nil {
		s.seenGroups[indexType] = config.ExtraGroups
	}
	return s.responses[indexType], nil
}

type stubReranker struct {
	response ragsdk.RerankResponse
}

func (s stubReranker) Rerank(_ context.Context, _ int, _ string, _ []ragsdk.TextNodeWithScore, _ int, _ float64) (ragsdk.RerankResponse, error) {
	return s.response, nil
}

func TestRetrieveReturnsNilContextWhenNoNodesFound(t *testing.T) {
	retriever := NewContextRetriever(
		stubSearcher{responses: map[string]ragsdk.GroupSearchResponse{
			IndexTypeDocument: {GroupName: "bot-document-index"},
			IndexTypeQuestion: {GroupName: "bot-question-index"},
		}},
		stubReranker{},
		1,
		RetrieverParams{TopK: 5, MinK: 0.5, TopN: 3, MinN: 0.7},
	)

	resp, err := retriever.Retrieve(context.Background(), "hello", nil, nil)

	require.NoError(t, err)
	assert.Nil(t, resp.Context)
}

func TestRetrieveBuildsContextFromRerankedNodes(t *testing.T) {
	node := nodeWithScore(0.8, map[string]interface{}{}, "relevant text")
	retriever := NewContextRetriever(
		stubSearcher{responses: map[string]ragsdk.GroupSearchResponse{
			IndexTypeDocument: {GroupName: "bot-document-index", Nodes: []ragsdk.TextNodeWithScore{node}},
			IndexTypeQuestion: {GroupName: "bot-question-index"},
		}},
		stubReranker{response: ragsdk.RerankResponse{RankedNodes: []ragsdk.TextNodeWithScore{node}}},
		1,
		RetrieverParams{TopK: 5, MinK: 0.5, TopN: 3, MinN: 0.7},
	)

	resp, err := retriever.Retrieve(context.Background(), "hello", nil, nil)

	require.NoError(t, err)
	require.NotNil(t, resp.Context)
	text, ok := resp.Context.(*TextContext)
	require.True(t, ok)
	assert.Contains(t, text.Text, "relevant text")
}

func TestRetrieveFederatesExtraBotsPerIndexType(t *testing.T) {
	seen := map[string][]string{}
	retriever := NewContextRetriever(
		stubSearcher{
			responses: map[string]ragsdk.GroupSearchResponse{
				IndexTypeDocument: {GroupName: "bot-document-index"},
				IndexTypeQuestion: {GroupName: "bot-question-index"},
			},
			seenGroups: seen,
		},
		stubReranker{},
		1,
		RetrieverParams{TopK: 5, MinK: 0.5, TopN: 3, MinN: 0.7},
	)

	_, err := retriever.Retrieve(context.Background(), "hello", nil, []string{"peer"})

	require.NoError(t, err)
	assert.Equal(t, []string{"peer-document-index"}, seen[IndexTypeDocument])
	assert.Equal(t, []string{"peer-question-index"}, seen[IndexTypeQuestion])
}

func TestBuildNoContextGuessPromptTrimsAndCollapsesSpaces(t *testing.T) {
	prompt := buildNoContextGuessPrompt("Sorry,   I don't know.", true)

	assert.NotRegexp(t, `  `, prompt)
	assert.Equal(t, prompt, strings.TrimSpace(prompt))
	assert.Contains(t, prompt, `Sorry, I don't know.`)
}

func TestBuildNoContextLLMPromptTrimsAndCollapsesSpaces(t *testing.T) {
	prompt := buildNoContextLLMPrompt()

	assert.NotRegexp(t, `  `, prompt)
	assert.Equal(t, prompt, strings.TrimSpace(prompt))
}
