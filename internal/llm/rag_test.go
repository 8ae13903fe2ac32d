package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRAGAnswer(t *testing.T) {
	question := "When can the lease be terminated?"
	contexts := []string{
		"[SECTIONHEADING] 12. Termination\nEither party may terminate with ninety days notice.",
		"<table>\n  <tr>\n    <th>Term</th>\n  </tr>\n</table>",
	}

	client := new(MockClient)
	client.On("Generate", mock.Anything, mock.MatchedBy(func(prompt string) bool {
		return strings.HasPrefix(prompt, "Context:\n[SECTIONHEADING] 12. Termination") &&
			strings.Contains(prompt, "notice.\n\n---\n\n<table>") &&
			strings.HasSuffix(prompt, "Question:\n"+question+"\n\nAnswer:")
	}), mock.MatchedBy(func(o GenerateOptions) bool {
		return o.SystemPrompt == DefaultSystemPrompt && o.MaxTokens != nil && *o.MaxTokens == 1024
	})).Return(&Response{Text: "<think>check section 12</think>\nWith ninety days notice."}, nil)

	rag := NewRAG(client)
	resp, err := rag.Answer(context.Background(), question, contexts)
	require.NoError(t, err)

	assert.Equal(t, "With ninety days notice.", resp.Answer)
	require.Len(t, resp.Sources, 2)
	assert.Equal(t, 1, resp.Sources[0].Index)
	assert.Equal(t, contexts[1], resp.Sources[1].Content)
	client.AssertExpectations(t)
}

func TestRAGOptions(t *testing.T) {
	client := new(MockClient)
	client.On("Generate", mock.Anything, "Q=why C=a\n\n---\n\nb", mock.MatchedBy(func(o GenerateOptions) bool {
		return o.SystemPrompt == "sys" && o.Temperature != nil && *o.Temperature == 0.9
	})).Return(&Response{Text: "because"}, nil)

	rag := NewRAG(client,
		WithRAGSystemPrompt("sys"),
		WithRAGTemperature(0.9),
		WithSources(false),
	).SetTemplate("Q={{.Question}} C={{.Context}}")

	resp, err := rag.Answer(context.Background(), "why", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "because", resp.Answer)
	assert.Nil(t, resp.Sources)
	client.AssertExpectations(t)
}

func TestRAGErrors(t *testing.T) {
	t.Run("EmptyQuestion", func(t *testing.T) {
		rag := NewRAG(new(MockClient))
		_, err := rag.Answer(context.Background(), "   ", nil)
		assert.True(t, IsCode(err, ErrCodeEmptyPrompt))
	})

	t.Run("ClientFailure", func(t *testing.T) {
		client := new(MockClient)
		boom := NewLLMError(ErrCodeServerError, "boom")
		client.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(nil, boom)

		_, err := NewRAG(client).Answer(context.Background(), "q", []string{"c"})
		require.Error(t, err)
		var llmErr LLMError
		assert.True(t, errors.As(err, &llmErr))
		assert.Equal(t, ErrCodeServerError, llmErr.Code)
	})
}

func TestStripThinking(t *testing.T) {
	assert.Equal(t, "answer", StripThinking("<think>\nmulti\nline\n</think>answer"))
	assert.Equal(t, "a b", StripThinking("a <think>x</think>b"))
	assert.Equal(t, "plain", StripThinking("  plain  "))
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt(DefaultRAGTemplate, "q?", []string{"one", "two"})
	assert.Equal(t, "Context:\none\n\n---\n\ntwo\n\nQuestion:\nq?\n\nAnswer:", prompt)

	assert.Equal(t, "Context:\n\n\nQuestion:\nq?\n\nAnswer:", BuildPrompt(DefaultRAGTemplate, "q?", nil))
}
