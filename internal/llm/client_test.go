package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockClient 大模型客户端模拟
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Generate(ctx context.Context, prompt string, options ...GenerateOption) (*Response, error) {
	args := m.Called(ctx, prompt, applyGenerateOptions(options))
	if v := args.Get(0); v != nil {
		return v.(*Response), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) Chat(ctx context.Context, messages []Message, options ...GenerateOption) (*Response, error) {
	args := m.Called(ctx, messages, applyGenerateOptions(options))
	if v := args.Get(0); v != nil {
		return v.(*Response), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) Name() string {
	return "mock-model"
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float32   `json:"temperature"`
}

func TestOpenAIClientGenerate(t *testing.T) {
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  got.Model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": "Thirty days."},
			}},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 2, "total_tokens": 12},
		})
	}))
	defer server.Close()

	client, err := NewClient("openai", WithBaseURL(server.URL+"/v1"), WithModel("test-model"))
	require.NoError(t, err)
	assert.Equal(t, "test-model", client.Name())

	resp, err := client.Generate(context.Background(), "What is the notice period?",
		WithSystemPrompt("be brief"), WithGenerateMaxTokens(64), WithGenerateTemperature(0))
	require.NoError(t, err)

	assert.Equal(t, "Thirty days.", resp.Text)
	assert.Equal(t, 12, resp.TokenCount)
	assert.Equal(t, "stop", resp.FinishReason)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, RoleSystem, got.Messages[0].Role)
	assert.Equal(t, "be brief", got.Messages[0].Content)
	assert.Equal(t, RoleUser, got.Messages[1].Role)
	assert.Equal(t, 64, got.MaxTokens)
}

func TestOpenAIClientErrors(t *testing.T) {
	t.Run("EmptyPrompt", func(t *testing.T) {
		client, err := NewOpenAIClient()
		require.NoError(t, err)
		_, err = client.Generate(context.Background(), "")
		assert.True(t, IsCode(err, ErrCodeEmptyPrompt))
	})

	t.Run("MissingModel", func(t *testing.T) {
		_, err := NewOpenAIClient(WithModel(""))
		assert.True(t, IsCode(err, ErrCodeInvalidRequest))
	})

	t.Run("UnknownProvider", func(t *testing.T) {
		_, err := NewClient("tongyi")
		assert.True(t, IsCode(err, ErrCodeInvalidRequest))
	})

	statuses := map[int]int{
		http.StatusUnauthorized:        ErrCodeInvalidAPIKey,
		http.StatusTooManyRequests:     ErrCodeRateLimited,
		http.StatusServiceUnavailable:  ErrCodeModelOverload,
		http.StatusInternalServerError: ErrCodeServerError,
		http.StatusBadRequest:          ErrCodeInvalidRequest,
	}
	for status, code := range statuses {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"test"}}`))
			}))
			defer server.Close()

			client, err := NewOpenAIClient(WithBaseURL(server.URL+"/v1"), WithMaxRetries(0))
			require.NoError(t, err)

			_, err = client.Generate(context.Background(), "hi")
			assert.True(t, IsCode(err, code), "status %d gave %v", status, err)
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		})
	}
}

func TestWrapError(t *testing.T) {
	original := NewLLMError(ErrCodeTimeout, ErrMsgTimeout)
	assert.Equal(t, original, WrapError(original, ErrCodeServerError))
	assert.Equal(t, ErrCodeNetworkError, WrapError(assert.AnError, ErrCodeNetworkError).Code)
	assert.Equal(t, "unknown error", WrapError(nil, ErrCodeServerError).Message)
}
