package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// 本地OpenAI兼容服务（如LM Studio）不校验密钥，但客户端要求非空
const placeholderAPIKey = "lm-studio"

// OpenAIClient OpenAI兼容接口的嵌入客户端
type OpenAIClient struct {
	client *openai.Client // OpenAI API客户端
	config Config         // 客户端配置
}

// NewOpenAIClient 创建一个新的OpenAI兼容嵌入客户端
func NewOpenAIClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)
	if cfg.Model == "" {
		return nil, NewEmbeddingError(ErrCodeInvalidRequest, "embedding model is required")
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = placeholderAPIKey
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		config: *cfg,
	}, nil
}

// Name 返回模型名称
func (c *OpenAIClient) Name() string {
	return c.config.Model
}

// Embed 对单个文本生成嵌入向量
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	vectors, err := c.create(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 对多个文本生成嵌入向量，结果顺序与输入一致
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if c.config.BatchSize > 0 && len(texts) > c.config.BatchSize {
		return nil, ErrBatchTooLarge
	}
	for _, text := range texts {
		if text == "" {
			return nil, ErrEmptyText
		}
	}

	return c.create(ctx, texts)
}

// create 发送请求，限流时按指数退避重试
func (c *OpenAIClient) create(ctx context.Context, input []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input:      input,
		Model:      openai.EmbeddingModel(c.config.Model),
		Dimensions: c.config.Dimensions,
	}

	for attempt := 0; ; attempt++ {
		timeoutCtx, cancel := ctx, context.CancelFunc(func() {})
		if c.config.Timeout > 0 {
			timeoutCtx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		}
		resp, err := c.client.CreateEmbeddings(timeoutCtx, req)
		cancel()

		if err == nil {
			if len(resp.Data) != len(input) {
				return nil, fmt.Errorf("%w: expected %d, got %d", ErrEmptyResponse, len(input), len(resp.Data))
			}
			vectors := make([][]float32, len(input))
			for i, d := range resp.Data {
				idx := d.Index
				if idx < 0 || idx >= len(vectors) {
					idx = i
				}
				vectors[idx] = d.Embedding
			}
			return vectors, nil
		}

		classified := classifyError(err)
		if !IsCode(classified, ErrCodeRateLimited) || attempt >= c.config.MaxRetries {
			return nil, classified
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(1<<attempt) * time.Second):
		}
	}
}

// classifyError 把API错误映射为EmbeddingError
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewEmbeddingError(ErrCodeTimeout, ErrMsgTimeout)
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return NewEmbeddingError(ErrCodeNetworkError, err.Error())
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewEmbeddingError(ErrCodeInvalidAPIKey, err.Error())
	case status == http.StatusTooManyRequests:
		return NewEmbeddingError(ErrCodeRateLimited, err.Error())
	case status >= 500:
		return NewEmbeddingError(ErrCodeServerError, err.Error())
	default:
		return NewEmbeddingError(ErrCodeInvalidRequest, err.Error())
	}
}

func init() {
	RegisterClient("openai", NewOpenAIClient)
}
