package embedding

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "text-embedding-004"

// GeminiClient Google Generative AI嵌入客户端
type GeminiClient struct {
	client *genai.Client
	model  *genai.EmbeddingModel
	config Config
}

// NewGeminiClient 创建Gemini嵌入客户端
func NewGeminiClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)
	if cfg.APIKey == "" {
		return nil, NewEmbeddingError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	}

	// 默认配置指向LM Studio的模型，Gemini不识别时换成Gemini默认模型
	model := cfg.Model
	if model == "" || model == DefaultConfig().Model {
		model = defaultGeminiModel
	}
	cfg.Model = model

	clientOpts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" && cfg.BaseURL != DefaultConfig().BaseURL {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.BaseURL))
	}

	client, err := genai.NewClient(context.Background(), clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClient{
		client: client,
		model:  client.EmbeddingModel(model),
		config: *cfg,
	}, nil
}

// Name 返回模型名称
func (c *GeminiClient) Name() string {
	return c.config.Model
}

// Embed 生成单条文本的向量
func (c *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	resp, err := c.model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, NewEmbeddingError(ErrCodeServerError, err.Error())
	}
	if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return nil, ErrEmptyResponse
	}
	return resp.Embedding.Values, nil
}

// EmbedBatch 批量生成向量
func (c *GeminiClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if c.config.BatchSize > 0 && len(texts) > c.config.BatchSize {
		return nil, ErrBatchTooLarge
	}

	batch := c.model.NewBatch()
	for _, text := range texts {
		if text == "" {
			return nil, ErrEmptyText
		}
		batch.AddContent(genai.Text(text))
	}

	resp, err := c.model.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, NewEmbeddingError(ErrCodeServerError, err.Error())
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrEmptyResponse, len(texts), len(resp.Embeddings))
	}

	vectors := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		vectors[i] = e.Values
	}
	return vectors, nil
}

// Close 关闭底层连接
func (c *GeminiClient) Close() error {
	return c.client.Close()
}

func init() {
	RegisterClient("gemini", NewGeminiClient)
}
