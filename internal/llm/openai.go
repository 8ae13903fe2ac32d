package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient OpenAI兼容接口的对话客户端
// 同时适用于LM Studio等本地服务
type OpenAIClient struct {
	client *openai.Client
	config Config
}

// NewOpenAIClient 创建OpenAI兼容客户端
func NewOpenAIClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)
	if cfg.Model == "" {
		return nil, NewLLMError(ErrCodeInvalidRequest, "chat model is required")
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		// 本地服务不校验密钥
		apiKey = "lm-studio"
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

// Generate 单轮生成
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, options ...GenerateOption) (*Response, error) {
	if prompt == "" {
		return nil, NewLLMError(ErrCodeEmptyPrompt, ErrMsgEmptyPrompt)
	}
	return c.Chat(ctx, []Message{{Role: RoleUser, Content: prompt}}, options...)
}

// Chat 多轮对话，系统提示词选项会插到消息最前面
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, options ...GenerateOption) (*Response, error) {
	if len(messages) == 0 {
		return nil, NewLLMError(ErrCodeEmptyPrompt, ErrMsgEmptyPrompt)
	}
	o := applyGenerateOptions(options)

	req := openai.ChatCompletionRequest{
		Model:       c.config.Model,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
		TopP:        c.config.TopP,
	}
	if o.MaxTokens != nil {
		req.MaxTokens = *o.MaxTokens
	}
	if o.Temperature != nil {
		req.Temperature = *o.Temperature
	}
	if o.TopP != nil {
		req.TopP = *o.TopP
	}
	if o.SystemPrompt != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: o.SystemPrompt,
		})
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	for attempt := 0; ; attempt++ {
		reqCtx, cancel := ctx, context.CancelFunc(func() {})
		if c.config.Timeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		}
		resp, err := c.client.CreateChatCompletion(reqCtx, req)
		cancel()

		if err == nil {
			if len(resp.Choices) == 0 {
				return nil, NewLLMError(ErrCodeServerError, "no choices in response")
			}
			return &Response{
				Text:         resp.Choices[0].Message.Content,
				TokenCount:   resp.Usage.TotalTokens,
				ModelName:    resp.Model,
				FinishReason: string(resp.Choices[0].FinishReason),
				FinishTime:   time.Now(),
			}, nil
		}

		classified := classifyError(err)
		retryable := IsCode(classified, ErrCodeRateLimited) || IsCode(classified, ErrCodeModelOverload)
		if !retryable || attempt >= c.config.MaxRetries {
			return nil, classified
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(1<<attempt) * time.Second):
		}
	}
}

// classifyError 把API错误映射为LLMError
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewLLMError(ErrCodeTimeout, ErrMsgTimeout)
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
		return NewLLMError(ErrCodeNetworkError, err.Error())
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewLLMError(ErrCodeInvalidAPIKey, err.Error())
	case status == http.StatusTooManyRequests:
		return NewLLMError(ErrCodeRateLimited, err.Error())
	case status == http.StatusServiceUnavailable:
		return NewLLMError(ErrCodeModelOverload, err.Error())
	case status >= 500:
		return NewLLMError(ErrCodeServerError, err.Error())
	default:
		return NewLLMError(ErrCodeInvalidRequest, err.Error())
	}
}

func init() {
	RegisterClient("openai", NewOpenAIClient)
}
