package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

// DefaultSystemPrompt 合同问答的系统提示词
const DefaultSystemPrompt = "You are a helpful assistant answering questions about a contract. " +
	"Use the provided context to answer the user’s question as clearly and accurately as possible."

// DefaultRAGTemplate 默认RAG提示词模板
// {{.Context}} 为检索到的分块，{{.Question}} 为用户问题
const DefaultRAGTemplate = "Context:\n{{.Context}}\n\nQuestion:\n{{.Question}}\n\nAnswer:"

// contextSeparator 分块之间的分隔符
const contextSeparator = "\n\n---\n\n"

// 推理模型输出的思考过程
var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThinking 去除<think>思考块
func StripThinking(text string) string {
	return strings.TrimSpace(thinkBlock.ReplaceAllString(text, ""))
}

// RAGConfig 检索增强生成配置
type RAGConfig struct {
	Template       string        // 提示词模板
	SystemPrompt   string        // 系统提示词
	MaxTokens      int           // 最大Token数
	Temperature    float32       // 温度参数
	Timeout        time.Duration // 超时时间
	IncludeSources bool          // 是否带上引用来源
}

// DefaultRAGConfig 默认RAG配置
func DefaultRAGConfig() *RAGConfig {
	return &RAGConfig{
		Template:       DefaultRAGTemplate,
		SystemPrompt:   DefaultSystemPrompt,
		MaxTokens:      1024,
		Temperature:    0.2,
		Timeout:        120 * time.Second,
		IncludeSources: true,
	}
}

// RAGOption RAG配置选项函数类型
type RAGOption func(*RAGConfig)

// WithTemplate 设置提示词模板
func WithTemplate(template string) RAGOption {
	return func(c *RAGConfig) {
		c.Template = template
	}
}

// WithRAGSystemPrompt 设置系统提示词
func WithRAGSystemPrompt(prompt string) RAGOption {
	return func(c *RAGConfig) {
		c.SystemPrompt = prompt
	}
}

// WithRAGMaxTokens 设置最大Token数
func WithRAGMaxTokens(tokens int) RAGOption {
	return func(c *RAGConfig) {
		c.MaxTokens = tokens
	}
}

// WithRAGTemperature 设置温度参数
func WithRAGTemperature(temp float32) RAGOption {
	return func(c *RAGConfig) {
		c.Temperature = temp
	}
}

// WithRAGTimeout 设置请求超时时间
func WithRAGTimeout(timeout time.Duration) RAGOption {
	return func(c *RAGConfig) {
		c.Timeout = timeout
	}
}

// WithSources 设置是否包含引用来源
func WithSources(include bool) RAGOption {
	return func(c *RAGConfig) {
		c.IncludeSources = include
	}
}

// RAGService 检索增强生成服务
type RAGService struct {
	Client Client
	config *RAGConfig
	mu     sync.RWMutex
}

// NewRAG 创建检索增强生成服务
func NewRAG(client Client, opts ...RAGOption) *RAGService {
	cfg := DefaultRAGConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &RAGService{
		Client: client,
		config: cfg,
	}
}

// Answer 根据检索到的分块回答问题
func (r *RAGService) Answer(ctx context.Context, question string, contexts []string) (*RAGResponse, error) {
	if strings.TrimSpace(question) == "" {
		return nil, NewLLMError(ErrCodeEmptyPrompt, "question cannot be empty")
	}

	r.mu.RLock()
	cfg := *r.config
	r.mu.RUnlock()

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	prompt := BuildPrompt(cfg.Template, question, contexts)
	response, err := r.Client.Generate(
		ctx,
		prompt,
		WithSystemPrompt(cfg.SystemPrompt),
		WithGenerateMaxTokens(cfg.MaxTokens),
		WithGenerateTemperature(cfg.Temperature),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to generate response: %w", err)
	}

	result := &RAGResponse{
		Answer: StripThinking(response.Text),
		Prompt: prompt,
	}
	if cfg.IncludeSources {
		result.Sources = make([]SourceReference, len(contexts))
		for i, c := range contexts {
			result.Sources[i] = SourceReference{Index: i + 1, Content: c}
		}
	}
	return result, nil
}

// BuildPrompt 用分隔符拼接上下文并填充模板
func BuildPrompt(template, question string, contexts []string) string {
	prompt := strings.ReplaceAll(template, "{{.Context}}", strings.Join(contexts, contextSeparator))
	return strings.ReplaceAll(prompt, "{{.Question}}", question)
}

// SetTemplate 设置自定义提示词模板
func (r *RAGService) SetTemplate(template string) *RAGService {
	r.mu.Lock()
	r.config.Template = template
	r.mu.Unlock()
	return r
}
