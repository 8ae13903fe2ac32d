package embedding

import (
	"context"
	"sync"
	"time"
)

// Client 嵌入模型客户端接口
// 负责将文本转换为向量表示
type Client interface {
	// Embed 生成单条文本的向量表示
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch 批量生成多条文本的向量表示
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Name 返回模型名称
	Name() string
}

// Config 嵌入客户端配置
type Config struct {
	APIKey     string        // API密钥
	BaseURL    string        // API基础URL
	Model      string        // 模型名称，原样传给服务端
	Timeout    time.Duration // 单次请求超时时间
	MaxRetries int           // 限流时的最大重试次数
	Dimensions int           // 向量维度，0表示使用模型默认值
	BatchSize  int           // 批处理大小
	RateLimit  float64       // 每秒请求数上限，0表示不限制
	Burst      int           // 突发请求数
}

// Option 客户端配置选项函数类型
type Option func(*Config)

// WithAPIKey 设置API密钥
func WithAPIKey(apiKey string) Option {
	return func(c *Config) {
		c.APIKey = apiKey
	}
}

// WithBaseURL 设置API基础URL
func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
	}
}

// WithModel 设置模型名称
func WithModel(model string) Option {
	return func(c *Config) {
		c.Model = model
	}
}

// WithTimeout 设置请求超时时间
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithMaxRetries 设置最大重试次数
func WithMaxRetries(retries int) Option {
	return func(c *Config) {
		c.MaxRetries = retries
	}
}

// WithDimensions 设置向量维度
func WithDimensions(dimensions int) Option {
	return func(c *Config) {
		c.Dimensions = dimensions
	}
}

// WithBatchSize 设置批处理大小
func WithBatchSize(size int) Option {
	return func(c *Config) {
		c.BatchSize = size
	}
}

// WithRateLimit 设置请求速率限制
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Config) {
		c.RateLimit = rps
		c.Burst = burst
	}
}

// DefaultConfig 返回默认配置
// 默认指向本地LM Studio的OpenAI兼容接口
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    "http://localhost:1234/v1",
		Model:      "text-embedding-granite-embedding-278m-multilingual",
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		BatchSize:  16,
	}
}

// NewConfig 创建一个新的配置并应用选项
func NewConfig(opts ...Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Factory 嵌入客户端工厂函数类型
type Factory func(opts ...Option) (Client, error)

var (
	factoriesMu     sync.RWMutex
	clientFactories = make(map[string]Factory)
)

// RegisterClient 注册嵌入客户端工厂函数
func RegisterClient(name string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	clientFactories[name] = factory
}

// NewClient 根据名称创建嵌入客户端
// 配置了速率限制时自动包装限流
func NewClient(name string, opts ...Option) (Client, error) {
	factoriesMu.RLock()
	factory, exists := clientFactories[name]
	factoriesMu.RUnlock()
	if !exists {
		return nil, NewEmbeddingError(
			ErrCodeInvalidRequest,
			"embedding client type not registered: "+name)
	}

	client, err := factory(opts...)
	if err != nil {
		return nil, err
	}

	cfg := NewConfig(opts...)
	if cfg.RateLimit > 0 {
		client = NewRateLimitedClient(client, cfg.RateLimit, cfg.Burst)
	}
	return client, nil
}
