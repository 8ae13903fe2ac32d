package layout

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Analyzer 版面分析器接口
// 负责把上传的原始文件转换为段落/表格/章节结构
type Analyzer interface {
	// Analyze 分析文档，filename用于判断文件类型
	Analyze(ctx context.Context, r io.Reader, filename string) (*Document, error)

	// Name 返回分析器名称
	Name() string
}

// ContentType 文件内容类型
type ContentType string

const (
	PDF       ContentType = "pdf"
	Markdown  ContentType = "markdown"
	PlainText ContentType = "plaintext"
	JSON      ContentType = "json"
	Unknown   ContentType = "unknown"
)

// DetectContentType 根据文件扩展名检测内容类型
func DetectContentType(filename string) ContentType {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return PDF
	case ".md", ".markdown":
		return Markdown
	case ".txt":
		return PlainText
	case ".json":
		return JSON
	default:
		return Unknown
	}
}

// Config 分析器配置
type Config struct {
	Provider     string        // 分析器类型: azure / local
	Endpoint     string        // Document Intelligence 服务地址
	APIKey       string        // 订阅密钥
	APIVersion   string        // API版本
	ModelID      string        // 模型ID
	PollInterval time.Duration // 轮询间隔
	Timeout      time.Duration // 单次分析的总超时
	MaxRetries   int           // 提交请求的最大重试次数
}

// Option 配置选项函数
type Option func(*Config)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Provider:     "local",
		APIVersion:   "2024-11-30",
		ModelID:      "prebuilt-layout",
		PollInterval: 2 * time.Second,
		Timeout:      5 * time.Minute,
		MaxRetries:   3,
	}
}

// WithProvider 设置分析器类型
func WithProvider(provider string) Option {
	return func(c *Config) {
		c.Provider = provider
	}
}

// WithEndpoint 设置服务地址
func WithEndpoint(endpoint string) Option {
	return func(c *Config) {
		c.Endpoint = strings.TrimRight(endpoint, "/")
	}
}

// WithAPIKey 设置订阅密钥
func WithAPIKey(key string) Option {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithAPIVersion 设置API版本
func WithAPIVersion(version string) Option {
	return func(c *Config) {
		if version != "" {
			c.APIVersion = version
		}
	}
}

// WithModelID 设置模型ID
func WithModelID(model string) Option {
	return func(c *Config) {
		if model != "" {
			c.ModelID = model
		}
	}
}

// WithPollInterval 设置轮询间隔
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.PollInterval = d
		}
	}
}

// WithTimeout 设置分析超时
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

// WithMaxRetries 设置最大重试次数
func WithMaxRetries(n int) Option {
	return func(c *Config) {
		c.MaxRetries = n
	}
}

// NewConfig 根据选项创建配置
func NewConfig(opts ...Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Factory 分析器工厂函数
type Factory func(cfg *Config) (Analyzer, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterAnalyzer 注册分析器工厂
func RegisterAnalyzer(name string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

// NewAnalyzer 创建分析器
// provider为空时，配置了endpoint和key则使用azure，否则使用本地分析器
func NewAnalyzer(opts ...Option) (Analyzer, error) {
	cfg := NewConfig(opts...)

	provider := cfg.Provider
	if provider == "" || provider == "auto" {
		provider = "local"
		if cfg.Endpoint != "" && cfg.APIKey != "" {
			provider = "azure"
		}
	}

	factoriesMu.RLock()
	factory, ok := factories[provider]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", ErrAnalyzerUnavailable, provider)
	}

	return factory(cfg)
}
