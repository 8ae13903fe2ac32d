package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用程序配置结构体
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Layout   LayoutConfig   `mapstructure:"layout"`
	VectorDB VectorDBConfig `mapstructure:"vectordb"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Embed    EmbedConfig    `mapstructure:"embed"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Database DatabaseConfig `mapstructure:"database"`
	Chunking ChunkingConfig `mapstructure:"chunking"`
	Search   SearchConfig   `mapstructure:"search"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`          // 服务器主机
	Port         int           `mapstructure:"port"`          // 服务器端口
	Mode         string        `mapstructure:"mode"`          // gin模式：debug/release/test
	MaxUploadMB  int64         `mapstructure:"max_upload_mb"` // 上传文件大小上限
	AllowOrigins []string      `mapstructure:"allow_origins"` // 跨域来源，为空时允许全部
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`  // 读超时
	WriteTimeout time.Duration `mapstructure:"write_timeout"` // 写超时，同步处理大文件时需要足够长
}

// Address 返回监听地址
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig 存储配置
type StorageConfig struct {
	Type      string `mapstructure:"type"`     // 存储类型：local 或 minio
	Path      string `mapstructure:"path"`     // 本地存储路径
	Bucket    string `mapstructure:"bucket"`   // MinIO桶名称
	Endpoint  string `mapstructure:"endpoint"` // MinIO端点
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"` // 是否使用SSL
}

// LayoutConfig 版面分析配置
type LayoutConfig struct {
	Provider     string        `mapstructure:"provider"`      // auto、azure 或 local
	Endpoint     string        `mapstructure:"endpoint"`      // Document Intelligence 地址
	APIKey       string        `mapstructure:"api_key"`       // 订阅密钥
	APIVersion   string        `mapstructure:"api_version"`   // API版本
	ModelID      string        `mapstructure:"model_id"`      // 模型ID
	PollInterval time.Duration `mapstructure:"poll_interval"` // 轮询间隔
	Timeout      time.Duration `mapstructure:"timeout"`       // 单次分析超时
}

// VectorDBConfig 向量数据库配置
type VectorDBConfig struct {
	Type       string `mapstructure:"type"`       // 目前只有memory
	Collection string `mapstructure:"collection"` // 集合名
	Dim        int    `mapstructure:"dim"`        // 向量维度，0表示首次写入时确定
	Distance   string `mapstructure:"distance"`   // 距离度量方式：cosine, l2, dot
}

// LLMConfig 大语言模型配置
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`    // 提供商：openai
	Model       string        `mapstructure:"model"`       // 模型名称
	APIKey      string        `mapstructure:"api_key"`     // API密钥
	Endpoint    string        `mapstructure:"endpoint"`    // API端点
	MaxTokens   int           `mapstructure:"max_tokens"`  // 最大生成token数量
	Temperature float32       `mapstructure:"temperature"` // 采样温度
	Timeout     time.Duration `mapstructure:"timeout"`     // 请求超时
}

// EmbedConfig 向量嵌入模型配置
type EmbedConfig struct {
	Provider   string        `mapstructure:"provider"`   // 提供商：openai, gemini，none表示不生成向量
	Model      string        `mapstructure:"model"`      // 模型名称
	APIKey     string        `mapstructure:"api_key"`    // API密钥（如果需要）
	Endpoint   string        `mapstructure:"endpoint"`   // API端点
	BatchSize  int           `mapstructure:"batch_size"` // 批处理大小
	Dimensions int           `mapstructure:"dimensions"` // 向量维度
	RateLimit  float64       `mapstructure:"rate_limit"` // 每秒请求数上限
	Burst      int           `mapstructure:"burst"`      // 突发请求数
	Timeout    time.Duration `mapstructure:"timeout"`    // 请求超时
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`  // 向量缓存时间，0表示不缓存
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Enable   bool          `mapstructure:"enable"`   // 是否启用缓存
	Type     string        `mapstructure:"type"`     // 缓存类型：memory 或 redis
	Address  string        `mapstructure:"address"`  // Redis地址
	Password string        `mapstructure:"password"` // Redis密码
	DB       int           `mapstructure:"db"`       // Redis数据库
	Prefix   string        `mapstructure:"prefix"`   // 键前缀
	TTL      time.Duration `mapstructure:"ttl"`      // 答案缓存时间
}

// QueueConfig 任务队列配置
type QueueConfig struct {
	Enable        bool          `mapstructure:"enable"`         // 是否启用任务队列
	RedisAddr     string        `mapstructure:"redis_addr"`     // Redis地址
	RedisPassword string        `mapstructure:"redis_password"` // Redis密码
	RedisDB       int           `mapstructure:"redis_db"`       // Redis数据库编号
	Concurrency   int           `mapstructure:"concurrency"`    // 任务处理并发数
	RetryLimit    int           `mapstructure:"retry_limit"`    // 任务最大重试次数
	RetryDelay    time.Duration `mapstructure:"retry_delay"`    // 重试延迟
	Worker        bool          `mapstructure:"worker"`         // 本进程是否运行worker
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // 数据库类型: sqlite
	DSN  string `mapstructure:"dsn"`  // 数据源名称
}

// ChunkingConfig 分块配置
type ChunkingConfig struct {
	MinChunkTokens int           `mapstructure:"min_chunk_tokens"` // 最小分块词数
	DiagnosticsDir string        `mapstructure:"diagnostics_dir"`  // 章节与分块文本输出目录，为空不输出
	Timeout        time.Duration `mapstructure:"timeout"`          // 单个文档的处理超时
}

// SearchConfig 检索配置
type SearchConfig struct {
	TopK  int     `mapstructure:"top_k"` // 默认返回数量
	Alpha float64 `mapstructure:"alpha"` // 默认向量权重
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // 日志级别
	File       string `mapstructure:"file"`        // 日志文件，为空只输出到标准输出
	MaxSizeMB  int    `mapstructure:"max_size_mb"` // 单个日志文件大小上限
	MaxBackups int    `mapstructure:"max_backups"` // 保留的旧文件数
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load 从文件和环境变量加载配置
// 配置文件不存在时使用默认值，并写出一份默认配置文件
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if dir := filepath.Dir(configPath); dir != "" {
			if err := os.MkdirAll(dir, 0755); err == nil {
				_ = v.WriteConfigAs(configPath)
			}
		}
	}

	// 支持环境变量覆盖，如 LLM_API_KEY 覆盖 llm.api_key
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	expandEnv(reflect.ValueOf(&cfg).Elem())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	if c.Search.Alpha < 0 || c.Search.Alpha > 1 {
		return fmt.Errorf("search.alpha must be within [0, 1], got %v", c.Search.Alpha)
	}
	if c.Search.TopK <= 0 {
		return fmt.Errorf("search.top_k must be positive, got %d", c.Search.TopK)
	}
	if c.Chunking.MinChunkTokens < 0 {
		return fmt.Errorf("chunking.min_chunk_tokens cannot be negative")
	}
	switch c.Storage.Type {
	case "local", "minio":
	default:
		return fmt.Errorf("unsupported storage type %q", c.Storage.Type)
	}
	return nil
}

// expandEnv 把字符串字段中的 ${VAR} 替换为环境变量值
// 变量未设置时保留原值
func expandEnv(v reflect.Value) {
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandEnv(v.Field(i))
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			expandEnv(v.Index(i))
		}
	case reflect.String:
		s := v.String()
		if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
			if val := os.Getenv(s[2 : len(s)-1]); val != "" {
				v.SetString(val)
			}
		}
	}
}

// setDefaults 设置配置的默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.max_upload_mb", 50)
	v.SetDefault("server.allow_origins", []string{})
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "10m")

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.path", "./uploads")
	v.SetDefault("storage.bucket", "contract-qa")
	v.SetDefault("storage.use_ssl", false)

	v.SetDefault("layout.provider", "auto")
	v.SetDefault("layout.api_version", "2024-11-30")
	v.SetDefault("layout.model_id", "prebuilt-layout")
	v.SetDefault("layout.poll_interval", "2s")
	v.SetDefault("layout.timeout", "5m")

	v.SetDefault("vectordb.type", "memory")
	v.SetDefault("vectordb.collection", "Document")
	v.SetDefault("vectordb.dim", 0)
	v.SetDefault("vectordb.distance", "cosine")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "qwen3-8b")
	v.SetDefault("llm.endpoint", "http://localhost:1234/v1")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.timeout", "2m")

	v.SetDefault("embed.provider", "openai")
	v.SetDefault("embed.model", "text-embedding-granite-embedding-278m-multilingual")
	v.SetDefault("embed.endpoint", "http://localhost:1234/v1")
	v.SetDefault("embed.batch_size", 16)
	v.SetDefault("embed.rate_limit", 0)
	v.SetDefault("embed.burst", 1)
	v.SetDefault("embed.timeout", "30s")
	v.SetDefault("embed.cache_ttl", "24h")

	v.SetDefault("cache.enable", true)
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.address", "localhost:6379")
	v.SetDefault("cache.prefix", "contract-qa")
	v.SetDefault("cache.ttl", "1h")

	v.SetDefault("queue.enable", false)
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.retry_limit", 3)
	v.SetDefault("queue.retry_delay", "30s")
	v.SetDefault("queue.worker", true)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "data/contract-qa.db")

	v.SetDefault("chunking.min_chunk_tokens", 256)
	v.SetDefault("chunking.diagnostics_dir", "")
	v.SetDefault("chunking.timeout", "10m")

	v.SetDefault("search.top_k", 5)
	v.SetDefault("search.alpha", 0.05)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
}
