package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Cache 缓存接口
// 问答结果和嵌入向量都以字符串形式存放
type Cache interface {
	Get(key string) (value string, found bool, err error)
	Set(key string, value string, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Factory 缓存工厂函数类型
type Factory func(config Config) (Cache, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// RegisterCache 注册缓存实现
func RegisterCache(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// NewCache 创建缓存实例，未知类型回退到内存缓存
func NewCache(config Config) (Cache, error) {
	registryMu.RLock()
	factory, ok := registry[config.Type]
	registryMu.RUnlock()
	if ok {
		return factory(config)
	}
	return NewMemoryCache(config)
}

// Config 缓存配置
type Config struct {
	Type            string        // "memory" 或 "redis"
	RedisAddr       string        // Redis地址
	RedisPassword   string        // Redis密码
	RedisDB         int           // Redis数据库编号
	KeyPrefix       string        // 所有键的命名空间前缀
	DefaultTTL      time.Duration // 默认过期时间
	CleanupInterval time.Duration // 内存缓存清理间隔
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Type:            "memory",
		KeyPrefix:       "contract-qa",
		DefaultTTL:      time.Hour * 24,
		CleanupInterval: time.Minute * 10,
	}
}

// GenerateCacheKey 生成标准化的缓存键
func GenerateCacheKey(prefix string, parts ...string) string {
	if len(parts) == 0 {
		return prefix
	}
	return prefix + ":" + strings.Join(parts, ":")
}

// HashKey 对任意长度文本生成定长键片段
func HashKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// GetJSON 读取并解码JSON值
func GetJSON(c Cache, key string, v any) (bool, error) {
	raw, found, err := c.Get(key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		// 损坏的条目视为未命中
		_ = c.Delete(key)
		return false, nil
	}
	return true, nil
}

// SetJSON 编码为JSON后写入
func SetJSON(c Cache, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return c.Set(key, string(data), ttl)
}

func prefixed(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}
