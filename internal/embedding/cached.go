package embedding

import (
	"context"
	"time"

	"github.com/fyerfyer/contract-qa/internal/cache"
)

// CachedClient 带缓存的嵌入客户端
// 相同模型下相同文本只请求一次
type CachedClient struct {
	Client
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedClient 包装客户端
func NewCachedClient(client Client, c cache.Cache, ttl time.Duration) *CachedClient {
	return &CachedClient{Client: client, cache: c, ttl: ttl}
}

func (c *CachedClient) key(text string) string {
	return cache.GenerateCacheKey("embedding", c.Client.Name(), cache.HashKey(text))
}

// Embed 优先读缓存，缓存错误不影响请求
func (c *CachedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)

	var vector []float32
	if found, err := cache.GetJSON(c.cache, key, &vector); err == nil && found {
		return vector, nil
	}

	vector, err := c.Client.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	_ = cache.SetJSON(c.cache, key, vector, c.ttl)
	return vector, nil
}

// EmbedBatch 只对未命中的文本发起请求
func (c *CachedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		var vector []float32
		if found, err := cache.GetJSON(c.cache, c.key(text), &vector); err == nil && found {
			vectors[i] = vector
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return vectors, nil
	}

	fetched, err := c.Client.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		vectors[i] = fetched[j]
		_ = cache.SetJSON(c.cache, c.key(texts[i]), fetched[j], c.ttl)
	}
	return vectors, nil
}
