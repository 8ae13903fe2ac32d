package embedding

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedClient 对嵌入请求做客户端侧限流
type RateLimitedClient struct {
	Client
	limiter *rate.Limiter
}

// NewRateLimitedClient 包装客户端，rps为每秒请求数
func NewRateLimitedClient(client Client, rps float64, burst int) *RateLimitedClient {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedClient{
		Client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Embed 等待令牌后请求
func (c *RateLimitedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.Client.Embed(ctx, text)
}

// EmbedBatch 批量请求计为一次
func (c *RateLimitedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.Client.EmbedBatch(ctx, texts)
}
