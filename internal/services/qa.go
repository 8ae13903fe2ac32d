package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/contract-qa/internal/cache"
	"github.com/fyerfyer/contract-qa/internal/embedding"
	"github.com/fyerfyer/contract-qa/internal/llm"
	"github.com/fyerfyer/contract-qa/internal/metrics"
	"github.com/fyerfyer/contract-qa/internal/vectordb"
)

// ErrEmptyQuestion 问题为空
var ErrEmptyQuestion = errors.New("question cannot be empty")

// QueryOptions 单次检索参数
type QueryOptions struct {
	TopK   int             // 返回数量，0使用服务默认值
	Alpha  *float64        // 向量权重，nil使用服务默认值
	Filter vectordb.Filter // 元数据过滤
}

// Source 回答引用的分块
type Source struct {
	Index       int     `json:"index"`
	ChunkID     string  `json:"chunk_id"`
	DocumentID  string  `json:"document_id"`
	Filename    string  `json:"filename"`
	ChunkNumber int     `json:"chunk_number"`
	Heading     string  `json:"heading,omitempty"`
	PageNumbers []int   `json:"page_numbers"`
	Content     string  `json:"content"`
	Score       float64 `json:"score"`
}

// Answer 问答结果
type Answer struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Sources  []Source `json:"sources"`
	Cached   bool     `json:"cached"`
}

// QAService 问答服务
// 负责协调混合检索和大模型生成答案
type QAService struct {
	embedder embedding.Client
	vectorDB vectordb.Repository
	rag      *llm.RAGService
	cache    cache.Cache
	cacheTTL time.Duration
	topK     int
	alpha    float64
	metrics  *metrics.Metrics
	logger   *logrus.Logger
}

// QAOption 问答服务配置选项
type QAOption func(*QAService)

// NewQAService 创建问答服务
// embedder为nil时只做关键词检索，cache为nil时不缓存答案
func NewQAService(
	embedder embedding.Client,
	vectorDB vectordb.Repository,
	rag *llm.RAGService,
	c cache.Cache,
	opts ...QAOption,
) *QAService {
	service := &QAService{
		embedder: embedder,
		vectorDB: vectorDB,
		rag:      rag,
		cache:    c,
		cacheTTL: time.Hour,
		topK:     vectordb.DefaultSearchOptions().Limit,
		alpha:    vectordb.DefaultAlpha,
		logger:   logrus.New(),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// WithCacheTTL 设置答案缓存时间
func WithCacheTTL(ttl time.Duration) QAOption {
	return func(s *QAService) {
		s.cacheTTL = ttl
	}
}

// WithTopK 设置默认返回数量
func WithTopK(k int) QAOption {
	return func(s *QAService) {
		if k > 0 {
			s.topK = k
		}
	}
}

// WithAlpha 设置默认混合权重
func WithAlpha(alpha float64) QAOption {
	return func(s *QAService) {
		s.alpha = clampAlpha(alpha)
	}
}

// WithQAMetrics 设置指标
func WithQAMetrics(m *metrics.Metrics) QAOption {
	return func(s *QAService) {
		s.metrics = m
	}
}

// WithQALogger 设置日志记录器
func WithQALogger(logger *logrus.Logger) QAOption {
	return func(s *QAService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Search 混合检索相关分块
func (s *QAService) Search(ctx context.Context, query string, opts QueryOptions) ([]vectordb.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuestion
	}

	searchOpts := s.searchOptions(opts)
	start := time.Now()

	var vector []float32
	if s.embedder != nil && searchOpts.Alpha > 0 {
		v, err := s.embedder.Embed(ctx, query)
		switch {
		case err == nil:
			vector = v
		case searchOpts.Alpha >= 1:
			return nil, fmt.Errorf("failed to embed query: %w", err)
		default:
			// 关键词部分仍可用
			s.logger.WithError(err).Warn("Query embedding failed, falling back to keyword search")
		}
	}

	results, err := s.vectorDB.HybridSearch(ctx, query, vector, searchOpts)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	s.metrics.ObserveSearch(time.Since(start))

	s.logger.WithFields(logrus.Fields{
		"query":   query,
		"alpha":   searchOpts.Alpha,
		"limit":   searchOpts.Limit,
		"results": len(results),
	}).Debug("Hybrid search finished")

	return results, nil
}

// Answer 检索相关分块并生成回答
func (s *QAService) Answer(ctx context.Context, question string, opts QueryOptions) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	key := s.cacheKey(question, opts)
	if s.cache != nil {
		var cached Answer
		found, err := cache.GetJSON(s.cache, key, &cached)
		if err != nil {
			s.logger.WithError(err).Warn("Failed to read answer cache")
		}
		if found {
			s.metrics.RecordQA(true)
			cached.Cached = true
			return &cached, nil
		}
	}
	s.metrics.RecordQA(false)

	results, err := s.Search(ctx, question, opts)
	if err != nil {
		return nil, err
	}

	contexts := make([]string, len(results))
	sources := make([]Source, len(results))
	for i, r := range results {
		contexts[i] = r.Record.Content
		sources[i] = Source{
			Index:       i + 1,
			ChunkID:     r.Record.ID,
			DocumentID:  r.Record.DocumentID,
			Filename:    r.Record.Filename,
			ChunkNumber: r.Record.ChunkNumber,
			Heading:     r.Record.Heading,
			PageNumbers: r.Record.PageNumbers,
			Content:     r.Record.Content,
			Score:       r.Score,
		}
	}

	resp, err := s.rag.Answer(ctx, question, contexts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	answer := &Answer{
		Question: question,
		Answer:   resp.Answer,
		Sources:  sources,
	}

	if s.cache != nil {
		if err := cache.SetJSON(s.cache, key, answer, s.cacheTTL); err != nil {
			s.logger.WithError(err).Warn("Failed to cache answer")
		}
	}
	return answer, nil
}

// searchOptions 合并服务默认值
func (s *QAService) searchOptions(opts QueryOptions) vectordb.SearchOptions {
	searchOpts := vectordb.SearchOptions{
		Alpha:  s.alpha,
		Limit:  s.topK,
		Filter: opts.Filter,
	}
	if opts.TopK > 0 {
		searchOpts.Limit = opts.TopK
	}
	if opts.Alpha != nil {
		searchOpts.Alpha = clampAlpha(*opts.Alpha)
	}
	return searchOpts
}

// cacheKey 问题和检索参数共同决定缓存键
func (s *QAService) cacheKey(question string, opts QueryOptions) string {
	searchOpts := s.searchOptions(opts)
	f := searchOpts.Filter

	parts := []string{
		question,
		strconv.Itoa(searchOpts.Limit),
		strconv.FormatFloat(searchOpts.Alpha, 'f', 4, 64),
		f.Filename,
		strings.Join(sortedCopy(f.DocumentIDs), ","),
		joinInts(f.PageNumbers),
		strings.Join(sortedCopy(f.Roles), ","),
	}
	return cache.GenerateCacheKey("qa", cache.HashKey(strings.Join(parts, "\x00")))
}

func clampAlpha(alpha float64) float64 {
	switch {
	case alpha < 0:
		return 0
	case alpha > 1:
		return 1
	default:
		return alpha
	}
}

func sortedCopy(items []string) []string {
	out := append([]string(nil), items...)
	sort.Strings(out)
	return out
}

func joinInts(items []int) string {
	sorted := append([]int(nil), items...)
	sort.Ints(sorted)
	parts := make([]string, len(sorted))
	for i, n := range sorted {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
