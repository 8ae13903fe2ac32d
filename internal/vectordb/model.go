package vectordb

import (
	"context"
	"errors"
	"sync"
)

// 常用错误定义
var (
	ErrRecordNotFound   = errors.New("record not found")
	ErrEmptyVector      = errors.New("empty vector")
	ErrInvalidID        = errors.New("invalid record ID")
	ErrInvalidDimension = errors.New("vector dimension mismatch")
	ErrEmptyQuery       = errors.New("query text and vector are both empty")
)

// DefaultCollection 默认集合名
const DefaultCollection = "Document"

// DefaultAlpha 默认混合权重，偏向关键词检索
const DefaultAlpha = 0.05

// Record 向量库中的一个分块
type Record struct {
	ID             string    // 唯一标识符
	DocumentID     string    // 所属文档ID
	Filename       string    // 源文件名
	ChunkNumber    int       // 文档内分块序号
	Content        string    // 分块全文
	Heading        string    // 标题
	TokenLength    int       // 词元数
	CharLength     int       // 字符数
	SectionIndexes []int     // 组成分块的章节序号
	Roles          []string  // 出现的段落角色
	PageNumbers    []int     // 覆盖的页码
	Vector         []float32 // 嵌入向量，可为空
}

// DistanceType 向量距离计算方法
type DistanceType string

const (
	// Cosine 余弦相似度
	Cosine DistanceType = "cosine"
	// DotProduct 点积
	DotProduct DistanceType = "dot"
	// Euclidean 欧几里得距离
	Euclidean DistanceType = "l2"
)

// Filter 元数据过滤条件
// PageNumbers和Roles为任一匹配
type Filter struct {
	Filename    string
	DocumentIDs []string
	PageNumbers []int
	Roles       []string
}

// SearchOptions 混合检索参数
type SearchOptions struct {
	// Alpha 向量得分权重，1为纯向量检索，0为纯关键词检索
	Alpha  float64
	Limit  int
	Filter Filter
}

// DefaultSearchOptions 返回默认检索参数
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		Alpha: DefaultAlpha,
		Limit: 5,
	}
}

// SearchResult 检索结果
type SearchResult struct {
	Record       Record  // 命中的分块
	Score        float64 // 融合得分
	VectorScore  float64 // 归一化向量得分
	KeywordScore float64 // 归一化BM25得分
}

// Repository 向量数据库仓库接口
type Repository interface {
	// AddBatch 批量写入，ID已存在时覆盖
	AddBatch(ctx context.Context, records []Record) error

	// Get 获取单个分块
	Get(ctx context.Context, id string) (Record, error)

	// DeleteByFileID 删除指定文档的全部分块
	DeleteByFileID(ctx context.Context, documentID string) error

	// HybridSearch 关键词与向量混合检索
	HybridSearch(ctx context.Context, query string, vector []float32, opts SearchOptions) ([]SearchResult, error)

	// Count 获取分块总数
	Count(ctx context.Context) (int, error)

	// Close 关闭仓库
	Close() error
}

// Config 向量数据库配置
type Config struct {
	Type         string       // 实现类型，目前为 "memory"
	Collection   string       // 集合名
	Dimension    int          // 向量维度，0表示首次写入时确定
	DistanceType DistanceType // 距离计算类型
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Type:         "memory",
		Collection:   DefaultCollection,
		DistanceType: Cosine,
	}
}

// Factory 向量数据库工厂函数类型
type Factory func(config Config) (Repository, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// RegisterRepository 注册向量数据库工厂函数
func RegisterRepository(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// NewRepository 根据配置创建向量数据库实例，未知类型使用内存实现
func NewRepository(config Config) (Repository, error) {
	registryMu.RLock()
	factory, ok := registry[config.Type]
	registryMu.RUnlock()
	if !ok {
		factory = NewMemoryRepository
	}
	return factory(config)
}
