package chunker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/fyerfyer/contract-qa/internal/layout"
	"github.com/sirupsen/logrus"
)

// DefaultMinTokens 默认最小分块词数
const DefaultMinTokens = 256

// 标题标记，分块首行以此开头时提取为heading
var headingMarkers = []string{"[TITLE]", "[SECTIONHEADING]"}

// Embedder 向量化接口
// 模型由实现方持有，分块器只传入文本
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Chunk 持久化的检索单元
type Chunk struct {
	Content        string    `json:"content"`
	TokenLength    int       `json:"token_length"`
	CharLength     int       `json:"char_length"`
	SectionIndexes []int     `json:"section_indexes"`
	Roles          []string  `json:"roles"`
	Heading        string    `json:"heading,omitempty"`
	PageNumbers    []int     `json:"page_numbers"`
	ChunkNumber    int       `json:"chunk_number"`
	Filename       string    `json:"filename"`
	Embedding      []float32 `json:"embedding,omitempty"`
}

// ChunkError 分块失败
// 记录失败的文档和分块序号，分块结果整体作废
type ChunkError struct {
	Filename    string
	ChunkNumber int
	Err         error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("processing failed at chunk %d of %s: %v", e.ChunkNumber, e.Filename, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// Result 一个文档的分块结果
type Result struct {
	Filename   string
	Chunks     []Chunk
	Sections   []ProcessedSection // 全部章节的展开结果，含被跳过的章节
	ChunkTexts []string           // 每个分块去除标题前的完整文本
	Warnings   []Warning
}

// Config 分块器配置
type Config struct {
	MinTokens int            // 最小分块词数
	Logger    *logrus.Logger // 日志记录器
}

// Option 配置选项函数
type Option func(*Config)

// WithMinTokens 设置最小分块词数
func WithMinTokens(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.MinTokens = n
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// Chunker 分块器
// 按文档顺序展开章节并贪心合并，累积词数达到阈值即输出一个分块
type Chunker struct {
	embedder  Embedder
	minTokens int
	logger    *logrus.Logger
}

// New 创建分块器，embedder为nil时不生成向量
func New(embedder Embedder, opts ...Option) *Chunker {
	cfg := &Config{
		MinTokens: DefaultMinTokens,
		Logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Chunker{
		embedder:  embedder,
		minTokens: cfg.MinTokens,
		logger:    cfg.Logger,
	}
}

// MinTokens 返回最小分块词数
func (c *Chunker) MinTokens() int {
	return c.minTokens
}

// Assemble 对整个文档分块
// 向量化按分块顺序串行进行，任何一次失败都中止并返回ChunkError，不返回部分结果
func (c *Chunker) Assemble(ctx context.Context, doc *layout.Document, filename string) (*Result, error) {
	if doc == nil {
		doc = &layout.Document{}
	}

	result := &Result{Filename: filename}
	acc := Accumulator{}
	chunkNumber := 1

	flush := func() error {
		text := strings.Join(acc.Texts, "\n")
		chunk, err := c.CreateChunk(ctx, text, acc.SectionIndexes, acc.Roles, acc.Pages, chunkNumber, filename)
		if err != nil {
			return &ChunkError{Filename: filename, ChunkNumber: chunkNumber, Err: err}
		}
		result.Chunks = append(result.Chunks, chunk)
		result.ChunkTexts = append(result.ChunkTexts, text)
		chunkNumber++
		acc = acc.Reset()
		return nil
	}

	for idx, section := range doc.Sections {
		ps := ProcessSection(idx, section, doc)
		result.Sections = append(result.Sections, ps)
		c.logSection(filename, ps)

		acc = acc.Fold(ps)
		if !acc.Empty() && acc.Tokens >= c.minTokens {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}

	// 末尾剩余的章节无论词数多少都输出
	if !acc.Empty() {
		if err := flush(); err != nil {
			return nil, err
		}
	}

	result.Warnings = acc.Warnings

	c.logger.WithFields(logrus.Fields{
		"filename": filename,
		"sections": len(doc.Sections),
		"chunks":   len(result.Chunks),
		"warnings": len(result.Warnings),
	}).Info("Document chunked")

	return result, nil
}

// logSection 记录章节处理过程中的诊断
func (c *Chunker) logSection(filename string, ps ProcessedSection) {
	if ps.Classification == OnlySections {
		c.logger.WithFields(logrus.Fields{
			"filename": filename,
			"section":  ps.Index,
		}).Debug("Section has only section links, skipped")
	}
	for _, w := range ps.Warnings {
		c.logger.WithFields(logrus.Fields{
			"filename": filename,
			"section":  w.SectionIndex,
			"ref":      w.Ref,
		}).Warn(w.Reason)
	}
}

// CreateChunk 由累积文本和元数据生成分块
// token_length、char_length和向量都按去除标题前的文本计算。
// 分块阈值比较的是同一段文本，因此除末尾分块外token_length总不小于MinTokens；
// 改为按去除标题后的正文计数会破坏这一点。
func (c *Chunker) CreateChunk(ctx context.Context, text string, indexes []int, roles []string, pages []int, chunkNumber int, filename string) (Chunk, error) {
	chunk := Chunk{
		Content:        text,
		TokenLength:    CountTokens(text),
		CharLength:     utf8.RuneCountInString(text),
		SectionIndexes: append([]int{}, indexes...),
		Roles:          uniqueStrings(roles),
		PageNumbers:    uniqueInts(pages),
		ChunkNumber:    chunkNumber,
		Filename:       filename,
	}

	chunk.Heading, chunk.Content = extractHeading(text)

	if c.embedder != nil {
		if err := ctx.Err(); err != nil {
			return Chunk{}, err
		}
		vector, err := c.embedder.Embed(ctx, text)
		if err != nil {
			return Chunk{}, fmt.Errorf("failed to embed chunk: %w", err)
		}
		chunk.Embedding = vector
	}

	return chunk, nil
}

// extractHeading 首行以标题标记开头时拆出标题，其余部分作为正文
func extractHeading(text string) (string, string) {
	lines := strings.SplitN(text, "\n", 2)
	first := strings.TrimSpace(lines[0])
	for _, marker := range headingMarkers {
		if strings.HasPrefix(first, marker) {
			if len(lines) > 1 {
				return first, strings.TrimSpace(lines[1])
			}
			return first, ""
		}
	}
	return "", text
}

func uniqueStrings(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, s := range items {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func uniqueInts(items []int) []int {
	set := newPageSet()
	set.add(items...)
	return set.sorted()
}
