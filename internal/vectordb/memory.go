package vectordb

import (
	"context"
	"fmt"
	"sync"
)

// MemoryRepository 内存向量仓库
// 同时维护向量和BM25统计，支持混合检索
type MemoryRepository struct {
	mu         sync.RWMutex
	collection string
	dimension  int
	distType   DistanceType
	records    map[string]Record   // ID到分块
	byDocument map[string][]string // 文档ID到分块ID
	keywords   *bm25Index
}

// NewMemoryRepository 创建内存向量仓库
func NewMemoryRepository(config Config) (Repository, error) {
	if config.DistanceType == "" {
		config.DistanceType = Cosine
	}
	if _, err := ComputeDistance([]float32{1}, []float32{1}, config.DistanceType); err != nil {
		return nil, err
	}
	if config.Collection == "" {
		config.Collection = DefaultCollection
	}

	return &MemoryRepository{
		collection: config.Collection,
		dimension:  config.Dimension,
		distType:   config.DistanceType,
		records:    make(map[string]Record),
		byDocument: make(map[string][]string),
		keywords:   newBM25Index(),
	}, nil
}

// Collection 返回集合名
func (r *MemoryRepository) Collection() string {
	return r.collection
}

// AddBatch 批量写入，任一记录无效时整体拒绝
func (r *MemoryRepository) AddBatch(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dim := r.dimension
	for i, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("record %d: %w", i, ErrInvalidID)
		}
		if len(rec.Vector) == 0 {
			continue
		}
		if dim == 0 {
			dim = len(rec.Vector)
		}
		if err := ValidateVector(rec.Vector, dim); err != nil {
			return fmt.Errorf("record %s: %w", rec.ID, err)
		}
	}
	r.dimension = dim

	for _, rec := range records {
		if old, exists := r.records[rec.ID]; exists {
			r.unlinkLocked(old)
		}
		stored := cloneRecord(rec)
		r.records[rec.ID] = stored
		r.byDocument[rec.DocumentID] = append(r.byDocument[rec.DocumentID], rec.ID)
		r.keywords.add(rec.ID, rec.Content)
	}
	return nil
}

// Get 获取单个分块
func (r *MemoryRepository) Get(ctx context.Context, id string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.records[id]
	if !exists {
		return Record{}, ErrRecordNotFound
	}
	return cloneRecord(rec), nil
}

// DeleteByFileID 删除指定文档的全部分块
func (r *MemoryRepository) DeleteByFileID(ctx context.Context, documentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.byDocument[documentID] {
		delete(r.records, id)
		r.keywords.remove(id)
	}
	delete(r.byDocument, documentID)
	return nil
}

// unlinkLocked 从文档映射中移除旧记录，调用方持有写锁
func (r *MemoryRepository) unlinkLocked(old Record) {
	ids := r.byDocument[old.DocumentID]
	kept := ids[:0]
	for _, id := range ids {
		if id != old.ID {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		delete(r.byDocument, old.DocumentID)
	} else {
		r.byDocument[old.DocumentID] = kept
	}
	r.keywords.remove(old.ID)
}

// HybridSearch 混合检索
// 向量得分和BM25得分分别归一化后按alpha加权
func (r *MemoryRepository) HybridSearch(ctx context.Context, query string, vector []float32, opts SearchOptions) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	terms := Tokenize(query)
	if len(terms) == 0 && len(vector) == 0 {
		return nil, ErrEmptyQuery
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultSearchOptions().Limit
	}
	alpha := clamp(opts.Alpha, 0, 1)
	// 缺少一侧输入时退化为单路检索
	if len(vector) == 0 {
		alpha = 0
	} else if len(terms) == 0 {
		alpha = 1
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(vector) > 0 && r.dimension > 0 && len(vector) != r.dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrInvalidDimension, r.dimension, len(vector))
	}

	vectorRaw := make(map[string]float64)
	keywordRaw := make(map[string]float64)
	for id, rec := range r.records {
		if !opts.Filter.Match(rec) {
			continue
		}
		if alpha > 0 && len(rec.Vector) == len(vector) {
			dist, err := ComputeDistance(vector, rec.Vector, r.distType)
			if err != nil {
				return nil, err
			}
			vectorRaw[id] = float64(DistanceToScore(dist, r.distType))
		}
		if alpha < 1 {
			if s := r.keywords.score(id, terms); s > 0 {
				keywordRaw[id] = s
			}
		}
	}

	vectorNorm := normalizeScores(vectorRaw)
	keywordNorm := normalizeScores(keywordRaw)

	results := make([]SearchResult, 0, len(vectorNorm)+len(keywordNorm))
	seen := make(map[string]struct{}, len(vectorNorm)+len(keywordNorm))
	collect := func(id string) {
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		v, k := vectorNorm[id], keywordNorm[id]
		results = append(results, SearchResult{
			Record:       cloneRecord(r.records[id]),
			Score:        alpha*v + (1-alpha)*k,
			VectorScore:  v,
			KeywordScore: k,
		})
	}
	for id := range vectorNorm {
		collect(id)
	}
	for id := range keywordNorm {
		collect(id)
	}

	SortSearchResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Count 获取分块总数
func (r *MemoryRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records), nil
}

// Close 释放内存
func (r *MemoryRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make(map[string]Record)
	r.byDocument = make(map[string][]string)
	r.keywords = newBM25Index()
	return nil
}

func cloneRecord(rec Record) Record {
	out := rec
	out.SectionIndexes = append([]int(nil), rec.SectionIndexes...)
	out.Roles = append([]string(nil), rec.Roles...)
	out.PageNumbers = append([]int(nil), rec.PageNumbers...)
	out.Vector = append([]float32(nil), rec.Vector...)
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func init() {
	RegisterRepository("memory", NewMemoryRepository)
}
