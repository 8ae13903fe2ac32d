package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fyerfyer/contract-qa/internal/database"
	"github.com/fyerfyer/contract-qa/internal/layout"
	"github.com/fyerfyer/contract-qa/internal/llm"
	"github.com/fyerfyer/contract-qa/internal/models"
	"github.com/fyerfyer/contract-qa/internal/repository"
	"github.com/fyerfyer/contract-qa/internal/vectordb"
	"github.com/fyerfyer/contract-qa/pkg/storage"
)

// setupTestDB 创建独立的内存数据库
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dbName := fmt.Sprintf("file:svc_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(db))

	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// fakeEmbedder 按关键词出现次数生成确定性向量
type fakeEmbedder struct {
	mu     sync.Mutex
	calls  int
	failAt int // 第几次调用失败，0表示不失败
}

var embedTerms = []string{"rent", "terminate", "deposit", "notice"}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	call := e.calls
	e.mu.Unlock()

	if e.failAt > 0 && call == e.failAt {
		return nil, errors.New("embedding service unavailable")
	}

	lower := strings.ToLower(text)
	vector := make([]float32, len(embedTerms)+1)
	for i, term := range embedTerms {
		vector[i] = float32(strings.Count(lower, term))
	}
	vector[len(embedTerms)] = 0.1
	return vector, nil
}

func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

func (e *fakeEmbedder) Name() string { return "fake-embedding" }

// fakeLLM 返回固定回答并记录提示词
type fakeLLM struct {
	answer  string
	err     error
	calls   int32
	prompts []string
	mu      sync.Mutex
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, options ...llm.GenerateOption) (*llm.Response, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Text: f.answer, ModelName: "fake-llm"}, nil
}

func (f *fakeLLM) Chat(ctx context.Context, messages []llm.Message, options ...llm.GenerateOption) (*llm.Response, error) {
	return f.Generate(ctx, messages[len(messages)-1].Content, options...)
}

func (f *fakeLLM) Name() string { return "fake-llm" }

// leaseLayout 两个章节的租赁合同版面，第二个章节带一个无法解析的引用
func leaseLayout(t *testing.T) []byte {
	t.Helper()
	doc := layout.Document{
		Paragraphs: []layout.Paragraph{
			{Content: "Lease Agreement", Role: layout.RoleTitle, BoundingRegions: []layout.BoundingRegion{{PageNumber: 1}}},
			{Content: "The tenant pays rent monthly before the fifth day.", BoundingRegions: []layout.BoundingRegion{{PageNumber: 1}}},
			{Content: "Either party may terminate with sixty days notice.", BoundingRegions: []layout.BoundingRegion{{PageNumber: 2}}},
		},
		Sections: []layout.Section{
			{Elements: []string{"/paragraphs/0", "/paragraphs/1"}},
			{Elements: []string{"/paragraphs/2", "/paragraphs/9"}},
		},
		PageCount: 2,
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return data
}

type testEnv struct {
	db       *gorm.DB
	repo     repository.DocumentRepository
	store    storage.Storage
	vectors  vectordb.Repository
	embedder *fakeEmbedder
	service  *DocumentService
}

func newTestEnv(t *testing.T, opts ...DocumentOption) *testEnv {
	t.Helper()
	db := setupTestDB(t)
	repo := repository.NewDocumentRepositoryWithDB(db)

	store, err := storage.NewLocalStorage(storage.LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)

	vectors, err := vectordb.NewMemoryRepository(vectordb.DefaultConfig())
	require.NoError(t, err)

	embedder := &fakeEmbedder{}
	opts = append([]DocumentOption{WithLogger(quietLogger()), WithMinChunkTokens(1)}, opts...)
	service := NewDocumentService(store, layout.NewLocalAnalyzer().WithLogger(quietLogger()), embedder, vectors, repo, opts...)

	return &testEnv{
		db:       db,
		repo:     repo,
		store:    store,
		vectors:  vectors,
		embedder: embedder,
		service:  service,
	}
}

func (e *testEnv) upload(t *testing.T, name string, force bool) (*models.Document, error) {
	t.Helper()
	data := leaseLayout(t)
	return e.service.Upload(context.Background(), bytes.NewReader(data), name, int64(len(data)), force)
}
