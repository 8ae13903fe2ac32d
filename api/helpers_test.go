package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fyerfyer/contract-qa/api/handler"
	"github.com/fyerfyer/contract-qa/api/model"
	"github.com/fyerfyer/contract-qa/internal/cache"
	"github.com/fyerfyer/contract-qa/internal/database"
	"github.com/fyerfyer/contract-qa/internal/layout"
	"github.com/fyerfyer/contract-qa/internal/llm"
	"github.com/fyerfyer/contract-qa/internal/metrics"
	"github.com/fyerfyer/contract-qa/internal/repository"
	"github.com/fyerfyer/contract-qa/internal/services"
	"github.com/fyerfyer/contract-qa/internal/vectordb"
	"github.com/fyerfyer/contract-qa/pkg/storage"
	"github.com/fyerfyer/contract-qa/pkg/taskqueue"
)

// termEmbedder 按关键词出现次数生成向量
type termEmbedder struct {
	mu     sync.Mutex
	calls  int
	failAt int
}

func (e *termEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	call := e.calls
	e.mu.Unlock()
	if e.failAt > 0 && call == e.failAt {
		return nil, errors.New("embedding backend down")
	}

	lower := strings.ToLower(text)
	terms := []string{"rent", "terminate", "notice", "clause"}
	vector := make([]float32, len(terms)+1)
	for i, term := range terms {
		vector[i] = float32(strings.Count(lower, term))
	}
	vector[len(terms)] = 0.1
	return vector, nil
}

func (e *termEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *termEmbedder) Name() string { return "term-embedding" }

// stubLLM 返回固定回答
type stubLLM struct {
	mu     sync.Mutex
	answer string
	err    error
	calls  int
}

func (s *stubLLM) Generate(ctx context.Context, prompt string, options ...llm.GenerateOption) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Text: s.answer, ModelName: "stub", FinishTime: time.Now()}, nil
}

func (s *stubLLM) Chat(ctx context.Context, messages []llm.Message, options ...llm.GenerateOption) (*llm.Response, error) {
	return s.Generate(ctx, "", options...)
}

func (s *stubLLM) Name() string { return "stub" }

// 测试环境配置
type testEnv struct {
	Router    *gin.Engine
	Documents *services.DocumentService
	Vectors   vectordb.Repository
	Embedder  *termEmbedder
	LLM       *stubLLM
	Registry  *prometheus.Registry
	Queue     *taskqueue.RedisQueue
}

type envOptions struct {
	withQueue bool
}

// setupTestEnv 创建完整的API测试环境，所有依赖都在进程内
func setupTestEnv(t *testing.T, opts ...func(*envOptions)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var o envOptions
	for _, opt := range opts {
		opt(&o)
	}

	quiet := logrus.New()
	quiet.SetLevel(logrus.ErrorLevel)

	dbName := fmt.Sprintf("file:api_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() { sqlDB.Close() })

	store, err := storage.NewLocalStorage(storage.LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)
	vectors, err := vectordb.NewMemoryRepository(vectordb.DefaultConfig())
	require.NoError(t, err)
	answers, err := cache.NewMemoryCache(cache.Config{KeyPrefix: "answers"})
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)
	embedder := &termEmbedder{}

	docOpts := []services.DocumentOption{
		services.WithLogger(quiet),
		services.WithMetrics(m),
		services.WithMinChunkTokens(1),
		services.WithAnswerCache(answers),
	}

	env := &testEnv{Vectors: vectors, Embedder: embedder, Registry: registry}
	var queue taskqueue.Queue
	if o.withQueue {
		mr := miniredis.RunT(t)
		cfg := taskqueue.DefaultConfig()
		cfg.RedisAddr = mr.Addr()
		rq, err := taskqueue.NewRedisQueue(cfg)
		require.NoError(t, err)
		rq.WithLogger(quiet)
		t.Cleanup(func() { rq.Close() })
		env.Queue = rq
		queue = rq
		docOpts = append(docOpts, services.WithTaskQueue(rq))
	}

	repo := repository.NewDocumentRepositoryWithDB(db)
	env.Documents = services.NewDocumentService(store, layout.NewLocalAnalyzer().WithLogger(quiet), embedder, vectors, repo, docOpts...)

	env.LLM = &stubLLM{answer: "<think>reading</think>Rent is due before the fifth day."}
	qa := services.NewQAService(embedder, vectors, llm.NewRAG(env.LLM), answers,
		services.WithQALogger(quiet),
		services.WithQAMetrics(m),
	)

	env.Router = SetupRouter(RouterConfig{
		Documents: handler.NewDocumentHandler(env.Documents),
		QA:        handler.NewQAHandler(qa),
		Tasks:     handler.NewTaskHandler(queue, env.Documents),
		Metrics:   m,
		Gatherer:  registry,
	})
	return env
}

func withQueue(o *envOptions) { o.withQueue = true }

// leaseLayout 两个章节的租赁合同版面
func leaseLayout(t *testing.T, extra ...string) []byte {
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
	for _, text := range extra {
		doc.Paragraphs = append(doc.Paragraphs, layout.Paragraph{
			Content:         text,
			BoundingRegions: []layout.BoundingRegion{{PageNumber: 3}},
		})
		doc.Sections = append(doc.Sections, layout.Section{
			Elements: []string{fmt.Sprintf("/paragraphs/%d", len(doc.Paragraphs)-1)},
		})
		doc.PageCount = 3
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return data
}

// uploadFile 以multipart表单上传文件
func (e *testEnv) uploadFile(t *testing.T, filename string, content []byte, force bool) *httptest.ResponseRecorder {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	if force {
		require.NoError(t, writer.WriteField("force", "true"))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// do 发送请求，body非nil时编码为JSON
func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// envelope 带具体数据类型的通用响应
type envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
	TraceID string `json:"trace_id"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var resp envelope[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// uploadLease 上传并同步处理租赁合同
func (e *testEnv) uploadLease(t *testing.T, filename string) model.DocumentInfo {
	t.Helper()
	w := e.uploadFile(t, filename, leaseLayout(t), false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[model.DocumentInfo](t, w).Data
}
