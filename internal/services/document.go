package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/contract-qa/internal/cache"
	"github.com/fyerfyer/contract-qa/internal/chunker"
	"github.com/fyerfyer/contract-qa/internal/embedding"
	"github.com/fyerfyer/contract-qa/internal/layout"
	"github.com/fyerfyer/contract-qa/internal/metrics"
	"github.com/fyerfyer/contract-qa/internal/models"
	"github.com/fyerfyer/contract-qa/internal/repository"
	"github.com/fyerfyer/contract-qa/internal/vectordb"
	"github.com/fyerfyer/contract-qa/pkg/storage"
	"github.com/fyerfyer/contract-qa/pkg/taskqueue"
)

const (
	// MaxChunkPageSize 单次浏览分块的最大数量
	MaxChunkPageSize = 100
	// 重建索引时每批写入的记录数
	rebuildBatchSize = 500
)

var (
	// ErrUnsupportedFileType 不支持的文件类型
	ErrUnsupportedFileType = errors.New("unsupported file type")
	// ErrEmptyFile 上传的文件为空
	ErrEmptyFile = errors.New("file is empty")
)

// DocumentService 文档服务
// 负责协调版面分析、分块、向量化和存储
type DocumentService struct {
	storage       storage.Storage
	analyzer      layout.Analyzer
	embedder      embedding.Client
	vectorDB      vectordb.Repository
	repo          repository.DocumentRepository
	statusManager *DocumentStatusManager
	taskQueue     taskqueue.Queue
	answerCache   cache.Cache
	metrics       *metrics.Metrics
	minTokens     int
	diagDir       string
	timeout       time.Duration
	logger        *logrus.Logger
}

// DocumentOption 文档服务配置选项
type DocumentOption func(*DocumentService)

// NewDocumentService 创建文档服务
// embedder为nil时分块不带向量，检索只能走关键词
func NewDocumentService(
	store storage.Storage,
	analyzer layout.Analyzer,
	embedder embedding.Client,
	vectorDB vectordb.Repository,
	repo repository.DocumentRepository,
	opts ...DocumentOption,
) *DocumentService {
	srv := &DocumentService{
		storage:   store,
		analyzer:  analyzer,
		embedder:  embedder,
		vectorDB:  vectorDB,
		repo:      repo,
		minTokens: chunker.DefaultMinTokens,
		timeout:   10 * time.Minute,
		logger:    logrus.New(),
	}
	for _, opt := range opts {
		opt(srv)
	}
	if srv.statusManager == nil {
		srv.statusManager = NewDocumentStatusManager(repo, srv.logger)
	}
	return srv
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) DocumentOption {
	return func(s *DocumentService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTaskQueue 设置任务队列，设置后上传的文档异步处理
func WithTaskQueue(queue taskqueue.Queue) DocumentOption {
	return func(s *DocumentService) {
		s.taskQueue = queue
	}
}

// WithStatusManager 设置状态管理器
func WithStatusManager(manager *DocumentStatusManager) DocumentOption {
	return func(s *DocumentService) {
		s.statusManager = manager
	}
}

// WithMetrics 设置指标
func WithMetrics(m *metrics.Metrics) DocumentOption {
	return func(s *DocumentService) {
		s.metrics = m
	}
}

// WithMinChunkTokens 设置最小分块词数
func WithMinChunkTokens(n int) DocumentOption {
	return func(s *DocumentService) {
		if n >= 0 {
			s.minTokens = n
		}
	}
}

// WithDiagnosticsDir 设置章节与分块文本的输出目录
func WithDiagnosticsDir(dir string) DocumentOption {
	return func(s *DocumentService) {
		s.diagDir = dir
	}
}

// WithAnswerCache 设置问答缓存，索引变化时清空
func WithAnswerCache(c cache.Cache) DocumentOption {
	return func(s *DocumentService) {
		s.answerCache = c
	}
}

// WithTimeout 设置单个文档的处理超时
func WithTimeout(timeout time.Duration) DocumentOption {
	return func(s *DocumentService) {
		s.timeout = timeout
	}
}

// Upload 保存上传文件并创建文档记录，然后同步处理或入队
// 同名文件已存在且force为false时返回已有记录和ErrDuplicateDocument
func (s *DocumentService) Upload(ctx context.Context, r io.Reader, filename string, size int64, force bool) (*models.Document, error) {
	if layout.DetectContentType(filename) == layout.Unknown {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, filename)
	}
	if size == 0 {
		return nil, ErrEmptyFile
	}

	existing, err := s.repo.WithContext(ctx).GetByFilename(filename)
	switch {
	case err == nil && !force:
		return existing, fmt.Errorf("%w: %s (document %s)", models.ErrDuplicateDocument, filename, existing.ID)
	case err == nil && existing.Status == models.DocStatusProcessing:
		return existing, fmt.Errorf("%w: document %s is still processing", models.ErrInvalidDocumentStatus, existing.ID)
	case err != nil && !errors.Is(err, models.ErrDocumentNotFound):
		return nil, fmt.Errorf("failed to check duplicate document: %w", err)
	case err != nil:
		existing = nil
	}

	info, err := s.storage.Save(ctx, r, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to save file: %w", err)
	}

	var doc *models.Document
	if existing != nil {
		doc, err = s.replaceFile(ctx, existing, info)
	} else {
		doc = &models.Document{
			ID:       uuid.New().String(),
			FileName: filename,
			FilePath: info.Path,
			FileSize: info.Size,
		}
		err = s.statusManager.MarkAsUploaded(ctx, doc)
	}
	if err != nil {
		if delErr := s.storage.Delete(ctx, info.Path); delErr != nil {
			s.logger.WithError(delErr).WithField("path", info.Path).Warn("Failed to remove orphaned file")
		}
		return nil, fmt.Errorf("failed to save document record: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"doc_id":   doc.ID,
		"filename": filename,
		"size":     info.Size,
		"force":    existing != nil,
	}).Info("Document uploaded")

	if s.taskQueue != nil {
		return s.enqueue(ctx, doc)
	}

	processed, err := s.ProcessDocument(ctx, doc.ID)
	if processed == nil {
		processed = doc
	}
	return processed, err
}

// replaceFile 强制重新上传时复用已有记录并替换文件
func (s *DocumentService) replaceFile(ctx context.Context, doc *models.Document, info storage.FileInfo) (*models.Document, error) {
	oldPath := doc.FilePath
	doc.FilePath = info.Path
	doc.FileSize = info.Size
	doc.RetryCount++
	if err := s.repo.WithContext(ctx).Update(doc); err != nil {
		return nil, err
	}
	if oldPath != "" && oldPath != info.Path {
		if err := s.storage.Delete(ctx, oldPath); err != nil && !errors.Is(err, storage.ErrFileNotFound) {
			s.logger.WithError(err).WithField("path", oldPath).Warn("Failed to delete replaced file")
		}
	}
	return doc, nil
}

// enqueue 创建文档处理任务
func (s *DocumentService) enqueue(ctx context.Context, doc *models.Document) (*models.Document, error) {
	payload := taskqueue.DocumentProcessPayload{
		DocumentID: doc.ID,
		FilePath:   doc.FilePath,
		FileName:   doc.FileName,
		Force:      doc.RetryCount > 0,
	}
	taskID, err := s.taskQueue.Enqueue(ctx, taskqueue.TaskDocumentProcess, doc.ID, payload)
	if err != nil {
		s.fail(ctx, doc.ID, fmt.Sprintf("failed to enqueue processing task: %v", err))
		return doc, fmt.Errorf("failed to enqueue processing task: %w", err)
	}

	doc.CurrentTaskID = taskID
	if err := s.repo.WithContext(ctx).Update(doc); err != nil {
		s.logger.WithError(err).WithField("doc_id", doc.ID).Warn("Failed to record task id")
	}

	s.logger.WithFields(logrus.Fields{
		"doc_id":  doc.ID,
		"task_id": taskID,
	}).Info("Document processing task enqueued")
	return doc, nil
}

// Reprocess 对已存储的文件重新执行处理流程
func (s *DocumentService) Reprocess(ctx context.Context, docID string) (*models.Document, error) {
	doc, err := s.statusManager.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	if err := ValidateStateTransition(doc.Status, models.DocStatusProcessing); err != nil {
		return doc, err
	}

	doc.RetryCount++
	if err := s.repo.WithContext(ctx).Update(doc); err != nil {
		return nil, err
	}
	if s.taskQueue != nil {
		return s.enqueue(ctx, doc)
	}
	return s.ProcessDocument(ctx, docID)
}

// ProcessDocument 执行版面分析、分块、入库和建立索引
// 任一步失败时文档标记为失败，且不保留任何分块和索引
func (s *DocumentService) ProcessDocument(ctx context.Context, docID string) (*models.Document, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	doc, err := s.statusManager.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	if err := s.statusManager.MarkAsProcessing(ctx, docID); err != nil {
		return doc, err
	}

	logger := s.logger.WithFields(logrus.Fields{
		"doc_id":   docID,
		"filename": doc.FileName,
	})
	logger.Info("Starting document processing")
	started := time.Now()

	summary, err := s.runPipeline(ctx, doc)
	if err != nil {
		s.discard(docID)
		msg := err.Error()
		var chunkErr *chunker.ChunkError
		if !errors.As(err, &chunkErr) {
			msg = "processing failed: " + msg
		}
		s.fail(context.WithoutCancel(ctx), docID, msg)
		s.metrics.RecordDocument(string(models.DocStatusFailed), 0)
		logger.WithError(err).Error("Document processing failed")

		if failed, getErr := s.statusManager.GetDocument(context.WithoutCancel(ctx), docID); getErr == nil {
			doc = failed
		}
		return doc, err
	}

	if err := s.statusManager.MarkAsCompleted(ctx, docID, *summary); err != nil {
		s.discard(docID)
		s.fail(context.WithoutCancel(ctx), docID, "processing failed: "+err.Error())
		return doc, err
	}

	s.metrics.RecordDocument(string(models.DocStatusCompleted), summary.ChunkCount)
	s.refreshIndexGauge(ctx)
	s.invalidateAnswers()

	logger.WithFields(logrus.Fields{
		"chunks":   summary.ChunkCount,
		"sections": summary.SectionCount,
		"warnings": summary.WarningCount,
		"duration": time.Since(started).String(),
	}).Info("Document processing completed")

	return s.statusManager.GetDocument(ctx, docID)
}

// runPipeline 依次执行各处理阶段
func (s *DocumentService) runPipeline(ctx context.Context, doc *models.Document) (*ProcessSummary, error) {
	// 版面分析
	stageStart := time.Now()
	layoutDoc, err := s.analyze(ctx, doc)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveStage(string(models.StageAnalyzing), time.Since(stageStart))
	s.updateStage(ctx, doc.ID, 20, models.StageChunking)

	// 分块与向量化
	stageStart = time.Now()
	result, err := s.newChunker().Assemble(ctx, layoutDoc, doc.FileName)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveStage(string(models.StageChunking), time.Since(stageStart))
	for _, w := range result.Warnings {
		s.metrics.RecordWarning(w.Reason)
	}
	s.updateStage(ctx, doc.ID, 80, models.StageIndexing)

	if s.diagDir != "" {
		if err := chunker.DumpDiagnostics(s.diagDir, result); err != nil {
			s.logger.WithError(err).WithField("doc_id", doc.ID).Warn("Failed to write chunking diagnostics")
		}
	}

	// 入库并建立索引
	stageStart = time.Now()
	if err := s.store(ctx, doc.ID, result.Chunks); err != nil {
		return nil, err
	}
	s.metrics.ObserveStage(string(models.StageIndexing), time.Since(stageStart))

	warnings := make([]string, len(result.Warnings))
	for i, w := range result.Warnings {
		warnings[i] = w.String()
	}

	summary := &ProcessSummary{
		ChunkCount:   len(result.Chunks),
		SectionCount: len(layoutDoc.Sections),
		PageCount:    layoutDoc.PageCount,
		WarningCount: len(result.Warnings),
		Analyzer:     s.analyzer.Name(),
		Warnings:     warnings,
	}
	if s.embedder != nil {
		summary.EmbeddingModel = s.embedder.Name()
	}
	return summary, nil
}

// analyze 从存储读取文件并做版面分析
func (s *DocumentService) analyze(ctx context.Context, doc *models.Document) (*layout.Document, error) {
	reader, err := s.storage.Get(ctx, doc.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file from storage: %w", err)
	}
	defer reader.Close()

	layoutDoc, err := s.analyzer.Analyze(ctx, reader, doc.FileName)
	if err != nil {
		return nil, fmt.Errorf("layout analysis failed: %w", err)
	}
	return layoutDoc, nil
}

// store 在一个事务内替换分块，然后替换向量索引中的记录
// 索引写入失败时回滚已提交的分块
func (s *DocumentService) store(ctx context.Context, docID string, chunks []chunker.Chunk) error {
	rows := make([]*models.DocumentChunk, len(chunks))
	for i, c := range chunks {
		rows[i] = toModelChunk(docID, c)
	}

	if err := s.repo.WithContext(ctx).ReplaceChunks(docID, rows); err != nil {
		return fmt.Errorf("failed to persist chunks: %w", err)
	}

	if err := s.vectorDB.DeleteByFileID(ctx, docID); err != nil {
		return fmt.Errorf("failed to clear vector index: %w", err)
	}
	records := make([]vectordb.Record, len(rows))
	for i, row := range rows {
		records[i] = toRecord(row)
	}
	if err := s.vectorDB.AddBatch(ctx, records); err != nil {
		return fmt.Errorf("failed to index chunks: %w", err)
	}
	return nil
}

// discard 删除文档已写入的分块和索引记录
func (s *DocumentService) discard(docID string) {
	ctx := context.Background()
	if err := s.repo.WithContext(ctx).ReplaceChunks(docID, nil); err != nil && !errors.Is(err, models.ErrDocumentNotFound) {
		s.logger.WithError(err).WithField("doc_id", docID).Error("Failed to discard chunks")
	}
	if err := s.vectorDB.DeleteByFileID(ctx, docID); err != nil {
		s.logger.WithError(err).WithField("doc_id", docID).Error("Failed to discard indexed chunks")
	}
}

// newChunker 为一次处理创建分块器
func (s *DocumentService) newChunker() *chunker.Chunker {
	var embedder chunker.Embedder
	if s.embedder != nil {
		embedder = &observedEmbedder{client: s.embedder, metrics: s.metrics}
	}
	return chunker.New(embedder,
		chunker.WithMinTokens(s.minTokens),
		chunker.WithLogger(s.logger),
	)
}

// Delete 删除文档、分块、索引记录、文件和相关任务
func (s *DocumentService) Delete(ctx context.Context, docID string) error {
	doc, err := s.statusManager.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	if doc.Status == models.DocStatusProcessing {
		return fmt.Errorf("%w: document %s is still processing", models.ErrInvalidDocumentStatus, docID)
	}

	s.logger.WithField("doc_id", docID).Info("Deleting document")

	if err := s.vectorDB.DeleteByFileID(ctx, docID); err != nil {
		return fmt.Errorf("failed to delete indexed chunks: %w", err)
	}
	if err := s.statusManager.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("failed to delete document record: %w", err)
	}

	if err := s.storage.Delete(ctx, doc.FilePath); err != nil && !errors.Is(err, storage.ErrFileNotFound) {
		s.logger.WithError(err).WithField("path", doc.FilePath).Warn("Failed to delete file from storage")
	}

	if s.taskQueue != nil {
		tasks, err := s.taskQueue.GetTasksByDocument(ctx, docID)
		if err != nil {
			s.logger.WithError(err).WithField("doc_id", docID).Warn("Failed to list document tasks")
		}
		for _, task := range tasks {
			if err := s.taskQueue.DeleteTask(ctx, task.ID); err != nil {
				s.logger.WithError(err).WithField("task_id", task.ID).Warn("Failed to delete document task")
			}
		}
	}

	s.refreshIndexGauge(ctx)
	s.invalidateAnswers()
	return nil
}

// GetDocument 获取文档记录
func (s *DocumentService) GetDocument(ctx context.Context, docID string) (*models.Document, error) {
	return s.statusManager.GetDocument(ctx, docID)
}

// ListDocuments 分页获取文档列表
func (s *DocumentService) ListDocuments(ctx context.Context, offset, limit int, filter repository.ListFilter) ([]*models.Document, int64, error) {
	return s.statusManager.ListDocuments(ctx, offset, limit, filter)
}

// GetChunks 浏览文档分块，每次最多MaxChunkPageSize条
func (s *DocumentService) GetChunks(ctx context.Context, docID string, offset, limit int) ([]*models.DocumentChunk, int, error) {
	repo := s.repo.WithContext(ctx)
	if _, err := repo.GetByID(docID); err != nil {
		return nil, 0, err
	}
	if limit <= 0 || limit > MaxChunkPageSize {
		limit = MaxChunkPageSize
	}
	if offset < 0 {
		offset = 0
	}

	chunks, err := repo.GetChunks(docID, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get chunks: %w", err)
	}
	total, err := repo.CountChunks(docID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return chunks, total, nil
}

// GetDocumentTasks 获取文档相关的队列任务
func (s *DocumentService) GetDocumentTasks(ctx context.Context, docID string) ([]*taskqueue.Task, error) {
	if s.taskQueue == nil {
		return []*taskqueue.Task{}, nil
	}
	return s.taskQueue.GetTasksByDocument(ctx, docID)
}

// RebuildIndex 用关系库中的分块重建向量索引
func (s *DocumentService) RebuildIndex(ctx context.Context) (int, error) {
	rows, err := s.repo.WithContext(ctx).ListAllChunks()
	if err != nil {
		return 0, fmt.Errorf("failed to load chunks: %w", err)
	}

	for start := 0; start < len(rows); start += rebuildBatchSize {
		end := start + rebuildBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		records := make([]vectordb.Record, 0, end-start)
		for _, row := range rows[start:end] {
			records = append(records, toRecord(row))
		}
		if err := s.vectorDB.AddBatch(ctx, records); err != nil {
			return start, fmt.Errorf("failed to index chunks: %w", err)
		}
	}

	s.refreshIndexGauge(ctx)
	s.logger.WithField("chunks", len(rows)).Info("Vector index rebuilt")
	return len(rows), nil
}

// StatusManager 返回状态管理器
func (s *DocumentService) StatusManager() *DocumentStatusManager {
	return s.statusManager
}

func (s *DocumentService) updateStage(ctx context.Context, docID string, progress int, stage models.ProcessStage) {
	if err := s.statusManager.UpdateStage(ctx, docID, progress, stage); err != nil {
		s.logger.WithError(err).WithField("doc_id", docID).Warn("Failed to update document progress")
	}
}

func (s *DocumentService) fail(ctx context.Context, docID, msg string) {
	if err := s.statusManager.MarkAsFailed(ctx, docID, msg); err != nil {
		s.logger.WithError(err).WithField("doc_id", docID).Error("Failed to mark document as failed")
	}
}

func (s *DocumentService) refreshIndexGauge(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	if n, err := s.vectorDB.Count(ctx); err == nil {
		s.metrics.SetIndexedChunks(n)
	}
}

func (s *DocumentService) invalidateAnswers() {
	if s.answerCache == nil {
		return
	}
	if err := s.answerCache.Clear(); err != nil {
		s.logger.WithError(err).Warn("Failed to clear answer cache")
	}
}

// observedEmbedder 记录每次向量化的耗时
type observedEmbedder struct {
	client  embedding.Client
	metrics *metrics.Metrics
}

func (e *observedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vector, err := e.client.Embed(ctx, text)
	e.metrics.ObserveEmbedding(time.Since(start))
	return vector, err
}

func toModelChunk(docID string, c chunker.Chunk) *models.DocumentChunk {
	return &models.DocumentChunk{
		ID:             uuid.New().String(),
		DocumentID:     docID,
		FileName:       c.Filename,
		ChunkNumber:    c.ChunkNumber,
		Content:        c.Content,
		Heading:        c.Heading,
		TokenLength:    c.TokenLength,
		CharLength:     c.CharLength,
		SectionIndexes: c.SectionIndexes,
		Roles:          c.Roles,
		PageNumbers:    c.PageNumbers,
		Embedding:      c.Embedding,
	}
}

func toRecord(row *models.DocumentChunk) vectordb.Record {
	return vectordb.Record{
		ID:             row.ID,
		DocumentID:     row.DocumentID,
		Filename:       row.FileName,
		ChunkNumber:    row.ChunkNumber,
		Content:        row.Content,
		Heading:        row.Heading,
		TokenLength:    row.TokenLength,
		CharLength:     row.CharLength,
		SectionIndexes: row.SectionIndexes,
		Roles:          row.Roles,
		PageNumbers:    row.PageNumbers,
		Vector:         row.Embedding,
	}
}

// ChunkPreview 截取分块内容的前n个字符
func ChunkPreview(content string, n int) string {
	runes := []rune(content)
	if len(runes) <= n {
		return content
	}
	return strings.TrimSpace(string(runes[:n])) + "..."
}
