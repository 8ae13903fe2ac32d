package services

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/fyerfyer/contract-qa/internal/models"
	"github.com/fyerfyer/contract-qa/internal/repository"
)

// 合法的状态转换，完成和失败的文档允许重新处理
var validTransitions = map[models.DocumentStatus][]models.DocumentStatus{
	models.DocStatusUploaded:   {models.DocStatusProcessing, models.DocStatusFailed},
	models.DocStatusProcessing: {models.DocStatusCompleted, models.DocStatusFailed},
	models.DocStatusCompleted:  {models.DocStatusProcessing},
	models.DocStatusFailed:     {models.DocStatusProcessing},
}

// ProcessSummary 一次成功处理的统计信息
type ProcessSummary struct {
	ChunkCount     int
	SectionCount   int
	PageCount      int
	WarningCount   int
	Analyzer       string
	EmbeddingModel string
	Warnings       []string // 写入文档元数据
}

// DocumentStatusManager 文档状态管理器
// 负责管理文档处理的生命周期状态
type DocumentStatusManager struct {
	repo   repository.DocumentRepository
	logger *logrus.Logger
	mu     sync.Mutex // 保证读取-校验-写入的原子性
}

// NewDocumentStatusManager 创建文档状态管理器
func NewDocumentStatusManager(repo repository.DocumentRepository, logger *logrus.Logger) *DocumentStatusManager {
	if logger == nil {
		logger = logrus.New()
	}
	return &DocumentStatusManager{
		repo:   repo,
		logger: logger,
	}
}

// MarkAsUploaded 创建已上传状态的文档记录
func (m *DocumentStatusManager) MarkAsUploaded(ctx context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc.Status = models.DocStatusUploaded
	doc.Progress = 0
	if doc.FileType == "" {
		doc.FileType = getFileType(doc.FileName)
	}

	m.logger.WithFields(logrus.Fields{
		"doc_id":   doc.ID,
		"filename": doc.FileName,
	}).Info("Marking document as uploaded")

	return m.repo.WithContext(ctx).Create(doc)
}

// MarkAsProcessing 将文档标记为处理中
func (m *DocumentStatusManager) MarkAsProcessing(ctx context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	repo := m.repo.WithContext(ctx)
	doc, err := repo.GetByID(docID)
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}
	if err := ValidateStateTransition(doc.Status, models.DocStatusProcessing); err != nil {
		return fmt.Errorf("document %s: %w", docID, err)
	}

	m.logger.WithField("doc_id", docID).Info("Marking document as processing")

	if err := repo.UpdateStatus(docID, models.DocStatusProcessing, ""); err != nil {
		return err
	}
	return repo.UpdateProgress(docID, 0, models.StageAnalyzing)
}

// UpdateStage 更新处理阶段和进度，只对处理中的文档生效
func (m *DocumentStatusManager) UpdateStage(ctx context.Context, docID string, progress int, stage models.ProcessStage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	repo := m.repo.WithContext(ctx)
	doc, err := repo.GetByID(docID)
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}
	if doc.Status != models.DocStatusProcessing {
		return fmt.Errorf("%w: document %s is %s, not processing", models.ErrInvalidDocumentStatus, docID, doc.Status)
	}

	m.logger.WithFields(logrus.Fields{
		"doc_id":   docID,
		"progress": progress,
		"stage":    stage,
	}).Debug("Updating document progress")

	return repo.UpdateProgress(docID, progress, stage)
}

// MarkAsCompleted 写入统计信息并标记完成
func (m *DocumentStatusManager) MarkAsCompleted(ctx context.Context, docID string, summary ProcessSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	repo := m.repo.WithContext(ctx)
	doc, err := repo.GetByID(docID)
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}
	if err := ValidateStateTransition(doc.Status, models.DocStatusCompleted); err != nil {
		return fmt.Errorf("document %s: %w", docID, err)
	}

	doc.ChunkCount = summary.ChunkCount
	doc.SectionCount = summary.SectionCount
	doc.PageCount = summary.PageCount
	doc.WarningCount = summary.WarningCount
	doc.Analyzer = summary.Analyzer
	doc.EmbeddingModel = summary.EmbeddingModel
	doc.Metadata = warningsMetadata(summary.Warnings)
	if err := repo.Update(doc); err != nil {
		return fmt.Errorf("failed to save document summary: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"doc_id":   docID,
		"chunks":   summary.ChunkCount,
		"sections": summary.SectionCount,
		"warnings": summary.WarningCount,
	}).Info("Marking document as completed")

	return repo.UpdateStatus(docID, models.DocStatusCompleted, "")
}

// MarkAsFailed 标记处理失败
func (m *DocumentStatusManager) MarkAsFailed(ctx context.Context, docID string, errorMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	repo := m.repo.WithContext(ctx)
	doc, err := repo.GetByID(docID)
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}
	if err := ValidateStateTransition(doc.Status, models.DocStatusFailed); err != nil {
		return fmt.Errorf("document %s: %w", docID, err)
	}

	m.logger.WithFields(logrus.Fields{
		"doc_id": docID,
		"error":  errorMsg,
	}).Error("Marking document as failed")

	return repo.UpdateStatus(docID, models.DocStatusFailed, errorMsg)
}

// GetStatus 获取文档当前状态
func (m *DocumentStatusManager) GetStatus(ctx context.Context, docID string) (models.DocumentStatus, error) {
	doc, err := m.repo.WithContext(ctx).GetByID(docID)
	if err != nil {
		return "", err
	}
	return doc.Status, nil
}

// GetDocument 获取文档记录
func (m *DocumentStatusManager) GetDocument(ctx context.Context, docID string) (*models.Document, error) {
	return m.repo.WithContext(ctx).GetByID(docID)
}

// ListDocuments 分页获取文档列表
func (m *DocumentStatusManager) ListDocuments(ctx context.Context, offset, limit int, filter repository.ListFilter) ([]*models.Document, int64, error) {
	return m.repo.WithContext(ctx).List(offset, limit, filter)
}

// DeleteDocument 删除文档记录及其分块
func (m *DocumentStatusManager) DeleteDocument(ctx context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.WithField("doc_id", docID).Info("Deleting document record")
	return m.repo.WithContext(ctx).Delete(docID)
}

// ValidateStateTransition 校验状态转换
func ValidateStateTransition(from, to models.DocumentStatus) error {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot move from %s to %s", models.ErrInvalidDocumentStatus, from, to)
}

// warningsMetadata 把诊断信息序列化为文档元数据
func warningsMetadata(warnings []string) datatypes.JSON {
	if len(warnings) == 0 {
		return nil
	}
	data, err := json.Marshal(map[string]interface{}{"warnings": warnings})
	if err != nil {
		return nil
	}
	return datatypes.JSON(data)
}

// getFileType 根据文件名获取小写扩展名
func getFileType(fileName string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
}
