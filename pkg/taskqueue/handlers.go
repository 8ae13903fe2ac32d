package taskqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/contract-qa/internal/models"
)

// DocumentProcessor 执行文档处理流水线
type DocumentProcessor interface {
	ProcessDocument(ctx context.Context, documentID string) (*models.Document, error)
}

// IndexRebuilder 从关系库重建向量索引
type IndexRebuilder interface {
	RebuildIndex(ctx context.Context) (int, error)
}

// DocumentProcessHandler 处理document:process任务
type DocumentProcessHandler struct {
	processor DocumentProcessor
	logger    *logrus.Logger
}

// NewDocumentProcessHandler 创建文档处理任务处理器
func NewDocumentProcessHandler(processor DocumentProcessor, logger *logrus.Logger) *DocumentProcessHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &DocumentProcessHandler{processor: processor, logger: logger}
}

// GetTaskTypes 返回支持的任务类型
func (h *DocumentProcessHandler) GetTaskTypes() []TaskType {
	return []TaskType{TaskDocumentProcess}
}

// ProcessTask 处理任务
// 失败状态由处理流水线写入文档记录，除取消外的错误不再重试
func (h *DocumentProcessHandler) ProcessTask(ctx context.Context, task *Task) (interface{}, error) {
	var payload DocumentProcessPayload
	if err := UnmarshalPayload(task.Payload, &payload); err != nil {
		return nil, Permanent(fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}
	if payload.DocumentID == "" {
		payload.DocumentID = task.DocumentID
	}
	if payload.DocumentID == "" {
		return nil, Permanent(fmt.Errorf("%w: missing document id", ErrInvalidPayload))
	}

	h.logger.WithFields(logrus.Fields{
		"task_id":     task.ID,
		"document_id": payload.DocumentID,
		"file_name":   payload.FileName,
	}).Info("Processing document task")

	doc, err := h.processor.ProcessDocument(ctx, payload.DocumentID)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, Permanent(err)
	}

	return &DocumentProcessResult{
		DocumentID:   doc.ID,
		ChunkCount:   doc.ChunkCount,
		SectionCount: doc.SectionCount,
		PageCount:    doc.PageCount,
		WarningCount: doc.WarningCount,
	}, nil
}

// IndexRebuildHandler 处理index:rebuild任务
type IndexRebuildHandler struct {
	rebuilder IndexRebuilder
}

// NewIndexRebuildHandler 创建索引重建任务处理器
func NewIndexRebuildHandler(rebuilder IndexRebuilder) *IndexRebuildHandler {
	return &IndexRebuildHandler{rebuilder: rebuilder}
}

// GetTaskTypes 返回支持的任务类型
func (h *IndexRebuildHandler) GetTaskTypes() []TaskType {
	return []TaskType{TaskIndexRebuild}
}

// ProcessTask 处理任务
func (h *IndexRebuildHandler) ProcessTask(ctx context.Context, task *Task) (interface{}, error) {
	n, err := h.rebuilder.RebuildIndex(ctx)
	if err != nil {
		return nil, err
	}
	return &IndexRebuildResult{Indexed: n}, nil
}
