package taskqueue

import (
	"encoding/json"
	"time"
)

// TaskType 任务类型
type TaskType string

const (
	// TaskDocumentProcess 文档处理任务：版面分析、分块、向量化、入库
	TaskDocumentProcess TaskType = "document:process"
	// TaskIndexRebuild 从关系库重建向量索引
	TaskIndexRebuild TaskType = "index:rebuild"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	// StatusPending 等待处理
	StatusPending TaskStatus = "pending"
	// StatusProcessing 处理中
	StatusProcessing TaskStatus = "processing"
	// StatusCompleted 已完成
	StatusCompleted TaskStatus = "completed"
	// StatusFailed 处理失败
	StatusFailed TaskStatus = "failed"
)

// Finished 任务是否已结束
func (s TaskStatus) Finished() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task 任务基础结构
type Task struct {
	ID          string          `json:"id"`
	Type        TaskType        `json:"type"`
	DocumentID  string          `json:"document_id"`
	Status      TaskStatus      `json:"status"`
	Payload     json.RawMessage `json:"payload"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Attempts    int             `json:"attempts"`
	MaxRetries  int             `json:"max_retries"`
}

// DocumentProcessPayload 文档处理任务载荷
type DocumentProcessPayload struct {
	DocumentID string `json:"document_id"`
	FilePath   string `json:"file_path"` // 存储中的路径
	FileName   string `json:"file_name"`
	Force      bool   `json:"force"` // 同名文件重复上传时强制重新处理
}

// DocumentProcessResult 文档处理任务结果
type DocumentProcessResult struct {
	DocumentID   string `json:"document_id"`
	ChunkCount   int    `json:"chunk_count"`
	SectionCount int    `json:"section_count"`
	PageCount    int    `json:"page_count"`
	WarningCount int    `json:"warning_count"`
}

// IndexRebuildResult 索引重建结果
type IndexRebuildResult struct {
	Indexed int `json:"indexed"`
}
