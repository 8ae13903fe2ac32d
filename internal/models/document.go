package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DocumentStatus 文档处理状态类型
type DocumentStatus string

const (
	// DocStatusUploaded 文档已上传，等待处理
	DocStatusUploaded DocumentStatus = "uploaded"
	// DocStatusProcessing 文档处理中
	DocStatusProcessing DocumentStatus = "processing"
	// DocStatusCompleted 文档处理完成
	DocStatusCompleted DocumentStatus = "completed"
	// DocStatusFailed 文档处理失败
	DocStatusFailed DocumentStatus = "failed"
)

// ProcessStage 文档处理阶段
type ProcessStage string

const (
	// StageAnalyzing 版面分析阶段
	StageAnalyzing ProcessStage = "analyzing"
	// StageChunking 分块与向量化阶段
	StageChunking ProcessStage = "chunking"
	// StageIndexing 写入存储与向量索引阶段
	StageIndexing ProcessStage = "indexing"
	// StageCompleted 处理完成
	StageCompleted ProcessStage = "completed"
)

// Document 上传文档记录
type Document struct {
	ID             string         `gorm:"primaryKey"`         // 文档ID
	FileName       string         `gorm:"not null;index"`     // 原始文件名，用于重复检测
	FileType       string         `gorm:"not null"`           // 文件类型
	FilePath       string         `gorm:"not null"`           // 存储路径
	FileSize       int64          `gorm:"not null"`           // 文件大小（字节）
	Status         DocumentStatus `gorm:"not null;index"`     // 处理状态
	UploadedAt     time.Time      `gorm:"not null;index"`     // 上传时间
	ProcessedAt    *time.Time     `gorm:"index"`              // 处理完成时间
	UpdatedAt      time.Time      `gorm:"not null"`           // 更新时间
	Progress       int            `gorm:"not null;default:0"` // 处理进度（0-100）
	Error          string         `gorm:"type:text"`          // 错误信息
	ChunkCount     int            `gorm:"not null;default:0"` // 分块数量
	SectionCount   int            `gorm:"not null;default:0"` // 章节数量
	PageCount      int            `gorm:"not null;default:0"` // 页数
	WarningCount   int            `gorm:"not null;default:0"` // 分块诊断警告数
	Analyzer       string         `gorm:"size:50"`            // 版面分析器名称
	EmbeddingModel string         `gorm:"size:100"`           // 嵌入模型
	CurrentStage   ProcessStage   `gorm:"size:20"`            // 当前处理阶段
	CurrentTaskID  string         `gorm:"size:50;index"`      // 当前关联的任务ID
	RetryCount     int            `gorm:"default:0"`          // 重新处理次数
	Metadata       datatypes.JSON `gorm:"type:json"`          // 附加信息，如警告列表
}

// BeforeCreate 创建记录前设置时间
func (d *Document) BeforeCreate(tx *gorm.DB) (err error) {
	if d.UploadedAt.IsZero() {
		d.UploadedAt = time.Now()
	}
	d.UpdatedAt = time.Now()
	return nil
}

// BeforeUpdate 更新记录前设置更新时间
func (d *Document) BeforeUpdate(tx *gorm.DB) (err error) {
	d.UpdatedAt = time.Now()
	return nil
}

// TableName 明确指定表名
func (Document) TableName() string {
	return "documents"
}

// DocumentChunk 持久化的分块
// 同一文档内chunk_number唯一且从1开始连续
type DocumentChunk struct {
	ID             string                       `gorm:"primaryKey"`                         // 分块ID，同时作为向量库ID
	DocumentID     string                       `gorm:"not null;uniqueIndex:idx_doc_chunk"` // 所属文档ID
	FileName       string                       `gorm:"not null;index"`                     // 源文件名
	ChunkNumber    int                          `gorm:"not null;uniqueIndex:idx_doc_chunk"` // 文档内序号
	Content        string                       `gorm:"type:text;not null"`                 // 分块全文
	Heading        string                       `gorm:"type:text"`                          // 标题
	TokenLength    int                          `gorm:"not null"`                           // 词元数
	CharLength     int                          `gorm:"not null"`                           // 字符数
	SectionIndexes datatypes.JSONSlice[int]     `gorm:"type:json"`                          // 组成章节
	Roles          datatypes.JSONSlice[string]  `gorm:"type:json"`                          // 段落角色
	PageNumbers    datatypes.JSONSlice[int]     `gorm:"type:json"`                          // 页码
	Embedding      datatypes.JSONSlice[float32] `gorm:"type:json"`                          // 嵌入向量
	CreatedAt      time.Time                    `gorm:"not null"`                           // 创建时间
}

// BeforeCreate 创建记录前设置时间
func (c *DocumentChunk) BeforeCreate(tx *gorm.DB) (err error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	return nil
}

// TableName 明确指定表名
func (DocumentChunk) TableName() string {
	return "document_chunks"
}
