package repository

import (
	"context"

	"github.com/fyerfyer/contract-qa/internal/models"
)

// ListFilter 文档列表筛选条件
type ListFilter struct {
	Status   models.DocumentStatus // 按状态过滤
	FileName string                // 文件名模糊匹配
}

// DocumentRepository 文档仓储接口
// 负责文档元数据与分块的存储和检索
type DocumentRepository interface {
	// Create 创建文档记录
	Create(doc *models.Document) error

	// Update 更新文档记录
	Update(doc *models.Document) error

	// GetByID 根据ID获取文档
	GetByID(id string) (*models.Document, error)

	// GetByFilename 按原始文件名查找最近上传的文档
	GetByFilename(filename string) (*models.Document, error)

	// List 分页列出文档
	List(offset, limit int, filter ListFilter) ([]*models.Document, int64, error)

	// Delete 删除文档及其分块
	Delete(id string) error

	// UpdateStatus 更新文档状态
	UpdateStatus(id string, status models.DocumentStatus, errorMsg string) error

	// UpdateProgress 更新处理进度和阶段
	UpdateProgress(id string, progress int, stage models.ProcessStage) error

	// ReplaceChunks 在一个事务内替换文档的全部分块
	ReplaceChunks(docID string, chunks []*models.DocumentChunk) error

	// GetChunks 按序号分页获取文档分块
	GetChunks(docID string, offset, limit int) ([]*models.DocumentChunk, error)

	// ListAllChunks 获取全部分块，用于重建向量索引
	ListAllChunks() ([]*models.DocumentChunk, error)

	// CountChunks 统计文档的分块数量
	CountChunks(docID string) (int, error)

	// WithContext 返回绑定上下文的仓储
	WithContext(ctx context.Context) DocumentRepository
}
