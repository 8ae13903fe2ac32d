package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fyerfyer/contract-qa/internal/database"
	"github.com/fyerfyer/contract-qa/internal/models"
	"gorm.io/gorm"
)

// docRepository 文档仓储实现
type docRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 使用全局数据库连接创建文档仓储
func NewDocumentRepository() DocumentRepository {
	return &docRepository{db: database.MustDB()}
}

// NewDocumentRepositoryWithDB 使用指定的数据库连接创建文档仓储
func NewDocumentRepositoryWithDB(db *gorm.DB) DocumentRepository {
	if db == nil {
		db = database.MustDB()
	}
	return &docRepository{db: db}
}

// WithContext 创建带有上下文的仓储
func (r *docRepository) WithContext(ctx context.Context) DocumentRepository {
	return &docRepository{db: r.db.WithContext(ctx)}
}

// Create 创建文档记录
func (r *docRepository) Create(doc *models.Document) error {
	if doc.ID == "" {
		return errors.New("document ID cannot be empty")
	}
	return r.db.Create(doc).Error
}

// Update 更新文档记录
func (r *docRepository) Update(doc *models.Document) error {
	if doc.ID == "" {
		return errors.New("document ID cannot be empty")
	}
	return r.db.Save(doc).Error
}

// GetByID 根据ID获取文档
func (r *docRepository) GetByID(id string) (*models.Document, error) {
	var doc models.Document
	err := r.db.Where("id = ?", id).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetByFilename 按原始文件名查找最近上传的文档
func (r *docRepository) GetByFilename(filename string) (*models.Document, error) {
	var doc models.Document
	err := r.db.Where("file_name = ?", filename).
		Order("uploaded_at DESC").
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", models.ErrDocumentNotFound, filename)
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// List 分页列出文档，按上传时间倒序
func (r *docRepository) List(offset, limit int, filter ListFilter) ([]*models.Document, int64, error) {
	var docs []*models.Document
	var total int64

	query := r.db.Model(&models.Document{})
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.FileName != "" {
		query = query.Where("file_name LIKE ?", "%"+filter.FileName+"%")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("uploaded_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&docs).Error
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// Delete 在事务中删除分块和文档记录
func (r *docRepository) Delete(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&models.DocumentChunk{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&models.Document{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
		}
		return nil
	})
}

// UpdateStatus 更新文档状态
func (r *docRepository) UpdateStatus(id string, status models.DocumentStatus, errorMsg string) error {
	updates := map[string]interface{}{
		"status":     status,
		"error":      errorMsg,
		"updated_at": time.Now(),
	}

	switch status {
	case models.DocStatusCompleted:
		now := time.Now()
		updates["processed_at"] = &now
		updates["progress"] = 100
		updates["current_stage"] = models.StageCompleted
	case models.DocStatusFailed:
		now := time.Now()
		updates["processed_at"] = &now
	}

	return r.db.Model(&models.Document{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateProgress 更新处理进度和阶段
func (r *docRepository) UpdateProgress(id string, progress int, stage models.ProcessStage) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	updates := map[string]interface{}{
		"progress":   progress,
		"updated_at": time.Now(),
	}
	if stage != "" {
		updates["current_stage"] = stage
	}

	return r.db.Model(&models.Document{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// ReplaceChunks 删除旧分块并写入新分块，同时更新文档的分块数
// 任一步失败时整个事务回滚
func (r *docRepository) ReplaceChunks(docID string, chunks []*models.DocumentChunk) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Document{}).Where("id = ?", docID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: %s", models.ErrDocumentNotFound, docID)
		}

		if err := tx.Where("document_id = ?", docID).Delete(&models.DocumentChunk{}).Error; err != nil {
			return fmt.Errorf("failed to delete old chunks: %w", err)
		}

		for _, c := range chunks {
			if c.DocumentID != docID {
				return fmt.Errorf("chunk %s belongs to document %s, not %s", c.ID, c.DocumentID, docID)
			}
		}
		if len(chunks) > 0 {
			if err := tx.CreateInBatches(chunks, 100).Error; err != nil {
				return fmt.Errorf("failed to save chunks: %w", err)
			}
		}

		return tx.Model(&models.Document{}).
			Where("id = ?", docID).
			Updates(map[string]interface{}{
				"chunk_count": len(chunks),
				"updated_at":  time.Now(),
			}).Error
	})
}

// GetChunks 按序号分页获取文档分块，limit<=0表示不限制
func (r *docRepository) GetChunks(docID string, offset, limit int) ([]*models.DocumentChunk, error) {
	var chunks []*models.DocumentChunk
	query := r.db.Where("document_id = ?", docID).Order("chunk_number ASC")
	if limit > 0 {
		query = query.Limit(limit)
	} else if offset > 0 {
		// sqlite不接受没有LIMIT的OFFSET
		query = query.Limit(math.MaxInt32)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	err := query.Find(&chunks).Error
	return chunks, err
}

// ListAllChunks 获取全部分块
func (r *docRepository) ListAllChunks() ([]*models.DocumentChunk, error) {
	var chunks []*models.DocumentChunk
	err := r.db.Order("document_id ASC, chunk_number ASC").Find(&chunks).Error
	return chunks, err
}

// CountChunks 统计文档的分块数量
func (r *docRepository) CountChunks(docID string) (int, error) {
	var count int64
	err := r.db.Model(&models.DocumentChunk{}).
		Where("document_id = ?", docID).
		Count(&count).Error
	return int(count), err
}
