package model

import (
	"mime/multipart"

	"github.com/fyerfyer/contract-qa/internal/models"
	"github.com/fyerfyer/contract-qa/internal/repository"
	"github.com/fyerfyer/contract-qa/internal/services"
	"github.com/fyerfyer/contract-qa/internal/vectordb"
)

// PaginationRequest 分页请求参数
type PaginationRequest struct {
	Page     int `form:"page" json:"page" binding:"omitempty,min=1"`           // 当前页码，从1开始
	PageSize int `form:"page_size" json:"page_size" binding:"omitempty,min=1"` // 每页记录数
}

// GetPage 获取页码，默认为1
func (p *PaginationRequest) GetPage() int {
	if p.Page <= 0 {
		return 1
	}
	return p.Page
}

// GetPageSize 获取每页记录数，默认为10，最大为100
func (p *PaginationRequest) GetPageSize() int {
	if p.PageSize <= 0 {
		return 10
	}
	if p.PageSize > 100 {
		return 100
	}
	return p.PageSize
}

// Offset 计算偏移量
func (p *PaginationRequest) Offset() int {
	return (p.GetPage() - 1) * p.GetPageSize()
}

// DocumentUploadRequest 文档上传请求
type DocumentUploadRequest struct {
	File  *multipart.FileHeader `form:"file" binding:"required"` // 文件对象
	Force bool                  `form:"force"`                   // 同名文件已存在时仍然重新处理
}

// DocumentIDRequest 路径中的文档ID
type DocumentIDRequest struct {
	ID string `uri:"id" binding:"required"`
}

// DocumentListRequest 文档列表请求
type DocumentListRequest struct {
	PaginationRequest
	Status   string `form:"status" json:"status" binding:"omitempty,docstatus"` // 文档状态
	FileName string `form:"filename" json:"filename"`                           // 文件名模糊匹配
}

// Filter 转换为仓储过滤条件
func (r *DocumentListRequest) Filter() repository.ListFilter {
	return repository.ListFilter{
		Status:   models.DocumentStatus(r.Status),
		FileName: r.FileName,
	}
}

// SearchFilters 检索的元数据过滤条件
type SearchFilters struct {
	Filename    string   `json:"filename"`
	DocumentIDs []string `json:"document_ids"`
	PageNumbers []int    `json:"page_numbers" binding:"omitempty,dive,min=1"`
	Roles       []string `json:"roles" binding:"omitempty,dive,paragraphrole"`
}

// SearchRequest 混合检索请求
type SearchRequest struct {
	Query   string         `json:"query" binding:"required"`
	TopK    int            `json:"top_k" binding:"omitempty,min=1,max=50"`
	Alpha   *float64       `json:"alpha" binding:"omitempty,min=0,max=1"`
	Filters *SearchFilters `json:"filters"`
}

// QueryOptions 转换为服务层检索参数
func (r *SearchRequest) QueryOptions() services.QueryOptions {
	return toQueryOptions(r.TopK, r.Alpha, r.Filters)
}

// QARequest 问答请求
type QARequest struct {
	Question string         `json:"question" binding:"required"`
	TopK     int            `json:"top_k" binding:"omitempty,min=1,max=50"`
	Alpha    *float64       `json:"alpha" binding:"omitempty,min=0,max=1"`
	Filters  *SearchFilters `json:"filters"`
}

// QueryOptions 转换为服务层检索参数
func (r *QARequest) QueryOptions() services.QueryOptions {
	return toQueryOptions(r.TopK, r.Alpha, r.Filters)
}

func toQueryOptions(topK int, alpha *float64, filters *SearchFilters) services.QueryOptions {
	opts := services.QueryOptions{TopK: topK, Alpha: alpha}
	if filters != nil {
		opts.Filter = vectordb.Filter{
			Filename:    filters.Filename,
			DocumentIDs: filters.DocumentIDs,
			PageNumbers: filters.PageNumbers,
			Roles:       filters.Roles,
		}
	}
	return opts
}
