package model

import (
	"encoding/json"
	"time"

	"github.com/fyerfyer/contract-qa/internal/models"
	"github.com/fyerfyer/contract-qa/internal/services"
	"github.com/fyerfyer/contract-qa/internal/vectordb"
	"github.com/fyerfyer/contract-qa/pkg/taskqueue"
)

// ChunkPreviewLength 分块浏览时内容预览的字符数
const ChunkPreviewLength = 500

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`               // 响应状态码，0表示成功
	Message string      `json:"message"`            // 响应消息
	Data    interface{} `json:"data,omitempty"`     // 响应数据，可能为空
	TraceID string      `json:"trace_id,omitempty"` // 调用链追踪ID
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}

// DocumentInfo 文档信息
type DocumentInfo struct {
	FileID         string     `json:"file_id"`
	FileName       string     `json:"filename"`
	FileType       string     `json:"file_type"`
	FileSize       int64      `json:"file_size"`
	Status         string     `json:"status"`
	Stage          string     `json:"stage,omitempty"`
	Progress       int        `json:"progress"`
	Error          string     `json:"error,omitempty"`
	ChunkCount     int        `json:"chunk_count"`
	SectionCount   int        `json:"section_count"`
	PageCount      int        `json:"page_count"`
	WarningCount   int        `json:"warning_count"`
	Warnings       []string   `json:"warnings,omitempty"`
	Analyzer       string     `json:"analyzer,omitempty"`
	EmbeddingModel string     `json:"embedding_model,omitempty"`
	TaskID         string     `json:"task_id,omitempty"`
	RetryCount     int        `json:"retry_count"`
	UploadTime     time.Time  `json:"upload_time"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
}

// NewDocumentInfo 从文档记录创建文档信息
func NewDocumentInfo(doc *models.Document) DocumentInfo {
	info := DocumentInfo{
		FileID:         doc.ID,
		FileName:       doc.FileName,
		FileType:       doc.FileType,
		FileSize:       doc.FileSize,
		Status:         string(doc.Status),
		Stage:          string(doc.CurrentStage),
		Progress:       doc.Progress,
		Error:          doc.Error,
		ChunkCount:     doc.ChunkCount,
		SectionCount:   doc.SectionCount,
		PageCount:      doc.PageCount,
		WarningCount:   doc.WarningCount,
		Analyzer:       doc.Analyzer,
		EmbeddingModel: doc.EmbeddingModel,
		TaskID:         doc.CurrentTaskID,
		RetryCount:     doc.RetryCount,
		UploadTime:     doc.UploadedAt,
		ProcessedAt:    doc.ProcessedAt,
	}

	if len(doc.Metadata) > 0 {
		var meta struct {
			Warnings []string `json:"warnings"`
		}
		if err := json.Unmarshal(doc.Metadata, &meta); err == nil {
			info.Warnings = meta.Warnings
		}
	}
	return info
}

// DocumentListResponse 文档列表响应
type DocumentListResponse struct {
	Total     int64          `json:"total"`     // 总数量
	Page      int            `json:"page"`      // 当前页码
	PageSize  int            `json:"page_size"` // 每页大小
	Documents []DocumentInfo `json:"documents"` // 文档列表
}

// DocumentDeleteResponse 文档删除响应
type DocumentDeleteResponse struct {
	Success bool   `json:"success"` // 是否成功
	FileID  string `json:"file_id"` // 文件ID
}

// ChunkInfo 分块浏览信息
type ChunkInfo struct {
	ID             string   `json:"id"`
	ChunkNumber    int      `json:"chunk_number"`
	Heading        string   `json:"heading,omitempty"`
	Preview        string   `json:"preview"`
	TokenLength    int      `json:"token_length"`
	CharLength     int      `json:"char_length"`
	SectionIndexes []int    `json:"section_indexes"`
	Roles          []string `json:"roles"`
	PageNumbers    []int    `json:"page_numbers"`
}

// NewChunkInfo 从分块记录创建浏览信息，内容截断为预览
func NewChunkInfo(chunk *models.DocumentChunk) ChunkInfo {
	return ChunkInfo{
		ID:             chunk.ID,
		ChunkNumber:    chunk.ChunkNumber,
		Heading:        chunk.Heading,
		Preview:        services.ChunkPreview(chunk.Content, ChunkPreviewLength),
		TokenLength:    chunk.TokenLength,
		CharLength:     chunk.CharLength,
		SectionIndexes: nonNilInts(chunk.SectionIndexes),
		Roles:          nonNilStrings(chunk.Roles),
		PageNumbers:    nonNilInts(chunk.PageNumbers),
	}
}

// ChunkListResponse 分块列表响应
type ChunkListResponse struct {
	FileID   string      `json:"file_id"`
	FileName string      `json:"filename"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Chunks   []ChunkInfo `json:"chunks"`
}

// SearchResultInfo 检索命中的分块
type SearchResultInfo struct {
	ChunkID      string   `json:"chunk_id"`
	FileID       string   `json:"file_id"`
	FileName     string   `json:"filename"`
	ChunkNumber  int      `json:"chunk_number"`
	Heading      string   `json:"heading,omitempty"`
	Content      string   `json:"content"`
	PageNumbers  []int    `json:"page_numbers"`
	Roles        []string `json:"roles"`
	Score        float64  `json:"score"`
	VectorScore  float64  `json:"vector_score"`
	KeywordScore float64  `json:"keyword_score"`
}

// SearchResponse 混合检索响应
type SearchResponse struct {
	Query   string             `json:"query"`
	Results []SearchResultInfo `json:"results"`
}

// NewSearchResponse 转换检索结果
func NewSearchResponse(query string, results []vectordb.SearchResult) SearchResponse {
	resp := SearchResponse{Query: query, Results: make([]SearchResultInfo, len(results))}
	for i, r := range results {
		resp.Results[i] = SearchResultInfo{
			ChunkID:      r.Record.ID,
			FileID:       r.Record.DocumentID,
			FileName:     r.Record.Filename,
			ChunkNumber:  r.Record.ChunkNumber,
			Heading:      r.Record.Heading,
			Content:      r.Record.Content,
			PageNumbers:  nonNilInts(r.Record.PageNumbers),
			Roles:        nonNilStrings(r.Record.Roles),
			Score:        r.Score,
			VectorScore:  r.VectorScore,
			KeywordScore: r.KeywordScore,
		}
	}
	return resp
}

// QAResponse 问答响应
type QAResponse struct {
	Question string            `json:"question"` // 用户问题
	Answer   string            `json:"answer"`   // 生成的回答
	Sources  []services.Source `json:"sources"`  // 引用的分块
	Cached   bool              `json:"cached"`   // 是否来自缓存
}

// NewQAResponse 转换问答结果
func NewQAResponse(answer *services.Answer) QAResponse {
	sources := answer.Sources
	if sources == nil {
		sources = []services.Source{}
	}
	return QAResponse{
		Question: answer.Question,
		Answer:   answer.Answer,
		Sources:  sources,
		Cached:   answer.Cached,
	}
}

// DocumentTasksResponse 文档任务列表响应
type DocumentTasksResponse struct {
	FileID string                `json:"file_id"`
	Tasks  []*taskqueue.TaskInfo `json:"tasks"`
}

// NewDocumentTasksResponse 转换任务列表
func NewDocumentTasksResponse(docID string, tasks []*taskqueue.Task) DocumentTasksResponse {
	resp := DocumentTasksResponse{FileID: docID, Tasks: make([]*taskqueue.TaskInfo, len(tasks))}
	for i, task := range tasks {
		resp.Tasks[i] = taskqueue.NewTaskInfo(task)
	}
	return resp
}

// IndexRebuildResponse 重建索引响应
type IndexRebuildResponse struct {
	TaskID  string `json:"task_id,omitempty"` // 异步执行时的任务ID
	Indexed int    `json:"indexed"`           // 同步执行时写入的分块数
}

func nonNilInts(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
