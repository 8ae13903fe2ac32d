package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/contract-qa/api/middleware"
	"github.com/fyerfyer/contract-qa/api/model"
	"github.com/fyerfyer/contract-qa/internal/chunker"
	"github.com/fyerfyer/contract-qa/internal/models"
	"github.com/fyerfyer/contract-qa/internal/services"
)

// DocumentHandler 处理文档相关的API请求
type DocumentHandler struct {
	documentService *services.DocumentService // 文档服务
	logger          *logrus.Logger            // 日志记录器
}

// NewDocumentHandler 创建新的文档处理器
func NewDocumentHandler(documentService *services.DocumentService) *DocumentHandler {
	return &DocumentHandler{
		documentService: documentService,
		logger:          middleware.GetLogger(),
	}
}

// UploadDocument 处理文档上传请求
// POST /api/documents
func (h *DocumentHandler) UploadDocument(c *gin.Context) {
	var req model.DocumentUploadRequest
	if err := c.ShouldBind(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("a file must be provided in the 'file' field", model.ValidationMessage(err)))
		return
	}

	file, err := req.File.Open()
	if err != nil {
		h.logger.WithError(err).WithField("filename", req.File.Filename).Error("Failed to open uploaded file")
		middleware.HandleError(c, middleware.NewInternalError("failed to open uploaded file", err.Error()))
		return
	}
	defer file.Close()

	doc, err := h.documentService.Upload(c.Request.Context(), file, req.File.Filename, req.File.Size, req.Force)
	if err != nil {
		var chunkErr *chunker.ChunkError
		switch {
		case doc != nil && doc.Status == models.DocStatusFailed:
			// 同步处理失败，记录已标记为失败
			h.logger.WithError(err).WithField("file_id", doc.ID).Warn("Document processing failed")
			if !errors.As(err, &chunkErr) {
				err = middleware.NewProcessingError(doc.Error)
			}
		case errors.Is(err, models.ErrDuplicateDocument):
			h.logger.WithField("filename", req.File.Filename).Info("Duplicate upload rejected")
		}
		middleware.HandleError(c, err)
		return
	}

	status := http.StatusOK
	if doc.Status != models.DocStatusCompleted {
		status = http.StatusAccepted
	}
	c.JSON(status, model.NewSuccessResponse(model.NewDocumentInfo(doc)))
}

// GetDocument 获取文档详情和处理状态
// GET /api/documents/:id
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	var req model.DocumentIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid document id"))
		return
	}

	doc, err := h.documentService.GetDocument(c.Request.Context(), req.ID)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewDocumentInfo(doc)))
}

// ListDocuments 获取文档列表
// GET /api/documents
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	var req model.DocumentListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid query parameters", model.ValidationMessage(err)))
		return
	}

	docs, total, err := h.documentService.ListDocuments(c.Request.Context(), req.Offset(), req.GetPageSize(), req.Filter())
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	resp := model.DocumentListResponse{
		Total:     total,
		Page:      req.GetPage(),
		PageSize:  req.GetPageSize(),
		Documents: make([]model.DocumentInfo, len(docs)),
	}
	for i, doc := range docs {
		resp.Documents[i] = model.NewDocumentInfo(doc)
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// GetDocumentChunks 分页浏览文档的分块
// GET /api/documents/:id/chunks
func (h *DocumentHandler) GetDocumentChunks(c *gin.Context) {
	var uri model.DocumentIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid document id"))
		return
	}
	var page model.PaginationRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid query parameters", model.ValidationMessage(err)))
		return
	}

	ctx := c.Request.Context()
	doc, err := h.documentService.GetDocument(ctx, uri.ID)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	chunks, total, err := h.documentService.GetChunks(ctx, uri.ID, page.Offset(), page.GetPageSize())
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	resp := model.ChunkListResponse{
		FileID:   doc.ID,
		FileName: doc.FileName,
		Total:    total,
		Page:     page.GetPage(),
		PageSize: page.GetPageSize(),
		Chunks:   make([]model.ChunkInfo, len(chunks)),
	}
	for i, chunk := range chunks {
		resp.Chunks[i] = model.NewChunkInfo(chunk)
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// ReprocessDocument 重新处理已上传的文档
// POST /api/documents/:id/reprocess
func (h *DocumentHandler) ReprocessDocument(c *gin.Context) {
	var req model.DocumentIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid document id"))
		return
	}

	doc, err := h.documentService.Reprocess(c.Request.Context(), req.ID)
	if err != nil {
		if doc != nil && doc.Status == models.DocStatusFailed {
			var chunkErr *chunker.ChunkError
			if !errors.As(err, &chunkErr) {
				err = middleware.NewProcessingError(doc.Error)
			}
		}
		middleware.HandleError(c, err)
		return
	}

	status := http.StatusOK
	if doc.Status != models.DocStatusCompleted {
		status = http.StatusAccepted
	}
	c.JSON(status, model.NewSuccessResponse(model.NewDocumentInfo(doc)))
}

// DeleteDocument 删除文档
// DELETE /api/documents/:id
func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	var req model.DocumentIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid document id"))
		return
	}

	if err := h.documentService.Delete(c.Request.Context(), req.ID); err != nil {
		middleware.HandleError(c, err)
		return
	}

	h.logger.WithField("file_id", req.ID).Info("Document deleted")
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.DocumentDeleteResponse{
		Success: true,
		FileID:  req.ID,
	}))
}

// GetDocumentTasks 获取文档相关的所有任务
// GET /api/documents/:id/tasks
func (h *DocumentHandler) GetDocumentTasks(c *gin.Context) {
	var req model.DocumentIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid document id"))
		return
	}

	ctx := c.Request.Context()
	if _, err := h.documentService.GetDocument(ctx, req.ID); err != nil {
		middleware.HandleError(c, err)
		return
	}
	tasks, err := h.documentService.GetDocumentTasks(ctx, req.ID)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewDocumentTasksResponse(req.ID, tasks)))
}
