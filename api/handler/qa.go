package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/contract-qa/api/middleware"
	"github.com/fyerfyer/contract-qa/api/model"
	"github.com/fyerfyer/contract-qa/internal/services"
)

// QAHandler 处理检索和问答请求
type QAHandler struct {
	qaService *services.QAService // 问答服务
	logger    *logrus.Logger      // 日志记录器
}

// NewQAHandler 创建新的问答处理器
func NewQAHandler(qaService *services.QAService) *QAHandler {
	return &QAHandler{
		qaService: qaService,
		logger:    middleware.GetLogger(),
	}
}

// Search 混合检索分块
// POST /api/search
func (h *QAHandler) Search(c *gin.Context) {
	var req model.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid search request", model.ValidationMessage(err)))
		return
	}

	results, err := h.qaService.Search(c.Request.Context(), req.Query, req.QueryOptions())
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewSearchResponse(req.Query, results)))
}

// AnswerQuestion 处理问答请求
// POST /api/qa
func (h *QAHandler) AnswerQuestion(c *gin.Context) {
	var req model.QARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid question request", model.ValidationMessage(err)))
		return
	}

	h.logger.WithFields(logrus.Fields{
		"question":              req.Question,
		middleware.FieldTraceID: middleware.GetTraceID(c),
	}).Info("Answering question")

	answer, err := h.qaService.Answer(c.Request.Context(), req.Question, req.QueryOptions())
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewQAResponse(answer)))
}
