package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/contract-qa/api/model"
	"github.com/fyerfyer/contract-qa/internal/chunker"
	"github.com/fyerfyer/contract-qa/internal/models"
	"github.com/fyerfyer/contract-qa/internal/services"
	"github.com/fyerfyer/contract-qa/pkg/taskqueue"
)

// 定义应用中的错误类型常量
const (
	ErrorTypeValidation  = "VALIDATION_ERROR"  // 输入验证错误
	ErrorTypeNotFound    = "NOT_FOUND_ERROR"   // 资源不存在错误
	ErrorTypeConflict    = "CONFLICT_ERROR"    // 资源状态冲突
	ErrorTypeProcessing  = "PROCESSING_ERROR"  // 文档处理失败
	ErrorTypeUnavailable = "UNAVAILABLE_ERROR" // 依赖服务不可用
	ErrorTypeInternal    = "INTERNAL_ERROR"    // 内部服务器错误
)

// AppError 应用错误结构体
type AppError struct {
	Type    string // 错误类型
	Message string // 错误消息
	Details string // 详细错误信息
	Code    int    // HTTP状态码
}

// Error 实现error接口的方法
func (e AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewValidationError 创建输入验证错误
func NewValidationError(message string, details ...string) AppError {
	return AppError{
		Type:    ErrorTypeValidation,
		Message: message,
		Details: strings.Join(details, "; "),
		Code:    http.StatusBadRequest,
	}
}

// NewNotFoundError 创建资源不存在错误
func NewNotFoundError(message string) AppError {
	return AppError{
		Type:    ErrorTypeNotFound,
		Message: message,
		Code:    http.StatusNotFound,
	}
}

// NewConflictError 创建状态冲突错误
func NewConflictError(message string, details ...string) AppError {
	return AppError{
		Type:    ErrorTypeConflict,
		Message: message,
		Details: strings.Join(details, "; "),
		Code:    http.StatusConflict,
	}
}

// NewProcessingError 创建文档处理失败错误
func NewProcessingError(message string) AppError {
	return AppError{
		Type:    ErrorTypeProcessing,
		Message: message,
		Code:    http.StatusUnprocessableEntity,
	}
}

// NewUnavailableError 创建依赖不可用错误
func NewUnavailableError(message string) AppError {
	return AppError{
		Type:    ErrorTypeUnavailable,
		Message: message,
		Code:    http.StatusServiceUnavailable,
	}
}

// NewInternalError 创建内部服务器错误
func NewInternalError(message string, details ...string) AppError {
	return AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Details: strings.Join(details, "; "),
		Code:    http.StatusInternalServerError,
	}
}

// FromError 把领域错误映射为应用错误
func FromError(err error) AppError {
	var appErr AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var chunkErr *chunker.ChunkError

	switch {
	case errors.Is(err, models.ErrDocumentNotFound):
		return NewNotFoundError("document not found")
	case errors.Is(err, taskqueue.ErrTaskNotFound):
		return NewNotFoundError("task not found")
	case errors.Is(err, models.ErrDuplicateDocument):
		return NewConflictError("document already exists, upload again with force=true to reprocess", err.Error())
	case errors.Is(err, models.ErrInvalidDocumentStatus):
		return NewConflictError("document is in an invalid state for this operation", err.Error())
	case errors.Is(err, services.ErrUnsupportedFileType):
		return NewValidationError("unsupported file type, expected .pdf, .md, .txt or .json", err.Error())
	case errors.Is(err, services.ErrEmptyFile):
		return NewValidationError("file is empty")
	case errors.Is(err, services.ErrEmptyQuestion):
		return NewValidationError("question cannot be empty")
	case errors.As(err, &chunkErr):
		return NewProcessingError(chunkErr.Error())
	default:
		return NewInternalError("internal server error", err.Error())
	}
}

// ErrorHandler 统一错误处理中间件
// 捕获panic，并把处理器记录的最后一个错误写为响应
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(logrus.Fields{
					FieldError:   r,
					"stack":      string(debug.Stack()),
					FieldPath:    c.Request.URL.Path,
					FieldTraceID: GetTraceID(c),
				}).Error("Panic recovered in API request")

				errResp := model.NewErrorResponse(http.StatusInternalServerError, "An unexpected error occurred")
				if gin.Mode() == gin.DebugMode {
					errResp.Message = fmt.Sprintf("Panic: %v", r)
				}
				errResp.TraceID = GetTraceID(c)
				c.AbortWithStatusJSON(http.StatusInternalServerError, errResp)
			}
		}()

		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		appErr := FromError(c.Errors.Last().Err)
		traceID := GetTraceID(c)

		entry := log.WithFields(logrus.Fields{
			"error_type": appErr.Type,
			FieldTraceID: traceID,
			FieldPath:    c.Request.URL.Path,
		})
		if appErr.Details != "" {
			entry = entry.WithField("details", appErr.Details)
		}
		if appErr.Code >= http.StatusInternalServerError {
			entry.Error(appErr.Message)
		} else {
			entry.Warn(appErr.Message)
		}

		errResp := model.NewErrorResponse(appErr.Code, appErr.Message)
		if appErr.Code == http.StatusInternalServerError && gin.Mode() == gin.DebugMode && appErr.Details != "" {
			errResp.Message = appErr.Details
		}
		errResp.TraceID = traceID
		c.AbortWithStatusJSON(appErr.Code, errResp)
	}
}

// HandleError 在处理器中使用的错误处理辅助函数
func HandleError(c *gin.Context, err error) {
	_ = c.Error(err)
}
