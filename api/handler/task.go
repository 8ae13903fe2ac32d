package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/contract-qa/api/middleware"
	"github.com/fyerfyer/contract-qa/api/model"
	"github.com/fyerfyer/contract-qa/pkg/taskqueue"
)

// IndexRebuilder 从关系库重建向量索引
type IndexRebuilder interface {
	RebuildIndex(ctx context.Context) (int, error)
}

// TaskHandler 处理任务查询和索引维护请求
type TaskHandler struct {
	queue     taskqueue.Queue // 任务队列，可为nil
	rebuilder IndexRebuilder
	logger    *logrus.Logger // 日志记录器
}

// NewTaskHandler 创建新的任务处理器
func NewTaskHandler(queue taskqueue.Queue, rebuilder IndexRebuilder) *TaskHandler {
	return &TaskHandler{
		queue:     queue,
		rebuilder: rebuilder,
		logger:    middleware.GetLogger(),
	}
}

// GetTaskStatus 获取任务状态
// GET /api/tasks/:id
func (h *TaskHandler) GetTaskStatus(c *gin.Context) {
	if h.queue == nil {
		middleware.HandleError(c, middleware.NewUnavailableError("task queue is not enabled"))
		return
	}

	taskID := c.Param("id")
	task, err := h.queue.GetTask(c.Request.Context(), taskID)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(taskqueue.NewTaskInfo(task)))
}

// RebuildIndex 重建向量索引，有队列时异步执行
// POST /api/index/rebuild
func (h *TaskHandler) RebuildIndex(c *gin.Context) {
	ctx := c.Request.Context()

	if h.queue != nil {
		taskID, err := h.queue.Enqueue(ctx, taskqueue.TaskIndexRebuild, "", struct{}{})
		if err != nil {
			middleware.HandleError(c, err)
			return
		}
		h.logger.WithField("task_id", taskID).Info("Index rebuild task enqueued")
		c.JSON(http.StatusAccepted, model.NewSuccessResponse(model.IndexRebuildResponse{TaskID: taskID}))
		return
	}

	n, err := h.rebuilder.RebuildIndex(ctx)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.IndexRebuildResponse{Indexed: n}))
}
