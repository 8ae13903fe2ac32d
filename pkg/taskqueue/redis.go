package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/contract-qa/internal/metrics"
)

// RedisQueue 基于asynq的任务队列，任务元数据保存在Redis中
type RedisQueue struct {
	client      *asynq.Client    // 用于添加任务
	inspector   *asynq.Inspector // 用于删除未执行的任务
	redisClient *redis.Client    // 存储任务数据
	cfg         *Config
	logger      *logrus.Logger
}

// NewRedisQueue 创建Redis任务队列实例
func NewRedisQueue(cfg *Config) (*RedisQueue, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Queue == "" {
		cfg.Queue = "default"
	}
	if cfg.TaskTTL <= 0 {
		cfg.TaskTTL = DefaultConfig().TaskTTL
	}

	opt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &RedisQueue{
		client:      asynq.NewClient(opt),
		inspector:   asynq.NewInspector(opt),
		redisClient: redisClient,
		cfg:         cfg,
		logger:      logger,
	}, nil
}

// WithLogger 设置日志记录器
func (q *RedisQueue) WithLogger(logger *logrus.Logger) *RedisQueue {
	if logger != nil {
		q.logger = logger
	}
	return q
}

// Enqueue 将任务加入队列
func (q *RedisQueue) Enqueue(ctx context.Context, taskType TaskType, documentID string, payload interface{}) (string, error) {
	return q.enqueue(ctx, taskType, documentID, payload)
}

// EnqueueIn 在指定延迟后将任务加入队列
func (q *RedisQueue) EnqueueIn(ctx context.Context, taskType TaskType, documentID string, payload interface{}, delay time.Duration) (string, error) {
	return q.enqueue(ctx, taskType, documentID, payload, asynq.ProcessIn(delay))
}

func (q *RedisQueue) enqueue(ctx context.Context, taskType TaskType, documentID string, payload interface{}, opts ...asynq.Option) (string, error) {
	payloadBytes, err := MarshalPayload(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	now := time.Now()
	task := &Task{
		ID:         uuid.New().String(),
		Type:       taskType,
		DocumentID: documentID,
		Status:     StatusPending,
		Payload:    payloadBytes,
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: q.cfg.RetryLimit,
	}

	if err := q.saveTask(ctx, task); err != nil {
		return "", fmt.Errorf("failed to save task to redis: %w", err)
	}

	// asynq任务只携带任务ID，完整数据从Redis读取
	opts = append([]asynq.Option{
		asynq.TaskID(task.ID),
		asynq.Queue(q.cfg.Queue),
		asynq.MaxRetry(q.cfg.RetryLimit),
	}, opts...)
	if _, err := q.client.EnqueueContext(ctx, asynq.NewTask(string(taskType), []byte(task.ID)), opts...); err != nil {
		q.removeTask(ctx, task)
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	q.logger.WithFields(logrus.Fields{
		"task_id":     task.ID,
		"task_type":   taskType,
		"document_id": documentID,
	}).Info("Task enqueued")

	return task.ID, nil
}

// GetTask 获取任务信息
func (q *RedisQueue) GetTask(ctx context.Context, taskID string) (*Task, error) {
	data, err := q.redisClient.Get(ctx, q.taskKey(taskID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task from redis: %w", err)
	}

	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task data: %w", err)
	}
	return &task, nil
}

// GetTasksByDocument 获取文档相关的所有任务
func (q *RedisQueue) GetTasksByDocument(ctx context.Context, documentID string) ([]*Task, error) {
	taskIDs, err := q.redisClient.SMembers(ctx, q.documentKey(documentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get document tasks: %w", err)
	}

	tasks := make([]*Task, 0, len(taskIDs))
	for _, taskID := range taskIDs {
		task, err := q.GetTask(ctx, taskID)
		if err != nil {
			if errors.Is(err, ErrTaskNotFound) {
				// 任务数据已过期
				continue
			}
			return nil, err
		}
		tasks = append(tasks, task)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// WaitForTask 等待任务结束
// 订阅状态通知，同时每秒轮询一次以防错过通知
func (q *RedisQueue) WaitForTask(ctx context.Context, taskID string, timeout time.Duration) (*Task, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	pubsub := q.redisClient.Subscribe(ctx, q.statusChannel(taskID))
	defer pubsub.Close()

	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status.Finished() {
		return task, nil
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	updates := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil, ErrTaskTimeout
		case <-updates:
		case <-ticker.C:
		}

		task, err := q.GetTask(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrTaskTimeout
			}
			return nil, err
		}
		if task.Status.Finished() {
			return task, nil
		}
	}
}

// DeleteTask 删除任务
// 已在处理中的任务无法从asynq中撤回
func (q *RedisQueue) DeleteTask(ctx context.Context, taskID string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	if err := q.removeTask(ctx, task); err != nil {
		return err
	}

	if err := q.inspector.DeleteTask(q.cfg.Queue, taskID); err != nil &&
		!errors.Is(err, asynq.ErrTaskNotFound) && !errors.Is(err, asynq.ErrQueueNotFound) {
		q.logger.WithError(err).WithField("task_id", taskID).Warn("Failed to delete task from asynq queue")
	}
	return nil
}

// UpdateTaskStatus 更新任务状态
func (q *RedisQueue) UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus, result interface{}, errMsg string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	now := time.Now()
	task.Status = status
	task.UpdatedAt = now
	task.Error = errMsg

	switch {
	case status == StatusProcessing && task.StartedAt == nil:
		task.StartedAt = &now
	case status.Finished():
		task.CompletedAt = &now
	}

	if result != nil {
		resultBytes, err := MarshalPayload(result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		task.Result = resultBytes
	}

	return q.saveTask(ctx, task)
}

// NotifyTaskUpdate 通知任务状态更新
func (q *RedisQueue) NotifyTaskUpdate(ctx context.Context, taskID string) error {
	return q.redisClient.Publish(ctx, q.statusChannel(taskID), "updated").Err()
}

// Close 关闭队列连接
func (q *RedisQueue) Close() error {
	var errs []error
	if err := q.client.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := q.inspector.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := q.redisClient.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// startAttempt 标记任务开始处理并累加尝试次数
func (q *RedisQueue) startAttempt(ctx context.Context, taskID string) (*Task, error) {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	task.Attempts++
	task.Status = StatusProcessing
	task.UpdatedAt = now
	if task.StartedAt == nil {
		task.StartedAt = &now
	}
	if err := q.saveTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (q *RedisQueue) saveTask(ctx context.Context, task *Task) error {
	taskData, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	pipe := q.redisClient.TxPipeline()
	pipe.Set(ctx, q.taskKey(task.ID), taskData, q.cfg.TaskTTL)
	if task.DocumentID != "" {
		docKey := q.documentKey(task.DocumentID)
		pipe.SAdd(ctx, docKey, task.ID)
		pipe.Expire(ctx, docKey, q.cfg.TaskTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save task data: %w", err)
	}
	return nil
}

func (q *RedisQueue) removeTask(ctx context.Context, task *Task) error {
	pipe := q.redisClient.TxPipeline()
	pipe.Del(ctx, q.taskKey(task.ID))
	if task.DocumentID != "" {
		pipe.SRem(ctx, q.documentKey(task.DocumentID), task.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

func (q *RedisQueue) key(parts ...string) string {
	key := ""
	if q.cfg.KeyPrefix != "" {
		key = q.cfg.KeyPrefix + ":"
	}
	for i, p := range parts {
		if i > 0 {
			key += ":"
		}
		key += p
	}
	return key
}

func (q *RedisQueue) taskKey(taskID string) string       { return q.key("task", taskID) }
func (q *RedisQueue) documentKey(docID string) string    { return q.key("document_tasks", docID) }
func (q *RedisQueue) statusChannel(taskID string) string { return q.key("task_status", taskID) }

// RedisWorker 基于asynq服务端的工作者
type RedisWorker struct {
	server   *asynq.Server
	queue    *RedisQueue
	mu       sync.RWMutex
	handlers map[TaskType]Handler
	metrics  *metrics.Metrics
	logger   *logrus.Logger
}

// NewRedisWorker 创建Redis工作者
func NewRedisWorker(queue *RedisQueue, cfg *Config) *RedisWorker {
	if cfg == nil {
		cfg = queue.cfg
	}

	retryDelay := cfg.RetryDelay
	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      cfg.Queues,
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return retryDelay
			},
			Logger: queue.logger,
		},
	)

	return &RedisWorker{
		server:   server,
		queue:    queue,
		handlers: make(map[TaskType]Handler),
		logger:   queue.logger,
	}
}

// WithMetrics 设置任务指标
func (w *RedisWorker) WithMetrics(m *metrics.Metrics) *RedisWorker {
	w.metrics = m
	return w
}

// RegisterHandler 注册任务处理器
func (w *RedisWorker) RegisterHandler(taskType TaskType, handler Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[taskType] = handler
}

// Register 按处理器声明的类型注册
func (w *RedisWorker) Register(handler Handler) {
	for _, taskType := range handler.GetTaskTypes() {
		w.RegisterHandler(taskType, handler)
	}
}

// Start 启动工作者
func (w *RedisWorker) Start() error {
	mux := asynq.NewServeMux()

	w.mu.RLock()
	for taskType, handler := range w.handlers {
		h := handler
		mux.HandleFunc(string(taskType), func(ctx context.Context, t *asynq.Task) error {
			return w.execute(ctx, h, string(t.Payload()))
		})
		w.logger.WithField("task_type", taskType).Info("Registered handler for task type")
	}
	w.mu.RUnlock()

	return w.server.Start(mux)
}

// Stop 停止工作者，等待处理中的任务结束
func (w *RedisWorker) Stop() {
	w.server.Shutdown()
}

// execute 执行单个任务并维护任务状态
func (w *RedisWorker) execute(ctx context.Context, h Handler, taskID string) error {
	logger := w.logger.WithField("task_id", taskID)

	task, err := w.queue.startAttempt(ctx, taskID)
	if err != nil {
		logger.WithError(err).Error("Failed to load task")
		if errors.Is(err, ErrTaskNotFound) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	w.notify(ctx, taskID)

	started := time.Now()
	result, err := h.ProcessTask(ctx, task)
	logger = logger.WithFields(logrus.Fields{
		"task_type":   task.Type,
		"document_id": task.DocumentID,
		"attempt":     task.Attempts,
		"duration":    time.Since(started).String(),
	})

	if err != nil {
		retry := !IsPermanent(err) && task.Attempts <= task.MaxRetries
		status := StatusFailed
		if retry {
			status = StatusPending
		}
		if updateErr := w.queue.UpdateTaskStatus(ctx, taskID, status, nil, err.Error()); updateErr != nil {
			logger.WithError(updateErr).Error("Failed to update task status after failure")
		}
		w.notify(ctx, taskID)
		w.metrics.RecordTask(string(task.Type), string(status))

		if !retry {
			logger.WithError(err).Error("Task failed")
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		logger.WithError(err).Warn("Task failed, will retry")
		return err
	}

	if err := w.queue.UpdateTaskStatus(ctx, taskID, StatusCompleted, result, ""); err != nil {
		logger.WithError(err).Error("Failed to update task status after completion")
	}
	w.notify(ctx, taskID)
	w.metrics.RecordTask(string(task.Type), string(StatusCompleted))
	logger.Info("Task completed")
	return nil
}

func (w *RedisWorker) notify(ctx context.Context, taskID string) {
	if err := w.queue.NotifyTaskUpdate(ctx, taskID); err != nil {
		w.logger.WithError(err).WithField("task_id", taskID).Debug("Failed to publish task update")
	}
}

var (
	factoriesMu    sync.RWMutex
	queueFactories = make(map[string]Factory)
)

func init() {
	RegisterQueueFactory("redis", func(cfg *Config) (Queue, error) {
		q, err := NewRedisQueue(cfg)
		if err != nil {
			return nil, err
		}
		return q, nil
	})
}

// RegisterQueueFactory 注册队列工厂函数
func RegisterQueueFactory(name string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	queueFactories[name] = factory
}

// NewQueue 根据名称创建队列实例
func NewQueue(name string, cfg *Config) (Queue, error) {
	factoriesMu.RLock()
	factory, exists := queueFactories[name]
	factoriesMu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("unknown queue implementation: %s", name)
	}
	return factory(cfg)
}
