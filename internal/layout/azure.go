package layout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// 操作状态
const (
	operationRunning    = "running"
	operationNotStarted = "notStarted"
	operationSucceeded  = "succeeded"
	operationFailed     = "failed"
	operationCanceled   = "canceled"
)

// APIError 表示Document Intelligence返回的错误
type APIError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("document intelligence error (status code: %d): %s - %s", e.StatusCode, e.Code, e.Message)
}

// retryable 5xx和429可以重试
func (e *APIError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// AzureAnalyzer 基于Azure Document Intelligence prebuilt-layout模型的分析器
type AzureAnalyzer struct {
	client  *http.Client
	config  *Config
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
}

// operationResult 轮询返回的操作结果
type operationResult struct {
	Status        string          `json:"status"`
	AnalyzeResult json.RawMessage `json:"analyzeResult"`
	Error         *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func init() {
	RegisterAnalyzer("azure", func(cfg *Config) (Analyzer, error) {
		return NewAzureAnalyzer(cfg)
	})
}

// NewAzureAnalyzer 创建Azure版面分析器
func NewAzureAnalyzer(cfg *Config) (*AzureAnalyzer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Endpoint == "" || cfg.APIKey == "" {
		return nil, errors.Wrap(ErrAnalyzerUnavailable, "azure analyzer requires endpoint and api key")
	}

	logger := logrus.StandardLogger()
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "DocumentIntelligence",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &AzureAnalyzer{
		client: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		config:  cfg,
		breaker: breaker,
		logger:  logger,
	}, nil
}

// WithLogger 设置日志记录器
func (a *AzureAnalyzer) WithLogger(logger *logrus.Logger) *AzureAnalyzer {
	if logger != nil {
		a.logger = logger
	}
	return a
}

// WithHTTPClient 替换HTTP客户端
func (a *AzureAnalyzer) WithHTTPClient(client *http.Client) *AzureAnalyzer {
	if client != nil {
		a.client = client
	}
	return a
}

// Name 返回分析器名称
func (a *AzureAnalyzer) Name() string {
	return "azure"
}

// Analyze 提交文档并等待分析完成
func (a *AzureAnalyzer) Analyze(ctx context.Context, r io.Reader, filename string) (*Document, error) {
	if DetectContentType(filename) == JSON {
		return Parse(r)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read document")
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	result, err := a.breaker.Execute(func() (interface{}, error) {
		location, err := a.submit(ctx, data)
		if err != nil {
			return nil, err
		}
		return a.poll(ctx, location)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, errors.Wrap(ErrAnalyzerUnavailable, err.Error())
		}
		return nil, errors.Wrapf(err, "failed to analyze %s", filename)
	}

	doc, err := ParseBytes(result.([]byte))
	if err != nil {
		return nil, err
	}

	a.logger.WithFields(logrus.Fields{
		"filename":   filename,
		"paragraphs": len(doc.Paragraphs),
		"tables":     len(doc.Tables),
		"sections":   len(doc.Sections),
		"pages":      doc.PageCount,
	}).Info("Layout analysis completed")

	return doc, nil
}

// analyzeURL 构造分析请求地址
func (a *AzureAnalyzer) analyzeURL() string {
	return fmt.Sprintf("%s/documentintelligence/documentModels/%s:analyze?api-version=%s",
		a.config.Endpoint, a.config.ModelID, a.config.APIVersion)
}

// submit 提交分析请求，返回Operation-Location
func (a *AzureAnalyzer) submit(ctx context.Context, data []byte) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= a.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", errors.Wrap(ctx.Err(), "analyze request canceled")
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.analyzeURL(), bytes.NewReader(data))
		if err != nil {
			return "", errors.Wrap(err, "failed to create analyze request")
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("Ocp-Apim-Subscription-Key", a.config.APIKey)

		resp, err := a.client.Do(req)
		if err != nil {
			lastErr = errors.Wrap(err, "analyze request failed")
			a.logger.WithError(err).WithField("attempt", attempt+1).Warn("Analyze request attempt failed")
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return "", errors.Wrap(err, "failed to read analyze response")
		}

		if resp.StatusCode != http.StatusAccepted {
			apiErr := newAPIError(resp.StatusCode, body)
			if !apiErr.retryable() {
				return "", apiErr
			}
			lastErr = apiErr
			continue
		}

		location := resp.Header.Get("Operation-Location")
		if location == "" {
			return "", errors.Wrap(ErrAnalysisFailed, "missing Operation-Location header")
		}
		return location, nil
	}

	return "", lastErr
}

// poll 轮询操作结果直到完成
func (a *AzureAnalyzer) poll(ctx context.Context, location string) ([]byte, error) {
	ticker := time.NewTicker(a.config.PollInterval)
	defer ticker.Stop()

	// 连续可重试错误(429/5xx)超过MaxRetries次才放弃
	failures := 0
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create poll request")
		}
		req.Header.Set("Ocp-Apim-Subscription-Key", a.config.APIKey)

		resp, err := a.client.Do(req)
		if err != nil {
			return nil, errors.Wrap(err, "poll request failed")
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, errors.Wrap(err, "failed to read poll response")
		}
		if resp.StatusCode != http.StatusOK {
			apiErr := newAPIError(resp.StatusCode, body)
			failures++
			if !apiErr.retryable() || failures > a.config.MaxRetries {
				return nil, apiErr
			}
			a.logger.WithError(apiErr).WithField("attempt", failures).Warn("Poll request throttled or failed, retrying")
			if err := a.wait(ctx, ticker); err != nil {
				return nil, err
			}
			continue
		}
		failures = 0

		var op operationResult
		if err := json.Unmarshal(body, &op); err != nil {
			return nil, errors.Wrap(err, "failed to decode operation result")
		}

		switch op.Status {
		case operationSucceeded:
			if len(op.AnalyzeResult) == 0 {
				return []byte("{}"), nil
			}
			return op.AnalyzeResult, nil
		case operationFailed, operationCanceled:
			msg := op.Status
			if op.Error != nil {
				msg = fmt.Sprintf("%s: %s", op.Error.Code, op.Error.Message)
			}
			return nil, errors.Wrap(ErrAnalysisFailed, msg)
		case operationRunning, operationNotStarted, "":
		default:
			a.logger.WithField("status", op.Status).Debug("Unexpected operation status")
		}

		if err := a.wait(ctx, ticker); err != nil {
			return nil, err
		}
	}
}

// wait 等待下一次轮询
func (a *AzureAnalyzer) wait(ctx context.Context, ticker *time.Ticker) error {
	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "layout analysis timed out")
	case <-ticker.C:
		return nil
	}
}

// newAPIError 从响应体中解析错误详情
func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Message: string(body)}

	var errResp struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		apiErr.Code = errResp.Error.Code
		apiErr.Message = errResp.Error.Message
	}
	return apiErr
}
