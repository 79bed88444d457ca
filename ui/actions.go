// Package ui 预测服务的表单界面
package ui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"bankpredict/client"
	"bankpredict/ml"
)

// Backend 预测服务接口，由 client.Client 实现
type Backend interface {
	Health(ctx context.Context) (map[string]string, error)
	Predict(ctx context.Context, sample ml.Sample) (*client.PredictResponse, error)
	PredictBatch(ctx context.Context, filename, contentType string, body io.Reader) (*client.BatchResponse, error)
}

// Action 界面操作
type Action string

const (
	ActionHealth       Action = "health"
	ActionPredict      Action = "predict"
	ActionPredictBatch Action = "predict_batch"
)

// Level 结果级别
type Level string

const (
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// ActionResult 一次操作的结果，供页面展示
type ActionResult struct {
	ID      string
	Action  Action
	Level   Level
	Message string
	// Payload 服务响应的格式化JSON
	Payload string
	// Problems 表单字段问题，键为字段名
	Problems map[string]string
	At       time.Time
}

// Upload 用户选择的批量文件
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// App 界面状态：服务客户端与最近结果
type App struct {
	backend Backend
	recent  *lru.Cache[string, ActionResult]
	logger  *zap.Logger
}

// NewApp 创建界面；recentSize 为最近结果保留条数
func NewApp(backend Backend, recentSize int, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recentSize <= 0 {
		recentSize = 20
	}
	recent, err := lru.New[string, ActionResult](recentSize)
	if err != nil {
		return nil, fmt.Errorf("create recent results cache: %w", err)
	}
	return &App{backend: backend, recent: recent, logger: logger}, nil
}

// CheckHealth 健康检查
func (a *App) CheckHealth(ctx context.Context) (result ActionResult) {
	defer a.finish(ActionHealth, &result)

	status, err := a.backend.Health(ctx)
	if err != nil {
		return failure(ActionHealth, "Failed to connect to backend", err)
	}
	return success(ActionHealth, "Backend is healthy!", status)
}

// Predict 校验表单后调用单条预测；校验失败时不调用服务
func (a *App) Predict(ctx context.Context, form url.Values) (result ActionResult) {
	defer a.finish(ActionPredict, &result)

	sample, problems := ParseSampleForm(form)
	if problems != nil {
		return ActionResult{
			Action:   ActionPredict,
			Level:    LevelWarning,
			Message:  "Please correct the highlighted fields",
			Problems: problems,
		}
	}

	resp, err := a.backend.Predict(ctx, sample)
	if err != nil {
		return failure(ActionPredict, "Prediction failed", err)
	}
	return success(ActionPredict, "Prediction completed!", resp)
}

// PredictBatch 上传批量文件；未选择文件时不调用服务
func (a *App) PredictBatch(ctx context.Context, upload *Upload) (result ActionResult) {
	defer a.finish(ActionPredictBatch, &result)

	if upload == nil || upload.Filename == "" {
		return ActionResult{
			Action:  ActionPredictBatch,
			Level:   LevelWarning,
			Message: "Please upload a file first",
		}
	}

	resp, err := a.backend.PredictBatch(ctx, upload.Filename, upload.ContentType, bytes.NewReader(upload.Data))
	if err != nil {
		return failure(ActionPredictBatch, "Batch prediction failed", err)
	}
	return success(ActionPredictBatch, "Batch prediction completed!", resp)
}

// Recent 最近结果，新的在前
func (a *App) Recent() []ActionResult {
	keys := a.recent.Keys()
	results := make([]ActionResult, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if r, ok := a.recent.Peek(keys[i]); ok {
			results = append(results, r)
		}
	}
	return results
}

// finish 补全结果、捕获panic并记录
func (a *App) finish(action Action, result *ActionResult) {
	if p := recover(); p != nil {
		a.logger.Error("ui action panicked", zap.String("action", string(action)), zap.Any("panic", p))
		*result = ActionResult{
			Action:  action,
			Level:   LevelError,
			Message: fmt.Sprintf("Error: unexpected failure: %v", p),
		}
	}
	result.ID = uuid.NewString()
	result.At = time.Now()

	a.recent.Add(result.ID, *result)
	a.logger.Info("ui action",
		zap.String("id", result.ID),
		zap.String("action", string(action)),
		zap.String("level", string(result.Level)),
	)
}

func success(action Action, message string, payload any) ActionResult {
	return ActionResult{
		Action:  action,
		Level:   LevelSuccess,
		Message: message,
		Payload: formatPayload(payload),
	}
}

func failure(action Action, prefix string, err error) ActionResult {
	return ActionResult{
		Action:  action,
		Level:   LevelError,
		Message: fmt.Sprintf("Error: %s: %v", prefix, err),
	}
}

func formatPayload(payload any) string {
	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Sprint(payload)
	}
	return string(out)
}
