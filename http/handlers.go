package http

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"bankpredict/ml"
	"bankpredict/monitoring"
	"bankpredict/pipeline"
)

// APIConfig 预测接口依赖
type APIConfig struct {
	Model   ml.Predictor
	Batch   pipeline.BatchOptions
	Logger  *zap.Logger
	Metrics *monitoring.MetricsCollector
	Events  *monitoring.WebSocketHub
}

// API 预测服务处理器，模型通过构造函数注入
type API struct {
	model   ml.Predictor
	batch   pipeline.BatchOptions
	logger  *zap.Logger
	metrics *monitoring.MetricsCollector
	events  *monitoring.WebSocketHub
}

// NewAPI 创建预测服务处理器
func NewAPI(cfg APIConfig) *API {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = monitoring.NewMetricsCollector()
	}
	return &API{
		model:   cfg.Model,
		batch:   cfg.Batch,
		logger:  logger,
		metrics: metrics,
		events:  cfg.Events,
	}
}

// RegisterRoutes 注册路由
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("POST /predict", a.handlePredict)
	mux.HandleFunc("POST /predict_batch", a.handlePredictBatch)
	mux.HandleFunc("GET /metrics", a.handleMetrics)
	if a.events != nil {
		mux.HandleFunc("GET /ws/events", a.events.HandleWebSocket)
	}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status string `json:"status"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, a.metrics.Snapshot())
}

// observe 记录指标并广播事件
func (a *API) observe(r *http.Request, route string, event monitoring.EventType, status, rows int, start time.Time) {
	elapsed := time.Since(start)
	a.metrics.RecordRequest(route, status, rows, elapsed)
	if a.events == nil {
		return
	}
	a.events.Publish(monitoring.Event{
		Type: event,
		ID:   GetRequestID(r.Context()),
		Data: monitoring.EventData{
			Status:     status,
			Rows:       rows,
			DurationMS: float64(elapsed.Microseconds()) / 1000,
		},
	})
}

// ErrorResponse 错误响应，detail 为字符串或校验问题列表
type ErrorResponse struct {
	Detail any `json:"detail"`
}

// ValidationIssue 请求校验问题
type ValidationIssue struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// respondJSON 写入JSON响应
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError 写入JSON错误响应
func respondError(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, ErrorResponse{Detail: detail})
}

func respondValidation(w http.ResponseWriter, issues []ValidationIssue) {
	respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Detail: issues})
}
