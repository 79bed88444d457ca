package ui

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	svchttp "bankpredict/http"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// maxUploadMemory 批量文件在内存中保留的上限
const maxUploadMemory = 32 << 20

// FieldView 表单字段的展示状态
type FieldView struct {
	Field
	Value   string
	Problem string
}

type pageData struct {
	BackendURL string
	Fields     []FieldView
	Health     *ActionResult
	Prediction *ActionResult
	Batch      *ActionResult
	Recent     []ActionResult
}

// Handler 界面路由
type Handler struct {
	app        *App
	backendURL string
	logger     *zap.Logger
}

// NewHandler 创建界面路由，包装请求ID、日志与恢复中间件
func NewHandler(app *App, backendURL string, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{app: app, backendURL: backendURL, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("POST /health", h.handleHealth)
	mux.HandleFunc("POST /predict", h.handlePredict)
	mux.HandleFunc("POST /predict_batch", h.handlePredictBatch)

	chain := svchttp.Chain(
		svchttp.RecoveryMiddleware(logger),
		svchttp.RequestIDMiddleware,
		svchttp.LoggerMiddleware(logger),
		svchttp.SecurityHeadersMiddleware,
	)
	return chain(mux)
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	h.render(w, pageData{Fields: fieldViews(nil, nil)})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	result := h.app.CheckHealth(r.Context())
	h.render(w, pageData{Fields: fieldViews(nil, nil), Health: &result})
}

func (h *Handler) handlePredict(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result := h.app.Predict(r.Context(), r.PostForm)
	h.render(w, pageData{Fields: fieldViews(r.PostForm, result.Problems), Prediction: &result})
}

func (h *Handler) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	upload, err := readUpload(r)
	if err != nil {
		h.logger.Warn("read upload failed", zap.String("request_id", svchttp.GetRequestID(r.Context())), zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result := h.app.PredictBatch(r.Context(), upload)
	h.render(w, pageData{Fields: fieldViews(nil, nil), Batch: &result})
}

// readUpload 读取 file 字段；未选择文件时返回 nil
func readUpload(r *http.Request) (*Upload, error) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, fmt.Errorf("parse upload: %w", err)
	}
	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return &Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func (h *Handler) render(w http.ResponseWriter, data pageData) {
	data.BackendURL = h.backendURL
	data.Recent = h.app.Recent()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, data); err != nil {
		h.logger.Error("render page failed", zap.Error(err))
	}
}

func fieldViews(values map[string][]string, problems map[string]string) []FieldView {
	views := make([]FieldView, 0, len(sampleFields))
	for _, f := range sampleFields {
		value := f.Default
		if v, ok := values[f.Name]; ok && len(v) > 0 {
			value = v[0]
		}
		views = append(views, FieldView{Field: f, Value: value, Problem: problems[f.Name]})
	}
	return views
}

// Server 界面HTTP服务器
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// NewServer 创建界面服务器
func NewServer(addr string, handler http.Handler, timeout time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			// 写超时需要覆盖一次完整的服务调用
			WriteTimeout: 2 * timeout,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger,
	}
}

// Start 启动服务器，阻塞直到关闭
func (s *Server) Start() error {
	s.logger.Info("starting UI server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ui server failed: %w", err)
	}
	return nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
