package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"bankpredict/ml"
	"bankpredict/monitoring"
	"bankpredict/pipeline"
)

// SampleRequest 单条预测请求；指针字段用于区分缺失与零值
type SampleRequest struct {
	Age       *int    `json:"age" validate:"required"`
	Job       *string `json:"job" validate:"required"`
	Marital   *string `json:"marital" validate:"required"`
	Education *string `json:"education" validate:"required"`
	Default   *string `json:"default" validate:"required"`
	Balance   *int    `json:"balance" validate:"required"`
	Housing   *string `json:"housing" validate:"required"`
	Loan      *string `json:"loan" validate:"required"`
	Contact   *string `json:"contact" validate:"required"`
	Day       *int    `json:"day" validate:"required"`
	Month     *string `json:"month" validate:"required"`
	Duration  *int    `json:"duration" validate:"required"`
	Campaign  *int    `json:"campaign" validate:"required"`
	Pdays     *int    `json:"pdays" validate:"required"`
	Previous  *int    `json:"previous" validate:"required"`
	Poutcome  *string `json:"poutcome" validate:"required"`
}

// Sample 转换为样本，调用前须通过校验
func (s SampleRequest) Sample() ml.Sample {
	return ml.Sample{
		Age:       *s.Age,
		Job:       *s.Job,
		Marital:   *s.Marital,
		Education: *s.Education,
		Default:   *s.Default,
		Balance:   *s.Balance,
		Housing:   *s.Housing,
		Loan:      *s.Loan,
		Contact:   *s.Contact,
		Day:       *s.Day,
		Month:     *s.Month,
		Duration:  *s.Duration,
		Campaign:  *s.Campaign,
		Pdays:     *s.Pdays,
		Previous:  *s.Previous,
		Poutcome:  *s.Poutcome,
	}
}

// PredictResponse 单条预测响应
type PredictResponse struct {
	Prediction ml.Label `json:"prediction"`
}

// BatchPredictResponse 批量预测响应
type BatchPredictResponse struct {
	Predictions []ml.Label `json:"predictions"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// fields 请求字段名到字段指针的映射，用于逐字段解码
func (s *SampleRequest) fields() map[string]any {
	return map[string]any{
		"age":       &s.Age,
		"job":       &s.Job,
		"marital":   &s.Marital,
		"education": &s.Education,
		"default":   &s.Default,
		"balance":   &s.Balance,
		"housing":   &s.Housing,
		"loan":      &s.Loan,
		"contact":   &s.Contact,
		"day":       &s.Day,
		"month":     &s.Month,
		"duration":  &s.Duration,
		"campaign":  &s.Campaign,
		"pdays":     &s.Pdays,
		"previous":  &s.Previous,
		"poutcome":  &s.Poutcome,
	}
}

// decodeSample 严格解码：先读取JSON对象，再逐字段检查类型，
// 缺失字段由 validator 报告，未知字段一并返回
func decodeSample(body io.Reader) (ml.Sample, []ValidationIssue) {
	var raw json.RawMessage
	decoder := json.NewDecoder(body)
	if err := decoder.Decode(&raw); err != nil {
		return ml.Sample{}, []ValidationIssue{decodeIssue(err)}
	}
	if decoder.More() {
		return ml.Sample{}, []ValidationIssue{{Loc: []string{"body"}, Msg: "unexpected data after JSON object", Type: "json_invalid"}}
	}

	var object map[string]json.RawMessage
	if err := json.Unmarshal(raw, &object); err != nil || object == nil {
		return ml.Sample{}, []ValidationIssue{{Loc: []string{"body"}, Msg: "Input should be a valid dictionary", Type: "model_type"}}
	}

	var req SampleRequest
	targets := req.fields()
	var issues []ValidationIssue
	for name, value := range object {
		target, ok := targets[name]
		if !ok {
			issues = append(issues, ValidationIssue{Loc: []string{"body", name}, Msg: "Extra inputs are not permitted", Type: "extra_forbidden"})
			continue
		}
		if err := json.Unmarshal(value, target); err != nil {
			issues = append(issues, typeIssue(name))
		}
	}

	if err := validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return ml.Sample{}, []ValidationIssue{{Loc: []string{"body"}, Msg: err.Error(), Type: "value_error"}}
		}
		for _, fe := range fieldErrs {
			if _, present := object[fe.Field()]; present && !isNull(object[fe.Field()]) {
				// 类型错误已报告
				continue
			}
			issues = append(issues, ValidationIssue{
				Loc:  []string{"body", fe.Field()},
				Msg:  "Field required",
				Type: "missing",
			})
		}
	}

	if len(issues) > 0 {
		sortIssues(issues)
		return ml.Sample{}, issues
	}
	return req.Sample(), nil
}

func isNull(value json.RawMessage) bool {
	return string(bytes.TrimSpace(value)) == "null"
}

func typeIssue(name string) ValidationIssue {
	loc := []string{"body", name}
	for _, c := range ml.SampleSchema() {
		if c.Name == name && c.Kind == ml.KindInt {
			return ValidationIssue{Loc: loc, Msg: "Input should be a valid integer", Type: "int_type"}
		}
	}
	return ValidationIssue{Loc: loc, Msg: "Input should be a valid string", Type: "string_type"}
}

// sortIssues 按样本字段顺序排列，未知字段按名称排在最后
func sortIssues(issues []ValidationIssue) {
	order := make(map[string]int)
	for i, name := range ml.SampleColumns() {
		order[name] = i
	}
	rank := func(issue ValidationIssue) (int, string) {
		name := issue.Loc[len(issue.Loc)-1]
		if i, ok := order[name]; ok {
			return i, name
		}
		return len(order), name
	}
	sort.Slice(issues, func(i, j int) bool {
		ri, ni := rank(issues[i])
		rj, nj := rank(issues[j])
		if ri != rj {
			return ri < rj
		}
		return ni < nj
	})
}

func decodeIssue(err error) ValidationIssue {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return ValidationIssue{Loc: []string{"body"}, Msg: fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit), Type: "too_large"}
	case errors.Is(err, io.EOF):
		return ValidationIssue{Loc: []string{"body"}, Msg: "Field required", Type: "missing"}
	default:
		return ValidationIssue{Loc: []string{"body"}, Msg: "JSON decode error: " + err.Error(), Type: "json_invalid"}
	}
}

func (a *API) handlePredict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := GetRequestID(r.Context())

	sample, issues := decodeSample(r.Body)
	if issues != nil {
		a.observe(r, "/predict", monitoring.EventPredict, http.StatusUnprocessableEntity, 0, start)
		respondValidation(w, issues)
		return
	}

	labels, err := a.model.Predict(r.Context(), ml.SamplesFrame([]ml.Sample{sample}))
	if err == nil && len(labels) == 0 {
		err = errors.New("model returned no prediction")
	}
	if err != nil {
		a.logger.Error("predict failed", zap.String("request_id", requestID), zap.Error(err))
		a.observe(r, "/predict", monitoring.EventPredict, http.StatusInternalServerError, 1, start)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	a.observe(r, "/predict", monitoring.EventPredict, http.StatusOK, 1, start)
	respondJSON(w, http.StatusOK, PredictResponse{Prediction: labels[0]})
}

func (a *API) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := GetRequestID(r.Context())
	fail := func(status int, rows int, detail any) {
		a.observe(r, "/predict_batch", monitoring.EventPredictBatch, status, rows, start)
		respondJSON(w, status, ErrorResponse{Detail: detail})
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			fail(http.StatusRequestEntityTooLarge, 0, fmt.Sprintf("upload exceeds %d bytes", maxErr.Limit))
			return
		}
		fail(http.StatusUnprocessableEntity, 0, []ValidationIssue{{
			Loc:  []string{"body", "file"},
			Msg:  "Field required",
			Type: "missing",
		}})
		return
	}
	defer file.Close()

	// 只检查文件名后缀，不做内容嗅探
	if !strings.HasSuffix(header.Filename, ".csv") {
		fail(http.StatusUnprocessableEntity, 0, "Only CSV files are allowed.")
		return
	}

	samples, err := pipeline.ParseBatch(file, a.batch)
	if err != nil {
		a.logger.Error("parse batch failed",
			zap.String("request_id", requestID),
			zap.String("filename", header.Filename),
			zap.Error(err),
		)
		fail(http.StatusInternalServerError, 0, err.Error())
		return
	}

	labels, err := a.model.Predict(r.Context(), ml.SamplesFrame(samples))
	if err == nil && len(labels) != len(samples) {
		err = fmt.Errorf("model returned %d predictions for %d rows", len(labels), len(samples))
	}
	if err != nil {
		a.logger.Error("batch predict failed",
			zap.String("request_id", requestID),
			zap.Int("rows", len(samples)),
			zap.Error(err),
		)
		fail(http.StatusInternalServerError, len(samples), err.Error())
		return
	}

	if labels == nil {
		labels = []ml.Label{}
	}
	a.logger.Debug("batch predicted", zap.String("request_id", requestID), zap.Int("rows", len(samples)))
	a.observe(r, "/predict_batch", monitoring.EventPredictBatch, http.StatusOK, len(samples), start)
	respondJSON(w, http.StatusOK, BatchPredictResponse{Predictions: labels})
}
