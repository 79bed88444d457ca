package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"bankpredict/config"
	"bankpredict/ml"
	"bankpredict/monitoring"
	"bankpredict/pipeline"
)

const defaultSampleJSON = `{"age":30,"job":"unemployed","marital":"single","education":"primary","default":"no","balance":0,"housing":"no","loan":"no","contact":"cellular","day":1,"month":"jan","duration":180,"campaign":1,"pdays":-1,"previous":0,"poutcome":"nonexistent"}`

const batchHeader = "age;job;marital;education;default;balance;housing;loan;contact;day;month;duration;campaign;pdays;previous;poutcome"

type fakeModel struct {
	calls  atomic.Int64
	labels []ml.Label
	err    error
}

func (f *fakeModel) Predict(ctx context.Context, frame ml.Frame) ([]ml.Label, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.labels, nil
}

func loadModel(t *testing.T) *ml.ModelPipeline {
	t.Helper()
	model, err := ml.LoadModel("../testdata/model")
	if err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	return model
}

func newTestHandler(model ml.Predictor) http.Handler {
	api := NewAPI(APIConfig{Model: model, Batch: pipeline.DefaultBatchOptions()})
	return NewHandler(api, config.Default().HTTP, nil)
}

func multipartRequest(t *testing.T, field, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/predict_batch", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid json %q: %v", rr.Body.String(), err)
	}
}

func TestHealthHandler(t *testing.T) {
	req, err := http.NewRequest("GET", "/health", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	newTestHandler(&fakeModel{err: errors.New("model is not consulted")}).ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}

	expected := `{"status":"healthy"}`
	if rr.Body.String() != expected+"\n" {
		t.Errorf("handler returned unexpected body: got %v want %v", rr.Body.String(), expected)
	}
	if rr.Header().Get(RequestIDHeader) == "" {
		t.Error("expected request id header")
	}
}

func TestHandlePredict(t *testing.T) {
	handler := newTestHandler(loadModel(t))

	var first string
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(defaultSampleJSON))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var payload map[string]json.RawMessage
		decodeBody(t, rr, &payload)
		if len(payload) != 1 {
			t.Fatalf("expected exactly one key, got %v", payload)
		}
		if string(payload["prediction"]) != `"no"` {
			t.Fatalf("unexpected prediction: %s", payload["prediction"])
		}
		if i == 0 {
			first = rr.Body.String()
		} else if rr.Body.String() != first {
			t.Fatalf("prediction changed between calls: %s vs %s", first, rr.Body.String())
		}
	}
}

func TestHandlePredictValidation(t *testing.T) {
	model := &fakeModel{labels: []ml.Label{ml.Label(`1`)}}
	handler := newTestHandler(model)

	tests := []struct {
		name     string
		body     string
		wantLoc  string
		wantType string
	}{
		{"missing field", strings.Replace(defaultSampleJSON, `"age":30,`, "", 1), "age", "missing"},
		{"null field", strings.Replace(defaultSampleJSON, `"age":30`, `"age":null`, 1), "age", "missing"},
		{"unknown field", strings.Replace(defaultSampleJSON, `"age":30`, `"age":30,"y":"no"`, 1), "y", "extra_forbidden"},
		{"string for int", strings.Replace(defaultSampleJSON, `"age":30`, `"age":"30"`, 1), "age", "int_type"},
		{"float for int", strings.Replace(defaultSampleJSON, `"age":30`, `"age":30.5`, 1), "age", "int_type"},
		{"int for string", strings.Replace(defaultSampleJSON, `"job":"unemployed"`, `"job":7`, 1), "job", "string_type"},
		{"malformed", `{"age":`, "", "json_invalid"},
		{"empty body", ``, "", "missing"},
		{"array", `[]`, "", "model_type"},
		{"trailing data", defaultSampleJSON + `{}`, "", "json_invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusUnprocessableEntity {
				t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
			}
			var payload struct {
				Detail []ValidationIssue `json:"detail"`
			}
			decodeBody(t, rr, &payload)
			if len(payload.Detail) == 0 {
				t.Fatalf("expected validation issues: %s", rr.Body.String())
			}
			issue := payload.Detail[0]
			if issue.Type != tt.wantType {
				t.Fatalf("expected type %s, got %+v", tt.wantType, issue)
			}
			if tt.wantLoc != "" && (len(issue.Loc) != 2 || issue.Loc[1] != tt.wantLoc) {
				t.Fatalf("expected loc [body %s], got %v", tt.wantLoc, issue.Loc)
			}
		})
	}

	if calls := model.calls.Load(); calls != 0 {
		t.Fatalf("model must not be called for invalid input, got %d calls", calls)
	}
}

func TestHandlePredictReportsEveryIssue(t *testing.T) {
	model := &fakeModel{}
	body := strings.NewReplacer(
		`"age":30`, `"age":"x"`,
		`"balance":0`, `"balance":"y"`,
		`"job":"unemployed",`, ``,
		`"month":"jan"`, `"month":null`,
		`"poutcome":"nonexistent"`, `"poutcome":"nonexistent","Age":1,"extra":true`,
	).Replace(defaultSampleJSON)

	rr := httptest.NewRecorder()
	newTestHandler(model).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(body)))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
	}

	var payload struct {
		Detail []ValidationIssue `json:"detail"`
	}
	decodeBody(t, rr, &payload)

	want := []struct{ field, kind string }{
		{"age", "int_type"},
		{"job", "missing"},
		{"balance", "int_type"},
		{"month", "missing"},
		{"Age", "extra_forbidden"},
		{"extra", "extra_forbidden"},
	}
	if len(payload.Detail) != len(want) {
		t.Fatalf("expected %d issues, got %+v", len(want), payload.Detail)
	}
	for i, w := range want {
		issue := payload.Detail[i]
		if len(issue.Loc) != 2 || issue.Loc[1] != w.field || issue.Type != w.kind {
			t.Fatalf("issue %d: expected %s/%s, got %+v", i, w.field, w.kind, issue)
		}
	}
	if calls := model.calls.Load(); calls != 0 {
		t.Fatalf("model must not be called, got %d calls", calls)
	}
}

func TestHandlePredictZeroValues(t *testing.T) {
	handler := newTestHandler(&fakeModel{labels: []ml.Label{ml.Label(`0`)}})
	body := strings.Replace(defaultSampleJSON, `"age":30`, `"age":0`, 1)
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(body))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("zero is a present value, expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if strings.TrimSpace(rr.Body.String()) != `{"prediction":0}` {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestHandlePredictInferenceError(t *testing.T) {
	handler := newTestHandler(&fakeModel{err: errors.New("could not convert string to float")})
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(defaultSampleJSON))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var payload ErrorResponse
	decodeBody(t, rr, &payload)
	if payload.Detail != "could not convert string to float" {
		t.Fatalf("unexpected detail: %v", payload.Detail)
	}
}

func TestHandlePredictBatch(t *testing.T) {
	handler := newTestHandler(loadModel(t))
	short := "30;unemployed;single;primary;no;0;no;no;cellular;1;jan;180;1;-1;0;nonexistent"
	long := "30;unemployed;single;primary;no;0;no;no;cellular;1;jan;900;1;-1;0;nonexistent"

	tests := []struct {
		name string
		rows []string
		want string
	}{
		{"header only", nil, `[]`},
		{"one row", []string{short}, `["no"]`},
		{"ordered rows", []string{long, short, short, long}, `["yes","no","no","yes"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := batchHeader + "\n"
			for _, row := range tt.rows {
				content += row + "\n"
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, multipartRequest(t, "file", "customers.csv", content))

			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
			}
			var payload map[string]json.RawMessage
			decodeBody(t, rr, &payload)
			if string(payload["predictions"]) != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, payload["predictions"])
			}
		})
	}
}

func TestHandlePredictBatchRejectsNonCSV(t *testing.T) {
	model := &fakeModel{labels: []ml.Label{}}
	handler := newTestHandler(model)

	for _, name := range []string{"data.txt", "data", "data.CSV", "data.csv.txt"} {
		t.Run(name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, multipartRequest(t, "file", name, "not even parsed"))

			if rr.Code != http.StatusUnprocessableEntity {
				t.Fatalf("expected 422, got %d", rr.Code)
			}
			var payload ErrorResponse
			decodeBody(t, rr, &payload)
			if payload.Detail != "Only CSV files are allowed." {
				t.Fatalf("unexpected detail: %v", payload.Detail)
			}
		})
	}
	if calls := model.calls.Load(); calls != 0 {
		t.Fatalf("model must not be called, got %d calls", calls)
	}
}

func TestHandlePredictBatchMissingFile(t *testing.T) {
	handler := newTestHandler(&fakeModel{})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, multipartRequest(t, "upload", "data.csv", batchHeader))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for wrong field, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/predict_batch", strings.NewReader("{}")))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for non-multipart body, got %d", rr.Code)
	}
}

func TestHandlePredictBatchServerErrors(t *testing.T) {
	tests := []struct {
		name    string
		model   ml.Predictor
		content string
	}{
		{"empty file", loadModel(t), ""},
		{"unknown column", loadModel(t), batchHeader + ";y\n"},
		{"malformed row", loadModel(t), batchHeader + "\nthirty;unemployed\n"},
		{"invalid utf-8", loadModel(t), batchHeader + "\n30;unemp\xffloyed;single;primary;no;0;no;no;cellular;1;jan;180;1;-1;0;nonexistent\n"},
		{"model rejects batch", &fakeModel{err: ml.ErrUnknownColumns}, batchHeader + "\n"},
		{"model drops rows", &fakeModel{labels: []ml.Label{}}, batchHeader + "\n30;unemployed;single;primary;no;0;no;no;cellular;1;jan;180;1;-1;0;nonexistent\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			newTestHandler(tt.model).ServeHTTP(rr, multipartRequest(t, "file", "data.csv", tt.content))
			if rr.Code != http.StatusInternalServerError {
				t.Fatalf("expected 500, got %d: %s", rr.Code, rr.Body.String())
			}
			var payload ErrorResponse
			decodeBody(t, rr, &payload)
			if payload.Detail == nil || payload.Detail == "" {
				t.Fatalf("expected error detail, got %s", rr.Body.String())
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	handler := newTestHandler(loadModel(t))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(defaultSampleJSON)))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader("{")))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var snapshot monitoring.MetricsSnapshot
	decodeBody(t, rr, &snapshot)
	stats := snapshot.Routes["/predict"]
	if stats.Requests != 2 || stats.Errors != 1 || stats.Rows != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestHandler(&fakeModel{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/predict", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestEventsFeed(t *testing.T) {
	hub := monitoring.NewWebSocketHub(nil)
	go hub.Start()
	defer hub.Stop()

	api := NewAPI(APIConfig{Model: loadModel(t), Events: hub})
	server := httptest.NewServer(NewHandler(api, config.Default().HTTP, nil))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Post(server.URL+"/predict", "application/json", strings.NewReader(defaultSampleJSON))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	requestID := resp.Header.Get(RequestIDHeader)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var event monitoring.Event
	if err := json.Unmarshal(message, &event); err != nil {
		t.Fatalf("invalid event: %v", err)
	}
	if event.Type != monitoring.EventPredict || event.ID != requestID || event.Data.Status != http.StatusOK {
		t.Fatalf("unexpected event: %+v (request id %s)", event, requestID)
	}
	if strings.Contains(string(message), "prediction") {
		t.Fatalf("event must not carry predictions: %s", message)
	}
}
