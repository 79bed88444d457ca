package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bankpredict/ml"
)

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/health" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer server.Close()

	result, err := New(server.URL+"/", time.Second).Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if result["status"] != "healthy" {
		t.Fatalf("unexpected result: %v", result)
	}
}

func TestPredict(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Write([]byte(`{"prediction":"yes"}`))
	}))
	defer server.Close()

	sample := ml.Sample{Age: 41, Job: "admin.", Pdays: -1}
	result, err := New(server.URL, time.Second).Predict(context.Background(), sample)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if string(result.Prediction) != `"yes"` {
		t.Fatalf("unexpected prediction %s", result.Prediction)
	}
	if len(received) != 16 || received["age"] != float64(41) || received["job"] != "admin." || received["pdays"] != float64(-1) {
		t.Fatalf("unexpected payload: %v", received)
	}
}

func TestPredictBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		content, _ := io.ReadAll(file)
		if header.Filename != "customers.csv" || header.Header.Get("Content-Type") != "text/csv" || string(content) != "a;b\n" {
			t.Errorf("unexpected upload %s %s %q", header.Filename, header.Header.Get("Content-Type"), content)
		}
		w.Write([]byte(`{"predictions":[0,1]}`))
	}))
	defer server.Close()

	result, err := New(server.URL, time.Second).PredictBatch(context.Background(), "customers.csv", "text/csv", strings.NewReader("a;b\n"))
	if err != nil {
		t.Fatalf("PredictBatch: %v", err)
	}
	if len(result.Predictions) != 2 || string(result.Predictions[1]) != "1" {
		t.Fatalf("unexpected predictions: %v", result.Predictions)
	}
}

func TestStatusErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantDetail string
	}{
		{"string detail", http.StatusUnprocessableEntity, `{"detail":"Only CSV files are allowed."}`, "Only CSV files are allowed."},
		{"list detail", http.StatusUnprocessableEntity, `{"detail":[{"loc":["body","age"]}]}`, `[{"loc":["body","age"]}]`},
		{"plain text", http.StatusInternalServerError, "boom\n", "boom"},
		{"empty body", http.StatusBadGateway, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := New(server.URL, time.Second).Predict(context.Background(), ml.Sample{})
			var statusErr *StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("expected StatusError, got %v", err)
			}
			if statusErr.Code != tt.status || statusErr.Detail != tt.wantDetail {
				t.Fatalf("unexpected error: %+v", statusErr)
			}
			if !IsStatus(err, tt.status) {
				t.Fatalf("IsStatus(%d) = false", tt.status)
			}
			if !strings.Contains(err.Error(), server.URL+"/predict") {
				t.Fatalf("error should name the url: %v", err)
			}
		})
	}
}

func TestUnreachableBackend(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := New(url, time.Second).Health(context.Background())
	if err == nil {
		t.Fatal("expected transport error")
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		t.Fatalf("transport failure must not be a StatusError: %v", err)
	}
}
