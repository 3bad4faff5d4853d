package httptask

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNew_SuccessfulGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Correlation-ID") == "" {
			t.Error("expected a correlation id header")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	}))
	defer srv.Close()

	fn := New(http.MethodGet, srv.URL)
	ret, err := fn(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	m, ok := ret.(map[string]any)
	if !ok {
		t.Fatalf("expected map result, got %T", ret)
	}
	if m["body"] != "pong" {
		t.Fatalf("expected body pong, got %v", m["body"])
	}
	if m["status_code"] != http.StatusOK {
		t.Fatalf("expected status 200, got %v", m["status_code"])
	}
}

func TestNew_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	fn := New(http.MethodGet, srv.URL)
	_, err := fn(context.Background(), nil, nil)
	if err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}

func TestNew_EmptyURLReadsKwargsURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	fn := New(http.MethodGet, "")
	_, err := fn(context.Background(), nil, map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
}

func TestNew_EmptyURLWithoutKwargsURLErrors(t *testing.T) {
	fn := New(http.MethodGet, "")
	_, err := fn(context.Background(), nil, nil)
	if err == nil {
		t.Fatal("expected an error when neither url nor kwargs url is set")
	}
}

func TestNew_SendsBodyFromKwargs(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	fn := New(http.MethodPost, srv.URL)
	_, err := fn(context.Background(), nil, map[string]any{"body": "payload"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if gotBody != "payload" {
		t.Fatalf("expected request body %q, got %q", "payload", gotBody)
	}
}
