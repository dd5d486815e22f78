package fetch_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"fetch-process/internal/fetch"
)

func TestFetch_UserAgentAndSuccess(t *testing.T) {
	t.Setenv("FETCH_UA", "test-agent/1.0")
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cl, err := fetch.New(fetch.Options{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	resp, err := cl.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if gotUA != "test-agent/1.0" {
		t.Fatalf("user-agent = %q, want %q", gotUA, "test-agent/1.0")
	}
}

func TestFetch_RetryOnStatus(t *testing.T) {
	for _, status := range []int{http.StatusInternalServerError, http.StatusTooManyRequests} {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				w.WriteHeader(status)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))

		cl, err := fetch.New(fetch.Options{Retry: 1, Timeout: 2 * time.Second, Backoff: time.Millisecond})
		if err != nil {
			t.Fatalf("new client: %v", err)
		}
		resp, err := cl.Get(context.Background(), srv.URL)
		if err != nil {
			t.Fatalf("get (%d): %v", status, err)
		}
		_ = resp.Body.Close()
		if n := atomic.LoadInt32(&calls); n != 2 {
			t.Fatalf("status %d: calls = %d, want 2", status, n)
		}
		srv.Close()
	}
}

func TestFetch_NoRetryOnClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":1254045,"msg":"FieldNameNotFound"}`))
	}))
	defer srv.Close()

	cl, _ := fetch.New(fetch.Options{Retry: 3, Backoff: time.Millisecond})
	var out struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	status, err := cl.JSON(context.Background(), http.MethodPost, srv.URL, nil, map[string]string{"a": "b"}, &out)
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if status != http.StatusBadRequest || out.Code != 1254045 {
		t.Fatalf("status=%d code=%d", status, out.Code)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("calls = %d, want 1", n)
	}
	if _, err := cl.Get(context.Background(), srv.URL); err == nil {
		t.Fatal("get should fail on 400")
	}
}

func TestFetch_JSONSendsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json; charset=utf-8" {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		if r.Header.Get("Authorization") != "Bearer t" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"code":0,"msg":"ok"}`))
	}))
	defer srv.Close()

	cl, _ := fetch.New(fetch.Options{})
	var out struct {
		Code int `json:"code"`
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer t")
	status, err := cl.JSON(context.Background(), http.MethodPost, srv.URL, h, map[string]int{"x": 1}, &out)
	if err != nil || status != http.StatusOK || out.Code != 0 {
		t.Fatalf("status=%d err=%v code=%d", status, err, out.Code)
	}
}

func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cl, err := fetch.New(fetch.Options{Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = cl.Get(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFetch_BadProxy(t *testing.T) {
	if _, err := fetch.New(fetch.Options{ProxyHTTP: "://bad"}); err == nil {
		t.Fatal("expected proxy parse error")
	}
}
