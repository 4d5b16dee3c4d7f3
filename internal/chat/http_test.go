package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPBackendPostsForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != GeneratePath || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("model") != "m" || r.PostForm.Get("max_new_tokens") != "16" || r.PostForm.Get("inputs") != "### User: hi" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"outputs":" Hello"}`))
	}))
	defer srv.Close()

	b := NewHTTPBackend(srv.URL+"/", time.Second)
	out, err := b.Generate(context.Background(), Request{Model: "m", Inputs: "### User: hi", MaxNewTokens: 16})
	if err != nil || out != " Hello" {
		t.Fatalf("Generate=%q, %v", out, err)
	}
}

func TestHTTPBackendErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("case") {
		case "":
			_, _ = w.Write([]byte(`{"ok":false,"traceback":"Traceback: OOM"}`))
		}
	}))
	defer srv.Close()

	b := NewHTTPBackend(srv.URL, time.Second)
	_, err := b.Generate(context.Background(), Request{Model: "m", Inputs: "x"})
	if err == nil || !strings.Contains(err.Error(), "OOM") {
		t.Fatalf("expected traceback error, got %v", err)
	}

	fail := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer fail.Close()
	_, err = NewHTTPBackend(fail.URL, time.Second).Generate(context.Background(), Request{})
	if err == nil || !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "overloaded") {
		t.Fatalf("expected http error, got %v", err)
	}
}

func TestHTTPBackendHonorsContext(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewHTTPBackend(srv.URL, time.Second).Generate(ctx, Request{})
	if err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
