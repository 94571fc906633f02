package sms

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSendCodePostsForm(t *testing.T) {
	var gotKey, gotTo, gotText, gotFrom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotKey = r.Header.Get("X-Api-Key")
		gotTo = r.PostForm.Get("to")
		gotText = r.PostForm.Get("text")
		gotFrom = r.PostForm.Get("from")
		_, _ = w.Write([]byte("100"))
	}))
	defer srv.Close()

	c := NewSevenClient(Config{APIKey: "k", From: "Shop", Endpoint: srv.URL})
	if err := c.SendCode(context.Background(), "+4915112345678", "123456"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotKey != "k" || gotTo != "+4915112345678" || gotFrom != "Shop" {
		t.Fatalf("unexpected request: key=%q to=%q from=%q", gotKey, gotTo, gotFrom)
	}
	if !strings.Contains(gotText, "123456") {
		t.Fatalf("code missing from text %q", gotText)
	}
}

func TestSendCodeFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"http error", http.StatusInternalServerError, ""},
		{"gateway rejection", http.StatusOK, "201"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewSevenClient(Config{APIKey: "k", Endpoint: srv.URL})
			if err := c.SendCode(context.Background(), "+4915112345678", "123456"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSendCodeRequiresKey(t *testing.T) {
	if err := NewSevenClient(Config{}).SendCode(context.Background(), "+49151", "1"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSendCodeHonoursContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := NewSevenClient(Config{APIKey: "k", Endpoint: srv.URL})
	if err := c.SendCode(ctx, "+4915112345678", "123456"); err == nil {
		t.Fatal("expected cancelled send to fail")
	}
}
