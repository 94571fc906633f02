package mail

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"
)

func TestSendCodeBuildsMessage(t *testing.T) {
	s := NewSMTPSender(Config{Host: "smtp.example.com", From: "shop@example.com", FromName: "Shop", Username: "u", Password: "p"})

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	var gotAuth smtp.Auth
	s.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo, gotMsg = addr, a, from, to, msg
		return nil
	}

	if err := s.SendCode(context.Background(), "guest@example.com", "654321"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotAddr != "smtp.example.com:587" || gotFrom != "shop@example.com" || len(gotTo) != 1 || gotTo[0] != "guest@example.com" {
		t.Fatalf("unexpected envelope: %s %s %v", gotAddr, gotFrom, gotTo)
	}
	if gotAuth == nil {
		t.Fatal("expected plain auth when a username is set")
	}
	msg := string(gotMsg)
	if !strings.Contains(msg, "From: Shop <shop@example.com>\r\n") || !strings.Contains(msg, "654321") {
		t.Fatalf("unexpected message:\n%s", msg)
	}
}

func TestSendCodeErrors(t *testing.T) {
	if err := NewSMTPSender(Config{}).SendCode(context.Background(), "a@b.c", "1"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}

	s := NewSMTPSender(Config{Host: "smtp.example.com", From: "shop@example.com"})
	s.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("550 rejected") }
	if err := s.SendCode(context.Background(), "a@b.c", "1"); err == nil {
		t.Fatal("expected send failure")
	}
}

func TestSendCodeHonoursContext(t *testing.T) {
	s := NewSMTPSender(Config{Host: "smtp.example.com", From: "shop@example.com"})
	release := make(chan struct{})
	defer close(release)
	s.send = func(string, smtp.Auth, string, []string, []byte) error {
		<-release
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.SendCode(ctx, "a@b.c", "1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
