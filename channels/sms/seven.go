// Package sms delivers OTP codes by SMS through the seven.io gateway.
package sms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultEndpoint = "https://gateway.seven.io/api/sms"

var ErrNotConfigured = errors.New("sms: api key missing")

type Config struct {
	APIKey   string
	From     string
	Endpoint string
	// Template must contain exactly one %s for the code.
	Template string
	Timeout  time.Duration
}

// SevenClient implements goOTP.Channel.
type SevenClient struct {
	cfg    Config
	client *http.Client
}

func NewSevenClient(cfg Config) *SevenClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Template == "" {
		cfg.Template = "Your verification code is %s"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SevenClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// SendCode posts the code as form data. seven.io answers 2xx with a numeric
// status body; "100" means accepted.
func (c *SevenClient) SendCode(ctx context.Context, phone, code string) error {
	if c.cfg.APIKey == "" {
		return ErrNotConfigured
	}

	form := url.Values{}
	form.Set("to", phone)
	form.Set("text", fmt.Sprintf(c.cfg.Template, code))
	if c.cfg.From != "" {
		form.Set("from", c.cfg.From)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Api-Key", c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("seven send: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("seven send failed: %d", resp.StatusCode)
	}
	if status := strings.TrimSpace(string(body)); status != "" && status != "100" && status != "101" {
		return fmt.Errorf("seven send rejected: status %s", status)
	}
	return nil
}
