// Package mailer sends job outcome emails through an HTTP transactional
// email API.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quietcut/quietcut/internal/notify"
)

// Config captures the mail API connection details.
type Config struct {
	// Endpoint is the send-message URL of the mail API.
	Endpoint string
	APIKey   string
	// From is the sender address, e.g. "QuietCut <no-reply@quietcut.app>".
	From       string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
}

// Client delivers job outcome emails over the mail API.
type Client struct {
	endpoint   string
	apiKey     string
	from       string
	retryLimit int
	client     *http.Client
}

var _ notify.Mailer = (*Client)(nil)

// NewClient builds a mail API client. Callers should pass a validated config.
func NewClient(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("mailer endpoint is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("mailer api key is required")
	}
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		return nil, errors.New("mailer from address is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	retries := cfg.RetryLimit
	if retries < 0 {
		retries = 0
	}

	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		endpoint:   endpoint,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		from:       from,
		retryLimit: retries,
		client:     hc,
	}, nil
}

type message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// SendJobCompleted emails the owner a download link for the finished clip.
func (c *Client) SendJobCompleted(ctx context.Context, email notify.JobCompletedEmail) error {
	if strings.TrimSpace(email.To) == "" {
		return errors.New("recipient address is required")
	}

	text := strings.Builder{}
	fmt.Fprintf(&text, "Your video %q is ready.\n\n", email.Filename)
	fmt.Fprintf(&text, "Download it here: %s\n", email.DownloadURL)
	if !email.ExpiresAt.IsZero() {
		fmt.Fprintf(&text, "The link expires at %s.\n", email.ExpiresAt.UTC().Format(time.RFC1123))
	}
	if email.DurationSeconds != nil {
		fmt.Fprintf(&text, "\nFinal duration: %s.\n", formatDuration(*email.DurationSeconds))
	}

	return c.send(ctx, message{
		From:    c.from,
		To:      email.To,
		Subject: fmt.Sprintf("Your video %q is ready", email.Filename),
		Text:    text.String(),
	})
}

// SendJobFailed emails the owner that processing failed and the credit came back.
func (c *Client) SendJobFailed(ctx context.Context, email notify.JobFailedEmail) error {
	if strings.TrimSpace(email.To) == "" {
		return errors.New("recipient address is required")
	}

	text := strings.Builder{}
	fmt.Fprintf(&text, "We could not process your video %q.\n\n", email.Filename)
	if email.Reason != "" {
		fmt.Fprintf(&text, "Reason: %s\n\n", email.Reason)
	}
	text.WriteString("The credit for this job has been returned to your account.\n")

	return c.send(ctx, message{
		From:    c.from,
		To:      email.To,
		Subject: fmt.Sprintf("Processing failed for %q", email.Filename),
		Text:    text.String(),
	})
}

func (c *Client) send(ctx context.Context, msg message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode mail payload: %w", err)
	}

	attempts := c.retryLimit + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err = c.post(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < attempts-1 {
			delay := time.Duration(attempt+1) * 200 * time.Millisecond
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				if !timer.Stop() {
					<-timer.C
				}
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	return lastErr
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("mail request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("read mail error response: %w", readErr)
		}
		return fmt.Errorf("mail api %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func formatDuration(seconds int) string {
	d := time.Duration(seconds) * time.Second
	if d < time.Minute {
		return fmt.Sprintf("%ds", seconds)
	}
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), seconds%60)
}
