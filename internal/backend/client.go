// Package backend wraps the remote intake API: one call to start an
// interview, one long-running call to turn its transcript into a summary
// and clinical analysis, and a reachability probe.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"medintake/internal/domain"
	"medintake/internal/faults"
)

// Config controls the backend client.
type Config struct {
	BaseURL string
	// RequestTimeout bounds health and initiate-intake calls.
	RequestTimeout time.Duration
	// SubmitTimeout bounds submit-transcript; summarization is slow.
	SubmitTimeout time.Duration
	MaxAttempts   int
	RetryBase     time.Duration
}

// Client implements ports.IntakeAPI over HTTP/JSON.
type Client struct {
	cfg  Config
	http *http.Client
	log  logrus.FieldLogger
}

func NewClient(cfg Config, log logrus.FieldLogger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 20 * time.Second
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 3 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	return &Client{cfg: cfg, http: &http.Client{}, log: log}
}

// Health probes backend reachability. It is a connectivity check only;
// application logic never depends on it.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.doJSON(ctx, http.MethodGet, "/health", nil, nil, c.cfg.RequestTimeout)
	return err
}

// InitiateIntake obtains a fresh call identity for one interview.
func (c *Client) InitiateIntake(ctx context.Context) (domain.CallSession, error) {
	body, err := c.doJSON(ctx, http.MethodPost, "/api/v1/initiate-intake", nil, nil, c.cfg.RequestTimeout)
	if err != nil {
		return domain.CallSession{}, err
	}

	var call domain.CallSession
	if err := json.Unmarshal(body, &call); err != nil {
		return domain.CallSession{}, fmt.Errorf("initiate-intake: %w: %v", faults.ErrInvalidResponse, err)
	}
	if strings.TrimSpace(call.JoinURL) == "" || strings.TrimSpace(call.CallID) == "" {
		return domain.CallSession{}, fmt.Errorf("initiate-intake: %w: joinUrl or callId absent", faults.ErrInvalidResponse)
	}
	return call, nil
}

// SubmitTranscript sends the finished transcript for summarization. A
// missing summary or analysis is normalized to null; only both absent is
// treated as an invalid response. The request ID stays stable across
// retries so the backend can deduplicate.
func (c *Client) SubmitTranscript(ctx context.Context, callID string, transcriptText string) (domain.IntakeResult, error) {
	payload := map[string]string{"callId": callID, "transcript": transcriptText}
	headers := map[string]string{
		"X-Request-ID": fmt.Sprintf("%s-%d", callID, time.Now().UnixMilli()),
	}

	body, err := c.doJSON(ctx, http.MethodPost, "/api/v1/submit-transcript", payload, headers, c.cfg.SubmitTimeout)
	if err != nil {
		return domain.IntakeResult{}, err
	}

	var result domain.IntakeResult
	if err := json.Unmarshal(body, &result); err != nil {
		return domain.IntakeResult{}, fmt.Errorf("submit-transcript: %w: %v", faults.ErrInvalidResponse, err)
	}
	if result.Summary == nil && result.Analysis == nil {
		return domain.IntakeResult{}, fmt.Errorf("submit-transcript: %w: summary and analysis both absent", faults.ErrInvalidResponse)
	}
	return result, nil
}

func (c *Client) doJSON(
	ctx context.Context,
	method string,
	path string,
	payload any,
	headers map[string]string,
	timeout time.Duration,
) ([]byte, error) {
	var encoded []byte
	if payload != nil {
		var err error
		encoded, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		body, retryable, err := c.once(ctx, method, path, encoded, headers, timeout)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable || attempt == c.cfg.MaxAttempts {
			break
		}

		delay := c.cfg.RetryBase << (attempt - 1)
		if c.log != nil {
			c.log.WithFields(logrus.Fields{
				"path":    path,
				"attempt": attempt,
				"delay":   delay.String(),
			}).WithError(err).Warn("backend request failed, retrying")
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// once performs one attempt and reports whether a failure is retryable:
// network errors, 5xx and 429 are; other 4xx are not.
func (c *Client) once(
	ctx context.Context,
	method string,
	path string,
	encoded []byte,
	headers map[string]string,
	timeout time.Duration,
) ([]byte, bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reqBody io.Reader
	if encoded != nil {
		reqBody = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.cfg.BaseURL+path, reqBody)
	if err != nil {
		return nil, false, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &faults.StatusError{Status: resp.StatusCode, Detail: errorDetail(body)}
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, retryable, statusErr
	}
	return body, false, nil
}

// errorDetail extracts FastAPI's {"detail": ...} shape, falling back to
// the raw body.
func errorDetail(body []byte) string {
	var wrapped struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && len(wrapped.Detail) > 0 {
		var text string
		if err := json.Unmarshal(wrapped.Detail, &text); err == nil {
			return text
		}
		return string(wrapped.Detail)
	}
	return strings.TrimSpace(string(body))
}
