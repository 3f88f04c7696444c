package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Domenick1991/airticket/internal/domain"
	"github.com/Domenick1991/airticket/internal/metrics"
	"github.com/sirupsen/logrus"
)

const maxErrorBody = 4 << 10

// Client is a JSON-over-HTTP client for one external provider. Failures of
// any kind come back as *domain.ExternalProviderError.
type Client struct {
	name    string
	baseURL string
	apiKey  string
	http    *http.Client
	log     logrus.FieldLogger
}

func NewClient(name, baseURL, apiKey string, timeout time.Duration, log logrus.FieldLogger) *Client {
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		log:     log.WithField("provider", name),
	}
}

type request struct {
	operation      string
	method         string
	path           string
	idempotencyKey string
	body           any
}

func (c *Client) do(ctx context.Context, req request, out any) error {
	var body io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", req.operation, err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", req.operation, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if req.idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.idempotencyKey)
	}

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.ProviderLatency.WithLabelValues(c.name, req.operation, "error").Observe(time.Since(started).Seconds())
		c.log.WithError(err).WithField("operation", req.operation).Warn("provider request failed")
		return &domain.ExternalProviderError{Provider: c.name, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()
	metrics.ProviderLatency.WithLabelValues(c.name, req.operation, strconv.Itoa(resp.StatusCode)).Observe(time.Since(started).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		message := errorMessage(raw, resp.Status)
		c.log.WithFields(logrus.Fields{
			"operation": req.operation,
			"status":    resp.StatusCode,
		}).Warn("provider rejected request: " + message)
		return &domain.ExternalProviderError{Provider: c.name, Message: message, StatusCode: resp.StatusCode}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.ExternalProviderError{
			Provider: c.name,
			Message:  "malformed response: " + err.Error(),
			Err:      err,
		}
	}
	return nil
}

// errorMessage pulls a human readable message out of an error body.
func errorMessage(raw []byte, fallback string) string {
	var parsed struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &parsed) == nil {
		switch e := parsed.Error.(type) {
		case string:
			if e != "" {
				return e
			}
		case map[string]any:
			if msg, ok := e["message"].(string); ok && msg != "" {
				return msg
			}
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return fallback
}

// StatusCode returns the upstream HTTP status carried by a provider error, or 0.
func StatusCode(err error) int {
	var perr *domain.ExternalProviderError
	if errors.As(err, &perr) {
		return perr.StatusCode
	}
	return 0
}
