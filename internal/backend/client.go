package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/scoreslip/internal/apperr"
	"github.com/example/scoreslip/internal/logging"
)

// TimeoutClass selects the deadline of a backend call.
type TimeoutClass int

const (
	// Interactive calls back a user waiting on the page.
	Interactive TimeoutClass = iota
	// Extended calls cover coefficient-enriched and batch work.
	Extended
)

const maxResponseBytes = 8 << 20

// Config configures a Client.
type Config struct {
	BaseURL            string
	InteractiveTimeout time.Duration
	ExtendedTimeout    time.Duration
	HTTPClient         *http.Client
}

// Client talks to the prediction backend. Every call is bounded by the
// deadline of its TimeoutClass and fails with an apperr type.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	interactive time.Duration
	extended    time.Duration
	logger      *zap.Logger
}

// NewClient builds a Client. Zero timeouts fall back to 60s and 120s.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	interactive := cfg.InteractiveTimeout
	if interactive <= 0 {
		interactive = 60 * time.Second
	}
	extended := cfg.ExtendedTimeout
	if extended <= 0 {
		extended = 120 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient:  httpClient,
		interactive: interactive,
		extended:    extended,
		logger:      logger.Named("backend_client"),
	}
}

// Timeout returns the deadline applied to calls of class.
func (c *Client) Timeout(class TimeoutClass) time.Duration {
	if class == Extended {
		return c.extended
	}
	return c.interactive
}

type requestBuilder func(ctx context.Context) (*http.Request, error)

// do runs one request under the class deadline and decodes a JSON reply
// into out. out may be nil or a *json.RawMessage.
func (c *Client) do(ctx context.Context, operation string, class TimeoutClass, build requestBuilder, out interface{}) error {
	timeout := c.Timeout(class)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := build(callCtx)
	if err != nil {
		return err
	}

	opLogger := logging.WithOperation(c.logger, operation, "")
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		classified := classify(operation, timeout, callCtx, err)
		opLogger.Warn("backend call failed", zap.Error(classified), zap.Duration("elapsed", time.Since(start)))
		return classified
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		classified := classify(operation, timeout, callCtx, err)
		opLogger.Warn("failed to read backend response", zap.Error(classified))
		return classified
	}

	opLogger.Debug("backend call completed",
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apperr.TransportError{
			Operation:      operation,
			StatusCode:     resp.StatusCode,
			BackendMessage: envelopeOf(body).Error,
			Err:            fmt.Errorf("unexpected status code %d", resp.StatusCode),
		}
	}

	if env := envelopeOf(body); env.failed() {
		return &apperr.BackendReportedError{Operation: operation, Message: env.Error}
	}

	if out == nil {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		if len(body) == 0 {
			*raw = json.RawMessage("null")
			return nil
		}
		if !json.Valid(body) {
			return &apperr.TransportError{Operation: operation, StatusCode: resp.StatusCode, Err: errors.New("response is not valid JSON")}
		}
		*raw = append((*raw)[:0], body...)
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &apperr.TransportError{Operation: operation, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// envelope holds the failure markers any backend payload may carry.
type envelope struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
}

func (e envelope) failed() bool {
	return (e.Success != nil && !*e.Success) || e.Error != ""
}

// envelopeOf ignores bodies that are not JSON objects.
func envelopeOf(body []byte) envelope {
	var env envelope
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "{") {
		return env
	}
	_ = json.Unmarshal(body, &env)
	return env
}

func classify(operation string, timeout time.Duration, callCtx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return &apperr.TimeoutError{Operation: operation, Timeout: timeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &apperr.TimeoutError{Operation: operation, Timeout: timeout, Err: err}
	}
	return &apperr.TransportError{Operation: operation, Err: err}
}

func (c *Client) url(path string) string {
	return c.baseURL + path
}

func getRequest(target string) requestBuilder {
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}
}

func bodylessRequest(method, target string) requestBuilder {
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, target, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}
}
