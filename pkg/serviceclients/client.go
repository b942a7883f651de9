// Package serviceclients implements C1: a dedicated client per downstream
// service (Project, Backlog, Sprint, Chronicle), each wrapped in its own
// circuit breaker, plus the Kubernetes control-plane client used to manage
// CronJobs. Every client follows the same call shape as the teacher's
// pkg/ai REST clients (JSON over net/http), generalized with a shared
// breaker+retry wrapper instead of being duplicated per provider.
package serviceclients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agilecore/orchestrator-core/internal/errors"
	"github.com/agilecore/orchestrator-core/internal/resilience"
	"github.com/agilecore/orchestrator-core/internal/telemetry"
)

// HTTPClient is the common transport every service client shares: breaker
// protection, bounded retry, and a JSON request/response helper.
type HTTPClient struct {
	name    string
	baseURL string
	client  *http.Client
	breaker *resilience.Breaker
	retry   resilience.RetryConfig
	logger  telemetry.Logger
}

func NewHTTPClient(name, baseURL string, cbCfg resilience.Config, logger telemetry.Logger) *HTTPClient {
	cbCfg.Name = name
	return &HTTPClient{
		name:    name,
		baseURL: baseURL,
		client:  &http.Client{Timeout: cbCfg.RequestTimeout},
		breaker: resilience.New(cbCfg),
		retry:   resilience.DefaultRetryConfig(),
		logger:  logger.WithComponent("serviceclients/" + name),
	}
}

// BreakerState exposes the underlying breaker state for health checks.
func (c *HTTPClient) BreakerState() resilience.State { return c.breaker.State() }

// doJSON performs method against path with body marshaled as JSON (nil for
// none), decoding the response into out (nil to discard). A 404 maps to
// errors.ErrNotFound (spec.md §6: "404 from project lookup returns None
// rather than an error"); 4xx otherwise maps to ErrInvalidInput/ErrConflict;
// 5xx and transport failures are retryable and count toward the breaker.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, c.retry, func(ctx context.Context) error {
			return c.attempt(ctx, method, path, body, out)
		})
	})
}

func (c *HTTPClient) attempt(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", c.name, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("service call transport error", map[string]interface{}{"path": path, "error": err.Error()})
		return fmt.Errorf("%s %s: %w", c.name, path, errors.ErrConnectionFailed)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", c.name, path, errors.ErrNotFound)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%s %s: %w", c.name, path, errors.ErrConflict)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%s %s: status %d: %w", c.name, path, resp.StatusCode, errors.ErrInvalidInput)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%s %s: status %d: %w", c.name, path, resp.StatusCode, errors.ErrConnectionFailed)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", c.name, path, errors.ErrMalformedRecord)
	}
	return nil
}

// defaultBreakerConfig builds a breaker config from the shared defaults with
// the request timeout, error ratio, monitor window and broken time
// overridden; the name is left empty (NewHTTPClient sets it).
func defaultBreakerConfig(requestTimeout time.Duration, errorRatio float64, monitorWindow, brokenTime time.Duration) resilience.Config {
	cfg := resilience.DefaultConfig("")
	cfg.RequestTimeout = requestTimeout
	cfg.ErrorRatio = errorRatio
	cfg.MonitorWindow = monitorWindow
	cfg.BrokenTime = brokenTime
	return cfg
}
