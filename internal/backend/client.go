// Package backend is the HTTP client for the portfolio backend REST API, which
// owns holdings data and the report-generation job queue.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/kiranshivaraju/folio/pkg/models"
	"golang.org/x/time/rate"
)

// Sentinel errors for backend client failures.
var (
	ErrBackendUnreachable = errors.New("backend unreachable")
	ErrBackendResponse    = errors.New("backend error response")
	ErrBackendTimeout     = errors.New("backend request timeout")
	ErrJobNotFound        = errors.New("report job not found")
)

// Client is the interface for talking to the portfolio backend.
type Client interface {
	GetReportJob(ctx context.Context, jobID string) (*models.Job, error)
	CreateReportJob(ctx context.Context, req models.ReportRequest) (*models.Job, error)
	ListHoldings(ctx context.Context, entity string) ([]models.Holding, error)
	Ready(ctx context.Context) error
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithRateLimit caps outbound requests per second. Zero or less disables the limiter.
func WithRateLimit(perSecond float64) Option {
	return func(c *HTTPClient) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.client = hc }
}

// HTTPClient implements Client over the backend's JSON API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPClient creates a new backend HTTP client.
func NewHTTPClient(baseURL, token string, timeout time.Duration, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) GetReportJob(ctx context.Context, jobID string) (*models.Job, error) {
	u := fmt.Sprintf("%s/api/v1/reports/jobs/%s", c.baseURL, url.PathEscape(jobID))

	resp, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrBackendResponse, resp.StatusCode)
	}

	var job models.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("decoding job response: %w", err)
	}
	return &job, nil
}

func (c *HTTPClient) CreateReportJob(ctx context.Context, req models.ReportRequest) (*models.Job, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding report request: %w", err)
	}

	u := fmt.Sprintf("%s/api/v1/reports/jobs", c.baseURL)
	resp, err := c.do(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("%w: status %d", ErrBackendResponse, resp.StatusCode)
	}

	var job models.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("decoding job response: %w", err)
	}
	if job.ID == "" {
		return nil, fmt.Errorf("%w: job id missing", ErrBackendResponse)
	}
	return &job, nil
}

func (c *HTTPClient) ListHoldings(ctx context.Context, entity string) ([]models.Holding, error) {
	u := fmt.Sprintf("%s/api/v1/portfolio/holdings", c.baseURL)
	if entity != "" {
		u += "?" + url.Values{"entity": {entity}}.Encode()
	}

	resp, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrBackendResponse, resp.StatusCode)
	}

	var holdingsResp holdingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&holdingsResp); err != nil {
		return nil, fmt.Errorf("decoding holdings response: %w", err)
	}
	if holdingsResp.Holdings == nil {
		return []models.Holding{}, nil
	}
	return holdingsResp.Holdings, nil
}

func (c *HTTPClient) Ready(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: backend not ready (status %d)", ErrBackendUnreachable, resp.StatusCode)
	}
	return nil
}

// do waits for the limiter, sends the request and classifies transport errors.
func (c *HTTPClient) do(ctx context.Context, method, u string, body io.Reader) (*http.Response, error) {
	if c.limiter != nil {
		// Wait fails only when ctx ends, or would end, before a token is free.
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendTimeout, err)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq, body != nil)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	return resp, nil
}

func (c *HTTPClient) setHeaders(req *http.Request, hasBody bool) {
	req.Header.Set("Accept", "application/json")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
}

// --- backend response types ---

type holdingsResponse struct {
	Holdings []models.Holding `json:"holdings"`
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
