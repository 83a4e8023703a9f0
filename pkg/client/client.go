// Package client provides the HTTP client for the Recruitee share API:
// the container candidate list, the per-candidate detail payload and
// plain binary GETs for attachments. A single Client (and its connection
// pool) is shared by every concurrent task of a run.
package client

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
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/recruitee-exporter/pkg/logging"
	"github.com/Sternrassler/recruitee-exporter/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for share API requests.
var (
	requestsTotal = promauto.With(metrics.Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "recruitee_requests_total",
		Help: "Total share API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.With(metrics.Registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recruitee_request_duration_seconds",
		Help:    "Share API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	errorsTotal = promauto.With(metrics.Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "recruitee_errors_total",
		Help: "Total share API errors by class",
	}, []string{"class"})
)

// Endpoint labels used for metrics. Raw paths carry ids and would explode
// label cardinality.
const (
	EndpointList      = "list"
	EndpointCandidate = "candidate"
	EndpointAsset     = "asset"
)

// DefaultBaseURL is the public Recruitee API host.
const DefaultBaseURL = "https://api.recruitee.com"

// ErrEmptyCandidate is returned when a detail payload decodes but carries
// no candidate object.
var ErrEmptyCandidate = errors.New("payload has no candidate")

// CandidateID is the stable identifier of a candidate. The API sends it as
// a JSON number; strings are accepted too.
type CandidateID string

// UnmarshalJSON accepts both numeric and string ids.
func (id *CandidateID) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}

	switch t := v.(type) {
	case json.Number:
		*id = CandidateID(t.String())
	case string:
		*id = CandidateID(t)
	default:
		return fmt.Errorf("candidate id: unsupported JSON value %s", string(data))
	}
	return nil
}

// Candidate is one entry of the container's candidate list.
type Candidate struct {
	ID   CandidateID `json:"id"`
	Name string      `json:"name"`
}

// Client talks to the share API of one container.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the API host (default: DefaultBaseURL).
	BaseURL string

	// ContainerID identifies the shared container (REQUIRED).
	ContainerID string

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout bounds each list and detail call including decoding the
	// body. Zero means no client-side timeout.
	Timeout time.Duration

	// AssetTimeout bounds each attachment fetch until its body is closed.
	// Zero means no client-side timeout.
	AssetTimeout time.Duration

	// MaxConnsPerHost caps open connections per host. Zero is unlimited.
	MaxConnsPerHost int

	// Transport overrides the HTTP transport (for tests).
	Transport http.RoundTripper
}

// DefaultConfig returns a configuration for the given container.
func DefaultConfig(containerID string) Config {
	return Config{
		BaseURL:     DefaultBaseURL,
		ContainerID: containerID,
		UserAgent:   "recruitee-exporter/1.0",
		Timeout:      60 * time.Second,
		AssetTimeout: 10 * time.Minute,
	}
}

// New creates a new share API client.
func New(cfg Config) (*Client, error) {
	if cfg.ContainerID == "" {
		return nil, fmt.Errorf("container id is required")
	}
	if strings.Contains(cfg.ContainerID, "/") {
		return nil, fmt.Errorf("container id must not contain '/' (got %q)", cfg.ContainerID)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", cfg.BaseURL)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = newTransport(cfg.MaxConnsPerHost)
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
		},
		baseURL: base,
		config:  cfg,
		logger:  logging.NewLogger("recruitee-client"),
	}, nil
}

// newTransport builds the shared connection pool. Every fan-out of a run
// goes through it, so idle connections per host are not capped at the
// net/http default of two.
func newTransport(maxConnsPerHost int) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   256,
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// ContainerID returns the container this client is bound to.
func (c *Client) ContainerID() string {
	return c.config.ContainerID
}

// Do performs a single HTTP request. Transport failures are returned as
// *APIError with ErrorClassNetwork; HTTP error statuses are not errors at
// this level and are left to the caller.
func (c *Client) Do(req *http.Request, endpoint string) (*http.Response, error) {
	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", req.Method).
		Str("url", req.URL.Redacted()).
		Msg("Executing request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		class := c.classifyError(nil, err)
		errorsTotal.WithLabelValues(string(class)).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, &APIError{
			ErrorClass: class,
			Message:    "request failed",
			Err:        err,
		}
	}

	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
	if resp.StatusCode >= 400 {
		class := c.classifyError(resp, nil)
		errorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Debug().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Request returned error status")
	}

	return resp, nil
}

// ListCandidates fetches the candidate list of the container.
func (c *Client) ListCandidates(ctx context.Context) ([]Candidate, error) {
	var payload struct {
		Container *struct {
			Candidates []Candidate `json:"candidates"`
		} `json:"container"`
	}

	if err := c.getJSON(ctx, c.containerPath(), EndpointList, &payload); err != nil {
		return nil, err
	}
	if payload.Container == nil {
		return nil, &APIError{
			StatusCode: http.StatusOK,
			ErrorClass: ErrorClassDecode,
			Message:    "payload has no container",
		}
	}

	c.logger.Info().
		Str("container", c.config.ContainerID).
		Int("candidates", len(payload.Container.Candidates)).
		Msg("Fetched candidate list")

	return payload.Container.Candidates, nil
}

// GetCandidate fetches the raw detail object of one candidate. Numbers are
// decoded as json.Number so ids and phone-like values keep their exact text.
func (c *Client) GetCandidate(ctx context.Context, id CandidateID) (map[string]any, error) {
	var payload struct {
		Candidate map[string]any `json:"candidate"`
	}

	endpoint := c.containerPath() + "/candidates/" + url.PathEscape(string(id))
	if err := c.getJSON(ctx, endpoint, EndpointCandidate, &payload); err != nil {
		return nil, err
	}
	if payload.Candidate == nil {
		return nil, &APIError{
			StatusCode: http.StatusOK,
			ErrorClass: ErrorClassDecode,
			Message:    "decode candidate",
			Err:        ErrEmptyCandidate,
		}
	}

	return payload.Candidate, nil
}

// Fetch issues a GET for an absolute URL (an attachment link). The caller
// owns the response body and decides which statuses are acceptable.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*http.Response, error) {
	cancel := context.CancelFunc(func() {})
	if c.config.AssetTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.config.AssetTimeout)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.Do(req, EndpointAsset)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose releases a request deadline once the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// getJSON performs a GET relative to the base URL and decodes a 200 body.
func (c *Client) getJSON(ctx context.Context, path, endpoint string, into any) error {
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.String()+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req, endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)
		return &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: c.classifyError(resp, nil),
			Message:    resp.Status,
		}
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(into); err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassDecode,
			Message:    "decode response",
			Err:        err,
		}
	}

	return nil
}

func (c *Client) containerPath() string {
	return "/share/containers/" + url.PathEscape(c.config.ContainerID)
}

// classifyError categorizes an error for observability and handling.
func (c *Client) classifyError(resp *http.Response, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}

	switch {
	case resp == nil:
		return ""
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return ErrorClassClient
	case resp.StatusCode >= 500:
		return ErrorClassServer
	case resp.StatusCode != http.StatusOK:
		return ErrorClassUnexpected
	default:
		return ""
	}
}

// Close releases idle connections of the shared pool.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
