package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/franz/gigbase-loader/internal/util"
)

const (
	// DefaultKeyHeader is the header carrying the access key
	DefaultKeyHeader = "x-hasura-access-key"

	// UserAgent identifies the loader to the endpoint
	UserAgent = "gigload/1.0 (GigBase CSV loader)"
)

var pingDocument = MustParse(`query ping { __typename }`)

// Config holds client settings
type Config struct {
	Endpoint  string
	AccessKey string
	KeyHeader string

	// Timeout bounds a single HTTP round trip. Zero means no timeout.
	Timeout time.Duration

	// MinInterval spaces consecutive requests. Zero disables pacing.
	MinInterval time.Duration

	// HTTPClient overrides the default client; Timeout is ignored when set
	HTTPClient *http.Client

	// Observer is called after every request with its outcome
	Observer func(op string, elapsed time.Duration, err error)
}

// Client sends GraphQL documents to a single endpoint, one at a time
type Client struct {
	httpClient  *http.Client
	endpoint    string
	accessKey   string
	keyHeader   string
	observer    func(op string, elapsed time.Duration, err error)
	rateLimiter *time.Ticker

	mu       sync.Mutex
	requests int
}

// RemoteError is one entry of the response "errors" array
type RemoteError struct {
	Message    string                 `json:"message"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

type request struct {
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	OperationName string                 `json:"operationName,omitempty"`
}

type envelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []RemoteError   `json:"errors"`
}

// NewClient creates a client for the configured endpoint
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: GraphQL endpoint is required", util.ErrInvalidConfig)
	}
	if !strings.HasPrefix(cfg.Endpoint, "http://") && !strings.HasPrefix(cfg.Endpoint, "https://") {
		return nil, fmt.Errorf("%w: endpoint %q must be an http(s) URL", util.ErrInvalidConfig, cfg.Endpoint)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	keyHeader := cfg.KeyHeader
	if keyHeader == "" {
		keyHeader = DefaultKeyHeader
	}

	c := &Client{
		httpClient: httpClient,
		endpoint:   cfg.Endpoint,
		accessKey:  cfg.AccessKey,
		keyHeader:  keyHeader,
		observer:   cfg.Observer,
	}
	if cfg.MinInterval > 0 {
		c.rateLimiter = time.NewTicker(cfg.MinInterval)
	}
	return c, nil
}

// Close releases resources used by the client
func (c *Client) Close() {
	if c.rateLimiter != nil {
		c.rateLimiter.Stop()
	}
}

// Requests returns the number of requests sent so far
func (c *Client) Requests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests
}

// Endpoint returns the configured endpoint URL
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Ping sends a trivial query to check that the endpoint answers GraphQL
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Do(ctx, pingDocument, nil)
	return err
}

// Query sends doc and decodes the "data" object into out
func (c *Client) Query(ctx context.Context, doc *Document, vars map[string]interface{}, out interface{}) error {
	data, err := c.Do(ctx, doc, vars)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return Wrap(MalformedResponse, doc.Label(), fmt.Errorf("failed to decode data: %w", err))
	}
	return nil
}

// Do sends doc with vars and returns the raw "data" object.
// Requests are serialized: a second caller waits for the first to finish.
func (c *Client) Do(ctx context.Context, doc *Document, vars map[string]interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	data, err := c.do(ctx, doc, vars)
	c.requests++

	if c.observer != nil {
		c.observer(doc.Label(), time.Since(start), err)
	}
	return data, err
}

func (c *Client) do(ctx context.Context, doc *Document, vars map[string]interface{}) (json.RawMessage, error) {
	op := doc.Label()

	if err := c.waitForRateLimit(ctx); err != nil {
		return nil, Wrap(IOFailure, op, err)
	}

	body, err := json.Marshal(request{
		Query:         doc.Text,
		Variables:     vars,
		OperationName: doc.Name,
	})
	if err != nil {
		return nil, Wrap(InvalidInput, op, fmt.Errorf("failed to encode request: %w", err))
	}

	util.DebugLog("GraphQL %s %s vars=%v", doc.Operation, op, vars)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, Wrap(IOFailure, op, fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	if c.accessKey != "" {
		req.Header.Set(c.keyHeader, c.accessKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, Wrap(IOFailure, op, fmt.Errorf("failed to execute request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Wrap(IOFailure, op, fmt.Errorf("failed to read response: %w", err))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, Errorf(IOFailure, op, "unexpected status code %d: %s", resp.StatusCode, truncate(string(raw), 200))
		}
		return nil, Wrap(MalformedResponse, op, fmt.Errorf("failed to decode response: %w", err))
	}

	if len(env.Errors) > 0 {
		return nil, rejected(op, env.Errors)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, Errorf(IOFailure, op, "unexpected status code %d", resp.StatusCode)
	}

	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return nil, Errorf(MalformedResponse, op, "response has no data")
	}

	return env.Data, nil
}

// waitForRateLimit blocks until the next tick when pacing is enabled
func (c *Client) waitForRateLimit(ctx context.Context) error {
	if c.rateLimiter == nil {
		return ctx.Err()
	}
	select {
	case <-c.rateLimiter.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func rejected(op string, errs []RemoteError) *Error {
	gerr := &Error{Kind: RemoteRejected, Op: op}
	for _, e := range errs {
		gerr.Messages = append(gerr.Messages, e.Message)
		if gerr.Code == "" {
			if code, ok := e.Extensions["code"].(string); ok {
				gerr.Code = code
			}
		}
	}
	return gerr
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
