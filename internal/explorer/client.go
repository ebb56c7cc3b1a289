// Package explorer provides a client for Etherscan-compatible block explorer
// APIs (Arbiscan by default).
package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kustodia/verify-bytecode/internal/validation"
)

// DefaultBaseURL is the Arbiscan API endpoint
const DefaultBaseURL = "https://api.arbiscan.io/api"

// DefaultRequestsPerSecond matches the explorer free-tier limit
const DefaultRequestsPerSecond = 5

// Largest response body read from the explorer
const maxResponseSize = 8 << 20

// Sentinel causes carried by FetchError
var (
	ErrNoResult         = errors.New("response has no result")
	ErrInvalidResult    = errors.New("result is not hex bytecode")
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
)

// FetchError is returned when a proxy call to the explorer fails. Payload
// holds the raw response body when one was received.
type FetchError struct {
	Action     string // proxy action, e.g. eth_getCode
	Address    string
	StatusCode int
	Payload    string
	Err        error
}

func (e *FetchError) Error() string {
	action := e.Action
	if action == "" {
		action = "eth_getCode"
	}
	msg := fmt.Sprintf("explorer %s for %s: %v", action, e.Address, e.Err)
	if e.StatusCode != 0 && e.StatusCode != http.StatusOK {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Payload != "" {
		msg += ": " + e.Payload
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Client is an explorer API client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithBaseURL points the client at another Etherscan-compatible API
func WithBaseURL(baseURL string) Option {
	return func(client *Client) {
		if baseURL != "" {
			client.baseURL = baseURL
		}
	}
}

// WithTimeout sets the HTTP client timeout
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// WithRateLimit limits outgoing requests per second. Zero or less disables limiting.
func WithRateLimit(rps float64) Option {
	return func(client *Client) {
		if rps <= 0 {
			client.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		client.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// New creates a new explorer client
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRequestsPerSecond), 1),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Name returns the source identifier
func (c *Client) Name() string {
	return "explorer"
}

// proxyResponse is the envelope returned by the module=proxy endpoints.
// On failure the explorer sets status/message and puts the reason in result.
type proxyResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// GetDeployedBytecode implements chains.BytecodeSource
func (c *Client) GetDeployedBytecode(ctx context.Context, address string) (string, error) {
	return c.GetCode(ctx, address)
}

// GetCode calls eth_getCode through the explorer proxy and returns the
// bytecode hex with the 0x prefix removed.
func (c *Client) GetCode(ctx context.Context, address string) (string, error) {
	params := url.Values{}
	params.Set("action", "eth_getCode")
	params.Set("address", address)
	params.Set("tag", "latest")
	return c.proxyCall(ctx, address, params)
}

// GetStorageAt calls eth_getStorageAt through the explorer proxy and returns
// the storage word hex with the 0x prefix removed.
func (c *Client) GetStorageAt(ctx context.Context, address, slot string) (string, error) {
	params := url.Values{}
	params.Set("action", "eth_getStorageAt")
	params.Set("address", address)
	params.Set("position", slot)
	params.Set("tag", "latest")
	return c.proxyCall(ctx, address, params)
}

// proxyCall runs a module=proxy action and returns its hex result
func (c *Client) proxyCall(ctx context.Context, address string, params url.Values) (string, error) {
	action := params.Get("action")
	params.Set("module", "proxy")
	params.Set("apikey", c.apiKey)

	body, status, err := c.get(ctx, params)
	if err != nil {
		return "", &FetchError{Action: action, Address: address, Err: err}
	}
	payload := string(body)

	if status != http.StatusOK {
		return "", &FetchError{Action: action, Address: address, StatusCode: status, Payload: payload, Err: ErrUnexpectedStatus}
	}

	var resp proxyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &FetchError{Action: action, Address: address, StatusCode: status, Payload: payload, Err: fmt.Errorf("parsing response: %w", err)}
	}

	var result string
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return "", &FetchError{Action: action, Address: address, StatusCode: status, Payload: payload, Err: ErrInvalidResult}
		}
	}
	if result == "" {
		return "", &FetchError{Action: action, Address: address, StatusCode: status, Payload: payload, Err: ErrNoResult}
	}

	// Parity and prefix are not checked; explorer error strings fail here
	if err := validation.ValidateBytecodeHex(result); err != nil {
		return "", &FetchError{Action: action, Address: address, StatusCode: status, Payload: payload, Err: fmt.Errorf("%w: %v", ErrInvalidResult, err)}
	}

	return strings.TrimPrefix(strings.TrimPrefix(result, "0x"), "0X"), nil
}

func (c *Client) get(ctx context.Context, params url.Values) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// url.Error embeds the full URL, which carries the API key
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return nil, 0, fmt.Errorf("GET %s: %w", c.baseURL, urlErr.Err)
		}
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}

	return body, resp.StatusCode, nil
}
