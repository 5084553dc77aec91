// Package sdk is a Go client for the greenchain HTTP API.
package sdk

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-resty/resty/v2"

	"github.com/silvanus-labs/greenchain/internal/version"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	defaultVersion    = "v1"

	headerAPIKey = "X-API-Key"
)

// Client calls the API. It is safe for concurrent use once configured.
type Client struct {
	http       *resty.Client
	version    string
	maxRetries uint
	retryDelay time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey authenticates with an allow-listed API key.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.http.SetHeader(headerAPIKey, key) }
}

// WithAccessToken authenticates with a provider access token linked to a
// wallet.
func WithAccessToken(token string) Option {
	return func(c *Client) { c.http.SetAuthToken(token) }
}

// WithHTTPClient replaces the underlying transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http.SetTransport(hc.Transport)
		if hc.Timeout > 0 {
			c.http.SetTimeout(hc.Timeout)
		}
	}
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.SetTimeout(d) }
}

// WithRetry sets how often idempotent calls are retried and the first delay.
func WithRetry(maxRetries uint, initialDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retryDelay = initialDelay
	}
}

// WithVersion selects the submission endpoint version: legacy, v1 or v2.
func WithVersion(v string) Option {
	return func(c *Client) { c.version = v }
}

// New creates a client for the API at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetHeader("Accept", "application/json").
			SetHeader("User-Agent", "greenchain-sdk/"+version.Version).
			SetTimeout(defaultTimeout),
		version:    defaultVersion,
		maxRetries: defaultMaxRetries,
		retryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health returns nil when the API answers its health check.
func (c *Client) Health(ctx context.Context) error {
	return c.getWithRetry(ctx, "/healthz", nil, nil)
}

// ActivityTypes lists the accepted activity types.
func (c *Client) ActivityTypes(ctx context.Context) ([]ActivityType, error) {
	var out []ActivityType
	if err := c.getWithRetry(ctx, "/activities/types", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SubmitActivity submits one activity. It is never retried: a failed call
// may already have broadcast a settlement.
func (c *Client) SubmitActivity(ctx context.Context, a Activity) (*SubmitResult, error) {
	path := "/activities/submit"
	if c.version != "" && c.version != "legacy" {
		path = "/" + c.version + path
	}

	var out SubmitResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(a).
		SetResult(&out).
		SetError(&errorBody{}).
		Post(path)
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// OAuthLogin starts a provider login and returns the URL to redirect to.
func (c *Client) OAuthLogin(ctx context.Context, provider, redirectURI, userID string) (*LoginResponse, error) {
	q := map[string]string{}
	if redirectURI != "" {
		q["redirect_uri"] = redirectURI
	}
	if userID != "" {
		q["user_id"] = userID
	}

	var out LoginResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("provider", provider).
		SetQueryParams(q).
		SetResult(&out).
		SetError(&errorBody{}).
		Get("/oauth/login/{provider}")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// OAuthCallback completes a login and links the tokens to a wallet. The
// server consumes the login attempt, so the call is not retried.
func (c *Client) OAuthCallback(ctx context.Context, provider string, p CallbackParams) (*CallbackResult, error) {
	q := map[string]string{
		"code":           p.Code,
		"state":          p.State,
		"wallet_address": p.WalletAddress,
	}
	if p.RedirectURI != "" {
		q["redirect_uri"] = p.RedirectURI
	}
	if p.SessionKey != "" {
		q["session_key"] = p.SessionKey
	}

	var out CallbackResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("provider", provider).
		SetQueryParams(q).
		SetResult(&out).
		SetError(&errorBody{}).
		Get("/oauth/callback/{provider}")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getWithRetry(ctx context.Context, path string, query map[string]string, out any) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryDelay
	b.MaxInterval = 8 * c.retryDelay

	op := func() (struct{}, error) {
		req := c.http.R().
			SetContext(ctx).
			SetQueryParams(query).
			SetError(&errorBody{})
		if out != nil {
			req.SetResult(out)
		}
		resp, err := req.Get(path)
		if err := check(resp, err); err != nil {
			if e, ok := err.(*Error); ok && (e.StatusCode == 0 || retryable(e.StatusCode)) && ctx.Err() == nil {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxRetries+1))
	return err
}

// check converts a transport error or non-2xx response into an *Error.
func check(resp *resty.Response, err error) error {
	if err != nil {
		return &Error{Kind: KindNetwork, Message: fmt.Sprintf("request failed: %v", err), Err: err}
	}
	if resp.IsError() {
		body, _ := resp.Error().(*errorBody)
		return apiError(resp.StatusCode(), body)
	}
	return nil
}
