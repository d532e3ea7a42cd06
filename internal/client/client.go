// Package client wires the transport, auth interceptors, retry policy and
// cache manager into the request pipeline behind relay.Executor.
package client

import (
	"context"
	"fmt"
	nethttp "net/http"

	"github.com/meridian-io/relay/internal/http"
	"github.com/meridian-io/relay/pkg/relay"
)

// Client is the concrete pipeline. The flow for a cache-aware read is
// cache manager → auth interceptor → retry policy → transport; writes skip
// the cache read and the controller invalidates affected entries afterwards.
type Client struct {
	transport *http.Client
	session   *relay.Session
	chain     *relay.InterceptorChain
	retry     *relay.RetryPolicy
	cache     *relay.CacheManager
	policy    *relay.CachingPolicy
	logger    relay.Logger

	// allowCreateRetry treats every POST as an idempotent write. Collections
	// can still opt in per resource via their descriptors.
	allowCreateRetry bool
}

// New builds a client from the config. Configuration mistakes surface here,
// not on first use.
func New(config *relay.Config) (*Client, error) {
	err := config.Validate()
	if err != nil {
		return nil, err
	}

	session := relay.NewSession(config.Token)

	transportOpts := []http.Option{}

	if config.Logger != nil {
		transportOpts = append(transportOpts, http.WithLogger(config.Logger))
	}

	if config.Debug {
		transportOpts = append(transportOpts, http.WithDebug(true))
	}

	if config.UserAgent != "" {
		transportOpts = append(transportOpts, http.WithUserAgent(config.UserAgent))
	}

	if config.Timeout > 0 {
		transportOpts = append(transportOpts, http.WithTimeout(config.Timeout))
	}

	backend, err := relay.NewCacheFromConfig(config.Cache)
	if err != nil {
		return nil, fmt.Errorf("building cache backend: %w", err)
	}

	manager := relay.NewCacheManager(backend, config.Logger)
	manager.SetDefaultTTL(config.DefaultTTL)

	chain := relay.NewInterceptorChain()
	chain.AddRequestInterceptor(relay.AuthenticationInterceptor(session))

	if config.Logger != nil && config.Debug {
		chain.AddRequestInterceptor(relay.LoggingInterceptor(config.Logger))
		chain.AddResponseInterceptor(relay.LoggingResponseInterceptor(config.Logger))
	}

	chain.AddResponseInterceptor(relay.SessionExpiryInterceptor(session))

	client := &Client{
		transport:        http.NewClient(config.BaseURL, transportOpts...),
		session:          session,
		chain:            chain,
		retry:            config.RetryPolicy(),
		cache:            manager,
		policy:           relay.DefaultCachingPolicy(),
		logger:           config.Logger,
		allowCreateRetry: config.AllowCreateRetry,
	}

	return client, nil
}

// Session returns the session owned by this client.
func (c *Client) Session() *relay.Session {
	return c.session
}

// CacheManager returns the cache manager owned by this client.
func (c *Client) CacheManager() *relay.CacheManager {
	return c.cache
}

// Interceptors returns the interceptor chain so hosts can add their own
// (rate limiting, metrics, circuit breaking).
func (c *Client) Interceptors() *relay.InterceptorChain {
	return c.chain
}

// Execute runs a descriptor through the pipeline and returns the raw body.
func (c *Client) Execute(ctx context.Context, descriptor *relay.Descriptor) ([]byte, error) {
	if c.cacheable(descriptor) {
		key := descriptor.CacheKeyOrDerived()

		return c.cache.GetOrFetch(ctx, key, descriptor.Revalidate, func(ctx context.Context) ([]byte, string, error) {
			return c.dispatch(ctx, descriptor)
		})
	}

	body, _, err := c.dispatch(ctx, descriptor)

	return body, err
}

// cacheable reports whether the read path goes through the cache manager.
// Only GET-equivalent reads on cacheable paths qualify.
func (c *Client) cacheable(descriptor *relay.Descriptor) bool {
	if descriptor.Method != nethttp.MethodGet {
		return false
	}

	return c.policy.ShouldCache(descriptor.Method, descriptor.Path, nethttp.StatusOK)
}

// dispatch applies the retry policy around single attempts. The auth
// interceptor runs inside each attempt, so a token refreshed between attempts
// is picked up.
func (c *Client) dispatch(ctx context.Context, descriptor *relay.Descriptor) ([]byte, string, error) {
	if !c.retry.Retryable(descriptor) && !c.allowCreateRetry {
		return c.attempt(ctx, descriptor)
	}

	var etag string

	body, err := c.retry.Do(ctx, func(ctx context.Context) ([]byte, error) {
		data, tag, err := c.attempt(ctx, descriptor)
		etag = tag

		return data, err
	})

	return body, etag, err
}

// attempt issues exactly one network call: request interceptors, transport,
// response interceptors.
func (c *Client) attempt(ctx context.Context, descriptor *relay.Descriptor) ([]byte, string, error) {
	interceptReq := &relay.Request{
		Method:  descriptor.Method,
		Path:    descriptor.Path,
		Headers: make(nethttp.Header),
	}

	err := c.chain.ExecuteRequestInterceptors(ctx, interceptReq)
	if err != nil {
		return nil, "", err
	}

	headers := make(map[string]string, len(interceptReq.Headers)+len(descriptor.Headers))
	for key := range interceptReq.Headers {
		headers[key] = interceptReq.Headers.Get(key)
	}

	// Descriptor headers win over interceptor-provided ones.
	for key, value := range descriptor.Headers {
		headers[key] = value
	}

	resp, err := c.transport.Do(ctx, &http.Request{
		Method:  descriptor.Method,
		Path:    descriptor.Path,
		Query:   descriptor.Query,
		Body:    descriptor.Body,
		Headers: headers,
	})

	interceptResp := &relay.Response{Error: err}
	if resp != nil {
		interceptResp.StatusCode = resp.StatusCode
		interceptResp.Headers = resp.Headers
		interceptResp.Body = resp.Body
	}

	interceptErr := c.chain.ExecuteResponseInterceptors(ctx, interceptReq, interceptResp)
	if interceptErr != nil {
		return nil, "", interceptErr
	}

	if err != nil {
		return nil, "", err
	}

	return resp.Body, resp.Headers.Get("ETag"), nil
}
