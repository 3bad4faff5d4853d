// Package httptask is an optional, concrete task.Func constructor for
// the common case of a job that just fires an HTTP request — the
// teacher's only kind of job, now one registrable task among many
// instead of the worker's sole invocation mechanism.
package httptask

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/relaysched/relay/internal/corrid"
	"github.com/relaysched/relay/task"
)

// defaultClient is shared by every task built with New, matching the
// teacher's tuned transport: a TLS 1.2 floor, a bounded idle-connection
// pool, and a ten-redirect cap.
var defaultClient = &http.Client{
	Timeout: 5 * time.Minute,
	Transport: &http.Transport{
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	},
	CheckRedirect: func(_ *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return fmt.Errorf("stopped after 10 redirects")
		}
		return nil
	},
}

// Option customizes a task built with New.
type Option func(*options)

type options struct {
	client  *http.Client
	headers map[string]string
	timeout time.Duration
}

// WithClient overrides the HTTP client, for tests or custom transports.
func WithClient(c *http.Client) Option { return func(o *options) { o.client = c } }

// WithHeaders sets fixed headers sent with every invocation.
func WithHeaders(h map[string]string) Option { return func(o *options) { o.headers = h } }

// WithTimeout bounds a single invocation; defaults to 30 seconds.
func WithTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

// New builds a task.Func that issues a method request to url. If url is
// empty, each invocation reads its target from kwargs["url"] instead,
// letting one registered task serve many jobs with different targets —
// the teacher's jobs table carried a URL column per row for the same
// reason. kwargs may also set "body" (string) for the request body;
// args are ignored, since an HTTP call has no positional-argument
// analogue.
func New(method, url string, opts ...Option) task.Func {
	o := &options{client: defaultClient, timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(o)
	}

	return func(ctx context.Context, _ []any, kwargs map[string]any) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()

		target := url
		if target == "" {
			u, ok := kwargs["url"].(string)
			if !ok || u == "" {
				return nil, fmt.Errorf("httptask: no url configured and kwargs[\"url\"] missing")
			}
			target = u
		}

		var bodyReader io.Reader
		if body, ok := kwargs["body"].(string); ok {
			bodyReader = strings.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("httptask: build request: %w", err)
		}
		for k, v := range o.headers {
			req.Header.Set(k, v)
		}

		id := corrid.New()
		req.Header.Set("X-Correlation-ID", id)
		ctx = corrid.WithCorrelationID(ctx, id)

		resp, err := o.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("httptask: do request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		buf, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("httptask: read response: %w", err)
		}

		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("httptask: unexpected status %d", resp.StatusCode)
		}

		return map[string]any{
			"status_code": resp.StatusCode,
			"body":        string(buf),
		}, nil
	}
}
