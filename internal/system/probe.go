package system

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// HTTPProbe checks that a URL answers with a 2xx status.
// nginx applies a reload asynchronously, so failed attempts are retried.
type HTTPProbe struct {
	Client   *http.Client
	Attempts uint64
	Interval time.Duration
}

func NewHTTPProbe() *HTTPProbe {
	return &HTTPProbe{
		Client: &http.Client{
			Timeout: 5 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		Attempts: 5,
		Interval: time.Second,
	}
}

// Check requests url with the given Host header. Redirects are not followed:
// a redirect to https on the same host means the site is up behind TLS, any
// other redirect is a failure.
func (p *HTTPProbe) Check(ctx context.Context, url, host string) error {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}
	interval := p.Interval
	if interval <= 0 {
		interval = time.Millisecond
	}
	backoff := retry.WithMaxRetries(attempts-1, retry.NewConstant(interval))

	client := http.DefaultClient
	if p.Client != nil {
		client = p.Client
	}
	noFollow := *client
	noFollow.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		if host != "" {
			req.Host = host
		}

		resp, err := noFollow.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("GET %s: %w", url, err))
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode <= 299:
			return nil
		case resp.StatusCode >= 300 && resp.StatusCode <= 399:
			return checkRedirect(resp, req.Host)
		default:
			return retry.RetryableError(fmt.Errorf("GET %s returned %s", url, resp.Status))
		}
	})
}

func checkRedirect(resp *http.Response, host string) error {
	location, err := resp.Location()
	if err != nil {
		return fmt.Errorf("GET %s returned %s without a usable Location: %w", resp.Request.URL, resp.Status, err)
	}
	if location.Scheme == "https" && strings.EqualFold(location.Hostname(), hostname(host)) {
		return nil
	}
	return fmt.Errorf("GET %s redirected to %s", resp.Request.URL, location)
}

func hostname(hostport string) string {
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	return hostport
}
