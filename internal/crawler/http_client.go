package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
)

// HTTPClient fetches page text under a concurrency limiter
type HTTPClient struct {
	client       *http.Client
	limiter      *Limiter
	userAgent    string
	timeout      time.Duration
	maxBodyBytes int64
}

// NewHTTPClient creates a new HTTP client. The timeout bounds the request
// and the body decode together.
func NewHTTPClient(limiter *Limiter, userAgent string, timeout time.Duration, maxBodyBytes int64) *HTTPClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	return &HTTPClient{
		client:       client,
		limiter:      limiter,
		userAgent:    userAgent,
		timeout:      timeout,
		maxBodyBytes: maxBodyBytes,
	}
}

// Fetch performs a single GET and decodes the body as text.
// A permit is held from before the request until the body is read, and
// released on every path. Failures never retry.
func (h *HTTPClient) Fetch(ctx context.Context, url string) FetchResult {
	release, err := h.limiter.Acquire(ctx)
	if err != nil {
		return FetchResult{Outcome: OutcomeCanceled, Err: err}
	}
	defer release()

	start := time.Now()
	result := h.fetch(ctx, url)
	result.Duration = time.Since(start)
	return result
}

func (h *HTTPClient) fetch(parent context.Context, url string) FetchResult {
	ctx, cancel := context.WithTimeout(parent, h.timeout)
	defer cancel()

	slog.Debug("Retrieving", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		slog.Debug("Invalid request", "url", url, "error", err)
		return FetchResult{Outcome: OutcomeTransportError, Err: err}
	}
	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := h.client.Do(req)
	if err != nil {
		outcome := classifyTransportError(parent, ctx, err)
		slog.Debug("Connection error", "url", url, "outcome", outcome, "error", err)
		return FetchResult{Outcome: outcome, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	slog.Debug("Connected, retrieving text", "url", url, "status", resp.StatusCode)

	text, truncated, err := h.decode(resp)
	if err != nil {
		outcome := OutcomeDecodeError
		if parent.Err() != nil {
			outcome = OutcomeCanceled
		}
		slog.Debug("Could not retrieve text", "url", url, "error", err)
		return FetchResult{Outcome: outcome, StatusCode: resp.StatusCode, Err: err}
	}

	if truncated {
		slog.Debug("Body truncated", "url", url, "max_bytes", h.maxBodyBytes)
	}
	slog.Debug("Retrieved", "url", url, "bytes", len(text))
	return FetchResult{Text: text, Outcome: OutcomeOK, StatusCode: resp.StatusCode, Truncated: truncated}
}

// decode reads the body and converts it to UTF-8 using the declared or sniffed charset.
// UTF-8 bodies are validated on the raw bytes, so invalid sequences fail instead
// of being replaced. Bodies past maxBodyBytes are cut and reported as truncated.
func (h *HTTPClient) decode(resp *http.Response) (string, bool, error) {
	body := io.Reader(resp.Body)
	if h.maxBodyBytes > 0 {
		// One extra byte tells a body of exactly maxBodyBytes from a longer one
		body = io.LimitReader(resp.Body, h.maxBodyBytes+1)
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		return "", false, fmt.Errorf("failed to read response body: %w", err)
	}

	truncated := h.maxBodyBytes > 0 && int64(len(raw)) > h.maxBodyBytes
	if truncated {
		raw = raw[:h.maxBodyBytes]
	}
	if len(raw) == 0 {
		return "", false, nil
	}

	enc, name, _ := charset.DetermineEncoding(raw, resp.Header.Get("Content-Type"))

	data := raw
	if name == "utf-8" {
		if truncated {
			data = trimPartialRune(data)
		}
	} else {
		data, err = enc.NewDecoder().Bytes(raw)
		if err != nil {
			return "", false, fmt.Errorf("failed to decode %s body: %w", name, err)
		}
	}

	if !utf8.Valid(data) {
		return "", false, fmt.Errorf("response body is not valid UTF-8")
	}

	return string(data), truncated, nil
}

// trimPartialRune drops an incomplete UTF-8 sequence left at the end by truncation
func trimPartialRune(b []byte) []byte {
	for i := 0; i < utf8.UTFMax-1 && len(b) > 0; i++ {
		r, size := utf8.DecodeLastRune(b)
		if r != utf8.RuneError || size > 1 {
			return b
		}
		b = b[:len(b)-1]
	}
	return b
}

// classifyTransportError separates run cancellation from the per-fetch deadline
func classifyTransportError(parent, fetchCtx context.Context, err error) FetchOutcome {
	switch {
	case parent.Err() != nil:
		return OutcomeCanceled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(fetchCtx.Err(), context.DeadlineExceeded):
		return OutcomeTimeout
	default:
		return OutcomeTransportError
	}
}

// Close closes idle connections
func (h *HTTPClient) Close() {
	h.client.CloseIdleConnections()
}
