package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/quizhive/quizhive-rooms/pkg/roomdto"
	"github.com/valyala/fasthttp"
)

// HeaderProvider injects per-request headers, e.g. service credentials.
type HeaderProvider func() map[string]string

// HTTPProvider resolves tokens against an external identity service
// exposing GET /session. 401/403 map to ErrAuthenticationRequired;
// transport failures and 5xx surface as retryable errors.
type HTTPProvider struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider

	defaultTimeout time.Duration
}

type Option func(*HTTPProvider)

func WithTimeout(d time.Duration) Option {
	return func(p *HTTPProvider) { p.defaultTimeout = d }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(p *HTTPProvider) { p.headers = h }
}

func NewHTTPProvider(baseURL string, opts ...Option) *HTTPProvider {
	p := &HTTPProvider{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *HTTPProvider) Resolve(ctx context.Context, token string) (*User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, roomdto.ErrAuthenticationRequired
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(p.baseURL + "/session")
	req.Header.Set("Authorization", "Bearer "+token)
	if p.headers != nil {
		for k, v := range p.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}

	if err := p.http.DoDeadline(req, resp, p.computeDeadline(ctx)); err != nil {
		return nil, fmt.Errorf("identity request: %w", err)
	}

	status := resp.StatusCode()
	switch {
	case status == fasthttp.StatusUnauthorized || status == fasthttp.StatusForbidden:
		return nil, roomdto.ErrAuthenticationRequired
	case status < 200 || status >= 300:
		return nil, fmt.Errorf("identity api error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
	}

	var u User
	if err := json.Unmarshal(resp.Body(), &u); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if strings.TrimSpace(u.ID) == "" {
		return nil, roomdto.ErrAuthenticationRequired
	}
	return &u, nil
}

func (p *HTTPProvider) computeDeadline(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		clientDL := time.Now().Add(p.defaultTimeout)
		if dl.Before(clientDL) {
			return dl
		}
		return clientDL
	}
	return time.Now().Add(p.defaultTimeout)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
