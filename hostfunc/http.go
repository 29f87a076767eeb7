package hostfunc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	DefaultMaxURLLength   = 8192
	DefaultMaxBodySize    = 1 << 20 // 1MB
	DefaultRequestTimeout = 30 * time.Second
)

var allowedMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true, http.MethodDelete: true,
	http.MethodPatch: true, http.MethodHead: true, http.MethodOptions: true,
}

type HTTPConfig struct {
	AllowedHosts   []string
	MaxBodySize    int64
	MaxURLLength   int
	RequestTimeout time.Duration
}

// HTTP serves http_request calls against an allowlist of hosts. A host
// entry also admits its subdomains; IP entries match by address only.
type HTTP struct {
	cfg HTTPConfig

	mu     sync.RWMutex
	client *http.Client
}

func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.MaxURLLength == 0 {
		cfg.MaxURLLength = DefaultMaxURLLength
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	h := &HTTP{cfg: cfg}
	h.SetProxy(nil)
	return h
}

// SetProxy routes subsequent requests through u. Nil falls back to the
// environment's proxy settings.
func (h *HTTP) SetProxy(u *url.URL) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if u != nil {
		transport.Proxy = http.ProxyURL(u)
	}
	client := &http.Client{Timeout: h.cfg.RequestTimeout, Transport: transport}
	h.mu.Lock()
	h.client = client
	h.mu.Unlock()
}

func (h *HTTP) httpClient() *http.Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.client
}

func (h *HTTP) Request(ctx context.Context, args map[string]any) (any, error) {
	var in HTTPRequest
	if err := decode(args, &in); err != nil {
		return nil, err
	}
	req, err := h.build(ctx, in)
	if err != nil {
		return nil, err
	}

	resp, err := h.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	out := HTTPResponse{Status: resp.StatusCode, Body: string(body), Headers: make(map[string]string)}
	for k, v := range resp.Header {
		if len(v) > 0 {
			out.Headers[k] = v[0]
		}
	}
	return out, nil
}

func (h *HTTP) build(ctx context.Context, in HTTPRequest) (*http.Request, error) {
	method := strings.ToUpper(in.Method)
	if method == "" {
		method = http.MethodGet
	}
	if !allowedMethods[method] {
		return nil, fmt.Errorf("unsupported method: %s", method)
	}

	if in.URL == "" {
		return nil, errors.New("url required")
	}
	if len(in.URL) > h.cfg.MaxURLLength {
		return nil, errors.New("url exceeds max length")
	}
	parsed, err := url.Parse(in.URL)
	if err != nil {
		return nil, errors.New("invalid url")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errors.New("scheme must be http or https")
	}

	if len(h.cfg.AllowedHosts) == 0 {
		return nil, errors.New("http not enabled")
	}
	if host := parsed.Hostname(); !h.isHostAllowed(host) {
		return nil, fmt.Errorf("host not allowed: %s", host)
	}

	var body io.Reader
	if in.Body != "" {
		if int64(len(in.Body)) > h.cfg.MaxBodySize {
			return nil, errors.New("request body exceeds max size")
		}
		body = strings.NewReader(in.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, in.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range in.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (h *HTTP) isHostAllowed(host string) bool {
	if addr, err := netip.ParseAddr(host); err == nil {
		for _, allowed := range h.cfg.AllowedHosts {
			if a, err := netip.ParseAddr(allowed); err == nil && a.Unmap() == addr.Unmap() {
				return true
			}
		}
		return false
	}

	host = strings.ToLower(host)
	for _, allowed := range h.cfg.AllowedHosts {
		allowed = strings.ToLower(allowed)
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}
