package hostfunc

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestHTTPRequestRejected(t *testing.T) {
	tests := []struct {
		name  string
		cfg   HTTPConfig
		args  map[string]any
		error string
	}{
		{"no hosts", HTTPConfig{}, map[string]any{"url": "https://example.com"}, "http not enabled"},
		{"unallowed host", HTTPConfig{AllowedHosts: []string{"allowed.com"}}, map[string]any{"url": "https://evil.com"}, "host not allowed: evil.com"},
		{"query param bypass", HTTPConfig{AllowedHosts: []string{"allowed.com"}}, map[string]any{"url": "https://evil.com/?x=allowed.com"}, "host not allowed: evil.com"},
		{"suffix bypass", HTTPConfig{AllowedHosts: []string{"allowed.com"}}, map[string]any{"url": "https://allowed.com.evil.com/"}, "host not allowed: allowed.com.evil.com"},
		{"missing url", HTTPConfig{AllowedHosts: []string{"example.com"}}, map[string]any{}, "url required"},
		{"invalid url", HTTPConfig{AllowedHosts: []string{"example.com"}}, map[string]any{"url": "://invalid"}, "invalid url"},
		{"method", HTTPConfig{AllowedHosts: []string{"example.com"}}, map[string]any{"method": "TRACE", "url": "https://example.com"}, "unsupported method: TRACE"},
		{"scheme", HTTPConfig{AllowedHosts: []string{"example.com"}}, map[string]any{"url": "file:///etc/passwd"}, "scheme must be http or https"},
		{"url too long", HTTPConfig{AllowedHosts: []string{"example.com"}, MaxURLLength: 100}, map[string]any{"url": "https://example.com/" + strings.Repeat("a", 200)}, "url exceeds max length"},
		{"default url limit", HTTPConfig{AllowedHosts: []string{"example.com"}}, map[string]any{"url": "https://example.com/" + strings.Repeat("a", 10*1024)}, "url exceeds max length"},
		{"body too large", HTTPConfig{AllowedHosts: []string{"example.com"}, MaxBodySize: 4}, map[string]any{"method": "POST", "url": "https://example.com", "body": "payload"}, "request body exceeds max size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHTTP(tt.cfg).Request(context.Background(), tt.args)
			if err == nil || err.Error() != tt.error {
				t.Errorf("got %v, want %q", err, tt.error)
			}
		})
	}
}

func TestHTTPRequestGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	h := NewHTTP(HTTPConfig{AllowedHosts: []string{"127.0.0.1"}})
	result, err := h.Request(context.Background(), map[string]any{"url": server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp := result.(HTTPResponse)
	if resp.Status != http.StatusOK || resp.Body != `{"ok": true}` || resp.Headers["X-Test"] != "yes" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestHTTPRequestPostsBodyAndHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Write([]byte(r.Method + " " + r.Header.Get("X-Token") + " " + string(body)))
	}))
	defer server.Close()

	h := NewHTTP(HTTPConfig{AllowedHosts: []string{"127.0.0.1"}})
	result, err := h.Request(context.Background(), map[string]any{
		"method":  "post",
		"url":     server.URL,
		"body":    "payload",
		"headers": map[string]any{"X-Token": "abc"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := result.(HTTPResponse).Body; got != "POST abc payload" {
		t.Errorf("unexpected echo %q", got)
	}
}

func TestHTTPResponseBodyCapped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer server.Close()

	h := NewHTTP(HTTPConfig{AllowedHosts: []string{"127.0.0.1"}, MaxBodySize: 10})
	result, err := h.Request(context.Background(), map[string]any{"url": server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(result.(HTTPResponse).Body); got != 10 {
		t.Errorf("body length = %d, want 10", got)
	}
}

func TestHTTPSetProxy(t *testing.T) {
	var seen string
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.URL.String()
		w.Write([]byte("via proxy"))
	}))
	defer proxy.Close()

	h := NewHTTP(HTTPConfig{AllowedHosts: []string{"api.example.com"}})
	u, _ := url.Parse(proxy.URL)
	h.SetProxy(u)

	result, err := h.Request(context.Background(), map[string]any{"url": "http://api.example.com/data"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.(HTTPResponse).Body != "via proxy" {
		t.Errorf("request did not reach the proxy")
	}
	if seen != "http://api.example.com/data" {
		t.Errorf("proxy saw %q", seen)
	}
}

func TestIsHostAllowed(t *testing.T) {
	tests := []struct {
		allowed []string
		host    string
		want    bool
	}{
		{[]string{"example.com"}, "example.com", true},
		{[]string{"example.com"}, "api.example.com", true},
		{[]string{"example.com"}, "API.Example.com", true},
		{[]string{"example.com"}, "notexample.com", false},
		{[]string{"example.com"}, "::1", false},
		{[]string{"example.com"}, "127.0.0.1", false},
		{[]string{"example.com"}, "2001:db8::1", false},
		{[]string{"::1"}, "::1", true},
		{[]string{"::1"}, "0:0:0:0:0:0:0:1", true},
		{[]string{"::1"}, "::2", false},
		{[]string{"::1"}, "example.com", false},
		{[]string{"192.168.1.1"}, "192.168.1.1", true},
		{[]string{"192.168.1.1"}, "192.168.1.2", false},
	}
	for _, tt := range tests {
		h := NewHTTP(HTTPConfig{AllowedHosts: tt.allowed})
		if got := h.isHostAllowed(tt.host); got != tt.want {
			t.Errorf("isHostAllowed(%v, %q) = %v, want %v", tt.allowed, tt.host, got, tt.want)
		}
	}
}
