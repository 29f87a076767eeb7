// Package pypi fetches pure-Python wheels from a PyPI JSON index and
// unpacks them into a directory the interpreter has on sys.path.
package pypi

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultIndexURL = "https://pypi.org/pypi"

var (
	ErrNotFound     = errors.New("package not found on index")
	ErrNoWheel      = errors.New("no compatible wheel found (pure Python wheel required)")
	ErrIncompatible = errors.New("package not supported in WASM")
	ErrNativeCode   = errors.New("package contains native extensions")
)

// incompatible lists packages known not to work in the interpreter, so
// they fail before any download.
var incompatible = map[string]string{
	"numpy":         "requires C extensions",
	"pandas":        "requires C extensions (numpy)",
	"scipy":         "requires C extensions",
	"tensorflow":    "requires C extensions",
	"torch":         "requires C extensions",
	"scikit-learn":  "requires C extensions",
	"matplotlib":    "requires C extensions",
	"pillow":        "requires C extensions",
	"opencv-python": "requires C extensions",
	"psycopg2":      "requires C extensions",
	"cryptography":  "requires C extensions",
	"lxml":          "requires C extensions",
	"grpcio":        "requires C extensions",
	"requests":      "uses sockets (use the http host function instead)",
	"httpx":         "uses sockets (use the http host function instead)",
	"aiohttp":       "uses async sockets",
	"flask":         "requires sockets",
	"django":        "requires sockets",
	"fastapi":       "requires sockets",
}

// Incompatible reports why name cannot run in the interpreter, if known.
func Incompatible(name string) (string, bool) {
	reason, ok := incompatible[Normalize(name)]
	return reason, ok
}

// Normalize lowercases name and folds "_" and "." to "-".
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer("_", "-", ".", "-").Replace(name)
}

// ParseSpec splits "name==1.2" into name and pinned version. Other
// comparison operators are accepted and resolve to the latest release.
func ParseSpec(spec string) (name, version string) {
	spec = strings.TrimSpace(spec)
	if i := strings.Index(spec, "=="); i != -1 {
		return strings.TrimSpace(spec[:i]), strings.TrimSpace(spec[i+2:])
	}
	for _, op := range []string{">=", "<=", "~=", "!=", ">", "<"} {
		if i := strings.Index(spec, op); i != -1 {
			return strings.TrimSpace(spec[:i]), ""
		}
	}
	return spec, ""
}

type File struct {
	PackageType string `json:"packagetype"`
	Filename    string `json:"filename"`
	URL         string `json:"url"`
}

// Release is the part of the index JSON document used for installs.
type Release struct {
	Info struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"info"`
	URLs []File `json:"urls"`
}

// Wheel returns the first pure-Python wheel of the release.
func (r *Release) Wheel() (File, bool) {
	for _, f := range r.URLs {
		if f.PackageType != "bdist_wheel" {
			continue
		}
		name := strings.ToLower(f.Filename)
		if strings.Contains(name, "-py3-none-any") || strings.Contains(name, "-py2.py3-none-any") {
			return f, true
		}
	}
	return File{}, false
}

type Option func(*Client)

func WithIndexURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.indexURL = strings.TrimRight(u, "/")
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// Client talks to one index. It is safe for concurrent use.
type Client struct {
	indexURL string
	timeout  time.Duration
	log      *zap.SugaredLogger

	mu     sync.RWMutex
	client *http.Client
}

func New(opts ...Option) *Client {
	c := &Client{
		indexURL: DefaultIndexURL,
		timeout:  60 * time.Second,
		log:      zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.client = c.newHTTPClient(nil)
	return c
}

func (c *Client) newHTTPClient(proxy *url.URL) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxy != nil {
		transport.Proxy = http.ProxyURL(proxy)
	}
	return &http.Client{Timeout: c.timeout, Transport: transport}
}

// SetProxy routes later index and wheel downloads through u. A nil u
// restores the environment's proxy settings.
func (c *Client) SetProxy(u *url.URL) {
	client := c.newHTTPClient(u)
	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
}

func (c *Client) httpClient() *http.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return c.httpClient().Do(req)
}

// Lookup fetches release metadata. An empty version means latest.
func (c *Client) Lookup(ctx context.Context, name, version string) (*Release, error) {
	endpoint := c.indexURL + "/" + url.PathEscape(name)
	if version != "" {
		endpoint += "/" + url.PathEscape(version)
	}
	endpoint += "/json"

	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetch package info: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("index returned status %d", resp.StatusCode)
	}

	var rel Release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("parse package info: %w", err)
	}
	return &rel, nil
}

// Install resolves spec, downloads its pure-Python wheel and extracts it
// into dir.
func (c *Client) Install(ctx context.Context, spec, dir string) (*Release, error) {
	name, version := ParseSpec(spec)
	if name == "" {
		return nil, errors.New("package name required")
	}
	if reason, ok := Incompatible(name); ok {
		return nil, fmt.Errorf("%s: %w (%s)", name, ErrIncompatible, reason)
	}

	rel, err := c.Lookup(ctx, name, version)
	if err != nil {
		return nil, err
	}
	wheel, ok := rel.Wheel()
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNoWheel)
	}

	c.log.Infow("downloading wheel", "package", rel.Info.Name, "version", rel.Info.Version, "file", wheel.Filename)
	path, err := c.download(ctx, wheel.URL)
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create package dir: %w", err)
	}
	if err := Extract(path, dir); err != nil {
		return nil, fmt.Errorf("extract %s: %w", wheel.Filename, err)
	}
	return rel, nil
}

func (c *Client) download(ctx context.Context, rawURL string) (string, error) {
	resp, err := c.get(ctx, rawURL)
	if err != nil {
		return "", fmt.Errorf("download wheel: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download wheel: status %d", resp.StatusCode)
	}

	f, err := os.CreateTemp("", "pyworker-*.whl")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("download wheel: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// Extract unpacks a wheel into dir, skipping .dist-info metadata. Wheels
// carrying native extensions are rejected before anything is written.
func Extract(wheelPath, dir string) error {
	r, err := zip.OpenReader(wheelPath)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		switch strings.ToLower(filepath.Ext(f.Name)) {
		case ".so", ".pyd", ".dylib":
			return fmt.Errorf("%w: %s", ErrNativeCode, filepath.Base(f.Name))
		}
	}

	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	for _, f := range r.File {
		if strings.Contains(f.Name, ".dist-info/") {
			continue
		}
		dest := filepath.Join(root, filepath.FromSlash(f.Name))
		if dest != root && !strings.HasPrefix(dest, root+string(filepath.Separator)) {
			return fmt.Errorf("illegal path in wheel: %s", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(f, dest); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Installed lists top-level packages and modules in dir.
func Installed(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasPrefix(name, "__"), strings.HasSuffix(name, ".dist-info"):
		case e.IsDir():
			names = append(names, name)
		case strings.HasSuffix(name, ".py"):
			names = append(names, strings.TrimSuffix(name, ".py"))
		}
	}
	return names, nil
}

// Remove deletes the top-level package or module called name from dir.
func Remove(dir, name string) error {
	module := strings.ReplaceAll(Normalize(name), "-", "_")
	var errs []error
	for _, p := range []string{filepath.Join(dir, module), filepath.Join(dir, module+".py")} {
		if err := os.RemoveAll(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
