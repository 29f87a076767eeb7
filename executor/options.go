package executor

import (
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/caffeineduck/pyworker/hostfunc"
	"github.com/caffeineduck/pyworker/interp"
)

// ExecutorOption configures the Executor at creation time.
type ExecutorOption func(*executorConfig)

type executorConfig struct {
	diskCache        bool
	cacheDir         string
	precompile       []Language // languages to compile at startup
	memoryLimitPages uint32     // max memory pages (64KB each), 0 = wazero default (4GB)
	log              *zap.SugaredLogger
}

func defaultExecutorConfig() executorConfig {
	return executorConfig{log: zap.NewNop().Sugar()}
}

// WithDiskCache enables a persistent compilation cache for faster startup.
// Optionally provide a directory; otherwise XDG_CACHE_HOME/pyworker or
// ~/.cache/pyworker is used.
//
//	executor.New(registry, executor.WithDiskCache())            // default dir
//	executor.New(registry, executor.WithDiskCache("/tmp/cache")) // custom dir
func WithDiskCache(dir ...string) ExecutorOption {
	return func(c *executorConfig) {
		c.diskCache = true
		if len(dir) > 0 && dir[0] != "" {
			c.cacheDir = dir[0]
		}
	}
}

// WithPrecompile compiles the given languages when the Executor is created,
// moving the compilation cost to startup.
func WithPrecompile(langs ...Language) ExecutorOption {
	return func(c *executorConfig) {
		c.precompile = langs
	}
}

// WithMemoryLimit sets the maximum memory available to WASM modules, in
// 64KB pages. Zero means no limit beyond wazero's 4GB.
func WithMemoryLimit(pages uint32) ExecutorOption {
	return func(c *executorConfig) {
		c.memoryLimitPages = pages
	}
}

// WithLogger sets the executor's logger; sessions log under it.
func WithLogger(log *zap.SugaredLogger) ExecutorOption {
	return func(c *executorConfig) {
		if log != nil {
			c.log = log
		}
	}
}

// Memory limit constants for convenience.
const (
	MemoryLimit16MB  uint32 = 256
	MemoryLimit64MB  uint32 = 1024
	MemoryLimit256MB uint32 = 4096
	MemoryLimit1GB   uint32 = 16384
)

// PagesForMB converts megabytes to WASM pages.
func PagesForMB(mb uint32) uint32 {
	return mb * 16
}

// SessionOption configures a Session.
type SessionOption func(*sessionConfig)

type mount struct {
	guest    string
	host     string
	readOnly bool
}

type sessionConfig struct {
	startTimeout    time.Duration
	allowedHosts    []string
	httpMaxBodySize int64
	httpTimeout     time.Duration
	mounts          []mount
	packagesDir     string
	fetcher         hostfunc.Fetcher
	workDir         string
	env             map[string]string
	stdout          io.Writer
	stderr          io.Writer
	input           interp.InputFunc
}

func defaultSessionConfig() sessionConfig {
	return sessionConfig{
		startTimeout: 30 * time.Second,
		env:          make(map[string]string),
	}
}

// WithStartTimeout bounds how long the interpreter may take to signal
// readiness.
func WithStartTimeout(d time.Duration) SessionOption {
	return func(c *sessionConfig) {
		if d > 0 {
			c.startTimeout = d
		}
	}
}

// WithAllowedHosts enables http_request for the given hosts.
func WithAllowedHosts(hosts []string) SessionOption {
	return func(c *sessionConfig) {
		c.allowedHosts = hosts
	}
}

func WithHTTPTimeout(d time.Duration) SessionOption {
	return func(c *sessionConfig) {
		c.httpTimeout = d
	}
}

func WithHTTPMaxBodySize(size int64) SessionOption {
	return func(c *sessionConfig) {
		c.httpMaxBodySize = size
	}
}

// WithMount exposes hostPath to the interpreter at guestPath.
func WithMount(guestPath, hostPath string, readOnly bool) SessionOption {
	return func(c *sessionConfig) {
		c.mounts = append(c.mounts, mount{guest: guestPath, host: hostPath, readOnly: readOnly})
	}
}

// WithPackages makes dir importable at /packages and enables installs into
// it through fetcher. A nil fetcher uses the public index.
func WithPackages(dir string, fetcher hostfunc.Fetcher) SessionOption {
	return func(c *sessionConfig) {
		c.packagesDir = dir
		c.fetcher = fetcher
	}
}

// WithWorkDir sets the host directory backing MountDirectory. Without it a
// temporary directory is created and removed on Close.
func WithWorkDir(dir string) SessionOption {
	return func(c *sessionConfig) {
		c.workDir = dir
	}
}

func WithEnv(key, value string) SessionOption {
	return func(c *sessionConfig) {
		c.env[key] = value
	}
}

// WithStdout streams interpreter stdout to w.
func WithStdout(w io.Writer) SessionOption {
	return func(c *sessionConfig) {
		c.stdout = w
	}
}

// WithStderr streams interpreter stderr, minus protocol frames, to w.
func WithStderr(w io.Writer) SessionOption {
	return func(c *sessionConfig) {
		c.stderr = w
	}
}

// WithInput satisfies input() calls made by interpreter code.
func WithInput(fn interp.InputFunc) SessionOption {
	return func(c *sessionConfig) {
		c.input = fn
	}
}
