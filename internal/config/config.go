// Package config loads pyworker settings from defaults, an optional .env
// file and PYWORKER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/caffeineduck/pyworker/message"
)

const envPrefix = "PYWORKER_"

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Queue is the list execute requests are popped from.
	Queue string
	// ResultTTL bounds how long responses are kept.
	ResultTTL time.Duration
}

type Config struct {
	PythonWASM  string
	CacheDir    string
	PackagesDir string
	WorkDir     string
	MountPath   string

	Timeout       time.Duration
	MemoryLimitMB uint32
	AllowedHosts  []string
	IndexURL      string

	LogLevel   string
	ListenAddr string
	JWTSecret  string

	Redis RedisConfig
}

// Default returns the built-in settings.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		PythonWASM:  filepath.Join(home, ".pyworker", "python.wasm"),
		CacheDir:    filepath.Join(os.TempDir(), "pyworker-cache"),
		PackagesDir: filepath.Join(home, ".pyworker", "packages"),
		MountPath:   "/mnt",
		Timeout:     message.DefaultTimeout,
		IndexURL:    "https://pypi.org/pypi",
		LogLevel:    "info",
		ListenAddr:  ":8080",
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			Queue:     "pyworker:execute",
			ResultTTL: time.Hour,
		},
	}
}

// Load reads envFile when it exists, then overlays PYWORKER_* variables on
// the defaults. A missing envFile is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := Default()
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		d, err := parseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
			return
		}
		*dst = d
	}

	str("PYTHON_WASM", &cfg.PythonWASM)
	str("CACHE_DIR", &cfg.CacheDir)
	str("PACKAGES_DIR", &cfg.PackagesDir)
	str("WORK_DIR", &cfg.WorkDir)
	str("MOUNT_PATH", &cfg.MountPath)
	str("INDEX_URL", &cfg.IndexURL)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LISTEN_ADDR", &cfg.ListenAddr)
	str("JWT_SECRET", &cfg.JWTSecret)
	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	str("REDIS_QUEUE", &cfg.Redis.Queue)
	dur("TIMEOUT", &cfg.Timeout)
	dur("REDIS_RESULT_TTL", &cfg.Redis.ResultTTL)

	if v, ok := lookup("ALLOWED_HOSTS"); ok {
		cfg.AllowedHosts = splitList(v)
	}
	if v, ok := lookup("REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sREDIS_DB: %w", envPrefix, err))
		} else {
			cfg.Redis.DB = n
		}
	}
	if v, ok := lookup("MEMORY_LIMIT_MB"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMEMORY_LIMIT_MB: %w", envPrefix, err))
		} else {
			cfg.MemoryLimitMB = uint32(n)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Validate checks settings that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if !strings.HasPrefix(c.MountPath, "/") {
		return fmt.Errorf("mount path must be absolute, got %q", c.MountPath)
	}
	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

// parseDuration accepts Go durations ("90s") or bare milliseconds.
func parseDuration(v string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
