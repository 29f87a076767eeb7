package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/caffeineduck/pyworker/message"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Timeout != message.DefaultTimeout {
		t.Errorf("Timeout = %s", cfg.Timeout)
	}
	if cfg.MountPath != "/mnt" {
		t.Errorf("MountPath = %q", cfg.MountPath)
	}
	if cfg.Redis.Queue != "pyworker:execute" {
		t.Errorf("Redis.Queue = %q", cfg.Redis.Queue)
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("PYWORKER_TIMEOUT", "5000")
	t.Setenv("PYWORKER_REDIS_RESULT_TTL", "10m")
	t.Setenv("PYWORKER_ALLOWED_HOSTS", "pypi.org, files.pythonhosted.org ,")
	t.Setenv("PYWORKER_REDIS_DB", "2")
	t.Setenv("PYWORKER_MEMORY_LIMIT_MB", "256")
	t.Setenv("PYWORKER_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Timeout = %s", cfg.Timeout)
	}
	if cfg.Redis.ResultTTL != 10*time.Minute {
		t.Errorf("ResultTTL = %s", cfg.Redis.ResultTTL)
	}
	if want := []string{"pypi.org", "files.pythonhosted.org"}; !reflect.DeepEqual(cfg.AllowedHosts, want) {
		t.Errorf("AllowedHosts = %v", cfg.AllowedHosts)
	}
	if cfg.Redis.DB != 2 || cfg.MemoryLimitMB != 256 || cfg.LogLevel != "debug" {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("PYWORKER_LISTEN_ADDR=:9999\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("PYWORKER_LISTEN_ADDR") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing env file should be ignored: %v", err)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := map[string]string{
		"PYWORKER_TIMEOUT":    "soon",
		"PYWORKER_REDIS_DB":   "x",
		"PYWORKER_MOUNT_PATH": "mnt",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := Load(""); err == nil {
				t.Errorf("expected error for %s=%s", key, val)
			}
		})
	}
}

func TestTimeoutMustBePositive(t *testing.T) {
	t.Setenv("PYWORKER_TIMEOUT", "0")
	if _, err := Load(""); err == nil {
		t.Error("expected error for zero timeout")
	}
}
