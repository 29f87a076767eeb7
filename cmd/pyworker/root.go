package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caffeineduck/pyworker/executor"
	"github.com/caffeineduck/pyworker/hostfunc"
	"github.com/caffeineduck/pyworker/internal/config"
	"github.com/caffeineduck/pyworker/internal/logging"
	"github.com/caffeineduck/pyworker/internal/pypi"
	"github.com/caffeineduck/pyworker/interp"
	"github.com/caffeineduck/pyworker/language/python"
	"github.com/caffeineduck/pyworker/worker"
)

// app carries the resolved configuration into every command.
type app struct {
	cfg     *config.Config
	log     *zap.SugaredLogger
	noCache bool
}

// factoryFunc builds the interpreter factory. The returned func releases
// the runtime behind it.
type factoryFunc func(a *app) (interp.Factory, func(), error)

func newRootCmd(build factoryFunc) *cobra.Command {
	a := &app{}
	var envFile string

	root := &cobra.Command{
		Use:   "pyworker",
		Short: "Persistent Python worker on a WebAssembly interpreter",
		Long: `pyworker - run Python code in a persistent WebAssembly interpreter.

Hosts talk to a worker with JSON messages: execute requests, input replies,
responses and input requests. Pick a transport with a subcommand (stdio,
serve, queue) or use run and repl interactively.

Settings come from defaults, an optional .env file, PYWORKER_* environment
variables and finally flags.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			if err := applyFlags(cmd, cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			log, err := logging.New(cfg.LogLevel)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = log
			a.noCache, _ = cmd.Flags().GetBool("no-cache")
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				a.log.Sync()
			}
		},
	}

	defaults := config.Default()
	f := root.PersistentFlags()
	f.StringVar(&envFile, "env-file", ".env", "Optional .env file")
	f.String("log-level", defaults.LogLevel, "Log level: debug, info, warn, error")
	f.String("python-wasm", defaults.PythonWASM, "Path to the Python interpreter WASM module")
	f.String("cache-dir", defaults.CacheDir, "Compilation cache directory")
	f.Bool("no-cache", false, "Disable compilation cache")
	f.String("packages-dir", defaults.PackagesDir, "Directory packages are installed into")
	f.String("work-dir", defaults.WorkDir, "Host directory backing the mounted working directory (default: temporary)")
	f.String("mount-path", defaults.MountPath, "Interpreter path of the working directory")
	f.Duration("timeout", defaults.Timeout, "Default execution timeout")
	f.Uint32("memory", defaults.MemoryLimitMB, "Memory limit in MB (0 = runtime default)")
	f.StringSlice("allow-host", nil, "Allow HTTP to host (repeatable)")
	f.String("index-url", defaults.IndexURL, "Package index JSON API base URL")

	root.AddCommand(
		newRunCmd(a, build),
		newReplCmd(a, build),
		newStdioCmd(a, build),
		newServeCmd(a, build),
		newQueueCmd(a, build),
		newDepsCmd(a),
	)
	return root
}

// applyFlags overlays flags the user set explicitly onto cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	strs := map[string]*string{
		"log-level":    &cfg.LogLevel,
		"python-wasm":  &cfg.PythonWASM,
		"cache-dir":    &cfg.CacheDir,
		"packages-dir": &cfg.PackagesDir,
		"work-dir":     &cfg.WorkDir,
		"mount-path":   &cfg.MountPath,
		"index-url":    &cfg.IndexURL,
	}
	for name, dst := range strs {
		if flags.Changed(name) {
			v, err := flags.GetString(name)
			if err != nil {
				return err
			}
			*dst = v
		}
	}
	if flags.Changed("timeout") {
		cfg.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("memory") {
		cfg.MemoryLimitMB, _ = flags.GetUint32("memory")
	}
	if flags.Changed("allow-host") {
		cfg.AllowedHosts, _ = flags.GetStringSlice("allow-host")
	}
	return nil
}

// wasmFactory builds interpreters on the Python WASM module with packages,
// HTTP and the working directory configured from a.cfg.
func wasmFactory(a *app) (interp.Factory, func(), error) {
	lang := python.New(python.WithModulePath(a.cfg.PythonWASM))

	opts := []executor.ExecutorOption{
		executor.WithLogger(a.log.Named("executor")),
		executor.WithPrecompile(lang),
	}
	if !a.noCache {
		opts = append(opts, executor.WithDiskCache(a.cfg.CacheDir))
	}
	if a.cfg.MemoryLimitMB > 0 {
		opts = append(opts, executor.WithMemoryLimit(executor.PagesForMB(a.cfg.MemoryLimitMB)))
	}

	exec, err := executor.New(hostfunc.NewRegistry(), opts...)
	if err != nil {
		return nil, nil, err
	}

	fetcher := pypi.New(pypi.WithIndexURL(a.cfg.IndexURL), pypi.WithLogger(a.log.Named("pypi")))
	sessionOpts := []executor.SessionOption{
		executor.WithPackages(a.cfg.PackagesDir, fetcher),
		executor.WithAllowedHosts(a.cfg.AllowedHosts),
	}
	if a.cfg.WorkDir != "" {
		sessionOpts = append(sessionOpts, executor.WithWorkDir(a.cfg.WorkDir))
	}

	cleanup := func() {
		if err := exec.Close(); err != nil {
			a.log.Warnw("close executor", "error", err)
		}
	}
	return executor.Factory(exec, lang, sessionOpts...), cleanup, nil
}

func (a *app) workerOptions() []worker.Option {
	return []worker.Option{
		worker.WithDefaultTimeout(a.cfg.Timeout),
		worker.WithMountPath(a.cfg.MountPath),
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
