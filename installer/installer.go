// Package installer resolves requested package names and installs them into
// an interpreter, trying known alternative distributions when the canonical
// one fails.
package installer

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/caffeineduck/pyworker/interp"
)

//go:embed configure/*.py
var scripts embed.FS

// aliases maps import names to distribution names.
var aliases = map[string]string{
	"sklearn":  "scikit-learn",
	"bs4":      "beautifulsoup4",
	"PIL":      "pillow",
	"cv2":      "opencv-python",
	"dateutil": "python-dateutil",
	"yaml":     "pyyaml",
}

// alternatives lists fallback distributions by canonical name, in order.
var alternatives = map[string][]string{
	"opencv-python":   {"opencv-python-headless", "cv2"},
	"tensorflow":      {"tensorflow-cpu"},
	"torch":           {"pytorch"},
	"pillow":          {"PIL"},
	"beautifulsoup4":  {"bs4"},
	"python-dateutil": {"dateutil"},
	"pyyaml":          {"yaml"},
}

// configurators names the canonical packages with a post-install script
// under configure/.
var configurators = map[string]bool{
	"matplotlib":    true,
	"seaborn":       true,
	"plotly":        true,
	"bokeh":         true,
	"opencv-python": true,
}

// Canonical returns the distribution name for a requested package.
func Canonical(name string) string {
	if c, ok := aliases[name]; ok {
		return c
	}
	return name
}

// Alternatives returns the fallback distributions for a canonical name.
func Alternatives(canonical string) []string {
	return append([]string(nil), alternatives[canonical]...)
}

// Target is the interpreter packages are installed into. Importlib, when
// set, is used to invalidate import caches after each install.
type Target struct {
	Interp    interp.Interpreter
	Importlib interp.Module
}

// Result reports the outcome of one Install call, by requested name.
type Result struct {
	Installed []string
	Failed    []string
	Skipped   []string
}

type Installer struct {
	log *zap.SugaredLogger
}

func New(log *zap.SugaredLogger) *Installer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Installer{log: log}
}

// Install installs names in order, skipping those already in have. Newly
// installed names are added to have. Failures are logged and reported but
// never returned as an error.
func (i *Installer) Install(ctx context.Context, t Target, have *Set, names []string) Result {
	var res Result
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			i.log.Warnw("empty package name")
			res.Failed = append(res.Failed, name)
			continue
		}
		if have.Has(name) {
			res.Skipped = append(res.Skipped, name)
			continue
		}
		if err := ctx.Err(); err != nil {
			res.Failed = append(res.Failed, name)
			continue
		}

		canonical := Canonical(name)
		dist, err := i.installOne(ctx, t.Interp, canonical)
		if err != nil {
			i.log.Warnw("package install failed", "package", name, "error", err)
			res.Failed = append(res.Failed, name)
			continue
		}

		have.Add(name)
		res.Installed = append(res.Installed, name)
		i.log.Infow("package installed", "package", name, "distribution", dist)

		if t.Importlib != nil {
			if _, err := t.Importlib.Call(ctx, "invalidate_caches"); err != nil {
				i.log.Debugw("invalidate import caches", "error", err)
			}
		}
		i.configure(ctx, t.Interp, canonical)
	}

	if len(res.Failed) > 0 {
		i.log.Warnw("some packages failed to install", "packages", res.Failed)
	}
	return res
}

func (i *Installer) installOne(ctx context.Context, in interp.Interpreter, canonical string) (string, error) {
	err := in.InstallPackage(ctx, canonical)
	if err == nil {
		return canonical, nil
	}
	for _, alt := range alternatives[canonical] {
		i.log.Debugw("trying alternative distribution", "package", canonical, "alternative", alt, "previous", err)
		altErr := in.InstallPackage(ctx, alt)
		if altErr == nil {
			return alt, nil
		}
		i.log.Debugw("alternative failed", "alternative", alt, "error", altErr)
	}
	return "", fmt.Errorf("install %s: %w", canonical, err)
}

func (i *Installer) configure(ctx context.Context, in interp.Interpreter, canonical string) {
	if !configurators[canonical] {
		return
	}
	src, err := scripts.ReadFile("configure/" + canonical + ".py")
	if err != nil {
		i.log.Warnw("missing package configuration", "package", canonical, "error", err)
		return
	}
	if _, err := in.EvaluateAsync(ctx, string(src)); err != nil {
		i.log.Warnw("package configuration failed", "package", canonical, "error", err)
	}
}

// ConfigureDisplay installs the display_data helper.
func ConfigureDisplay(ctx context.Context, in interp.Interpreter) error {
	src, err := scripts.ReadFile("configure/display.py")
	if err != nil {
		return err
	}
	if _, err := in.EvaluateAsync(ctx, string(src)); err != nil {
		return fmt.Errorf("configure display: %w", err)
	}
	return nil
}

// ConfigureProxy routes outbound traffic through u: host-side fetches when
// the interpreter supports it, and urllib inside the interpreter.
func ConfigureProxy(ctx context.Context, in interp.Interpreter, u *url.URL) error {
	if ps, ok := in.(interp.ProxySetter); ok {
		ps.SetProxy(u)
	}
	src, err := scripts.ReadFile("configure/proxy.py")
	if err != nil {
		return err
	}
	literal, err := json.Marshal(u.String())
	if err != nil {
		return err
	}
	code := "_proxy_url = " + string(literal) + "\n" + string(src)
	if _, err := in.EvaluateAsync(ctx, code); err != nil {
		return fmt.Errorf("configure proxy: %w", err)
	}
	return nil
}
