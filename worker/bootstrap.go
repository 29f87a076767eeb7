package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/caffeineduck/pyworker/installer"
	"github.com/caffeineduck/pyworker/interp"
	"github.com/caffeineduck/pyworker/message"
)

// ensureInitialized brings the session's interpreter up once. Later calls
// only install packages not yet installed. A failed first-time setup
// closes the partial interpreter and leaves the session uninitialized.
func (w *Worker) ensureInitialized(ctx context.Context, packages []string, proxy *message.ProxyConfig) error {
	select {
	case w.initSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-w.initSem }()

	s := w.session
	if s.Initialized() {
		if len(packages) == 0 {
			return nil
		}
		t := s.target()
		w.applyProxy(ctx, t.Interp, proxy)
		w.installer.Install(ctx, t, &s.installed, packages)
		return nil
	}

	w.log.Infow("initializing interpreter", "packages", packages)

	in, err := w.factory(ctx, interp.Config{
		Stdout: routedWriter{r: &s.router},
		Stderr: routedWriter{r: &s.router, stderr: true},
		Input:  w.bridge.Input(),
	})
	if err != nil {
		return fmt.Errorf("construct interpreter: %w", err)
	}

	fail := func(err error) error {
		if cerr := in.Close(); cerr != nil {
			w.log.Warnw("close interpreter after failed init", "error", cerr)
		}
		return err
	}

	if err := in.MountDirectory(w.mountPath); err != nil {
		return fail(fmt.Errorf("mount %s: %w", w.mountPath, err))
	}
	importlib, err := in.Import(ctx, "importlib")
	if err != nil {
		return fail(fmt.Errorf("load package manager: %w", err))
	}

	w.applyProxy(ctx, in, proxy)

	var fresh installer.Set
	w.installer.Install(ctx, installer.Target{Interp: in, Importlib: importlib}, &fresh, packages)

	if err := installer.ConfigureDisplay(ctx, in); err != nil {
		return fail(err)
	}
	if err := w.bridge.Install(ctx, in); err != nil {
		return fail(err)
	}

	for _, name := range fresh.List() {
		s.installed.Add(name)
	}
	s.setInterpreter(in, importlib)
	w.log.Infow("interpreter initialized", "installed", s.Installed())
	return nil
}

// applyProxy is best effort; a bad proxy only loses network access.
func (w *Worker) applyProxy(ctx context.Context, in interp.Interpreter, proxy *message.ProxyConfig) {
	if proxy == nil || !proxy.Enabled {
		return
	}
	u, err := proxy.URL()
	if err != nil {
		w.log.Warnw("invalid proxy configuration", "error", err)
		return
	}
	if err := installer.ConfigureProxy(ctx, in, u); err != nil {
		w.log.Warnw("proxy configuration failed", "proxy", u.Redacted(), "error", err)
		return
	}
	w.log.Infow("proxy configured", "proxy", u.Redacted())
}

// injectScope defines the request's context entries as interpreter
// globals.
func (w *Worker) injectScope(ctx context.Context, in interp.Interpreter, scope map[string]any) error {
	if len(scope) == 0 {
		return nil
	}
	payload, err := json.Marshal(scope)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}
	literal, err := json.Marshal(string(payload))
	if err != nil {
		return err
	}
	code := "import json as _json\nglobals().update(_json.loads(" + string(literal) + "))\ndel _json\n"
	if _, err := in.EvaluateAsync(ctx, code); err != nil {
		return fmt.Errorf("inject context: %w", err)
	}
	return nil
}
