package hostfunc

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/caffeineduck/pyworker/internal/pypi"
)

// Fetcher downloads a package into a directory on the interpreter's path.
type Fetcher interface {
	Install(ctx context.Context, spec, dir string) (*pypi.Release, error)
	SetProxy(u *url.URL)
}

// PkgConfig configures the package installer.
type PkgConfig struct {
	PackageDir      string   // host directory mounted on the interpreter's path
	AllowedPackages []string // if set, only these packages can be installed
	Fetcher         Fetcher  // defaults to a pypi.Client on the public index
}

// Packages installs pure-Python packages from the index.
type Packages struct {
	cfg PkgConfig
}

func NewPackages(cfg PkgConfig) *Packages {
	if cfg.Fetcher == nil {
		cfg.Fetcher = pypi.New()
	}
	return &Packages{cfg: cfg}
}

// SetProxy routes later downloads through u.
func (p *Packages) SetProxy(u *url.URL) {
	p.cfg.Fetcher.SetProxy(u)
}

// Install fetches spec into the package directory.
func (p *Packages) Install(ctx context.Context, spec string) (*pypi.Release, error) {
	if p.cfg.PackageDir == "" {
		return nil, errors.New("package installation disabled")
	}
	name, _ := pypi.ParseSpec(spec)
	if name == "" {
		return nil, errors.New("package name required")
	}
	if strings.ContainsAny(spec, ";|&$`/\\") {
		return nil, errors.New("invalid package name")
	}
	if !p.allowed(name) {
		return nil, fmt.Errorf("package %q not allowed", name)
	}
	return p.cfg.Fetcher.Install(ctx, spec, p.cfg.PackageDir)
}

func (p *Packages) allowed(name string) bool {
	if len(p.cfg.AllowedPackages) == 0 {
		return true
	}
	name = pypi.Normalize(name)
	for _, pkg := range p.cfg.AllowedPackages {
		if pypi.Normalize(pkg) == name {
			return true
		}
	}
	return false
}

// Call is the install_pkg host function.
func (p *Packages) Call(ctx context.Context, args map[string]any) (any, error) {
	var req InstallRequest
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	rel, err := p.Install(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	return InstallResponse{Name: rel.Info.Name, Version: rel.Info.Version}, nil
}
