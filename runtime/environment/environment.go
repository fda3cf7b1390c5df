// Package environment probes the host for the external tools the engine
// leans on: version control for plugin installs, media processing for video
// nodes, and a Python interpreter plus packages for interpreter-backed
// plugins. Queries are read-only; installation goes through explicit
// triggers.
package environment

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"sort"
	"strings"

	"github.com/weftworks/weft/runtime/telemetry"
)

type (
	// ToolStatus reports one external tool or package.
	ToolStatus struct {
		Name      string `json:"name"`
		Installed bool   `json:"installed"`
		Version   string `json:"version,omitempty"`
	}

	// Report is the full environment snapshot.
	Report struct {
		Git      ToolStatus   `json:"git"`
		FFmpeg   ToolStatus   `json:"ffmpeg"`
		Python   ToolStatus   `json:"python"`
		Packages []ToolStatus `json:"packages"`
	}

	// CommandRunner abstracts process execution so tests can capture the
	// commands the checker would run.
	CommandRunner interface {
		Run(ctx context.Context, name string, args ...string) (output string, err error)
		LookPath(name string) (string, error)
	}

	// Option configures a Checker.
	Option func(*Checker)

	// Checker performs environment detection and installation triggers.
	Checker struct {
		runner   CommandRunner
		logger   telemetry.Logger
		packages []string
	}

	execRunner struct{}
)

// Run executes the command and returns its combined output.
func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// LookPath resolves the command on PATH.
func (execRunner) LookPath(name string) (string, error) { return exec.LookPath(name) }

// WithRunner substitutes the command runner. Tests use a fake.
func WithRunner(r CommandRunner) Option {
	return func(c *Checker) {
		if r != nil {
			c.runner = r
		}
	}
}

// WithLogger sets the checker logger (default noop).
func WithLogger(logger telemetry.Logger) Option {
	return func(c *Checker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRequiredPackages sets the Python packages whose installed state the
// report includes.
func WithRequiredPackages(pkgs ...string) Option {
	return func(c *Checker) { c.packages = pkgs }
}

// New builds an environment checker backed by the host's PATH.
func New(opts ...Option) *Checker {
	c := &Checker{
		runner: execRunner{},
		logger: telemetry.NewNoopLogger(),
	}
	for _, o := range opts {
		if o != nil {
			o(c)
		}
	}
	return c
}

// Check probes every tool and required package. It never mutates the host.
func (c *Checker) Check(ctx context.Context) Report {
	report := Report{
		Git:    c.probe(ctx, "git", "--version"),
		FFmpeg: c.probe(ctx, "ffmpeg", "-version"),
		Python: c.probePython(ctx),
	}
	python := c.pythonBinary()
	pkgs := append([]string(nil), c.packages...)
	sort.Strings(pkgs)
	for _, pkg := range pkgs {
		report.Packages = append(report.Packages, c.probePackage(ctx, python, pkg))
	}
	return report
}

// InstallGit triggers a platform package-manager install of git. Platforms
// without a known manager report an error instead of guessing.
func (c *Checker) InstallGit(ctx context.Context) error {
	var name string
	var args []string
	switch runtime.GOOS {
	case "linux":
		name, args = "apt-get", []string{"install", "-y", "git"}
	case "darwin":
		name, args = "brew", []string{"install", "git"}
	default:
		return fmt.Errorf("no git installer known for platform %s", runtime.GOOS)
	}
	out, err := c.runner.Run(ctx, name, args...)
	if err != nil {
		return fmt.Errorf("install git: %w (output: %s)", err, out)
	}
	c.logger.Info(ctx, "git installed", "output", out)
	return nil
}

// InstallPackages installs Python packages through pip. It satisfies
// module.PackageInstaller so interpreter-backed modules can declare package
// dependencies.
func (c *Checker) InstallPackages(ctx context.Context, packages []string) error {
	if len(packages) == 0 {
		return nil
	}
	args := append([]string{"-m", "pip", "install"}, packages...)
	out, err := c.runner.Run(ctx, c.pythonBinary(), args...)
	if err != nil {
		return fmt.Errorf("install packages %v: %w (output: %s)", packages, err, out)
	}
	c.logger.Info(ctx, "packages installed", "packages", packages)
	return nil
}

// probe reports one tool's installed state and version line.
func (c *Checker) probe(ctx context.Context, name string, versionArg string) ToolStatus {
	status := ToolStatus{Name: name}
	if _, err := c.runner.LookPath(name); err != nil {
		return status
	}
	status.Installed = true
	out, err := c.runner.Run(ctx, name, versionArg)
	if err != nil {
		c.logger.Warn(ctx, "tool version probe failed", "tool", name, "err", err)
		return status
	}
	status.Version = firstLine(out)
	return status
}

func (c *Checker) probePython(ctx context.Context) ToolStatus {
	status := c.probe(ctx, c.pythonBinary(), "--version")
	status.Name = "python"
	return status
}

func (c *Checker) probePackage(ctx context.Context, python, pkg string) ToolStatus {
	status := ToolStatus{Name: pkg}
	out, err := c.runner.Run(ctx, python, "-m", "pip", "show", pkg)
	if err != nil {
		return status
	}
	status.Installed = true
	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(line, "Version:"); ok {
			status.Version = strings.TrimSpace(v)
			break
		}
	}
	return status
}

// pythonBinary prefers python3, falling back to python.
func (c *Checker) pythonBinary() string {
	if _, err := c.runner.LookPath("python3"); err == nil {
		return "python3"
	}
	return "python"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
