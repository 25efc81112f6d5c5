// Package layout resolves where the bundled runtime, media tool and
// application sources live on disk.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const (
	runtimeDirName   = "node"
	mediaToolDirName = "ffmpeg"
	appDirName       = "app"
	dependencyDir    = "node_modules"
)

// LayoutError reports that a required path could not be located.
type LayoutError struct {
	What       string   // human readable name of the missing piece
	Candidates []string // paths that were tried
}

func (e *LayoutError) Error() string {
	if len(e.Candidates) == 1 {
		return fmt.Sprintf("%s not found at %s", e.What, e.Candidates[0])
	}
	return fmt.Sprintf("%s not found (tried %v)", e.What, e.Candidates)
}

// RuntimeLayout is the resolved on-disk layout. It is resolved once and never
// modified afterwards; accessors return copies of strings only.
type RuntimeLayout struct {
	installRoot         string
	runtimeExecutable   string
	packageManager      string
	mediaToolExecutable string
	appDirectory        string
	serverScript        string
	packaged            bool
}

func (l RuntimeLayout) InstallRoot() string         { return l.installRoot }
func (l RuntimeLayout) RuntimeExecutable() string   { return l.runtimeExecutable }
func (l RuntimeLayout) MediaToolExecutable() string { return l.mediaToolExecutable }
func (l RuntimeLayout) AppDirectory() string        { return l.appDirectory }
func (l RuntimeLayout) ServerScript() string        { return l.serverScript }
func (l RuntimeLayout) Packaged() bool              { return l.packaged }

// PackageManagerExecutable is npm.cmd on Windows when present, npm otherwise.
func (l RuntimeLayout) PackageManagerExecutable() string { return l.packageManager }

// RuntimeDir is the directory holding the runtime executable.
func (l RuntimeLayout) RuntimeDir() string { return filepath.Dir(l.runtimeExecutable) }

// MediaToolDir is the directory holding the media tool executable.
func (l RuntimeLayout) MediaToolDir() string { return filepath.Dir(l.mediaToolExecutable) }

// DependencyDir is the marker directory whose presence means the app's
// packages are installed.
func (l RuntimeLayout) DependencyDir() string { return filepath.Join(l.appDirectory, dependencyDir) }

// Options control resolution.
type Options struct {
	// Executable is the launcher's own path. Defaults to os.Executable().
	Executable string
	// Packaged selects the installed-bundle root (the executable's directory)
	// over the development root (the executable directory's parent).
	Packaged bool
	// InstallRoot, when set, bypasses root detection entirely.
	InstallRoot string
	// ServerScript is the backend entry point relative to the app directory.
	ServerScript string
	// GOOS defaults to runtime.GOOS. Tests override it.
	GOOS string
}

// Resolver turns Options into a RuntimeLayout.
type Resolver struct {
	opts Options
}

// NewResolver creates a Resolver.
func NewResolver(opts Options) *Resolver {
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	if opts.ServerScript == "" {
		opts.ServerScript = "local-server.cjs"
	}
	return &Resolver{opts: opts}
}

// Resolve locates the install root and derives every path from it. It fails
// with *LayoutError when no candidate root contains an app directory. Only
// the app directory is checked here; executables are verified by the
// dependency checker.
func (r *Resolver) Resolve() (RuntimeLayout, error) {
	candidates, err := r.candidateRoots()
	if err != nil {
		return RuntimeLayout{}, err
	}

	var tried []string
	for _, root := range candidates {
		appDir := filepath.Join(root, appDirName)
		tried = append(tried, appDir)
		if info, err := os.Stat(appDir); err == nil && info.IsDir() {
			return r.build(root), nil
		}
	}
	return RuntimeLayout{}, &LayoutError{What: "application directory", Candidates: tried}
}

func (r *Resolver) candidateRoots() ([]string, error) {
	if r.opts.InstallRoot != "" {
		root, err := filepath.Abs(r.opts.InstallRoot)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve install root: %w", err)
		}
		return []string{root}, nil
	}

	exe := r.opts.Executable
	if exe == "" {
		var err error
		exe, err = os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to determine executable path: %w", err)
		}
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	exe, err := filepath.Abs(exe)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable path: %w", err)
	}

	exeDir := filepath.Dir(exe)
	if r.opts.Packaged {
		return []string{exeDir}, nil
	}
	// Development builds live in bin/ or dist/ under the source tree.
	return []string{filepath.Dir(exeDir), exeDir}, nil
}

func (r *Resolver) build(root string) RuntimeLayout {
	runtimeDir := filepath.Join(root, runtimeDirName)
	mediaDir := filepath.Join(root, mediaToolDirName, "bin")
	appDir := filepath.Join(root, appDirName)

	packageManager := filepath.Join(runtimeDir, "npm")
	if r.opts.GOOS == "windows" {
		cmd := filepath.Join(runtimeDir, "npm.cmd")
		if _, err := os.Stat(cmd); err == nil {
			packageManager = cmd
		}
	}

	return RuntimeLayout{
		installRoot:         root,
		runtimeExecutable:   filepath.Join(runtimeDir, exeName("node", r.opts.GOOS)),
		packageManager:      packageManager,
		mediaToolExecutable: filepath.Join(mediaDir, exeName("ffmpeg", r.opts.GOOS)),
		appDirectory:        appDir,
		serverScript:        filepath.Join(appDir, r.opts.ServerScript),
		packaged:            r.opts.Packaged,
	}
}

func exeName(name, goos string) string {
	if goos == "windows" {
		return name + ".exe"
	}
	return name
}

// DetectPackaged reports whether executable sits next to a bundled runtime
// and app directory, which is how the installer lays things out.
func DetectPackaged(executable string) bool {
	dir := filepath.Dir(executable)
	for _, name := range []string{runtimeDirName, appDirName} {
		if info, err := os.Stat(filepath.Join(dir, name)); err != nil || !info.IsDir() {
			return false
		}
	}
	return true
}
