package resolver

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/lodgehost/lodge/internal/host"
)

// Installer performs library install and uninstall through an external
// package manager. Install resolves the range to a concrete version and
// reports what it installed.
type Installer interface {
	Install(ctx context.Context, library, rng string) (*semver.Version, error)
	Remove(ctx context.Context, library string) error
}

// ShellInstaller drives the luarocks command line.
type ShellInstaller struct {
	// Command is the package-manager binary, "luarocks" by default.
	Command string

	// Tree is the rocks tree to install into. Empty means the default.
	Tree string

	// Timeout bounds a single invocation.
	Timeout time.Duration

	log *host.Logger
}

// NewShellInstaller creates an installer using the luarocks binary.
func NewShellInstaller(tree string, timeout time.Duration, log *host.Logger) *ShellInstaller {
	if log == nil {
		log = host.NullLogger
	}
	if timeout <= 0 {
		timeout = host.DefaultInstallTimeout
	}
	return &ShellInstaller{
		Command: "luarocks",
		Tree:    tree,
		Timeout: timeout,
		log:     log.WithComponent("installer"),
	}
}

// installedVersion matches the version luarocks reports after a
// successful install, e.g. "dkjson 2.8-1 is now installed".
var installedVersion = regexp.MustCompile(`(?m)^(\S+)\s+(\d+[^\s-]*)(?:-\d+)?\s+is now installed`)

// Install runs luarocks install and parses the installed version from
// its output. The declared range has no luarocks equivalent, so the
// latest version is installed and then checked against the range; a
// mismatch uninstalls it again and fails.
func (si *ShellInstaller) Install(ctx context.Context, library, rng string) (*semver.Version, error) {
	constraint, err := semver.NewConstraint(rng)
	if err != nil {
		return nil, fmt.Errorf("invalid range %q: %w", rng, err)
	}

	out, err := si.run(ctx, "install", library)
	if err != nil {
		return nil, err
	}

	version, err := parseInstalledVersion(library, out)
	if err != nil {
		return nil, err
	}

	if !constraint.Check(version) {
		if rmErr := si.Remove(ctx, library); rmErr != nil {
			si.log.Warn("cleanup of %q after range mismatch failed: %v", library, rmErr)
		}
		return nil, fmt.Errorf("installed %s %s does not satisfy range %q", library, version, rng)
	}
	return version, nil
}

// Remove runs luarocks remove.
func (si *ShellInstaller) Remove(ctx context.Context, library string) error {
	_, err := si.run(ctx, "remove", library)
	return err
}

func (si *ShellInstaller) run(ctx context.Context, verb, library string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, si.Timeout)
	defer cancel()

	args := []string{verb, library}
	if si.Tree != "" {
		args = append([]string{"--tree", si.Tree}, args...)
	}

	cmd := exec.CommandContext(ctx, si.Command, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	si.log.Debug("running %s %s", si.Command, strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s %s %s failed: %w: %s",
			si.Command, verb, library, err, strings.TrimSpace(out.String()))
	}
	return out.String(), nil
}

// parseInstalledVersion extracts the library's version from luarocks
// output, tolerating rockspec revision suffixes like "2.8-1".
func parseInstalledVersion(library, out string) (*semver.Version, error) {
	for _, m := range installedVersion.FindAllStringSubmatch(out, -1) {
		if m[1] != library {
			continue
		}
		version, err := semver.NewVersion(m[2])
		if err != nil {
			return nil, fmt.Errorf("unparseable installed version %q for %s: %w", m[2], library, err)
		}
		return version, nil
	}
	return nil, fmt.Errorf("could not determine installed version of %q from package-manager output", library)
}
