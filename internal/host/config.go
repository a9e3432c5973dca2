package host

import (
	"os"
	"path/filepath"
	"time"
)

// Default limits for extension execution.
const (
	// DefaultExecutionTimeout bounds a single call into extension code.
	DefaultExecutionTimeout = 5 * time.Second

	// DefaultInstallTimeout bounds one package-manager invocation.
	DefaultInstallTimeout = 2 * time.Minute
)

// Config holds host-wide paths and limits.
type Config struct {
	// ExtensionsRoot is the directory containing one subdirectory per
	// extension, named exactly by slug.
	ExtensionsRoot string

	// StateDir holds durable host state: boot locks, strike records,
	// the settings store and the record store.
	StateDir string

	// ExecutionTimeout bounds individual calls into extension code.
	ExecutionTimeout time.Duration

	// InstallTimeout bounds package-manager install/uninstall commands.
	InstallTimeout time.Duration
}

// Option configures a Config.
type Option func(*Config)

// WithExtensionsRoot sets the extensions root directory.
func WithExtensionsRoot(dir string) Option {
	return func(c *Config) {
		c.ExtensionsRoot = dir
	}
}

// WithStateDir sets the durable state directory.
func WithStateDir(dir string) Option {
	return func(c *Config) {
		c.StateDir = dir
	}
}

// WithExecutionTimeout sets the extension call timeout.
func WithExecutionTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ExecutionTimeout = d
	}
}

// WithInstallTimeout sets the package-manager command timeout.
func WithInstallTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.InstallTimeout = d
	}
}

// DefaultConfig returns the default host configuration.
func DefaultConfig(opts ...Option) Config {
	c := Config{
		ExtensionsRoot:   defaultDir("extensions"),
		StateDir:         defaultDir("state"),
		ExecutionTimeout: DefaultExecutionTimeout,
		InstallTimeout:   DefaultInstallTimeout,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// defaultDir returns a directory under the user's lodge config dir,
// falling back to a relative path when the home dir is unknown.
func defaultDir(name string) string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "lodge", name)
	}
	return filepath.Join(".lodge", name)
}
