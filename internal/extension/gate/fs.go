package gate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lodgehost/lodge/internal/extension/security"
)

// ReadFile reads a file on behalf of an extension. Paths inside the
// extension's own directory need no capability; anything else requires
// filesystem:read.
func (g *Gate) ReadFile(slug, path string) ([]byte, error) {
	if !g.inHomeDir(slug, path) {
		if err := g.check(slug, security.ScopeFilesystem, security.AccessRead, "read "+path); err != nil {
			return nil, err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// WriteFile writes a file on behalf of an extension, with the same
// own-directory exception as ReadFile and filesystem:write elsewhere.
func (g *Gate) WriteFile(slug, path string, data []byte) error {
	if !g.inHomeDir(slug, path) {
		if err := g.check(slug, security.ScopeFilesystem, security.AccessWrite, "write "+path); err != nil {
			return err
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// inHomeDir reports whether the path resolves inside the extension's
// own directory. Relative escapes are resolved before comparison, so
// "dir/../../etc/passwd" is outside.
func (g *Gate) inHomeDir(slug, path string) bool {
	home := g.homeDir(slug)
	if home == "" {
		return false
	}
	return isWithin(home, path)
}

// isWithin reports whether path is root or inside it.
func isWithin(root, path string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..")
}
