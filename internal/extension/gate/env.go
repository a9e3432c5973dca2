package gate

import (
	"os"

	"github.com/lodgehost/lodge/internal/extension/security"
)

// Getenv reads an environment variable on behalf of an extension.
// Without configuration:read the result is indistinguishable from an
// unset variable; the denial is still recorded for the operator.
func (g *Gate) Getenv(slug, key string) (string, bool) {
	if err := g.check(slug, security.ScopeConfiguration, security.AccessRead, "getenv "+key); err != nil {
		return "", false
	}
	return os.LookupEnv(key)
}
