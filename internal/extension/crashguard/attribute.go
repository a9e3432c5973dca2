package crashguard

import (
	"context"
	"errors"
	"time"

	"github.com/lodgehost/lodge/internal/extension/runtime"
)

// AttributeFailure charges a background failure to an extension when
// the origin is certain: the call-context attribution first, then an
// ExtensionError in the chain. An unattributable failure records no
// strike; a false strike is worse than a missed one. Returns the
// charged slug and new count, or ("", 0) when nothing was charged.
func (g *Guard) AttributeFailure(ctx context.Context, err error) (string, int, error) {
	if err == nil {
		return "", 0, nil
	}

	slug, ok := runtime.ExtensionFrom(ctx)
	if !ok {
		var extErr *runtime.ExtensionError
		if !errors.As(err, &extErr) {
			g.log.Warn("unattributable background failure, no strike: %v", err)
			return "", 0, nil
		}
		slug = extErr.Slug
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	count, addErr := g.strikes.add(slug, time.Now().UTC())
	if addErr != nil {
		return "", 0, addErr
	}
	g.log.Warn("background failure attributed to %s, strike %d: %v", slug, count, err)
	return slug, count, nil
}
