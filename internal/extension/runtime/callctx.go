package runtime

import "context"

type extensionKey struct{}

// WithExtension returns a context attributing subsequent work to the
// extension. The controller sets this before running extension code so
// failures surfacing from background tasks can still be attributed.
func WithExtension(ctx context.Context, slug string) context.Context {
	return context.WithValue(ctx, extensionKey{}, slug)
}

// ExtensionFrom returns the extension the context is attributed to.
func ExtensionFrom(ctx context.Context) (string, bool) {
	slug, ok := ctx.Value(extensionKey{}).(string)
	return slug, ok && slug != ""
}
