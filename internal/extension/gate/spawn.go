package gate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"

	"github.com/lodgehost/lodge/internal/extension/security"
)

// maxFetchBody bounds the response body an extension may pull down.
const maxFetchBody = 4 << 20

// Spawn runs an external command on behalf of an extension and returns
// its combined output. Requires process-control:admin.
func (g *Gate) Spawn(ctx context.Context, slug, name string, args ...string) (string, error) {
	op := "spawn " + name
	if err := g.check(slug, security.ScopeProcess, security.AccessAdmin, op); err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	g.log.Info("extension %s spawning %s %s", slug, name, strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("command %s failed: %w", name, err)
	}
	return out.String(), nil
}

// Fetch performs an HTTP GET on behalf of an extension and returns the
// body. Requires network:admin.
func (g *Gate) Fetch(ctx context.Context, slug, url string) (string, error) {
	if err := g.check(slug, security.ScopeNetwork, security.AccessAdmin, "fetch "+url); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", url, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch of %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return "", fmt.Errorf("failed to read response from %s: %w", url, err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch of %s returned %s", url, resp.Status)
	}
	return string(body), nil
}

// Notify delivers a user-facing notification from an extension.
// Requires notification:send. Without an installed sink the message is
// logged instead.
func (g *Gate) Notify(slug, message string) error {
	if err := g.check(slug, security.ScopeNotification, security.AccessSend, "notify"); err != nil {
		return err
	}

	g.mu.RLock()
	notifier := g.notifier
	g.mu.RUnlock()

	if notifier != nil {
		notifier(slug, message)
		return nil
	}
	g.log.Info("notification from %s: %s", slug, message)
	return nil
}
