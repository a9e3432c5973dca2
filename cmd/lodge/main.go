// Package main is the entry point for the Lodge extension host CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lodgehost/lodge/internal/extension"
	"github.com/lodgehost/lodge/internal/extension/resolver"
	"github.com/lodgehost/lodge/internal/extension/security"
	"github.com/lodgehost/lodge/internal/host"
)

// Version information (set via ldflags during build).
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		root        string
		stateDir    string
		logLevel    string
		showVersion bool
	)

	flag.StringVar(&root, "root", "", "Extensions root directory")
	flag.StringVar(&stateDir, "state", "", "Durable state directory")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Lodge - extension host\n\n")
		fmt.Fprintf(os.Stderr, "Usage: lodge [options] <command> [args]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  run                          Boot the host and keep running\n")
		fmt.Fprintf(os.Stderr, "  install <slug>               Register an extension directory\n")
		fmt.Fprintf(os.Stderr, "  scan <slug>                  Run the security scan; a pass marks the extension scanned\n")
		fmt.Fprintf(os.Stderr, "  approve <slug> [caps...]     Approve capabilities (default: all declared)\n")
		fmt.Fprintf(os.Stderr, "  activate <slug>              Activate an approved extension\n")
		fmt.Fprintf(os.Stderr, "  deactivate <slug>            Deactivate an extension\n")
		fmt.Fprintf(os.Stderr, "  uninstall <slug>             Remove an extension\n")
		fmt.Fprintf(os.Stderr, "  status <slug>                Show lifecycle state and strikes\n")
		fmt.Fprintf(os.Stderr, "  reset <slug>                 Clear strikes and release quarantine\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("Lodge %s\n", version)
		return 0
	}
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return 1
	}

	log := host.NewLogger(host.LoggerConfig{
		Level:  host.ParseLogLevel(logLevel),
		Output: os.Stderr,
		Prefix: "lodge",
	})

	var opts []host.Option
	if root != "" {
		opts = append(opts, host.WithExtensionsRoot(root))
	}
	if stateDir != "" {
		opts = append(opts, host.WithStateDir(stateDir))
	}
	cfg := host.DefaultConfig(opts...)

	installer := resolver.NewShellInstaller("", cfg.InstallTimeout, log)
	controller, err := extension.NewController(cfg, installer, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer controller.Close()

	if err := dispatch(controller, args[0], args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func dispatch(c *extension.Controller, command string, args []string) error {
	ctx := context.Background()

	switch command {
	case "run":
		return runHost(ctx, c)

	case "install":
		slug, err := oneSlug(command, args)
		if err != nil {
			return err
		}
		m, err := c.Install(slug)
		if err != nil {
			return err
		}
		fmt.Printf("installed %s %s\n", m.Slug, m.Version)
		return nil

	case "scan":
		slug, err := oneSlug(command, args)
		if err != nil {
			return err
		}
		result, err := c.RequestActivate(ctx, slug)
		for _, v := range result.Violations {
			fmt.Println(v.String())
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s passed the scan\n", slug)
		return nil

	case "approve":
		if len(args) < 1 {
			return fmt.Errorf("usage: lodge approve <slug> [scope:access ...]")
		}
		slug := args[0]
		caps, err := parseCapabilities(c, slug, args[1:])
		if err != nil {
			return err
		}
		if err := c.Approve(slug, caps); err != nil {
			return err
		}
		fmt.Printf("approved %s with %d capability(ies)\n", slug, len(caps))
		return nil

	case "activate":
		slug, err := oneSlug(command, args)
		if err != nil {
			return err
		}
		if err := c.Activate(ctx, slug); err != nil {
			return err
		}
		fmt.Printf("%s is active\n", slug)
		return nil

	case "deactivate":
		slug, err := oneSlug(command, args)
		if err != nil {
			return err
		}
		if err := c.Deactivate(ctx, slug); err != nil {
			return err
		}
		fmt.Printf("%s is deactivated\n", slug)
		return nil

	case "uninstall":
		slug, err := oneSlug(command, args)
		if err != nil {
			return err
		}
		if err := c.Uninstall(slug); err != nil {
			return err
		}
		fmt.Printf("%s is uninstalled\n", slug)
		return nil

	case "status":
		slug, err := oneSlug(command, args)
		if err != nil {
			return err
		}
		return printStatus(c, slug)

	case "reset":
		slug, err := oneSlug(command, args)
		if err != nil {
			return err
		}
		if err := c.Reset(slug); err != nil {
			return err
		}
		fmt.Printf("%s strikes cleared\n", slug)
		return nil

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// runHost boots the controller and blocks until a termination signal.
func runHost(ctx context.Context, c *extension.Controller) error {
	if err := c.Boot(ctx); err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals
	return nil
}

func printStatus(c *extension.Controller, slug string) error {
	st, err := c.Status(slug)
	if err != nil {
		return err
	}

	fmt.Printf("%s: %s\n", st.Slug, st.State)
	if st.Strikes > 0 {
		fmt.Printf("  strikes: %d", st.Strikes)
		if !st.LastCrash.IsZero() {
			fmt.Printf(" (last crash %s)", st.LastCrash.Format(time.RFC3339))
		}
		fmt.Println()
	}
	for _, granted := range st.Granted {
		fmt.Printf("  granted: %s\n", granted)
	}
	for lib, ver := range st.Libraries {
		fmt.Printf("  library: %s %s\n", lib, ver)
	}
	for _, d := range st.Denials {
		fmt.Printf("  denied: %s:%s (%s)\n", d.Scope, d.Access, d.Op)
	}
	return nil
}

// oneSlug extracts the single slug argument a command expects.
func oneSlug(command string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: lodge %s <slug>", command)
	}
	return args[0], nil
}

// parseCapabilities turns scope:access arguments into capabilities,
// defaulting to everything the manifest declared.
func parseCapabilities(c *extension.Controller, slug string, args []string) ([]security.Capability, error) {
	if len(args) == 0 {
		m, err := c.Manifest(slug)
		if err != nil {
			return nil, err
		}
		return m.Permissions, nil
	}

	caps := make([]security.Capability, 0, len(args))
	for _, arg := range args {
		scope, access, ok := strings.Cut(arg, ":")
		if !ok {
			return nil, fmt.Errorf("capability %q is not scope:access", arg)
		}
		capability := security.Capability{Scope: security.Scope(scope), Access: security.Access(access)}
		if !capability.IsValid() {
			return nil, fmt.Errorf("unrecognized capability %s", capability)
		}
		caps = append(caps, capability)
	}
	return caps, nil
}
