// Command gatewayd runs the agent gateway: the local HTTP control
// plane that supervises tool calls, routes chat completions, and keeps
// the audit trail.
//
// Usage:
//
//	gatewayd serve --config gateway.yaml
//	gatewayd validate --config gateway.yaml
//	gatewayd setup --config gateway.yaml
//	gatewayd schema
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/invopop/jsonschema"
	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/UrHighness01/Intelli-sub000/pkg/auth"
	"github.com/UrHighness01/Intelli-sub000/pkg/config"
	"github.com/UrHighness01/Intelli-sub000/pkg/gateway"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the gateway."`
	Validate ValidateCmd `cmd:"" help:"Validate the configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Print the config JSON schema."`
	Setup    SetupCmd    `cmd:"" help:"Create the initial admin account."`

	Config   string `short:"c" help:"Path to config file." type:"path" default:"gateway.yaml"`
	Backend  string `help:"Config backend (file, consul, etcd, zookeeper)." default:"file"`
	Endpoint string `help:"Remote config backend endpoint."`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

func (c *CLI) loader(watch bool, onChange func(*config.Config) error) (*config.Loader, error) {
	opts := config.LoaderOptions{
		Type:     config.BackendType(c.Backend),
		Path:     c.Config,
		Watch:    watch,
		OnChange: onChange,
	}
	if c.Endpoint != "" {
		opts.Endpoints = []string{c.Endpoint}
	}
	return config.NewLoader(opts)
}

// VersionCmd shows build information.
type VersionCmd struct{}

func (c *VersionCmd) Run(*CLI) error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("gatewayd %s\n", version)
	return nil
}

// ServeCmd runs the gateway until interrupted.
type ServeCmd struct{}

func (c *ServeCmd) Run(cli *CLI) error {
	loader, err := cli.loader(false, nil)
	if err != nil {
		return err
	}
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := gateway.New(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	return gw.Run(ctx)
}

// ValidateCmd loads and validates the config, printing
// "configuration OK" on success.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	loader, err := cli.loader(false, nil)
	if err != nil {
		return err
	}
	if _, err := loader.Load(); err != nil {
		return err
	}
	fmt.Println("configuration OK")
	return nil
}

// SchemaCmd prints the config document's JSON schema.
type SchemaCmd struct{}

func (c *SchemaCmd) Run(*CLI) error {
	reflector := jsonschema.Reflector{ExpandedStruct: true}
	out, err := json.MarshalIndent(reflector.Reflect(&config.Config{}), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// SetupCmd is the first-run interactive admin creation, reading the
// password with echo disabled.
type SetupCmd struct{}

func (c *SetupCmd) Run(cli *CLI) error {
	loader, err := cli.loader(false, nil)
	if err != nil {
		return err
	}
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	store, err := auth.New(auth.Config{
		UsersPath:     cfg.Auth.UsersPath,
		RevokedPath:   cfg.Auth.RevocationPath,
		AccessExpire:  cfg.Auth.AccessTTL,
		RefreshExpire: cfg.Auth.RefreshTTL,
	})
	if err != nil {
		return err
	}

	fmt.Print("admin password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return err
	}
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	fmt.Print("confirm password: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return err
	}
	if string(password) != string(confirm) {
		return fmt.Errorf("passwords do not match")
	}

	if err := store.EnsureDefaultAdmin(string(password)); err != nil {
		return err
	}
	fmt.Println("admin account ready")
	return nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func main() {
	// A local .env is optional; missing files are not an error.
	_ = godotenv.Load()

	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("gatewayd"),
		kong.Description("Agent gateway: supervised tool calls, chat routing, audit."),
		kong.UsageOnError(),
	)
	setupLogging(cli.LogLevel)

	if err := ctx.Run(cli); err != nil {
		slog.Error("gatewayd failed", "error", err)
		os.Exit(1)
	}
}
