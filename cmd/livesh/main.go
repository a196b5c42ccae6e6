package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"

	"github.com/ship-commander/livesh/internal/commands"
	"github.com/ship-commander/livesh/internal/config"
	"github.com/ship-commander/livesh/internal/logging"
	"github.com/ship-commander/livesh/internal/runner"
	"github.com/ship-commander/livesh/internal/shell"
	"github.com/ship-commander/livesh/internal/telemetry"
)

// Version is set at build time.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code, err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(code)
}

func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) (int, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return 1, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(ctx, logging.WithLevel(cfg.LogLevel))
	if err != nil {
		return 1, fmt.Errorf("initialize logging: %w", err)
	}
	defer func() {
		if closeErr := logger.Close(); closeErr != nil {
			fmt.Fprintf(errOut, "failed to close logger: %v\n", closeErr)
		}
	}()

	a := &app{cfg: cfg, logger: logger.Logger, in: in, out: out, errOut: errOut}
	cmd, err := newRootCommand(a)
	if err != nil {
		return 1, err
	}
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		var spawnErr *shell.SpawnError
		if errors.As(err, &spawnErr) {
			return 127, err
		}
		return 1, err
	}
	return a.exitCode, nil
}

func newRootCommand(a *app) (*cobra.Command, error) {
	root := &cobra.Command{
		Use:           "livesh",
		Short:         "Run shell commands with live, paginated output",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)
	a.bindFlags(root)

	if _, reserved := a.cfg.Aliases["exec"]; reserved {
		return nil, errors.New(`alias "exec" conflicts with a built-in command`)
	}
	groups := append(commands.Builtin(a.cfg.Shell), commands.AliasGroup{Shell: a.cfg.Shell, Aliases: a.cfg.Aliases})
	registry, err := commands.NewRegistry(groups...)
	if err != nil {
		return nil, fmt.Errorf("build command registry: %w", err)
	}
	for _, descriptor := range registry.Descriptors() {
		root.AddCommand(newDescriptorCommand(a, descriptor))
	}
	root.AddCommand(newExecCommand(a))

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		if a.logger == nil {
			return errors.New("logger is required")
		}
		if a.cfg == nil {
			return errors.New("config is required")
		}
		a.logger.With("command", cmd.CalledAs()).Debug("command invocation")
		return nil
	}
	return root, nil
}

func newDescriptorCommand(a *app, descriptor commands.Descriptor) *cobra.Command {
	cmd := &cobra.Command{
		Use:     descriptor.Name + " [args...]",
		Aliases: descriptor.Aliases,
		Short:   descriptor.Short,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := descriptor.Build(cmd.CalledAs(), args)
			if err != nil {
				return err
			}
			return a.execute(cmd.Context(), req)
		},
	}
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newExecCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec [--] program [args...]",
		Short: "Run a program directly, without a shell",
		Long: "Run a program directly, without a shell. A single argument is split\n" +
			"with shell quoting rules, so `exec \"grep -r 'a b' .\"` works.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			argv, err := splitArgv(args)
			if err != nil {
				return err
			}
			return a.execute(cmd.Context(), runner.Request{Argv: argv})
		},
	}
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func splitArgv(args []string) ([]string, error) {
	if len(args) != 1 {
		return args, nil
	}
	argv, err := shellwords.Parse(args[0])
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", args[0], err)
	}
	if len(argv) == 0 {
		return nil, errors.New("command must not be empty")
	}
	return argv, nil
}

func parseEnv(entries []string) (map[string]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(entries))
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid --env %q: want KEY=VALUE", entry)
		}
		env[key] = value
	}
	return env, nil
}

func telemetryOptions(endpoint string, fallback io.Writer) telemetry.Options {
	return telemetry.Options{Endpoint: strings.TrimSpace(endpoint), Fallback: fallback}
}
