package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/ship-commander/livesh/internal/config"
	"github.com/ship-commander/livesh/internal/events"
	"github.com/ship-commander/livesh/internal/pager"
	"github.com/ship-commander/livesh/internal/runner"
	"github.com/ship-commander/livesh/internal/shell"
	"github.com/ship-commander/livesh/internal/telemetry"
	"github.com/ship-commander/livesh/internal/tui"
)

type app struct {
	cfg    *config.Config
	logger *log.Logger
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	flags  runFlags

	exitCode int
}

type runFlags struct {
	cwd           string
	env           []string
	ansi          bool
	plain         bool
	markdown      bool
	markdownStyle string
	maxPageSize   int
	refresh       time.Duration
	shell         string
	encoding      string
	otelEndpoint  string
}

func (a *app) bindFlags(root *cobra.Command) {
	flags := root.PersistentFlags()
	flags.StringVar(&a.flags.cwd, "cwd", "", "working directory for the command")
	flags.StringArrayVar(&a.flags.env, "env", nil, "extra environment variable as KEY=VALUE (repeatable)")
	flags.BoolVar(&a.flags.ansi, "ansi", !a.cfg.StripANSI, "keep ANSI escape sequences in output")
	flags.BoolVar(&a.flags.plain, "plain", false, "stream plain output instead of the interactive viewer")
	flags.BoolVar(&a.flags.markdown, "markdown", false, "with --plain, render each page as Markdown")
	flags.StringVar(&a.flags.markdownStyle, "style", a.cfg.Pager.MarkdownStyle, "glamour style for --markdown")
	flags.IntVar(&a.flags.maxPageSize, "max-page-size", a.cfg.Pager.MaxSize, "maximum characters per page")
	flags.DurationVar(&a.flags.refresh, "refresh", a.cfg.Pager.RefreshInterval, "minimum interval between repaints")
	flags.StringVar(&a.flags.shell, "shell", a.cfg.Shell, "shell dialect or path used for shell commands")
	flags.StringVar(&a.flags.encoding, "encoding", a.cfg.Encoding, "output encoding: utf-8 or utf-16le")
	flags.StringVar(&a.flags.otelEndpoint, "otel-endpoint", a.cfg.OTelEndpoint, "OTLP/HTTP endpoint for session traces")
}

func (a *app) execute(ctx context.Context, req runner.Request) error {
	if err := a.applyFlags(&req); err != nil {
		return err
	}
	plan, err := runner.Prepare(req)
	if err != nil {
		return err
	}

	shutdown, err := telemetry.Init(ctx, telemetryOptions(a.flags.otelEndpoint, a.errOut))
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer shutdown()

	bus := events.New(events.WithLogger(a.logger))
	defer bus.Close()
	unsubscribe := bus.SubscribeAll(func(event events.Event) {
		a.logger.Debug("session event", "type", event.Type, "session_id", event.EntityID, "summary", events.Summary(event))
	})
	defer unsubscribe()

	opts := []runner.Option{
		runner.WithBus(bus),
		runner.WithLogger(a.logger),
		runner.WithSessionOptions(shell.Options{
			BlockSize: a.cfg.BlockSize,
			QueueSize: a.cfg.QueueSize,
			KillGrace: a.cfg.KillGrace,
		}),
	}

	var status shell.ExitStatus
	if a.interactive() {
		status, err = a.runInteractive(ctx, req, plan, bus, opts)
	} else {
		status, err = a.runPlain(ctx, req, plan, opts)
	}
	if err != nil {
		return err
	}
	a.exitCode = status.ExitCode()
	return nil
}

func (a *app) applyFlags(req *runner.Request) error {
	env, err := parseEnv(a.flags.env)
	if err != nil {
		return err
	}
	encoding, ok := shell.ParseEncoding(a.flags.encoding)
	if !ok {
		return fmt.Errorf("unsupported encoding %q", a.flags.encoding)
	}

	req.Dir = a.flags.cwd
	req.Env = env
	req.StripANSI = !a.flags.ansi
	req.Encoding = encoding
	// Aliases such as bash or powershell pin their own dialect.
	if req.Shell == a.cfg.Shell {
		req.Shell = a.flags.shell
	}
	return nil
}

func (a *app) liveOptions(plan runner.Plan) []pager.LiveOption {
	return []pager.LiveOption{
		pager.WithPrefix(a.cfg.Pager.Prefix + plan.Highlight),
		pager.WithSuffix(pager.DefaultSuffix),
		pager.WithMaxSize(a.flags.maxPageSize),
		pager.WithRefreshInterval(a.flags.refresh),
		pager.WithLogger(a.logger),
	}
}

func (a *app) interactive() bool {
	return !a.flags.plain && isTerminal(a.in) && isTerminal(a.out)
}

func (a *app) runPlain(ctx context.Context, req runner.Request, plan runner.Plan, opts []runner.Option) (shell.ExitStatus, error) {
	var printerOpts []pager.PrinterOption
	if a.flags.markdown {
		printerOpts = append(printerOpts, pager.WithMarkdown(a.flags.markdownStyle))
	}
	printer, err := pager.NewPrinter(a.out, printerOpts...)
	if err != nil {
		return shell.ExitStatus{}, fmt.Errorf("create printer: %w", err)
	}
	live, err := pager.NewLive(printer, a.liveOptions(plan)...)
	if err != nil {
		return shell.ExitStatus{}, err
	}

	job, err := runner.Start(ctx, req, live, opts...)
	if err != nil {
		live.Close()
		return shell.ExitStatus{}, err
	}
	if a.in != nil {
		go relayStdin(a.in, job, a.logger)
	}
	return job.Wait(context.WithoutCancel(ctx))
}

func (a *app) runInteractive(
	ctx context.Context,
	req runner.Request,
	plan runner.Plan,
	bus events.Bus,
	opts []runner.Option,
) (shell.ExitStatus, error) {
	model := tui.New(plan.Display)
	program := tea.NewProgram(
		model,
		tea.WithAltScreen(),
		tea.WithContext(ctx),
		tea.WithInput(a.in),
		tea.WithOutput(a.out),
	)
	renderer := tui.NewRenderer(program)
	live, err := pager.NewLive(renderer, a.liveOptions(plan)...)
	if err != nil {
		return shell.ExitStatus{}, err
	}
	unsubscribe := tui.ForwardEvents(bus, program)
	defer unsubscribe()

	job, err := runner.Start(ctx, req, live, opts...)
	if err != nil {
		renderer.Stop()
		live.Close()
		return shell.ExitStatus{}, err
	}
	model.Attach(job)

	_, runErr := program.Run()
	renderer.Stop()
	job.Cancel()
	status, err := job.Wait(context.WithoutCancel(ctx))
	if err != nil {
		return shell.ExitStatus{}, err
	}
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return status, fmt.Errorf("run viewer: %w", runErr)
	}
	if status.Cancelled {
		fmt.Fprintln(a.out, "[status] Cancelled")
	} else {
		fmt.Fprintln(a.out, runner.StatusLine(status))
	}
	return status, nil
}

func relayStdin(r io.Reader, job *runner.Job, logger *log.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := job.Send(scanner.Text()); err != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("read stdin", "err", err)
	}
	if err := job.CloseStdin(); err != nil && !errors.Is(err, shell.ErrClosedPipe) {
		logger.Debug("close stdin", "err", err)
	}
}

func isTerminal(v any) bool {
	f, ok := v.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
