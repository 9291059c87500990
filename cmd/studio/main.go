// Command studio edits a PhysiCell configuration document from the command
// line and launches the simulation executable against it.
//
// Usage:
//
//	studio [-doc path] [-o path] [-restore] [-trace] [-log-level level] [-log-format text|json] <command> [args]
//
// Commands: validate, list, get, set, create, copy, rename, delete, custom,
// user-param, run, archive, serve. Mutating commands write the document to -o, or
// back to -doc, or to stdout when neither is given.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"studiocore/internal/core"
	"studiocore/pkg/domain"
)

var exitFunc = os.Exit

func main() {
	exitFunc(cli(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	doc       string
	out       string
	restore   bool
	trace     bool
	logLevel  string
	logFormat string
}

// usageError marks argument mistakes; cli maps them to exit code 2.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("studio", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts options
	fs.StringVar(&opts.doc, "doc", "", "configuration document to load (default: built-in template)")
	fs.StringVar(&opts.out, "o", "", "write the edited document here (default: -doc, or stdout)")
	fs.BoolVar(&opts.restore, "restore", false, "restore the last autosaved session instead of loading -doc")
	fs.BoolVar(&opts.trace, "trace", false, "write JSON trace spans to stderr")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug|info|warn|error")
	fs.StringVar(&opts.logFormat, "log-format", "text", "log format: text|json")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: studio [flags] <command> [args]")
		fmt.Fprintln(stderr, "commands:", strings.Join(commandNames(), ", "))
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return 2
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(stderr, "studio: unknown command %q\n", rest[0])
		fs.Usage()
		return 2
	}

	ctx := context.Background()
	logger := newLogger(opts.logLevel, opts.logFormat, stderr)
	a, err := newApp(ctx, opts, logger, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "studio: %v\n", err)
		return 1
	}
	defer a.close()

	if err := cmd(ctx, a, rest[1:]); err != nil {
		fmt.Fprintf(stderr, "studio %s: %v\n", rest[0], err)
		var uerr usageError
		if errors.As(err, &uerr) {
			return 2
		}
		return 1
	}
	return 0
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// newLogger builds an isolated slog.Logger from level and format strings.
func newLogger(levelStr, formatStr string, w io.Writer) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if formatStr == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

type app struct {
	svc      *core.Service
	sessions domain.SessionStore
	registry *prometheus.Registry
	expvars  *core.ExpvarMetricsRecorder
	opts     options
	logger   *slog.Logger
	stdout   io.Writer
	stderr   io.Writer
}

func newApp(ctx context.Context, opts options, logger *slog.Logger, stdout, stderr io.Writer) (*app, error) {
	sessions, err := core.OpenSessionStore()
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	registry := prometheus.NewRegistry()
	promRec, err := core.NewPrometheusMetricsRecorder(registry)
	if err != nil {
		_ = sessions.Close()
		return nil, err
	}
	expvars := core.NewExpvarMetricsRecorder("")
	svcOpts := []core.ServiceOption{
		core.WithLogger(logger),
		core.WithSessionStore(sessions),
		core.WithMetricsRecorder(core.MultiMetricsRecorder{expvars, promRec}),
	}
	if opts.trace {
		svcOpts = append(svcOpts, core.WithTracer(core.NewJSONTracer(stderr)))
	}
	a := &app{
		svc:      core.NewService(svcOpts...),
		sessions: sessions,
		registry: registry,
		expvars:  expvars,
		opts:     opts,
		logger:   logger,
		stdout:   stdout,
		stderr:   stderr,
	}

	switch {
	case opts.restore:
		ok, err := a.svc.Restore(ctx)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("restore session: %w", err)
		}
		if !ok {
			a.close()
			return nil, errors.New("restore session: no saved session")
		}
	case opts.doc != "":
		res, err := a.svc.LoadFile(ctx, opts.doc)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("load %s: %w", opts.doc, err)
		}
		a.report(res)
	}
	return a, nil
}

func (a *app) close() {
	if err := a.sessions.Close(); err != nil {
		a.logger.Warn("close session store", "error", err)
	}
}

// report prints rule violations, one per line.
func (a *app) report(res domain.Result) {
	for _, v := range res.Violations {
		target := v.Entity
		if v.Key != "" {
			target += "." + v.Key
		}
		fmt.Fprintf(a.stderr, "%s: %s: %s (%s)\n", v.Severity, v.Rule, v.Message, strings.TrimPrefix(target, "."))
	}
}

// save writes the edited document to its destination.
func (a *app) save(ctx context.Context) error {
	dest := a.opts.out
	if dest == "" {
		dest = a.opts.doc
	}
	if dest == "" {
		if _, err := a.svc.Flush(ctx); err != nil {
			return err
		}
		_, err := a.stdout.Write(a.svc.Serialize())
		return err
	}
	return a.svc.SaveFile(ctx, dest)
}
