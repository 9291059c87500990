package main

import (
	"context"
	"errors"
	"expvar"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"studiocore/internal/adapters/httpapi"
	"studiocore/internal/run"
)

const shutdownTimeout = 5 * time.Second

// serveConfig fixes what the HTTP runs endpoint launches.
type serveConfig struct {
	exe   string
	doc   string
	reset bool
}

func cmdServe(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	addr := fs.String("addr", "127.0.0.1:8080", "listen address")
	var cfg serveConfig
	fs.StringVar(&cfg.exe, "exe", "", "simulation executable launched by POST /api/v1/runs")
	fs.StringVar(&cfg.doc, "config", "", "where runs write the document (default: <output folder>/../PhysiCell_settings.xml)")
	fs.BoolVar(&cfg.reset, "reset", true, "remove and recreate the output folder before each run")
	if err := fs.Parse(args); err != nil {
		return usagef("%v", err)
	}
	if fs.NArg() != 0 {
		return usagef("usage: serve [-addr host:port] [-exe path] [-config path] [-reset=false]")
	}

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", *addr, err)
	}
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.serve(sigCtx, ln, cfg)
}

// serve answers HTTP requests on ln until ctx is done, then cancels any
// active run and writes the document back when a destination is known.
func (a *app) serve(ctx context.Context, ln net.Listener, cfg serveConfig) error {
	runMetrics, err := run.NewMetrics(a.registry)
	if err != nil {
		_ = ln.Close()
		return err
	}
	ctrl := run.NewController(a.svc,
		run.WithSink(streamSink{stdout: a.stdout, stderr: a.stderr}),
		run.WithLogger(a.logger),
		run.WithMetrics(runMetrics),
	)

	api := httpapi.NewHandler(a.svc)
	api.Runs = ctrl
	if cfg.exe != "" {
		doc := cfg.doc
		if doc == "" {
			doc = defaultRunDocument(a.svc.OutputFolder())
		}
		api.Run = httpapi.RunConfig{Executable: cfg.exe, Document: doc, ResetOutput: cfg.reset}
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/", api)
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.Handle("/debug/vars", expvar.Handler())

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	a.logger.Info("serving", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("http shutdown", "error", err)
		}
	}

	if ctrl.State().Active() {
		_ = ctrl.Cancel()
		waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if _, err := ctrl.Wait(waitCtx); err != nil {
			a.logger.Warn("run did not stop", "error", err)
		}
	}
	if a.opts.out == "" && a.opts.doc == "" {
		return nil
	}
	return a.save(context.WithoutCancel(ctx))
}
