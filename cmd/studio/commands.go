package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"studiocore/internal/blob"
	"studiocore/internal/params"
	"studiocore/internal/run"
	"studiocore/pkg/domain"
)

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"validate":   cmdValidate,
	"list":       cmdList,
	"get":        cmdGet,
	"set":        cmdSet,
	"create":     cmdCreate,
	"copy":       cmdCopy,
	"rename":     cmdRename,
	"delete":     cmdDelete,
	"custom":     cmdCustom,
	"user-param": cmdUserParam,
	"run":        cmdRun,
	"archive":    cmdArchive,
	"serve":      cmdServe,
}

const settingScope = "setting"

func parseKind(s string) (domain.EntityKind, error) {
	switch s {
	case "cell", "cells", "cell_type", "cell_def":
		return domain.KindCellType, nil
	case "substrate", "substrates":
		return domain.KindSubstrate, nil
	default:
		return "", usagef("unknown entity kind %q (want cell or substrate)", s)
	}
}

func wantArgs(args []string, n int, usage string) error {
	if len(args) != n {
		return usagef("usage: %s", usage)
	}
	return nil
}

// commit reports rule output and writes the document.
func (a *app) commit(ctx context.Context, res domain.Result, err error) error {
	a.report(res)
	if err != nil {
		return err
	}
	return a.save(ctx)
}

func cmdValidate(ctx context.Context, a *app, args []string) error {
	if err := wantArgs(args, 0, "validate"); err != nil {
		return err
	}
	res, err := a.svc.Validate(ctx)
	if err != nil {
		return err
	}
	a.report(res)
	if res.HasBlocking() {
		return domain.RuleViolationError{Result: res}
	}
	fmt.Fprintf(a.stdout, "ok (%d warnings)\n", len(res.Warnings()))
	return nil
}

func cmdList(_ context.Context, a *app, args []string) error {
	if err := wantArgs(args, 1, "list <cell|substrate|setting|custom|user-param>"); err != nil {
		return err
	}
	switch args[0] {
	case settingScope:
		return printParams(a.stdout, a.svc.Settings())
	case "custom":
		for _, name := range a.svc.CustomVariables() {
			fmt.Fprintln(a.stdout, name)
		}
		return nil
	case "user-param":
		for _, p := range a.svc.UserParameters() {
			fmt.Fprintf(a.stdout, "%s\t%s\t%s\t%s\n", p.Name, p.Type, p.Value, p.Units)
		}
		return nil
	}
	kind, err := parseKind(args[0])
	if err != nil {
		return err
	}
	for _, e := range a.svc.Entities(kind) {
		fmt.Fprintf(a.stdout, "%d\t%s", e.ID, e.Name)
		if e.ParentName != "" {
			fmt.Fprintf(a.stdout, "\tparent=%s", e.ParentName)
		}
		fmt.Fprintln(a.stdout)
	}
	return nil
}

func printParams(w io.Writer, ps params.ParameterSet) error {
	for _, k := range ps.Keys() {
		if _, err := fmt.Fprintf(w, "%s=%s\n", k, ps[k]); err != nil {
			return err
		}
	}
	return nil
}

func cmdGet(_ context.Context, a *app, args []string) error {
	if len(args) == 2 && args[0] == settingScope {
		v, err := a.svc.Setting(args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(a.stdout, v)
		return nil
	}
	if len(args) == 2 {
		kind, err := parseKind(args[0])
		if err != nil {
			return err
		}
		ps, err := a.svc.Params(kind, args[1])
		if err != nil {
			return err
		}
		return printParams(a.stdout, ps)
	}
	if err := wantArgs(args, 3, "get <kind> <name> [key] | get setting <key>"); err != nil {
		return err
	}
	kind, err := parseKind(args[0])
	if err != nil {
		return err
	}
	v, err := a.svc.Get(kind, args[1], args[2])
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, v)
	return nil
}

func cmdSet(ctx context.Context, a *app, args []string) error {
	if len(args) == 3 && args[0] == settingScope {
		res, err := a.svc.SetSetting(ctx, args[1], args[2])
		return a.commit(ctx, res, err)
	}
	if err := wantArgs(args, 4, "set <kind> <name> <key> <value> | set setting <key> <value>"); err != nil {
		return err
	}
	kind, err := parseKind(args[0])
	if err != nil {
		return err
	}
	res, err := a.svc.Set(ctx, kind, args[1], args[2], args[3])
	return a.commit(ctx, res, err)
}

func cmdCreate(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	template := fs.String("template", "", "existing entity to copy parameters from")
	if err := fs.Parse(args); err != nil {
		return usagef("%v", err)
	}
	rest := fs.Args()
	if len(rest) < 1 || len(rest) > 2 {
		return usagef("usage: create [-template name] <kind> [name]")
	}
	kind, err := parseKind(rest[0])
	if err != nil {
		return err
	}
	var name string
	if len(rest) == 2 {
		name = rest[1]
	}
	e, res, err := a.svc.Create(ctx, kind, name, *template)
	if err := a.commit(ctx, res, err); err != nil {
		return err
	}
	fmt.Fprintf(a.stderr, "created %s %q (id %d)\n", e.Kind, e.Name, e.ID)
	return nil
}

func cmdCopy(ctx context.Context, a *app, args []string) error {
	if err := wantArgs(args, 2, "copy <kind> <source>"); err != nil {
		return err
	}
	kind, err := parseKind(args[0])
	if err != nil {
		return err
	}
	e, res, err := a.svc.Copy(ctx, kind, args[1])
	if err := a.commit(ctx, res, err); err != nil {
		return err
	}
	fmt.Fprintf(a.stderr, "created %s %q (id %d)\n", e.Kind, e.Name, e.ID)
	return nil
}

func cmdRename(ctx context.Context, a *app, args []string) error {
	if err := wantArgs(args, 3, "rename <kind> <old> <new>"); err != nil {
		return err
	}
	kind, err := parseKind(args[0])
	if err != nil {
		return err
	}
	res, err := a.svc.Rename(ctx, kind, args[1], args[2])
	return a.commit(ctx, res, err)
}

func cmdDelete(ctx context.Context, a *app, args []string) error {
	if err := wantArgs(args, 2, "delete <kind> <name>"); err != nil {
		return err
	}
	kind, err := parseKind(args[0])
	if err != nil {
		return err
	}
	res, err := a.svc.Delete(ctx, kind, args[1])
	return a.commit(ctx, res, err)
}

func cmdCustom(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return usagef("usage: custom add <name> <value> | rename <old> <new> | remove <name>")
	}
	switch {
	case args[0] == "add" && len(args) == 3:
		res, err := a.svc.AddCustomVariable(ctx, args[1], args[2])
		return a.commit(ctx, res, err)
	case args[0] == "rename" && len(args) == 3:
		res, err := a.svc.RenameCustomVariable(ctx, args[1], args[2])
		return a.commit(ctx, res, err)
	case args[0] == "remove" && len(args) == 2:
		res, err := a.svc.RemoveCustomVariable(ctx, args[1])
		return a.commit(ctx, res, err)
	}
	return usagef("usage: custom add <name> <value> | rename <old> <new> | remove <name>")
}

func cmdUserParam(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return usagef("usage: user-param add [-type t] [-units u] [-description d] <name> <value> | set <name> <value> | remove <name>")
	}
	switch args[0] {
	case "add":
		fs := flag.NewFlagSet("user-param add", flag.ContinueOnError)
		fs.SetOutput(a.stderr)
		typ := fs.String("type", "double", "parameter type: double|int|bool|string")
		units := fs.String("units", "dimensionless", "units")
		desc := fs.String("description", "", "description")
		if err := fs.Parse(args[1:]); err != nil {
			return usagef("%v", err)
		}
		if fs.NArg() != 2 {
			return usagef("usage: user-param add [flags] <name> <value>")
		}
		res, err := a.svc.AddUserParameter(ctx, params.UserParameter{
			Name: fs.Arg(0), Type: *typ, Units: *units, Description: *desc, Value: fs.Arg(1),
		})
		return a.commit(ctx, res, err)
	case "set":
		if len(args) != 3 {
			return usagef("usage: user-param set <name> <value>")
		}
		res, err := a.svc.SetUserParameter(ctx, args[1], args[2])
		return a.commit(ctx, res, err)
	case "remove":
		if len(args) != 2 {
			return usagef("usage: user-param remove <name>")
		}
		res, err := a.svc.RemoveUserParameter(ctx, args[1])
		return a.commit(ctx, res, err)
	}
	return usagef("unknown user-param action %q", args[0])
}

// streamSink copies child output to the CLI's stdout and stderr.
type streamSink struct {
	stdout, stderr io.Writer
}

func (s streamSink) Output(stream run.Stream, data []byte) {
	w := s.stdout
	if stream == run.Stderr {
		w = s.stderr
	}
	_, _ = w.Write(data)
}

func cmdRun(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	exe := fs.String("exe", "", "simulation executable")
	docPath := fs.String("config", "", "where to write the run document (default: <output folder>/../PhysiCell_settings.xml)")
	reset := fs.Bool("reset", true, "remove and recreate the output folder before running")
	archiveID := fs.String("archive", "", "archive the document and outputs under this run id after the run")
	if err := fs.Parse(args); err != nil {
		return usagef("%v", err)
	}
	if fs.NArg() != 0 || *exe == "" {
		return usagef("usage: run -exe path [-config path] [-reset=false] [-archive id]")
	}
	outDir := a.svc.OutputFolder()
	if *docPath == "" {
		*docPath = defaultRunDocument(outDir)
	}

	ctrl := run.NewController(a.svc,
		run.WithSink(streamSink{stdout: a.stdout, stderr: a.stderr}),
		run.WithLogger(a.logger),
	)
	if err := ctrl.Start(ctx, run.Request{Executable: *exe, Document: *docPath, OutputDir: outDir, ResetOutput: *reset}); err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	waitDone := make(chan struct{})
	defer close(waitDone)
	go func() {
		select {
		case <-sigCtx.Done():
			_ = ctrl.Cancel()
		case <-waitDone:
		}
	}()
	status, err := ctrl.Wait(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stderr, "run %s (exit code %d)\n", status.State, status.Code)

	if *archiveID != "" {
		if err := archive(ctx, a, *archiveID, *docPath, outDir); err != nil {
			return err
		}
	}
	if !status.Success() {
		return fmt.Errorf("simulation %s with exit code %d", status.State, status.Code)
	}
	return nil
}

// defaultRunDocument places the run document beside the output folder.
func defaultRunDocument(outDir string) string {
	return filepath.Join(filepath.Dir(filepath.Clean(outDir)), "PhysiCell_settings.xml")
}

func cmdArchive(ctx context.Context, a *app, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return usagef("usage: archive <run-id> <document> [output-dir]")
	}
	outDir := ""
	if len(args) == 3 {
		outDir = args[2]
	}
	return archive(ctx, a, args[0], args[1], outDir)
}

func archive(ctx context.Context, a *app, runID, docPath, outDir string) error {
	store, err := blob.Open(ctx)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	infos, err := a.svc.ArchiveRun(ctx, store, runID, docPath, outDir)
	if err != nil {
		return err
	}
	for _, info := range infos {
		fmt.Fprintf(a.stdout, "%s\t%d\n", info.Key, info.Size)
	}
	return nil
}
