package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func invoke(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := cli(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("STUDIO_STORAGE_DRIVER", "memory")
	t.Setenv("STUDIO_BLOB_DRIVER", "memory")
	return dir
}

func TestCLIUsageErrors(t *testing.T) {
	isolate(t)
	if code, _, stderr := invoke(t); code != 2 || !strings.Contains(stderr, "usage: studio") {
		t.Fatalf("no args: code=%d stderr=%q", code, stderr)
	}
	if code, _, stderr := invoke(t, "frobnicate"); code != 2 || !strings.Contains(stderr, "unknown command") {
		t.Fatalf("unknown command: code=%d stderr=%q", code, stderr)
	}
	if code, _, _ := invoke(t, "rename", "cell"); code != 2 {
		t.Fatalf("missing args: code=%d", code)
	}
	if code, _, stderr := invoke(t, "list", "organism"); code != 2 || !strings.Contains(stderr, "unknown entity kind") {
		t.Fatalf("bad kind: code=%d stderr=%q", code, stderr)
	}
	if code, _, _ := invoke(t, "-bogus"); code != 2 {
		t.Fatalf("bad flag: code=%d", code)
	}
}

func TestCLIEditRoundTrip(t *testing.T) {
	dir := isolate(t)
	doc := filepath.Join(dir, "PhysiCell_settings.xml")

	code, stdout, stderr := invoke(t, "-o", doc, "rename", "cell", "default", "cancer")
	if code != 0 || stdout != "" {
		t.Fatalf("rename: code=%d stdout=%q stderr=%q", code, stdout, stderr)
	}
	data, err := os.ReadFile(doc)
	if err != nil {
		t.Fatalf("read document: %v", err)
	}
	if !strings.Contains(string(data), `name="cancer"`) || strings.Contains(string(data), `name="default"`) {
		t.Fatalf("document not renamed:\n%s", data)
	}

	if code, _, stderr := invoke(t, "-doc", doc, "create", "-template", "cancer", "cell", "tumor"); code != 0 || !strings.Contains(stderr, `created cell_type "tumor" (id 1)`) {
		t.Fatalf("create: code=%d stderr=%q", code, stderr)
	}
	if code, _, _ := invoke(t, "-doc", doc, "copy", "cell", "tumor"); code != 0 {
		t.Fatalf("copy: code=%d", code)
	}
	code, stdout, _ = invoke(t, "-doc", doc, "list", "cell")
	if code != 0 || stdout != "0\tcancer\n1\ttumor\n2\ttumor_copy\n" {
		t.Fatalf("list: code=%d stdout=%q", code, stdout)
	}

	if code, _, _ := invoke(t, "-doc", doc, "set", "cell", "tumor", "speed", "2.5"); code != 0 {
		t.Fatalf("set: code=%d", code)
	}
	if code, stdout, _ := invoke(t, "-doc", doc, "get", "cell", "tumor", "speed"); code != 0 || stdout != "2.5\n" {
		t.Fatalf("get: code=%d stdout=%q", code, stdout)
	}
	if code, _, _ := invoke(t, "-doc", doc, "set", "setting", "max_time", "720"); code != 0 {
		t.Fatalf("set setting: code=%d", code)
	}
	if code, stdout, _ := invoke(t, "-doc", doc, "get", "setting", "max_time"); code != 0 || stdout != "720\n" {
		t.Fatalf("get setting: code=%d stdout=%q", code, stdout)
	}

	if code, _, stderr := invoke(t, "-doc", doc, "set", "cell", "tumor", "no_such_field", "1"); code != 1 || !strings.Contains(stderr, "unknown key") {
		t.Fatalf("unknown key: code=%d stderr=%q", code, stderr)
	}
}

func TestCLIStdoutWhenNoDestination(t *testing.T) {
	isolate(t)
	code, stdout, _ := invoke(t, "custom", "add", "sample", "1.5")
	if code != 0 || !strings.Contains(stdout, "<sample") || !strings.Contains(stdout, "<PhysiCell_settings") {
		t.Fatalf("custom add: code=%d stdout=%q", code, stdout)
	}
}

func TestCLIValidateAndDeleteLast(t *testing.T) {
	isolate(t)
	if code, stdout, _ := invoke(t, "validate"); code != 0 || !strings.HasPrefix(stdout, "ok") {
		t.Fatalf("validate: code=%d stdout=%q", code, stdout)
	}
	code, _, stderr := invoke(t, "delete", "substrate", "substrate")
	if code != 1 || !strings.Contains(stderr, "at least one substrate must remain") {
		t.Fatalf("delete last: code=%d stderr=%q", code, stderr)
	}
}

func TestCLIRunMissingExecutable(t *testing.T) {
	dir := isolate(t)
	code, _, stderr := invoke(t, "-o", filepath.Join(dir, "c.xml"), "run", "-exe", filepath.Join(dir, "missing-sim"))
	if code != 1 || !strings.Contains(stderr, "executable not found") {
		t.Fatalf("run: code=%d stderr=%q", code, stderr)
	}
	if code, _, _ := invoke(t, "run"); code != 2 {
		t.Fatalf("run without -exe: code=%d", code)
	}
}

func TestCLIArchive(t *testing.T) {
	dir := isolate(t)
	doc := filepath.Join(dir, "PhysiCell_settings.xml")
	if code, _, _ := invoke(t, "-o", doc, "set", "setting", "max_time", "60"); code != 0 {
		t.Fatalf("seed document: code=%d", code)
	}
	out := filepath.Join(dir, "output")
	if err := os.MkdirAll(out, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(out, "final.svg"), []byte("<svg/>"), 0o644); err != nil {
		t.Fatal(err)
	}
	code, stdout, stderr := invoke(t, "archive", "run-7", doc, out)
	if code != 0 {
		t.Fatalf("archive: code=%d stderr=%q", code, stderr)
	}
	want := "runs/run-7/PhysiCell_settings.xml\t"
	if !strings.HasPrefix(stdout, want) || !strings.Contains(stdout, "runs/run-7/output/final.svg\t6\n") {
		t.Fatalf("archive output %q", stdout)
	}
}

func TestCLIRestoreFromSQLite(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STUDIO_STORAGE_DRIVER", "sqlite")
	t.Setenv("STUDIO_SQLITE_PATH", filepath.Join(dir, "session.db"))

	if code, _, _ := invoke(t, "-o", filepath.Join(dir, "c.xml"), "set", "setting", "max_time", "999"); code != 0 {
		t.Fatalf("set: code=%d", code)
	}
	code, stdout, stderr := invoke(t, "-restore", "get", "setting", "max_time")
	if code != 0 || stdout != "999\n" {
		t.Fatalf("restore: code=%d stdout=%q stderr=%q", code, stdout, stderr)
	}
}

func TestCLIRestoreWithoutSnapshot(t *testing.T) {
	isolate(t)
	if code, _, stderr := invoke(t, "-restore", "validate"); code != 1 || !strings.Contains(stderr, "no saved session") {
		t.Fatalf("restore: code=%d stderr=%q", code, stderr)
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("debug", "json", &buf)
	logger.Debug("hello", "k", "v")
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v (%q)", err, buf.String())
	}
	if line["msg"] != "hello" || line["k"] != "v" || line["level"] != "DEBUG" {
		t.Fatalf("unexpected record %v", line)
	}
}
