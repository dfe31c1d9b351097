package system

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestLocalFileOperations(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(zerolog.Nop())
	dir := t.TempDir()

	p := filepath.Join(dir, "sub", "file.txt")
	if err := l.WriteFile(ctx, p, "hello\n"); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	content, err := l.ReadFile(ctx, p)
	if err != nil || content != "hello\n" {
		t.Fatalf("unexpected read %q %v", content, err)
	}

	fi, err := l.Stat(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	if !fi.Exists || fi.IsDir || fi.Size != 6 || fi.Owner == "" {
		t.Errorf("unexpected stat %+v", fi)
	}

	missing, err := l.Stat(ctx, filepath.Join(dir, "missing"))
	if err != nil || missing.Exists {
		t.Errorf("expected missing file, got %+v %v", missing, err)
	}

	link := filepath.Join(dir, "link")
	if err := os.Symlink(p, link); err != nil {
		t.Fatal(err)
	}
	lfi, err := l.Stat(ctx, link)
	if err != nil {
		t.Fatal(err)
	}
	if !lfi.IsSymlink || lfi.Size != 6 {
		t.Errorf("expected symlink to a 6 byte file, got %+v", lfi)
	}
}

func TestLocalCopyPreservesMode(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(zerolog.Nop())
	dir := t.TempDir()

	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	if err := os.WriteFile(src, []byte("new"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, []byte("old content"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := l.Copy(ctx, src, dst, false); err != nil {
		t.Fatalf("copy failed: %v", err)
	}

	data, _ := os.ReadFile(dst)
	if string(data) != "new" {
		t.Errorf("expected truncated copy, got %q", data)
	}
	info, _ := os.Stat(dst)
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected destination mode to be kept, got %o", info.Mode().Perm())
	}
}

func TestLocalWritable(t *testing.T) {
	l := NewLocal(zerolog.Nop())
	dir := t.TempDir()

	if !l.Writable(filepath.Join(dir, "a", "b", "missing")) {
		t.Error("expected missing path under a temp dir to be writable")
	}

	if os.Geteuid() == 0 {
		t.Skip("root can write anywhere")
	}

	locked := filepath.Join(dir, "locked")
	if err := os.Mkdir(locked, 0555); err != nil {
		t.Fatal(err)
	}
	if l.Writable(filepath.Join(locked, "file")) {
		t.Error("expected file under a read-only directory to be unwritable")
	}
}

func TestLocalRun(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(zerolog.Nop())

	var seen []Command
	l.Hook = func(c Command) { seen = append(seen, c) }

	out, err := l.Run(ctx, Command{Name: "sh", Args: []string{"-c", "echo out; echo err >&2"}})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if out.Stdout != "out\n" || out.Stderr != "err\n" {
		t.Errorf("unexpected output %+v", out)
	}

	out, err = l.Run(ctx, Shell("exit 4"))
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *ExitError, got %v", err)
	}
	if exitErr.ExitCode != 4 || out.ExitCode != 4 {
		t.Errorf("expected exit code 4, got %d/%d", exitErr.ExitCode, out.ExitCode)
	}

	stdin, err := l.Run(ctx, Command{Name: "cat", Stdin: "piped"})
	if err != nil || stdin.Stdout != "piped" {
		t.Errorf("unexpected stdin round trip %+v %v", stdin, err)
	}

	dir := t.TempDir()
	pwd, err := l.Run(ctx, Command{Name: "pwd", Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	resolved, _ := filepath.EvalSymlinks(dir)
	if got := pwd.Stdout; got != dir+"\n" && got != resolved+"\n" {
		t.Errorf("expected working directory %s, got %q", dir, got)
	}

	if len(seen) != 4 {
		t.Errorf("expected hook to see 4 commands, got %d", len(seen))
	}

	if _, err := l.Run(ctx, Command{Name: "/nonexistent/binary"}); err == nil {
		t.Error("expected error for missing binary")
	}
}
