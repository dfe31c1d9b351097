package system

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/openfroyo/insta/pkg/target"
)

func TestMemoryFiles(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.AddFile("/etc/hosts", "127.0.0.1 localhost\n")

	fi, err := m.Stat(ctx, "/etc/hosts")
	if err != nil {
		t.Fatal(err)
	}
	if !fi.Exists || fi.IsDir {
		t.Errorf("expected regular file, got %+v", fi)
	}

	dir, _ := m.Stat(ctx, "/etc")
	if !dir.IsDir {
		t.Error("expected parent directory to be created")
	}

	missing, err := m.Stat(ctx, "/etc/missing")
	if err != nil {
		t.Fatalf("stat of a missing path should not fail: %v", err)
	}
	if missing.Exists {
		t.Error("expected missing path to not exist")
	}

	if _, err := m.ReadFile(ctx, "/etc/missing"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}

	if err := m.WriteFile(ctx, "/opt/app/conf", "x"); err != nil {
		t.Fatal(err)
	}
	if content, ok := m.File("/opt/app/conf"); !ok || content != "x" {
		t.Errorf("unexpected written file %q %v", content, ok)
	}
	if len(m.Writes) != 1 || m.Writes[0] != "/opt/app/conf" {
		t.Errorf("unexpected writes %v", m.Writes)
	}
}

func TestMemoryExpandPath(t *testing.T) {
	m := NewMemory()

	tests := []struct {
		in   string
		want string
	}{
		{"~/.bashrc", "/home/insta/.bashrc"},
		{"~", "/home/insta"},
		{"conf/app.ini", "/work/conf/app.ini"},
		{"/etc/../etc/hosts", "/etc/hosts"},
	}
	for _, tt := range tests {
		got, err := m.ExpandPath(tt.in)
		if err != nil {
			t.Fatalf("expand %s: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("expand %s: expected %s, got %s", tt.in, tt.want, got)
		}
	}
}

func TestMemoryWritable(t *testing.T) {
	m := NewMemory()
	m.AddDir("/etc")
	m.AddFile("/home/insta/notes", "")
	m.SetUnwritable("/etc")

	if m.Writable("/etc/new.conf") {
		t.Error("missing file under an unwritable parent should not be writable")
	}
	if !m.Writable("/home/insta/notes") {
		t.Error("expected home file to be writable")
	}

	if err := m.Copy(context.Background(), "/home/insta/notes", "/etc/new.conf", false); !errors.Is(err, os.ErrPermission) {
		t.Errorf("expected permission error, got %v", err)
	}
	if err := m.Copy(context.Background(), "/home/insta/notes", "/etc/new.conf", true); err != nil {
		t.Fatalf("privileged copy failed: %v", err)
	}
	if len(m.Commands) != 1 || !m.Commands[0].Sudo || m.Commands[0].Name != "cp" {
		t.Errorf("expected one sudo cp, got %v", m.Commands)
	}
}

func TestMemoryRunInterpretsCommands(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.AddFile("/srv/app.sh", "#!/bin/sh\n")

	var hooked []string
	m.Hook = func(c Command) { hooked = append(hooked, c.String()) }

	steps := []Command{
		{Name: "chmod", Args: []string{"755", "/srv/app.sh"}},
		{Name: "chown", Args: []string{"deploy:staff", "/srv/app.sh"}, Sudo: true},
		{Name: "ln", Args: []string{"-s", "app.sh", "/srv/current"}},
		{Name: "mkdir", Args: []string{"-p", "/srv/data/cache"}},
	}
	for _, c := range steps {
		if _, err := m.Run(ctx, c); err != nil {
			t.Fatalf("%s: %v", c, err)
		}
	}

	fi, _ := m.Stat(ctx, "/srv/app.sh")
	if fi.Perm() != "755" {
		t.Errorf("expected mode 755, got %s", fi.Perm())
	}
	if fi.Owner != "deploy" || fi.Group != "staff" {
		t.Errorf("unexpected ownership %s:%s", fi.Owner, fi.Group)
	}

	link, _ := m.Stat(ctx, "/srv/current")
	if !link.IsSymlink || link.Perm() != "755" {
		t.Errorf("expected symlink resolving to the script, got %+v", link)
	}
	if dest, ok := m.Link("/srv/current"); !ok || dest != "app.sh" {
		t.Errorf("unexpected link destination %q", dest)
	}

	if d, _ := m.Stat(ctx, "/srv/data/cache"); !d.IsDir {
		t.Error("expected mkdir -p to create the directory")
	}

	if len(hooked) != len(steps) {
		t.Errorf("expected hook to see %d commands, got %d", len(steps), len(hooked))
	}

	if _, err := m.Run(ctx, Command{Name: "ln", Args: []string{"-s", "x", "/srv/current"}}); err == nil {
		t.Error("expected ln onto an existing path to fail")
	}
}

func TestMemoryRunFunc(t *testing.T) {
	m := NewMemory()
	m.RunFunc = func(c Command) (*Output, error) {
		if c.Name == "false" {
			return &Output{ExitCode: 1}, &ExitError{Command: c, ExitCode: 1}
		}
		return &Output{Stdout: "hello"}, nil
	}

	out, err := m.Run(context.Background(), Command{Name: "echo"})
	if err != nil || out.Stdout != "hello" {
		t.Errorf("unexpected result %v %v", out, err)
	}

	_, err = m.Run(context.Background(), Command{Name: "false"})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode != 1 {
		t.Errorf("expected exit error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Run(ctx, Command{Name: "echo"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancellation, got %v", err)
	}
}

func TestMemoryRemote(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	r := NewMemoryRemote(m)

	h1 := target.Destination{Host: "h1", Path: "/etc/motd"}
	h2 := target.Destination{Host: "h2", Path: "/etc/motd"}
	r.AddFile(h1, "old\n")
	r.FailHost("h2", errors.New("connection refused"))

	content, exists, err := r.Fetch(ctx, h1)
	if err != nil || !exists || content != "old\n" {
		t.Fatalf("unexpected fetch %q %v %v", content, exists, err)
	}
	if _, exists, _ := r.Fetch(ctx, h2); exists {
		t.Error("expected h2 file to be absent")
	}

	m.AddFile("/tmp/insta.txt", "new\n")
	if err := r.Push(ctx, "/tmp/insta.txt", h1); err != nil {
		t.Fatal(err)
	}
	if err := r.Push(ctx, "/tmp/insta.txt", h2); err == nil {
		t.Error("expected push to failing host to fail")
	}

	if got, _ := r.File(h1); got != "new\n" {
		t.Errorf("expected pushed content, got %q", got)
	}
	if len(r.Attempts) != 2 || len(r.Pushes) != 1 {
		t.Errorf("unexpected attempts %v pushes %v", r.Attempts, r.Pushes)
	}
}

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "''"},
		{"/etc/hosts", "/etc/hosts"},
		{"user@host:/p", "user@host:/p"},
		{"two words", "'two words'"},
		{"it's", `'it'"'"'s'`},
		{"$HOME", "'$HOME'"},
	}
	for _, tt := range tests {
		if got := Quote(tt.in); got != tt.want {
			t.Errorf("Quote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}

	c := Command{Name: "cp", Args: []string{"a b", "c"}, Sudo: true}
	if s := c.String(); s != "sudo cp 'a b' c" {
		t.Errorf("unexpected command string %q", s)
	}
}
