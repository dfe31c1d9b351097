package system

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/insta/pkg/target"
	"github.com/openfroyo/insta/pkg/transports/ssh"
)

func TestSCPRemote(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.RunFunc = func(c Command) (*Output, error) {
		if c.Name != "ssh" {
			return &Output{}, nil
		}
		remote := c.Args[len(c.Args)-1]
		switch {
		case remote == "test -e /etc/motd":
			return &Output{}, nil
		case strings.HasPrefix(remote, "test -e "):
			return &Output{ExitCode: 1}, &ExitError{Command: c, ExitCode: 1}
		case remote == "cat /etc/motd":
			return &Output{Stdout: "welcome\n"}, nil
		}
		return &Output{ExitCode: 255}, &ExitError{Command: c, ExitCode: 255}
	}
	r := NewSCPRemote(m)

	content, exists, err := r.Fetch(ctx, target.Destination{Host: "h1", Path: "/etc/motd"})
	if err != nil || !exists || content != "welcome\n" {
		t.Fatalf("unexpected fetch %q %v %v", content, exists, err)
	}

	_, exists, err = r.Fetch(ctx, target.Destination{Host: "h1", Path: "/etc/none"})
	if err != nil || exists {
		t.Errorf("expected absent file, got %v %v", exists, err)
	}

	if err := r.Push(ctx, "/tmp/insta.txt", target.Destination{Host: "h1", Path: "/etc/motd"}); err != nil {
		t.Fatal(err)
	}
	last := m.Commands[len(m.Commands)-1]
	want := "scp -o BatchMode=yes /tmp/insta.txt h1:/etc/motd"
	if last.String() != want {
		t.Errorf("expected %q, got %q", want, last.String())
	}
}

func TestSCPRemotePort(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.RunFunc = func(c Command) (*Output, error) {
		return &Output{Stdout: "welcome\n"}, nil
	}
	r := NewSCPRemote(m)
	dest := target.Destination{Host: "deploy@h1:2222", Path: "/etc/motd"}

	if _, _, err := r.Fetch(ctx, dest); err != nil {
		t.Fatal(err)
	}
	if err := r.Push(ctx, "/tmp/insta.txt", dest); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"ssh -o BatchMode=yes -p 2222 deploy@h1 'test -e /etc/motd'",
		"ssh -o BatchMode=yes -p 2222 deploy@h1 'cat /etc/motd'",
		"scp -o BatchMode=yes -P 2222 /tmp/insta.txt deploy@h1:/etc/motd",
	}
	if len(m.Commands) != len(want) {
		t.Fatalf("commands = %q, want %q", m.Commands, want)
	}
	for i := range want {
		if got := m.Commands[i].String(); got != want[i] {
			t.Errorf("commands[%d] = %q, want %q", i, got, want[i])
		}
	}
}

type fakeTransport struct {
	ssh.Transport
	files     map[string]string
	connected bool
	uploads   []string

	// denied paths refuse direct uploads.
	denied   map[string]bool
	commands []string
}

func (f *fakeTransport) Connect(ctx context.Context) error { f.connected = true; return nil }
func (f *fakeTransport) Disconnect() error                 { f.connected = false; return nil }
func (f *fakeTransport) IsConnected() bool                 { return f.connected }

func (f *fakeTransport) ReadFile(ctx context.Context, p string) (string, bool, error) {
	content, ok := f.files[p]
	return content, ok, nil
}

func (f *fakeTransport) UploadFile(ctx context.Context, local, remote string, mode uint32) error {
	if f.denied[remote] {
		return &ssh.TransportError{Op: "upload", Err: fmt.Errorf("failed to create remote file: %w", os.ErrPermission)}
	}
	data, err := os.ReadFile(local)
	if err != nil {
		return err
	}
	f.files[remote] = string(data)
	f.uploads = append(f.uploads, remote)
	return nil
}

func (f *fakeTransport) ExecuteCommand(ctx context.Context, cmd string) (string, string, error) {
	f.commands = append(f.commands, cmd)
	if args := strings.Fields(cmd); len(args) == 3 && args[0] == "rm" {
		delete(f.files, args[2])
	}
	return "", "", nil
}

func (f *fakeTransport) ExecuteCommandWithSudo(ctx context.Context, cmd, password string) (string, string, error) {
	f.commands = append(f.commands, "sudo "+cmd)
	args := strings.Fields(cmd)
	if len(args) != 3 || args[0] != "cp" {
		return "", "unsupported", errors.New("exit status 1")
	}
	content, ok := f.files[args[1]]
	if !ok {
		return "", "cp: cannot stat", errors.New("exit status 1")
	}
	f.files[args[2]] = content
	return "", "", nil
}

func TestSFTPRemoteCachesConnections(t *testing.T) {
	ctx := context.Background()
	r := NewSFTPRemote(SSHOptions{User: "deploy", Password: "secret"}, zerolog.Nop())

	var dialed []*ssh.Config
	transports := map[string]*fakeTransport{}
	r.dial = func(cfg *ssh.Config) (ssh.Transport, error) {
		dialed = append(dialed, cfg)
		ft := &fakeTransport{files: map[string]string{"/etc/motd": "hi\n"}}
		transports[cfg.Host] = ft
		return ft, nil
	}

	dest := target.Destination{Host: "root@web1:2222", Path: "/etc/motd"}
	content, exists, err := r.Fetch(ctx, dest)
	if err != nil || !exists || content != "hi\n" {
		t.Fatalf("unexpected fetch %q %v %v", content, exists, err)
	}

	staged := t.TempDir() + "/insta.txt"
	if err := os.WriteFile(staged, []byte("new\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := r.Push(ctx, staged, dest); err != nil {
		t.Fatal(err)
	}

	if len(dialed) != 1 {
		t.Fatalf("expected one connection per host, got %d", len(dialed))
	}
	cfg := dialed[0]
	if cfg.User != "root" || cfg.Host != "web1" || cfg.Port != 2222 {
		t.Errorf("unexpected config %s@%s:%d", cfg.User, cfg.Host, cfg.Port)
	}
	if cfg.AuthMethod != ssh.AuthMethodPassword {
		t.Errorf("expected password auth, got %s", cfg.AuthMethod)
	}
	if got := transports["web1"].files["/etc/motd"]; got != "new\n" {
		t.Errorf("expected pushed content, got %q", got)
	}

	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if transports["web1"].connected {
		t.Error("expected Close to disconnect")
	}
}

func TestSFTPRemotePushWithSudo(t *testing.T) {
	ctx := context.Background()
	r := NewSFTPRemote(SSHOptions{User: "deploy", Password: "secret"}, zerolog.Nop())

	ft := &fakeTransport{
		files:  map[string]string{"/etc/motd": "hi\n"},
		denied: map[string]bool{"/etc/motd": true},
	}
	r.dial = func(cfg *ssh.Config) (ssh.Transport, error) { return ft, nil }

	staged := t.TempDir() + "/insta.txt"
	if err := os.WriteFile(staged, []byte("new\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := r.Push(ctx, staged, target.Destination{Host: "web1", Path: "/etc/motd"}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	if got := ft.files["/etc/motd"]; got != "new\n" {
		t.Errorf("/etc/motd = %q, want %q", got, "new\n")
	}
	if len(ft.uploads) != 1 || !strings.HasPrefix(ft.uploads[0], "/tmp/insta-") {
		t.Fatalf("uploads = %q, want one staged file under /tmp", ft.uploads)
	}
	tmp := ft.uploads[0]
	want := []string{"sudo cp " + tmp + " /etc/motd", "rm -f " + tmp}
	if len(ft.commands) != len(want) {
		t.Fatalf("commands = %q, want %q", ft.commands, want)
	}
	for i := range want {
		if ft.commands[i] != want[i] {
			t.Errorf("commands[%d] = %q, want %q", i, ft.commands[i], want[i])
		}
	}
	if _, ok := ft.files[tmp]; ok {
		t.Errorf("staged file %s was not removed", tmp)
	}
}

func TestSFTPRemotePushOtherErrorsAreNotEscalated(t *testing.T) {
	r := NewSFTPRemote(SSHOptions{User: "deploy", Password: "secret"}, zerolog.Nop())
	ft := &fakeTransport{files: map[string]string{}}
	r.dial = func(cfg *ssh.Config) (ssh.Transport, error) { return ft, nil }

	err := r.Push(context.Background(), "/nonexistent/insta.txt", target.Destination{Host: "web1", Path: "/etc/motd"})
	if err == nil {
		t.Fatal("Push() error = nil, want error")
	}
	if len(ft.commands) != 0 {
		t.Errorf("commands = %q, want none", ft.commands)
	}
}

func TestSFTPRemoteDialFailure(t *testing.T) {
	r := NewSFTPRemote(SSHOptions{User: "deploy", Password: "secret"}, zerolog.Nop())
	r.dial = func(cfg *ssh.Config) (ssh.Transport, error) {
		return nil, errors.New("no route to host")
	}

	err := r.Push(context.Background(), "/tmp/insta.txt", target.Destination{Host: "h2", Path: "/p"})
	if err == nil || !strings.Contains(err.Error(), "h2:/p") {
		t.Errorf("expected error naming the destination, got %v", err)
	}
}

func TestSSHOptionsConfig(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")

	cfg, err := SSHOptions{User: "ops", Port: 2200, PrivateKeyPath: "/keys/id", ConnectionTimeout: time.Second}.Config("db1")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.User != "ops" || cfg.Port != 2200 || cfg.PrivateKeyPath != "/keys/id" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.ConnectionTimeout != time.Second {
		t.Errorf("expected timeout override, got %v", cfg.ConnectionTimeout)
	}
	if cfg.StrictHostKeyChecking {
		t.Error("strict checking should follow the options")
	}
}
