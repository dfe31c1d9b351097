package system

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/openfroyo/insta/pkg/target"
)

// Local implements System against the machine the process runs on.
type Local struct {
	// Hook, when set, sees every external command before it runs.
	Hook Hook

	// SudoPassword is fed to `sudo -S` when non-empty. Empty means NOPASSWD.
	SudoPassword string

	logger zerolog.Logger
}

// NewLocal creates a Local system logging through logger.
func NewLocal(logger zerolog.Logger) *Local {
	return &Local{logger: logger.With().Str("component", "system").Logger()}
}

// Stat implements System.
func (l *Local) Stat(ctx context.Context, path string) (FileInfo, error) {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return FileInfo{}, nil
	}
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	fi := FileInfo{Exists: true}
	if info.Mode()&os.ModeSymlink != 0 {
		fi.IsSymlink = true
		if resolved, err := os.Stat(path); err == nil {
			info = resolved
		}
	}

	fi.IsDir = info.IsDir()
	fi.Mode = info.Mode()
	fi.Size = info.Size()
	fi.ModTime = info.ModTime()

	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		fi.Owner = lookupUser(stat.Uid)
		fi.Group = lookupGroup(stat.Gid)
	}

	return fi, nil
}

func lookupUser(uid uint32) string {
	id := strconv.FormatUint(uint64(uid), 10)
	if u, err := user.LookupId(id); err == nil {
		return u.Username
	}
	return id
}

func lookupGroup(gid uint32) string {
	id := strconv.FormatUint(uint64(gid), 10)
	if g, err := user.LookupGroupId(id); err == nil {
		return g.Name
	}
	return id
}

// ReadFile implements System.
func (l *Local) ReadFile(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

// WriteFile implements System.
func (l *Local) WriteFile(ctx context.Context, path string, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ExpandPath implements System.
func (l *Local) ExpandPath(path string) (string, error) {
	return target.Canonicalize(path)
}

// Writable implements System using access(2), so the answer reflects the
// real and effective ids rather than a guess from mode bits.
func (l *Local) Writable(path string) bool {
	for {
		err := unix.Access(path, unix.W_OK)
		if err == nil {
			return true
		}
		if !errors.Is(err, unix.ENOENT) {
			return false
		}
		parent := filepath.Dir(path)
		if parent == path {
			return false
		}
		path = parent
	}
}

// Copy implements System. An unprivileged copy truncates dst in place so an
// existing file keeps its mode and owner, as cp(1) does.
func (l *Local) Copy(ctx context.Context, src, dst string, privileged bool) error {
	if privileged {
		_, err := l.Run(ctx, Command{Name: "cp", Args: []string{src, dst}, Sudo: true})
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	return out.Close()
}

// Run implements System.
func (l *Local) Run(ctx context.Context, c Command) (*Output, error) {
	if l.Hook != nil {
		l.Hook(c)
	}

	l.logger.Debug().
		Str("command", c.String()).
		Bool("sudo", c.Sudo).
		Msg("executing command")

	var cmd *exec.Cmd
	stdin := c.Stdin
	if c.Sudo {
		args := append([]string{"-S", c.Name}, c.Args...)
		cmd = exec.CommandContext(ctx, "sudo", args...)
		if l.SudoPassword != "" {
			stdin = l.SudoPassword + "\n" + stdin
		}
	} else {
		cmd = exec.CommandContext(ctx, c.Name, c.Args...)
	}

	if c.Dir != "" {
		cmd.Dir = c.Dir
	}
	if stdin != "" {
		cmd.Stdin = bytes.NewBufferString(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	out := &Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	l.logger.Debug().
		Str("command", c.String()).
		Int("stdout_len", len(out.Stdout)).
		Int("stderr_len", len(out.Stderr)).
		Dur("duration", out.Duration).
		Err(err).
		Msg("command completed")

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, &ExitError{Command: c, ExitCode: out.ExitCode, Stderr: out.Stderr}
		}
		return out, fmt.Errorf("failed to execute %s: %w", c.Name, err)
	}

	return out, nil
}
