// Package system abstracts every effect the provisioning primitives have on a
// host: stat, read, write, privileged copy, remote copy and command execution.
// Local talks to the real machine; Memory is an in-process fake for tests.
package system

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/openfroyo/insta/pkg/target"
)

// FileInfo is the subset of file metadata the primitives compare against.
type FileInfo struct {
	Exists    bool
	IsDir     bool
	IsSymlink bool
	Mode      os.FileMode
	Owner     string
	Group     string
	Size      int64
	ModTime   time.Time
}

// Perm renders the permission bits the way `stat -c %a` does.
func (fi FileInfo) Perm() string {
	return fmt.Sprintf("%o", fi.Mode.Perm())
}

// Command is one external program invocation.
type Command struct {
	Name  string
	Args  []string
	Sudo  bool
	Dir   string
	Stdin string
}

// String renders the command as a shell line, quoting arguments as needed.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+2)
	if c.Sudo {
		parts = append(parts, "sudo")
	}
	parts = append(parts, Quote(c.Name))
	for _, a := range c.Args {
		parts = append(parts, Quote(a))
	}
	return strings.Join(parts, " ")
}

// Shell builds a command that runs line through /bin/sh -c.
func Shell(line string) Command {
	return Command{Name: "/bin/sh", Args: []string{"-c", line}}
}

// Output captures a finished command.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// ExitError reports a command that ran and exited non-zero.
type ExitError struct {
	Command  Command
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command %q exited with code %d", e.Command.String(), e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Hook is called with every external command right before it runs.
type Hook func(cmd Command)

// System is the host capability set injected into the engine and the
// converge primitives.
type System interface {
	// Stat returns metadata for path. A missing path is not an error; it
	// yields FileInfo{Exists: false}.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// ReadFile returns the full text of path.
	ReadFile(ctx context.Context, path string) (string, error)

	// WriteFile replaces the full text of path, creating parent directories.
	WriteFile(ctx context.Context, path string, content string) error

	// ExpandPath returns the absolute canonical form of path.
	ExpandPath(path string) (string, error)

	// Writable tests whether the current identity may write path. For a
	// path that does not exist, the nearest existing parent is tested.
	Writable(path string) bool

	// Copy copies src over dst, through sudo when privileged is set.
	Copy(ctx context.Context, src, dst string, privileged bool) error

	// Run executes cmd. A non-zero exit is returned as *ExitError together
	// with the captured output.
	Run(ctx context.Context, cmd Command) (*Output, error)
}

// RemoteCopier moves documents between the local staging file and remote
// host:path destinations.
type RemoteCopier interface {
	// Fetch returns the content of dest. exists is false when the remote
	// file is absent.
	Fetch(ctx context.Context, dest target.Destination) (content string, exists bool, err error)

	// Push copies the local file at localPath to dest.
	Push(ctx context.Context, localPath string, dest target.Destination) error
}

// Quote returns s quoted for a POSIX shell when it contains anything other
// than a conservative set of safe characters.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("@%+=:,./_-~", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
