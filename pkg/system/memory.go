package system

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/openfroyo/insta/pkg/target"
)

type memEntry struct {
	content string
	dir     bool
	link    string
	mode    os.FileMode
	owner   string
	group   string
	modTime time.Time
}

// Memory is an in-process System for tests. It keeps a flat map of files,
// records every command and write, and understands the handful of shell
// commands the primitives issue (cp, chmod, chown, ln, mkdir, touch).
type Memory struct {
	mu sync.Mutex

	entries    map[string]*memEntry
	unwritable map[string]bool
	now        time.Time

	// Home is substituted for a leading ~ by ExpandPath.
	Home string

	// Cwd anchors relative paths in ExpandPath.
	Cwd string

	// Hook sees every command passed to Run.
	Hook Hook

	// RunFunc answers commands Memory does not interpret itself. A nil
	// RunFunc makes them succeed with empty output.
	RunFunc func(cmd Command) (*Output, error)

	// Commands records every command passed to Run, in order.
	Commands []Command

	// Writes records every path modified through WriteFile or Copy.
	Writes []string
}

// NewMemory returns an empty in-memory system.
func NewMemory() *Memory {
	return &Memory{
		entries:    make(map[string]*memEntry),
		unwritable: make(map[string]bool),
		now:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Home:       "/home/insta",
		Cwd:        "/work",
	}
}

func (m *Memory) tick() time.Time {
	m.now = m.now.Add(time.Second)
	return m.now
}

// AddFile seeds a regular file.
func (m *Memory) AddFile(p, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(p, content)
}

// AddDir seeds a directory.
func (m *Memory) AddDir(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirAll(p)
}

// AddLink seeds a symlink at p pointing to dest.
func (m *Memory) AddLink(p, dest string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[path.Clean(p)] = &memEntry{link: dest, mode: os.ModeSymlink | 0777, modTime: m.tick()}
}

// SetUnwritable makes Writable report false for p.
func (m *Memory) SetUnwritable(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unwritable[path.Clean(p)] = true
}

// Touch bumps the modification time of p.
func (m *Memory) Touch(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[path.Clean(p)]; ok {
		e.modTime = m.tick()
	}
}

// File returns the content of p and whether it exists as a regular file.
func (m *Memory) File(p string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[path.Clean(p)]
	if !ok || e.dir || e.link != "" {
		return "", false
	}
	return e.content, true
}

// Link returns the destination of the symlink at p.
func (m *Memory) Link(p string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[path.Clean(p)]
	if !ok || e.link == "" {
		return "", false
	}
	return e.link, true
}

// Paths lists every entry, sorted.
func (m *Memory) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for p := range m.entries {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (m *Memory) put(p, content string) {
	p = path.Clean(p)
	m.mkdirAll(path.Dir(p))
	if e, ok := m.entries[p]; ok && !e.dir {
		e.content = content
		e.link = ""
		e.modTime = m.tick()
		return
	}
	m.entries[p] = &memEntry{content: content, mode: 0644, owner: "root", group: "root", modTime: m.tick()}
}

func (m *Memory) mkdirAll(p string) {
	p = path.Clean(p)
	for p != "/" && p != "." {
		if _, ok := m.entries[p]; ok {
			return
		}
		m.entries[p] = &memEntry{dir: true, mode: os.ModeDir | 0755, owner: "root", group: "root", modTime: m.tick()}
		p = path.Dir(p)
	}
}

func (m *Memory) resolve(p string) *memEntry {
	e, ok := m.entries[path.Clean(p)]
	for hops := 0; ok && e.link != "" && hops < 8; hops++ {
		dest := e.link
		if !path.IsAbs(dest) {
			dest = path.Join(path.Dir(p), dest)
		}
		p = dest
		e, ok = m.entries[path.Clean(p)]
	}
	if !ok || e.link != "" {
		return nil
	}
	return e
}

// Stat implements System.
func (m *Memory) Stat(ctx context.Context, p string) (FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[path.Clean(p)]
	if !ok {
		return FileInfo{}, nil
	}
	fi := FileInfo{Exists: true, IsSymlink: e.link != ""}
	if fi.IsSymlink {
		e = m.resolve(p)
		if e == nil {
			return fi, nil
		}
	}
	fi.IsDir = e.dir
	fi.Mode = e.mode
	fi.Owner = e.owner
	fi.Group = e.group
	fi.Size = int64(len(e.content))
	fi.ModTime = e.modTime
	return fi, nil
}

// ReadFile implements System.
func (m *Memory) ReadFile(ctx context.Context, p string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.resolve(p)
	if e == nil || e.dir {
		return "", fmt.Errorf("failed to read %s: %w", p, os.ErrNotExist)
	}
	return e.content, nil
}

// WriteFile implements System.
func (m *Memory) WriteFile(ctx context.Context, p string, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(p, content)
	m.Writes = append(m.Writes, path.Clean(p))
	return nil
}

// ExpandPath implements System.
func (m *Memory) ExpandPath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		p = m.Home + strings.TrimPrefix(p, "~")
	}
	if !path.IsAbs(p) {
		p = path.Join(m.Cwd, p)
	}
	return path.Clean(p), nil
}

// Writable implements System. Every path is writable unless it, or the
// nearest existing ancestor of a missing path, was marked with SetUnwritable.
func (m *Memory) Writable(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	for {
		if _, ok := m.entries[p]; ok || p == "/" {
			return !m.unwritable[p]
		}
		p = path.Dir(p)
	}
}

// Copy implements System. An unprivileged copy onto an unwritable path fails
// with os.ErrPermission.
func (m *Memory) Copy(ctx context.Context, src, dst string, privileged bool) error {
	if privileged {
		_, err := m.Run(ctx, Command{Name: "cp", Args: []string{src, dst}, Sudo: true})
		return err
	}
	if !m.Writable(dst) {
		return fmt.Errorf("failed to open %s: %w", dst, os.ErrPermission)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copyLocked(src, dst)
}

func (m *Memory) copyLocked(src, dst string) error {
	e := m.resolve(src)
	if e == nil || e.dir {
		return fmt.Errorf("failed to open %s: %w", src, os.ErrNotExist)
	}
	m.put(dst, e.content)
	m.Writes = append(m.Writes, path.Clean(dst))
	return nil
}

// Run implements System.
func (m *Memory) Run(ctx context.Context, c Command) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Hook != nil {
		m.Hook(c)
	}

	m.mu.Lock()
	m.Commands = append(m.Commands, c)
	handled, err := m.interpret(c)
	m.mu.Unlock()

	if handled {
		if err != nil {
			return &Output{ExitCode: 1, Stderr: err.Error()}, &ExitError{Command: c, ExitCode: 1, Stderr: err.Error()}
		}
		return &Output{}, nil
	}

	if m.RunFunc != nil {
		out, err := m.RunFunc(c)
		if out == nil {
			out = &Output{}
		}
		return out, err
	}
	return &Output{}, nil
}

// interpret applies the filesystem effect of the commands the primitives
// use. The caller holds m.mu.
func (m *Memory) interpret(c Command) (bool, error) {
	args := c.Args
	switch c.Name {
	case "cp":
		if len(args) != 2 {
			return true, fmt.Errorf("cp: want 2 arguments")
		}
		return true, m.copyLocked(args[0], args[1])

	case "chmod":
		if len(args) != 2 {
			return true, fmt.Errorf("chmod: want 2 arguments")
		}
		mode, err := strconv.ParseUint(args[0], 8, 32)
		if err != nil {
			return true, fmt.Errorf("chmod: invalid mode %q", args[0])
		}
		e := m.resolve(args[1])
		if e == nil {
			return true, fmt.Errorf("chmod: %s: %w", args[1], os.ErrNotExist)
		}
		e.mode = e.mode&os.ModeType | os.FileMode(mode)
		return true, nil

	case "chown":
		if len(args) != 2 {
			return true, fmt.Errorf("chown: want 2 arguments")
		}
		owner, group, _ := strings.Cut(args[0], ":")
		e := m.resolve(args[1])
		if e == nil {
			return true, fmt.Errorf("chown: %s: %w", args[1], os.ErrNotExist)
		}
		e.owner = owner
		if group != "" {
			e.group = group
		}
		return true, nil

	case "ln":
		if len(args) != 3 || args[0] != "-s" {
			return false, nil
		}
		dst := path.Clean(args[2])
		if _, ok := m.entries[dst]; ok {
			return true, fmt.Errorf("ln: %s: file exists", dst)
		}
		m.mkdirAll(path.Dir(dst))
		m.entries[dst] = &memEntry{link: args[1], mode: os.ModeSymlink | 0777, modTime: m.tick()}
		return true, nil

	case "mkdir":
		if len(args) != 2 || args[0] != "-p" {
			return false, nil
		}
		m.mkdirAll(args[1])
		return true, nil

	case "touch":
		for _, a := range args {
			if e, ok := m.entries[path.Clean(a)]; ok {
				e.modTime = m.tick()
			} else {
				m.put(a, "")
			}
		}
		return true, nil
	}
	return false, nil
}

// MemoryRemote is an in-process RemoteCopier for tests. Pushed content is
// read from the Memory system holding the staging file.
type MemoryRemote struct {
	mu sync.Mutex

	local *Memory
	files map[target.Destination]string
	fail  map[string]error

	// Pushes records every successful push in order.
	Pushes []target.Destination

	// Attempts records every push attempt, failed or not, in order.
	Attempts []target.Destination
}

// NewMemoryRemote returns a remote copier reading staged files from local.
func NewMemoryRemote(local *Memory) *MemoryRemote {
	return &MemoryRemote{
		local: local,
		files: make(map[target.Destination]string),
		fail:  make(map[string]error),
	}
}

// AddFile seeds a remote file.
func (r *MemoryRemote) AddFile(dest target.Destination, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[dest] = content
}

// FailHost makes every push to host fail with err.
func (r *MemoryRemote) FailHost(host string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[host] = err
}

// File returns the content held at dest.
func (r *MemoryRemote) File(dest target.Destination) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	content, ok := r.files[dest]
	return content, ok
}

// Fetch implements RemoteCopier.
func (r *MemoryRemote) Fetch(ctx context.Context, dest target.Destination) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	content, ok := r.files[dest]
	return content, ok, nil
}

// Push implements RemoteCopier.
func (r *MemoryRemote) Push(ctx context.Context, localPath string, dest target.Destination) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Attempts = append(r.Attempts, dest)
	if err, ok := r.fail[dest.Host]; ok {
		return err
	}
	content, ok := r.local.File(localPath)
	if !ok {
		return fmt.Errorf("failed to open %s: %w", localPath, os.ErrNotExist)
	}
	r.files[dest] = content
	r.Pushes = append(r.Pushes, dest)
	return nil
}
