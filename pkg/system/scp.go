package system

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/openfroyo/insta/pkg/target"
	"github.com/openfroyo/insta/pkg/transports/ssh"
)

// SCPRemote is a RemoteCopier that shells out to the ssh and scp binaries
// through a System, so the user's ssh_config, agent and ControlMaster
// settings apply unchanged.
type SCPRemote struct {
	sys System

	// Options are passed to both ssh and scp before the host argument.
	Options []string
}

// NewSCPRemote creates a remote copier running commands through sys.
func NewSCPRemote(sys System) *SCPRemote {
	return &SCPRemote{sys: sys, Options: []string{"-o", "BatchMode=yes"}}
}

// args builds the argument list for ssh or scp. A port on the destination
// host becomes portFlag, which is -p for ssh and -P for scp.
func (r *SCPRemote) args(dest target.Destination, portFlag string, rest ...string) ([]string, string, error) {
	user, host, port, err := ssh.ParseHost(dest.Host)
	if err != nil {
		return nil, "", fmt.Errorf("invalid host %q: %w", dest.Host, err)
	}
	if user != "" {
		host = user + "@" + host
	}

	args := make([]string, 0, len(r.Options)+len(rest)+2)
	args = append(args, r.Options...)
	if port != 0 {
		args = append(args, portFlag, strconv.Itoa(port))
	}
	return append(args, rest...), host, nil
}

func (r *SCPRemote) runSSH(ctx context.Context, dest target.Destination, remoteCmd string) (*Output, error) {
	args, host, err := r.args(dest, "-p")
	if err != nil {
		return nil, err
	}
	return r.sys.Run(ctx, Command{Name: "ssh", Args: append(args, host, remoteCmd)})
}

// Fetch implements RemoteCopier. The remote path is tested with `test -e`
// first; exit status 1 means absent.
func (r *SCPRemote) Fetch(ctx context.Context, dest target.Destination) (string, bool, error) {
	_, err := r.runSSH(ctx, dest, "test -e "+Quote(dest.Path))
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode == 1 {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to fetch %s: %w", dest, err)
	}

	out, err := r.runSSH(ctx, dest, "cat "+Quote(dest.Path))
	if err != nil {
		return "", false, fmt.Errorf("failed to fetch %s: %w", dest, err)
	}
	return out.Stdout, true, nil
}

// Push implements RemoteCopier.
func (r *SCPRemote) Push(ctx context.Context, localPath string, dest target.Destination) error {
	args, host, err := r.args(dest, "-P", localPath)
	if err != nil {
		return fmt.Errorf("failed to push %s: %w", dest, err)
	}
	if _, err := r.sys.Run(ctx, Command{Name: "scp", Args: append(args, host+":"+dest.Path)}); err != nil {
		return fmt.Errorf("failed to push %s: %w", dest, err)
	}
	return nil
}
