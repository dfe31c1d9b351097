package system

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/openfroyo/insta/pkg/target"
	"github.com/openfroyo/insta/pkg/transports/ssh"
)

// SSHOptions are the connection defaults for hosts named in destinations.
// A destination host may override User and Port as user@host:port.
type SSHOptions struct {
	User                  string
	Port                  int
	Password              string
	PrivateKeyPath        string
	KnownHostsPath        string
	StrictHostKeyChecking bool
	ConnectionTimeout     time.Duration

	// SudoPassword is fed to the remote `sudo -S` when a push needs
	// escalation. Empty means NOPASSWD.
	SudoPassword string
}

// Config builds the transport configuration for a destination host.
func (o SSHOptions) Config(host string) (*ssh.Config, error) {
	user, hostname, port, err := ssh.ParseHost(host)
	if err != nil {
		return nil, err
	}
	if user == "" {
		user = o.User
	}
	if user == "" {
		user = os.Getenv("USER")
	}

	cfg := ssh.DefaultConfig(hostname, user)
	switch {
	case port != 0:
		cfg.Port = port
	case o.Port != 0:
		cfg.Port = o.Port
	}

	switch {
	case o.Password != "":
		cfg.AuthMethod = ssh.AuthMethodPassword
		cfg.Password = o.Password
	case o.PrivateKeyPath != "":
		cfg.AuthMethod = ssh.AuthMethodKey
		cfg.PrivateKeyPath = o.PrivateKeyPath
	case os.Getenv("SSH_AUTH_SOCK") != "":
		cfg.AuthMethod = ssh.AuthMethodAgent
	}

	if o.KnownHostsPath != "" {
		cfg.KnownHostsPath = o.KnownHostsPath
	}
	cfg.StrictHostKeyChecking = o.StrictHostKeyChecking
	if o.ConnectionTimeout > 0 {
		cfg.ConnectionTimeout = o.ConnectionTimeout
	}
	return cfg, nil
}

// SFTPRemote is a RemoteCopier over SSH and SFTP. One connection is kept per
// destination host until Close.
type SFTPRemote struct {
	opts   SSHOptions
	logger zerolog.Logger

	mu      sync.Mutex
	clients map[string]ssh.Transport

	// dial is replaced in tests.
	dial func(cfg *ssh.Config) (ssh.Transport, error)
}

// NewSFTPRemote creates a remote copier using opts for every host.
func NewSFTPRemote(opts SSHOptions, logger zerolog.Logger) *SFTPRemote {
	return &SFTPRemote{
		opts:    opts,
		logger:  logger.With().Str("component", "sftp").Logger(),
		clients: make(map[string]ssh.Transport),
		dial: func(cfg *ssh.Config) (ssh.Transport, error) {
			return ssh.NewSSHClient(cfg)
		},
	}
}

func (r *SFTPRemote) transport(ctx context.Context, host string) (ssh.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.clients[host]; ok && t.IsConnected() {
		return t, nil
	}

	cfg, err := r.opts.Config(host)
	if err != nil {
		return nil, fmt.Errorf("invalid host %q: %w", host, err)
	}
	t, err := r.dial(cfg)
	if err != nil {
		return nil, err
	}
	if err := t.Connect(ctx); err != nil {
		return nil, err
	}

	r.logger.Debug().Str("host", host).Str("address", cfg.Address()).Msg("connected")
	r.clients[host] = t
	return t, nil
}

// Fetch implements RemoteCopier.
func (r *SFTPRemote) Fetch(ctx context.Context, dest target.Destination) (string, bool, error) {
	t, err := r.transport(ctx, dest.Host)
	if err != nil {
		return "", false, fmt.Errorf("failed to fetch %s: %w", dest, err)
	}
	content, exists, err := t.ReadFile(ctx, dest.Path)
	if err != nil {
		return "", false, fmt.Errorf("failed to fetch %s: %w", dest, err)
	}
	return content, exists, nil
}

// Push implements RemoteCopier. A destination the login user cannot write is
// uploaded to a temporary remote file and copied into place with sudo, which
// keeps the mode and owner of an existing file.
func (r *SFTPRemote) Push(ctx context.Context, localPath string, dest target.Destination) error {
	t, err := r.transport(ctx, dest.Host)
	if err != nil {
		return fmt.Errorf("failed to push %s: %w", dest, err)
	}
	err = t.UploadFile(ctx, localPath, dest.Path, 0)
	if errors.Is(err, os.ErrPermission) {
		err = r.pushWithSudo(ctx, t, localPath, dest)
	}
	if err != nil {
		return fmt.Errorf("failed to push %s: %w", dest, err)
	}
	return nil
}

func (r *SFTPRemote) pushWithSudo(ctx context.Context, t ssh.Transport, localPath string, dest target.Destination) error {
	tmp := path.Join("/tmp", "insta-"+uuid.NewString())

	r.logger.Debug().
		Str("host", dest.Host).
		Str("path", dest.Path).
		Str("staged", tmp).
		Msg("destination not writable, copying with sudo")

	if err := t.UploadFile(ctx, localPath, tmp, 0600); err != nil {
		return err
	}
	defer func() {
		if _, _, err := t.ExecuteCommand(ctx, "rm -f "+Quote(tmp)); err != nil {
			r.logger.Warn().Err(err).Str("host", dest.Host).Str("staged", tmp).Msg("failed to remove staged file")
		}
	}()

	_, stderr, err := t.ExecuteCommandWithSudo(ctx, "cp "+Quote(tmp)+" "+Quote(dest.Path), r.opts.SudoPassword)
	if err != nil {
		if stderr != "" {
			return fmt.Errorf("%w: %s", err, stderr)
		}
		return err
	}
	return nil
}

// Close disconnects every cached host.
func (r *SFTPRemote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result *multierror.Error
	for host, t := range r.clients {
		if err := t.Disconnect(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", host, err))
		}
		delete(r.clients, host)
	}
	return result.ErrorOrNil()
}
