// Package ssh provides the SSH and SFTP transport used to read and write
// documents on remote hosts.
package ssh

import (
	"context"
	"time"
)

// Transport defines the remote operations a document push or fetch needs.
type Transport interface {
	// Connect establishes an SSH connection to the remote host.
	// Returns an error if connection fails or authentication is rejected.
	Connect(ctx context.Context) error

	// Disconnect closes the SFTP session and the SSH connection.
	Disconnect() error

	// IsConnected returns true if the transport has an active connection.
	IsConnected() bool

	// HealthCheck verifies the connection is still alive and responsive.
	HealthCheck(ctx context.Context) error

	// ExecuteCommand runs a command on the remote host.
	// Returns stdout, stderr, and any error that occurred.
	ExecuteCommand(ctx context.Context, cmd string) (stdout string, stderr string, err error)

	// ExecuteCommandWithSudo runs a command with sudo privileges.
	// The sudoPassword parameter can be empty if NOPASSWD is configured.
	ExecuteCommandWithSudo(ctx context.Context, cmd string, sudoPassword string) (stdout string, stderr string, err error)

	// ReadFile returns the content of a remote file. exists is false when
	// the file is absent.
	ReadFile(ctx context.Context, remotePath string) (content string, exists bool, err error)

	// UploadFile uploads a single file to the remote host via SFTP.
	// A zero mode keeps the mode of an existing remote file.
	UploadFile(ctx context.Context, localPath string, remotePath string, mode uint32) error

	// GetConnectionInfo returns information about the current connection.
	GetConnectionInfo() ConnectionInfo
}

// ConnectionInfo contains details about an active SSH connection.
type ConnectionInfo struct {
	Host         string
	Port         int
	User         string
	ConnectedAt  time.Time
	LastActivity time.Time
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "exec", "upload")
	Op string

	// Err is the underlying error
	Err error

	// ExitCode is the remote exit status for a command that ran and failed.
	ExitCode int

	// IsTemporary indicates a network-level failure rather than a refusal
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
