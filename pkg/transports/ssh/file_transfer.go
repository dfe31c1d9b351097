package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
)

// sftpClient returns the cached SFTP session, opening it on first use.
func (c *SSHClient) sftpClient() (*sftp.Client, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.isConnected || c.client == nil {
		return nil, &TransportError{
			Op:  "sftp-init",
			Err: fmt.Errorf("not connected"),
		}
	}

	if c.sftp != nil {
		return c.sftp, nil
	}

	client, err := sftp.NewClient(c.client)
	if err != nil {
		return nil, &TransportError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}
	c.sftp = client
	c.lastUsedAt = time.Now()
	return client, nil
}

// ReadFile returns the content of a remote file.
func (c *SSHClient) ReadFile(ctx context.Context, remotePath string) (string, bool, error) {
	log.Debug().Str("host", c.config.Host).Str("remote", remotePath).Msg("reading remote file")

	client, err := c.sftpClient()
	if err != nil {
		return "", false, err
	}

	remoteFile, err := client.Open(remotePath)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &TransportError{
			Op:  "read",
			Err: fmt.Errorf("failed to open remote file: %w", err),
		}
	}
	defer remoteFile.Close()

	var buf strings.Builder
	if _, err := copyWithContext(ctx, &buf, remoteFile); err != nil {
		return "", false, &TransportError{
			Op:          "read",
			Err:         fmt.Errorf("failed to read remote file: %w", err),
			IsTemporary: true,
		}
	}

	return buf.String(), true, nil
}

// UploadFile uploads a single file to the remote host via SFTP.
func (c *SSHClient) UploadFile(ctx context.Context, localPath string, remotePath string, mode uint32) error {
	startTime := time.Now()

	log.Debug().
		Str("host", c.config.Host).
		Str("local", localPath).
		Str("remote", remotePath).
		Uint32("mode", mode).
		Msg("uploading file")

	localFile, err := os.Open(localPath)
	if err != nil {
		return &TransportError{
			Op:  "upload",
			Err: fmt.Errorf("failed to open local file: %w", err),
		}
	}
	defer localFile.Close()

	client, err := c.sftpClient()
	if err != nil {
		return err
	}

	if err := client.MkdirAll(path.Dir(remotePath)); err != nil {
		return &TransportError{
			Op:  "upload",
			Err: fmt.Errorf("failed to create remote directory: %w", err),
		}
	}

	// Truncating in place keeps the mode and owner of an existing file.
	remoteFile, err := client.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return &TransportError{
			Op:  "upload",
			Err: fmt.Errorf("failed to create remote file: %w", err),
		}
	}

	bytesWritten, err := copyWithContext(ctx, remoteFile, localFile)
	if err != nil {
		remoteFile.Close()
		return &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to copy file: %w", err),
			IsTemporary: true,
		}
	}
	if err := remoteFile.Close(); err != nil {
		return &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to close remote file: %w", err),
			IsTemporary: true,
		}
	}

	if mode > 0 {
		if err := client.Chmod(remotePath, os.FileMode(mode)); err != nil {
			log.Warn().Err(err).Str("remote", remotePath).Msg("failed to set file permissions")
		}
	}

	log.Debug().
		Str("host", c.config.Host).
		Str("remote", remotePath).
		Int64("bytes", bytesWritten).
		Dur("duration", time.Since(startTime)).
		Msg("file uploaded")

	return nil
}

// copyWithContext copies src to dst, checking ctx between 32KB chunks.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, err := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[0:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return written, err
		}
	}

	return written, nil
}
