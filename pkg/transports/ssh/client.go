package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Client implements Transport over one SSH connection.
type Client struct {
	config *Config
	logger zerolog.Logger

	mu          sync.Mutex
	conn        *ssh.Client
	connectedAt time.Time
}

var _ Transport = (*Client)(nil)

// Dial connects to the host described by config.
func Dial(ctx context.Context, config *Config, logger zerolog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	clientConfig, err := config.clientConfig()
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	address := config.Address()
	logger = logger.With().Str("address", address).Str("user", config.User).Logger()
	logger.Debug().Msg("Establishing SSH connection")

	dialer := net.Dialer{Timeout: config.ConnectionTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err, IsTemporary: true}
	}

	// The handshake is bounded by the connection timeout and ctx.
	if deadline, ok := ctx.Deadline(); ok {
		_ = netConn.SetDeadline(deadline)
	} else {
		_ = netConn.SetDeadline(time.Now().Add(config.ConnectionTimeout))
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, address, clientConfig)
	if err != nil {
		_ = netConn.Close()
		return nil, &TransportError{Op: "connect", Err: err, IsTemporary: true, IsAuthError: isAuthError(err)}
	}
	_ = netConn.SetDeadline(time.Time{})

	logger.Debug().Msg("SSH connection established")
	return &Client{
		config:      config,
		logger:      logger,
		conn:        ssh.NewClient(sshConn, chans, reqs),
		connectedAt: time.Now(),
	}, nil
}

func isAuthError(err error) bool {
	var serverErr *ssh.ServerAuthError
	return errors.As(err, &serverErr)
}

// Close releases the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if err != nil {
		return &TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

func (c *Client) client(op string) (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("not connected")}
	}
	return c.conn, nil
}

func (c *Client) session(op string) (*ssh.Session, error) {
	conn, err := c.client(op)
	if err != nil {
		return nil, err
	}
	session, err := conn.NewSession()
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("failed to create session: %w", err), IsTemporary: true}
	}
	return session, nil
}

// Run executes cmd and waits at most CommandTimeout for it.
func (c *Client) Run(ctx context.Context, cmd string) (*ExecResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.config.CommandTimeout)
	defer cancel()

	session, err := c.session("exec")
	if err != nil {
		return nil, err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, &TransportError{Op: "exec", Err: ctx.Err(), IsTemporary: true}
	case runErr = <-done:
	}

	result := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	var exitErr *ssh.ExitError
	switch {
	case errors.As(runErr, &exitErr):
		result.ExitCode = exitErr.ExitStatus()
	case runErr != nil:
		return nil, &TransportError{Op: "exec", Err: runErr, IsTemporary: true}
	}

	c.logger.Debug().
		Str("command", cmd).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("Command completed")
	return result, nil
}

// Shell requests a pseudo terminal and runs the login shell on it.
func (c *Client) Shell(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer) error {
	session, err := c.session("shell")
	if err != nil {
		return err
	}
	defer session.Close()

	session.Stdin = stdin
	session.Stdout = stdout
	session.Stderr = stderr

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(c.config.TerminalType, c.config.Rows, c.config.Cols, modes); err != nil {
		return &TransportError{Op: "shell", Err: fmt.Errorf("failed to request pty: %w", err)}
	}
	if err := session.Shell(); err != nil {
		return &TransportError{Op: "shell", Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		var exitErr *ssh.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			return &TransportError{Op: "shell", Err: err}
		}
		return nil
	}
}

func (c *Client) sftp(op string) (*sftp.Client, error) {
	conn, err := c.client(op)
	if err != nil {
		return nil, err
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("failed to create SFTP client: %w", err), IsTemporary: true}
	}
	return client, nil
}

// WriteFile creates the parent directories of remotePath and writes data.
func (c *Client) WriteFile(ctx context.Context, remotePath string, data []byte, mode os.FileMode) error {
	return c.upload(ctx, "write", bytes.NewReader(data), remotePath, mode)
}

// UploadFile copies a local file to remotePath.
func (c *Client) UploadFile(ctx context.Context, localPath, remotePath string, mode os.FileMode) error {
	f, err := os.Open(localPath)
	if err != nil {
		return &TransportError{Op: "upload", Err: fmt.Errorf("failed to open local file: %w", err)}
	}
	defer f.Close()
	return c.upload(ctx, "upload", f, remotePath, mode)
}

func (c *Client) upload(ctx context.Context, op string, src io.Reader, remotePath string, mode os.FileMode) error {
	client, err := c.sftp(op)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.MkdirAll(path.Dir(remotePath)); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("failed to create remote directory: %w", err)}
	}
	dst, err := client.Create(remotePath)
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("failed to create remote file: %w", err), IsTemporary: true}
	}
	defer dst.Close()

	n, err := copyWithContext(ctx, dst, src)
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("failed to copy file: %w", err), IsTemporary: true}
	}
	if mode != 0 {
		if err := client.Chmod(remotePath, mode); err != nil {
			c.logger.Warn().Err(err).Str("remote", remotePath).Msg("Failed to set file permissions")
		}
	}

	c.logger.Debug().Str("remote", remotePath).Int64("bytes", n).Msg("File written")
	return nil
}

// Touch creates an empty remote file, keeping an existing one.
func (c *Client) Touch(ctx context.Context, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	client, err := c.sftp("touch")
	if err != nil {
		return err
	}
	defer client.Close()

	f, err := client.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE)
	if err != nil {
		return &TransportError{Op: "touch", Err: err}
	}
	return f.Close()
}

// copyWithContext copies in chunks and stops when ctx is done.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
