// Package ssh reaches a booted maestro box over SSH. It runs commands,
// writes files through SFTP and opens interactive shells.
package ssh

import (
	"context"
	"io"
	"os"
	"time"
)

// Transport is what forge operations need from a maestro connection.
type Transport interface {
	// Run executes a command and returns its output and exit code. A
	// non-zero exit is reported in the result, not as an error.
	Run(ctx context.Context, cmd string) (*ExecResult, error)

	// WriteFile creates or replaces a remote file with data.
	WriteFile(ctx context.Context, remotePath string, data []byte, mode os.FileMode) error

	// UploadFile copies a local file to the remote host.
	UploadFile(ctx context.Context, localPath, remotePath string, mode os.FileMode) error

	// Touch creates an empty remote file, typically a flag file.
	Touch(ctx context.Context, remotePath string) error

	// Shell attaches the given streams to a remote login shell until it
	// exits or ctx is done.
	Shell(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer) error

	// Close releases the connection.
	Close() error
}

// ExecResult represents the result of a command execution.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "exec", "upload").
	Op string

	Err error

	// IsTemporary indicates the operation may succeed when retried.
	IsTemporary bool

	// IsAuthError indicates the remote host refused the credentials.
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
