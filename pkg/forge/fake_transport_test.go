package forge

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	transport "github.com/forj-oss/forj/pkg/transports/ssh"
)

// fakeBox records what the forge sends to a box.
type fakeBox struct {
	mu      sync.Mutex
	dials   []*transport.Config
	files   map[string][]byte
	modes   map[string]os.FileMode
	touched []string
	shells  int
	failOn  string
	dialErr error
}

func newFakeBox() *fakeBox {
	return &fakeBox{files: map[string][]byte{}, modes: map[string]os.FileMode{}}
}

func (b *fakeBox) dial(_ context.Context, cfg *transport.Config) (transport.Transport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials = append(b.dials, cfg)
	if b.dialErr != nil {
		return nil, b.dialErr
	}
	return &fakeConn{box: b}, nil
}

type fakeConn struct {
	box *fakeBox
}

var _ transport.Transport = (*fakeConn)(nil)

func (c *fakeConn) fail(op string) error {
	if c.box.failOn == op {
		return &transport.TransportError{Op: op, Err: errors.New("refused")}
	}
	return nil
}

func (c *fakeConn) Run(_ context.Context, _ string) (*transport.ExecResult, error) {
	return &transport.ExecResult{}, c.fail("exec")
}

func (c *fakeConn) WriteFile(_ context.Context, remote string, data []byte, mode os.FileMode) error {
	if err := c.fail("write"); err != nil {
		return err
	}
	c.box.mu.Lock()
	defer c.box.mu.Unlock()
	c.box.files[remote] = data
	c.box.modes[remote] = mode
	return nil
}

func (c *fakeConn) UploadFile(_ context.Context, local, remote string, mode os.FileMode) error {
	if err := c.fail("upload"); err != nil {
		return err
	}
	data, err := os.ReadFile(local)
	if err != nil {
		return err
	}
	c.box.mu.Lock()
	defer c.box.mu.Unlock()
	c.box.files[remote] = data
	c.box.modes[remote] = mode
	return nil
}

func (c *fakeConn) Touch(_ context.Context, remote string) error {
	if err := c.fail("touch"); err != nil {
		return err
	}
	c.box.mu.Lock()
	defer c.box.mu.Unlock()
	c.box.touched = append(c.box.touched, remote)
	return nil
}

func (c *fakeConn) Shell(_ context.Context, stdin io.Reader, stdout, _ io.Writer) error {
	c.box.mu.Lock()
	c.box.shells++
	c.box.mu.Unlock()
	_, err := io.Copy(stdout, stdin)
	return err
}

func (c *fakeConn) Close() error { return nil }
