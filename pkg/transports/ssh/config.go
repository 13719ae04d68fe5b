package ssh

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config holds SSH connection configuration.
type Config struct {
	Host string
	Port int
	User string

	// PrivateKeyPath is the forge keypair private key.
	PrivateKeyPath       string
	PrivateKeyPassphrase string

	// KnownHostsPath is only read with StrictHostKeyChecking. Maestro boxes
	// get a new host key on every boot so checking is off by default.
	KnownHostsPath        string
	StrictHostKeyChecking bool

	ConnectionTimeout time.Duration
	CommandTimeout    time.Duration

	// TerminalType and the window size are requested for interactive shells.
	TerminalType string
	Rows, Cols   int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(host, user, privateKeyPath string) *Config {
	return &Config{
		Host:              host,
		Port:              22,
		User:              user,
		PrivateKeyPath:    privateKeyPath,
		ConnectionTimeout: 30 * time.Second,
		CommandTimeout:    5 * time.Minute,
		TerminalType:      "xterm",
		Rows:              40,
		Cols:              80,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.PrivateKeyPath == "" {
		return fmt.Errorf("private key path is required")
	}
	if _, err := os.Stat(c.PrivateKeyPath); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("private key file not found: %s", c.PrivateKeyPath)
	}
	if c.StrictHostKeyChecking && c.KnownHostsPath == "" {
		return fmt.Errorf("known hosts path is required with strict host key checking")
	}
	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection timeout must be positive")
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("command timeout must be positive")
	}
	return nil
}

// clientConfig creates an ssh.ClientConfig from the Config.
func (c *Config) clientConfig() (*ssh.ClientConfig, error) {
	keyBytes, err := os.ReadFile(c.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	var signer ssh.Signer
	if c.PrivateKeyPassphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(c.PrivateKeyPassphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if c.StrictHostKeyChecking {
		if hostKeyCallback, err = knownhosts.New(c.KnownHostsPath); err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

// Address returns the formatted SSH address (host:port).
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
