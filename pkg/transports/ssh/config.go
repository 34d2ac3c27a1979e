// Package ssh forwards the siteforge CLI contract to a target host over a
// remote-shell channel, so deployments can be triggered from a control host.
package ssh

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod selects the SSH authentication mechanism.
type AuthMethod string

const (
	// AuthMethodKey uses private key authentication.
	AuthMethodKey AuthMethod = "key"

	// AuthMethodPassword uses password authentication.
	AuthMethodPassword AuthMethod = "password"
)

// Config holds the remote trigger's connection settings.
type Config struct {
	// Host is the target hostname or IP address.
	Host string

	// Port is the SSH port.
	Port int

	// User is the SSH username.
	User string

	// AuthMethod selects key or password authentication.
	AuthMethod AuthMethod

	// PrivateKeyPath is the private key file for key authentication.
	PrivateKeyPath string

	// Password is used for password authentication.
	Password string

	// KnownHostsPath is the known_hosts file used to verify the host key.
	KnownHostsPath string

	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration
}

// DefaultConfig returns key-based auth with the user's standard key paths.
func DefaultConfig(host, user string) *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Host:           host,
		Port:           22,
		User:           user,
		AuthMethod:     AuthMethodKey,
		PrivateKeyPath: filepath.Join(home, ".ssh", "id_ed25519"),
		KnownHostsPath: filepath.Join(home, ".ssh", "known_hosts"),
		ConnectTimeout: 30 * time.Second,
	}
}

// Validate checks the configuration for completeness.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.AuthMethod {
	case AuthMethodKey:
		if c.PrivateKeyPath == "" {
			return fmt.Errorf("private key path is required for key auth")
		}
	case AuthMethodPassword:
		if c.Password == "" {
			return fmt.Errorf("password is required for password auth")
		}
	default:
		return fmt.Errorf("unsupported auth method %q", c.AuthMethod)
	}
	return nil
}

// Address returns the dial address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// buildClientConfig assembles the x/crypto ssh client configuration.
func (c *Config) buildClientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	switch c.AuthMethod {
	case AuthMethodKey:
		key, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	case AuthMethodPassword:
		auth = append(auth, ssh.Password(c.Password))
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec // only when no known_hosts is configured
	if c.KnownHostsPath != "" {
		cb, err := knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectTimeout,
	}, nil
}
