package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/siteforge/siteforge/pkg/telemetry"
)

// Client triggers siteforge commands on a remote host over SSH. It holds one
// connection; callers Connect once, run commands, and Close.
type Client struct {
	config *Config
	logger *telemetry.Logger
	conn   *ssh.Client
}

// NewClient creates a client for the given configuration.
func NewClient(config *Config, logger *telemetry.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ssh config: %w", err)
	}
	return &Client{config: config, logger: logger}, nil
}

// Connect dials the remote host. The configured connect timeout bounds the
// handshake; the context bounds the TCP dial.
func (c *Client) Connect(ctx context.Context) error {
	clientConfig, err := c.config.buildClientConfig()
	if err != nil {
		return err
	}

	c.logger.Debugf("connecting to %s as %s", c.config.Address(), c.config.User)

	dialer := net.Dialer{Timeout: clientConfig.Timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", c.config.Address())
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.config.Address(), err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, c.config.Address(), clientConfig)
	if err != nil {
		netConn.Close()
		return fmt.Errorf("ssh handshake with %s failed: %w", c.config.Address(), err)
	}

	c.conn = ssh.NewClient(sshConn, chans, reqs)
	c.logger.Infof("connected to %s", c.config.Address())
	return nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// ExecResult carries a remote command's outcome.
type ExecResult struct {
	// ExitCode is the remote process exit status.
	ExitCode int

	// Stdout and Stderr are the captured output streams.
	Stdout string
	Stderr string
}

// Exec runs a command line on the remote host and waits for it to finish.
// A non-zero remote exit status is returned in the result, not as an error;
// errors mean the command could not be run at all. Output is mirrored to the
// given writers as it arrives when they are non-nil.
func (c *Client) Exec(ctx context.Context, command string, stdout, stderr io.Writer) (*ExecResult, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("not connected")
	}

	session, err := c.conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	var outBuf, errBuf strings.Builder
	session.Stdout = teeWriter(&outBuf, stdout)
	session.Stderr = teeWriter(&errBuf, stderr)

	c.logger.WithField("host", c.config.Host).WithField("command", command).
		Debug("executing remote command")

	done := make(chan error, 1)
	if err := session.Start(command); err != nil {
		return nil, fmt.Errorf("failed to start remote command: %w", err)
	}
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGTERM)
		<-done
		return nil, ctx.Err()
	case err = <-done:
	}

	result := &ExecResult{Stdout: outBuf.String(), Stderr: errBuf.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return nil, fmt.Errorf("remote command failed: %w", err)
	}
	return result, nil
}

// TriggerDeploy runs `forge deploy` for a site on the remote host, the remote
// counterpart of the local deployment workflow. The remote exit code is
// returned verbatim so the caller can propagate it.
func (c *Client) TriggerDeploy(ctx context.Context, domain, branch string, stdout, stderr io.Writer) (int, error) {
	cmd := "forge deploy " + domain
	if branch != "" {
		cmd += " --branch " + branch
	}
	res, err := c.Exec(ctx, cmd, stdout, stderr)
	if err != nil {
		return 0, err
	}
	return res.ExitCode, nil
}

func teeWriter(buf *strings.Builder, mirror io.Writer) io.Writer {
	if mirror == nil {
		return buf
	}
	return io.MultiWriter(buf, mirror)
}
