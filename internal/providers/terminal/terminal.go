// File: internal/providers/terminal/terminal.go
// Description: SSH-backed terminal capability provider. Commands run on a
// remote host over a lazily established connection; stdout, stderr and the
// exit code are captured into a single observation.
package terminal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/config"
)

const ProviderID = "terminal"

const (
	variantRun   = "run"
	paramCommand = "command"
	paramTimeout = "timeout"
)

// Provider implements schemas.Provider over an SSH connection. The connection
// is established on first use and re-established after a drop; a failed
// command does not tear it down.
type Provider struct {
	cfg config.TerminalConfig
	log *zap.Logger

	mu     sync.Mutex
	client *ssh.Client
}

// New creates a terminal provider. No connection is made until the first
// command executes.
func New(cfg config.TerminalConfig, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg: cfg,
		log: logger.Named("provider.terminal"),
	}
}

func (p *Provider) ID() string { return ProviderID }

func (p *Provider) Describe() string {
	return fmt.Sprintf(
		"A remote shell on %s. Run one command at a time and read its output before deciding the next step. Long-running commands are cut off at the timeout.",
		p.cfg.Host)
}

// Variants returns the terminal's action shapes. The terminal is stateless
// from the schema's point of view, so the set is constant.
func (p *Provider) Variants() []schemas.ActionVariant {
	return []schemas.ActionVariant{
		{
			Name:    variantRun,
			Purpose: "Execute a shell command on the remote host and observe its output.",
			Parameters: []schemas.ParameterSpec{
				{
					Name:     paramCommand,
					Type:     schemas.ParamTypeString,
					Purpose:  "the exact command line to execute",
					Required: true,
				},
				{
					Name:     paramTimeout,
					Type:     schemas.ParamTypeInt,
					Purpose:  "seconds to wait before the command is cut off",
					Required: false,
				},
			},
		},
	}
}

// Execute runs the chosen action. A command that exits nonzero is a valid
// observation the model should reason about; only infrastructure failures
// (connection refused, session setup) surface as *ProviderExecutionError.
func (p *Provider) Execute(ctx context.Context, action *schemas.ChosenAction) (*schemas.Observation, error) {
	if action.Variant != variantRun {
		return nil, &schemas.ProviderExecutionError{
			Provider: ProviderID,
			Action:   action.Variant,
			Cause:    fmt.Errorf("unsupported variant %q", action.Variant),
		}
	}

	command := action.Params[paramCommand]
	timeout := p.cfg.CommandTimeout
	if raw, ok := action.Params[paramTimeout]; ok {
		seconds, err := strconv.Atoi(raw)
		if err == nil && seconds > 0 {
			timeout = time.Duration(seconds) * time.Second
		}
	}

	client, err := p.connection(ctx)
	if err != nil {
		return nil, &schemas.ProviderExecutionError{Provider: ProviderID, Action: action.Variant, Cause: err}
	}

	p.log.Info("Executing remote command",
		zap.String("command", command),
		zap.Duration("timeout", timeout))

	stdout, stderr, exitCode, err := p.runCommand(ctx, client, command, timeout)
	if err != nil {
		return nil, &schemas.ProviderExecutionError{Provider: ProviderID, Action: action.Variant, Cause: err}
	}

	body := stdout
	if stderr != "" {
		body += "\n[stderr]\n" + stderr
	}
	if len(body) > p.cfg.MaxOutputChars && p.cfg.MaxOutputChars > 0 {
		body = body[:p.cfg.MaxOutputChars] + "\n[output truncated]"
	}

	return &schemas.Observation{
		Provider:   ProviderID,
		Summary:    fmt.Sprintf("`%s` exited %d", command, exitCode),
		Body:       body,
		ExitCode:   exitCode,
		CapturedAt: time.Now().UTC(),
	}, nil
}

// runCommand executes one command in a fresh session with a PTY, enforcing
// the timeout by closing the session.
func (p *Provider) runCommand(ctx context.Context, client *ssh.Client, command string, timeout time.Duration) (string, string, int, error) {
	session, err := client.NewSession()
	if err != nil {
		// The connection may have dropped since the last command; one
		// reconnect attempt before giving up.
		p.dropConnection()
		client, err = p.connection(ctx)
		if err != nil {
			return "", "", 0, err
		}
		session, err = client.NewSession()
		if err != nil {
			return "", "", 0, fmt.Errorf("failed to open SSH session: %w", err)
		}
	}
	defer session.Close()

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm", 80, 200, modes); err != nil {
		return "", "", 0, fmt.Errorf("failed to request PTY: %w", err)
	}

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-runCtx.Done():
		session.Close()
		<-done
		return stdout.String(), stderr.String(), -1,
			fmt.Errorf("command timed out after %s: %w", timeout, runCtx.Err())
	case err := <-done:
		exitCode := 0
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				// Nonzero exit is an observation, not a failure.
				exitCode = exitErr.ExitStatus()
			} else {
				return stdout.String(), stderr.String(), 0,
					fmt.Errorf("remote command failed: %w", err)
			}
		}
		return stdout.String(), stderr.String(), exitCode, nil
	}
}

// connection returns the live SSH client, dialing if necessary.
func (p *Provider) connection(ctx context.Context) (*ssh.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}

	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	sshConfig := &ssh.ClientConfig{
		User:            p.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.Password(p.cfg.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         p.cfg.ConnectTimeout,
	}

	dialer := net.Dialer{Timeout: p.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH handshake with %s failed: %w", addr, err)
	}

	p.client = ssh.NewClient(sshConn, chans, reqs)
	p.log.Info("SSH connection established", zap.String("addr", addr), zap.String("user", p.cfg.User))
	return p.client, nil
}

func (p *Provider) dropConnection() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.Close()
		p.client = nil
	}
}

// Close shuts down the SSH connection.
func (p *Provider) Close(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	if err != nil {
		return fmt.Errorf("failed to close SSH connection: %w", err)
	}
	return nil
}
