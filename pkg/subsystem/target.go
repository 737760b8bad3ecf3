package subsystem

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/paddockd/paddock/pkg/config"
	"github.com/paddockd/paddock/pkg/log"
	"github.com/paddockd/paddock/pkg/probe"
)

// sshRunner runs commands on a remote host over SSH. Connections are
// per-command: target machines reboot during provisioning, so a held
// connection would just go stale.
type sshRunner struct {
	addr      string
	sshConfig *ssh.ClientConfig
}

func newSSHRunner(host string, cfg config.TargetConfig) (*sshRunner, error) {
	if cfg.KeyPath == "" {
		return nil, fmt.Errorf("ssh key path is required")
	}
	key, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ssh key: %w", err)
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}

	return &sshRunner{
		addr: net.JoinHostPort(host, strconv.Itoa(port)),
		sshConfig: &ssh.ClientConfig{
			User: cfg.User,
			Auth: []ssh.AuthMethod{ssh.PublicKeys(signer)},
			// Machines are reimaged between reservations and present
			// fresh host keys every time.
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         cfg.Timeout.Std(),
		},
	}, nil
}

func (r *sshRunner) run(ctx context.Context, command string) ([]byte, error) {
	client, err := ssh.Dial("tcp", r.addr, r.sshConfig)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s failed: %w", r.addr, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ssh session failed: %w", err)
	}
	defer session.Close()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			client.Close()
		case <-done:
		}
	}()
	defer close(done)

	out, err := session.CombinedOutput(command)
	if err != nil {
		return out, fmt.Errorf("command %q failed: %w", command, err)
	}
	return out, nil
}

// SSHTarget is the guest-OS control handle for the target machine.
type SSHTarget struct {
	runner *sshRunner
	power  ProvisioningHandle
	logger zerolog.Logger
}

// Compile-time interface assertion.
var _ TargetHandle = (*SSHTarget)(nil)

// NewSSHTarget builds the guest control handle for the named machine.
func NewSSHTarget(host string, cfg config.TargetConfig) (*SSHTarget, error) {
	runner, err := newSSHRunner(host, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build target handle for %s: %w", host, err)
	}
	return &SSHTarget{
		runner: runner,
		logger: log.WithComponent("target").With().Str("addr", runner.addr).Logger(),
	}, nil
}

// ID identifies the handle by its control address.
func (t *SSHTarget) ID() string {
	return t.runner.addr
}

// SetPower cross-wires the provisioning handle for power fallback.
func (t *SSHTarget) SetPower(power ProvisioningHandle) {
	t.power = power
}

// AwaitReady waits for the machine's SSH port to answer.
func (t *SSHTarget) AwaitReady(ctx context.Context) error {
	return probe.WaitTCP(ctx, t.runner.addr, 5*time.Second, t.runner.sshConfig.Timeout)
}

// Shutdown attempts a graceful guest shutdown, falling back to a hard
// power-off through the cross-wired provisioning handle.
func (t *SSHTarget) Shutdown(ctx context.Context) error {
	if _, err := t.runner.run(ctx, "shutdown -h now"); err != nil {
		t.logger.Warn().Err(err).Msg("graceful shutdown failed, falling back to power off")
		if t.power != nil {
			return t.power.PowerOff(ctx)
		}
		return err
	}
	return nil
}

// Run executes a command on the guest and returns its combined output.
func (t *SSHTarget) Run(ctx context.Context, command string) ([]byte, error) {
	return t.runner.run(ctx, command)
}

// Close releases the handle. Connections are per-command, so there is
// nothing to tear down beyond dropping the power reference.
func (t *SSHTarget) Close() error {
	t.power = nil
	return nil
}
