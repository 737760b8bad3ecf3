package subsystem

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/paddockd/paddock/pkg/config"
	"github.com/paddockd/paddock/pkg/log"
)

// SSHVirtualHost controls guest domains on a hypervisor through virsh
// over SSH.
type SSHVirtualHost struct {
	runner *sshRunner
	logger zerolog.Logger
}

// Compile-time interface assertion.
var _ VirtualHostHandle = (*SSHVirtualHost)(nil)

// NewSSHVirtualHost builds a handle for the given hypervisor address.
func NewSSHVirtualHost(host string, cfg config.TargetConfig) (*SSHVirtualHost, error) {
	runner, err := newSSHRunner(host, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build virtual host handle for %s: %w", host, err)
	}
	return &SSHVirtualHost{
		runner: runner,
		logger: log.WithComponent("virtualhost").With().Str("addr", runner.addr).Logger(),
	}, nil
}

// ID identifies the handle by the hypervisor's control address.
func (v *SSHVirtualHost) ID() string {
	return v.runner.addr
}

// StartGuest starts the named domain.
func (v *SSHVirtualHost) StartGuest(ctx context.Context, domain string) error {
	out, err := v.runner.run(ctx, fmt.Sprintf("virsh start %q", domain))
	if err != nil {
		return fmt.Errorf("failed to start guest %s: %w (%s)", domain, err, out)
	}
	v.logger.Info().Str("domain", domain).Msg("guest started")
	return nil
}

// StopGuest forcibly stops the named domain.
func (v *SSHVirtualHost) StopGuest(ctx context.Context, domain string) error {
	out, err := v.runner.run(ctx, fmt.Sprintf("virsh destroy %q", domain))
	if err != nil {
		return fmt.Errorf("failed to stop guest %s: %w (%s)", domain, err, out)
	}
	v.logger.Info().Str("domain", domain).Msg("guest stopped")
	return nil
}

// Close releases the handle.
func (v *SSHVirtualHost) Close() error {
	return nil
}
