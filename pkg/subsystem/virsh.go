package subsystem

import (
	"context"
	"fmt"

	"github.com/paddockd/paddock/pkg/config"
	"github.com/paddockd/paddock/pkg/types"
)

// VirshProvisioner powers VM-backed computers through virsh on their
// hypervisor. It resolves its own virtual-host handle at construction;
// the controller adopts that handle when it differs from the one built
// during startup sequencing.
type VirshProvisioner struct {
	host   *SSHVirtualHost
	domain string
	guest  TargetHandle
}

// Compile-time interface assertion.
var _ ProvisioningHandle = (*VirshProvisioner)(nil)

// NewVirshProvisioner builds the driver for a VM-backed computer.
func NewVirshProvisioner(comp *types.Computer, cfg config.TargetConfig) (*VirshProvisioner, error) {
	if comp.VirtualHost == "" {
		return nil, fmt.Errorf("computer %s is not backed by a virtual host", comp.Name)
	}

	host, err := NewSSHVirtualHost(comp.VirtualHost, cfg)
	if err != nil {
		return nil, fmt.Errorf("virsh driver: %w", err)
	}

	return &VirshProvisioner{
		host:   host,
		domain: comp.Name,
	}, nil
}

// ID identifies the driver by hypervisor and domain.
func (p *VirshProvisioner) ID() string {
	return fmt.Sprintf("virsh:%s/%s", p.host.ID(), p.domain)
}

// PowerOn starts the guest domain.
func (p *VirshProvisioner) PowerOn(ctx context.Context) error {
	return p.host.StartGuest(ctx, p.domain)
}

// PowerOff forcibly stops the guest domain.
func (p *VirshProvisioner) PowerOff(ctx context.Context) error {
	return p.host.StopGuest(ctx, p.domain)
}

// Reset power-cycles the guest domain.
func (p *VirshProvisioner) Reset(ctx context.Context) error {
	out, err := p.host.runner.run(ctx, fmt.Sprintf("virsh reset %q", p.domain))
	if err != nil {
		return fmt.Errorf("failed to reset guest %s: %w (%s)", p.domain, err, out)
	}
	return nil
}

// SetGuest cross-wires the target handle.
func (p *VirshProvisioner) SetGuest(guest TargetHandle) {
	p.guest = guest
}

// VirtualHost returns the hypervisor handle the driver resolved itself.
func (p *VirshProvisioner) VirtualHost() VirtualHostHandle {
	return p.host
}

// Close releases the driver and its hypervisor handle.
func (p *VirshProvisioner) Close() error {
	p.guest = nil
	return p.host.Close()
}
