package subsystem

import (
	"context"
	"fmt"

	"github.com/paddockd/paddock/pkg/config"
	"github.com/paddockd/paddock/pkg/types"
)

// DefaultFactory builds the concrete handles for one reservation from
// the worker configuration and the computer record.
type DefaultFactory struct {
	cfg  *config.Config
	comp *types.Computer
}

// Compile-time interface assertion.
var _ Factory = (*DefaultFactory)(nil)

// NewFactory creates a factory for the given computer.
func NewFactory(cfg *config.Config, comp *types.Computer) *DefaultFactory {
	return &DefaultFactory{cfg: cfg, comp: comp}
}

// Management builds the management-node control handle.
func (f *DefaultFactory) Management(ctx context.Context) (ManagementHandle, error) {
	return NewManagementHandle(ctx, f.cfg.Management)
}

// Target builds the guest control handle for the target machine.
func (f *DefaultFactory) Target(ctx context.Context) (TargetHandle, error) {
	return NewSSHTarget(f.comp.Name, f.cfg.Target)
}

// VirtualHost builds the hypervisor handle. Only meaningful for
// VM-backed computers; the controller skips this step for bare metal.
func (f *DefaultFactory) VirtualHost(ctx context.Context) (VirtualHostHandle, error) {
	if f.comp.VirtualHost == "" {
		return nil, fmt.Errorf("computer %s has no virtual host", f.comp.Name)
	}
	return NewSSHVirtualHost(f.comp.VirtualHost, f.cfg.Target)
}

// Provisioning builds the configured provisioning backend driver.
func (f *DefaultFactory) Provisioning(ctx context.Context) (ProvisioningHandle, error) {
	switch f.cfg.Provisioning.Driver {
	case "hcloud":
		return NewHCloudProvisioner(ctx, f.cfg.Provisioning.Token, f.comp.Name)
	case "virsh":
		return NewVirshProvisioner(f.comp, f.cfg.Target)
	default:
		return nil, fmt.Errorf("unknown provisioning driver %q", f.cfg.Provisioning.Driver)
	}
}
