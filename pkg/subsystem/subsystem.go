package subsystem

import (
	"context"
)

// ManagementHandle controls the platform management node.
type ManagementHandle interface {
	// CheckServing verifies the management daemon is up and serving.
	CheckServing(ctx context.Context) error
	Close() error
}

// TargetHandle controls the target machine at the guest-OS level.
type TargetHandle interface {
	// ID identifies the handle for logging and reconciliation.
	ID() string

	// AwaitReady blocks until the machine's control port answers.
	AwaitReady(ctx context.Context) error

	// Shutdown performs a graceful guest shutdown, falling back to the
	// cross-wired power handle when the graceful path fails.
	Shutdown(ctx context.Context) error

	// SetPower cross-wires the provisioning handle so guest operations
	// have a power-control fallback.
	SetPower(power ProvisioningHandle)

	Close() error
}

// VirtualHostHandle controls the hypervisor backing a VM computer.
type VirtualHostHandle interface {
	ID() string
	StartGuest(ctx context.Context, domain string) error
	StopGuest(ctx context.Context, domain string) error
	Close() error
}

// ProvisioningHandle controls machine power through the provisioning
// backend.
type ProvisioningHandle interface {
	ID() string
	PowerOn(ctx context.Context) error
	PowerOff(ctx context.Context) error
	Reset(ctx context.Context) error

	// SetGuest cross-wires the target handle so the backend can invoke
	// guest-level operations.
	SetGuest(guest TargetHandle)

	// VirtualHost returns the virtual-host handle the backend resolved
	// on its own, or nil. When non-nil and distinct from the one the
	// controller built, the controller adopts it as authoritative.
	VirtualHost() VirtualHostHandle

	Close() error
}

// Factory builds the subsystem handles for one reservation. Each build
// either returns a usable handle or an error; the controller aborts the
// whole startup sequence on the first failure and never proceeds
// partially.
type Factory interface {
	Management(ctx context.Context) (ManagementHandle, error)
	Target(ctx context.Context) (TargetHandle, error)
	VirtualHost(ctx context.Context) (VirtualHostHandle, error)
	Provisioning(ctx context.Context) (ProvisioningHandle, error)
}

// CrossWire connects the provisioning and target handles so each can
// invoke the other's capabilities: provisioning needs guest-level
// operations, and the guest handle needs power control as a fallback
// when a graceful operation fails.
func CrossWire(prov ProvisioningHandle, target TargetHandle) {
	prov.SetGuest(target)
	target.SetPower(prov)
}
