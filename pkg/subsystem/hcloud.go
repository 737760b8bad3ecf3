package subsystem

import (
	"context"
	"fmt"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
)

// HCloudProvisioner powers cloud-hosted computers through the Hetzner
// Cloud API. The server is addressed by name, matching the computer's
// short name in the shared store.
type HCloudProvisioner struct {
	client     *hcloud.Client
	serverName string
	guest      TargetHandle
}

// Compile-time interface assertion.
var _ ProvisioningHandle = (*HCloudProvisioner)(nil)

// NewHCloudProvisioner builds the cloud driver and verifies the server
// exists.
func NewHCloudProvisioner(ctx context.Context, token, serverName string) (*HCloudProvisioner, error) {
	if token == "" {
		return nil, fmt.Errorf("hcloud driver requires an API token")
	}

	p := &HCloudProvisioner{
		client:     hcloud.NewClient(hcloud.WithToken(token)),
		serverName: serverName,
	}

	if _, err := p.lookup(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *HCloudProvisioner) lookup(ctx context.Context) (*hcloud.Server, error) {
	server, _, err := p.client.Server.GetByName(ctx, p.serverName)
	if err != nil {
		return nil, fmt.Errorf("failed to look up server %s: %w", p.serverName, err)
	}
	if server == nil {
		return nil, fmt.Errorf("server %s not found", p.serverName)
	}
	return server, nil
}

// ID identifies the driver by server name.
func (p *HCloudProvisioner) ID() string {
	return "hcloud:" + p.serverName
}

// PowerOn powers the server on.
func (p *HCloudProvisioner) PowerOn(ctx context.Context) error {
	server, err := p.lookup(ctx)
	if err != nil {
		return err
	}
	if _, _, err := p.client.Server.Poweron(ctx, server); err != nil {
		return fmt.Errorf("failed to power on %s: %w", p.serverName, err)
	}
	return nil
}

// PowerOff cuts power to the server.
func (p *HCloudProvisioner) PowerOff(ctx context.Context) error {
	server, err := p.lookup(ctx)
	if err != nil {
		return err
	}
	if _, _, err := p.client.Server.Poweroff(ctx, server); err != nil {
		return fmt.Errorf("failed to power off %s: %w", p.serverName, err)
	}
	return nil
}

// Reset power-cycles the server.
func (p *HCloudProvisioner) Reset(ctx context.Context) error {
	server, err := p.lookup(ctx)
	if err != nil {
		return err
	}
	if _, _, err := p.client.Server.Reset(ctx, server); err != nil {
		return fmt.Errorf("failed to reset %s: %w", p.serverName, err)
	}
	return nil
}

// SetGuest cross-wires the target handle.
func (p *HCloudProvisioner) SetGuest(guest TargetHandle) {
	p.guest = guest
}

// VirtualHost reports nil: the cloud backend manages its own
// hypervisors and never exposes one.
func (p *HCloudProvisioner) VirtualHost() VirtualHostHandle {
	return nil
}

// Close releases the driver.
func (p *HCloudProvisioner) Close() error {
	p.guest = nil
	return nil
}
