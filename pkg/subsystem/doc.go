/*
Package subsystem defines the control handles a reservation worker
assembles at startup and the factory that builds them.

Four handles exist per reservation: the management-node handle (gRPC
health check against the platform daemon), the target-machine handle
(guest-OS control over SSH), an optional virtual-host handle for
VM-backed computers (virsh over SSH to the hypervisor), and the
provisioning-backend handle (hcloud or virsh driver).

The provisioning and target handles are cross-wired: provisioning
invokes guest-level operations through SetGuest, and the guest handle
falls back to hard power control through SetPower when a graceful
operation fails. A provisioning driver that resolves its own
virtual-host handle (virsh does) exposes it through VirtualHost; the
controller adopts that handle as authoritative when it differs from the
one built during startup.
*/
package subsystem
