// Package probe provides TCP reachability checks used by the subsystem
// handles to wait for a machine's control port to come up.
package probe
