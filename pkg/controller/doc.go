/*
Package controller implements the lifecycle of a reservation worker
process.

A Controller is created once per process via New, which runs the
startup sequencing: resolve the reservation and its computer from the
shared store, stamp a liveness heartbeat, assemble the subsystem
handles in dependency order, cross-wire provisioning and guest control,
record the begin stage, and (for the parent of a multi-reservation
request) hold the cluster barrier until every sibling has checked in.

Process drives the reservation through provisioning, Fail is the
centralized failure cascade invoked from any component, and Close is
the idempotent teardown that resets shared coordination state and
releases the store. Close runs on every exit path.
*/
package controller
