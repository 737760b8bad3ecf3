/*
Package types defines the shared domain types for Paddock.

The store-resident entities (Request, Reservation, Computer,
LoadLogEntry, ProcessingLog) are owned by the shared store and referenced
by identifier; the controller holds no exclusive lock on them and must
assume concurrent mutation by sibling worker processes.

State machines:

	Request:  new → pending → installing → ready → complete
	                                   ↘ failed (LastState preserved)

	Computer: available ↔ reserved → failed
	          maintenance (administrative hold, always wins)

The load log is the only coordination medium between worker processes:
append-only stage markers, polled by the cluster barrier, reset by the
parent reservation's teardown.
*/
package types
