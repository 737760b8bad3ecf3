/*
Package store provides the shared relational store that coordinates
independent Paddock worker processes.

The store is the system's only coordination medium: there is no lock
service, no RPC between workers, no shared memory. Each statement is
atomic on its own; there are no transactions spanning statements, and
scalar fields (request state, computer state) are last-write-wins. The
lifecycle protocol tolerates this because its writes are idempotent:
re-appending a failed stage, or re-observing one, has no additional
effect.

Entities:

  - requests: state + laststate (preserved across the failed transition)
  - reservations: one computer within a request, parent or child role,
    plus the liveness heartbeat stamp
  - computers: resource state (maintenance is an administrative hold)
  - load_log: append-only stage markers, ordered by insertion; the
    barrier's progress record
  - processing_log: per-run record whose ending the cascade marks
  - block_computers: block allocation membership

SQLiteStore is the concrete implementation, one connection per worker
process, WAL journal so the N workers of a request can share the file.
*/
package store
