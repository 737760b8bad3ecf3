/*
Package barrier implements cross-process synchronization between sibling
reservations of one request.

Workers have no direct channel to each other; the barrier polls the
shared load log, treating each reservation's ordered stage names as its
progress record. A sibling that records the failed stage poisons every
waiting barrier immediately (ErrPeerFailed), so a peer failure
short-circuits into the waiter's own failure cascade instead of
degrading into a generic timeout. Deletion of the owning request is
cancellation, not failure, and surfaces as ErrRequestDeleted.

Timeouts are returned as a plain false, never an error: the caller owns
the decision to unwind.
*/
package barrier
