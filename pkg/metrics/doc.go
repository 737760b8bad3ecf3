// Package metrics exports Prometheus collectors for the reservation
// controller: barrier polls and wait durations, cascade outcomes,
// heartbeats, best-effort store mutation failures, and total controller
// lifetime. Collectors are registered at package init; Handler exposes
// the standard scrape endpoint.
package metrics
