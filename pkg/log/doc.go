// Package log provides structured logging for Paddock workers, built on
// zerolog. Init configures the global logger once at process start; the
// With* helpers derive child loggers tagged with the reservation,
// request, or computer the worker is handling.
package log
