// Package events provides an in-process broker for reservation
// lifecycle events. The CLI subscribes to surface progress in logs.
// Nothing here crosses a process boundary; coordination between workers
// goes through the shared store only.
package events
