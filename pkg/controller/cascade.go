package controller

import (
	"github.com/paddockd/paddock/pkg/events"
	"github.com/paddockd/paddock/pkg/metrics"
	"github.com/paddockd/paddock/pkg/types"
)

// Fail is the centralized failure cascade. Any component that hits an
// unrecoverable condition funnels through here; the cascade records the
// failure in the shared store, releases coordination state, and
// terminates the process. Every step is best-effort: a mutation that
// fails is logged and the cascade continues, so one unreachable table
// never blocks the rest of the cleanup.
//
// One check precedes everything: when the owning request was deleted
// while the worker ran, the failure is reinterpreted as cancellation.
// The computer goes back to the available pool (unless an operator put
// it in maintenance) and the process exits successfully.
func (c *Controller) Fail(message string) {
	c.logger.Error().Str("reason", message).Msg("failure cascade invoked")
	c.publish(events.EventCascadeInvoked, message)

	deleted, err := c.store.RequestDeleted(c.res.RequestID)
	if err != nil {
		c.mutationFailed("check request deletion", err)
	}
	if deleted {
		metrics.CascadesTotal.WithLabelValues("deleted").Inc()
		c.releaseComputer(types.ComputerStateAvailable)
		c.logger.Info().Msg("request deleted, treating failure as cancellation")
		c.shutdown(0)
		return
	}
	metrics.CascadesTotal.WithLabelValues("failed").Inc()

	// Poison pill: siblings polling the barrier see this entry and
	// cascade themselves instead of waiting out their full budget.
	if err := c.store.AppendLoadLog(c.res.ID, c.comp.ID, types.StageFailed, message); err != nil {
		c.mutationFailed("record failed stage", err)
	}

	prior, err := c.store.RequestState(c.res.RequestID)
	if err != nil {
		c.mutationFailed("read request state", err)
	} else if types.InFlightRequestStates[prior] {
		logID, err := c.store.LatestProcessingLog(c.res.RequestID)
		if err != nil {
			c.mutationFailed("find processing log", err)
		} else if err := c.store.MarkProcessingLogEnding(logID, types.ProcessingLogEndingFailed); err != nil {
			c.mutationFailed("close processing log", err)
		}
	}

	c.releaseComputer(types.ComputerStateFailed)

	// The prior state travels along so an operator can see what the
	// request was doing when it died.
	if err := c.store.SetRequestState(c.res.RequestID, types.RequestStateFailed, prior); err != nil {
		c.mutationFailed("mark request failed", err)
	}

	inBlock, err := c.store.InBlockAllocation(c.comp.ID)
	if err != nil {
		c.mutationFailed("check block allocation", err)
	} else if inBlock {
		if err := c.store.ClearBlockAllocation(c.comp.ID); err != nil {
			c.mutationFailed("clear block allocation", err)
		}
	}

	c.shutdown(1)
}

// releaseComputer moves the computer to the given state unless an
// operator placed it in maintenance. The maintenance hold outranks
// every automated transition.
func (c *Controller) releaseComputer(state types.ComputerState) {
	current, err := c.store.ComputerState(c.comp.ID)
	if err != nil {
		c.mutationFailed("read computer state", err)
		return
	}
	if current == types.ComputerStateMaintenance {
		c.logger.Info().Msg("computer in maintenance, leaving state untouched")
		return
	}
	if err := c.store.SetComputerState(c.comp.ID, state); err != nil {
		c.mutationFailed("set computer state", err)
	}
}

func (c *Controller) mutationFailed(step string, err error) {
	metrics.StoreMutationErrors.Inc()
	c.logger.Warn().Err(err).Str("step", step).Msg("cascade step failed, continuing")
}
