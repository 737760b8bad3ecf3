package controller

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/paddockd/paddock/pkg/barrier"
	"github.com/paddockd/paddock/pkg/config"
	"github.com/paddockd/paddock/pkg/events"
	"github.com/paddockd/paddock/pkg/log"
	"github.com/paddockd/paddock/pkg/metrics"
	"github.com/paddockd/paddock/pkg/store"
	"github.com/paddockd/paddock/pkg/subsystem"
	"github.com/paddockd/paddock/pkg/types"
)

// Options wires a Controller's collaborators. Store and Factory are
// required; Broker is optional in-process observability.
type Options struct {
	Config  *config.Config
	Store   store.Store
	Factory subsystem.Factory
	Broker  *events.Broker
}

// Controller owns the lifecycle of one reservation worker process: the
// startup sequencing, the cluster barrier for parent reservations, the
// failure cascade, and the teardown that resets shared coordination
// state. It is the explicit context object holding what would otherwise
// be process-wide mutable state, initialized once at startup and
// disposed exactly once at teardown.
type Controller struct {
	cfg    *config.Config
	store  store.Store
	broker *events.Broker

	workerID string
	res      *types.Reservation
	comp     *types.Computer
	multi    bool // request has more than one reservation

	mgmt    subsystem.ManagementHandle
	target  subsystem.TargetHandle
	vhost   subsystem.VirtualHostHandle
	prov    subsystem.ProvisioningHandle
	barrier *barrier.Barrier

	stages map[string][]string // cached stage listing, refreshed at teardown

	timer  *metrics.Timer
	logger zerolog.Logger

	stopHeartbeat chan struct{}
	closed        bool

	// exit terminates the process; overridden in tests.
	exit func(code int)
}

// osExit is swapped out in tests so cascade paths can be exercised
// without killing the test binary.
var osExit = os.Exit

// New runs the startup sequencing for the given reservation: liveness
// heartbeat, subsystem handle assembly in order, cross-wiring,
// virtual-host reconciliation, the parent's cluster-begin barrier, and
// the advisory new→pending request transition. It either returns a
// fully wired controller or fails atomically; no partial success is
// reported as success.
func New(ctx context.Context, reservationID string, opts Options) (*Controller, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store connection is required")
	}
	if opts.Factory == nil {
		return nil, fmt.Errorf("subsystem factory is required")
	}

	c := &Controller{
		cfg:           cfg,
		store:         opts.Store,
		broker:        opts.Broker,
		workerID:      uuid.New().String(),
		timer:         metrics.NewTimer(),
		stopHeartbeat: make(chan struct{}),
		exit:          func(code int) { osExit(code) },
	}

	// Fatal preconditions: the reservation and its computer must
	// resolve in the shared store.
	res, err := c.store.Reservation(reservationID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve reservation %s: %w", reservationID, err)
	}
	c.res = res

	comp, err := c.store.Computer(res.ComputerID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve computer %s: %w", res.ComputerID, err)
	}
	c.comp = comp

	c.logger = log.WithReservationID(res.ID).With().
		Str("request_id", res.RequestID).
		Str("computer", comp.Name).
		Str("worker_id", c.workerID).
		Logger()

	// Heartbeat before any expensive work, so the external monitor does
	// not treat this worker as stalled and fork a duplicate.
	if err := c.store.RecordHeartbeat(res.ID); err != nil {
		return nil, fmt.Errorf("failed to record liveness heartbeat: %w", err)
	}
	metrics.HeartbeatsTotal.Inc()
	go c.heartbeatLoop()

	if err := c.buildSubsystems(ctx, opts.Factory); err != nil {
		c.releaseHandles()
		close(c.stopHeartbeat)
		return nil, err
	}

	c.barrier = barrier.New(c.store, res.RequestID, res.ID)

	siblings, err := c.store.ReservationIDs(res.RequestID)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to list sibling reservations")
	}
	c.multi = len(siblings) > 1

	// Record our own begin stage; the parent's barrier (and any later
	// teardown reset) depends on it.
	if err := c.store.AppendLoadLog(res.ID, comp.ID, types.StageBegin, ""); err != nil {
		c.releaseHandles()
		close(c.stopHeartbeat)
		return nil, fmt.Errorf("failed to record begin stage: %w", err)
	}
	c.publish(events.EventReservationBegin, "")
	c.logger.Info().Msg("reservation worker started")

	if res.IsParent() && c.multi {
		if err := c.awaitStage(types.StageBegin,
			cfg.Barrier.BeginTotal.Std(), cfg.Barrier.BeginPoll.Std()); err != nil {
			// awaitStage already ran the cascade; this return is only
			// reachable when the exit func is stubbed out.
			return nil, err
		}
	}

	if res.IsParent() {
		c.advanceNewRequest()
	}

	return c, nil
}

// buildSubsystems assembles the dependent handles in order. Any
// construction failure aborts the sequence; later handles are never
// attempted.
func (c *Controller) buildSubsystems(ctx context.Context, factory subsystem.Factory) error {
	mgmt, err := factory.Management(ctx)
	if err != nil {
		return fmt.Errorf("failed to build management handle: %w", err)
	}
	c.mgmt = mgmt

	target, err := factory.Target(ctx)
	if err != nil {
		return fmt.Errorf("failed to build target handle: %w", err)
	}
	c.target = target

	if c.comp.VirtualHost != "" {
		vhost, err := factory.VirtualHost(ctx)
		if err != nil {
			return fmt.Errorf("failed to build virtual host handle: %w", err)
		}
		c.vhost = vhost
	}

	prov, err := factory.Provisioning(ctx)
	if err != nil {
		return fmt.Errorf("failed to build provisioning handle: %w", err)
	}
	c.prov = prov

	subsystem.CrossWire(c.prov, c.target)

	// When the provisioning backend resolved its own virtual-host
	// handle, it wins over the one built above. Last writer, not a
	// merge.
	if pv := c.prov.VirtualHost(); pv != nil {
		if c.vhost == nil || pv.ID() != c.vhost.ID() {
			if c.vhost != nil {
				c.logger.Info().
					Str("built", c.vhost.ID()).
					Str("adopted", pv.ID()).
					Msg("adopting provisioning backend's virtual host handle")
				c.vhost.Close()
			}
			c.vhost = pv
		}
	}

	return nil
}

// awaitStage waits on the cluster barrier and maps its outcomes:
// request deletion exits 0 bypassing the cascade, peer failure and
// timeout both unwind through the failure cascade.
func (c *Controller) awaitStage(stage string, total, interval time.Duration) error {
	reached, err := c.barrier.WaitForStage(stage, total, interval)
	switch {
	case err == barrier.ErrRequestDeleted:
		c.exitDeleted()
		return err
	case err == barrier.ErrPeerFailed:
		c.Fail(fmt.Sprintf("sibling reservation failed while waiting for stage %q", stage))
		return err
	case err != nil:
		c.Fail(fmt.Sprintf("barrier wait for stage %q failed: %v", stage, err))
		return err
	case !reached:
		c.publish(events.EventBarrierTimeout, stage)
		c.Fail(fmt.Sprintf("timed out waiting for stage %q from sibling reservations", stage))
		return fmt.Errorf("timed out waiting for stage %q", stage)
	}
	c.publish(events.EventBarrierReached, stage)
	return nil
}

// advanceNewRequest moves the request from its initial state to pending.
// A respawned worker finds the request already past new and leaves the
// stored state alone; this transition only ever moves forward.
func (c *Controller) advanceNewRequest() {
	current, err := c.store.RequestState(c.res.RequestID)
	if err != nil {
		c.logger.Error().Err(err).Msg("critical: failed to read request state")
		return
	}
	if current != types.RequestStateNew {
		return
	}
	if err := c.store.SetRequestState(c.res.RequestID, types.RequestStatePending, current); err != nil {
		c.logger.Error().Err(err).Msg("critical: failed to persist request state transition")
	}
}

// advanceRequestState persists an advisory request state transition.
// Failure here is logged as critical but does not trigger the cascade:
// the stored state is for observers, not a safety precondition.
func (c *Controller) advanceRequestState(state types.RequestState) {
	prior, err := c.store.RequestState(c.res.RequestID)
	if err != nil {
		c.logger.Error().Err(err).Msg("critical: failed to read request state")
		return
	}
	if err := c.store.SetRequestState(c.res.RequestID, state, prior); err != nil {
		c.logger.Error().Err(err).
			Str("state", string(state)).
			Msg("critical: failed to persist request state transition")
	}
}

// Process runs the reservation through provisioning: power the machine
// on, wait for the guest to answer, and record the ready stage. The
// parent then holds the ready barrier before marking the whole request
// ready. Errors are returned to the caller, which unwinds through Fail.
func (c *Controller) Process(ctx context.Context) error {
	if c.res.IsParent() {
		c.advanceRequestState(types.RequestStateInstalling)
	}

	if err := c.prov.PowerOn(ctx); err != nil {
		return fmt.Errorf("failed to power on %s: %w", c.comp.Name, err)
	}
	c.logger.Info().Msg("computer powered on")

	if err := c.target.AwaitReady(ctx); err != nil {
		return fmt.Errorf("computer %s did not become ready: %w", c.comp.Name, err)
	}

	if err := c.store.AppendLoadLog(c.res.ID, c.comp.ID, types.StageReady, ""); err != nil {
		return fmt.Errorf("failed to record ready stage: %w", err)
	}
	c.publish(events.EventReservationReady, "")
	c.logger.Info().Msg("computer ready")

	if c.res.IsParent() && c.multi {
		if err := c.awaitStage(types.StageReady,
			c.cfg.Barrier.Total.Std(), c.cfg.Barrier.Poll.Std()); err != nil {
			return err
		}
	}

	if c.res.IsParent() {
		c.advanceRequestState(types.RequestStateReady)
	}

	return nil
}

// heartbeatLoop keeps stamping the reservation's last-checked timestamp
// for the external monitor while the worker runs, including through
// long barrier waits.
func (c *Controller) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.Heartbeat.Interval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.store.RecordHeartbeat(c.res.ID); err != nil {
				c.logger.Warn().Err(err).Msg("heartbeat failed")
				continue
			}
			metrics.HeartbeatsTotal.Inc()
		case <-c.stopHeartbeat:
			return
		}
	}
}

// exitDeleted terminates the worker after the owning request was
// deleted. Deletion is cancellation: exit 0, no cascade.
func (c *Controller) exitDeleted() {
	c.publish(events.EventRequestDeleted, "")
	c.logger.Info().Msg("request deleted, worker exiting")
	c.shutdown(0)
}

// shutdown runs teardown and terminates the process.
func (c *Controller) shutdown(code int) {
	c.Close()
	c.exit(code)
}

// Close is the teardown controller. It runs on every exit path, whether
// normal return, cascade-triggered termination, or error, and is safe
// to call more than once; only the first call does work. Teardown is
// best-effort throughout and never propagates a failure to its caller.
func (c *Controller) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.stopHeartbeat)

	c.releaseHandles()

	inBlock, err := c.store.InBlockAllocation(c.comp.ID)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to check block allocation membership")
	}

	// Block-allocation members keep their logs; the block controller
	// owns their cleanup. Children never reset the barrier.
	if !inBlock && c.res.IsParent() {
		ids, err := c.store.ReservationIDs(c.res.RequestID)
		if err != nil || len(ids) == 0 {
			c.logger.Warn().Err(err).Msg("no reservation list for log cleanup, skipping")
		} else {
			if err := c.store.DeleteLoadLog(ids, types.StageBegin); err != nil {
				metrics.StoreMutationErrors.Inc()
				c.logger.Warn().Err(err).Msg("failed to reset begin stage entries")
			}
			if stages, err := c.store.StagesByReservation(c.res.RequestID); err == nil {
				c.stages = stages
			}
		}
	}

	c.publish(events.EventTeardownDone, "")
	c.timer.ObserveDuration(metrics.ControllerDuration)
	c.logger.Info().
		Dur("duration", c.timer.Duration()).
		Msg("controller torn down")

	return c.store.Close()
}

// releaseHandles closes whichever subsystem handles were built.
func (c *Controller) releaseHandles() {
	if c.prov != nil {
		c.prov.Close()
	}
	if c.vhost != nil {
		c.vhost.Close()
	}
	if c.target != nil {
		c.target.Close()
	}
	if c.mgmt != nil {
		c.mgmt.Close()
	}
}

func (c *Controller) publish(t events.EventType, message string) {
	if c.broker == nil {
		return
	}
	c.broker.Publish(&events.Event{
		Type:          t,
		ReservationID: c.res.ID,
		RequestID:     c.res.RequestID,
		Message:       message,
	})
}

// Reservation returns the reservation this controller owns.
func (c *Controller) Reservation() *types.Reservation {
	return c.res
}

// Stages returns the cached stage listing refreshed at teardown.
func (c *Controller) Stages() map[string][]string {
	return c.stages
}
