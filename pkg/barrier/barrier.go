package barrier

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/paddockd/paddock/pkg/log"
	"github.com/paddockd/paddock/pkg/metrics"
	"github.com/paddockd/paddock/pkg/types"
)

var (
	// ErrPeerFailed means a sibling reservation recorded the failed
	// stage. A waiting reservation must unwind through its own failure
	// cascade instead of timing out.
	ErrPeerFailed = errors.New("sibling reservation failed")

	// ErrRequestDeleted means the owning request disappeared mid-wait.
	// Deletion is cancellation, not failure; the worker exits with a
	// success status without running the cascade.
	ErrRequestDeleted = errors.New("request deleted")
)

// StageStore is the slice of the shared store the barrier polls.
type StageStore interface {
	StagesByReservation(requestID string) (map[string][]string, error)
	RequestDeleted(requestID string) (bool, error)
}

// Barrier synchronizes sibling reservations of one request through the
// shared load log. All coordination is polled; workers have no direct
// channel to each other.
type Barrier struct {
	store     StageStore
	requestID string
	selfID    string
	logger    zerolog.Logger
}

// New creates a barrier for the given reservation within its request.
func New(store StageStore, requestID, selfID string) *Barrier {
	return &Barrier{
		store:     store,
		requestID: requestID,
		selfID:    selfID,
		logger: log.WithComponent("barrier").With().
			Str("request_id", requestID).
			Str("reservation_id", selfID).
			Logger(),
	}
}

// StageReached reports whether every reservation of the request
// (optionally excluding the caller) has recorded the named stage. A
// failed stage on any consulted reservation returns ErrPeerFailed
// immediately, poisoning the wait. An empty consulted set is vacuously
// satisfied.
func (b *Barrier) StageReached(stage string, excludeSelf bool) (bool, error) {
	stages, err := b.store.StagesByReservation(b.requestID)
	if err != nil {
		return false, fmt.Errorf("failed to read stage log: %w", err)
	}

	// The failed check must cover every consulted reservation before the
	// result is decided; map order is random, and a laggard sibling must
	// not mask another sibling's poison pill.
	allReached := true
	for resID, recorded := range stages {
		if excludeSelf && resID == b.selfID {
			continue
		}

		reached := false
		for _, name := range recorded {
			if name == types.StageFailed {
				b.logger.Warn().Str("peer", resID).Msg("sibling recorded failed stage")
				return false, ErrPeerFailed
			}
			if name == stage {
				reached = true
			}
		}
		if !reached {
			allReached = false
		}
	}

	return allReached, nil
}

// WaitForStage polls StageReached until every reservation reaches the
// stage, the total budget elapses, or the owning request is deleted.
// Returns false on timeout; the caller decides whether that invokes the
// failure cascade. The first check runs immediately, so a budget smaller
// than the poll interval still performs at least one check and a
// pre-existing peer failure is observed without any polling delay.
func (b *Barrier) WaitForStage(stage string, total, interval time.Duration) (bool, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BarrierWaitDuration)

	deadline := time.Now().Add(total)
	for {
		metrics.BarrierPollsTotal.Inc()

		// Deletion is checked on every poll; it is the only supported
		// cancellation signal.
		deleted, err := b.store.RequestDeleted(b.requestID)
		if err != nil {
			b.logger.Error().Err(err).Msg("failed to check request deletion")
		} else if deleted {
			b.logger.Info().Msg("request deleted mid-wait")
			return false, ErrRequestDeleted
		}

		reached, err := b.StageReached(stage, false)
		if err != nil {
			return false, err
		}
		if reached {
			b.logger.Debug().Str("stage", stage).Msg("barrier satisfied")
			return true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			b.logger.Warn().
				Str("stage", stage).
				Dur("budget", total).
				Msg("barrier wait timed out")
			return false, nil
		}

		sleep := interval
		if remaining < interval {
			sleep = remaining
		}
		time.Sleep(sleep)
	}
}
