// Package alloc reassigns a rental to a substitute spot when its spot
// is reported blocked, falling back to refund plus platform credit
// when no acceptable substitute exists.
package alloc

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/campus-parking/internal/events"
	"github.com/example/campus-parking/internal/ledger"
	"github.com/example/campus-parking/internal/models"
	"github.com/example/campus-parking/internal/observability"
	"github.com/example/campus-parking/internal/rental"
	"github.com/example/campus-parking/internal/storage"
)

// Config carries the coordinator policy knobs.
type Config struct {
	// AcceptTimeout bounds how long a substitute offer stays open; an
	// unanswered offer counts as a rejection.
	AcceptTimeout time.Duration
	// CreditCents is the platform credit granted on the refund
	// fallback path.
	CreditCents int64
}

func DefaultConfig() Config {
	return Config{AcceptTimeout: 30 * time.Minute, CreditCents: 500}
}

// Coordinator runs the blocked-spot reassignment algorithm. The
// original spot's claim stays held until the substitute is accepted or
// the refund fallback completes, so there is never a window where the
// rental holds neither spot.
type Coordinator struct {
	manager *rental.Manager
	ledger  *ledger.Ledger
	store   storage.RentalStore
	bus     events.Bus
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time

	mu     sync.Mutex
	offers map[string]chan bool // rental ID -> renter decision
}

func New(mgr *rental.Manager, led *ledger.Ledger, store storage.RentalStore, bus events.Bus, logger *slog.Logger, cfg Config) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		manager: mgr,
		ledger:  led,
		store:   store,
		bus:     bus,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
		offers:  make(map[string]chan bool),
	}
}

// HandleBlockedSpot is the entry point for a blocked-spot report on a
// confirmed rental. It blocks until the offer is decided or times out;
// callers run it on their own goroutine.
func (c *Coordinator) HandleBlockedSpot(ctx context.Context, rentalID string) error {
	r, err := c.manager.Get(rentalID)
	if err != nil {
		return err
	}
	if r.Status != models.StatusConfirmed {
		return rental.ErrInvalidTransition
	}

	// a rental is reassigned at most once; a second report goes
	// straight to the refund fallback
	if r.ReassignCount >= 1 {
		c.logger.Info("reassignment cap reached, refunding", "rental_id", rentalID)
		return c.fallback(ctx, r)
	}

	blocked, ok := c.ledger.Spot(r.SpotID)
	if !ok {
		return ledger.ErrUnknownSpot
	}

	candidate, found := c.pickCandidate(blocked, r)
	if !found {
		c.logger.Info("no substitute spot available", "rental_id", rentalID, "lot", blocked.Lot)
		return c.fallback(ctx, r)
	}

	// claim the substitute while the blocked spot stays held
	if err := c.ledger.Claim(candidate.ID, r.Date, r.ID); err != nil {
		// lost the race for the candidate; treat as none available
		return c.fallback(ctx, r)
	}
	if err := c.manager.MarkPendingReassignment(r.ID); err != nil {
		_ = c.ledger.Release(candidate.ID, r.Date, r.ID)
		return err
	}

	accepted := c.awaitDecision(ctx, r.ID)
	if !accepted {
		c.record(r.ID, candidate.ID, models.ReassignRejected)
		_ = c.ledger.Release(candidate.ID, r.Date, r.ID)
		return c.fallback(ctx, r)
	}

	if err := c.manager.FinalizeReassignment(r.ID, candidate.ID); err != nil {
		c.logger.Error("finalize reassignment failed", "rental_id", r.ID, "error", err)
		_ = c.ledger.Release(candidate.ID, r.Date, r.ID)
		return err
	}
	// the blocked spot is only let go once the substitute is locked in
	_ = c.ledger.Release(blocked.ID, r.Date, r.ID)
	c.record(r.ID, candidate.ID, models.ReassignAccepted)
	return nil
}

// Accept resolves an outstanding offer positively.
func (c *Coordinator) Accept(rentalID string) bool { return c.decide(rentalID, true) }

// Reject resolves an outstanding offer negatively.
func (c *Coordinator) Reject(rentalID string) bool { return c.decide(rentalID, false) }

func (c *Coordinator) decide(rentalID string, accept bool) bool {
	c.mu.Lock()
	ch, ok := c.offers[rentalID]
	if ok {
		delete(c.offers, rentalID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	ch <- accept
	return true
}

// awaitDecision parks until the renter answers, the offer times out,
// or the context is cancelled. Timeout and cancellation both count as
// rejection; an offer is never left open indefinitely.
func (c *Coordinator) awaitDecision(ctx context.Context, rentalID string) bool {
	ch := make(chan bool, 1)
	c.mu.Lock()
	c.offers[rentalID] = ch
	c.mu.Unlock()

	timer := time.NewTimer(c.cfg.AcceptTimeout)
	defer timer.Stop()

	select {
	case v := <-ch:
		return v
	case <-timer.C:
	case <-ctx.Done():
	}
	// decide removes the offer from the map before sending, so a
	// missing entry here means a decision was already acknowledged to
	// the renter and is guaranteed to arrive on ch; it must win over
	// the timeout.
	c.mu.Lock()
	_, open := c.offers[rentalID]
	delete(c.offers, rentalID)
	c.mu.Unlock()
	if !open {
		return <-ch
	}
	return false
}

// pickCandidate applies the substitution rules: same lot and date,
// never farther from campus than the blocked spot, vehicle must fit,
// closest distance to the original wins, ties broken by lowest spot ID.
func (c *Coordinator) pickCandidate(blocked models.Spot, r *models.Rental) (models.Spot, bool) {
	var best models.Spot
	bestDelta := math.MaxFloat64
	found := false
	for _, s := range c.ledger.Query(blocked.Lot, r.Date) {
		if s.ID == blocked.ID {
			continue
		}
		if s.DistanceMeters > blocked.DistanceMeters {
			continue
		}
		if !s.Fits(r.VehicleSize) {
			continue
		}
		delta := math.Abs(s.DistanceMeters - blocked.DistanceMeters)
		// Query returns spots sorted by ID, so on an exact tie the
		// lowest ID is already in place
		if delta < bestDelta {
			best, bestDelta, found = s, delta, true
		}
	}
	return best, found
}

// fallback issues the full refund, grants platform credit, cancels the
// rental, and records the exhausted attempt.
func (c *Coordinator) fallback(ctx context.Context, r *models.Rental) error {
	c.record(r.ID, "", models.ReassignExhausted)
	return c.manager.CancelWithCredit(ctx, r.ID, c.cfg.CreditCents)
}

func (c *Coordinator) record(rentalID, candidateSpotID string, outcome models.ReassignOutcome) {
	rec := &models.ReassignmentRecord{
		ID:              uuid.NewString(),
		RentalID:        rentalID,
		CandidateSpotID: candidateSpotID,
		Outcome:         outcome,
		At:              c.now(),
	}
	if err := c.store.AppendReassignment(rec); err != nil {
		c.logger.Error("reassignment record append failed", "rental_id", rentalID, "error", err)
	}
	observability.ReassignmentsTotal.WithLabelValues(string(outcome)).Inc()
	if c.bus != nil {
		_ = c.bus.Publish(events.Event{Type: events.TypeReassignmentRecord, Key: rentalID, At: c.now(), Reassignment: rec})
	}
}
