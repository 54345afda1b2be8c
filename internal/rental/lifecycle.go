// Package rental implements the escrow lifecycle state machine for a
// single spot rental. The transition table is the only authority on
// legal state changes; admin dispute resolution goes through it like
// every other transition.
package rental

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/campus-parking/internal/events"
	"github.com/example/campus-parking/internal/ledger"
	"github.com/example/campus-parking/internal/models"
	"github.com/example/campus-parking/internal/observability"
	"github.com/example/campus-parking/internal/payments"
	"github.com/example/campus-parking/internal/storage"
)

var (
	ErrInvalidTransition = errors.New("invalid rental transition")
	// ErrInvalidDate rejects malformed rental dates before any claim or
	// escrow hold happens.
	ErrInvalidDate = errors.New("invalid rental date")
	// ErrInvariant marks a logic fault (double escrow release, reassign
	// cap exceeded). It aborts the operation and is never swallowed.
	ErrInvariant = errors.New("rental invariant violation")
)

// transitions is the single source of truth for legal state changes.
var transitions = map[models.RentalStatus][]models.RentalStatus{
	models.StatusPending:             {models.StatusConfirmed, models.StatusCancelled, models.StatusDisputed},
	models.StatusConfirmed:           {models.StatusCompleted, models.StatusCancelled, models.StatusDisputed, models.StatusPendingReassignment},
	models.StatusPendingReassignment: {models.StatusConfirmed, models.StatusCancelled, models.StatusDisputed},
	models.StatusDisputed:            {models.StatusCompleted, models.StatusCancelled},
}

func canTransition(from, to models.RentalStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Config carries the lifecycle policy knobs.
type Config struct {
	// RetryAttempts/RetryDelay bound payment-collaborator retries;
	// delay doubles per attempt.
	RetryAttempts int
	RetryDelay    time.Duration
	// FullRefundLeadTime: cancellations earlier than this before the
	// rental date refund in full; later ones refund half and record a
	// penalty against the canceller.
	FullRefundLeadTime time.Duration
	// PlatformFeeBps is the platform's cut of the price in basis
	// points, withheld from the owner transfer on completion.
	PlatformFeeBps         int64
	LateCancelPenaltyCents int64
	Currency               string
}

func DefaultConfig() Config {
	return Config{
		RetryAttempts:          3,
		RetryDelay:             200 * time.Millisecond,
		FullRefundLeadTime:     24 * time.Hour,
		PlatformFeeBps:         1000,
		LateCancelPenaltyCents: 500,
		Currency:               "usd",
	}
}

// Manager drives rentals through the state machine. Transitions for a
// single rental are serialized by a per-ID mutex; different rentals
// proceed in parallel.
type Manager struct {
	store   storage.RentalStore
	ledger  *ledger.Ledger
	gateway payments.Gateway
	bus     events.Bus
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(store storage.RentalStore, led *ledger.Ledger, gw payments.Gateway, bus events.Bus, logger *slog.Logger, cfg Config) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:   store,
		ledger:  led,
		gateway: gw,
		bus:     bus,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing one rental's transitions.
// Locks are retained for the life of the process; rentals are few
// enough per day that this does not need eviction.
func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

type CreateCommand struct {
	SpotID      string
	Date        string // YYYY-MM-DD
	RenterID    string
	VehicleSize models.VehicleSize
	PriceCents  int64
	CustomerID  string // payment collaborator customer reference
}

// Create claims the spot for the date and places the escrow hold.
// A ledger conflict propagates to the caller unchanged; it is a
// retry-with-another-spot signal, not a failure.
func (m *Manager) Create(ctx context.Context, cmd CreateCommand) (*models.Rental, error) {
	if _, err := time.Parse("2006-01-02", cmd.Date); err != nil {
		return nil, fmt.Errorf("%w: %q is not YYYY-MM-DD", ErrInvalidDate, cmd.Date)
	}
	spot, ok := m.ledger.Spot(cmd.SpotID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrUnknownSpot, cmd.SpotID)
	}
	if !spot.Fits(cmd.VehicleSize) {
		return nil, fmt.Errorf("%w: vehicle %s does not fit spot %s", ErrInvalidTransition, cmd.VehicleSize, spot.ID)
	}

	id := uuid.NewString()
	if err := m.ledger.Claim(cmd.SpotID, cmd.Date, id); err != nil {
		return nil, err
	}

	escrowID, err := m.gateway.Authorize(ctx, cmd.PriceCents, m.cfg.Currency, cmd.CustomerID)
	if err != nil {
		// undo the claim so the spot is not stranded behind a failed hold
		_ = m.ledger.Release(cmd.SpotID, cmd.Date, id)
		return nil, err
	}

	now := m.now()
	r := &models.Rental{
		ID:          id,
		SpotID:      cmd.SpotID,
		Date:        cmd.Date,
		OwnerID:     spot.OwnerID,
		RenterID:    cmd.RenterID,
		VehicleSize: cmd.VehicleSize,
		PriceCents:  cmd.PriceCents,
		Status:      models.StatusPending,
		EscrowID:    escrowID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.SaveRental(r); err != nil {
		_ = m.ledger.Release(cmd.SpotID, cmd.Date, id)
		return nil, err
	}
	m.emitChange(r, "", models.StatusPending)
	return r, nil
}

// Confirm captures the escrow hold. Capture failures are retried with
// doubling backoff; on exhaustion the rental escalates to disputed
// with a system-generated report so an operator sees it.
func (m *Manager) Confirm(ctx context.Context, id string) error {
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	r, err := m.store.GetRental(id)
	if err != nil {
		return err
	}
	if !canTransition(r.Status, models.StatusConfirmed) || r.Status != models.StatusPending {
		return fmt.Errorf("%w: %s -> confirmed", ErrInvalidTransition, r.Status)
	}

	if err := m.withRetry(ctx, func() error { return m.gateway.Capture(ctx, r.EscrowID) }); err != nil {
		m.logger.Error("capture exhausted, escalating to dispute", "rental_id", id, "error", err)
		return m.escalate(r, err)
	}
	return m.setStatus(r, models.StatusConfirmed)
}

// Complete settles a confirmed rental after its date elapses: the
// owner is paid the price minus the platform fee and the spot claim is
// released.
func (m *Manager) Complete(ctx context.Context, id string) error {
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	r, err := m.store.GetRental(id)
	if err != nil {
		return err
	}
	if r.Status != models.StatusConfirmed {
		return fmt.Errorf("%w: %s -> completed", ErrInvalidTransition, r.Status)
	}
	return m.settleCompleted(ctx, r)
}

// Dispute freezes the escrow: confirmed -> disputed on a filed report.
func (m *Manager) Dispute(ctx context.Context, id, reason string) error {
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	r, err := m.store.GetRental(id)
	if err != nil {
		return err
	}
	if !canTransition(r.Status, models.StatusDisputed) {
		return fmt.Errorf("%w: %s -> disputed", ErrInvalidTransition, r.Status)
	}
	m.logger.Info("rental disputed", "rental_id", id, "reason", reason)
	return m.setStatus(r, models.StatusDisputed)
}

// Resolution is the admin decision closing a dispute.
type Resolution string

const (
	ResolveComplete Resolution = "complete"
	ResolveCancel   Resolution = "cancel"
)

// Resolve applies an external admin decision to a disputed rental,
// issuing the corresponding payment effect exactly once.
func (m *Manager) Resolve(ctx context.Context, id string, res Resolution) error {
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	r, err := m.store.GetRental(id)
	if err != nil {
		return err
	}
	if r.Status != models.StatusDisputed {
		return fmt.Errorf("%w: resolve on %s", ErrInvalidTransition, r.Status)
	}
	switch res {
	case ResolveComplete:
		return m.settleCompleted(ctx, r)
	case ResolveCancel:
		return m.settleCancelled(ctx, r, r.PriceCents, "")
	default:
		return fmt.Errorf("%w: unknown resolution %q", ErrInvalidTransition, res)
	}
}

// Cancel moves any non-terminal rental to cancelled. Refund is full
// when the cancellation happens early enough before the rental date;
// otherwise half is refunded and a penalty is recorded against the
// cancelling party.
func (m *Manager) Cancel(ctx context.Context, id, cancellerID string) error {
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	r, err := m.store.GetRental(id)
	if err != nil {
		return err
	}
	// disputed -> cancelled exists in the table for admin Resolve only;
	// a user cancellation must not touch the frozen escrow
	if r.Status == models.StatusDisputed {
		return fmt.Errorf("%w: disputed rentals settle only through admin resolution", ErrInvalidTransition)
	}
	if r.Status.Terminal() || !canTransition(r.Status, models.StatusCancelled) {
		return fmt.Errorf("%w: %s -> cancelled", ErrInvalidTransition, r.Status)
	}

	refund := r.PriceCents
	if !m.earlyEnough(r.Date) {
		refund = r.PriceCents / 2
		m.recordPenalty(cancellerID, "late_cancellation", m.cfg.LateCancelPenaltyCents)
	}
	return m.settleCancelled(ctx, r, refund, cancellerID)
}

// Get returns the rental by ID.
func (m *Manager) Get(id string) (*models.Rental, error) { return m.store.GetRental(id) }

// ---- coordinator hooks -------------------------------------------------

// MarkPendingReassignment parks a confirmed rental while a substitute
// spot offer is outstanding. Called by the allocation coordinator.
func (m *Manager) MarkPendingReassignment(id string) error {
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	r, err := m.store.GetRental(id)
	if err != nil {
		return err
	}
	if r.Status != models.StatusConfirmed {
		return fmt.Errorf("%w: %s -> pending_reassignment", ErrInvalidTransition, r.Status)
	}
	return m.setStatus(r, models.StatusPendingReassignment)
}

// FinalizeReassignment accepts a substitute spot: the rental points at
// the new spot, the reassignment count increments under its hard cap,
// and payment terms are untouched (same escrow, new spot).
func (m *Manager) FinalizeReassignment(id, newSpotID string) error {
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	r, err := m.store.GetRental(id)
	if err != nil {
		return err
	}
	if r.Status != models.StatusPendingReassignment {
		return fmt.Errorf("%w: %s -> confirmed (reassignment)", ErrInvalidTransition, r.Status)
	}
	if r.ReassignCount >= 1 {
		return fmt.Errorf("%w: reassignment count would exceed 1 for rental %s", ErrInvariant, id)
	}
	r.ReassignCount++
	r.SpotID = newSpotID
	return m.setStatus(r, models.StatusConfirmed)
}

// CancelWithCredit is the exhausted-reassignment fallback: full refund,
// platform credit, rental cancelled. No penalty, the renter did nothing
// wrong.
func (m *Manager) CancelWithCredit(ctx context.Context, id string, creditCents int64) error {
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	r, err := m.store.GetRental(id)
	if err != nil {
		return err
	}
	if r.Status.Terminal() {
		return fmt.Errorf("%w: %s -> cancelled", ErrInvalidTransition, r.Status)
	}
	if err := m.settleCancelled(ctx, r, r.PriceCents, ""); err != nil {
		return err
	}
	c := &models.Credit{
		ID:          uuid.NewString(),
		UserID:      r.RenterID,
		AmountCents: creditCents,
		Reason:      "reassignment_exhausted",
		CreatedAt:   m.now(),
	}
	if err := m.store.SaveCredit(c); err != nil {
		return err
	}
	m.publish(events.Event{Type: events.TypeCreditGranted, Key: r.RenterID, At: m.now(), Credit: c})
	return nil
}

// ---- internals ---------------------------------------------------------

// settleCompleted pays the owner and closes the rental. The escrow is
// released exactly once: a missing escrow reference here is a logic
// fault, not a retryable condition.
func (m *Manager) settleCompleted(ctx context.Context, r *models.Rental) error {
	if r.EscrowID == "" {
		return fmt.Errorf("%w: completing rental %s with no escrow hold", ErrInvariant, r.ID)
	}
	payout := r.PriceCents - r.PriceCents*m.cfg.PlatformFeeBps/10000
	err := m.withRetry(ctx, func() error {
		return m.gateway.Transfer(ctx, r.EscrowID, r.OwnerID, payout)
	})
	if err != nil {
		m.logger.Error("owner transfer exhausted, escalating to dispute", "rental_id", r.ID, "error", err)
		return m.escalate(r, err)
	}
	r.EscrowID = ""
	_ = m.ledger.Release(r.SpotID, r.Date, r.ID)
	return m.setStatus(r, models.StatusCompleted)
}

func (m *Manager) settleCancelled(ctx context.Context, r *models.Rental, refundCents int64, cancellerID string) error {
	if r.EscrowID == "" {
		return fmt.Errorf("%w: cancelling rental %s with no escrow hold", ErrInvariant, r.ID)
	}
	err := m.withRetry(ctx, func() error {
		return m.gateway.Refund(ctx, r.EscrowID, refundCents)
	})
	if err != nil {
		m.logger.Error("refund exhausted, escalating to dispute", "rental_id", r.ID, "error", err)
		return m.escalate(r, err)
	}
	r.EscrowID = ""
	_ = m.ledger.Release(r.SpotID, r.Date, r.ID)
	m.logger.Info("rental cancelled", "rental_id", r.ID, "refund_cents", refundCents, "cancelled_by", cancellerID)
	return m.setStatus(r, models.StatusCancelled)
}

// escalate parks a rental in disputed after payment retries are
// exhausted. The escrow hold stays frozen for the operator.
func (m *Manager) escalate(r *models.Rental, cause error) error {
	if r.Status == models.StatusDisputed {
		return cause
	}
	if err := m.setStatus(r, models.StatusDisputed); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (m *Manager) setStatus(r *models.Rental, to models.RentalStatus) error {
	from := r.Status
	r.Status = to
	r.UpdatedAt = m.now()
	if err := m.store.UpdateRental(r); err != nil {
		r.Status = from
		return err
	}
	m.emitChange(r, from, to)
	return nil
}

func (m *Manager) emitChange(r *models.Rental, from, to models.RentalStatus) {
	observability.RentalTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	m.publish(events.Event{
		Type: events.TypeRentalStateChanged,
		Key:  r.ID,
		At:   m.now(),
		RentalChange: &events.RentalChange{
			RentalID: r.ID,
			From:     from,
			To:       to,
			RenterID: r.RenterID,
			OwnerID:  r.OwnerID,
		},
	})
}

func (m *Manager) recordPenalty(userID, offense string, amountCents int64) {
	p := &models.Penalty{
		ID:          uuid.NewString(),
		UserID:      userID,
		Offense:     offense,
		AmountCents: amountCents,
		CreatedAt:   m.now(),
	}
	if err := m.store.SavePenalty(p); err != nil {
		m.logger.Error("penalty save failed", "user_id", userID, "error", err)
		return
	}
	m.publish(events.Event{Type: events.TypePenaltyCreated, Key: userID, At: m.now(), Penalty: p})
}

func (m *Manager) publish(ev events.Event) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ev); err != nil {
		m.logger.Error("event publish failed", "type", string(ev.Type), "key", ev.Key, "error", err)
	}
}

func (m *Manager) earlyEnough(date string) bool {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return false
	}
	return d.Sub(m.now()) > m.cfg.FullRefundLeadTime
}

// withRetry runs fn with doubling backoff, honoring ctx cancellation
// between attempts.
func (m *Manager) withRetry(ctx context.Context, fn func() error) error {
	delay := m.cfg.RetryDelay
	var err error
	for i := 0; i < m.cfg.RetryAttempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == m.cfg.RetryAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
