package rental

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/campus-parking/internal/events"
	"github.com/example/campus-parking/internal/ledger"
	"github.com/example/campus-parking/internal/models"
	"github.com/example/campus-parking/internal/storage"
)

// fakeGateway implements payments.Gateway and counts every escrow
// operation so tests can assert exactly-once settlement.
type fakeGateway struct {
	mu            sync.Mutex
	authorizes    int
	captures      int
	refunds       int
	transfers     int
	refundAmounts []int64
	failCaptures  int
	failRefunds   int
	failTransfers int
}

var errGateway = errors.New("gateway down")

func (f *fakeGateway) Authorize(ctx context.Context, amountCents int64, currency, customerID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authorizes++
	return "pi_test", nil
}

func (f *fakeGateway) Capture(ctx context.Context, intentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures++
	if f.captures <= f.failCaptures {
		return errGateway
	}
	return nil
}

func (f *fakeGateway) Refund(ctx context.Context, intentID string, amountCents int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds++
	if f.refunds <= f.failRefunds {
		return errGateway
	}
	f.refundAmounts = append(f.refundAmounts, amountCents)
	return nil
}

func (f *fakeGateway) Transfer(ctx context.Context, intentID, payee string, amountCents int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers++
	if f.transfers <= f.failTransfers {
		return errGateway
	}
	return nil
}

func (f *fakeGateway) settled() (refunds, transfers int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refunds - f.failRefunds, f.transfers - f.failTransfers
}

type fixture struct {
	mgr   *Manager
	led   *ledger.Ledger
	store *storage.MemoryStore
	gw    *fakeGateway
	bus   *events.MemoryBus
}

func newFixture(t *testing.T, gw *fakeGateway) *fixture {
	t.Helper()
	led := ledger.New()
	led.Register(models.Spot{ID: "s1", Lot: "north", DistanceMeters: 100, OwnerID: "owner"})
	led.Register(models.Spot{ID: "s2", Lot: "north", DistanceMeters: 80, OwnerID: "owner2"})
	store := storage.NewMemoryStore()
	bus := events.NewMemoryBus()
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	mgr := NewManager(store, led, gw, bus, nil, cfg)
	return &fixture{mgr: mgr, led: led, store: store, gw: gw, bus: bus}
}

func farDate() string { return time.Now().Add(30 * 24 * time.Hour).Format("2006-01-02") }

func (f *fixture) create(t *testing.T) *models.Rental {
	t.Helper()
	r, err := f.mgr.Create(context.Background(), CreateCommand{
		SpotID:      "s1",
		Date:        farDate(),
		RenterID:    "renter",
		VehicleSize: models.VehicleStandard,
		PriceCents:  2000,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	return r
}

func TestCreateClaimsSpotAndHoldsEscrow(t *testing.T) {
	f := newFixture(t, &fakeGateway{})
	r := f.create(t)

	if r.Status != models.StatusPending {
		t.Fatalf("expected pending, got %s", r.Status)
	}
	if r.EscrowID == "" {
		t.Fatal("expected escrow hold reference")
	}
	if holder, ok := f.led.Holder("s1", r.Date); !ok || holder != r.ID {
		t.Fatalf("expected claim held by rental, holder=%q", holder)
	}

	// the same spot and date cannot be rented twice
	_, err := f.mgr.Create(context.Background(), CreateCommand{
		SpotID: "s1", Date: r.Date, RenterID: "other", VehicleSize: models.VehicleStandard, PriceCents: 2000,
	})
	if !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if f.gw.authorizes != 1 {
		t.Fatalf("conflicting create must not authorize, got %d holds", f.gw.authorizes)
	}
}

func TestCompleteSettlesExactlyOnce(t *testing.T) {
	f := newFixture(t, &fakeGateway{})
	r := f.create(t)

	ctx := context.Background()
	if err := f.mgr.Confirm(ctx, r.ID); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if err := f.mgr.Complete(ctx, r.ID); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	refunds, transfers := f.gw.settled()
	if refunds != 0 || transfers != 1 {
		t.Fatalf("expected exactly one transfer and no refund, got refunds=%d transfers=%d", refunds, transfers)
	}
	if _, held := f.led.Holder("s1", r.Date); held {
		t.Fatal("claim must be released on completion")
	}

	// terminal state: nothing settles twice
	if err := f.mgr.Complete(ctx, r.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := f.mgr.Cancel(ctx, r.ID, "renter"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	_, transfers = f.gw.settled()
	if transfers != 1 {
		t.Fatalf("settlement ran twice: %d transfers", transfers)
	}
}

func TestCancelEarlyRefundsInFull(t *testing.T) {
	f := newFixture(t, &fakeGateway{})
	r := f.create(t)

	if err := f.mgr.Cancel(context.Background(), r.ID, "renter"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if len(f.gw.refundAmounts) != 1 || f.gw.refundAmounts[0] != 2000 {
		t.Fatalf("expected full refund of 2000, got %v", f.gw.refundAmounts)
	}
	if len(f.store.Penalties()) != 0 {
		t.Fatalf("early cancel must not penalize, got %v", f.store.Penalties())
	}
	if _, held := f.led.Holder("s1", r.Date); held {
		t.Fatal("claim must be released on cancellation")
	}
}

func TestCancelLateRefundsHalfAndPenalizes(t *testing.T) {
	f := newFixture(t, &fakeGateway{})
	today := time.Now().Format("2006-01-02")
	r, err := f.mgr.Create(context.Background(), CreateCommand{
		SpotID: "s1", Date: today, RenterID: "renter", VehicleSize: models.VehicleStandard, PriceCents: 2000,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := f.mgr.Cancel(context.Background(), r.ID, "renter"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if len(f.gw.refundAmounts) != 1 || f.gw.refundAmounts[0] != 1000 {
		t.Fatalf("expected partial refund of 1000, got %v", f.gw.refundAmounts)
	}
	pens := f.store.Penalties()
	if len(pens) != 1 || pens[0].UserID != "renter" || pens[0].Offense != "late_cancellation" {
		t.Fatalf("expected late cancellation penalty for renter, got %v", pens)
	}
}

func TestCaptureExhaustionEscalatesToDisputed(t *testing.T) {
	gw := &fakeGateway{failCaptures: 10}
	f := newFixture(t, gw)
	r := f.create(t)

	ctx := context.Background()
	if err := f.mgr.Confirm(ctx, r.ID); err == nil {
		t.Fatal("expected capture failure to surface")
	}
	got, err := f.mgr.Get(r.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != models.StatusDisputed {
		t.Fatalf("expected disputed after exhausted retries, got %s", got.Status)
	}
	if got.EscrowID == "" {
		t.Fatal("escrow must stay frozen while disputed")
	}
	if gw.captures != DefaultConfig().RetryAttempts {
		t.Fatalf("expected %d capture attempts, got %d", DefaultConfig().RetryAttempts, gw.captures)
	}
}

func TestResolveDisputeExactlyOnce(t *testing.T) {
	f := newFixture(t, &fakeGateway{})
	r := f.create(t)
	ctx := context.Background()
	if err := f.mgr.Confirm(ctx, r.ID); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if err := f.mgr.Dispute(ctx, r.ID, "blocked exit"); err != nil {
		t.Fatalf("dispute failed: %v", err)
	}

	// while disputed, nothing settles
	refunds, transfers := f.gw.settled()
	if refunds != 0 || transfers != 0 {
		t.Fatalf("dispute must freeze the escrow, got refunds=%d transfers=%d", refunds, transfers)
	}

	if err := f.mgr.Resolve(ctx, r.ID, ResolveCancel); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	refunds, transfers = f.gw.settled()
	if refunds != 1 || transfers != 0 {
		t.Fatalf("expected exactly one refund, got refunds=%d transfers=%d", refunds, transfers)
	}
	if err := f.mgr.Resolve(ctx, r.ID, ResolveCancel); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on double resolve, got %v", err)
	}
}

func TestCancelRejectedWhileDisputed(t *testing.T) {
	f := newFixture(t, &fakeGateway{})
	r := f.create(t)
	ctx := context.Background()
	if err := f.mgr.Confirm(ctx, r.ID); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if err := f.mgr.Dispute(ctx, r.ID, "blocked exit"); err != nil {
		t.Fatalf("dispute failed: %v", err)
	}

	// a user cancellation must not thaw the frozen escrow
	if err := f.mgr.Cancel(ctx, r.ID, "renter"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	refunds, transfers := f.gw.settled()
	if refunds != 0 || transfers != 0 {
		t.Fatalf("cancel of disputed rental settled escrow: refunds=%d transfers=%d", refunds, transfers)
	}
	if len(f.store.Penalties()) != 0 {
		t.Fatalf("cancel of disputed rental recorded a penalty: %v", f.store.Penalties())
	}
	got, _ := f.mgr.Get(r.ID)
	if got.Status != models.StatusDisputed {
		t.Fatalf("expected rental to stay disputed, got %s", got.Status)
	}

	// admin resolution remains the only exit
	if err := f.mgr.Resolve(ctx, r.ID, ResolveCancel); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	refunds, _ = f.gw.settled()
	if refunds != 1 {
		t.Fatalf("expected exactly one refund via resolution, got %d", refunds)
	}
}

func TestCreateRejectsMalformedDate(t *testing.T) {
	f := newFixture(t, &fakeGateway{})
	for _, date := range []string{"", "tomorrow", "2026-13-40", "09/01/2026"} {
		_, err := f.mgr.Create(context.Background(), CreateCommand{
			SpotID: "s1", Date: date, RenterID: "renter", VehicleSize: models.VehicleStandard, PriceCents: 2000,
		})
		if !errors.Is(err, ErrInvalidDate) {
			t.Fatalf("date %q: expected ErrInvalidDate, got %v", date, err)
		}
		if _, held := f.led.Holder("s1", date); held {
			t.Fatalf("date %q: malformed date must not claim the spot", date)
		}
	}
	if f.gw.authorizes != 0 {
		t.Fatalf("malformed dates must not authorize, got %d holds", f.gw.authorizes)
	}
}

func TestConfirmRetriesThenSucceeds(t *testing.T) {
	gw := &fakeGateway{failCaptures: 1}
	f := newFixture(t, gw)
	r := f.create(t)

	if err := f.mgr.Confirm(context.Background(), r.ID); err != nil {
		t.Fatalf("confirm should succeed after retry: %v", err)
	}
	if gw.captures != 2 {
		t.Fatalf("expected 2 capture attempts, got %d", gw.captures)
	}
	got, _ := f.mgr.Get(r.ID)
	if got.Status != models.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", got.Status)
	}
}

func TestStateChangeEventsEmitted(t *testing.T) {
	f := newFixture(t, &fakeGateway{})
	r := f.create(t)
	ctx := context.Background()
	if err := f.mgr.Confirm(ctx, r.ID); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	var changes []events.RentalChange
	for _, ev := range f.bus.Events() {
		if ev.RentalChange != nil {
			changes = append(changes, *ev.RentalChange)
		}
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 state change events, got %d", len(changes))
	}
	if changes[0].To != models.StatusPending || changes[1].To != models.StatusConfirmed {
		t.Fatalf("unexpected event sequence: %+v", changes)
	}
}

func TestVehicleMustFitSpot(t *testing.T) {
	f := newFixture(t, &fakeGateway{})
	f.led.Register(models.Spot{ID: "c1", Lot: "north", DistanceMeters: 90, CompactOnly: true, OwnerID: "o"})

	_, err := f.mgr.Create(context.Background(), CreateCommand{
		SpotID: "c1", Date: farDate(), RenterID: "renter", VehicleSize: models.VehicleLarge, PriceCents: 1000,
	})
	if err == nil {
		t.Fatal("large vehicle must not rent a compact-only spot")
	}
}
