// Package ledger is the single source of truth for spot availability.
// All mutation goes through Claim/Release; no other component keeps a
// second copy of availability state.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/example/campus-parking/internal/models"
	"github.com/example/campus-parking/internal/observability"
)

var (
	// ErrConflict means another rental already holds the (spot, date)
	// claim. Callers retry with a different spot or date; it is not a
	// system failure.
	ErrConflict = errors.New("spot already claimed for date")

	ErrUnknownSpot = errors.New("unknown spot")

	// ErrInvariant flags a double-active-claim or mismatched release,
	// a programming fault that must surface, never be patched over.
	ErrInvariant = errors.New("ledger invariant violation")
)

type key struct {
	spotID string
	date   string
}

// Ledger tracks registered spots and their per-date exclusive claims.
// A single mutex serializes claim attempts; the first claimant wins
// and all others get ErrConflict immediately, no queueing.
type Ledger struct {
	mu     sync.RWMutex
	spots  map[string]models.Spot
	claims map[key]string // -> rental ID holding the claim
}

func New() *Ledger {
	return &Ledger{
		spots:  make(map[string]models.Spot),
		claims: make(map[key]string),
	}
}

// Register adds or replaces a spot in the catalog.
func (l *Ledger) Register(s models.Spot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spots[s.ID] = s
}

func (l *Ledger) Spot(id string) (models.Spot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.spots[id]
	return s, ok
}

// Claim takes the exclusive claim on (spot, date) for a rental.
// Re-claiming by the same rental is a no-op; any other holder means
// ErrConflict.
func (l *Ledger) Claim(spotID, date, rentalID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.spots[spotID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSpot, spotID)
	}
	k := key{spotID, date}
	if holder, held := l.claims[k]; held {
		if holder == rentalID {
			return nil
		}
		observability.ConflictsTotal.Inc()
		return ErrConflict
	}
	l.claims[k] = rentalID
	observability.ClaimsTotal.Inc()
	return nil
}

// Release frees the claim on (spot, date). Releasing an unclaimed key
// is a no-op. Releasing a claim held by a different rental is an
// invariant violation and leaves the claim intact.
func (l *Ledger) Release(spotID, date, rentalID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key{spotID, date}
	holder, held := l.claims[k]
	if !held {
		return nil
	}
	if holder != rentalID {
		return fmt.Errorf("%w: release of %s/%s by %s but held by %s", ErrInvariant, spotID, date, rentalID, holder)
	}
	delete(l.claims, k)
	return nil
}

// Holder reports which rental holds (spot, date), if any.
func (l *Ledger) Holder(spotID, date string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.claims[key{spotID, date}]
	return h, ok
}

// Query returns the spots in a lot with no active claim for the date,
// sorted by ID for deterministic iteration.
func (l *Ledger) Query(lot, date string) []models.Spot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Spot, 0)
	for _, s := range l.spots {
		if s.Lot != lot {
			continue
		}
		if _, held := l.claims[key{s.ID, date}]; held {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
