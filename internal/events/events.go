// Package events defines the typed records the engine fans out to
// notification, analytics, and admin-review collaborators. Delivery is
// at-least-once; consumers dedupe on the embedded identifiers.
package events

import (
	"sync"
	"time"

	"github.com/example/campus-parking/internal/models"
)

type Type string

const (
	TypeMatchFound         Type = "match_found"
	TypeRentalStateChanged Type = "rental_state_changed"
	TypeReassignmentRecord Type = "reassignment_recorded"
	TypePenaltyCreated     Type = "penalty_created"
	TypeCreditGranted      Type = "credit_granted"
)

// Event is the envelope published to the outbound bus. Key is the
// identifier consumers dedupe and partition on (rental or user ID).
type Event struct {
	Type Type      `json:"type"`
	Key  string    `json:"key"`
	At   time.Time `json:"at"`

	MatchFound   *MatchFound                `json:"match_found,omitempty"`
	RentalChange *RentalChange              `json:"rental_change,omitempty"`
	Reassignment *models.ReassignmentRecord `json:"reassignment,omitempty"`
	Penalty      *models.Penalty            `json:"penalty,omitempty"`
	Credit       *models.Credit             `json:"credit,omitempty"`
}

type MatchFound struct {
	UserID      string `json:"user_id"`
	CandidateID string `json:"candidate_id"`
	Kind        string `json:"kind"`
	Score       int    `json:"score"`
}

type RentalChange struct {
	RentalID string              `json:"rental_id"`
	From     models.RentalStatus `json:"from"`
	To       models.RentalStatus `json:"to"`
	RenterID string              `json:"renter_id"`
	OwnerID  string              `json:"owner_id"`
}

// Bus is the outbound fan-out interface. Publish is best-effort from
// the caller's point of view: the engine never blocks a state
// transition on delivery.
type Bus interface {
	Publish(ev Event) error
}

// Fanout publishes to every bus in order. A failing sink does not stop
// the others; the first error is returned.
type Fanout []Bus

func (f Fanout) Publish(ev Event) error {
	var first error
	for _, b := range f {
		if err := b.Publish(ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// MemoryBus collects events in memory; used in tests and as the
// fallback when Kafka is not configured.
type MemoryBus struct {
	mu     sync.Mutex
	events []Event
	subs   []func(Event)
}

func NewMemoryBus() *MemoryBus { return &MemoryBus{} }

func (m *MemoryBus) Publish(ev Event) error {
	m.mu.Lock()
	m.events = append(m.events, ev)
	subs := make([]func(Event), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
	return nil
}

// Subscribe registers a callback invoked on every published event.
func (m *MemoryBus) Subscribe(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Events returns a copy of everything published so far.
func (m *MemoryBus) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}
