package storage

import (
	"errors"
	"sync"

	"github.com/example/campus-parking/internal/models"
)

var ErrNotFound = errors.New("rental not found")

// RentalStore defines persistence for rentals and their audit trail.
type RentalStore interface {
	SaveRental(r *models.Rental) error
	UpdateRental(r *models.Rental) error
	GetRental(id string) (*models.Rental, error)
	AppendReassignment(rec *models.ReassignmentRecord) error
	ListReassignments(rentalID string) ([]models.ReassignmentRecord, error)
	SavePenalty(p *models.Penalty) error
	SaveCredit(c *models.Credit) error
}

// MemoryStore is the in-process fallback used when no PG_DSN is
// configured, and in tests.
type MemoryStore struct {
	mu        sync.RWMutex
	rentals   map[string]*models.Rental
	records   map[string][]models.ReassignmentRecord
	penalties []models.Penalty
	credits   []models.Credit
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rentals: make(map[string]*models.Rental),
		records: make(map[string][]models.ReassignmentRecord),
	}
}

func (m *MemoryStore) SaveRental(r *models.Rental) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.rentals[r.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateRental(r *models.Rental) error {
	return m.SaveRental(r)
}

func (m *MemoryStore) GetRental(id string) (*models.Rental, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rentals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) AppendReassignment(rec *models.ReassignmentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.RentalID] = append(m.records[rec.RentalID], *rec)
	return nil
}

func (m *MemoryStore) ListReassignments(rentalID string) ([]models.ReassignmentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ReassignmentRecord, len(m.records[rentalID]))
	copy(out, m.records[rentalID])
	return out, nil
}

func (m *MemoryStore) SavePenalty(p *models.Penalty) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.penalties = append(m.penalties, *p)
	return nil
}

func (m *MemoryStore) SaveCredit(c *models.Credit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credits = append(m.credits, *c)
	return nil
}

// Penalties returns a copy of all recorded penalties.
func (m *MemoryStore) Penalties() []models.Penalty {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Penalty, len(m.penalties))
	copy(out, m.penalties)
	return out
}

// Credits returns a copy of all granted credits.
func (m *MemoryStore) Credits() []models.Credit {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Credit, len(m.credits))
	copy(out, m.credits)
	return out
}
