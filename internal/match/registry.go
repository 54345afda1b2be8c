package match

import (
	"sync"
	"time"

	"github.com/example/campus-parking/internal/models"
)

// CarpoolGroup is an existing riding group a subject can be scored
// against.
type CarpoolGroup struct {
	ID      string
	Members []models.ScheduleProfile
}

// Source supplies the ranker's inputs: the subject's profile, the pool
// of tandem candidates, and the carpool groups open to the subject.
type Source interface {
	Profile(userID string) (models.ScheduleProfile, bool)
	TandemCandidates(userID string) []models.ScheduleProfile
	CarpoolGroups(userID string) []CarpoolGroup
}

// Registry is the in-memory Source fed by the schedule collaborator
// through profile upserts.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]models.ScheduleProfile
	groups   map[string]CarpoolGroup
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		profiles: make(map[string]models.ScheduleProfile),
		groups:   make(map[string]CarpoolGroup),
		now:      time.Now,
	}
}

// Upsert stores a profile snapshot. CreatedAt is pinned on first
// insert; UpdatedAt always advances so caches can tell versions apart.
func (r *Registry) Upsert(p models.ScheduleProfile) models.ScheduleProfile {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if prev, ok := r.profiles[p.UserID]; ok {
		p.CreatedAt = prev.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	r.profiles[p.UserID] = p
	return p
}

func (r *Registry) Profile(userID string) (models.ScheduleProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[userID]
	return p, ok
}

func (r *Registry) TandemCandidates(userID string) []models.ScheduleProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ScheduleProfile, 0, len(r.profiles))
	for id, p := range r.profiles {
		if id == userID {
			continue
		}
		out = append(out, p)
	}
	return out
}

// UpsertGroup stores a carpool group snapshot.
func (r *Registry) UpsertGroup(g CarpoolGroup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[g.ID] = g
}

func (r *Registry) CarpoolGroups(userID string) []CarpoolGroup {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CarpoolGroup, 0, len(r.groups))
	for _, g := range r.groups {
		member := false
		for _, m := range g.Members {
			if m.UserID == userID {
				member = true
				break
			}
		}
		if !member {
			out = append(out, g)
		}
	}
	return out
}
