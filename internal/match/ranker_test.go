package match

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/example/campus-parking/internal/cache"
	"github.com/example/campus-parking/internal/events"
	"github.com/example/campus-parking/internal/models"
	"github.com/example/campus-parking/internal/scoring"
)

func minute(h, m int) models.MinuteOfDay { return models.MinuteOfDay(h*60 + m) }

func profile(id string, grade models.Grade, arr, dep models.MinuteOfDay) models.ScheduleProfile {
	var days [5]models.DaySchedule
	for i := range days {
		days[i] = models.DaySchedule{Arrival: arr, Departure: dep}
	}
	return models.ScheduleProfile{UserID: id, Grade: grade, Days: days}
}

// tandem-friendly candidate: no overlap with an 8:00-15:00 subject and a
// clean morning handoff.
func handoffCandidate(id string, created time.Time) models.ScheduleProfile {
	p := profile(id, models.GradeJunior, minute(15, 10), minute(17, 0))
	p.CreatedAt = created
	return p
}

func newTestRanker(reg *Registry) *Ranker {
	return NewRanker(reg, cache.NewMemory(time.Minute), nil, nil)
}

func TestTopMatchesRanksHighestFirst(t *testing.T) {
	reg := NewRegistry()
	subject := profile("subject", models.GradeJunior, minute(8, 0), minute(15, 0))
	reg.Upsert(subject)
	reg.Upsert(handoffCandidate("good", time.Now()))
	// heavy-overlap candidate scores lower
	bad := profile("bad", models.GradeJunior, minute(8, 0), minute(15, 0))
	reg.Upsert(bad)

	r := newTestRanker(reg)
	got, err := r.TopMatches(context.Background(), "subject", scoring.KindTandem, 10)
	if err != nil {
		t.Fatalf("rank failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
	if got[0].CandidateID != "good" || got[0].Score <= got[1].Score {
		t.Fatalf("expected good first, got %v", got)
	}
}

func TestTopMatchesTieBreakByCreationThenID(t *testing.T) {
	reg := NewRegistry()
	reg.Upsert(profile("subject", models.GradeJunior, minute(8, 0), minute(15, 0)))

	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	// identical schedules produce identical scores
	reg.Upsert(handoffCandidate("zeta", older))
	reg.Upsert(handoffCandidate("alpha", newer))
	reg.Upsert(handoffCandidate("beta", newer))

	r := newTestRanker(reg)
	for i := 0; i < 5; i++ {
		got, err := r.TopMatches(context.Background(), "subject", scoring.KindTandem, 10)
		if err != nil {
			t.Fatalf("rank failed: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 matches, got %d", len(got))
		}
		if got[0].CandidateID != "zeta" {
			t.Fatalf("oldest profile must win the tie, got %s", got[0].CandidateID)
		}
		if got[1].CandidateID != "alpha" || got[2].CandidateID != "beta" {
			t.Fatalf("equal-age tie must break by ID: %s, %s", got[1].CandidateID, got[2].CandidateID)
		}
	}
}

func TestTopMatchesLimit(t *testing.T) {
	reg := NewRegistry()
	reg.Upsert(profile("subject", models.GradeJunior, minute(8, 0), minute(15, 0)))
	for _, id := range []string{"a", "b", "c", "d"} {
		reg.Upsert(handoffCandidate(id, time.Now()))
	}
	r := newTestRanker(reg)
	got, err := r.TopMatches(context.Background(), "subject", scoring.KindTandem, 2)
	if err != nil {
		t.Fatalf("rank failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
}

func TestTopMatchesUnknownUser(t *testing.T) {
	r := newTestRanker(NewRegistry())
	if _, err := r.TopMatches(context.Background(), "ghost", scoring.KindTandem, 10); err == nil {
		t.Fatal("expected unknown user error")
	}
}

func TestCarpoolExcludesOwnGroupsAndAppliesBonus(t *testing.T) {
	reg := NewRegistry()
	subject := profile("subject", models.GradeJunior, minute(8, 0), minute(15, 0))
	reg.Upsert(subject)
	member := profile("member", models.GradeJunior, minute(8, 0), minute(15, 0))
	member.Home = models.Coord{Lat: 0.1, Lon: 0} // ~7 miles out, proximity 0

	reg.UpsertGroup(CarpoolGroup{ID: "own", Members: []models.ScheduleProfile{subject}})
	reg.UpsertGroup(CarpoolGroup{ID: "open", Members: []models.ScheduleProfile{member}})

	r := newTestRanker(reg)
	base, err := r.TopMatches(context.Background(), "subject", scoring.KindCarpool, 10)
	if err != nil {
		t.Fatalf("rank failed: %v", err)
	}
	if len(base) != 1 || base[0].CandidateID != "open" {
		t.Fatalf("expected only the open group, got %v", base)
	}

	r2 := newTestRanker(reg)
	r2.RouteBonus = func(userID, groupID string) int { return 10 }
	boosted, err := r2.TopMatches(context.Background(), "subject", scoring.KindCarpool, 10)
	if err != nil {
		t.Fatalf("rank failed: %v", err)
	}
	if boosted[0].Score != base[0].Score+10 {
		t.Fatalf("route bonus not applied: base=%d boosted=%d", base[0].Score, boosted[0].Score)
	}
}

// recordingCache observes ranker cache traffic.
type recordingCache struct {
	mu          sync.Mutex
	inner       *cache.Memory
	gets, sets  int
	invalidated []string
}

func newRecordingCache() *recordingCache {
	return &recordingCache{inner: cache.NewMemory(time.Minute)}
}

func (c *recordingCache) Get(key string) (scoring.Score, bool) {
	c.mu.Lock()
	c.gets++
	c.mu.Unlock()
	return c.inner.Get(key)
}

func (c *recordingCache) Set(key string, users []string, s scoring.Score) {
	c.mu.Lock()
	c.sets++
	c.mu.Unlock()
	c.inner.Set(key, users, s)
}

func (c *recordingCache) InvalidateUser(userID string) {
	c.mu.Lock()
	c.invalidated = append(c.invalidated, userID)
	c.mu.Unlock()
	c.inner.InvalidateUser(userID)
}

func TestRepeatedRankHitsCache(t *testing.T) {
	reg := NewRegistry()
	reg.Upsert(profile("subject", models.GradeJunior, minute(8, 0), minute(15, 0)))
	reg.Upsert(handoffCandidate("cand", time.Now()))

	rc := newRecordingCache()
	r := NewRanker(reg, rc, nil, nil)

	if _, err := r.TopMatches(context.Background(), "subject", scoring.KindTandem, 10); err != nil {
		t.Fatalf("rank failed: %v", err)
	}
	if rc.sets != 1 {
		t.Fatalf("expected one cache fill, got %d", rc.sets)
	}
	if _, err := r.TopMatches(context.Background(), "subject", scoring.KindTandem, 10); err != nil {
		t.Fatalf("rank failed: %v", err)
	}
	if rc.sets != 1 {
		t.Fatalf("second rank must hit the cache, got %d fills", rc.sets)
	}

	r.Invalidate("cand")
	if len(rc.invalidated) != 1 || rc.invalidated[0] != "cand" {
		t.Fatalf("expected invalidation for cand, got %v", rc.invalidated)
	}
	if _, err := r.TopMatches(context.Background(), "subject", scoring.KindTandem, 10); err != nil {
		t.Fatalf("rank failed: %v", err)
	}
	if rc.sets != 2 {
		t.Fatalf("rank after invalidation must recompute, got %d fills", rc.sets)
	}
}

// gatedSource blocks Profile lookups until released so concurrent
// requests pile up on the same in-flight computation.
type gatedSource struct {
	*Registry
	gate  chan struct{}
	mu    sync.Mutex
	calls int
}

func (s *gatedSource) Profile(userID string) (models.ScheduleProfile, bool) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	<-s.gate
	return s.Registry.Profile(userID)
}

func TestConcurrentRequestsCoalesce(t *testing.T) {
	reg := NewRegistry()
	reg.Upsert(profile("subject", models.GradeJunior, minute(8, 0), minute(15, 0)))
	reg.Upsert(handoffCandidate("cand", time.Now()))

	src := &gatedSource{Registry: reg, gate: make(chan struct{})}
	r := NewRanker(src, cache.NewMemory(time.Minute), nil, nil)

	const n = 8
	var wg sync.WaitGroup
	results := make([][]Match, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := r.TopMatches(context.Background(), "subject", scoring.KindTandem, 10)
			if err != nil {
				t.Errorf("rank failed: %v", err)
				return
			}
			results[i] = got
		}(i)
	}
	time.Sleep(50 * time.Millisecond) // let all requests queue up
	close(src.gate)
	wg.Wait()

	src.mu.Lock()
	calls := src.calls
	src.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected one coalesced computation, got %d", calls)
	}
	for i := 1; i < n; i++ {
		if len(results[i]) != len(results[0]) || results[i][0].CandidateID != results[0][0].CandidateID {
			t.Fatalf("coalesced callers diverged: %v vs %v", results[0], results[i])
		}
	}
}

func TestMatchFoundEventsPublished(t *testing.T) {
	reg := NewRegistry()
	reg.Upsert(profile("subject", models.GradeJunior, minute(8, 0), minute(15, 0)))
	reg.Upsert(handoffCandidate("cand", time.Now()))

	bus := events.NewMemoryBus()
	r := NewRanker(reg, cache.NewMemory(time.Minute), bus, nil)
	if _, err := r.TopMatches(context.Background(), "subject", scoring.KindTandem, 10); err != nil {
		t.Fatalf("rank failed: %v", err)
	}

	found := 0
	for _, ev := range bus.Events() {
		if ev.MatchFound != nil {
			found++
			if ev.MatchFound.UserID != "subject" || ev.MatchFound.CandidateID != "cand" {
				t.Fatalf("unexpected event payload: %+v", ev.MatchFound)
			}
		}
	}
	if found != 1 {
		t.Fatalf("expected one match event, got %d", found)
	}
}

func TestRegistryPinsCreatedAt(t *testing.T) {
	reg := NewRegistry()
	first := reg.Upsert(profile("u", models.GradeJunior, minute(8, 0), minute(15, 0)))
	if first.CreatedAt.IsZero() {
		t.Fatal("CreatedAt must be set on first insert")
	}
	updated := reg.Upsert(profile("u", models.GradeJunior, minute(9, 0), minute(16, 0)))
	if !updated.CreatedAt.Equal(first.CreatedAt) {
		t.Fatal("CreatedAt must survive updates")
	}
	if updated.UpdatedAt.Before(first.UpdatedAt) {
		t.Fatal("UpdatedAt must advance")
	}
}
