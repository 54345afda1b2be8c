// Package match ranks scored candidates per user and keeps the results
// fresh across schedule updates.
package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/example/campus-parking/internal/cache"
	"github.com/example/campus-parking/internal/events"
	"github.com/example/campus-parking/internal/models"
	"github.com/example/campus-parking/internal/observability"
	"github.com/example/campus-parking/internal/scoring"
)

var ErrUnknownUser = errors.New("unknown user")

// Match is one ranked candidate for a user.
type Match struct {
	CandidateID string         `json:"candidate_id"`
	Kind        scoring.Kind   `json:"kind"`
	Score       int            `json:"score"`
	Breakdown   map[string]int `json:"breakdown"`

	candidateCreated time.Time
}

// RouteBonusFunc lets an external routing collaborator add a
// route-alignment bonus to a carpool candidate. Nil means no bonus.
type RouteBonusFunc func(userID, groupID string) int

// Ranker computes and orders compatibility scores. Concurrent requests
// for the same (user, kind) collapse to a single in-flight computation,
// and identical inputs always produce an identical ordering.
type Ranker struct {
	src    Source
	cache  cache.ScoreCache
	bus    events.Bus
	logger *slog.Logger

	RouteBonus RouteBonusFunc

	sf singleflight.Group
}

func NewRanker(src Source, sc cache.ScoreCache, bus events.Bus, logger *slog.Logger) *Ranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ranker{src: src, cache: sc, bus: bus, logger: logger}
}

// TopMatches returns the user's best candidates of the given kind,
// highest score first. Ties go to the candidate with the earlier
// profile creation time, then the lower ID; never random.
func (r *Ranker) TopMatches(ctx context.Context, userID string, kind scoring.Kind, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 10
	}
	key := userID + "|" + string(kind)
	v, err, _ := r.sf.Do(key, func() (interface{}, error) {
		return r.rank(userID, kind)
	})
	if err != nil {
		return nil, err
	}
	all := v.([]Match)
	if len(all) > limit {
		all = all[:limit]
	}
	for _, m := range all {
		r.publishMatch(userID, m)
	}
	return all, nil
}

// Invalidate drops every cached score touching the user. Called on
// schedule or preference updates.
func (r *Ranker) Invalidate(userID string) {
	if r.cache != nil {
		r.cache.InvalidateUser(userID)
	}
}

func (r *Ranker) rank(userID string, kind scoring.Kind) ([]Match, error) {
	subject, ok := r.src.Profile(userID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}

	var matches []Match
	switch kind {
	case scoring.KindTandem:
		for _, cand := range r.src.TandemCandidates(userID) {
			s, err := r.tandem(subject, cand)
			if err != nil {
				r.logger.Warn("skipping unscorable candidate", "user_id", userID, "candidate", cand.UserID, "error", err)
				continue
			}
			matches = append(matches, Match{
				CandidateID:      cand.UserID,
				Kind:             kind,
				Score:            s.Total,
				Breakdown:        s.Breakdown,
				candidateCreated: cand.CreatedAt,
			})
		}
	case scoring.KindCarpool:
		for _, g := range r.src.CarpoolGroups(userID) {
			bonus := 0
			if r.RouteBonus != nil {
				bonus = r.RouteBonus(userID, g.ID)
			}
			s, err := r.carpool(subject, g, bonus)
			if err != nil {
				r.logger.Warn("skipping unscorable group", "user_id", userID, "group", g.ID, "error", err)
				continue
			}
			matches = append(matches, Match{
				CandidateID:      g.ID,
				Kind:             kind,
				Score:            s.Total,
				Breakdown:        s.Breakdown,
				candidateCreated: groupCreated(g),
			})
		}
	default:
		return nil, fmt.Errorf("unknown match kind %q", kind)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if !matches[i].candidateCreated.Equal(matches[j].candidateCreated) {
			return matches[i].candidateCreated.Before(matches[j].candidateCreated)
		}
		return matches[i].CandidateID < matches[j].CandidateID
	})
	return matches, nil
}

func (r *Ranker) tandem(subject, cand models.ScheduleProfile) (scoring.Score, error) {
	key := cache.Key(scoring.KindTandem, subject, cand)
	if r.cache != nil {
		if s, ok := r.cache.Get(key); ok {
			observability.ScoreCacheHitsTotal.Inc()
			return s, nil
		}
	}
	s, err := scoring.TandemScore(subject, cand)
	if err != nil {
		return scoring.Score{}, err
	}
	observability.ScoresComputedTotal.WithLabelValues(string(scoring.KindTandem)).Inc()
	if r.cache != nil {
		r.cache.Set(key, []string{subject.UserID, cand.UserID}, s)
	}
	return s, nil
}

func (r *Ranker) carpool(subject models.ScheduleProfile, g CarpoolGroup, bonus int) (scoring.Score, error) {
	profiles := append([]models.ScheduleProfile{subject}, g.Members...)
	key := cache.Key(scoring.KindCarpool, profiles...)
	if r.cache != nil {
		if s, ok := r.cache.Get(key); ok {
			observability.ScoreCacheHitsTotal.Inc()
			return s, nil
		}
	}
	s, err := scoring.CarpoolScore(subject, g.Members, bonus)
	if err != nil {
		return scoring.Score{}, err
	}
	observability.ScoresComputedTotal.WithLabelValues(string(scoring.KindCarpool)).Inc()
	if r.cache != nil {
		users := make([]string, 0, len(profiles))
		for _, p := range profiles {
			users = append(users, p.UserID)
		}
		r.cache.Set(key, users, s)
	}
	return s, nil
}

func (r *Ranker) publishMatch(userID string, m Match) {
	if r.bus == nil {
		return
	}
	_ = r.bus.Publish(events.Event{
		Type: events.TypeMatchFound,
		Key:  userID,
		At:   time.Now(),
		MatchFound: &events.MatchFound{
			UserID:      userID,
			CandidateID: m.CandidateID,
			Kind:        string(m.Kind),
			Score:       m.Score,
		},
	})
}

// groupCreated is the group's effective registration time: its oldest
// member's profile creation.
func groupCreated(g CarpoolGroup) time.Time {
	var t time.Time
	for i, m := range g.Members {
		if i == 0 || m.CreatedAt.Before(t) {
			t = m.CreatedAt
		}
	}
	return t
}
