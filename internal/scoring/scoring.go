package scoring

import (
	"errors"
	"fmt"

	"github.com/example/campus-parking/internal/models"
)

// Kind selects which scoring strategy produced a Score.
type Kind string

const (
	KindTandem  Kind = "tandem"
	KindCarpool Kind = "carpool"
)

// Score is a 0..100 compatibility result with per-component sub-scores
// kept for explainability. It is derived data, never a source of truth.
type Score struct {
	Subject   string         `json:"subject"`
	Candidate string         `json:"candidate"`
	Kind      Kind           `json:"kind"`
	Total     int            `json:"total"`
	Breakdown map[string]int `json:"breakdown"`
}

var ErrInvalidProfile = errors.New("invalid schedule profile")

// ValidateProfile rejects malformed schedule input before scoring.
// Inputs are never silently coerced.
func ValidateProfile(p models.ScheduleProfile) error {
	if p.UserID == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidProfile)
	}
	switch p.Grade {
	case models.GradeSophomore, models.GradeJunior, models.GradeSenior:
	default:
		return fmt.Errorf("%w: unknown grade %q", ErrInvalidProfile, p.Grade)
	}
	for i, d := range p.Days {
		if !d.Arrival.Valid() || !d.Departure.Valid() {
			return fmt.Errorf("%w: day %d time out of range", ErrInvalidProfile, i)
		}
		if d.Arrival >= d.Departure {
			return fmt.Errorf("%w: day %d arrival %d not before departure %d", ErrInvalidProfile, i, d.Arrival, d.Departure)
		}
		if d.ExtracurricularEnd != nil && !d.ExtracurricularEnd.Valid() {
			return fmt.Errorf("%w: day %d extracurricular end out of range", ErrInvalidProfile, i)
		}
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// overlapMinutes returns how long the two presence windows intersect.
func overlapMinutes(a, b models.DaySchedule) int {
	start := a.Arrival
	if b.Arrival > start {
		start = b.Arrival
	}
	end := a.Departure
	if b.Departure < end {
		end = b.Departure
	}
	if end <= start {
		return 0
	}
	return int(end - start)
}
