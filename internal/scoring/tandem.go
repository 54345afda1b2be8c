package scoring

import (
	"math"

	"github.com/example/campus-parking/internal/models"
)

const (
	tandemOverlapMax  = 40
	tandemGradeMax    = 20
	tandemGapMax      = 20
	tandemExtraMax    = 10
	tandemLunchMax    = 10
	extraToleranceMin = 15
	// gapPenaltyPerMin converts minutes of average schedule conflict
	// into points lost from the arrival-gap component.
	gapPenaltyPerMin = 1.0 / 3.0
)

// TandemScore rates how well candidate b can share a's spot: b should
// arrive after a leaves. The arrival-gap component is intentionally
// asymmetric, so TandemScore(a,b) != TandemScore(b,a) in general.
func TandemScore(a, b models.ScheduleProfile) (Score, error) {
	if err := ValidateProfile(a); err != nil {
		return Score{}, err
	}
	if err := ValidateProfile(b); err != nil {
		return Score{}, err
	}

	breakdown := map[string]int{
		"overlap":         overlapComponent(a, b),
		"grade":           gradeComponent(a.Grade, b.Grade),
		"arrival_gap":     arrivalGapComponent(a, b),
		"extracurricular": extracurricularComponent(a, b),
		"lunch":           lunchComponent(a, b),
	}
	total := 0
	for _, v := range breakdown {
		total += v
	}
	return Score{
		Subject:   a.UserID,
		Candidate: b.UserID,
		Kind:      KindTandem,
		Total:     clamp(total, 0, 100),
		Breakdown: breakdown,
	}, nil
}

// overlapComponent: 40 minus 5 points per weekly hour both users need
// the spot at the same time, floored at 0.
func overlapComponent(a, b models.ScheduleProfile) int {
	totalMin := 0
	for i := range a.Days {
		totalMin += overlapMinutes(a.Days[i], b.Days[i])
	}
	hours := float64(totalMin) / 60.0
	return clamp(int(math.Round(float64(tandemOverlapMax)-5*hours)), 0, tandemOverlapMax)
}

// gradeComponent gives full credit to equal grades and to any
// sophomore/junior pairing. Seniors only pair with seniors for credit.
func gradeComponent(a, b models.Grade) int {
	if a == b {
		return tandemGradeMax
	}
	underclass := func(g models.Grade) bool {
		return g == models.GradeSophomore || g == models.GradeJunior
	}
	if underclass(a) && underclass(b) {
		return tandemGradeMax
	}
	return 0
}

// arrivalGapComponent: full credit when b arrives at or after a's
// departure every day; otherwise the average conflict magnitude eats
// into the score.
func arrivalGapComponent(a, b models.ScheduleProfile) int {
	allNonNegative := true
	negSum := 0
	for i := range a.Days {
		gap := int(b.Days[i].Arrival) - int(a.Days[i].Departure)
		if gap < 0 {
			allNonNegative = false
			negSum += -gap
		}
	}
	if allNonNegative {
		return tandemGapMax
	}
	avgNeg := float64(negSum) / float64(len(a.Days))
	penalty := int(math.Round(avgNeg * gapPenaltyPerMin))
	return clamp(tandemGapMax-penalty, 0, tandemGapMax)
}

// extracurricularComponent scores per day and keeps the weakest day:
// aligned or both absent is full credit, anything mixed or misaligned
// is half credit. Never below 5 once any extracurricular exists.
func extracurricularComponent(a, b models.ScheduleProfile) int {
	component := tandemExtraMax
	for i := range a.Days {
		ae, be := a.Days[i].ExtracurricularEnd, b.Days[i].ExtracurricularEnd
		day := tandemExtraMax
		switch {
		case ae == nil && be == nil:
			day = tandemExtraMax
		case ae != nil && be != nil:
			diff := int(*ae) - int(*be)
			if diff < 0 {
				diff = -diff
			}
			if diff > extraToleranceMin {
				day = tandemExtraMax / 2
			}
		default:
			day = tandemExtraMax / 2
		}
		if day < component {
			component = day
		}
	}
	return component
}

// lunchComponent: both users leaving campus for lunch means both want
// the spot back at midday, which defeats a tandem.
func lunchComponent(a, b models.ScheduleProfile) int {
	for i := range a.Days {
		if a.Days[i].LunchOffCampus && b.Days[i].LunchOffCampus {
			return 0
		}
	}
	return tandemLunchMax
}
