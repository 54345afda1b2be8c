package scoring

import (
	"math"

	"github.com/example/campus-parking/internal/models"
)

const (
	carpoolProximityMax = 35
	carpoolScheduleMax  = 35
	carpoolGradeMax     = 15
	carpoolTagsMax      = 15

	alignFullMin  = 15 // within this many minutes: full credit
	alignZeroMin  = 60 // at this many minutes: zero credit
	metersPerMile = 1609.344
)

// CarpoolScore rates how well the subject fits an existing carpool
// group. The subject is scored pairwise against every member and the
// minimum wins: a carpool is only as compatible as its weakest link.
// routeBonus comes from an external routing collaborator and is added
// to the proximity component; pass 0 when unavailable.
func CarpoolScore(subject models.ScheduleProfile, group []models.ScheduleProfile, routeBonus int) (Score, error) {
	if err := ValidateProfile(subject); err != nil {
		return Score{}, err
	}
	if len(group) == 0 {
		return Score{}, ErrInvalidProfile
	}
	for _, m := range group {
		if err := ValidateProfile(m); err != nil {
			return Score{}, err
		}
	}

	var best Score
	for i, member := range group {
		breakdown := map[string]int{
			"proximity": proximityComponent(subject.Home, member.Home, routeBonus),
			"schedule":  scheduleAlignComponent(subject, member),
			"grade":     gradePriorityComponent(subject.Grade),
			"tags":      tagComponent(subject.PreferenceTags, member.PreferenceTags),
		}
		total := 0
		for _, v := range breakdown {
			total += v
		}
		s := Score{
			Subject:   subject.UserID,
			Candidate: member.UserID,
			Kind:      KindCarpool,
			Total:     clamp(total, 0, 100),
			Breakdown: breakdown,
		}
		if i == 0 || s.Total < best.Total {
			best = s
		}
	}
	return best, nil
}

// proximityComponent bands haversine distance between homes.
func proximityComponent(a, b models.Coord, routeBonus int) int {
	miles := Haversine(a.Lat, a.Lon, b.Lat, b.Lon) / metersPerMile
	var base int
	switch {
	case miles < 1:
		base = 35
	case miles <= 3:
		base = 25
	case miles <= 5:
		base = 15
	default:
		base = 0
	}
	return clamp(base+routeBonus, 0, carpoolProximityMax)
}

// scheduleAlignComponent scores arrival and departure alignment, half
// the component each. Alignment within alignFullMin is full credit,
// decaying linearly to zero at alignZeroMin. If the day-to-day
// difference is inconsistent beyond the tolerance, the sub-score is
// halved.
func scheduleAlignComponent(a, b models.ScheduleProfile) int {
	arr := alignSubScore(a, b, func(d models.DaySchedule) models.MinuteOfDay { return d.Arrival })
	dep := alignSubScore(a, b, func(d models.DaySchedule) models.MinuteOfDay { return d.Departure })
	return clamp(int(math.Round(arr+dep)), 0, carpoolScheduleMax)
}

func alignSubScore(a, b models.ScheduleProfile, at func(models.DaySchedule) models.MinuteOfDay) float64 {
	const half = float64(carpoolScheduleMax) / 2

	sum := 0.0
	minDiff, maxDiff := math.MaxInt32, math.MinInt32
	for i := range a.Days {
		diff := int(at(a.Days[i])) - int(at(b.Days[i]))
		if diff < minDiff {
			minDiff = diff
		}
		if diff > maxDiff {
			maxDiff = diff
		}
		mag := diff
		if mag < 0 {
			mag = -mag
		}
		switch {
		case mag <= alignFullMin:
			sum += half
		case mag >= alignZeroMin:
			// nothing
		default:
			sum += half * (1 - float64(mag-alignFullMin)/float64(alignZeroMin-alignFullMin))
		}
	}
	score := sum / float64(len(a.Days))
	// consistency across weekdays: a spread wider than the tolerance
	// halves the contribution.
	if maxDiff-minDiff > alignFullMin {
		score /= 2
	}
	return score
}

// gradePriorityComponent reflects platform priority for seniors, not
// mutual compatibility.
func gradePriorityComponent(g models.Grade) int {
	if g == models.GradeSenior {
		return carpoolGradeMax
	}
	return 0
}

// tagComponent scales the Jaccard ratio of free-text preference tags.
func tagComponent(a, b []string) int {
	sa := make(map[string]struct{}, len(a))
	for _, t := range a {
		sa[t] = struct{}{}
	}
	sb := make(map[string]struct{}, len(b))
	for _, t := range b {
		sb[t] = struct{}{}
	}
	inter := 0
	for t := range sa {
		if _, ok := sb[t]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}
	return clamp(int(math.Round(float64(carpoolTagsMax)*float64(inter)/float64(union))), 0, carpoolTagsMax)
}

// Haversine distance in meters.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
