package scoring

import (
	"testing"

	"github.com/example/campus-parking/internal/models"
)

func minute(h, m int) models.MinuteOfDay { return models.MinuteOfDay(h*60 + m) }

func weekdays(arr, dep models.MinuteOfDay) [5]models.DaySchedule {
	var days [5]models.DaySchedule
	for i := range days {
		days[i] = models.DaySchedule{Arrival: arr, Departure: dep}
	}
	return days
}

func profile(id string, grade models.Grade, arr, dep models.MinuteOfDay) models.ScheduleProfile {
	return models.ScheduleProfile{UserID: id, Grade: grade, Days: weekdays(arr, dep)}
}

func TestTandemPerfectScore(t *testing.T) {
	// zero weekly overlap, junior/junior, B arrives 5 minutes after A
	// departs every day, matching extracurricular ends, only A leaves
	// for lunch: every component maxes out.
	a := profile("a", models.GradeJunior, minute(6, 0), minute(8, 0))
	b := profile("b", models.GradeJunior, minute(8, 5), minute(15, 0))
	end := minute(17, 0)
	for i := range a.Days {
		a.Days[i].ExtracurricularEnd = &end
		b.Days[i].ExtracurricularEnd = &end
		a.Days[i].LunchOffCampus = true
	}

	s, err := TandemScore(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Total != 100 {
		t.Fatalf("expected 100, got %d (breakdown %v)", s.Total, s.Breakdown)
	}
	for name, want := range map[string]int{"overlap": 40, "grade": 20, "arrival_gap": 20, "extracurricular": 10, "lunch": 10} {
		if got := s.Breakdown[name]; got != want {
			t.Errorf("component %s = %d, want %d", name, got, want)
		}
	}
}

func TestTandemScoreRange(t *testing.T) {
	// heavy overlap, mismatched grades, both off for lunch: the floor
	// is still zero, never negative.
	a := profile("a", models.GradeSenior, minute(8, 0), minute(15, 0))
	b := profile("b", models.GradeSophomore, minute(8, 0), minute(15, 0))
	for i := range a.Days {
		a.Days[i].LunchOffCampus = true
		b.Days[i].LunchOffCampus = true
	}
	s, err := TandemScore(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Total < 0 || s.Total > 100 {
		t.Fatalf("score out of range: %d", s.Total)
	}
	if s.Breakdown["overlap"] != 0 {
		t.Errorf("expected overlap component 0, got %d", s.Breakdown["overlap"])
	}
	if s.Breakdown["lunch"] != 0 {
		t.Errorf("expected lunch component 0, got %d", s.Breakdown["lunch"])
	}
}

func TestTandemArrivalGapAsymmetric(t *testing.T) {
	a := profile("a", models.GradeJunior, minute(6, 0), minute(8, 0))
	b := profile("b", models.GradeJunior, minute(9, 0), minute(15, 0))

	ab, err := TandemScore(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ba, err := TandemScore(b, a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// b after a is a clean handoff; a after b is not
	if ab.Breakdown["arrival_gap"] != 20 {
		t.Errorf("forward gap component = %d, want 20", ab.Breakdown["arrival_gap"])
	}
	if ba.Breakdown["arrival_gap"] >= ab.Breakdown["arrival_gap"] {
		t.Errorf("expected reverse gap component below %d, got %d", ab.Breakdown["arrival_gap"], ba.Breakdown["arrival_gap"])
	}
	// overlap and grade components are symmetric
	if ab.Breakdown["overlap"] != ba.Breakdown["overlap"] {
		t.Errorf("overlap asymmetric: %d vs %d", ab.Breakdown["overlap"], ba.Breakdown["overlap"])
	}
	if ab.Breakdown["grade"] != ba.Breakdown["grade"] {
		t.Errorf("grade asymmetric: %d vs %d", ab.Breakdown["grade"], ba.Breakdown["grade"])
	}
}

func TestTandemGradePairs(t *testing.T) {
	cases := []struct {
		a, b models.Grade
		want int
	}{
		{models.GradeJunior, models.GradeJunior, 20},
		{models.GradeJunior, models.GradeSophomore, 20},
		{models.GradeSophomore, models.GradeSophomore, 20},
		{models.GradeSenior, models.GradeSenior, 20},
		{models.GradeSenior, models.GradeJunior, 0},
		{models.GradeSenior, models.GradeSophomore, 0},
	}
	for _, c := range cases {
		if got := gradeComponent(c.a, c.b); got != c.want {
			t.Errorf("gradeComponent(%s, %s) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestTandemDeterministic(t *testing.T) {
	a := profile("a", models.GradeJunior, minute(7, 0), minute(9, 30))
	b := profile("b", models.GradeSophomore, minute(9, 0), minute(14, 0))
	first, err := TandemScore(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := TandemScore(a, b)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if again.Total != first.Total {
			t.Fatalf("score changed between runs: %d vs %d", first.Total, again.Total)
		}
	}
}

func TestTandemRejectsInvalidProfile(t *testing.T) {
	a := profile("a", models.GradeJunior, minute(9, 0), minute(8, 0)) // departs before arriving
	b := profile("b", models.GradeJunior, minute(8, 0), minute(15, 0))
	if _, err := TandemScore(a, b); err == nil {
		t.Fatal("expected validation error")
	}
	a = profile("", models.GradeJunior, minute(7, 0), minute(8, 0))
	if _, err := TandemScore(a, b); err == nil {
		t.Fatal("expected validation error for empty user id")
	}
}
