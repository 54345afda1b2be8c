package models

import "time"

// MinuteOfDay counts minutes since midnight, 0..1439.
type MinuteOfDay int

func (m MinuteOfDay) Valid() bool { return m >= 0 && m < 24*60 }

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type Grade string

const (
	GradeSophomore Grade = "sophomore"
	GradeJunior    Grade = "junior"
	GradeSenior    Grade = "senior"
)

// DaySchedule is one weekday's campus presence window.
type DaySchedule struct {
	Arrival            MinuteOfDay  `json:"arrival"`
	Departure          MinuteOfDay  `json:"departure"`
	LunchOffCampus     bool         `json:"lunch_off_campus"`
	ExtracurricularEnd *MinuteOfDay `json:"extracurricular_end,omitempty"`
}

// ScheduleProfile is a read-only snapshot supplied by the schedule
// collaborator. UpdatedAt versions the snapshot for cache invalidation.
type ScheduleProfile struct {
	UserID         string         `json:"user_id"`
	Grade          Grade          `json:"grade"`
	Days           [5]DaySchedule `json:"days"`
	Home           Coord          `json:"home"`
	PreferenceTags []string       `json:"preference_tags,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type SpotType string

const (
	SpotSingle SpotType = "single"
	SpotTandem SpotType = "tandem"
)

type VehicleSize string

const (
	VehicleCompact  VehicleSize = "compact"
	VehicleStandard VehicleSize = "standard"
	VehicleLarge    VehicleSize = "large"
)

type Spot struct {
	ID             string   `json:"id"`
	Lot            string   `json:"lot"`
	Type           SpotType `json:"type"`
	DistanceMeters float64  `json:"distance_meters"` // walking distance to campus
	CompactOnly    bool     `json:"compact_only"`
	OwnerID        string   `json:"owner_id"`
}

// Fits reports whether a vehicle of the given size may use the spot.
func (s Spot) Fits(v VehicleSize) bool {
	if s.CompactOnly {
		return v == VehicleCompact
	}
	return true
}

type RentalStatus string

const (
	StatusPending             RentalStatus = "pending"
	StatusPendingReassignment RentalStatus = "pending_reassignment"
	StatusConfirmed           RentalStatus = "confirmed"
	StatusCompleted           RentalStatus = "completed"
	StatusCancelled           RentalStatus = "cancelled"
	StatusDisputed            RentalStatus = "disputed"
)

// Terminal reports whether no further transitions are legal.
// Disputed is quasi-terminal: it resolves only via admin input.
func (s RentalStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Rental is one paid transfer of a spot for a single date.
// EscrowID references the payment collaborator's hold while the
// rental is in a non-terminal status.
type Rental struct {
	ID            string       `json:"id"`
	SpotID        string       `json:"spot_id"`
	Date          string       `json:"date"` // YYYY-MM-DD
	OwnerID       string       `json:"owner_id"`
	RenterID      string       `json:"renter_id"`
	VehicleSize   VehicleSize  `json:"vehicle_size"`
	PriceCents    int64        `json:"price_cents"`
	Status        RentalStatus `json:"status"`
	EscrowID      string       `json:"escrow_id,omitempty"`
	ReassignCount int          `json:"reassign_count"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

type ReassignOutcome string

const (
	ReassignAccepted  ReassignOutcome = "accepted"
	ReassignRejected  ReassignOutcome = "rejected"
	ReassignExhausted ReassignOutcome = "exhausted"
)

// ReassignmentRecord is an append-only audit entry; never mutated.
type ReassignmentRecord struct {
	ID              string          `json:"id"`
	RentalID        string          `json:"rental_id"`
	CandidateSpotID string          `json:"candidate_spot_id,omitempty"`
	Outcome         ReassignOutcome `json:"outcome"`
	At              time.Time       `json:"at"`
}

type Penalty struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Offense     string    `json:"offense"`
	AmountCents int64     `json:"amount_cents"`
	Paid        bool      `json:"paid"`
	CreatedAt   time.Time `json:"created_at"`
}

// Credit is platform credit granted to a renter, e.g. after an
// exhausted reassignment.
type Credit struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	AmountCents int64     `json:"amount_cents"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}
