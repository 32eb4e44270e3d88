// Package tracker defines the core race timing domain types and the store
// interfaces the timing engine runs against.
// It imports nothing outside the standard library.
package tracker

import (
	"strings"
	"time"
)

type Race struct {
	ID             int64
	Name           string
	Status         RaceStatus
	EntryFeeCents  int64
	Date           string // YYYY-MM-DD
	ScheduledTime  string // HH:MM
	DistanceMeters int
	LapsCount      int
	MaxRunners     int
	NumberStart    int
	StartTime      *time.Time
	EndTime        *time.Time
	MinLapTime     time.Duration
	AllEmailsSent  bool
	Notes          string
	CreatedAt      time.Time
}

// DistanceKm is the full race distance in kilometres.
func (r Race) DistanceKm() float64 {
	return float64(r.DistanceMeters) / 1000
}

// LapDistanceKm is the distance covered by one counted lap.
func (r Race) LapDistanceKm() float64 {
	if r.LapsCount < 1 {
		return r.DistanceKm()
	}
	return r.DistanceKm() / float64(r.LapsCount)
}

type Runner struct {
	ID                     int64
	RaceID                 int64
	FirstName              string
	LastName               string
	Email                  string
	AgeBracket             AgeBracket
	Gender                 Gender
	ShirtSize              ShirtSize
	Type                   string
	Number                 *int
	TagID                  *int64
	RaceCompleted          bool
	TotalRaceTime          *time.Duration
	ChipTime               *time.Duration
	RaceAvgSpeed           *float64
	RaceAvgPace            *time.Duration
	Place                  *int
	Paid                   bool
	SignupConfirmationSent bool
	ResultsEmailSent       bool
	Notes                  string
	CreatedAt              time.Time
}

func (r Runner) Name() string {
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

type Tag struct {
	ID        int64
	TagNumber int
	RFIDHex   string
}

// LapRecord is one accepted crossing. Lap 0 is the chip-start pseudo-lap;
// counted laps run 1..Race.LapsCount.
type LapRecord struct {
	ID           int64
	RunnerID     int64
	RaceID       int64
	Lap          int
	Time         time.Time
	Duration     time.Duration
	AverageSpeed float64
	AveragePace  time.Duration
}

// NormalizeRFID canonicalises a physical tag identifier for lookup.
func NormalizeRFID(hex string) string {
	return strings.ToUpper(strings.TrimSpace(hex))
}

// ValidRFID reports whether hex is a non-empty hexadecimal string.
func ValidRFID(hex string) bool {
	if hex == "" {
		return false
	}
	for _, c := range hex {
		switch {
		case c >= '0' && c <= '9', c >= 'A' && c <= 'F', c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}
