package report

import (
	"encoding/json"
	"time"

	"github.com/playperu/simple5k/internal/tracker"
)

// Durations go out twice: as milliseconds for clients that compute, and as
// a board-style clock string for clients that only display.

func (s Split) MarshalJSON() ([]byte, error) {
	type plain Split
	return json.Marshal(struct {
		plain
		DurationMS int64  `json:"durationMs"`
		Time       string `json:"time"`
		PaceClock  string `json:"pace"`
	}{
		plain:      plain(s),
		DurationMS: s.Duration.Milliseconds(),
		Time:       tracker.FormatClock(s.Duration),
		PaceClock:  tracker.FormatClock(s.Pace),
	})
}

func (e Entry) MarshalJSON() ([]byte, error) {
	type plain Entry
	return json.Marshal(struct {
		plain
		GunTimeMS  *int64  `json:"gunTimeMs,omitempty"`
		GunClock   *string `json:"gunTime,omitempty"`
		ChipTimeMS *int64  `json:"chipTimeMs,omitempty"`
		ChipClock  *string `json:"chipTime,omitempty"`
		PaceClock  *string `json:"pace,omitempty"`
	}{
		plain:      plain(e),
		GunTimeMS:  millis(e.GunTime),
		GunClock:   clock(e.GunTime),
		ChipTimeMS: millis(e.ChipTime),
		ChipClock:  clock(e.ChipTime),
		PaceClock:  clock(e.Pace),
	})
}

func millis(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	ms := d.Milliseconds()
	return &ms
}

func clock(d *time.Duration) *string {
	if d == nil {
		return nil
	}
	s := tracker.FormatClock(*d)
	return &s
}
