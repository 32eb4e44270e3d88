package tracker

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"
)

func TestRaceSpeedMPH(t *testing.T) {
	// 5 km in 1500 s is 12 km/h.
	got := RaceSpeedMPH(5, 1500*time.Second)
	want := 12 * 0.621371
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("speed = %v, want %v", got, want)
	}
	if math.Abs(got-7.456452) > 1e-6 {
		t.Fatalf("speed = %v, want ~7.4565", got)
	}
}

func TestLapSpeedMatchesRaceSpeedForSingleLap(t *testing.T) {
	d := 1234 * time.Second
	if a, b := LapSpeedMPH(5, d), RaceSpeedMPH(5, d); math.Abs(a-b) > 1e-9 {
		t.Fatalf("lap speed %v != race speed %v", a, b)
	}
}

func TestRacePace(t *testing.T) {
	// One mile in eight minutes.
	got := RacePace(1609, 8*time.Minute)
	want := 8 * time.Minute
	if diff := got - want; diff < -time.Second || diff > time.Second {
		t.Fatalf("pace = %v, want ~%v", got, want)
	}
}

func TestLapPaceMatchesRacePaceForSingleLap(t *testing.T) {
	d := 25 * time.Minute
	a := LapPace(5, d)
	b := RacePace(5000, d)
	if diff := a - b; diff < -time.Millisecond || diff > time.Millisecond {
		t.Fatalf("lap pace %v != race pace %v", a, b)
	}
}

func TestZeroDurations(t *testing.T) {
	if got := LapSpeedMPH(1, 0); got != 0 {
		t.Errorf("LapSpeedMPH(1, 0) = %v, want 0", got)
	}
	if got := LapPace(1, -time.Second); got != 0 {
		t.Errorf("LapPace negative = %v, want 0", got)
	}
	if got := RaceSpeedMPH(5, 0); got != 0 {
		t.Errorf("RaceSpeedMPH(5, 0) = %v, want 0", got)
	}
	if got := RacePace(0, time.Minute); got != 0 {
		t.Errorf("RacePace(0, 1m) = %v, want 0", got)
	}
}

func TestParseGender(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"male", false},
		{"female", false},
		{"", true},
		{"Male", true},
		{"other", true},
	}
	for _, tt := range tests {
		_, err := ParseGender(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseGender(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}

func TestValidRFID(t *testing.T) {
	for _, ok := range []string{"E200001", "abcdef0123", "0"} {
		if !ValidRFID(ok) {
			t.Errorf("ValidRFID(%q) = false", ok)
		}
	}
	for _, bad := range []string{"", "E2 00", "XYZ", "12-34"} {
		if ValidRFID(bad) {
			t.Errorf("ValidRFID(%q) = true", bad)
		}
	}
	if got := NormalizeRFID("  e2ab "); got != "E2AB" {
		t.Errorf("NormalizeRFID = %q, want E2AB", got)
	}
}

func TestNotFoundErrorsMatchErrNotFound(t *testing.T) {
	wrapped := fmt.Errorf("loading race 7: %w", ErrRaceNotFound)
	if !errors.Is(wrapped, ErrRaceNotFound) {
		t.Error("wrapped error does not match ErrRaceNotFound")
	}
	if !errors.Is(wrapped, ErrNotFound) {
		t.Error("ErrRaceNotFound does not match ErrNotFound")
	}
	if errors.Is(ErrRunnerNotFound, ErrRaceNotFound) {
		t.Error("ErrRunnerNotFound matches ErrRaceNotFound")
	}
}

func TestFormatClock(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0:00"},
		{1500 * time.Second, "25:00"},
		{482*time.Second + 800*time.Millisecond, "8:02.8"},
		{3725 * time.Second, "1:02:05"},
		{59*time.Second + 960*time.Millisecond, "1:00"},
		{-time.Second, "0:00"},
	}
	for _, tt := range tests {
		if got := FormatClock(tt.d); got != tt.want {
			t.Errorf("FormatClock(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
