package tracker

import (
	"fmt"
	"time"
)

const (
	milesPerKm    = 0.621371
	kmPerMile     = 1.60934
	metersPerMile = 1609.34
)

// LapSpeedMPH is the average speed over a lap of lapKm covered in d.
func LapSpeedMPH(lapKm float64, d time.Duration) float64 {
	secs := d.Seconds()
	if secs <= 0 {
		return 0
	}
	return (lapKm / secs) * 3600 * milesPerKm
}

// LapPace is the time per mile implied by covering lapKm in d.
func LapPace(lapKm float64, d time.Duration) time.Duration {
	if lapKm <= 0 || d <= 0 {
		return 0
	}
	minutes := d.Minutes() / (lapKm / kmPerMile)
	return minutesToDuration(minutes)
}

// RaceSpeedMPH is the average speed over the whole race for a gun time.
func RaceSpeedMPH(distanceKm float64, gun time.Duration) float64 {
	hours := gun.Hours()
	if hours <= 0 {
		return 0
	}
	return (distanceKm / hours) * milesPerKm
}

// RacePace is the average time per mile over the whole race for a gun time.
func RacePace(distanceMeters int, gun time.Duration) time.Duration {
	if distanceMeters <= 0 || gun <= 0 {
		return 0
	}
	minutes := gun.Minutes() / (float64(distanceMeters) / metersPerMile)
	return minutesToDuration(minutes)
}

func minutesToDuration(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute)).Round(time.Microsecond)
}

// FormatClock renders d the way results boards print it: M:SS below an
// hour, H:MM:SS from there on, with tenths when d is not a whole second.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	tenths := int64(d.Round(100*time.Millisecond) / (100 * time.Millisecond))
	secs := tenths / 10
	h, m, s := secs/3600, secs/60%60, secs%60
	var out string
	if h > 0 {
		out = fmt.Sprintf("%d:%02d:%02d", h, m, s)
	} else {
		out = fmt.Sprintf("%d:%02d", m, s)
	}
	if t := tenths % 10; t != 0 {
		out += fmt.Sprintf(".%d", t)
	}
	return out
}
