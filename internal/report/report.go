// Package report builds race results: the ordered standings served as JSON
// and the same data as an Excel workbook.
package report

import (
	"cmp"
	"slices"
	"time"

	"github.com/playperu/simple5k/internal/tracker"
)

type Split struct {
	Lap      int           `json:"lap"`
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"-"`
	Speed    float64       `json:"speedMph"`
	Pace     time.Duration `json:"-"`
}

type Entry struct {
	RunnerID   int64              `json:"runnerId"`
	Bib        *int               `json:"bib,omitempty"`
	Name       string             `json:"name"`
	Gender     tracker.Gender     `json:"gender"`
	AgeBracket tracker.AgeBracket `json:"ageBracket,omitempty"`
	Finished   bool               `json:"finished"`
	Place      *int               `json:"place,omitempty"`
	GunTime    *time.Duration     `json:"-"`
	ChipTime   *time.Duration     `json:"-"`
	Speed      *float64           `json:"speedMph,omitempty"`
	Pace       *time.Duration     `json:"-"`
	// LapsDone counts counted laps, excluding the chip-start read.
	LapsDone int     `json:"lapsDone"`
	Splits   []Split `json:"splits"`
}

type Results struct {
	Race    tracker.Race
	Entries []Entry
}

// Build orders runners for a results board: finishers first by gender
// then place, then runners still out on the course by laps done, then
// everyone else by bib.
func Build(race tracker.Race, runners []tracker.Runner, laps map[int64][]tracker.LapRecord) Results {
	entries := make([]Entry, 0, len(runners))
	for _, r := range runners {
		e := Entry{
			RunnerID:   r.ID,
			Bib:        r.Number,
			Name:       r.Name(),
			Gender:     r.Gender,
			AgeBracket: r.AgeBracket,
			Finished:   r.RaceCompleted,
			Place:      r.Place,
			GunTime:    r.TotalRaceTime,
			ChipTime:   r.ChipTime,
			Speed:      r.RaceAvgSpeed,
			Pace:       r.RaceAvgPace,
			Splits:     []Split{},
		}
		for _, l := range laps[r.ID] {
			if l.Lap < 1 {
				continue
			}
			e.LapsDone++
			e.Splits = append(e.Splits, Split{
				Lap: l.Lap, At: l.Time, Duration: l.Duration,
				Speed: l.AverageSpeed, Pace: l.AveragePace,
			})
		}
		entries = append(entries, e)
	}

	slices.SortStableFunc(entries, compareEntries)
	return Results{Race: race, Entries: entries}
}

func compareEntries(a, b Entry) int {
	if a.Finished != b.Finished {
		if a.Finished {
			return -1
		}
		return 1
	}
	if a.Finished {
		if c := cmp.Compare(genderRank(a.Gender), genderRank(b.Gender)); c != 0 {
			return c
		}
		if c := comparePtr(a.Place, b.Place); c != 0 {
			return c
		}
		return cmp.Compare(a.RunnerID, b.RunnerID)
	}
	if c := cmp.Compare(b.LapsDone, a.LapsDone); c != 0 {
		return c
	}
	if c := comparePtr(a.Bib, b.Bib); c != 0 {
		return c
	}
	return cmp.Compare(a.RunnerID, b.RunnerID)
}

func genderRank(g tracker.Gender) int {
	if i := slices.Index(tracker.Genders, g); i >= 0 {
		return i
	}
	return len(tracker.Genders)
}

// comparePtr orders nil after every value.
func comparePtr(a, b *int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return cmp.Compare(*a, *b)
}

// Cohort returns the finishers of one gender in place order.
func (r Results) Cohort(g tracker.Gender) []Entry {
	var out []Entry
	for _, e := range r.Entries {
		if e.Finished && e.Gender == g {
			out = append(out, e)
		}
	}
	return out
}
