package server

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/playperu/simple5k/internal/report"
	"github.com/playperu/simple5k/internal/tracker"
)

// ResultsResponse is the public results board for one race.
type ResultsResponse struct {
	Race    RaceResponse   `json:"race"`
	Entries []report.Entry `json:"entries"`
}

// RunnerStatsResponse is one runner's result and laps.
type RunnerStatsResponse struct {
	RunnerID   int64        `json:"runnerId"`
	RaceID     int64        `json:"raceId"`
	RaceName   string       `json:"raceName"`
	Name       string       `json:"name"`
	Bib        *int         `json:"bib,omitempty"`
	Gender     string       `json:"gender"`
	AgeBracket string       `json:"ageBracket,omitempty"`
	Result     report.Entry `json:"result"`
}

func handleListRaces(logger *slog.Logger, st Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		races, err := st.ListRaces(r.Context())
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		out := raceResponses(races)
		for i := range out {
			out[i].Notes = ""
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetRace(logger *slog.Logger, st Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raceID, ok := idParam(w, r, "raceID")
		if !ok {
			return
		}
		race, err := st.RaceByID(r.Context(), raceID)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		resp := raceResponse(race)
		resp.Notes = ""
		writeJSON(w, http.StatusOK, resp)
	}
}

func loadResults(r *http.Request, st Store, raceID int64) (report.Results, error) {
	race, err := st.RaceByID(r.Context(), raceID)
	if err != nil {
		return report.Results{}, err
	}
	runners, err := st.RunnersByRace(r.Context(), raceID)
	if err != nil {
		return report.Results{}, err
	}
	laps, err := st.LapsByRace(r.Context(), raceID)
	if err != nil {
		return report.Results{}, err
	}
	return report.Build(race, runners, laps), nil
}

func handleResults(logger *slog.Logger, st Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raceID, ok := idParam(w, r, "raceID")
		if !ok {
			return
		}
		res, err := loadResults(r, st, raceID)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		race := raceResponse(res.Race)
		race.Notes = ""
		writeJSON(w, http.StatusOK, ResultsResponse{Race: race, Entries: res.Entries})
	}
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func handleResultsXLSX(logger *slog.Logger, st Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raceID, ok := idParam(w, r, "raceID")
		if !ok {
			return
		}
		res, err := loadResults(r, st, raceID)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}

		var buf bytes.Buffer
		if err := report.WriteXLSX(&buf, res); err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		w.Header().Set("Content-Type", xlsxContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="race-%d-results.xlsx"`, raceID))
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(buf.Bytes()))
	}
}

func handleRunnerStats(logger *slog.Logger, st Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runnerID, ok := idParam(w, r, "runnerID")
		if !ok {
			return
		}
		runner, err := st.RunnerByID(r.Context(), runnerID)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		race, err := st.RaceByID(r.Context(), runner.RaceID)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		laps, err := st.LapsByRunner(r.Context(), runnerID)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}

		res := report.Build(race, []tracker.Runner{runner}, map[int64][]tracker.LapRecord{runner.ID: laps})
		writeJSON(w, http.StatusOK, RunnerStatsResponse{
			RunnerID:   runner.ID,
			RaceID:     race.ID,
			RaceName:   race.Name,
			Name:       runner.Name(),
			Bib:        runner.Number,
			Gender:     string(runner.Gender),
			AgeBracket: string(runner.AgeBracket),
			Result:     res.Entries[0],
		})
	}
}
