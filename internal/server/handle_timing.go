package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/playperu/simple5k/internal/timing"
)

// maxBatch bounds a single lap upload. Readers flush their buffers in
// chunks well under this.
const maxBatch = 1000

// LapBatchRequest is the batch form of POST /api/timing/laps. A single
// event object is accepted as well.
type LapBatchRequest struct {
	Events []timing.Event `json:"events"`
}

// LapBatchResponse lists one result per submitted event, in order.
type LapBatchResponse struct {
	Results []timing.Result `json:"results"`
}

func handleTimingRaces(logger *slog.Logger, st Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		races, err := st.AvailableRaces(r.Context())
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, raceResponses(races))
	}
}

// handleRecordLaps answers 200 whenever the envelope parses; per-event
// failures are reported in the results.
func handleRecordLaps(logger *slog.Logger, tm Timing) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := decodeEvents(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(events) > maxBatch {
			writeError(w, http.StatusRequestEntityTooLarge, "too many events in one batch")
			return
		}

		results := tm.RecordBatch(r.Context(), events)

		failed := 0
		for _, res := range results {
			if res.Status == timing.StatusFailed {
				failed++
			}
		}
		logger.Info("timing batch", "client", apiKeyFrom(r).Name, "events", len(events), "failed", failed)

		writeJSON(w, http.StatusOK, LapBatchResponse{Results: results})
	}
}

func decodeEvents(r *http.Request) ([]timing.Event, error) {
	defer r.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	if _, ok := fields["events"]; ok {
		var batch LapBatchRequest
		if err := json.Unmarshal(raw, &batch); err != nil {
			return nil, err
		}
		return batch.Events, nil
	}

	var ev timing.Event
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&ev); err != nil {
		return nil, err
	}
	return []timing.Event{ev}, nil
}

// handleTimingAssignTag pairs a bib with a tag at packet pickup, registering
// the tag if it is new.
func handleTimingAssignTag(logger *slog.Logger, tm Timing) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TagRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		assignTag(w, r, logger, tm, req, timing.TagUpsert)
	}
}
