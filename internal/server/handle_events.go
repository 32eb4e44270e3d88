package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/playperu/simple5k/internal/live"
)

const ssePingInterval = 30 * time.Second

// handleEvents streams a race's timing updates as Server-Sent Events.
func handleEvents(logger *slog.Logger, st Store, broker live.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raceID, ok := idParam(w, r, "raceID")
		if !ok {
			return
		}
		if _, err := st.RaceByID(r.Context(), raceID); err != nil {
			writeDomainError(w, r, logger, err)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		ch, unsubscribe := broker.Subscribe(raceID)
		defer unsubscribe()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		fmt.Fprintf(w, ": race %d\n\n", raceID)
		flusher.Flush()

		ping := time.NewTicker(ssePingInterval)
		defer ping.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case data := <-ch:
				fmt.Fprintf(w, "event: update\ndata: %s\n\n", data)
				flusher.Flush()
			case <-ping.C:
				fmt.Fprintf(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}
