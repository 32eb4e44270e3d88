// Package livefeed streams a race's timing updates over WebSocket.
package livefeed

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"github.com/playperu/simple5k/internal/tracker"
)

const writeTimeout = 5 * time.Second

type Subscriber interface {
	Subscribe(raceID int64) (<-chan []byte, func())
}

type RaceFinder interface {
	RaceByID(ctx context.Context, id int64) (tracker.Race, error)
}

type Handler struct {
	logger *slog.Logger
	races  RaceFinder
	sub    Subscriber
	ping   time.Duration
}

func NewHandler(logger *slog.Logger, races RaceFinder, sub Subscriber) *Handler {
	return &Handler{logger: logger, races: races, sub: sub, ping: 30 * time.Second}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/races/{raceID}", h.follow)
	return r
}

func (h *Handler) follow(w http.ResponseWriter, r *http.Request) {
	raceID, err := strconv.ParseInt(chi.URLParam(r, "raceID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid race id", http.StatusBadRequest)
		return
	}
	if _, err := h.races.RaceByID(r.Context(), raceID); err != nil {
		if errors.Is(err, tracker.ErrRaceNotFound) {
			http.Error(w, "race not found", http.StatusNotFound)
			return
		}
		h.logger.Error("loading race for live feed", "race_id", raceID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	updates, unsubscribe := h.sub.Subscribe(raceID)
	defer unsubscribe()

	// Followers only listen; CloseRead handles their control frames and
	// cancels ctx when they go away.
	ctx := conn.CloseRead(r.Context())

	ping := time.NewTicker(h.ping)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("live feed follower left", "race_id", raceID)
			return
		case data := <-updates:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ping.C:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(wctx)
			cancel()
			if err != nil {
				h.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
