package server

import (
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/swaggest/swgui/v5emb"
)

func addRoutes(r chi.Router, logger *slog.Logger, deps Deps) {
	st, tm := deps.Store, deps.Timing

	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("Simple5K API", "/openapi.json", "/docs"))
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	// Public routes: signup, results and the SSE live feed.
	r.Route("/api", func(r chi.Router) {
		r.Get("/races", handleListRaces(logger, st))
		r.Route("/races/{raceID}", func(r chi.Router) {
			r.Get("/", handleGetRace(logger, st))
			r.Post("/signup", handleSignup(logger, st))
			r.Get("/results", handleResults(logger, st))
			r.Get("/results.xlsx", handleResultsXLSX(logger, st))
			r.Get("/events", handleEvents(logger, st, deps.Broker))
		})
		r.Get("/runners/{runnerID}", handleRunnerStats(logger, st))
	})

	// Timing hardware: API key, rate limited per client IP.
	limiter := NewIPRateLimiter(deps.TimingRate, deps.TimingBurst)
	r.Route("/api/timing", func(r chi.Router) {
		r.Use(rateLimitMiddleware(limiter))
		r.Use(apiKeyMiddleware(logger, st))
		r.Get("/races", handleTimingRaces(logger, st))
		r.Post("/laps", handleRecordLaps(logger, tm))
		r.Post("/races/{raceID}/start", handleStartRace(logger, tm))
		r.Post("/races/{raceID}/stop", handleStopRace(logger, tm))
		r.Post("/tags", handleTimingAssignTag(logger, tm))
	})

	// Admin auth.
	r.Post("/api/admin/login", handleAdminLogin(logger, st))
	r.Post("/api/admin/logout", handleAdminLogout(st))

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(adminAuthMiddleware(st))
		r.Get("/me", handleAdminMe())

		r.Get("/races", handleAdminListRaces(logger, st))
		r.Post("/races", handleAdminCreateRace(logger, st))
		r.Route("/races/{raceID}", func(r chi.Router) {
			r.Get("/", handleAdminGetRace(logger, st))
			r.Put("/", handleAdminUpdateRace(logger, st))
			r.Post("/signup", handleAdminSetSignup(logger, tm))
			r.Post("/start", handleStartRace(logger, tm))
			r.Post("/stop", handleStopRace(logger, tm))
			r.Post("/numbers", handleAdminAssignNumbers(logger, tm))
			r.Post("/tags", handleAdminAssignTag(logger, tm))
			r.Post("/recompute", handleAdminRecompute(logger, tm))

			r.Get("/runners", handleAdminListRunners(logger, st))
			r.Post("/runners", handleAdminCreateRunner(logger, st))
			r.Put("/runners/{runnerID}", handleAdminUpdateRunner(logger, st))
			r.Get("/shirts", handleAdminShirtSizes(logger, st))

			r.Get("/emails", handleAdminListEmails(logger, st))
			r.Post("/emails", handleAdminQueueEmail(logger, st))
		})
		r.Post("/emails/reset-stuck", handleAdminResetStuckEmails(logger, st))

		r.Get("/apikeys", handleAdminListAPIKeys(logger, st))
		r.Post("/apikeys", handleAdminCreateAPIKey(logger, st))
		r.Delete("/apikeys/{keyID}", handleAdminDeactivateAPIKey(logger, st))
	})

	if deps.SPADir != "" {
		if info, err := os.Stat(deps.SPADir); err == nil && info.IsDir() {
			logger.Info("serving results board", "dir", deps.SPADir)
			r.NotFound(handleSPA(deps.SPADir))
		}
	}
}
