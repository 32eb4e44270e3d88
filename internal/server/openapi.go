package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/playperu/simple5k/internal/timing"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// operation describes one documented endpoint.
type operation struct {
	method, path string
	summary      string
	description  string
	request      any
	responses    []response
}

type response struct {
	status      int
	body        any
	contentType string
}

func respOK(body any) response      { return response{status: http.StatusOK, body: body} }
func respCreated(body any) response { return response{status: http.StatusCreated, body: body} }
func respError(status int) response { return response{status: status, body: ErrorResponse{}} }

var (
	respUnauthorized = respError(http.StatusUnauthorized)
	respBadRequest   = respError(http.StatusBadRequest)
	respNotFound     = respError(http.StatusNotFound)
	respConflict     = respError(http.StatusConflict)
)

func apiOperations() []operation {
	const (
		adminAuth  = " Requires admin_session cookie."
		timingAuth = " Requires an API key in X-API-Key or a Bearer token."
	)
	return []operation{
		{
			method: http.MethodGet, path: "/api/races",
			summary:     "List races",
			description: "Returns every race with its status.",
			responses:   []response{respOK([]RaceResponse{})},
		},
		{
			method: http.MethodGet, path: "/api/races/{raceID}",
			summary:   "Get race",
			responses: []response{respOK(RaceResponse{}), respNotFound},
		},
		{
			method: http.MethodPost, path: "/api/races/{raceID}/signup",
			summary:     "Sign up",
			description: "Registers a runner while signup is open.",
			request:     SignupRequest{},
			responses:   []response{respCreated(SignupResponse{}), respBadRequest, respNotFound, respConflict},
		},
		{
			method: http.MethodGet, path: "/api/races/{raceID}/results",
			summary:     "Race results",
			description: "Finishers by gender and place, then runners still on the course.",
			responses:   []response{respOK(ResultsResponse{}), respNotFound},
		},
		{
			method: http.MethodGet, path: "/api/races/{raceID}/results.xlsx",
			summary:     "Race results workbook",
			description: "Standings per gender and every counted lap as an Excel workbook.",
			responses: []response{
				{status: http.StatusOK, contentType: xlsxContentType},
				respNotFound,
			},
		},
		{
			method: http.MethodGet, path: "/api/races/{raceID}/events",
			summary:     "SSE live feed",
			description: "Server-Sent Events stream of laps, finishes and race status changes.",
			responses: []response{
				{status: http.StatusOK, contentType: "text/event-stream"},
				respNotFound,
			},
		},
		{
			method: http.MethodGet, path: "/api/runners/{runnerID}",
			summary:   "Runner stats",
			responses: []response{respOK(RunnerStatsResponse{}), respNotFound},
		},
		{
			method: http.MethodGet, path: "/ws/races/{raceID}",
			summary:     "WebSocket live feed",
			description: "Upgrades to a WebSocket carrying the same updates as the SSE feed.",
			responses: []response{
				{status: http.StatusSwitchingProtocols, contentType: "text/plain"},
				respNotFound,
			},
		},

		{
			method: http.MethodGet, path: "/api/timing/races",
			summary:     "Races open for timing",
			description: "Races a reader may submit laps for." + timingAuth,
			responses:   []response{respOK([]RaceResponse{}), respUnauthorized},
		},
		{
			method: http.MethodPost, path: "/api/timing/laps",
			summary: "Record laps",
			description: "Records a batch of tag reads, or a single read. Each event gets its own result; " +
				"resubmitted reads are reported as duplicates." + timingAuth,
			request: LapBatchRequest{},
			responses: []response{
				respOK(LapBatchResponse{}), respBadRequest, respUnauthorized,
				respError(http.StatusRequestEntityTooLarge), respError(http.StatusTooManyRequests),
			},
		},
		{
			method: http.MethodPost, path: "/api/timing/races/{raceID}/start",
			summary:     "Start race clock",
			description: "Starts the race at the given timestamp, or now." + timingAuth,
			request:     ClockRequest{},
			responses:   []response{respOK(RaceResponse{}), respBadRequest, respUnauthorized, respNotFound, respConflict},
		},
		{
			method: http.MethodPost, path: "/api/timing/races/{raceID}/stop",
			summary:     "Stop race clock",
			description: "Stops a started race." + timingAuth,
			request:     ClockRequest{},
			responses:   []response{respOK(RaceResponse{}), respBadRequest, respUnauthorized, respNotFound, respConflict},
		},
		{
			method: http.MethodPost, path: "/api/timing/tags",
			summary:     "Assign tag",
			description: "Binds a tag to the runner wearing a bib, registering the tag if new." + timingAuth,
			request:     TagRequest{},
			responses:   []response{respOK(TagResponse{}), respBadRequest, respUnauthorized, respNotFound, respConflict},
		},

		{
			method: http.MethodPost, path: "/api/admin/login",
			summary:     "Admin login",
			description: "Authenticate with email and password. Sets admin_session cookie.",
			request:     AdminLoginRequest{},
			responses:   []response{respOK(AdminMeResponse{}), respUnauthorized},
		},
		{
			method: http.MethodPost, path: "/api/admin/logout",
			summary:     "Admin logout",
			description: "Clears admin session and cookie.",
			responses:   []response{{status: http.StatusOK}},
		},
		{
			method: http.MethodGet, path: "/api/admin/me",
			summary:     "Current admin",
			description: "Returns the currently authenticated admin." + adminAuth,
			responses:   []response{respOK(AdminMeResponse{}), respUnauthorized},
		},
		{
			method: http.MethodGet, path: "/api/admin/races",
			summary:     "List races",
			description: "Returns every race including notes." + adminAuth,
			responses:   []response{respOK([]RaceResponse{}), respUnauthorized},
		},
		{
			method: http.MethodPost, path: "/api/admin/races",
			summary:     "Create race",
			description: "Creates a race in the draft status." + adminAuth,
			request:     RaceRequest{},
			responses:   []response{respCreated(RaceResponse{}), respBadRequest, respUnauthorized},
		},
		{
			method: http.MethodGet, path: "/api/admin/races/{raceID}",
			summary:     "Get race",
			description: "Returns a race with its runner count." + adminAuth,
			responses:   []response{respOK(RaceResponse{}), respUnauthorized, respNotFound},
		},
		{
			method: http.MethodPut, path: "/api/admin/races/{raceID}",
			summary:     "Update race",
			description: "Updates a race's details. Distance and laps are frozen once started." + adminAuth,
			request:     RaceRequest{},
			responses:   []response{respOK(RaceResponse{}), respBadRequest, respUnauthorized, respNotFound, respConflict},
		},
		{
			method: http.MethodPost, path: "/api/admin/races/{raceID}/signup",
			summary:     "Open or close signup",
			description: "Moves the race between draft and signup open." + adminAuth,
			request:     SignupToggleRequest{},
			responses:   []response{respOK(RaceResponse{}), respUnauthorized, respNotFound, respConflict},
		},
		{
			method: http.MethodPost, path: "/api/admin/races/{raceID}/start",
			summary:     "Start race clock",
			description: "Starts the race at the given timestamp, or now." + adminAuth,
			request:     ClockRequest{},
			responses:   []response{respOK(RaceResponse{}), respBadRequest, respUnauthorized, respNotFound, respConflict},
		},
		{
			method: http.MethodPost, path: "/api/admin/races/{raceID}/stop",
			summary:     "Stop race clock",
			description: "Stops a started race." + adminAuth,
			request:     ClockRequest{},
			responses:   []response{respOK(RaceResponse{}), respBadRequest, respUnauthorized, respNotFound, respConflict},
		},
		{
			method: http.MethodPost, path: "/api/admin/races/{raceID}/numbers",
			summary:     "Assign bib numbers",
			description: "Numbers every runner without a bib, continuing after the highest one in use." + adminAuth,
			responses:   []response{respOK([]timing.NumberAssignment{}), respUnauthorized, respNotFound},
		},
		{
			method: http.MethodPost, path: "/api/admin/races/{raceID}/tags",
			summary:     "Assign tag",
			description: "Binds an already registered tag to the runner wearing a bib." + adminAuth,
			request:     TagRequest{},
			responses:   []response{respOK(TagResponse{}), respBadRequest, respUnauthorized, respNotFound, respConflict},
		},
		{
			method: http.MethodPost, path: "/api/admin/races/{raceID}/recompute",
			summary:     "Recompute placements",
			description: "Rebuilds every finisher's time and place from the recorded laps." + adminAuth,
			responses:   []response{respOK(timing.Summary{}), respUnauthorized, respNotFound},
		},
		{
			method: http.MethodGet, path: "/api/admin/races/{raceID}/runners",
			summary:     "List runners",
			description: "Returns the race's runners." + adminAuth,
			responses:   []response{respOK([]RunnerResponse{}), respUnauthorized, respNotFound},
		},
		{
			method: http.MethodPost, path: "/api/admin/races/{raceID}/runners",
			summary:     "Add runner",
			description: "Registers a runner regardless of signup status." + adminAuth,
			request:     RunnerRequest{},
			responses:   []response{respCreated(RunnerResponse{}), respBadRequest, respUnauthorized, respNotFound, respConflict},
		},
		{
			method: http.MethodPut, path: "/api/admin/races/{raceID}/runners/{runnerID}",
			summary:     "Update runner",
			description: "Updates a runner's details, bib or payment." + adminAuth,
			request:     RunnerRequest{},
			responses:   []response{respOK(RunnerResponse{}), respBadRequest, respUnauthorized, respNotFound, respConflict},
		},
		{
			method: http.MethodGet, path: "/api/admin/races/{raceID}/shirts",
			summary:     "Shirt sizes",
			description: "Counts the race's runners per shirt size, for packet pickup." + adminAuth,
			responses:   []response{respOK(ShirtSummaryResponse{}), respUnauthorized, respNotFound},
		},
		{
			method: http.MethodGet, path: "/api/admin/races/{raceID}/emails",
			summary:     "List email jobs",
			description: "Returns the race's email jobs, newest first." + adminAuth,
			responses:   []response{respOK([]EmailJobResponse{}), respUnauthorized, respNotFound},
		},
		{
			method: http.MethodPost, path: "/api/admin/races/{raceID}/emails",
			summary: "Queue email",
			description: "Queues a message to every runner with an email address, or only unpaid " +
				"runners with a payment link when unpaidReminder is set. The mail worker sends it." + adminAuth,
			request:   EmailJobRequest{},
			responses: []response{{status: http.StatusAccepted, body: EmailJobResponse{}}, respBadRequest, respUnauthorized, respNotFound},
		},
		{
			method: http.MethodPost, path: "/api/admin/emails/reset-stuck",
			summary:     "Reset stuck email jobs",
			description: "Marks every job still sending as failed so it can be queued again." + adminAuth,
			responses:   []response{respOK(ResetStuckResponse{}), respUnauthorized},
		},
		{
			method: http.MethodGet, path: "/api/admin/apikeys",
			summary:     "List API keys",
			description: "Returns timing client keys, masked." + adminAuth,
			responses:   []response{respOK([]APIKeyResponse{}), respUnauthorized},
		},
		{
			method: http.MethodPost, path: "/api/admin/apikeys",
			summary:     "Create API key",
			description: "Issues a timing client key. The key is only shown in this response." + adminAuth,
			request:     APIKeyRequest{},
			responses:   []response{respCreated(APIKeyResponse{}), respBadRequest, respUnauthorized},
		},
		{
			method: http.MethodDelete, path: "/api/admin/apikeys/{keyID}",
			summary:     "Deactivate API key",
			description: "Stops a key from authenticating." + adminAuth,
			responses:   []response{{status: http.StatusNoContent}, respUnauthorized, respNotFound},
		},
	}
}

// healthResponse documents the /healthz body: one entry per dependency.
type healthResponse map[string]struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latencyMs"`
}

// newOpenAPISpec documents ops. Any operation the reflector refuses is an
// error, so a broken entry never silently drops out of the docs.
func newOpenAPISpec(ops []operation) (*openapi3.Spec, error) {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "Simple5K API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Race registration, lap timing and live results for Simple5K.")

	getHealthz, err := r.NewOperationContext(http.MethodGet, "/healthz")
	if err != nil {
		return nil, fmt.Errorf("documenting GET /healthz: %w", err)
	}
	getHealthz.SetSummary("Health check")
	getHealthz.SetDescription("Returns the health status of backend dependencies.")
	getHealthz.AddRespStructure(healthResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getHealthz.AddRespStructure(healthResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	if err := r.AddOperation(getHealthz); err != nil {
		return nil, fmt.Errorf("documenting GET /healthz: %w", err)
	}

	for _, op := range ops {
		oc, err := r.NewOperationContext(op.method, op.path)
		if err != nil {
			return nil, fmt.Errorf("documenting %s %s: %w", op.method, op.path, err)
		}
		oc.SetSummary(op.summary)
		if op.description != "" {
			oc.SetDescription(op.description)
		}
		if op.request != nil {
			oc.AddReqStructure(op.request)
		}
		for _, resp := range op.responses {
			opts := []openapi.ContentOption{openapi.WithHTTPStatus(resp.status)}
			if resp.contentType != "" {
				opts = append(opts, openapi.WithContentType(resp.contentType))
			}
			oc.AddRespStructure(resp.body, opts...)
		}
		if err := r.AddOperation(oc); err != nil {
			return nil, fmt.Errorf("documenting %s %s: %w", op.method, op.path, err)
		}
	}

	return r.Spec, nil
}

// handleOpenAPI serves the API document. The document is built once when
// the router is assembled and a broken operation panics there.
func handleOpenAPI() http.HandlerFunc {
	spec, err := newOpenAPISpec(apiOperations())
	if err != nil {
		panic(err)
	}
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		panic(fmt.Errorf("encoding openapi document: %w", err))
	}

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
