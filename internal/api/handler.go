package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/AJM432/racing/internal/racing"
	"github.com/AJM432/racing/pkg/apperr"
	"github.com/AJM432/racing/pkg/imagestore"
	"github.com/AJM432/racing/pkg/logger"
	"github.com/AJM432/racing/pkg/model"
	"github.com/AJM432/racing/pkg/racetrack"
)

// Racing is the service behind the HTTP API. Satisfied by *racing.Service.
type Racing interface {
	CreateRacetrack(ctx context.Context, p racetrack.CreateParams) (model.Racetrack, error)
	UpdateRacetrack(ctx context.Context, id string, p racetrack.UpdateParams) (model.Racetrack, error)
	Racetrack(ctx context.Context, id string) (racing.Detail, error)
	Racetracks(ctx context.Context) []model.Racetrack
	RacetracksByUsername(ctx context.Context, username string) ([]model.Racetrack, int)
	Image(ctx context.Context, id string) ([]byte, imagestore.Format, error)
	SubmitTime(ctx context.Context, racetrackID, username string, value interface{}) (model.TimeEntry, bool, error)
	Leaderboard(ctx context.Context, racetrackID string) (model.Leaderboard, error)
}

// Handler serves the racetrack API
type Handler struct {
	svc    Racing
	logger *logger.Logger
}

func NewHandler(svc Racing, l *logger.Logger) *Handler {
	return &Handler{svc: svc, logger: l}
}

// Router builds the chi router. limiter may be nil.
func (h *Handler) Router(limiter *RateLimiter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/", h.welcome)

	r.Route("/api", func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Middleware(h))
		}

		r.Route("/racetracks", func(r chi.Router) {
			r.Post("/", h.createRacetrack)
			r.Get("/", h.listRacetracks)
			r.Get("/{id}", h.getRacetrack)
			r.Put("/{id}", h.updateRacetrack)
			r.Get("/{id}/image", h.getImage)
			r.Post("/{id}/times", h.submitTime)
			r.Get("/{id}/leaderboard", h.getLeaderboard)
		})
		r.Get("/users/{username}/racetracks", h.listByUsername)
	})

	return r
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", err)
	}
}

func (h *Handler) welcome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("Welcome to the Racetrack API!"))
}

type racetrackResponse struct {
	Message   string       `json:"message,omitempty"`
	Racetrack racing.Detail `json:"racetrack"`
}

type listResponse struct {
	Racetracks []model.Racetrack `json:"racetracks"`
	Count      int               `json:"count"`
}

type timeResponse struct {
	Entry       model.TimeEntry `json:"entry"`
	IsNewRecord bool            `json:"is_new_record"`
}

func (h *Handler) createRacetrack(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeBody(r, w, &req); err != nil {
		h.badRequest(w, err.Error())
		return
	}
	params, err := req.params()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rt, err := h.svc.CreateRacetrack(r.Context(), params)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, racetrackResponse{
		Message:   "Racetrack saved successfully",
		Racetrack: racing.Detail{Racetrack: rt, Image: req.Image},
	})
}

func (h *Handler) listRacetracks(w http.ResponseWriter, r *http.Request) {
	list := h.svc.Racetracks(r.Context())
	h.writeJSON(w, http.StatusOK, listResponse{Racetracks: list, Count: len(list)})
}

func (h *Handler) getRacetrack(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.Racetrack(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, racetrackResponse{Racetrack: detail})
}

func (h *Handler) updateRacetrack(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := decodeBody(r, w, &req); err != nil {
		h.badRequest(w, err.Error())
		return
	}
	params, err := req.params()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rt, err := h.svc.UpdateRacetrack(r.Context(), chi.URLParam(r, "id"), params)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, racetrackResponse{
		Message:   "Racetrack updated successfully",
		Racetrack: racing.Detail{Racetrack: rt, Image: req.Image},
	})
}

func (h *Handler) getImage(w http.ResponseWriter, r *http.Request) {
	data, format, err := h.svc.Image(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", format.MIME())
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) submitTime(w http.ResponseWriter, r *http.Request) {
	var req timeRequest
	if err := decodeBody(r, w, &req); err != nil {
		h.badRequest(w, err.Error())
		return
	}
	value, _, err := rawValue(req.Time)
	if err != nil {
		h.writeError(w, r, apperr.InvalidTime("time is not a valid value: "+err.Error()))
		return
	}
	username := req.Username
	if username == "" {
		username = defaultUsername
	}

	entry, isNewRecord, err := h.svc.SubmitTime(r.Context(), chi.URLParam(r, "id"), username, value)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, timeResponse{Entry: entry, IsNewRecord: isNewRecord})
}

func (h *Handler) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	lb, err := h.svc.Leaderboard(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, lb)
}

func (h *Handler) listByUsername(w http.ResponseWriter, r *http.Request) {
	list, count := h.svc.RacetracksByUsername(r.Context(), chi.URLParam(r, "username"))
	h.writeJSON(w, http.StatusOK, listResponse{Racetracks: list, Count: count})
}
