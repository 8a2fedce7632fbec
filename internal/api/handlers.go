package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/codehuddle/backend/internal/auth"
	"github.com/codehuddle/backend/internal/db"
	"github.com/codehuddle/backend/internal/exec"
	"github.com/codehuddle/backend/internal/ws"
)

// Runner is the slice of the execution client the API needs.
type Runner interface {
	Run(ctx context.Context, req exec.Request) (*exec.Result, error)
}

type API struct {
	hub      *ws.Hub
	database *db.Database
	runner   Runner
	verifier *auth.Verifier
}

func New(hub *ws.Hub, database *db.Database, runner Runner, verifier *auth.Verifier) *API {
	return &API{
		hub:      hub,
		database: database,
		runner:   runner,
		verifier: verifier,
	}
}

// Routes builds the HTTP surface: read-only room and annotation
// queries, and token-gated mutations.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", a.HealthHandler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", a.StatsHandler)
		r.Get("/rooms", a.ListRoomsHandler)
		r.Get("/rooms/{id}", a.GetRoomHandler)
		r.Get("/rooms/{id}/remarks", a.ListRemarksHandler)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(a.verifier))
			r.Post("/remarks/{id}/resolve", a.ResolveRemarkHandler)
			r.Post("/execute", a.ExecuteHandler)
		})
	})

	return r
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"active_rooms":   a.hub.RoomCount(),
		"active_clients": a.hub.ClientCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	dbStats, err := a.database.GetStats(r.Context())
	if err == nil {
		stats["total_rooms"] = dbStats["room_count"]
		stats["total_remarks"] = dbStats["remark_count"]
	}

	jsonResponse(w, http.StatusOK, stats)
}

type RoomResponse struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Language    string    `json:"language"`
	Users       []string  `json:"users"`
	ActiveUsers int       `json:"active_users"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	rooms, err := a.database.ListRooms(r.Context(), limit, offset)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list rooms")
		return
	}

	active := a.hub.ActiveRooms()
	response := make([]RoomResponse, len(rooms))
	for i, room := range rooms {
		response[i] = RoomResponse{
			ID:          room.ID,
			Language:    room.Language,
			ActiveUsers: active[room.ID],
			CreatedAt:   room.CreatedAt,
			UpdatedAt:   room.UpdatedAt,
		}
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"rooms":  response,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	room, err := a.database.GetRoom(r.Context(), roomID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get room")
		return
	}
	if room == nil {
		errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}

	jsonResponse(w, http.StatusOK, RoomResponse{
		ID:          room.ID,
		Code:        room.Code,
		Language:    room.Language,
		Users:       room.Users,
		ActiveUsers: a.hub.ActiveRooms()[room.ID],
		CreatedAt:   room.CreatedAt,
		UpdatedAt:   room.UpdatedAt,
	})
}

// ListRemarksHandler serves a room's annotation history in creation
// order. The write path lives on the session connection; this is the
// read side.
func (a *API) ListRemarksHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	room, err := a.database.GetRoom(r.Context(), roomID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get room")
		return
	}
	if room == nil {
		errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}

	remarks, err := a.database.ListRemarks(r.Context(), roomID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list remarks")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]any{"remarks": remarks})
}

// ResolveRemarkHandler flips a remark's resolved flag. Only the
// annotation-authoring role may resolve.
func (a *API) ResolveRemarkHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok || !identity.Role.CanAnnotate() {
		errorResponse(w, http.StatusForbidden, "Forbidden")
		return
	}

	var body struct {
		Resolved *bool `json:"resolved"`
	}
	resolved := true
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Resolved != nil {
		resolved = *body.Resolved
	}

	found, err := a.database.ResolveRemark(r.Context(), chi.URLParam(r, "id"), resolved)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to resolve remark")
		return
	}
	if !found {
		errorResponse(w, http.StatusNotFound, "Remark not found")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]any{"resolved": resolved})
}

type ExecuteRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Stdin    string `json:"stdin"`
}

// ExecuteHandler forwards code to the sandbox execution service and
// waits for the result. Service failures come back to this caller only,
// with the service's message.
func (a *API) ExecuteHandler(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Code == "" {
		errorResponse(w, http.StatusBadRequest, "Code is required")
		return
	}

	result, err := a.runner.Run(r.Context(), exec.Request{
		Language: req.Language,
		Code:     req.Code,
		Stdin:    req.Stdin,
	})
	if err != nil {
		if errors.Is(err, exec.ErrUnknownLanguage) {
			errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		errorResponse(w, http.StatusBadGateway, err.Error())
		return
	}

	jsonResponse(w, http.StatusOK, result)
}
