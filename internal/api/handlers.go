package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/Wanchah/EcoEdu/internal/auth"
	"github.com/Wanchah/EcoEdu/internal/logger"
	"github.com/Wanchah/EcoEdu/internal/models"
	"github.com/Wanchah/EcoEdu/internal/services"
)

var validate = validator.New()

type Handler struct {
	ledger      *services.LedgerService
	tasks       *services.DailyTaskService
	challenges  *services.ChallengeService
	coordinator *services.ActionCoordinator
	badges      *services.BadgeService
	now         func() time.Time
}

func NewHandler(ledger *services.LedgerService, tasks *services.DailyTaskService, challenges *services.ChallengeService, coordinator *services.ActionCoordinator, badges *services.BadgeService) *Handler {
	return &Handler{
		ledger:      ledger,
		tasks:       tasks,
		challenges:  challenges,
		coordinator: coordinator,
		badges:      badges,
		now:         time.Now,
	}
}

// RegisterRoutes mounts the player-facing API. Leaderboard, community impact
// and the challenge list are public; everything else needs a session.
func RegisterRoutes(r *mux.Router, h *Handler, sessions *auth.Sessions) {
	public := r.PathPrefix("/").Subrouter()
	public.HandleFunc("/stats/leaderboard", h.Leaderboard).Methods("GET")
	public.HandleFunc("/stats/impact", h.CommunityImpact).Methods("GET")
	public.HandleFunc("/challenges", h.ListChallenges).Methods("GET")
	public.HandleFunc("/challenges/{id}", h.GetChallenge).Methods("GET")

	private := r.PathPrefix("/").Subrouter()
	private.Use(sessions.Middleware)
	private.HandleFunc("/stats/me", h.MyStats).Methods("GET")
	private.HandleFunc("/stats/me/badges", h.MyBadges).Methods("GET")
	private.HandleFunc("/challenges/{id}/join", h.JoinChallenge).Methods("POST")
	private.HandleFunc("/daily-tasks", h.TodayTasks).Methods("GET")
	private.HandleFunc("/daily-tasks/{date}", h.TasksForDate).Methods("GET")
	private.HandleFunc("/daily-tasks/{taskId}/complete", h.CompleteTask).Methods("POST")
}

// RegisterHookRoutes mounts the ingress used by content services after they
// commit a user action.
func RegisterHookRoutes(r *mux.Router, h *Handler, token string) {
	r.Use(auth.HookTokenMiddleware(token))
	r.HandleFunc("/hooks/report-submitted", h.actionHook(h.coordinator.OnReportSubmitted)).Methods("POST")
	r.HandleFunc("/hooks/report-resolved", h.actionHook(h.coordinator.OnReportResolved)).Methods("POST")
	r.HandleFunc("/hooks/comment-posted", h.actionHook(h.coordinator.OnCommentPosted)).Methods("POST")
	r.HandleFunc("/hooks/login", h.actionHook(h.coordinator.OnDailyLogin)).Methods("POST")
	r.HandleFunc("/hooks/lesson-progress", h.LessonProgressHook).Methods("POST")
	r.HandleFunc("/hooks/impact", h.ImpactHook).Methods("POST")
	r.HandleFunc("/challenges", h.CreateChallenge).Methods("POST")
}

// TimeoutMiddleware bounds every request's context.
func TimeoutMiddleware(d time.Duration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GET /stats/me
func (h *Handler) MyStats(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	entry, err := h.ledger.GetLedger(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// GET /stats/me/badges
func (h *Handler) MyBadges(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	badges, err := h.badges.GetUserBadges(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"badges": badges})
}

// GET /stats/leaderboard?limit=
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	board, err := h.ledger.Leaderboard(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"leaderboard": board})
}

// GET /stats/impact
func (h *Handler) CommunityImpact(w http.ResponseWriter, r *http.Request) {
	impact, err := h.ledger.CommunityImpact(r.Context(), h.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, impact)
}

// GET /challenges
func (h *Handler) ListChallenges(w http.ResponseWriter, r *http.Request) {
	challenges, err := h.challenges.ListActive(r.Context(), h.now())
	if err != nil {
		writeError(w, err)
		return
	}
	if challenges == nil {
		challenges = []models.Challenge{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"challenges": challenges})
}

// GET /challenges/{id}
func (h *Handler) GetChallenge(w http.ResponseWriter, r *http.Request) {
	challenge, err := h.challenges.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, challenge)
}

// POST /challenges/{id}/join
func (h *Handler) JoinChallenge(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	challenge, err := h.coordinator.JoinChallenge(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, challenge)
}

// GET /daily-tasks
func (h *Handler) TodayTasks(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	set, err := h.tasks.GetOrCreateToday(r.Context(), userID, h.tasks.Today())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

// GET /daily-tasks/{date}
func (h *Handler) TasksForDate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	set, err := h.tasks.GetTasks(r.Context(), userID, mux.Vars(r)["date"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

// POST /daily-tasks/{taskId}/complete
func (h *Handler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	res, err := h.coordinator.CompleteTask(r.Context(), userID, mux.Vars(r)["taskId"])
	if err != nil {
		writeError(w, err)
		return
	}
	completed := res.Completed
	if completed == nil {
		completed = []models.TaskInstance{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks":     res.Set,
		"completed": completed,
	})
}

func (h *Handler) actionHook(fn func(ctx context.Context, userID string) models.Outcome) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.ActionHookRequest
		if !decode(w, r, &req) {
			return
		}
		writeJSON(w, http.StatusOK, fn(r.Context(), req.UserID))
	}
}

// POST /hooks/lesson-progress
func (h *Handler) LessonProgressHook(w http.ResponseWriter, r *http.Request) {
	var req models.LessonProgressHookRequest
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, h.coordinator.OnLessonProgressSaved(r.Context(), req.UserID, req.CompletedLessonIDs))
}

// POST /hooks/impact
func (h *Handler) ImpactHook(w http.ResponseWriter, r *http.Request) {
	var req models.RecordImpactRequest
	if !decode(w, r, &req) {
		return
	}
	entry, err := h.ledger.RecordImpact(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// POST /challenges
func (h *Handler) CreateChallenge(w http.ResponseWriter, r *http.Request) {
	var req models.CreateChallengeRequest
	if !decode(w, r, &req) {
		return
	}
	challenge, err := h.challenges.Create(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, challenge)
}

type errorBody struct {
	Error string `json:"error"`
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, services.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	default:
		logger.New().WithError(err).Error("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.New().WithError(err).Warn("Failed to encode response")
	}
}
