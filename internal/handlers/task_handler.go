package handlers

import (
	"context"
	"net/http"

	"redmansion/internal/apperr"
	"redmansion/internal/logger"
	"redmansion/internal/models"
	"redmansion/internal/service"
)

// ProgressTracker is the part of the progress service the task routes use
type ProgressTracker interface {
	GenerateDailyTasks(ctx context.Context, userID, date string) (*models.DailyTaskProgress, error)
	GetProgress(ctx context.Context, userID, date string) (*models.DailyTaskProgress, error)
	StartTask(ctx context.Context, userID, taskID string) (*models.DailyTaskProgress, error)
	SkipTask(ctx context.Context, userID, taskID string) (*models.DailyTaskProgress, error)
	SubmitCompletion(ctx context.Context, userID, taskID, response string) (*service.CompletionResult, error)
	ResetProgress(ctx context.Context, userID string) (int64, error)
}

// TaskHandler serves the daily task routes
type TaskHandler struct {
	progress ProgressTracker
	logger   *logger.Logger
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(progress ProgressTracker, log *logger.Logger) *TaskHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &TaskHandler{progress: progress, logger: log.With("handler", "TaskHandler")}
}

// GenerateDaily assigns (or returns) the day's tasks
func (h *TaskHandler) GenerateDaily(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err.Error(), apperr.InvalidArgument.String(), err)
		return
	}

	progress, err := h.progress.GenerateDailyTasks(r.Context(), GetUserIDFromContext(r.Context()), req.Date)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, progress)
}

// GetDaily returns the progress row for ?date= (default today)
func (h *TaskHandler) GetDaily(w http.ResponseWriter, r *http.Request) {
	progress, err := h.progress.GetProgress(r.Context(), GetUserIDFromContext(r.Context()), r.URL.Query().Get("date"))
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	if progress == nil {
		respondWithError(w, nil, http.StatusNotFound, "No tasks generated for this date", apperr.NotFound.String(), nil)
		return
	}
	respondJSON(w, http.StatusOK, progress)
}

// StartTask marks a task as in progress
func (h *TaskHandler) StartTask(w http.ResponseWriter, r *http.Request) {
	progress, err := h.progress.StartTask(r.Context(), GetUserIDFromContext(r.Context()), r.PathValue("taskId"))
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, progress)
}

// SkipTask skips a task without reward
func (h *TaskHandler) SkipTask(w http.ResponseWriter, r *http.Request) {
	progress, err := h.progress.SkipTask(r.Context(), GetUserIDFromContext(r.Context()), r.PathValue("taskId"))
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, progress)
}

// SubmitTask grades an answer and grants the reward
func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err.Error(), apperr.InvalidArgument.String(), err)
		return
	}

	result, err := h.progress.SubmitCompletion(r.Context(), GetUserIDFromContext(r.Context()), r.PathValue("taskId"), req.Response)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ResetDaily clears a demo account's progress
func (h *TaskHandler) ResetDaily(w http.ResponseWriter, r *http.Request) {
	n, err := h.progress.ResetProgress(r.Context(), GetUserIDFromContext(r.Context()))
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
