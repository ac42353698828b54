package handlers

import (
	"context"
	"net/http"
	"strconv"

	"redmansion/internal/apperr"
	"redmansion/internal/logger"
	"redmansion/internal/models"
	"redmansion/internal/service"
)

// Ledger is the read side of the ledger service the HTTP API uses
type Ledger interface {
	ListTransactions(ctx context.Context, userID string, limit int) ([]models.XPTransaction, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetLevelInfo(ctx context.Context, userID string) (*models.LevelInfo, error)
}

// ActivityRecorder rewards reading activity reported by a reader
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, userID string, source models.XPSource, sourceID string) (*service.AwardResult, error)
}

// LedgerHandler serves the ledger and profile routes
type LedgerHandler struct {
	ledger     Ledger
	activities ActivityRecorder
	logger     *logger.Logger
}

// NewLedgerHandler creates a new ledger handler
func NewLedgerHandler(ledger Ledger, activities ActivityRecorder, log *logger.Logger) *LedgerHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &LedgerHandler{ledger: ledger, activities: activities, logger: log.With("handler", "LedgerHandler")}
}

// RecordActivity rewards a finished chapter or a chapter note
func (h *LedgerHandler) RecordActivity(w http.ResponseWriter, r *http.Request) {
	var req ActivityRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err.Error(), apperr.InvalidArgument.String(), err)
		return
	}

	result, err := h.activities.RecordActivity(r.Context(), GetUserIDFromContext(r.Context()), models.XPSource(req.Source), req.SourceID)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Transactions lists the newest ledger entries (?limit=, default 50)
func (h *LedgerHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	limit := defaultTransactionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondWithError(w, nil, http.StatusBadRequest, "limit must be a positive integer", apperr.InvalidArgument.String(), nil)
			return
		}
		limit = min(n, maxTransactionLimit)
	}

	txns, err := h.ledger.ListTransactions(r.Context(), GetUserIDFromContext(r.Context()), limit)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	if txns == nil {
		txns = []models.XPTransaction{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"transactions": txns})
}

type profileResponse struct {
	User  *models.User      `json:"user"`
	Level *models.LevelInfo `json:"level"`
}

// Me returns the authenticated user's profile and level summary
func (h *LedgerHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := GetUserIDFromContext(r.Context())
	user, err := h.ledger.GetUser(r.Context(), userID)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	level, err := h.ledger.GetLevelInfo(r.Context(), userID)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, profileResponse{User: user, Level: level})
}
