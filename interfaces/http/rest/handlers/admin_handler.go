package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"brain2-connections/application/services"
	"brain2-connections/pkg/common"
	"brain2-connections/pkg/errors"
)

// CleanupRequest is the body of POST /admin/history/cleanup. A missing
// olderThanDays uses the configured retention age.
type CleanupRequest struct {
	OlderThanDays *int `json:"olderThanDays,omitempty" validate:"omitempty,gte=0"`
}

// CleanupResponse reports a finished purge
type CleanupResponse struct {
	Deleted       int `json:"deleted"`
	OlderThanDays int `json:"olderThanDays"`
}

// AdminHandler serves operator endpoints
type AdminHandler struct {
	janitor *services.RetentionJanitor
	errs    *errors.ErrorHandler
	logger  *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(janitor *services.RetentionJanitor, errs *errors.ErrorHandler, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{janitor: janitor, errs: errs, logger: logger}
}

// Cleanup handles POST /admin/history/cleanup
func (h *AdminHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	var req CleanupRequest
	if err := decodeRequest(w, r, &req); err != nil {
		h.errs.Handle(w, r, err)
		return
	}

	days := h.janitor.DefaultDays()
	if req.OlderThanDays != nil {
		days = *req.OlderThanDays
	}

	actor, _ := actorFrom(r)
	h.logger.Info("History cleanup requested", zap.String("actorID", actor.ID), zap.Int("olderThanDays", days))

	deleted, err := h.janitor.Cleanup(r.Context(), days)
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, CleanupResponse{Deleted: deleted, OlderThanDays: days})
}
