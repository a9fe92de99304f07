package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"brain2-connections/application/services"
	"brain2-connections/pkg/common"
	"brain2-connections/pkg/errors"
)

// RollbackRequest is the body of POST /connections/history/rollback
type RollbackRequest struct {
	HistoryID string `json:"historyId" validate:"required"`
	Reason    string `json:"reason,omitempty" validate:"max=1024"`
}

// RollbackHandler serves the rollback endpoint
type RollbackHandler struct {
	engine *services.RollbackEngine
	errs   *errors.ErrorHandler
	logger *zap.Logger
}

// NewRollbackHandler creates a new rollback handler
func NewRollbackHandler(engine *services.RollbackEngine, errs *errors.ErrorHandler, logger *zap.Logger) *RollbackHandler {
	return &RollbackHandler{engine: engine, errs: errs, logger: logger}
}

// Rollback handles POST /connections/history/rollback. Engine failures are
// answered with the structured result and the status of the error type.
func (h *RollbackHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}

	var req RollbackRequest
	if err := decodeRequest(w, r, &req); err != nil {
		h.errs.Handle(w, r, err)
		return
	}

	result, err := h.engine.Rollback(r.Context(), services.RollbackCommand{
		HistoryID: req.HistoryID,
		Actor:     actor,
		Reason:    req.Reason,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if appErr := errors.GetAppError(err); appErr != nil && appErr.HTTPStatus != 0 {
			status = appErr.HTTPStatus
		}
		common.RespondJSON(w, status, result)
		return
	}
	common.RespondJSON(w, http.StatusOK, result)
}
