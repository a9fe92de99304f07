package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"brain2-connections/application/services"
	"brain2-connections/domain/core/entities"
	"brain2-connections/pkg/common"
	"brain2-connections/pkg/errors"
)

// CreateConnectionRequest is the body of POST /connections
type CreateConnectionRequest struct {
	NodeA    string                 `json:"nodeA" validate:"required,max=256"`
	NodeB    string                 `json:"nodeB" validate:"required,max=256"`
	Type     string                 `json:"type,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Reason   string                 `json:"reason,omitempty" validate:"max=1024"`
}

// UpdateConnectionRequest is the body of PUT /connections/{connectionID}
type UpdateConnectionRequest struct {
	Type            *string                `json:"type,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	ReplaceMetadata bool                   `json:"replaceMetadata,omitempty"`
	Reason          string                 `json:"reason,omitempty" validate:"max=1024"`
}

// ConnectionHandler serves the connection mutation endpoints
type ConnectionHandler struct {
	service *services.ConnectionService
	errs    *errors.ErrorHandler
	logger  *zap.Logger
}

// NewConnectionHandler creates a new connection handler
func NewConnectionHandler(service *services.ConnectionService, errs *errors.ErrorHandler, logger *zap.Logger) *ConnectionHandler {
	return &ConnectionHandler{service: service, errs: errs, logger: logger}
}

// FindByPair handles GET /connections?nodeA=&nodeB=
func (h *ConnectionHandler) FindByPair(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	conn, err := h.service.FindByPair(r.Context(), q.Get("nodeA"), q.Get("nodeB"))
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, conn)
}

// Create handles POST /connections
func (h *ConnectionHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}

	var req CreateConnectionRequest
	if err := decodeRequest(w, r, &req); err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	connType, err := entities.ParseConnectionType(req.Type)
	if err != nil {
		h.errs.Handle(w, r, errors.NewValidationError(err.Error()))
		return
	}

	result, err := h.service.Create(r.Context(), services.CreateConnectionCommand{
		NodeA:    req.NodeA,
		NodeB:    req.NodeB,
		Type:     connType,
		Metadata: req.Metadata,
		Actor:    actor,
		Reason:   req.Reason,
	})
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusCreated, result)
}

// Update handles PUT /connections/{connectionID}
func (h *ConnectionHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}

	var req UpdateConnectionRequest
	if err := decodeRequest(w, r, &req); err != nil {
		h.errs.Handle(w, r, err)
		return
	}

	cmd := services.UpdateConnectionCommand{
		ConnectionID:    chi.URLParam(r, "connectionID"),
		Metadata:        req.Metadata,
		ReplaceMetadata: req.ReplaceMetadata,
		Actor:           actor,
		Reason:          req.Reason,
	}
	if req.Type != nil {
		connType, err := entities.ParseConnectionType(*req.Type)
		if err != nil {
			h.errs.Handle(w, r, errors.NewValidationError(err.Error()))
			return
		}
		cmd.Type = &connType
	}

	result, err := h.service.Update(r.Context(), cmd)
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, result)
}

// Delete handles DELETE /connections/{connectionID}?reason=
func (h *ConnectionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}

	_, err = h.service.Delete(r.Context(), services.DeleteConnectionCommand{
		ConnectionID: chi.URLParam(r, "connectionID"),
		Actor:        actor,
		Reason:       r.URL.Query().Get("reason"),
	})
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	common.RespondNoContent(w)
}
