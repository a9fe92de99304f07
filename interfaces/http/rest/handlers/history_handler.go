package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"brain2-connections/application/services"
	"brain2-connections/domain/history"
	"brain2-connections/pkg/common"
	"brain2-connections/pkg/errors"
)

// HistoryListResponse is one page of history together with aggregate stats
type HistoryListResponse struct {
	Entries []*history.Entry `json:"entries"`
	Stats   *history.Stats   `json:"stats"`
	HasMore bool             `json:"hasMore"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// LineageResponse is a provenance chain, newest first
type LineageResponse struct {
	Entries []*history.Entry `json:"entries"`
}

// HistoryHandler serves the ledger read endpoints
type HistoryHandler struct {
	service *services.HistoryService
	errs    *errors.ErrorHandler
	logger  *zap.Logger
}

// NewHistoryHandler creates a new history handler
func NewHistoryHandler(service *services.HistoryService, errs *errors.ErrorHandler, logger *zap.Logger) *HistoryHandler {
	return &HistoryHandler{service: service, errs: errs, logger: logger}
}

// List handles GET /connections/history.
// Filters, in order of precedence: nodeA+nodeB, actor, nodes. Without a
// filter the caller's own entries are listed.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := pageFrom(r)
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}

	q := r.URL.Query()
	nodeA, nodeB := q.Get("nodeA"), q.Get("nodeB")
	actorID := strings.TrimSpace(q.Get("actor"))
	nodes := q.Get("nodes")

	var (
		fetch      func(ctx context.Context) (*services.HistoryPage, error)
		statsActor string
	)
	switch {
	case nodeA != "" || nodeB != "":
		fetch = func(ctx context.Context) (*services.HistoryPage, error) {
			return h.service.ByPair(ctx, nodeA, nodeB, page)
		}
	case actorID != "":
		statsActor = actorID
	case nodes != "":
		fetch = func(ctx context.Context) (*services.HistoryPage, error) {
			return h.service.ByNodes(ctx, strings.Split(nodes, ","), page)
		}
	default:
		caller, err := actorFrom(r)
		if err != nil {
			h.errs.Handle(w, r, err)
			return
		}
		actorID, statsActor = caller.ID, caller.ID
	}
	if fetch == nil {
		fetch = func(ctx context.Context) (*services.HistoryPage, error) {
			return h.service.ByActor(ctx, actorID, page)
		}
	}

	var (
		result *services.HistoryPage
		stats  *history.Stats
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		result, err = fetch(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		stats, err = h.service.Stats(ctx, statsActor)
		return err
	})
	if err := g.Wait(); err != nil {
		h.errs.Handle(w, r, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, HistoryListResponse{
		Entries: result.Entries,
		Stats:   stats,
		HasMore: result.HasMore,
		Limit:   result.Limit,
		Offset:  result.Offset,
	})
}

// Get handles GET /connections/history/{historyID}
func (h *HistoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.Get(r.Context(), chi.URLParam(r, "historyID"))
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, entry)
}

// Lineage handles GET /connections/history/{historyID}/lineage
func (h *HistoryHandler) Lineage(w http.ResponseWriter, r *http.Request) {
	chain, err := h.service.Lineage(r.Context(), chi.URLParam(r, "historyID"))
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, LineageResponse{Entries: chain})
}
