package dispatch

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	coredispatch "github.com/kilianp07/repairdispatch/core/dispatch"
	"github.com/kilianp07/repairdispatch/core/model"
)

// Dispatcher is the part of the dispatch manager driven over HTTP.
type Dispatcher interface {
	StartOrderAssignment(ctx context.Context, orderID string) error
	CancelOrderAssignments(ctx context.Context, orderID string) error
}

type ordersHandler struct {
	d Dispatcher
}

func (h ordersHandler) assign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.d.StartOrderAssignment(r.Context(), id); err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"order_id": id, "status": "escalating"})
}

func (h ordersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.d.CancelOrderAssignments(r.Context(), id); err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": id, "status": "cancelled"})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, coredispatch.ErrOrderNotAssignable), errors.Is(err, coredispatch.ErrEscalationActive):
		return http.StatusConflict
	case errors.Is(err, coredispatch.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
