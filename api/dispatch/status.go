package dispatch

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kilianp07/repairdispatch/core/model"
)

// OrderReader gives read access to orders and their offers.
type OrderReader interface {
	GetOrderByID(ctx context.Context, id string) (model.Order, error)
	ListOrders(ctx context.Context) ([]model.Order, error)
	ListAssignmentsForOrder(ctx context.Context, orderID string) ([]model.Assignment, error)
}

// OrderStatus is the view of one order with its offers, oldest first.
type OrderStatus struct {
	model.Order
	Assignments []model.Assignment `json:"assignments"`
	// Pending is the outstanding offer, if any.
	Pending *model.Assignment `json:"pending,omitempty"`
}

type statusHandler struct {
	orders OrderReader
}

// list serves GET /orders, optionally filtered by ?status=.
func (h statusHandler) list(w http.ResponseWriter, r *http.Request) {
	var want model.OrderStatus
	if s := r.URL.Query().Get("status"); s != "" {
		want = model.OrderStatus(strings.ToUpper(s))
		if !want.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
	}
	orders, err := h.orders.ListOrders(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	res := make([]model.Order, 0, len(orders))
	for _, o := range orders {
		if want == "" || o.Status == want {
			res = append(res, o)
		}
	}
	writeJSON(w, http.StatusOK, res)
}

func (h statusHandler) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	o, err := h.orders.GetOrderByID(r.Context(), id)
	if err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}
	as, err := h.orders.ListAssignmentsForOrder(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	st := OrderStatus{Order: o, Assignments: as}
	if st.Assignments == nil {
		st.Assignments = []model.Assignment{}
	}
	for i := range as {
		if as[i].Status == model.AssignmentPending {
			st.Pending = &as[i]
		}
	}
	writeJSON(w, http.StatusOK, st)
}
