package dispatch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/kilianp07/repairdispatch/core/dispatch/logging"
	"github.com/kilianp07/repairdispatch/core/events"
)

const maxLimit = 1000

// EventsHandler serves GET /api/dispatch/events.
type EventsHandler struct {
	store logging.LogStore
}

// NewEventsHandler returns a handler querying store.
func NewEventsHandler(store logging.LogStore) *EventsHandler {
	return &EventsHandler{store: store}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := h.store.Query(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []logging.LogRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func parseQuery(r *http.Request) (logging.LogQuery, error) {
	v := r.URL.Query()
	q := logging.LogQuery{
		OrderID:  v.Get("order_id"),
		MasterID: v.Get("master_id"),
	}
	var err error
	if q.Start, err = parseTime(v.Get("start")); err != nil {
		return q, fmt.Errorf("start: %w", err)
	}
	if q.End, err = parseTime(v.Get("end")); err != nil {
		return q, fmt.Errorf("end: %w", err)
	}
	if !q.Start.IsZero() && !q.End.IsZero() && q.End.Before(q.Start) {
		return q, fmt.Errorf("end is before start")
	}
	if k := v.Get("kind"); k != "" {
		if _, ok := events.ParseKind(k); !ok {
			return q, fmt.Errorf("unknown kind %q", k)
		}
		q.Kind = k
	}
	if l := v.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			return q, fmt.Errorf("limit must be a positive integer")
		}
		q.Limit = min(n, maxLimit)
	}
	return q, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
