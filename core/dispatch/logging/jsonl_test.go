package logging

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestJSONLStore_Query(t *testing.T) {
	store, err := NewJSONLStore(filepath.Join(t.TempDir(), "events.jsonl"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	now := time.Now()
	_ = store.Append(context.Background(), LogRecord{Timestamp: now, Kind: "MasterNotified", OrderID: "o1", MasterID: "m1"})
	_ = store.Append(context.Background(), LogRecord{Timestamp: now, Kind: "MasterNotified", OrderID: "o1", MasterID: "m2"})
	out, err := store.Query(context.Background(), LogQuery{MasterID: "m2"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 1 || out[0].MasterID != "m2" {
		t.Fatalf("unexpected result %+v", out)
	}
	out, err = store.Query(context.Background(), LogQuery{End: now.Add(-time.Second)})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no records before %v", now)
	}
}

func TestLogQuery_Match(t *testing.T) {
	now := time.Now()
	rec := LogRecord{Timestamp: now, Kind: "OrderAccepted", OrderID: "o1", MasterID: "m1"}
	tests := []struct {
		name string
		q    LogQuery
		want bool
	}{
		{"empty", LogQuery{}, true},
		{"order", LogQuery{OrderID: "o1"}, true},
		{"other order", LogQuery{OrderID: "o2"}, false},
		{"master", LogQuery{MasterID: "m1"}, true},
		{"kind", LogQuery{Kind: "OrderRejected"}, false},
		{"window", LogQuery{Start: now.Add(-time.Minute), End: now.Add(time.Minute)}, true},
		{"after", LogQuery{Start: now.Add(time.Minute)}, false},
	}
	for _, tt := range tests {
		if got := tt.q.Match(rec); got != tt.want {
			t.Errorf("%s: Match = %v, want %v", tt.name, got, tt.want)
		}
	}
}
