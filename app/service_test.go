package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apidispatch "github.com/kilianp07/repairdispatch/api/dispatch"
	"github.com/kilianp07/repairdispatch/config"
	dispatchlog "github.com/kilianp07/repairdispatch/core/dispatch/logging"
	"github.com/kilianp07/repairdispatch/core/model"
	"github.com/kilianp07/repairdispatch/internal/testutil"
)

func testConfig(t *testing.T, logBackend string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Logging.Backend = logBackend
	cfg.Logging.Path = filepath.Join(t.TempDir(), "events."+logBackend)
	cfg.Dispatch.ResponseWindowSeconds = 60
	return cfg
}

func newService(t *testing.T, logBackend string) *Service {
	t.Helper()
	svc, err := New(testConfig(t, logBackend))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	ctx := context.Background()
	require.NoError(t, svc.Store.PutWorker(ctx, model.Worker{
		ID: "m1", Location: &model.GeoPoint{Lat: 48.86, Lon: 2.35}, OnShift: true,
		Status: model.WorkerAvailable, Specializations: []string{"fridge"},
	}))
	require.NoError(t, svc.Store.PutOrder(ctx, model.Order{
		ID: "o1", Category: "fridge", Location: &model.GeoPoint{Lat: 48.85, Lon: 2.35}, Status: model.OrderNew,
	}))
	require.NoError(t, svc.Start(ctx))
	return svc
}

func kinds(svc *Service) []string {
	recs, err := svc.Events.Query(context.Background(), dispatchlog.LogQuery{OrderID: "o1"})
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Kind)
	}
	return out
}

func TestServiceRecordsEvents(t *testing.T) {
	for _, backend := range []string{"jsonl", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			svc := newService(t, backend)
			require.NoError(t, svc.StartOrderAssignment(ctx, "o1"))

			var offer dispatchlog.LogRecord
			require.Eventually(t, func() bool {
				recs, err := svc.Events.Query(ctx, dispatchlog.LogQuery{Kind: "MasterNotified"})
				if err != nil || len(recs) == 0 {
					return false
				}
				offer = recs[0]
				return true
			}, 2*time.Second, 10*time.Millisecond)
			assert.Equal(t, "m1", offer.MasterID)

			require.NoError(t, svc.Manager.RejectOrder(ctx, offer.AssignmentID, "m1", "busy"))
			require.Eventually(t, func() bool {
				return len(kinds(svc)) == 3
			}, 2*time.Second, 10*time.Millisecond)
			assert.Equal(t, []string{"MasterNotified", "OrderRejected", "AllMastersRejected"}, kinds(svc))
		})
	}
}

func TestServiceCancel(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, "jsonl")
	require.NoError(t, svc.StartOrderAssignment(ctx, "o1"))
	require.NoError(t, svc.CancelOrderAssignments(ctx, "o1"))

	o, err := svc.Store.GetOrderByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelled, o.Status)
	active, err := svc.Store.GetActiveAssignmentForOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Nil(t, active)

	// a second cancel is a no-op
	require.NoError(t, svc.CancelOrderAssignments(ctx, "o1"))
}

func TestServiceCancelReleasesAcceptedMaster(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, "jsonl")
	require.NoError(t, svc.StartOrderAssignment(ctx, "o1"))
	active, err := svc.Store.GetActiveAssignmentForOrder(ctx, "o1")
	require.NoError(t, err)
	require.NotNil(t, active)
	require.NoError(t, svc.Manager.AcceptOrder(ctx, active.ID, "m1"))

	require.NoError(t, svc.CancelOrderAssignments(ctx, "o1"))
	o, err := svc.Store.GetOrderByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelled, o.Status)
	w, err := svc.Store.GetWorker(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, model.WorkerAvailable, w.Status)
}

func TestServiceCancelRacesAssign(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, "jsonl")
	ids := make([]string, 20)
	for i := range ids {
		ids[i] = fmt.Sprintf("race-%d", i)
		require.NoError(t, svc.Store.PutOrder(ctx, model.Order{ID: ids[i], Category: "fridge", Status: model.OrderNew}))
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		id := id
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = svc.StartOrderAssignment(ctx, id)
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.CancelOrderAssignments(ctx, id))
		}()
	}
	wg.Wait()

	for _, id := range ids {
		o, err := svc.Store.GetOrderByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.OrderCancelled, o.Status, id)
		active, err := svc.Store.GetActiveAssignmentForOrder(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, active, id)
	}
}

func TestServiceResumesPendingOffers(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "sqlite")
	cfg.Store.Backend = "sqlite"
	cfg.Store.Path = filepath.Join(t.TempDir(), "repair.db")

	first, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, first.Store.PutWorker(ctx, model.Worker{ID: "m1", OnShift: true, Status: model.WorkerAvailable, Specializations: []string{"tv"}}))
	require.NoError(t, first.Store.PutOrder(ctx, model.Order{ID: "o1", Category: "tv", Status: model.OrderNew}))
	require.NoError(t, first.Start(ctx))
	require.NoError(t, first.StartOrderAssignment(ctx, "o1"))
	require.NoError(t, first.Close())

	second, err := New(cfg)
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.Start(ctx))

	pending, err := second.Store.ListPendingAssignments(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NoError(t, second.Manager.AcceptOrder(ctx, pending[0].ID, "m1"))

	o, err := second.Store.GetOrderByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderInProgress, o.Status)
}

func TestServiceCloseIdempotent(t *testing.T) {
	svc, err := New(testConfig(t, "jsonl"))
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())
}

func TestServiceBadConfig(t *testing.T) {
	cfg := testConfig(t, "jsonl")
	cfg.Store.Backend = "redis"
	_, err := New(cfg)
	assert.Error(t, err)
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestServiceRunServesAdminAPI(t *testing.T) {
	cfg := testConfig(t, "jsonl")
	cfg.HTTP.Addr = freeAddr(t)
	cfg.HTTP.JWTSecret = "0123456789abcdef"
	svc, err := New(cfg)
	require.NoError(t, err)
	defer svc.Close()
	require.NoError(t, svc.Store.PutOrder(context.Background(), model.Order{ID: "o1", Category: "tv", Status: model.OrderNew}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	base := "http://" + cfg.HTTP.Addr
	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	require.NoError(t, testutil.WaitForBody(waitCtx, base+"/healthz", "ok"))

	tok, err := apidispatch.IssueToken(cfg.HTTP.JWTSecret, "", "ops", time.Minute)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodGet, base+"/api/dispatch/orders/o1", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
