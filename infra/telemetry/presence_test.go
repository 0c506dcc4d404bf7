package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/repairdispatch/core/model"
	coremqtt "github.com/kilianp07/repairdispatch/core/mqtt"
	"github.com/kilianp07/repairdispatch/infra/logger"
	infmqtt "github.com/kilianp07/repairdispatch/infra/mqtt"
	"github.com/kilianp07/repairdispatch/infra/store/memory"
)

type fakeSubscriber struct {
	topic string
	qos   byte
	fn    infmqtt.MessageFunc
}

func (f *fakeSubscriber) Subscribe(topic string, qos byte, fn infmqtt.MessageFunc) error {
	f.topic, f.qos, f.fn = topic, qos, fn
	return nil
}

func newPresence(t *testing.T) (*Presence, *memory.Store, *prometheus.Registry) {
	t.Helper()
	st := memory.NewStore()
	require.NoError(t, st.PutWorker(context.Background(), model.Worker{
		ID:              "m1",
		Status:          model.WorkerAvailable,
		OnShift:         false,
		Specializations: []string{"washer"},
	}))
	reg := prometheus.NewRegistry()
	p, err := NewPresence(st, reg, logger.NopLogger{})
	require.NoError(t, err)
	return p, st, reg
}

func TestProcessAppliesReport(t *testing.T) {
	p, st, _ := newPresence(t)
	ctx := context.Background()

	err := p.Process(ctx, "repair/masters/m1/status", []byte(`{"status":"busy","on_shift":true,"location":{"lat":1.5,"lon":2.5}}`))
	require.NoError(t, err)

	w, err := st.GetWorker(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, model.WorkerBusy, w.Status)
	assert.True(t, w.OnShift)
	require.NotNil(t, w.Location)
	assert.Equal(t, model.GeoPoint{Lat: 1.5, Lon: 2.5}, *w.Location)
	assert.Equal(t, []string{"washer"}, w.Specializations)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.reports.WithLabelValues("applied")))
	assert.Positive(t, testutil.ToFloat64(p.lastReport))
}

func TestProcessKeepsOmittedFields(t *testing.T) {
	p, st, _ := newPresence(t)
	ctx := context.Background()
	require.NoError(t, p.Process(ctx, "repair/masters/m1/status", []byte(`{"status":"AVAILABLE","on_shift":true}`)))
	require.NoError(t, p.Process(ctx, "repair/masters/m1/status", []byte(`{"status":"OFFLINE"}`)))

	w, err := st.GetWorker(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, model.WorkerOffline, w.Status)
	assert.True(t, w.OnShift)
	assert.Nil(t, w.Location)
}

func TestProcessRejects(t *testing.T) {
	p, st, _ := newPresence(t)
	ctx := context.Background()

	err := p.Process(ctx, "repair/masters/m1/status", []byte(`{"status":"lunch"}`))
	assert.True(t, errors.Is(err, coremqtt.ErrInvalidStatus))

	err = p.Process(ctx, "repair/masters/ghost/status", []byte(`{"status":"AVAILABLE"}`))
	assert.True(t, errors.Is(err, model.ErrNotFound))
	_, err = st.GetWorker(ctx, "ghost")
	assert.True(t, errors.Is(err, model.ErrNotFound), "unknown masters are not created")

	assert.Equal(t, 1.0, testutil.ToFloat64(p.reports.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.reports.WithLabelValues("unknown")))
}

func TestStartSubscribes(t *testing.T) {
	p, st, _ := newPresence(t)
	sub := &fakeSubscriber{}
	require.NoError(t, p.Start(sub, "", 1))
	assert.Equal(t, coremqtt.StatusWildcard, sub.topic)
	assert.Equal(t, byte(1), sub.qos)

	sub.fn("repair/masters/m1/status", []byte(`{"status":"BUSY"}`))
	w, err := st.GetWorker(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, model.WorkerBusy, w.Status)

	// malformed reports are dropped without panicking
	sub.fn("repair/masters/m1/status", []byte(`{`))
}

func TestNewPresenceSharesCollectors(t *testing.T) {
	st := memory.NewStore()
	reg := prometheus.NewRegistry()
	p1, err := NewPresence(st, reg, logger.NopLogger{})
	require.NoError(t, err)
	p2, err := NewPresence(st, reg, logger.NopLogger{})
	require.NoError(t, err)
	p1.reports.WithLabelValues("applied").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(p2.reports.WithLabelValues("applied")))
}
