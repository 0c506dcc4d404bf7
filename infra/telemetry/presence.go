// Package telemetry keeps master records in line with the presence reports
// masters publish over MQTT.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/repairdispatch/core/logger"
	"github.com/kilianp07/repairdispatch/core/model"
	coremon "github.com/kilianp07/repairdispatch/core/monitoring"
	coremqtt "github.com/kilianp07/repairdispatch/core/mqtt"
	"github.com/kilianp07/repairdispatch/infra/metrics"
	infmqtt "github.com/kilianp07/repairdispatch/infra/mqtt"
)

// Subscriber delivers messages of a topic pattern.
type Subscriber interface {
	Subscribe(topic string, qos byte, fn infmqtt.MessageFunc) error
}

// WorkerStore reads and replaces master records.
type WorkerStore interface {
	GetWorker(ctx context.Context, id string) (model.Worker, error)
	PutWorker(ctx context.Context, w model.Worker) error
}

// Presence applies master status reports to the store. Reports are
// authoritative: the last one received wins.
type Presence struct {
	store   WorkerStore
	log     logger.Logger
	timeout time.Duration
	now     func() time.Time

	mu sync.Mutex

	reports    *prometheus.CounterVec
	lastReport prometheus.Gauge
}

// NewPresence registers the presence metrics on reg (the default registerer
// when nil).
func NewPresence(store WorkerStore, reg prometheus.Registerer, log logger.Logger) (*Presence, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reports := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "master_status_reports_total",
		Help: "Master presence reports by result",
	}, []string{"result"})
	lastReport := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "master_status_last_report_timestamp_seconds",
		Help: "Unix timestamp of the last applied presence report",
	})
	var err error
	if reports, err = metrics.Register(reg, reports); err != nil {
		return nil, err
	}
	if lastReport, err = metrics.Register(reg, lastReport); err != nil {
		return nil, err
	}
	return &Presence{
		store:      store,
		log:        log,
		timeout:    5 * time.Second,
		now:        time.Now,
		reports:    reports,
		lastReport: lastReport,
	}, nil
}

// Start subscribes to presence reports on topic.
func (p *Presence) Start(sub Subscriber, topic string, qos byte) error {
	if topic == "" {
		topic = coremqtt.StatusWildcard
	}
	return sub.Subscribe(topic, qos, p.onReport)
}

func (p *Presence) onReport(topic string, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	err := p.Process(ctx, topic, payload)
	switch {
	case err == nil:
	case errors.Is(err, coremqtt.ErrInvalidStatus):
		p.log.Warnf("dropping status on %s: %v", topic, err)
	case errors.Is(err, model.ErrNotFound):
		p.log.Warnf("status from unknown master on %s", topic)
	default:
		p.log.Errorf("apply status on %s: %v", topic, err)
		coremon.CaptureException(err, map[string]string{"module": "telemetry", "topic": topic})
	}
}

// Process decodes one report and updates the master it names. Unknown
// masters are not created.
func (p *Presence) Process(ctx context.Context, topic string, payload []byte) error {
	st, err := coremqtt.DecodeMasterStatus(topic, payload)
	if err != nil {
		p.reports.WithLabelValues("invalid").Inc()
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	w, err := p.store.GetWorker(ctx, st.MasterID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			p.reports.WithLabelValues("unknown").Inc()
		}
		return err
	}
	w.Status = model.WorkerStatus(st.Status)
	if st.OnShift != nil {
		w.OnShift = *st.OnShift
	}
	if st.Location != nil {
		loc := *st.Location
		w.Location = &loc
	}
	if err := p.store.PutWorker(ctx, w); err != nil {
		return fmt.Errorf("store master %s: %w", w.ID, err)
	}
	p.reports.WithLabelValues("applied").Inc()
	p.lastReport.Set(float64(p.now().Unix()))
	p.log.Infow("master status applied", map[string]any{
		"master_id": w.ID,
		"status":    string(w.Status),
		"on_shift":  w.OnShift,
	})
	return nil
}
