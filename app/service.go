package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	apidispatch "github.com/kilianp07/repairdispatch/api/dispatch"
	"github.com/kilianp07/repairdispatch/app/plugins"
	"github.com/kilianp07/repairdispatch/config"
	"github.com/kilianp07/repairdispatch/core/dispatch"
	dispatchlog "github.com/kilianp07/repairdispatch/core/dispatch/logging"
	"github.com/kilianp07/repairdispatch/core/events"
	coremetrics "github.com/kilianp07/repairdispatch/core/metrics"
	coremon "github.com/kilianp07/repairdispatch/core/monitoring"
	coremqtt "github.com/kilianp07/repairdispatch/core/mqtt"
	"github.com/kilianp07/repairdispatch/infra/logger"
	"github.com/kilianp07/repairdispatch/infra/metrics"
	"github.com/kilianp07/repairdispatch/infra/monitoring"
	"github.com/kilianp07/repairdispatch/infra/mqtt"
	"github.com/kilianp07/repairdispatch/infra/store"
	"github.com/kilianp07/repairdispatch/infra/telemetry"
	"github.com/kilianp07/repairdispatch/internal/eventbus"
)

// Service wires the dispatch manager to its stores, the event bus and the
// outer surfaces (MQTT, event log, metrics, admin HTTP).
type Service struct {
	Manager *dispatch.DispatchManager
	Store   store.Store
	Events  dispatchlog.LogStore
	Bus     *eventbus.TypedBus[events.Event]

	cfg       *config.Config
	log       logger.Logger
	sink      coremetrics.MetricsSink
	collector *metrics.EventCollector
	mqtt      *mqtt.PahoClient
	server    *http.Server

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")
	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	st, err := plugins.NewStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	logStore, err := plugins.NewLogStore(cfg.Logging)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("event log: %w", err)
	}
	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		_ = logStore.Close()
		_ = st.Close()
		return nil, fmt.Errorf("metrics: %w", err)
	}

	bus := eventbus.NewTypedWithBuffer[events.Event](cfg.Dispatch.EventBuffer)
	manager, err := dispatch.NewDispatchManager(store.Repositories(st), bus, cfg.Dispatch, logger.New("dispatch"))
	if err != nil {
		_ = logStore.Close()
		_ = st.Close()
		return nil, fmt.Errorf("dispatch manager: %w", err)
	}

	svc := &Service{
		Manager: manager,
		Store:   st,
		Events:  logStore,
		Bus:     bus,
		cfg:     cfg,
		log:     logg,
		sink:    sink,
	}
	if cfg.MQTT.Enabled {
		client, err := mqtt.NewPahoClient(cfg.MQTT)
		if err != nil {
			_ = svc.Close()
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
		svc.mqtt = client
	}
	if cfg.HTTP.Addr != "" {
		svc.server = &http.Server{
			Addr: cfg.HTTP.Addr,
			Handler: apidispatch.NewRouter(apidispatch.Options{
				Store:      logStore,
				Orders:     st,
				Dispatcher: svc,
				JWTSecret:  cfg.HTTP.JWTSecret,
				JWTIssuer:  cfg.HTTP.JWTIssuer,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return svc, nil
}

// Start subscribes the event consumers, resumes offers left PENDING by a
// previous run and begins accepting master responses. It does not block.
func (s *Service) Start(ctx context.Context) error {
	recorder := dispatchlog.NewRecorder(s.Events, logger.New("event_log"))
	sub := s.Bus.Subscribe()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for ev := range sub {
			_ = recorder.Record(context.Background(), ev)
		}
	}()

	s.collector = metrics.StartEventCollector(ctx, s.Bus, s.sink, logger.New("metrics"))

	if s.mqtt != nil {
		mqtt.StartNotifier(ctx, s.Bus, s.mqtt, s.cfg.MQTT.QoS, logger.New("mqtt_notifier"))
		if err := s.mqtt.HandleResponses(s.Manager); err != nil {
			return fmt.Errorf("mqtt responses: %w", err)
		}
		if s.cfg.Telemetry.Enabled {
			presence, err := telemetry.NewPresence(s.Store, nil, logger.New("presence"))
			if err != nil {
				return fmt.Errorf("presence: %w", err)
			}
			if err := presence.Start(s.mqtt, s.cfg.Telemetry.StatusTopic, s.cfg.MQTT.QoSFor(coremqtt.QoSStatus)); err != nil {
				return fmt.Errorf("presence: %w", err)
			}
		}
	}
	pending, err := s.Store.ListPendingAssignments(ctx)
	if err != nil {
		return fmt.Errorf("pending assignments: %w", err)
	}
	n, err := s.Manager.ResumeAssignments(ctx, pending)
	if err != nil {
		s.log.Errorf("resume offers: %v", err)
		coremon.CaptureException(err, map[string]string{"module": "service", "operation": "resume"})
	}
	if n > 0 {
		s.log.Infof("resumed %d pending offers", n)
	}
	s.log.Infof("service started (store=%s, event_log=%s, mqtt=%t)", s.cfg.Store.Backend, s.cfg.Logging.Backend, s.mqtt != nil)
	return nil
}

// Run starts the service and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	if s.server == nil {
		<-ctx.Done()
		return nil
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("admin API listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("admin API: %w", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// StartOrderAssignment starts the escalation of an order.
func (s *Service) StartOrderAssignment(ctx context.Context, orderID string) error {
	return s.Manager.StartOrderAssignment(ctx, orderID)
}

// CancelOrderAssignments cancels an order on behalf of an operator: the
// escalation stops, an order that is still open becomes CANCELLED and the
// master of an accepted order is released.
func (s *Service) CancelOrderAssignments(ctx context.Context, orderID string) error {
	if err := s.Manager.CancelOrder(ctx, orderID); err != nil {
		return err
	}
	if s.collector != nil {
		s.collector.Forget(orderID)
	}
	return nil
}

// Close releases resources held by the service. Pending offers stay
// PENDING in the store and are recovered on the next start.
func (s *Service) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		errs = append(errs, s.Manager.Close())
		if s.mqtt != nil {
			s.mqtt.Disconnect()
		}
		s.Bus.Close()
		s.wg.Wait()
		if c, ok := s.sink.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
		errs = append(errs, s.Events.Close(), s.Store.Close())
		coremon.Flush(2 * time.Second)
	})
	return errors.Join(errs...)
}
