package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/kilianp07/tasmota-bridge/api/entities"
	"github.com/kilianp07/tasmota-bridge/config"
	"github.com/kilianp07/tasmota-bridge/core/bridge"
	"github.com/kilianp07/tasmota-bridge/core/events"
	coremetrics "github.com/kilianp07/tasmota-bridge/core/metrics"
	"github.com/kilianp07/tasmota-bridge/core/monitoring"
	"github.com/kilianp07/tasmota-bridge/core/registry"
	"github.com/kilianp07/tasmota-bridge/core/state"
	"github.com/kilianp07/tasmota-bridge/infra/history"
	"github.com/kilianp07/tasmota-bridge/infra/logger"
	"github.com/kilianp07/tasmota-bridge/infra/metrics"
	infmon "github.com/kilianp07/tasmota-bridge/infra/monitoring"
	"github.com/kilianp07/tasmota-bridge/infra/mqtt"
	"github.com/kilianp07/tasmota-bridge/infra/statepub"
	"github.com/kilianp07/tasmota-bridge/internal/eventbus"
)

// Service wires the MQTT client, the bridge and its consumers.
type Service struct {
	Bridge *bridge.Bridge

	cfg     *config.Config
	client  *mqtt.PahoClient
	bus     *eventbus.TypedBus[events.Event]
	sink    coremetrics.MetricsSink
	store   history.Store
	pub     *statepub.Publisher
	handler http.Handler
	log     logger.Logger
}

// New creates a Service from the configuration. Nothing talks to the
// network until Run.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")
	mon, err := infmon.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	monitoring.Init(mon)

	client, err := mqtt.NewPahoClient(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("mqtt client: %w", err)
	}
	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}

	bus := eventbus.NewTyped[events.Event]()
	b := bridge.New(cfg.Discovery, client, registry.New(), state.NewMemoryStore(), bus, logger.New("bridge"))
	client.SetObserver(b)

	svc := &Service{
		Bridge: b,
		cfg:    cfg,
		client: client,
		bus:    bus,
		sink:   sink,
		log:    logg,
	}
	if cfg.History.Enabled {
		store, err := history.NewStore(cfg.History.Module())
		if err != nil {
			bus.Close()
			return nil, fmt.Errorf("history store: %w", err)
		}
		svc.store = store
	}
	if cfg.Publish.Enabled {
		svc.pub = statepub.New(cfg.Publish, client, logger.New("statepub"))
	}
	svc.handler = entities.NewHandler(b, entities.Options{
		Token:       cfg.API.Token,
		CORSOrigins: cfg.API.CORSOrigins,
		History:     svc.store,
	})
	return svc, nil
}

// Handler returns the HTTP API handler.
func (s *Service) Handler() http.Handler { return s.handler }

// Run subscribes to discovery, connects to the broker and blocks until ctx
// is canceled.
func (s *Service) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	done := []<-chan struct{}{metrics.StartEventCollector(ctx, s.bus, s.sink, logger.New("metrics"))}
	if s.store != nil {
		done = append(done, history.StartRecorder(ctx, s.bus, s.store, logger.New("history")))
	}
	if s.pub != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.pub.Run(ctx, s.bus)
		}()
	}
	if addr := s.cfg.Metrics.PrometheusAddr; addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.StartPromServer(ctx, addr, s.log); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	if addr := s.cfg.API.Addr; addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.serveAPI(ctx, addr); err != nil {
				s.log.Errorf("api server: %v", err)
			}
		}()
	}

	if err := s.Bridge.Start(); err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}
	if err := s.client.Connect(); err != nil {
		return err
	}
	s.log.Infof("bridge running, discovery prefix %s", s.cfg.Discovery.Prefix)

	<-ctx.Done()
	if err := s.Bridge.Stop(); err != nil {
		s.log.Warnf("stop bridge: %v", err)
	}
	wg.Wait()
	for _, d := range done {
		<-d
	}
	return nil
}

func (s *Service) serveAPI(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.log.Infof("serving api on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close disconnects from the broker and releases the stores.
func (s *Service) Close() error {
	s.client.Disconnect()
	s.bus.Close()
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	monitoring.Flush(2 * time.Second)
	return errors.Join(errs...)
}
