package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kilianp07/tasmota-bridge/infra/logger"
)

// Handler serves the metrics of g, or of the default gatherer when g is nil.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// StartPromServer serves /metrics on addr until ctx is canceled.
// A dedicated ServeMux keeps it apart from other handlers.
func StartPromServer(ctx context.Context, addr string, log logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(nil))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("prom server shutdown: %v", err)
		}
	}()
	log.Infof("serving prometheus metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
