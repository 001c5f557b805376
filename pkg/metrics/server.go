package metrics

import (
	"errors"
	"net/http"
	"net/http/pprof"

	"chat_sync_service/pkg/config"
	"chat_sync_service/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewHandler /metrics from gatherer, plus /debug/pprof/ outside production
func NewHandler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if !config.IsProduction() {
		// /debug/pprof/goroutine, /heap, /profile, /block, /mutex ...
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

// Serve start the metrics server on addr in the background. Shut it down with
// the returned server.
func Serve(addr string, gatherer prometheus.Gatherer) *http.Server {
	srv := &http.Server{Addr: addr, Handler: NewHandler(gatherer)}
	go func() {
		logger.Log.Info("Starting metrics server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}
