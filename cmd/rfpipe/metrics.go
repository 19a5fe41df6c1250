package main

import (
	"context"
	"errors"
	"expvar"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pipelined/rfpipe/metric"
)

// metricsServer exposes transform counters in prometheus format on
// /metrics and as expvar JSON on /debug/vars.
type metricsServer struct {
	listener net.Listener
	server   *http.Server
	done     chan error
}

func startMetrics(addr string) (*metricsServer, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		metric.Collector(),
		collectors.NewGoCollector(),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.Handle("/debug/vars", expvar.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &metricsServer{
		listener: ln,
		server:   &http.Server{Handler: mux},
		done:     make(chan error, 1),
	}
	go func() {
		s.done <- s.server.Serve(ln)
	}()
	return s, nil
}

// Addr returns the address the server listens on.
func (s *metricsServer) Addr() string {
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the server.
func (s *metricsServer) Stop(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	if serr := <-s.done; !errors.Is(serr, http.ErrServerClosed) {
		return serr
	}
	return err
}
