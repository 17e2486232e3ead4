package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/ajitpratap0/connmgr/pkg/manager"
	"github.com/ajitpratap0/connmgr/pkg/pool"
)

// processStats is the /status view of this process.
type processStats struct {
	PID        int32   `json:"pid"`
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	Threads    int32   `json:"threads"`
	OpenFDs    int32   `json:"open_fds"`
}

func readProcessStats() processStats {
	stats := processStats{PID: int32(os.Getpid())}
	proc, err := process.NewProcess(stats.PID)
	if err != nil {
		return stats
	}
	if mem, err := proc.MemoryInfo(); err == nil {
		stats.RSSBytes = mem.RSS
	}
	stats.CPUPercent, _ = proc.CPUPercent()
	stats.Threads, _ = proc.NumThreads()
	stats.OpenFDs, _ = proc.NumFDs()
	return stats
}

func newHandler(m *manager.Manager, log *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		results := m.HealthCheckAll(r.Context())
		status := http.StatusOK
		if len(unhealthyTypes(results)) > 0 {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, results, log)
	})

	mux.HandleFunc("/pools", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, m.GetMetrics(), log)
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, struct {
			Version string                                   `json:"version"`
			Process processStats                             `json:"process"`
			Pools   map[pool.ConnectionType]pool.PoolMetrics `json:"pools"`
		}{
			Version: version,
			Process: readProcessStats(),
			Pools:   m.GetMetrics(),
		}, log)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any, log *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("failed to write response", zap.Error(err))
	}
}

// serve runs the HTTP endpoints until ctx ends.
func serve(ctx context.Context, addr string, m *manager.Manager, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           newHandler(m, log),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := http2.ConfigureServer(srv, &http2.Server{}); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("serving", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
