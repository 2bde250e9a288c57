package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/PulseVote/OrderWatch/config"
	"github.com/PulseVote/OrderWatch/internal/services/reconciler"
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
)

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	reconciler *reconciler.Reconciler
	cfg        *config.Config
}

type statusCheckRequest struct {
	NextRun string `json:"next_run"`
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.reconciler == nil {
			_, _ = w.Write([]byte(`{"error":"reconciler not wired"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(opts.reconciler.Stats())
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.cfg == nil {
			_, _ = w.Write([]byte(`{"error":"config not wired"}`))
			return
		}
		// Avoid dumping secrets; show only operational reconciler settings.
		ow := opts.cfg.OrderWatch
		out := map[string]any{
			"reconcileIntervalSeconds":    ow.ReconcileIntervalSeconds,
			"reconcilePageLimit":          ow.ReconcilePageLimit,
			"reconcileBatchSize":          ow.ReconcileBatchSize,
			"reconcileBatchDelaySeconds":  ow.ReconcileBatchDelaySeconds,
			"reconcileCooldownSeconds":    ow.ReconcileCooldownSeconds,
			"reconcileLeaseSeconds":       ow.ReconcileLeaseSeconds,
			"reconcileCallTimeoutSeconds": ow.ReconcileCallTimeoutSeconds,
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	// Manual invocation of one reconciliation pass. The body is optional and
	// next_run is informational only.
	r.Post("/jobs/status-check", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.reconciler == nil {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"reconciler not wired"}`))
			return
		}

		var req statusCheckRequest
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}

		sum, err := opts.reconciler.RunOnce(r.Context(), req.NextRun)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":     err.Error(),
				"timestamp": time.Now().UTC(),
			})
			return
		}
		if sum.Results == nil {
			sum.Results = []reconciler.Transition{}
		}
		_ = json.NewEncoder(w).Encode(sum)
	})

	// Serve swagger with no-cache + cachebuster when a spec file is wired.
	if opts.swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, opts.swaggerPath)
		})

		swaggerURL := "/swagger.json"
		if fi, err := os.Stat(opts.swaggerPath); err == nil {
			swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
		}
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
	}

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	return srv.Serve(lis)
}
