package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/LockerBox/config"
	"github.com/BearBump/LockerBox/internal/services/reconciler"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	httpSwagger "github.com/swaggo/http-swagger"
)

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	reconciler *reconciler.Reconciler
	cfg        *config.Config
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}
	if opts.swaggerPath == "" {
		return errors.New("worker swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("worker swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return errors.Wrap(err, "listen worker http")
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{Handler: workerRouter(opts)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	slog.Info("worker HTTP listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

func workerRouter(opts workerHTTPOpts) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if opts.reconciler == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		if opts.reconciler == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "reconciler not wired"})
			return
		}
		writeJSON(w, http.StatusOK, opts.reconciler.Stats())
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		if opts.reconciler == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "reconciler not wired"})
			return
		}
		// Только рабочие настройки, без секретов.
		s := opts.reconciler.Settings()
		out := map[string]any{
			"concurrency":           s.Concurrency,
			"staleAfterSeconds":     int(s.StaleAfter.Seconds()),
			"trackerTimeoutSeconds": int(s.TrackerTimeout.Seconds()),
			"rateLimitPerMinute":    s.RateLimitPerMinute,
			"publishAttempts":       s.PublishAttempts,
		}
		if opts.cfg != nil {
			out["intervalSeconds"] = opts.cfg.LockerBox.WorkerIntervalSeconds
			out["jitterSeconds"] = opts.cfg.LockerBox.WorkerJitterSeconds
			out["trackerMode"] = opts.cfg.LockerBox.TrackerMode
			out["storageDriver"] = opts.cfg.LockerBox.StorageDriver
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		if opts.reconciler == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "reconciler not wired"})
			return
		}
		opts.reconciler.Trigger()
		writeJSON(w, http.StatusAccepted, map[string]bool{"triggered": true})
	})

	r.Post("/boxes/{boxID}/reconcile", func(w http.ResponseWriter, r *http.Request) {
		if opts.reconciler == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "reconciler not wired"})
			return
		}
		boxID := chi.URLParam(r, "boxID")
		res, err := opts.reconciler.ReconcileBox(r.Context(), boxID)
		if err != nil {
			slog.Error("on-demand reconcile failed", "box_id", boxID, "error", err.Error())
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "result": res})
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, opts.swaggerPath)
	})

	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(opts.swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	return r
}
