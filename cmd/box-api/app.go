package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	boxesapi "github.com/BearBump/LockerBox/internal/api/boxes_api"
	"github.com/BearBump/LockerBox/internal/broker/kafka"
	"github.com/BearBump/LockerBox/internal/broker/messages"
	"github.com/BearBump/LockerBox/internal/models"
	"github.com/BearBump/LockerBox/internal/services/extractor"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	httpSwagger "github.com/swaggo/http-swagger"
)

type boxAPIOpts struct {
	httpAddr    string
	swaggerPath string

	topic              string
	notificationsTopic string
	consumerGroup      string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

// statusChangeHandler reacts to one reconciled status change
// (cache refresh, alert).
type statusChangeHandler func(ctx context.Context, msg messages.PackageStatusChanged) error

type boxAPIConsumers struct {
	statusChanged kafkaConsumer
	onChange      statusChangeHandler

	// notifications feeds device notifications into the detection pipeline.
	notifications kafkaConsumer
	pipeline      *extractor.Pipeline
}

func runBoxAPI(ctx context.Context, opts boxAPIOpts, api *boxesapi.BoxesAPI, cons boxAPIConsumers) error {
	if opts.swaggerPath == "" {
		return errors.New("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return errors.Wrap(err, "listen http")
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, lis, api, opts.swaggerPath)
	}()

	if cons.statusChanged != nil {
		go func() {
			slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
			err := cons.statusChanged.Consume(ctx, statusChangedHandler(ctx, cons.onChange))
			if err != nil && ctx.Err() == nil {
				slog.Error("kafka consumer stopped", "topic", opts.topic, "error", err.Error())
			}
		}()
	}

	if cons.notifications != nil && cons.pipeline != nil {
		events := make(chan models.NotificationEvent)
		go func() {
			_ = cons.pipeline.Run(ctx, events)
		}()
		go func() {
			slog.Info("kafka consumer started", "topic", opts.notificationsTopic, "group", opts.consumerGroup)
			err := cons.notifications.Consume(ctx, notificationHandler(ctx, events))
			if err != nil && ctx.Err() == nil {
				slog.Error("kafka consumer stopped", "topic", opts.notificationsTopic, "error", err.Error())
			}
		}()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}

func statusChangedHandler(ctx context.Context, onChange statusChangeHandler) func(key, value []byte) error {
	return kafka.JSONHandler(func(m messages.PackageStatusChanged) error {
		if onChange == nil {
			return nil
		}
		return onChange(ctx, m)
	})
}

// notificationHandler hands decoded notifications to the pipeline loop.
func notificationHandler(ctx context.Context, events chan<- models.NotificationEvent) func(key, value []byte) error {
	return kafka.JSONHandler(func(ev models.NotificationEvent) error {
		select {
		case events <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

func runHTTPServer(ctx context.Context, lis net.Listener, api *boxesapi.BoxesAPI, swaggerPath string) error {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, swaggerPath)
	})
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger.json"),
	))
	r.Mount("/", api.Routes())

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}
