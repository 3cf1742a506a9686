package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/LockerBox/config"
	"github.com/BearBump/LockerBox/internal/logging"
	"github.com/pkg/errors"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	logging.Setup(cfg.Logging.Level, "box-worker")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = RunBoxWorker(ctx, cfg, defaultWorkerFactories(), workerHTTPOpts{
		httpAddr:    cfg.LockerBox.WorkerHTTPAddr,
		swaggerPath: os.Getenv("swaggerPath"),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		panic(err)
	}
}
