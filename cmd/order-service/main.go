package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/lu-lu-xue/OrderManagement/internal/app"
	"github.com/lu-lu-xue/OrderManagement/internal/version"
)

type options struct {
	configPath  string
	showVersion bool
}

// parseFlags разбирает аргументы командной строки; -config может быть пустым.
func parseFlags(args []string, output io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("order-service", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.configPath, "config", "", "path to config file (fallback: OMS_CONFIG_FILE, ./config.yaml)")
	fs.BoolVar(&opts.showVersion, "version", false, "print build info and exit")
	err := fs.Parse(args)
	return opts, err
}

// setupLogger переносит секцию log на стандартный логгер logrus, которым пользуются все пакеты.
func setupLogger(cfg app.LogConfig) error {
	logger, err := app.NewLogger(cfg)
	if err != nil {
		return err
	}
	log.SetLevel(logger.GetLevel())
	log.SetFormatter(logger.Formatter)
	return nil
}

func startupFields(cfg app.Config) log.Fields {
	return log.Fields{
		"http_addr":      cfg.HTTP.Addr,
		"grpc_addr":      cfg.GRPC.Addr,
		"metrics_addr":   cfg.Metrics.Addr,
		"storage_driver": cfg.Storage.Driver,
		"kafka_enabled":  cfg.Kafka.Enabled,
		"charge_mode":    cfg.Saga.ChargeMode,
	}
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	opts, err := parseFlags(os.Args[1:], os.Stderr)
	switch {
	case errors.Is(err, flag.ErrHelp):
		return
	case err != nil:
		os.Exit(2)
	case opts.showVersion:
		fmt.Println(version.String())
		return
	}

	cfg, err := app.LoadConfig(opts.configPath)
	if err != nil {
		log.WithError(err).Fatal("не удалось загрузить конфигурацию")
	}
	if err := setupLogger(cfg.Log); err != nil {
		log.WithError(err).Fatal("некорректная секция log")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(version.Fields()).WithFields(startupFields(cfg)).Info("запускаем OrderService")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}
	log.Info("OrderService остановлен")
}
