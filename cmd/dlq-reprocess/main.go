// Команда dlq-reprocess возвращает сообщения из DLQ-топиков саги в рабочие топики.
// По умолчанию работает в dry-run и только печатает кандидатов.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/lu-lu-xue/OrderManagement/internal/messaging/kafka"
)

const (
	defaultLimit       = 100
	defaultIdleTimeout = 2 * time.Second
	envBrokers         = "OMS_KAFKA_BROKERS"
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string // пусто: топик берётся из конверта
	dlqSuffix   string
	orderID     string // пусто: все заказы
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

func (c config) mode() string {
	if c.execute {
		return "execute"
	}
	return "dry-run"
}

func parseConfig(args []string, getenv func(string) string, output io.Writer) (config, error) {
	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(output)

	var (
		cfg     config
		brokers string
	)
	fs.StringVar(&brokers, "brokers", "", "comma-separated Kafka brokers (fallback: "+envBrokers+")")
	fs.StringVar(&cfg.sourceTopic, "source-topic", "", "DLQ topic to scan, e.g. payment-confirmed.dlq")
	fs.StringVar(&cfg.targetTopic, "target-topic", "", "replay into this topic instead of the original one")
	fs.StringVar(&cfg.dlqSuffix, "dlq-suffix", ".dlq", "DLQ topic suffix, used when an envelope has no original topic")
	fs.StringVar(&cfg.orderID, "order", "", "replay only messages keyed by this order ID")
	fs.IntVar(&cfg.limit, "limit", defaultLimit, "max messages to scan")
	fs.BoolVar(&cfg.execute, "execute", false, "publish messages; without it the run is a dry-run")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "scan the newest messages of each partition")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this idle period")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokers) == "" {
		brokers = getenv(envBrokers)
	}
	cfg.brokers = splitBrokers(brokers)
	cfg.sourceTopic = strings.TrimSpace(cfg.sourceTopic)
	cfg.targetTopic = strings.TrimSpace(cfg.targetTopic)
	cfg.orderID = strings.TrimSpace(cfg.orderID)

	switch {
	case len(cfg.brokers) == 0:
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or %s)", envBrokers)
	case cfg.sourceTopic == "":
		return config{}, errors.New("-source-topic is required")
	case cfg.targetTopic == "" && cfg.dlqSuffix == "":
		return config{}, errors.New("-target-topic or -dlq-suffix is required")
	case cfg.targetTopic == cfg.sourceTopic:
		return config{}, errors.New("-target-topic must differ from -source-topic")
	case cfg.limit <= 0:
		return config{}, errors.New("-limit must be positive")
	case cfg.idleTimeout <= 0:
		return config{}, errors.New("-idle-timeout must be positive")
	}
	return cfg, nil
}

func splitBrokers(raw string) []string {
	var out []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// partitionReader адаптирует sarama.Consumer к partitionSource.
type partitionReader struct {
	consumer sarama.Consumer
}

func (r partitionReader) ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error) {
	return r.consumer.ConsumePartition(topic, partition, offset)
}

func (r partitionReader) Close() error { return r.consumer.Close() }

// connect открывает клиентов Kafka. Producer создаётся только в execute-режиме.
var connect = func(cfg config) (kafkaDeps, error) {
	sc := sarama.NewConfig()
	sc.ClientID = "dlq-reprocess"
	sc.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, sc)
	if err != nil {
		return kafkaDeps{}, fmt.Errorf("kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return kafkaDeps{}, fmt.Errorf("kafka consumer: %w", err)
	}
	deps := kafkaDeps{offsets: client, partitions: partitionReader{consumer: consumer}}

	if cfg.execute {
		producer, err := kafka.NewProducer(cfg.brokers, kafka.WithClientID("dlq-reprocess"))
		if err != nil {
			deps.Close()
			return kafkaDeps{}, err
		}
		deps.sender = producer
	}
	return deps, nil
}

func run(ctx context.Context, cfg config, out io.Writer) error {
	deps, err := connect(cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	sum, err := replay(ctx, cfg, deps, log.WithField("source_topic", cfg.sourceTopic))
	printSummary(out, cfg, sum)
	return err
}

func printSummary(out io.Writer, cfg config, sum summary) {
	_, _ = fmt.Fprintf(out, "dlq %s %s: scanned=%d replayed=%d skipped=%d\n",
		cfg.sourceTopic, cfg.mode(), sum.scanned, sum.replayed, sum.skipped)
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := parseConfig(os.Args[1:], os.Getenv, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.WithError(err).Fatal("invalid arguments")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		log.WithError(err).Fatal("dlq replay failed")
	}
}
