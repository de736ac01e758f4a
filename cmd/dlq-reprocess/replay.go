package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

type offsetClient interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Close() error
}

type partitionStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error)
	Close() error
}

// sender реализуется *kafka.Producer.
type sender interface {
	Send(topic, key string, value []byte, headers map[string]string) error
	Close() error
}

type kafkaDeps struct {
	offsets    offsetClient
	partitions partitionSource
	sender     sender
}

func (d kafkaDeps) Close() {
	if d.sender != nil {
		_ = d.sender.Close()
	}
	if d.partitions != nil {
		_ = d.partitions.Close()
	}
	if d.offsets != nil {
		_ = d.offsets.Close()
	}
}

type summary struct {
	scanned  int
	replayed int
	skipped  int
}

type replayer struct {
	cfg    config
	deps   kafkaDeps
	logger *log.Entry
	sum    summary
}

// replay читает партиции DLQ по возрастанию номера, пока не наберёт cfg.limit сообщений.
func replay(ctx context.Context, cfg config, deps kafkaDeps, logger *log.Entry) (summary, error) {
	if deps.offsets == nil || deps.partitions == nil {
		return summary{}, errors.New("kafka client and consumer are required")
	}
	if cfg.execute && deps.sender == nil {
		return summary{}, errors.New("producer is required in execute mode")
	}

	partitions, err := deps.offsets.Partitions(cfg.sourceTopic)
	if err != nil {
		return summary{}, fmt.Errorf("partitions of %s: %w", cfg.sourceTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	r := &replayer{cfg: cfg, deps: deps, logger: logger}
	for _, p := range partitions {
		if r.sum.scanned >= cfg.limit {
			break
		}
		if err := r.partition(ctx, p); err != nil {
			return r.sum, err
		}
	}

	logger.WithFields(log.Fields{
		"mode":     cfg.mode(),
		"scanned":  r.sum.scanned,
		"replayed": r.sum.replayed,
		"skipped":  r.sum.skipped,
	}).Info("dlq replay finished")
	return r.sum, nil
}

// window возвращает полуинтервал offset-ов [from, to) партиции для чтения.
func (r *replayer) window(p int32, budget int) (from, to int64, err error) {
	from, err = r.deps.offsets.GetOffset(r.cfg.sourceTopic, p, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("oldest offset of partition %d: %w", p, err)
	}
	to, err = r.deps.offsets.GetOffset(r.cfg.sourceTopic, p, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("newest offset of partition %d: %w", p, err)
	}
	if r.cfg.fromNewest {
		from = max(from, to-int64(budget))
	}
	return from, to, nil
}

func (r *replayer) partition(ctx context.Context, p int32) error {
	budget := r.cfg.limit - r.sum.scanned
	from, to, err := r.window(p, budget)
	if err != nil || from >= to {
		return err
	}

	stream, err := r.deps.partitions.ConsumePartition(r.cfg.sourceTopic, p, from)
	if err != nil {
		return fmt.Errorf("consume partition %d: %w", p, err)
	}
	defer func() { _ = stream.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	errs := stream.Errors()
	for read := 0; read < budget; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle.C:
			r.logger.WithField("partition", p).Warn("partition idle, moving on")
			return nil
		case cerr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			return fmt.Errorf("partition %d: %w", p, cerr)
		case msg, ok := <-stream.Messages():
			if !ok || msg.Offset >= to {
				return nil
			}
			idle.Reset(r.cfg.idleTimeout)
			read++
			if err := r.visit(msg); err != nil {
				return err
			}
			if msg.Offset+1 >= to {
				return nil
			}
		}
	}
	return nil
}

// visit разбирает одно сообщение DLQ. Нераспознанные конверты и чужие заказы пропускаются.
func (r *replayer) visit(msg *sarama.ConsumerMessage) error {
	r.sum.scanned++
	entry := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	out, err := decodeEnvelope(msg, r.cfg)
	if err != nil {
		entry.WithError(err).Warn("skip dlq message")
		r.sum.skipped++
		return nil
	}
	if r.cfg.orderID != "" && out.key != r.cfg.orderID {
		r.sum.skipped++
		return nil
	}

	entry = entry.WithFields(log.Fields{"target_topic": out.topic, "key": out.key})
	if !r.cfg.execute {
		entry.Info("replay candidate")
		r.sum.replayed++
		return nil
	}
	if err := r.deps.sender.Send(out.topic, out.key, out.value, out.headers); err != nil {
		return fmt.Errorf("replay offset %d to %s: %w", msg.Offset, out.topic, err)
	}
	entry.Info("replayed")
	r.sum.replayed++
	return nil
}
