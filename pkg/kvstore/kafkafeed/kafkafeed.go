// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

// Package kafkafeed adapts a Kafka topic of change events to
// kvstore.Store. Each message value is a JSON object as produced by
// kvstore.EncodeEvent.
package kafkafeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/innovationmech/kvnotify/pkg/kvstore"
	"github.com/innovationmech/kvnotify/pkg/logger"
)

const storeName = "kafka"

// Config holds the Kafka feed settings.
type Config struct {
	Brokers     []string      `mapstructure:"brokers" yaml:"brokers" json:"brokers"`
	Topic       string        `mapstructure:"topic" yaml:"topic" json:"topic"`
	GroupID     string        `mapstructure:"group_id" yaml:"group_id" json:"group_id"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout" json:"dial_timeout"`
	RetryDelay  time.Duration `mapstructure:"retry_delay" yaml:"retry_delay" json:"retry_delay"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Second
	}
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// groupPartition is passed to newReader when a consumer group assigns
// partitions.
const groupPartition = -1

// Store consumes the change topic. Without a consumer group it reads every
// partition of the topic with its own reader.
type Store struct {
	config         Config
	dialer         *kafka.Dialer
	newReader      func(partition int) messageReader
	listPartitions func(ctx context.Context) ([]int, error)
	log            *zap.Logger
}

var _ kvstore.Store = (*Store)(nil)

// New creates a Store. Nothing is dialed until Synchronize or Subscribe.
func New(config Config) (*Store, error) {
	config.ApplyDefaults()
	if len(config.Brokers) == 0 {
		return nil, errors.New("kafkafeed: at least one broker is required")
	}
	if config.Topic == "" {
		return nil, errors.New("kafkafeed: topic is required")
	}

	s := &Store{
		config: config,
		dialer: &kafka.Dialer{Timeout: config.DialTimeout, DualStack: true},
		log:    logger.GetLogger().With(zap.String("store", storeName), zap.String("topic", config.Topic)),
	}
	s.newReader = func(partition int) messageReader {
		readerConfig := kafka.ReaderConfig{
			Brokers: s.config.Brokers,
			Topic:   s.config.Topic,
			GroupID: s.config.GroupID,
			Dialer:  s.dialer,
			MaxWait: 500 * time.Millisecond,
		}
		if partition != groupPartition {
			readerConfig.Partition = partition
			readerConfig.StartOffset = kafka.LastOffset
		}
		return kafka.NewReader(readerConfig)
	}
	s.listPartitions = s.topicPartitions
	return s, nil
}

func (s *Store) readPartitions(ctx context.Context) ([]kafka.Partition, error) {
	conn, err := s.dialer.DialContext(ctx, "tcp", s.config.Brokers[0])
	if err != nil {
		return nil, fmt.Errorf("dial kafka: %w", err)
	}
	defer conn.Close()
	return conn.ReadPartitions(s.config.Topic)
}

func (s *Store) topicPartitions(ctx context.Context) ([]int, error) {
	partitions, err := s.readPartitions(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(partitions))
	for _, p := range partitions {
		if p.Topic == s.config.Topic {
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}

// Name implements kvstore.Store.
func (s *Store) Name() string { return storeName }

// RequiredCapability names what Synchronize checks.
func (s *Store) RequiredCapability() string {
	return fmt.Sprintf("kafka topic %s", s.config.Topic)
}

// Synchronize checks that the topic exists. Kafka has nothing to flush.
func (s *Store) Synchronize(ctx context.Context) (bool, error) {
	partitions, err := s.readPartitions(ctx)
	if err != nil {
		if errors.Is(err, kafka.UnknownTopicOrPartition) {
			return false, nil
		}
		return false, fmt.Errorf("read partitions: %w", err)
	}
	return len(partitions) > 0, nil
}

// Subscribe starts consuming the topic. Without a consumer group the
// partitions are listed once, here.
func (s *Store) Subscribe(ctx context.Context, handler kvstore.NotificationHandler) (kvstore.Subscription, error) {
	var readers []messageReader
	if s.config.GroupID != "" {
		readers = append(readers, s.newReader(groupPartition))
	} else {
		ids, err := s.listPartitions(ctx)
		if err != nil {
			return nil, fmt.Errorf("list partitions: %w", err)
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("kafkafeed: topic %s has no partitions", s.config.Topic)
		}
		for _, id := range ids {
			readers = append(readers, s.newReader(id))
		}
		s.log.Debug("reading partitions", zap.Ints("partitions", ids))
	}

	consumeCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, reader := range readers {
		wg.Add(1)
		go func(reader messageReader) {
			defer wg.Done()
			s.consume(consumeCtx, reader, handler)
		}(reader)
	}

	var once sync.Once
	var closeErr error
	return kvstore.SubscriptionFunc(func() error {
		once.Do(func() {
			cancel()
			wg.Wait()
			var errs []error
			for _, reader := range readers {
				errs = append(errs, reader.Close())
			}
			closeErr = errors.Join(errs...)
		})
		return closeErr
	}), nil
}

func (s *Store) consume(ctx context.Context, reader messageReader, handler kvstore.NotificationHandler) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.config.RetryDelay):
			}
			continue
		}

		n, err := kvstore.DecodeEvent(storeName, msg.Value)
		if err != nil {
			s.log.Debug("skipping undecodable message",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		} else {
			handler(n)
		}

		if s.config.GroupID != "" {
			if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				s.log.Warn("commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
			}
		}
	}
}
