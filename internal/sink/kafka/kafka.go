package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/pingcap/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mehmetymw/binlogha/internal/sink"
	"github.com/mehmetymw/binlogha/internal/types"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink publishes the change records of one table to a Kafka topic.
type Sink struct {
	writer   messageWriter
	database string
	topic    string
	logger   *zap.Logger
}

func New(brokers []string, topic, database string, logger *zap.Logger) *Sink {
	logger.Info("Creating Kafka sink",
		zap.Strings("brokers", brokers),
		zap.String("topic", topic),
		zap.String("database", database))

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
		Async:        false, // dispatch is synchronous
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug("Kafka writer log", zap.String("msg", fmt.Sprintf(msg, args...)))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error("Kafka writer error", zap.String("msg", fmt.Sprintf(msg, args...)))
		}),
	}
	return &Sink{writer: writer, database: database, topic: topic, logger: logger}
}

func (s *Sink) OnEvent(ctx context.Context, rec types.ChangeRecord) error {
	data, err := sink.Marshal(s.database, rec)
	if err != nil {
		s.logger.Error("Failed to marshal Kafka message", zap.Error(err))
		return err
	}

	key := s.database
	if rec.Table != nil {
		key += "." + rec.Table.Name
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}

	s.logger.Debug("Sending message to Kafka",
		zap.String("key", key),
		zap.String("topic", s.topic),
		zap.String("kind", string(rec.Kind)),
		zap.Int("message_size", len(data)))

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	err = s.writer.WriteMessages(ctx, msg)
	duration := time.Since(start)
	if err != nil {
		s.logger.Error("Failed to write message to Kafka",
			zap.Error(err),
			zap.String("key", key),
			zap.Duration("duration", duration))
		return errors.Annotatef(err, "write to topic %s", s.topic)
	}

	s.logger.Debug("Message sent to Kafka successfully",
		zap.String("key", key),
		zap.Duration("duration", duration))
	return nil
}

func (s *Sink) Close() error {
	s.logger.Info("Closing Kafka sink", zap.String("topic", s.topic))
	if s.writer != nil {
		return errors.Trace(s.writer.Close())
	}
	return nil
}
