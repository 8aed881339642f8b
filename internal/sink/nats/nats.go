package nats

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/mehmetymw/binlogha/internal/sink"
	"github.com/mehmetymw/binlogha/internal/types"
)

type publisher interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// Sink publishes the change records of one table to a NATS subject.
type Sink struct {
	conn     publisher
	database string
	subject  string
	logger   *zap.Logger
}

func New(url, subject, database string, logger *zap.Logger) (*Sink, error) {
	logger.Info("Creating NATS sink",
		zap.String("url", url),
		zap.String("subject", subject),
		zap.String("database", database))

	nc, err := nats.Connect(url,
		nats.Name("binlogha"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, errors.Annotate(err, "connect to NATS")
	}
	return &Sink{conn: nc, database: database, subject: subject, logger: logger}, nil
}

func (s *Sink) OnEvent(ctx context.Context, rec types.ChangeRecord) error {
	data, err := sink.Marshal(s.database, rec)
	if err != nil {
		return err
	}

	s.logger.Debug("Publishing record to NATS",
		zap.String("subject", s.subject),
		zap.String("kind", string(rec.Kind)),
		zap.Int("message_size", len(data)))

	if err := s.conn.Publish(s.subject, data); err != nil {
		return errors.Annotatef(err, "publish to %s", s.subject)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return errors.Annotatef(s.conn.FlushWithContext(ctx), "flush %s", s.subject)
}

func (s *Sink) Close() error {
	s.logger.Info("Closing NATS sink", zap.String("subject", s.subject))
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}
