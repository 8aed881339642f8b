package heartbeat

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/mehmetymw/binlogha/internal/metrics"
)

// Reporter is the MASTER side of the exchange: one REPORT per request, one
// connection per request. Failed sends are not retried.
type Reporter struct {
	url     string
	handler *Handler
	client  *http.Client
	logger  *zap.Logger
}

func NewReporter(peer string, handler *Handler, logger *zap.Logger) *Reporter {
	if !strings.HasPrefix(peer, "http://") && !strings.HasPrefix(peer, "https://") {
		peer = "http://" + peer
	}
	return &Reporter{
		url:     strings.TrimRight(peer, "/") + Path,
		handler: handler,
		client: &http.Client{
			Timeout:   5 * time.Second,
			Transport: &http.Transport{DisableKeepAlives: true},
		},
		logger: logger,
	}
}

func (r *Reporter) Send(ctx context.Context, msg Message) (Message, error) {
	b, err := Encode(msg)
	if err != nil {
		return Message{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(b))
	if err != nil {
		return Message{}, errors.Trace(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Close = true

	resp, err := r.client.Do(req)
	if err != nil {
		return Message{}, errors.Annotatef(err, "send heartbeat to %s", r.url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Message{}, errors.Errorf("heartbeat peer answered %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMessageSize))
	if err != nil {
		return Message{}, errors.Trace(err)
	}
	return Decode(body)
}

// OnWriterIdle sends one REPORT carrying the current checkpoint if this
// replica is MASTER.
func (r *Reporter) OnWriterIdle(ctx context.Context) {
	msg, ok := r.handler.Report()
	if !ok {
		return
	}
	r.logger.Info("Heartbeat sent",
		zap.String("binlog", msg.LogName),
		zap.Uint32("position", msg.Offset))

	resp, err := r.Send(ctx, msg)
	if err != nil {
		metrics.HeartbeatsTotal.WithLabelValues("out", "error").Inc()
		r.logger.Warn("Heartbeat exchange failed", zap.Error(err))
		return
	}
	metrics.HeartbeatsTotal.WithLabelValues("out", string(resp.Kind)).Inc()
	switch resp.Kind {
	case KindAck:
		r.logger.Debug("Heartbeat acknowledged")
	case KindMaster:
		r.logger.Warn("Peer claims MASTER as well")
	default:
		r.logger.Info("Peer has no status yet", zap.String("response", string(resp.Kind)))
	}
}
