package report

import (
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/browserwarden/warden/internal/engine"
	"github.com/browserwarden/warden/internal/logging"
)

// WebhookSink POSTs threats to an external collector. Delivery is
// asynchronous through a bounded queue; when the queue is full the threat
// is dropped and counted, never buffered without bound.
type WebhookSink struct {
	url    string
	client *resty.Client
	logger *logging.Logger

	queue chan engine.ThreatEvent
	done  chan struct{}
}

const webhookQueueSize = 256

// NewWebhookSink creates a webhook sink and starts its delivery worker.
func NewWebhookSink(url string, logger *logging.Logger) *WebhookSink {
	if logger == nil {
		logger = logging.NewNop()
	}
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "warden/1.0")

	s := &WebhookSink{
		url:    url,
		client: client,
		logger: logger.Named("webhook"),
		queue:  make(chan engine.ThreatEvent, webhookQueueSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Report implements Sink. Non-blocking: a full queue drops the threat.
func (s *WebhookSink) Report(t engine.ThreatEvent) {
	select {
	case s.queue <- t:
	default:
		s.logger.Warn("webhook queue full, dropping threat",
			zap.String("type", t.Type),
			zap.String("id", t.ID))
	}
}

// Close stops the delivery worker after draining queued threats.
func (s *WebhookSink) Close() {
	close(s.queue)
	<-s.done
}

func (s *WebhookSink) run() {
	defer close(s.done)
	for t := range s.queue {
		resp, err := s.client.R().SetBody(t).Post(s.url)
		if err != nil {
			s.logger.Warn("webhook delivery failed",
				zap.String("type", t.Type),
				zap.Error(err))
			continue
		}
		if resp.IsError() {
			s.logger.Warn("webhook rejected threat",
				zap.String("type", t.Type),
				zap.Int("status", resp.StatusCode()))
		}
	}
}
