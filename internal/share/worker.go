package share

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pothole-detector/apiserver/config"
	"github.com/pothole-detector/apiserver/internal/mq"
	"github.com/sirupsen/logrus"
)

const (
	defaultTimeout = 10 * time.Second
	userAgent      = "pothole-share-worker/1.0"
)

// Worker consumes share events and posts them to the social feed webhook.
type Worker struct {
	queue   *mq.MQ
	channel string
	feedURL string
	apiKey  string
	client  *http.Client
	log     logrus.FieldLogger
}

func NewWorker(queue *mq.MQ, channel string, cfg config.ShareConfig, log logrus.FieldLogger) (*Worker, error) {
	if queue == nil {
		return nil, errors.New("share worker requires a queue")
	}
	if strings.TrimSpace(cfg.FeedURL) == "" {
		return nil, errors.New("share feed url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Worker{
		queue:   queue,
		channel: channel,
		feedURL: cfg.FeedURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}, nil
}

// Run blocks consuming events until ctx is cancelled or the queue is closed.
func (w *Worker) Run(ctx context.Context) error {
	w.log.WithFields(logrus.Fields{
		"channel": w.channel,
		"feed":    w.feedURL,
	}).Info("share worker started")

	err := w.queue.Subscribe(ctx, w.channel, w.Handle)
	if errors.Is(err, context.Canceled) || errors.Is(err, mq.ErrClosed) {
		return nil
	}
	return err
}

// Handle forwards one queued event. Undecodable messages are dropped; feed
// failures are returned so the backend can redeliver.
func (w *Worker) Handle(ctx context.Context, msg mq.Message) error {
	var event Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		w.log.WithError(err).WithField("message_id", msg.ID).Error("dropping malformed share event")
		return nil
	}

	entry := w.log.WithFields(logrus.Fields{
		"message_id": msg.ID,
		"report_id":  event.ReportID,
	})
	if err := w.forward(ctx, event); err != nil {
		entry.WithError(err).Warn("failed to forward share event")
		return err
	}
	entry.Debug("share event forwarded")
	return nil
}

func (w *Worker) forward(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.feedURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("social feed responded %s", resp.Status)
	}
	return nil
}
