// Package share forwards reports to the social feed through the message queue.
package share

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/pothole-detector/apiserver/internal/mq"
	"github.com/pothole-detector/apiserver/types"
)

const contentTypeJSON = "application/json"

// Event is the message published for each shared report.
type Event struct {
	ReportID   string         `json:"reportId"`
	UserID     string         `json:"userId"`
	ImageURL   string         `json:"imageUrl"`
	Location   types.Location `json:"location"`
	Confidence float64        `json:"confidence"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// NewEvent describes report as a share event.
func NewEvent(report types.Report) Event {
	return Event{
		ReportID:   report.ID,
		UserID:     report.UserID,
		ImageURL:   report.ImageURL,
		Location:   report.Location,
		Confidence: report.DetectionResultPercentage,
		CreatedAt:  report.CreatedAt,
	}
}

// Publisher puts share events on a queue channel.
type Publisher struct {
	queue   *mq.MQ
	channel string
}

func NewPublisher(queue *mq.MQ, channel string) (*Publisher, error) {
	if queue == nil {
		return nil, errors.New("share publisher requires a queue")
	}
	if channel == "" {
		return nil, errors.New("share channel is required")
	}
	return &Publisher{queue: queue, channel: channel}, nil
}

// Publish sends the report's share event.
func (p *Publisher) Publish(ctx context.Context, report types.Report) error {
	data, err := json.Marshal(NewEvent(report))
	if err != nil {
		return err
	}
	_, err = p.queue.Publish(ctx, p.channel, data, map[string]string{
		mq.AttrContentType: contentTypeJSON,
		"report-id":        report.ID,
	})
	return err
}
