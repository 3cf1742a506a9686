package extractor

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/LockerBox/internal/broker/messages"
	"github.com/BearBump/LockerBox/internal/models"
	"github.com/pkg/errors"
)

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Pipeline feeds notifications through an Extractor and announces every
// detection on the detected topic. Detections are candidates only.
type Pipeline struct {
	ex    *Extractor
	pub   Publisher
	topic string
	now   func() time.Time
}

func NewPipeline(ex *Extractor, pub Publisher, topic string) *Pipeline {
	if topic == "" {
		topic = messages.TopicPackageDetected
	}
	return &Pipeline{ex: ex, pub: pub, topic: topic, now: func() time.Time { return time.Now().UTC() }}
}

// Handle processes one notification. A notification that is not about a
// delivery yields ok=false and no error.
func (p *Pipeline) Handle(ctx context.Context, ev models.NotificationEvent) (models.ExtractedPackageInfo, bool, error) {
	info, ok := p.ex.Extract(ev)
	if !ok {
		return models.ExtractedPackageInfo{}, false, nil
	}
	if p.pub == nil {
		return info, true, nil
	}

	b, err := json.Marshal(messages.PackageDetected{
		UserID:     ev.UserID,
		DetectedAt: p.now(),
		Detection:  info,
	})
	if err != nil {
		return info, true, errors.Wrap(err, "marshal detection")
	}
	if err := p.pub.Publish(ctx, p.topic, []byte(ev.UserID), b); err != nil {
		return info, true, errors.Wrap(err, "publish detection")
	}
	return info, true, nil
}

// Run consumes events until ctx is done or the channel is closed. Publish
// failures are logged and do not stop the loop.
func (p *Pipeline) Run(ctx context.Context, events <-chan models.NotificationEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			info, detected, err := p.Handle(ctx, ev)
			if err != nil {
				slog.Error("detection publish failed", "source_app", ev.SourceApp, "error", err.Error())
				continue
			}
			if detected {
				slog.Info("package detected",
					"source_app", ev.SourceApp,
					"courier", info.CourierCompany,
					"confidence", info.Confidence,
				)
			}
		}
	}
}
