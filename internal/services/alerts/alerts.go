// Package alerts turns package status changes into human-readable alerts.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BearBump/LockerBox/internal/broker/messages"
	"github.com/BearBump/LockerBox/internal/models"
	"github.com/pkg/errors"
)

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

var statusLabels = map[models.DeliveryStatus]string{
	models.StatusRegistered:     "접수",
	models.StatusPickedUp:       "집하",
	models.StatusInTransit:      "배송중",
	models.StatusOutForDelivery: "배송출발",
	models.StatusInBox:          "택배함 보관",
	models.StatusDelivered:      "수령 완료",
}

type Service struct {
	n Notifier
}

// New returns a Service. With a nil notifier alerts are only logged.
func New(n Notifier) *Service {
	return &Service{n: n}
}

func (s *Service) HandleStatusChanged(ctx context.Context, msg messages.PackageStatusChanged) error {
	if msg.PackageID == "" {
		return errors.New("package_id is required")
	}
	text := Format(msg)
	if s.n == nil {
		slog.Info("status alert", "box_id", msg.BoxID, "package_id", msg.PackageID, "text", text)
		return nil
	}
	if err := s.n.Notify(ctx, text); err != nil {
		return errors.Wrap(err, "notify")
	}
	return nil
}

// Format renders one alert line, e.g. "📦 [BOX-1] CJ대한통운 1234567890: 배송중 → 배송출발 (75%)".
func Format(msg messages.PackageStatusChanged) string {
	var b strings.Builder
	b.WriteString("📦 ")
	if msg.BoxID != "" {
		fmt.Fprintf(&b, "[%s] ", msg.BoxID)
	}
	if msg.CourierCompany != "" {
		b.WriteString(msg.CourierCompany)
		b.WriteByte(' ')
	}
	b.WriteString(msg.TrackingNumber)
	b.WriteString(": ")
	if msg.PreviousStatus != "" {
		b.WriteString(label(msg.PreviousStatus))
		b.WriteString(" → ")
	}
	b.WriteString(label(msg.Status))
	fmt.Fprintf(&b, " (%d%%)", models.ProgressPercent(msg.Status))
	return b.String()
}

func label(s models.DeliveryStatus) string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}
