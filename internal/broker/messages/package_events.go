package messages

import (
	"time"

	"github.com/BearBump/LockerBox/internal/models"
)

const (
	TopicPackageStatusChanged = "package.status_changed"
	TopicPackageDetected      = "package.detected"
	// Raw device notifications (models.NotificationEvent), keyed by user id.
	TopicNotificationReceived = "notification.received"
)

type PackageStatusChanged struct {
	BoxID           string                `json:"box_id"`
	PackageID       string                `json:"package_id"`
	TrackingNumber  string                `json:"tracking_number"`
	CourierCompany  string                `json:"courier_company"`
	PreviousStatus  models.DeliveryStatus `json:"previous_status"`
	Status          models.DeliveryStatus `json:"status"`
	ProgressPercent int                   `json:"progress_percent"`
	ChangedAt       time.Time             `json:"changed_at"`

	Package *models.PackageInfo `json:"package,omitempty"`
}

type PackageDetected struct {
	UserID     string                      `json:"user_id,omitempty"`
	DetectedAt time.Time                   `json:"detected_at"`
	Detection  models.ExtractedPackageInfo `json:"detection"`
}
