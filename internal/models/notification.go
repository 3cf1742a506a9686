package models

import "time"

// NotificationEvent is one OS notification forwarded by the device.
type NotificationEvent struct {
	UserID    string    `json:"userId,omitempty"`
	SourceApp string    `json:"sourceApp"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	BigText   string    `json:"bigText,omitempty"`
	PostedAt  time.Time `json:"postedAt,omitempty"`
}

// ExtractedPackageInfo is a candidate detection. It is shown to the user
// for confirmation and never written to the store directly.
type ExtractedPackageInfo struct {
	TrackingNumber     string  `json:"trackingNumber"`
	CourierCompany     string  `json:"courierCompany"`
	Confidence         float64 `json:"confidence"`
	RedactedSourceText string  `json:"redactedSourceText"`
	SourceApp          string  `json:"sourceApp,omitempty"`
}
