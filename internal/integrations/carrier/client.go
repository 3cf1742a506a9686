package carrier

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrUnavailable means the tracking API itself could not be reached
	// (dial error, connection refused). An HTTP error status for one parcel
	// is not ErrUnavailable.
	ErrUnavailable = errors.New("tracking api unavailable")
	// ErrTrackNotFound means the carrier does not know the tracking number (yet).
	ErrTrackNotFound = errors.New("track not found")
	// ErrRateLimited is returned on HTTP 429.
	ErrRateLimited = errors.New("tracking api rate limit")
)

type Progress struct {
	Time           time.Time
	StatusText     string
	LocationName   string
	LocationDetail string
	Description    string
}

type TrackResponse struct {
	TrackingNumber    string
	CarrierName       string
	Progresses        []Progress
	EstimatedDelivery *time.Time
}

type Client interface {
	GetTrack(ctx context.Context, carrierID, trackID string) (TrackResponse, error)
}
