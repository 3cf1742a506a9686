package models

import (
	"sort"
	"time"
)

type DeliveryStep struct {
	StepType    DeliveryStatus `json:"stepType"`
	Description string         `json:"description"`
	Location    *string        `json:"location,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	IsCompleted bool           `json:"isCompleted"`
}

type PackageInfo struct {
	ID                string         `json:"id"`
	BoxID             string         `json:"boxId"`
	TrackingNumber    string         `json:"trackingNumber"`
	CourierCompany    string         `json:"courierCompany"`
	Status            DeliveryStatus `json:"status"`
	DeliverySteps     []DeliveryStep `json:"deliverySteps"`
	RegisteredAt      time.Time      `json:"registeredAt"`
	LastUpdated       time.Time      `json:"lastUpdated"`
	IsDelivered       bool           `json:"isDelivered"`
	DeliveredAt       *time.Time     `json:"deliveredAt,omitempty"`
	EstimatedDelivery *time.Time     `json:"estimatedDelivery,omitempty"`
	IsAutoDetected    bool           `json:"isAutoDetected"`
	Confidence        float64        `json:"confidence"`
	IsHidden          bool           `json:"isHidden"`
}

func (p *PackageInfo) ProgressPercent() int {
	return ProgressPercent(p.Status)
}

// CurrentStep returns the step with the latest timestamp, or nil.
func (p *PackageInfo) CurrentStep() *DeliveryStep {
	var cur *DeliveryStep
	for i := range p.DeliverySteps {
		s := &p.DeliverySteps[i]
		if cur == nil || !s.Timestamp.Before(cur.Timestamp) {
			cur = s
		}
	}
	return cur
}

// SortSteps orders steps by timestamp. Steps with equal timestamps keep
// the order the carrier reported them in.
func SortSteps(steps []DeliveryStep) {
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Timestamp.Before(steps[j].Timestamp)
	})
}
