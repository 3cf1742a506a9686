package reconciler

import (
	"strings"

	"github.com/BearBump/LockerBox/internal/integrations/carrier"
	"github.com/BearBump/LockerBox/internal/models"
)

type stepRule struct {
	status   models.DeliveryStatus
	keywords []string
}

// Checked top to bottom. Locker keywords come before "delivered" because
// couriers report a locker drop-off as a completed delivery.
var stepRules = []stepRule{
	{models.StatusInBox, []string{"보관함", "택배함", "무인함", "락커", "locker"}},
	{models.StatusDelivered, []string{"배달완료", "배송완료", "delivered"}},
	{models.StatusOutForDelivery, []string{"배송출발", "배달출발", "배달준비", "배달중", "배송중", "out for delivery"}},
	{models.StatusInTransit, []string{"간선", "하차", "이동중", "터미널", "입고", "출고", "in transit"}},
	{models.StatusPickedUp, []string{"상차", "수거", "집하", "집화", "picked up"}},
	{models.StatusRegistered, []string{"접수", "운송장 발급", "운송장발급", "registered"}},
}

// stepTypeOf maps carrier free text to a step type. Text that matches
// nothing is treated as movement between hubs.
func stepTypeOf(statusText, description string) models.DeliveryStatus {
	text := strings.ToLower(statusText + " " + description)
	for _, rule := range stepRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.status
			}
		}
	}
	return models.StatusInTransit
}

// buildSteps converts carrier progress entries into steps ordered by time.
// Entries without a timestamp cannot be ordered and are dropped.
func buildSteps(progresses []carrier.Progress) []models.DeliveryStep {
	steps := make([]models.DeliveryStep, 0, len(progresses))
	for _, pr := range progresses {
		if pr.Time.IsZero() {
			continue
		}
		desc := strings.TrimSpace(pr.Description)
		if desc == "" {
			desc = strings.TrimSpace(pr.StatusText)
		}
		var loc *string
		if name := strings.TrimSpace(pr.LocationName); name != "" {
			loc = &name
		}
		steps = append(steps, models.DeliveryStep{
			StepType:    stepTypeOf(pr.StatusText, pr.Description),
			Description: desc,
			Location:    loc,
			Timestamp:   pr.Time.UTC(),
			IsCompleted: true,
		})
	}
	models.SortSteps(steps)
	return steps
}
