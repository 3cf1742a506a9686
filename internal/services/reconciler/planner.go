package reconciler

import (
	"math/rand"
	"time"
)

type Rand interface {
	Intn(n int) int
}

type PlannerConfig struct {
	Interval time.Duration // default: 60 minutes
	Jitter   time.Duration // default: 5 minutes

	Backoff1 time.Duration // default: 5 minutes
	Backoff2 time.Duration // default: 15 minutes
	Backoff3 time.Duration // default: 30 minutes
	Backoff4 time.Duration // default: 60 minutes
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		Interval: 60 * time.Minute,
		Jitter:   5 * time.Minute,

		Backoff1: 5 * time.Minute,
		Backoff2: 15 * time.Minute,
		Backoff3: 30 * time.Minute,
		Backoff4: 60 * time.Minute,
	}
}

type Planner struct {
	cfg PlannerConfig
	r   Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

// NextRunDelay is the pause after a successful run: the interval plus up
// to Jitter, so replicas started together drift apart.
func (p *Planner) NextRunDelay() time.Duration {
	sec := int(p.cfg.Jitter.Seconds())
	if sec <= 0 {
		return p.cfg.Interval
	}
	return p.cfg.Interval + time.Duration(p.r.Intn(sec+1))*time.Second
}

// BackoffDelay is the pause after the n-th failed run in a row.
func (p *Planner) BackoffDelay(failCount int32) time.Duration {
	switch {
	case failCount <= 1:
		return p.cfg.Backoff1
	case failCount == 2:
		return p.cfg.Backoff2
	case failCount == 3:
		return p.cfg.Backoff3
	default:
		return p.cfg.Backoff4
	}
}
