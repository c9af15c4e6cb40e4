package queue

import (
	"fmt"
	"math"

	"github.com/smartslot/smartslot/internal/domain/triage"
)

// WaitConfig holds the tunable wait-time constants.
type WaitConfig struct {
	BaseMinutes      float64
	HighMultiplier   float64
	MediumMultiplier float64
	LowMultiplier    float64
}

// DefaultWaitConfig returns 15 minutes per patient scaled by 0.5/0.8/1.0.
func DefaultWaitConfig() WaitConfig {
	return WaitConfig{
		BaseMinutes:      15,
		HighMultiplier:   0.5,
		MediumMultiplier: 0.8,
		LowMultiplier:    1.0,
	}
}

// Validate rejects non-positive constants.
func (c WaitConfig) Validate() error {
	if c.BaseMinutes <= 0 {
		return fmt.Errorf("wait base minutes must be positive, got %v", c.BaseMinutes)
	}
	if c.HighMultiplier <= 0 || c.MediumMultiplier <= 0 || c.LowMultiplier <= 0 {
		return fmt.Errorf("wait multipliers must be positive")
	}
	return nil
}

// Estimator computes estimated wait minutes from queue position and urgency.
type Estimator struct {
	cfg WaitConfig
}

// NewEstimator creates an Estimator with cfg.
func NewEstimator(cfg WaitConfig) *Estimator {
	return &Estimator{cfg: cfg}
}

// Multiplier returns the scale factor for u. Unknown levels use Low's.
func (e *Estimator) Multiplier(u triage.Urgency) float64 {
	switch u {
	case triage.UrgencyHigh:
		return e.cfg.HighMultiplier
	case triage.UrgencyMedium:
		return e.cfg.MediumMultiplier
	default:
		return e.cfg.LowMultiplier
	}
}

// Estimate returns round(position * base * multiplier(u)).
func (e *Estimator) Estimate(position int, u triage.Urgency) int {
	return int(math.Round(float64(position) * e.cfg.BaseMinutes * e.Multiplier(u)))
}
