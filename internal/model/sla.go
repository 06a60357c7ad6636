package model

import "time"

// SLAStatus is the state of an active countdown.
type SLAStatus string

const (
	SLAStatusOK      SLAStatus = "ok"
	SLAStatusWarning SLAStatus = "warning"
	SLAStatusBreach  SLAStatus = "breach"
)

// warningFraction is the remaining share of the SLA window below which a
// countdown enters warning.
const warningFraction = 0.2

var slaStatusRank = map[SLAStatus]int{
	SLAStatusOK:      0,
	SLAStatusWarning: 1,
	SLAStatusBreach:  2,
}

// SLACountdown tracks time-to-breach for one open task or alert entity.
// ThresholdHours is frozen at creation; Status only ever moves forward
// (ok -> warning -> breach) until the countdown is deleted by a resolving
// event.
type SLACountdown struct {
	EntityID       string    `json:"entity_id"`
	EntityType     string    `json:"entity_type"`
	Severity       Severity  `json:"severity"`
	StartTime      time.Time `json:"start_time"`
	ThresholdHours float64   `json:"sla_threshold_hours"`
	RemainingHours float64   `json:"time_remaining_hours"`
	Status         SLAStatus `json:"status"`
}

// Evaluate recomputes RemainingHours and Status as of now. The transition
// is monotonic: a countdown that has reached warning or breach never moves
// back, even if a recomputation would yield a smaller elapsed value.
func (c *SLACountdown) Evaluate(now time.Time) {
	elapsed := now.Sub(c.StartTime).Hours()
	c.RemainingHours = c.ThresholdHours - elapsed

	computed := SLAStatusOK
	switch {
	case c.RemainingHours < 0:
		computed = SLAStatusBreach
	case c.RemainingHours < warningFraction*c.ThresholdHours:
		computed = SLAStatusWarning
	}

	if slaStatusRank[computed] >= slaStatusRank[c.Status] {
		c.Status = computed
	}
}
