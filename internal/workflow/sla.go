package workflow

import (
	"strings"
	"time"
)

// Classification is the SLA bucket of a purchase request at a point in time.
type Classification string

const (
	SLAOnTime    Classification = "on_time"
	SLAWarning   Classification = "warning"
	SLAOverdue   Classification = "overdue"
	SLACompleted Classification = "completed"
)

const (
	DefaultSLAThreshold = 48 * time.Hour
	DefaultWarningRatio = 0.3
)

// SLAPolicy holds the due-time thresholds.
type SLAPolicy struct {
	Default      time.Duration
	PerStatus    map[Status]time.Duration
	WarningRatio float64
}

// DefaultSLAPolicy is 48 hours for every status with a 30% warning band.
func DefaultSLAPolicy() SLAPolicy {
	return SLAPolicy{Default: DefaultSLAThreshold, WarningRatio: DefaultWarningRatio}
}

// NewSLAPolicy builds a policy from hour values keyed by status name in any case.
// Unknown status names are ignored.
func NewSLAPolicy(defaultHours, warningRatio float64, statusHours map[string]float64) SLAPolicy {
	p := SLAPolicy{
		Default:      hours(defaultHours),
		WarningRatio: warningRatio,
		PerStatus:    make(map[Status]time.Duration, len(statusHours)),
	}
	if p.Default <= 0 {
		p.Default = DefaultSLAThreshold
	}
	if p.WarningRatio <= 0 || p.WarningRatio >= 1 {
		p.WarningRatio = DefaultWarningRatio
	}
	for name, h := range statusHours {
		st, err := ParseStatus(strings.ToUpper(name))
		if err != nil || h <= 0 {
			continue
		}
		p.PerStatus[st] = hours(h)
	}
	return p
}

// ThresholdFor returns the time budget of status s.
func (p SLAPolicy) ThresholdFor(s Status) time.Duration {
	if d, ok := p.PerStatus[s]; ok {
		return d
	}
	if p.Default <= 0 {
		return DefaultSLAThreshold
	}
	return p.Default
}

// SLAStatus is the clock reading for one purchase request.
type SLAStatus struct {
	Status            Status         `json:"status"`
	Classification    Classification `json:"classification"`
	ElapsedHours      float64        `json:"elapsed_hours"`
	RemainingHours    float64        `json:"remaining_hours"`
	ThresholdHours    float64        `json:"threshold_hours"`
	DueAt             *time.Time     `json:"due_at,omitempty"`
	CompletionPercent float64        `json:"completion_percent"`
}

// EvaluateSLA classifies how long status has been held since lastTransitionAt.
// It has no side effects.
func (p SLAPolicy) EvaluateSLA(status Status, lastTransitionAt, now time.Time) SLAStatus {
	threshold := p.ThresholdFor(status)
	elapsed := now.Sub(lastTransitionAt)
	if elapsed < 0 {
		elapsed = 0
	}

	out := SLAStatus{
		Status:            status,
		ElapsedHours:      elapsed.Hours(),
		ThresholdHours:    threshold.Hours(),
		CompletionPercent: status.CompletionPercent(),
	}

	if status.IsTerminal() {
		out.Classification = SLACompleted
		return out
	}

	due := lastTransitionAt.Add(threshold)
	remaining := threshold - elapsed
	out.DueAt = &due
	out.RemainingHours = remaining.Hours()

	ratio := p.WarningRatio
	if ratio <= 0 || ratio >= 1 {
		ratio = DefaultWarningRatio
	}
	switch {
	case remaining <= 0:
		out.Classification = SLAOverdue
	case float64(remaining)/float64(threshold) > ratio:
		out.Classification = SLAOnTime
	default:
		out.Classification = SLAWarning
	}
	return out
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
