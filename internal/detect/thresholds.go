package detect

import "time"

// Thresholds are the detector tuning constants. The blockage ratios and the
// malfunction escalation windows are empirical and kept configurable.
type Thresholds struct {
	SampleRate      int
	BeginningWindow time.Duration

	PartialSpeedRatio    float64
	PartialPressureRatio float64
	TotalSpeedRatio      float64
	TotalPressureRatio   float64

	LowPressureRatio float64

	RecentSessions        int
	ImmediateCount        int
	DeviationLimit        float64
	AlertWindow           time.Duration
	ImmediateMinRemaining time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		SampleRate:            10,
		BeginningWindow:       5 * time.Second,
		PartialSpeedRatio:     0.8,
		PartialPressureRatio:  0.9,
		TotalSpeedRatio:       0.1,
		TotalPressureRatio:    0.4,
		LowPressureRatio:      0.9,
		RecentSessions:        10,
		ImmediateCount:        5,
		DeviationLimit:        0.15,
		AlertWindow:           5 * 24 * time.Hour,
		ImmediateMinRemaining: 24 * time.Hour,
	}
}

// referenceSize is the number of leading cycle readings the blockage
// detector compares against.
func (t Thresholds) referenceSize() int {
	return int(t.BeginningWindow.Seconds() * float64(t.SampleRate))
}
