package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/banshee-data/spray.report/internal/detect"
	"github.com/banshee-data/spray.report/internal/jobs"
	"github.com/banshee-data/spray.report/internal/maintenance"
	"github.com/banshee-data/spray.report/internal/segment"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig holds every tunable of the monitor. Unset fields fall back
// to the defaults returned by the Get* methods, so partial files are safe.
type TuningConfig struct {
	// Segmentation
	SampleRate       *int     `json:"sample_rate,omitempty"`
	LiveWindow       *string  `json:"live_window,omitempty"` // duration string like "15s"
	MergeGap         *string  `json:"merge_gap,omitempty"`
	MinSessionLength *string  `json:"min_session_length,omitempty"`
	EdgeReadings     *int     `json:"edge_readings,omitempty"`
	WeightPerPulse   *float64 `json:"weight_per_pulse,omitempty"`

	TickInterval *string `json:"tick_interval,omitempty"`

	// Detectors
	BeginningWindow       *string  `json:"beginning_window,omitempty"`
	PartialSpeedRatio     *float64 `json:"partial_speed_ratio,omitempty"`
	PartialPressureRatio  *float64 `json:"partial_pressure_ratio,omitempty"`
	TotalSpeedRatio       *float64 `json:"total_speed_ratio,omitempty"`
	TotalPressureRatio    *float64 `json:"total_pressure_ratio,omitempty"`
	LowPressureRatio      *float64 `json:"low_pressure_ratio,omitempty"`
	RecentSessions        *int     `json:"recent_sessions,omitempty"`
	ImmediateCount        *int     `json:"immediate_count,omitempty"`
	DeviationLimit        *float64 `json:"deviation_limit,omitempty"`
	MalfunctionWindow     *string  `json:"malfunction_window,omitempty"`
	ImmediateMinRemaining *string  `json:"immediate_min_remaining,omitempty"`
	DedupWindow           *string  `json:"dedup_window,omitempty"`

	// Maintenance
	PumpLifeDays   *int `json:"pump_life_days,omitempty"`
	FilterLifeDays *int `json:"filter_life_days,omitempty"`

	// Filter-life estimator
	FilterEvery       *int     `json:"filter_every,omitempty"`
	FilterMinAge      *string  `json:"filter_min_age,omitempty"`
	Tier3Sessions     *int     `json:"tier3_sessions,omitempty"`
	FilterDropRatio   *float64 `json:"filter_drop_ratio,omitempty"`
	FilterTargetRatio *float64 `json:"filter_target_ratio,omitempty"`
	FilterLowDays     *float64 `json:"filter_low_days,omitempty"`

	// Batch jobs
	ReconcileInterval   *string `json:"reconcile_interval,omitempty"`
	CompactSchedule     *string `json:"compact_schedule,omitempty"` // cron with seconds field
	CompactKeepSessions *int    `json:"compact_keep_sessions,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches the current directory and its parents. Panics if the file
// cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// cronParser accepts the six-field specs the job controller schedules.
var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	durations := map[string]*string{
		"live_window":             c.LiveWindow,
		"merge_gap":               c.MergeGap,
		"min_session_length":      c.MinSessionLength,
		"tick_interval":           c.TickInterval,
		"beginning_window":        c.BeginningWindow,
		"malfunction_window":      c.MalfunctionWindow,
		"immediate_min_remaining": c.ImmediateMinRemaining,
		"dedup_window":            c.DedupWindow,
		"filter_min_age":          c.FilterMinAge,
		"reconcile_interval":      c.ReconcileInterval,
	}
	for name, v := range durations {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, d)
		}
	}
	for name, v := range map[string]*string{"tick_interval": c.TickInterval, "reconcile_interval": c.ReconcileInterval} {
		if v != nil && *v != "" && getDuration(v, 0) == 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	ratios := map[string]*float64{
		"partial_speed_ratio":    c.PartialSpeedRatio,
		"partial_pressure_ratio": c.PartialPressureRatio,
		"total_speed_ratio":      c.TotalSpeedRatio,
		"total_pressure_ratio":   c.TotalPressureRatio,
		"low_pressure_ratio":     c.LowPressureRatio,
		"filter_drop_ratio":      c.FilterDropRatio,
		"filter_target_ratio":    c.FilterTargetRatio,
	}
	for name, v := range ratios {
		if v != nil && (*v <= 0 || *v > 1) {
			return fmt.Errorf("%s must be in (0, 1], got %f", name, *v)
		}
	}

	counts := map[string]*int{
		"sample_rate":           c.SampleRate,
		"edge_readings":         c.EdgeReadings,
		"recent_sessions":       c.RecentSessions,
		"pump_life_days":        c.PumpLifeDays,
		"filter_life_days":      c.FilterLifeDays,
		"filter_every":          c.FilterEvery,
		"tier3_sessions":        c.Tier3Sessions,
		"compact_keep_sessions": c.CompactKeepSessions,
	}
	for name, v := range counts {
		if v != nil && *v < 1 {
			return fmt.Errorf("%s must be positive, got %d", name, *v)
		}
	}
	if c.ImmediateCount != nil && *c.ImmediateCount < 0 {
		return fmt.Errorf("immediate_count must be non-negative, got %d", *c.ImmediateCount)
	}
	if c.WeightPerPulse != nil && *c.WeightPerPulse <= 0 {
		return fmt.Errorf("weight_per_pulse must be positive, got %f", *c.WeightPerPulse)
	}
	if c.DeviationLimit != nil && *c.DeviationLimit <= 0 {
		return fmt.Errorf("deviation_limit must be positive, got %f", *c.DeviationLimit)
	}
	if c.CompactSchedule != nil && *c.CompactSchedule != "" {
		if _, err := cronParser.Parse(*c.CompactSchedule); err != nil {
			return fmt.Errorf("invalid compact_schedule '%s': %w", *c.CompactSchedule, err)
		}
	}
	return nil
}

func getDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

func getInt(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func getFloat(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// GetTickInterval returns the monitoring loop period.
func (c *TuningConfig) GetTickInterval() time.Duration {
	return getDuration(c.TickInterval, 15*time.Second)
}

// GetDedupWindow returns how long a de-duplicated alert suppresses repeats.
func (c *TuningConfig) GetDedupWindow() time.Duration {
	return getDuration(c.DedupWindow, 24*time.Hour)
}

// SegmentConfig builds the segmenter parameters.
func (c *TuningConfig) SegmentConfig() segment.Config {
	def := segment.DefaultConfig()
	mergeGap := getDuration(c.MergeGap, def.MergeGap)
	return segment.Config{
		SampleRate:       getInt(c.SampleRate, def.SampleRate),
		Window:           getDuration(c.LiveWindow, def.Window),
		MergeGap:         mergeGap,
		MinSessionLength: getDuration(c.MinSessionLength, mergeGap),
		EdgeReadings:     getInt(c.EdgeReadings, def.EdgeReadings),
		WeightPerPulse:   getFloat(c.WeightPerPulse, def.WeightPerPulse),
	}
}

// Thresholds builds the detector thresholds.
func (c *TuningConfig) Thresholds() detect.Thresholds {
	def := detect.DefaultThresholds()
	return detect.Thresholds{
		SampleRate:            getInt(c.SampleRate, def.SampleRate),
		BeginningWindow:       getDuration(c.BeginningWindow, def.BeginningWindow),
		PartialSpeedRatio:     getFloat(c.PartialSpeedRatio, def.PartialSpeedRatio),
		PartialPressureRatio:  getFloat(c.PartialPressureRatio, def.PartialPressureRatio),
		TotalSpeedRatio:       getFloat(c.TotalSpeedRatio, def.TotalSpeedRatio),
		TotalPressureRatio:    getFloat(c.TotalPressureRatio, def.TotalPressureRatio),
		LowPressureRatio:      getFloat(c.LowPressureRatio, def.LowPressureRatio),
		RecentSessions:        getInt(c.RecentSessions, def.RecentSessions),
		ImmediateCount:        getInt(c.ImmediateCount, def.ImmediateCount),
		DeviationLimit:        getFloat(c.DeviationLimit, def.DeviationLimit),
		AlertWindow:           getDuration(c.MalfunctionWindow, def.AlertWindow),
		ImmediateMinRemaining: getDuration(c.ImmediateMinRemaining, def.ImmediateMinRemaining),
	}
}

// MaintenanceConfig builds the default service lives.
func (c *TuningConfig) MaintenanceConfig() maintenance.Config {
	cfg := maintenance.DefaultConfig()
	if c.PumpLifeDays != nil {
		cfg.PumpLife = time.Duration(*c.PumpLifeDays) * 24 * time.Hour
	}
	if c.FilterLifeDays != nil {
		cfg.FilterLife = time.Duration(*c.FilterLifeDays) * 24 * time.Hour
	}
	return cfg
}

// FilterConfig builds the filter-life estimator parameters.
func (c *TuningConfig) FilterConfig() maintenance.FilterConfig {
	def := maintenance.DefaultFilterConfig()
	return maintenance.FilterConfig{
		Every:         getInt(c.FilterEvery, def.Every),
		MinAge:        getDuration(c.FilterMinAge, def.MinAge),
		Tier3Sessions: getInt(c.Tier3Sessions, def.Tier3Sessions),
		DropRatio:     getFloat(c.FilterDropRatio, def.DropRatio),
		TargetRatio:   getFloat(c.FilterTargetRatio, def.TargetRatio),
		LowDays:       getFloat(c.FilterLowDays, def.LowDays),
	}
}

// JobsConfig builds the job controller schedule.
func (c *TuningConfig) JobsConfig() jobs.Config {
	def := jobs.DefaultConfig()
	schedule := def.CompactSchedule
	if c.CompactSchedule != nil {
		schedule = *c.CompactSchedule
	}
	return jobs.Config{
		Interval:        getDuration(c.ReconcileInterval, def.Interval),
		CompactSchedule: schedule,
		KeepSessions:    getInt(c.CompactKeepSessions, def.KeepSessions),
		Segment:         c.SegmentConfig(),
	}
}
