// Package status evaluates snapshots against alert thresholds and derives
// an overall health level for the dashboard header.
package status

import (
	"fmt"
	"time"

	"gitlab.com/tinyland/lab/sysmon/collectors"
)

// Level represents system health.
type Level int

const (
	LevelHealthy  Level = iota // Everything normal
	LevelWarning               // Something needs attention
	LevelCritical              // Immediate attention needed
	LevelUnknown               // Insufficient data
)

// String returns the human-readable name for a Level.
func (l Level) String() string {
	switch l {
	case LevelHealthy:
		return "healthy"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelUnknown:
		return "unknown"
	default:
		return "unknown"
	}
}

// levelSeverity returns the sort order for levels. Higher is worse.
// Critical > Warning > Unknown > Healthy.
func levelSeverity(l Level) int {
	switch l {
	case LevelHealthy:
		return 0
	case LevelUnknown:
		return 1
	case LevelWarning:
		return 2
	case LevelCritical:
		return 3
	default:
		return 0
	}
}

// worstLevel returns whichever Level is more severe.
func worstLevel(a, b Level) Level {
	if levelSeverity(a) >= levelSeverity(b) {
		return a
	}
	return b
}

// ComponentStatus holds the evaluation result for a single metric.
type ComponentStatus struct {
	Component collectors.Category
	Level     Level
	Reason    string
	Value     float64
}

// SystemStatus is the aggregate evaluation result.
type SystemStatus struct {
	Overall     Level // Worst of all components
	Components  []ComponentStatus
	EvaluatedAt time.Time
}

// EvaluatorConfig holds thresholds for evaluation rules. All values are
// percentages.
type EvaluatorConfig struct {
	Enabled bool

	CPUThreshold    float64 // Default: 80.0
	MemoryThreshold float64 // Default: 85.0
	DiskThreshold   float64 // Default: 90.0

	// CriticalPercent is where a crossed threshold escalates from warning
	// to critical. Default: 95.0
	CriticalPercent float64
}

// DefaultEvaluatorConfig returns an EvaluatorConfig with sensible defaults.
func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		Enabled:         true,
		CPUThreshold:    80.0,
		MemoryThreshold: 85.0,
		DiskThreshold:   90.0,
		CriticalPercent: 95.0,
	}
}

// Evaluator analyzes snapshots and determines system health.
type Evaluator struct {
	config EvaluatorConfig
}

// NewEvaluator creates an Evaluator with the given configuration.
func NewEvaluator(cfg EvaluatorConfig) *Evaluator {
	if cfg.CriticalPercent <= 0 {
		cfg.CriticalPercent = 95.0
	}
	return &Evaluator{config: cfg}
}

// Evaluate runs all evaluation rules and returns the aggregate status.
func (e *Evaluator) Evaluate(snap collectors.Snapshot) SystemStatus {
	components := []ComponentStatus{
		e.evaluateCPU(snap),
		e.evaluateMemory(snap),
		e.evaluateDisk(snap),
	}

	overall := components[0].Level
	for _, c := range components[1:] {
		overall = worstLevel(overall, c.Level)
	}

	return SystemStatus{
		Overall:     overall,
		Components:  components,
		EvaluatedAt: snap.Timestamp,
	}
}

// Alerts returns an alert for every metric at or above its threshold. It
// returns nil when alerting is disabled.
func (e *Evaluator) Alerts(snap collectors.Snapshot) []collectors.Alert {
	if !e.config.Enabled {
		return nil
	}

	var alerts []collectors.Alert
	for _, c := range e.Evaluate(snap).Components {
		if c.Level != LevelWarning && c.Level != LevelCritical {
			continue
		}
		severity := collectors.SeverityWarning
		if c.Level == LevelCritical {
			severity = collectors.SeverityCritical
		}
		alerts = append(alerts, collectors.Alert{
			Timestamp:    snap.Timestamp,
			Type:         c.Component,
			Severity:     severity,
			Message:      c.Reason,
			CurrentValue: c.Value,
			Threshold:    e.threshold(c.Component),
		})
	}
	return alerts
}

func (e *Evaluator) threshold(cat collectors.Category) float64 {
	switch cat {
	case collectors.CategoryCPU:
		return e.config.CPUThreshold
	case collectors.CategoryMemory:
		return e.config.MemoryThreshold
	case collectors.CategoryDisk:
		return e.config.DiskThreshold
	default:
		return 0
	}
}

// evaluateCPU checks overall CPU utilisation.
func (e *Evaluator) evaluateCPU(snap collectors.Snapshot) ComponentStatus {
	if snap.CPU == nil {
		return unknown(collectors.CategoryCPU, snap)
	}
	return e.classify(collectors.CategoryCPU, "CPU usage", snap.CPU.Percent)
}

// evaluateMemory checks virtual memory usage.
func (e *Evaluator) evaluateMemory(snap collectors.Snapshot) ComponentStatus {
	if snap.Memory == nil {
		return unknown(collectors.CategoryMemory, snap)
	}
	return e.classify(collectors.CategoryMemory, "Memory usage", snap.Memory.Percent)
}

// evaluateDisk checks the fullest mount.
func (e *Evaluator) evaluateDisk(snap collectors.Snapshot) ComponentStatus {
	pct, ok := snap.MaxDiskPercent()
	if !ok {
		return unknown(collectors.CategoryDisk, snap)
	}
	return e.classify(collectors.CategoryDisk, "Disk usage", pct)
}

func (e *Evaluator) classify(cat collectors.Category, label string, value float64) ComponentStatus {
	threshold := e.threshold(cat)
	cs := ComponentStatus{
		Component: cat,
		Level:     LevelHealthy,
		Reason:    fmt.Sprintf("%s is %.1f%%", label, value),
		Value:     value,
	}
	switch {
	case value >= e.config.CriticalPercent && value >= threshold:
		cs.Level = LevelCritical
	case value >= threshold:
		cs.Level = LevelWarning
	}
	return cs
}

func unknown(cat collectors.Category, snap collectors.Snapshot) ComponentStatus {
	reason := snap.Reason(cat)
	if reason == "" {
		reason = "no data"
	}
	return ComponentStatus{
		Component: cat,
		Level:     LevelUnknown,
		Reason:    reason,
	}
}
