// Package temporal detects weekly activity cycles and turns them, together
// with active threats, into forecast scenarios.
package temporal

import (
	"fmt"
	"time"

	"github.com/rcliao/accessmind/internal/config"
	"github.com/rcliao/accessmind/internal/model"
)

const (
	week        = 7 * 24 * time.Hour
	preparation = "Prepare for increased activity"
)

// Histogram counts events per weekday and hour of day.
type Histogram [7][24]int

// DayTotal returns the number of events on weekday d.
func (h *Histogram) DayTotal(d time.Weekday) int {
	total := 0
	for _, n := range h[d] {
		total += n
	}
	return total
}

// PeakHour returns the busiest hour of weekday d.
func (h *Histogram) PeakHour(d time.Weekday) int {
	peak := 0
	for hour, n := range h[d] {
		if n > h[d][peak] {
			peak = hour
		}
	}
	return peak
}

// Forecaster builds temporal state from the ledger.
type Forecaster struct {
	cfg config.TemporalConfig
	loc *time.Location
}

// New creates a forecaster bucketing timestamps in loc. A nil loc uses UTC.
func New(cfg config.TemporalConfig, loc *time.Location) *Forecaster {
	if loc == nil {
		loc = time.UTC
	}
	return &Forecaster{cfg: cfg, loc: loc}
}

// Bucket builds the weekday by hour histogram of events.
func (f *Forecaster) Bucket(events []model.Event) *Histogram {
	var h Histogram
	for _, ev := range events {
		t := ev.Timestamp.In(f.loc)
		h[t.Weekday()][t.Hour()]++
	}
	return &h
}

// Forecast computes a fresh temporal state. ok is false when the ledger holds
// fewer events than the configured minimum; the previous state should then be
// kept as is.
func (f *Forecaster) Forecast(now time.Time, events []model.Event, threats []model.Threat) (state model.TemporalState, ok bool) {
	if len(events) < f.cfg.MinEvents {
		return model.TemporalState{}, false
	}
	cycles := f.Cycles(now, f.Bucket(events))
	return model.TemporalState{
		Cycles:    cycles,
		Scenarios: f.Scenarios(now, cycles, threats),
		UpdatedAt: now,
	}, true
}

// Cycles emits one weekly cycle per weekday whose total exceeds the day threshold.
func (f *Forecaster) Cycles(now time.Time, h *Histogram) []model.CyclicalPattern {
	var out []model.CyclicalPattern
	for d := time.Sunday; d <= time.Saturday; d++ {
		total := h.DayTotal(d)
		if total <= f.cfg.DayThreshold {
			continue
		}
		out = append(out, model.CyclicalPattern{
			Label:          fmt.Sprintf("%s activity", d),
			Weekday:        d,
			PeakHour:       h.PeakHour(d),
			Confidence:     min(0.9, 0.5+float64(total)/30),
			Period:         week,
			NextOccurrence: now.AddDate(0, 0, DaysUntil(now.In(f.loc).Weekday(), d)),
		})
	}
	return out
}

// Scenarios merges cycle and threat scenarios. The result replaces any
// previous scenario list.
func (f *Forecaster) Scenarios(now time.Time, cycles []model.CyclicalPattern, threats []model.Threat) []model.Scenario {
	var out []model.Scenario
	for _, c := range cycles {
		if c.Confidence <= f.cfg.ScenarioThreshold {
			continue
		}
		out = append(out, model.Scenario{
			Description:  fmt.Sprintf("Elevated %s expected", c.Label),
			Probability:  c.Confidence,
			Desirability: 0.5,
			HorizonDays:  DaysUntil(now.In(f.loc).Weekday(), c.Weekday),
			Mitigation:   []string{preparation},
		})
	}
	for _, t := range threats {
		horizon := 7
		if t.Timeframe == model.TimeframeImmediate {
			horizon = 1
		}
		out = append(out, model.Scenario{
			Description:  t.Title,
			Probability:  t.Likelihood,
			Desirability: 1 - t.Impact,
			HorizonDays:  horizon,
			Mitigation:   append([]string(nil), t.Mitigation...),
		})
	}
	return out
}

// DaysUntil returns how many days ahead the next to occurs after from, in 1..7.
func DaysUntil(from, to time.Weekday) int {
	d := (int(to) - int(from) + 7) % 7
	if d == 0 {
		d = 7
	}
	return d
}
