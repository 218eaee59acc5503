package model

import (
	"errors"
	"fmt"
)

// StrategyConfig is fixed at construction time.
type StrategyConfig struct {
	Name           string
	Symbols        []string
	CapitalCeiling float64
	LongWindow     int
	ShortWindow    int
	SlopeSpan      int
	MinSlope       float64
	MinSlopeDiff   float64
	TargetProfit   float64
	TrailPercent   float64
}

// WindowSize is the number of closes requested per evaluation.
func (c StrategyConfig) WindowSize() int { return c.LongWindow + 2 }

// Owns reports whether symbol belongs to this strategy's list.
func (c StrategyConfig) Owns(symbol string) bool {
	for _, s := range c.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// Validate checks the parameters for internal consistency.
func (c StrategyConfig) Validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if len(c.Symbols) == 0 {
		errs = append(errs, errors.New("at least one symbol is required"))
	}
	seen := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		if s == "" {
			errs = append(errs, errors.New("empty symbol"))
		}
		if seen[s] {
			errs = append(errs, fmt.Errorf("duplicate symbol %q", s))
		}
		seen[s] = true
	}
	if c.CapitalCeiling <= 0 {
		errs = append(errs, errors.New("capital_ceiling must be positive"))
	}
	if c.ShortWindow < 1 {
		errs = append(errs, errors.New("short_window must be at least 1"))
	}
	if c.LongWindow <= c.ShortWindow {
		errs = append(errs, errors.New("long_window must exceed short_window"))
	}
	if c.SlopeSpan < 1 {
		errs = append(errs, errors.New("slope_span must be at least 1"))
	}
	if c.SlopeSpan > c.WindowSize()-c.LongWindow {
		// the long average must be defined slope_span steps back
		errs = append(errs, fmt.Errorf("slope_span %d leaves no defined long average in a %d-point window", c.SlopeSpan, c.WindowSize()))
	}
	if c.TargetProfit <= 0 {
		errs = append(errs, errors.New("target_profit must be positive"))
	}
	if c.TrailPercent <= 0 || c.TrailPercent >= 100 {
		errs = append(errs, errors.New("trail_percent must be in (0, 100)"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("strategy %q: %w", c.Name, errors.Join(errs...))
	}
	return nil
}
