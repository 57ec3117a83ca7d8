// Package ranking collapses per-record retrieval evidence into one blended
// score per person, with calibration support for the hand-tuned weights.
package ranking

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// Weights defines the blend of scoring components. All similarity inputs are
// expected in [0, 1].
type Weights struct {
	BestParent float64 `json:"best_parent"` // Weight for the best parent similarity (default: 0.55)
	BestChild  float64 `json:"best_child"`  // Weight for the best child similarity (default: 0.30)
	SimAverage float64 `json:"sim_average"` // Weight for the top-3 similarity average (default: 0.15)

	LexicalScale float64 `json:"lexical_scale"` // Scale for the normalized lexical bonus (default: 0.08)
	LexicalCap   float64 `json:"lexical_cap"`   // Hard cap on the lexical bonus (default: 0.05)

	ShouldBoost float64 `json:"should_boost"` // Per-hit boost for SHOULD matches (default: 0.02)
	ShouldCap   float64 `json:"should_cap"`   // Hard cap on the SHOULD bonus (default: 0.06)

	MissingDatePenalty      float64 `json:"missing_date_penalty"`      // Applied once the time filter was relaxed (default: 0.07)
	LocationMismatchPenalty float64 `json:"location_mismatch_penalty"` // Applied once the location filter was relaxed (default: 0.07)
}

// CalibrationConfig represents the JSON structure of the calibration file.
type CalibrationConfig struct {
	Version string  `json:"version"` // Config version for future compatibility
	Weights Weights `json:"weights"` // Weight configurations
}

// DefaultWeights returns the default scoring weight configuration.
//
// Formula: score = (best_parent * 0.55) + (best_child * 0.30) + (avg_top3 * 0.15)
// plus min(lexical * 0.08, 0.05), plus min(should_hits * 0.02, 0.06),
// minus relaxation penalties. Floor is zero.
func DefaultWeights() *Weights {
	return &Weights{
		BestParent:              0.55,
		BestChild:               0.30,
		SimAverage:              0.15,
		LexicalScale:            0.08,
		LexicalCap:              0.05,
		ShouldBoost:             0.02,
		ShouldCap:               0.06,
		MissingDatePenalty:      0.07,
		LocationMismatchPenalty: 0.07,
	}
}

// LoadCalibration loads scoring weights from a JSON calibration file.
// If the file doesn't exist or can't be read, returns default weights with an
// error. Partial configurations are merged with defaults for graceful
// degradation.
func LoadCalibration(filePath string) (*Weights, error) {
	if filePath == "" {
		return DefaultWeights(), nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		slog.Warn("failed to read calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to read calibration file: %w", err)
	}

	var config CalibrationConfig
	if err := json.Unmarshal(data, &config); err != nil {
		slog.Warn("failed to parse calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to parse calibration file: %w", err)
	}

	defaults := DefaultWeights()
	merged := MergeCalibration(defaults, &config.Weights)
	logCalibrationOverrides(defaults, merged)

	return merged, nil
}

// MergeCalibration merges override weights with default weights. Only
// non-zero values from the override are applied, allowing partial overrides
// in the calibration file.
func MergeCalibration(base *Weights, override *Weights) *Weights {
	if base == nil {
		return DefaultWeights()
	}
	if override == nil {
		result := *base
		return &result
	}

	result := *base

	if override.BestParent != 0 {
		result.BestParent = override.BestParent
	}
	if override.BestChild != 0 {
		result.BestChild = override.BestChild
	}
	if override.SimAverage != 0 {
		result.SimAverage = override.SimAverage
	}
	if override.LexicalScale != 0 {
		result.LexicalScale = override.LexicalScale
	}
	if override.LexicalCap != 0 {
		result.LexicalCap = override.LexicalCap
	}
	if override.ShouldBoost != 0 {
		result.ShouldBoost = override.ShouldBoost
	}
	if override.ShouldCap != 0 {
		result.ShouldCap = override.ShouldCap
	}
	if override.MissingDatePenalty != 0 {
		result.MissingDatePenalty = override.MissingDatePenalty
	}
	if override.LocationMismatchPenalty != 0 {
		result.LocationMismatchPenalty = override.LocationMismatchPenalty
	}

	return &result
}

// logCalibrationOverrides logs which weights were overridden from defaults.
func logCalibrationOverrides(defaults *Weights, loaded *Weights) {
	var overrides []string

	check := func(name string, def, got float64) {
		if got != def {
			overrides = append(overrides, fmt.Sprintf("%s: %.2f -> %.2f", name, def, got))
		}
	}
	check("best_parent", defaults.BestParent, loaded.BestParent)
	check("best_child", defaults.BestChild, loaded.BestChild)
	check("sim_average", defaults.SimAverage, loaded.SimAverage)
	check("lexical_scale", defaults.LexicalScale, loaded.LexicalScale)
	check("lexical_cap", defaults.LexicalCap, loaded.LexicalCap)
	check("should_boost", defaults.ShouldBoost, loaded.ShouldBoost)
	check("should_cap", defaults.ShouldCap, loaded.ShouldCap)
	check("missing_date_penalty", defaults.MissingDatePenalty, loaded.MissingDatePenalty)
	check("location_mismatch_penalty", defaults.LocationMismatchPenalty, loaded.LocationMismatchPenalty)

	if len(overrides) > 0 {
		slog.Info("loaded ranking calibration with overrides",
			"overrides", overrides)
	} else {
		slog.Info("loaded ranking calibration (using all defaults)")
	}
}
