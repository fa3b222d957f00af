package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidAnalysis is returned by Validate when a payload is missing
// required scores or carries values outside their range.
var ErrInvalidAnalysis = errors.New("invalid analysis payload")

// AnalysisResult is the scored outcome of one physique analysis.
// JSON names follow the mobile wire contract.
type AnalysisResult struct {
	OverallRating         float64        `json:"overallRating"`
	Potential             float64        `json:"potential"`
	BodyFatPercentage     *float64       `json:"bodyFatPercentage"`
	Symmetry              float64        `json:"symmetry"`
	Strengths             []string       `json:"strengths"`
	Improvements          []string       `json:"improvements"`
	SummaryRecommendation string         `json:"summaryRecommendation"`
	PremiumScores         *PremiumScores `json:"premiumScores,omitempty"`
}

// PremiumScores holds per-muscle-group scores. Any group may be absent.
type PremiumScores struct {
	Chest      *float64 `json:"chest,omitempty"`
	Shoulders  *float64 `json:"shoulders,omitempty"`
	Back       *float64 `json:"back,omitempty"`
	Biceps     *float64 `json:"biceps,omitempty"`
	Triceps    *float64 `json:"triceps,omitempty"`
	Forearms   *float64 `json:"forearms,omitempty"`
	Abs        *float64 `json:"abs,omitempty"`
	Quads      *float64 `json:"quads,omitempty"`
	Hamstrings *float64 `json:"hamstrings,omitempty"`
	Calves     *float64 `json:"calves,omitempty"`
}

// Groups returns the muscle-group scores keyed by wire name.
func (p PremiumScores) Groups() map[string]*float64 {
	return map[string]*float64{
		"chest":      p.Chest,
		"shoulders":  p.Shoulders,
		"back":       p.Back,
		"biceps":     p.Biceps,
		"triceps":    p.Triceps,
		"forearms":   p.Forearms,
		"abs":        p.Abs,
		"quads":      p.Quads,
		"hamstrings": p.Hamstrings,
		"calves":     p.Calves,
	}
}

// UnmarshalJSON rejects payloads that omit a required score, which would
// otherwise decode as a silent zero.
func (r *AnalysisResult) UnmarshalJSON(data []byte) error {
	var probe struct {
		OverallRating *float64 `json:"overallRating"`
		Potential     *float64 `json:"potential"`
		Symmetry      *float64 `json:"symmetry"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	var missing []string
	if probe.OverallRating == nil {
		missing = append(missing, "overallRating")
	}
	if probe.Potential == nil {
		missing = append(missing, "potential")
	}
	if probe.Symmetry == nil {
		missing = append(missing, "symmetry")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidAnalysis, strings.Join(missing, ", "))
	}

	type plain AnalysisResult
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = AnalysisResult(p)
	return nil
}

const (
	maxScore   = 10.0
	maxBodyFat = 100.0
)

// Validate checks the required numeric fields. Scores are on a 0–10 scale,
// body fat is a percentage.
func (r *AnalysisResult) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: empty result", ErrInvalidAnalysis)
	}
	required := []struct {
		name string
		v    float64
	}{
		{"overallRating", r.OverallRating},
		{"potential", r.Potential},
		{"symmetry", r.Symmetry},
	}
	for _, f := range required {
		if err := checkRange(f.name, f.v, maxScore); err != nil {
			return err
		}
	}
	if r.BodyFatPercentage != nil {
		if err := checkRange("bodyFatPercentage", *r.BodyFatPercentage, maxBodyFat); err != nil {
			return err
		}
	}
	if r.PremiumScores != nil {
		for name, v := range r.PremiumScores.Groups() {
			if v == nil {
				continue
			}
			if err := checkRange("premiumScores."+name, *v, maxScore); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkRange(name string, v, max float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s is not a number", ErrInvalidAnalysis, name)
	}
	if v < 0 || v > max {
		return fmt.Errorf("%w: %s=%g outside [0, %g]", ErrInvalidAnalysis, name, v, max)
	}
	return nil
}
