// Package vision holds what every vision provider shares: the prompt, the
// error vocabulary and the parsing of model output into an AnalysisResult.
package vision

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/kiranshivaraju/physique/pkg/models"
)

var (
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	ErrInferenceTimeout    = errors.New("ai inference timeout")
	ErrInvalidResponse     = errors.New("ai provider returned invalid response")
)

const (
	maxListItems = 5
	maxTextLen   = 600
)

// Prompt instructs the model to answer with a single JSON object matching
// the AnalysisResult wire format.
const Prompt = `You are an experienced physique coach. Assess the person in the photo.
Respond with ONLY a JSON object, no prose and no markdown, with these fields:
{
  "overallRating": number 0-10,
  "potential": number 0-10,
  "bodyFatPercentage": number 0-100 or null if it cannot be estimated,
  "symmetry": number 0-10,
  "strengths": [up to 5 short strings],
  "improvements": [up to 5 short strings],
  "summaryRecommendation": string, two or three sentences,
  "premiumScores": {"chest": 0-10, "shoulders": 0-10, "back": 0-10, "biceps": 0-10,
    "triceps": 0-10, "forearms": 0-10, "abs": 0-10, "quads": 0-10,
    "hamstrings": 0-10, "calves": 0-10}
}
Use null for any muscle group that is not visible.`

// ParseAnalysis extracts the first JSON object from model output, clamps
// it into range and validates it.
func ParseAnalysis(text string) (models.AnalysisResult, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return models.AnalysisResult{}, fmt.Errorf("%w: no JSON object in model output", ErrInvalidResponse)
	}

	var r models.AnalysisResult
	if err := json.Unmarshal([]byte(text[start:end+1]), &r); err != nil {
		return models.AnalysisResult{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	Normalize(&r)
	if err := r.Validate(); err != nil {
		return models.AnalysisResult{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return r, nil
}

// Normalize clamps scores into their ranges and bounds list and text sizes.
// Non-finite values are left alone so Validate still rejects them.
func Normalize(r *models.AnalysisResult) {
	r.OverallRating = clamp(r.OverallRating, 0, 10)
	r.Potential = clamp(r.Potential, 0, 10)
	r.Symmetry = clamp(r.Symmetry, 0, 10)
	if r.BodyFatPercentage != nil {
		v := clamp(*r.BodyFatPercentage, 0, 100)
		r.BodyFatPercentage = &v
	}
	if r.PremiumScores != nil {
		for _, p := range premiumFields(r.PremiumScores) {
			if *p != nil {
				v := clamp(**p, 0, 10)
				*p = &v
			}
		}
	}

	r.Strengths = trimList(r.Strengths)
	r.Improvements = trimList(r.Improvements)
	r.SummaryRecommendation = truncate(strings.TrimSpace(r.SummaryRecommendation), maxTextLen)
}

func premiumFields(p *models.PremiumScores) []**float64 {
	return []**float64{
		&p.Chest, &p.Shoulders, &p.Back, &p.Biceps, &p.Triceps,
		&p.Forearms, &p.Abs, &p.Quads, &p.Hamstrings, &p.Calves,
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return math.Max(lo, math.Min(hi, v))
}

func trimList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, truncate(s, maxTextLen))
		if len(out) == maxListItems {
			break
		}
	}
	return out
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// MIMEType returns declared when set, otherwise sniffs the image bytes.
func MIMEType(image []byte, declared string) string {
	if declared != "" {
		return declared
	}
	return http.DetectContentType(image)
}
