package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/kiranshivaraju/physique/pkg/models"
	"gopkg.in/yaml.v3"
)

var validFormats = map[string]bool{
	"json": true,
	"yaml": true,
	"text": true,
}

func checkFormat(format string) error {
	if !validFormats[format] {
		return fmt.Errorf("--format must be one of text, json, yaml; got %q", format)
	}
	return nil
}

// writeResult prints an analysis result. JSON and YAML use the wire field
// names and order.
func writeResult(w io.Writer, format string, r *models.AnalysisResult) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml":
		out, err := toYAML(r)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	default:
		return writeText(w, r)
	}
}

// toYAML goes through the JSON encoding so the YAML keys match the wire
// contract, then drops the flow style the JSON parse leaves behind.
func toYAML(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("convert result: %w", err)
	}
	blockStyle(&node)
	return yaml.Marshal(&node)
}

func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

func writeText(w io.Writer, r *models.AnalysisResult) error {
	fmt.Fprintf(w, "Overall rating:  %.1f/10\n", r.OverallRating)
	fmt.Fprintf(w, "Potential:       %.1f/10\n", r.Potential)
	fmt.Fprintf(w, "Symmetry:        %.1f/10\n", r.Symmetry)
	if r.BodyFatPercentage != nil {
		fmt.Fprintf(w, "Body fat:        %.1f%%\n", *r.BodyFatPercentage)
	}

	writeList(w, "Strengths", r.Strengths)
	writeList(w, "Improvements", r.Improvements)

	if r.PremiumScores != nil {
		fmt.Fprintln(w, "\nMuscle groups:")
		for _, g := range muscleGroups {
			if s := r.PremiumScores.Groups()[g]; s != nil {
				fmt.Fprintf(w, "  %-11s %.1f\n", g, *s)
			}
		}
	}

	if r.SummaryRecommendation != "" {
		fmt.Fprintf(w, "\n%s\n", r.SummaryRecommendation)
	}
	return nil
}

// muscleGroups fixes the print order of PremiumScores.Groups.
var muscleGroups = []string{
	"chest", "shoulders", "back", "biceps", "triceps",
	"forearms", "abs", "quads", "hamstrings", "calves",
}

func writeList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(w, "  - %s\n", it)
	}
}
