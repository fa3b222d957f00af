package mock

import (
	"context"

	"github.com/kiranshivaraju/physique/internal/ai/vision"
	"github.com/kiranshivaraju/physique/pkg/models"
)

// MockProvider satisfies models.VisionProvider for testing.
type MockProvider struct {
	Name_       string
	AnalyzeFunc func(ctx context.Context, req models.ImageRequest) (models.AnalysisResult, error)
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Analyze(ctx context.Context, req models.ImageRequest) (models.AnalysisResult, error) {
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, req)
	}
	return models.AnalysisResult{}, nil
}

// SampleResult is the fixed result NewMockProvider returns.
func SampleResult() models.AnalysisResult {
	bodyFat := 15.0
	chest := 7.0
	return models.AnalysisResult{
		OverallRating:         7.2,
		Potential:             8.5,
		BodyFatPercentage:     &bodyFat,
		Symmetry:              7.0,
		Strengths:             []string{"Broad shoulders", "Defined arms"},
		Improvements:          []string{"Lower chest", "Calves"},
		SummaryRecommendation: "Mock analysis summary for testing",
		PremiumScores:         &models.PremiumScores{Chest: &chest},
	}
}

// NewMockProvider returns a MockProvider with sensible default responses.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		AnalyzeFunc: func(_ context.Context, _ models.ImageRequest) (models.AnalysisResult, error) {
			return SampleResult(), nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		AnalyzeFunc: func(_ context.Context, _ models.ImageRequest) (models.AnalysisResult, error) {
			return models.AnalysisResult{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		AnalyzeFunc: func(ctx context.Context, _ models.ImageRequest) (models.AnalysisResult, error) {
			<-ctx.Done()
			return models.AnalysisResult{}, vision.ErrInferenceTimeout
		},
	}
}

// Compile-time check that MockProvider implements VisionProvider.
var _ models.VisionProvider = (*MockProvider)(nil)
