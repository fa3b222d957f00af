package mock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kiranshivaraju/physique/internal/ai/mock"
	"github.com/kiranshivaraju/physique/internal/ai/vision"
	"github.com/kiranshivaraju/physique/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequest() models.ImageRequest {
	return models.ImageRequest{Image: []byte("img"), JobID: "job-1", UserID: "user-1"}
}

func TestNewMockProvider_Name(t *testing.T) {
	assert.Equal(t, "mock", mock.NewMockProvider().Name())
}

func TestNewMockProvider_Analyze(t *testing.T) {
	p := mock.NewMockProvider()
	result, err := p.Analyze(context.Background(), sampleRequest())

	require.NoError(t, err)
	assert.NoError(t, result.Validate())
	assert.InDelta(t, 7.2, result.OverallRating, 0.001)
	assert.NotEmpty(t, result.Strengths)
	require.NotNil(t, result.PremiumScores)
	assert.NotNil(t, result.PremiumScores.Chest)
}

func TestNewFailingProvider(t *testing.T) {
	want := errors.New("boom")
	p := mock.NewFailingProvider(want)
	assert.Equal(t, "mock-failing", p.Name())

	_, err := p.Analyze(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, want)
}

func TestNewTimeoutProvider(t *testing.T) {
	p := mock.NewTimeoutProvider()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Analyze(ctx, sampleRequest())
	assert.ErrorIs(t, err, vision.ErrInferenceTimeout)
}

func TestZeroValueProvider(t *testing.T) {
	p := &mock.MockProvider{}
	result, err := p.Analyze(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisResult{}, result)
}

func TestCustomAnalyzeFunc(t *testing.T) {
	var got models.ImageRequest
	p := &mock.MockProvider{
		Name_: "custom",
		AnalyzeFunc: func(_ context.Context, req models.ImageRequest) (models.AnalysisResult, error) {
			got = req
			return mock.SampleResult(), nil
		},
	}
	_, err := p.Analyze(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.JobID)
}
