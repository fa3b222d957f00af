package ai

import (
	"errors"

	"github.com/kiranshivaraju/physique/internal/ai/vision"
)

var (
	ErrProviderUnavailable = vision.ErrProviderUnavailable
	ErrInferenceTimeout    = vision.ErrInferenceTimeout
	ErrInvalidResponse     = vision.ErrInvalidResponse
)

// ErrInvalidImage is returned when the submitted bytes are not a supported image.
var ErrInvalidImage = errors.New("invalid image")

// ErrDuplicateJob is returned when a job ID has already been submitted.
var ErrDuplicateJob = errors.New("job already exists")
