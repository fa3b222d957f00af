// Package models contains shared data models used across the Physique codebase.
package models

import "context"

// VisionProvider is the core interface that all vision-model integrations must implement.
// Callers depend on this interface, never on a concrete provider.
type VisionProvider interface {
	// Analyze scores the physique shown in a single photo.
	Analyze(ctx context.Context, req ImageRequest) (AnalysisResult, error)
	// Name returns the provider identifier (e.g., "ollama", "gemini").
	Name() string
}

// ImageRequest is the input to a vision analysis.
type ImageRequest struct {
	Image    []byte
	MIMEType string // detected from the image bytes when empty
	JobID    string
	UserID   string
}
