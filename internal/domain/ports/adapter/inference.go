package adapter

import (
	"context"

	"defect-inspection/internal/domain/detection"
)

type InferRequest struct {
	FileID           string
	SourcePath       string
	Image            []byte
	Sensitivity      float64
	ComponentProfile string
}

// InferenceEngine runs the detector on one image and returns its raw output
// tensor. Retryable failures must wrap domain.ErrTransientInference; bad input
// must wrap domain.ErrPermanentFile.
type InferenceEngine interface {
	Infer(ctx context.Context, req InferRequest) (*detection.RawOutput, error)
}
