package inference

import (
	"bytes"
	"context"
	"errors"
	"hash/fnv"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math/rand"

	"defect-inspection/internal/domain"
	"defect-inspection/internal/domain/detection"
	"defect-inspection/internal/domain/model"
	"defect-inspection/internal/domain/ports/adapter"
)

var _ adapter.InferenceEngine = (*StubEngine)(nil)

const (
	stubAnchors = 16
	stubSize    = 640
)

// StubEngine fabricates a deterministic tensor from the image bytes so that
// the same file always yields the same detections. For dev and demo runs.
type StubEngine struct {
	classes int
}

func NewStubEngine() *StubEngine {
	return &StubEngine{classes: len(model.AllDefectTypes())}
}

func (s *StubEngine) Name() string { return "stub" }

func (s *StubEngine) Infer(ctx context.Context, req adapter.InferRequest) (*detection.RawOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.Image) == 0 {
		return nil, domain.PermanentFile("stub inference", errors.New("empty image"))
	}

	w, h := stubSize, stubSize
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(req.Image)); err == nil {
		w, h = cfg.Width, cfg.Height
	}

	hash := fnv.New64a()
	_, _ = hash.Write(req.Image)
	_, _ = hash.Write([]byte(req.ComponentProfile))
	rng := rand.New(rand.NewSource(int64(hash.Sum64())))

	cols := 5 + s.classes
	data := make([]float32, stubAnchors*cols)
	for r := 0; r < stubAnchors; r++ {
		row := data[r*cols : (r+1)*cols]
		row[0] = float32(0.1 + 0.8*rng.Float64())
		row[1] = float32(0.1 + 0.8*rng.Float64())
		row[2] = float32(0.02 + 0.2*rng.Float64())
		row[3] = float32(0.02 + 0.2*rng.Float64())
		// Most anchors are background; sensitivity raises the objectness of the rest.
		obj := 0.05 * rng.Float64()
		if rng.Float64() < 0.15 {
			obj = 0.7 + 0.3*rng.Float64()*(0.5+req.Sensitivity/2)
		}
		row[4] = float32(obj)
		cls := rng.Intn(s.classes)
		for c := 0; c < s.classes; c++ {
			row[5+c] = float32(0.1 * rng.Float64())
		}
		row[5+cls] = float32(0.75 + 0.25*rng.Float64())
	}
	return &detection.RawOutput{Data: data, Rows: stubAnchors, Cols: cols, ImageWidth: w, ImageHeight: h}, nil
}
