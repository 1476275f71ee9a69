package worker

import (
	"context"
	"errors"
	"time"

	"defect-inspection/internal/domain"
	"defect-inspection/internal/domain/detection"
	"defect-inspection/internal/domain/model"
	"defect-inspection/internal/domain/ports/adapter"
	"defect-inspection/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// FileResult is the outcome of one successful per-file attempt.
type FileResult struct {
	Detections  []model.Detection
	ImageWidth  int
	ImageHeight int
}

// FileProcessor performs a single attempt on one file. It is retried by the queue.
type FileProcessor interface {
	Process(ctx context.Context, cfg model.DetectionConfig, file *model.FileJob) (*FileResult, error)
}

type DecoderSettings struct {
	NMSThreshold float64
	Classes      detection.ClassTable
	Bands        detection.SeverityBands
}

// InspectionProcessor reads the staged image, runs the detector, and decodes
// its output into severity-ranked detections.
type InspectionProcessor struct {
	storage    adapter.ObjectStorage
	engine     adapter.InferenceEngine
	engineName string
	decoder    DecoderSettings
	log        *zerolog.Logger
}

func NewInspectionProcessor(
	storage adapter.ObjectStorage,
	engine adapter.InferenceEngine,
	engineName string,
	decoder DecoderSettings,
	logger *zerolog.Logger,
) *InspectionProcessor {
	l := logger.With().Str("component", "inspection_processor").Logger()
	return &InspectionProcessor{
		storage:    storage,
		engine:     engine,
		engineName: engineName,
		decoder:    decoder,
		log:        &l,
	}
}

func (p *InspectionProcessor) Process(ctx context.Context, cfg model.DetectionConfig, file *model.FileJob) (*FileResult, error) {
	image, err := p.storage.Read(ctx, file.SourcePath)
	if err != nil {
		return nil, classifyUnknown("read image", err, domain.TransientIO)
	}

	start := time.Now()
	out, err := p.engine.Infer(ctx, adapter.InferRequest{
		FileID:           file.ID,
		SourcePath:       file.SourcePath,
		Image:            image,
		Sensitivity:      cfg.Sensitivity,
		ComponentProfile: cfg.ComponentProfile,
	})
	metrics.ObserveInference(p.engineName, time.Since(start).Seconds(), err == nil)
	if err != nil {
		return nil, classifyUnknown("inference", err, domain.TransientInference)
	}

	dets, err := detection.Decode(*out, detection.DecodeOptions{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		NMSThreshold:        p.decoder.NMSThreshold,
		Classes:             p.decoder.Classes,
		Bands:               p.decoder.Bands,
		Enabled:             cfg.DefectTypes,
	})
	if err != nil {
		return nil, err
	}
	for i := range dets {
		dets[i].ID = uuid.NewString()
		metrics.IncDetection(string(dets[i].Type), string(dets[i].Severity))
	}
	p.log.Debug().Str("file_id", file.ID).Int("detections", len(dets)).Msg("file decoded")
	return &FileResult{Detections: dets, ImageWidth: out.ImageWidth, ImageHeight: out.ImageHeight}, nil
}

// classifyUnknown leaves classified errors alone. Deadlines from the attempt
// timeout become the given transient class; anything else is permanent.
func classifyUnknown(op string, err error, transient func(string, error) error) error {
	var ce *domain.ClassifiedError
	switch {
	case errors.As(err, &ce):
		return err
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return transient(op, err)
	default:
		return domain.PermanentFile(op, err)
	}
}
