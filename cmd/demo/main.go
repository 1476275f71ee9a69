// Command demo runs one inspection batch end to end in memory: synthetic
// images on disk, the stub detector, the job queue and the event hub.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"defect-inspection/internal/config"
	"defect-inspection/internal/domain/detection"
	"defect-inspection/internal/domain/model"
	"defect-inspection/internal/infra/adapters/inference"
	"defect-inspection/internal/infra/adapters/storage"
	"defect-inspection/internal/infra/broadcast"
	"defect-inspection/internal/infra/db/memory"
	"defect-inspection/internal/infra/logging"
	"defect-inspection/internal/infra/worker"
	"defect-inspection/internal/usecase"
)

func main() {
	files := flag.Int("files", 8, "number of synthetic images to inspect")
	profile := flag.String("profile", "pcb-v1", "component profile")
	threshold := flag.Float64("threshold", 0.5, "confidence threshold")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := "info"
	if *verbose {
		level = "debug"
	}
	logger := logging.New(config.LogConfig{Level: level}, true)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dir, err := os.MkdirTemp("", "defect-demo-*")
	if err != nil {
		log.Fatalf("temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	paths, err := writeImages(dir, *files)
	if err != nil {
		log.Fatalf("write images: %v", err)
	}
	store, err := storage.NewLocalStorage(dir)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	engine := inference.NewStubEngine()
	proc := worker.NewInspectionProcessor(store, engine, engine.Name(), worker.DecoderSettings{
		NMSThreshold: 0.45,
		Classes:      detection.DefaultClassTable(),
		Bands:        detection.DefaultSeverityBands(),
	}, logger)

	hub := broadcast.NewHub(256, logger)
	hub.Start(ctx)
	defer hub.Stop()

	repo := memory.NewJobRepo()
	aggUC := usecase.NewAggregationUseCase()
	cfg := worker.DefaultQueueConfig()
	cfg.Retry.BaseDelay = 50 * time.Millisecond
	queue := worker.NewQueue(repo, proc, hub, aggUC, cfg, logger)
	if err := queue.Start(ctx); err != nil {
		log.Fatalf("queue: %v", err)
	}
	defer queue.Stop()

	inspUC := usecase.NewInspectionUseCase(repo, queue, aggUC, logger)

	const owner = "demo-operator"
	sub := hub.Connect(model.UserChannel(owner))
	defer hub.Disconnect(sub)

	jobID, err := inspUC.Submit(ctx, owner, paths, model.DetectionConfig{
		ComponentProfile:    *profile,
		Sensitivity:         0.5,
		ConfidenceThreshold: *threshold,
	}, 0)
	if err != nil {
		log.Fatalf("submit: %v", err)
	}
	fmt.Printf("submitted job %s with %d files\n", jobID, len(paths))

	if !waitTerminal(ctx, sub) {
		log.Fatalf("job %s did not finish: %v", jobID, ctx.Err())
	}

	report, err := inspUC.GetReport(ctx, jobID)
	if err != nil {
		log.Fatalf("report: %v", err)
	}
	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
}

// waitTerminal prints events until the job reaches a terminal state.
func waitTerminal(ctx context.Context, sub *broadcast.Subscriber) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case e, ok := <-sub.C:
			if !ok {
				return false
			}
			switch {
			case e.File != nil:
				fmt.Printf("[%-9s] %5.1f%% file=%s status=%s detections=%d\n",
					e.Kind, e.ProgressPct, e.File.FileID, e.File.Status, e.File.Detections)
			case e.Summary != nil:
				fmt.Printf("[%-9s] pass=%.1f%% quality=%.1f\n", e.Kind, e.Summary.PassRate, e.Summary.QualityScore)
			default:
				fmt.Printf("[%-9s] %5.1f%% %s\n", e.Kind, e.ProgressPct, e.Error)
			}
			if e.Kind.IsTerminal() {
				return true
			}
		}
	}
}

// writeImages renders n noisy grey boards so each file hashes differently.
func writeImages(dir string, n int) ([]string, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	paths := make([]string, 0, n)
	for i := 0; i < n; i++ {
		img := image.NewGray(image.Rect(0, 0, 64, 48))
		for p := range img.Pix {
			img.Pix[p] = uint8(100 + rng.Intn(40))
		}
		img.SetGray(rng.Intn(64), rng.Intn(48), color.Gray{Y: 255})

		name := fmt.Sprintf("board-%03d.png", i+1)
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if err := png.Encode(f, img); err != nil {
			f.Close()
			return nil, err
		}
		if err := f.Close(); err != nil {
			return nil, err
		}
		paths = append(paths, name)
	}
	return paths, nil
}
