// Package detection turns raw detector tensors into typed, located and
// severity-ranked defect detections. Everything here is pure and deterministic.
package detection

import (
	"fmt"
	"math"
	"sort"

	"defect-inspection/internal/domain"
	"defect-inspection/internal/domain/model"
)

// Leading columns of every output row: cx, cy, w, h, objectness.
const headerCols = 5

// RawOutput is the flat row-major tensor produced by one inference pass.
// Each row is [cx, cy, w, h, objectness, class_0 .. class_K) normalized to [0,1].
type RawOutput struct {
	Data        []float32
	Rows        int
	Cols        int
	ImageWidth  int
	ImageHeight int
}

func (o RawOutput) validate() error {
	if o.Rows < 0 || o.Cols < headerCols+1 {
		return fmt.Errorf("%w: shape %dx%d has no class columns", domain.ErrMalformedOutput, o.Rows, o.Cols)
	}
	if len(o.Data) != o.Rows*o.Cols {
		return fmt.Errorf("%w: buffer has %d values, shape %dx%d needs %d",
			domain.ErrMalformedOutput, len(o.Data), o.Rows, o.Cols, o.Rows*o.Cols)
	}
	if o.ImageWidth <= 0 || o.ImageHeight <= 0 {
		return fmt.Errorf("%w: image size %dx%d", domain.ErrMalformedOutput, o.ImageWidth, o.ImageHeight)
	}
	return nil
}

type DecodeOptions struct {
	ConfidenceThreshold float64
	NMSThreshold        float64
	Classes             ClassTable
	Bands               SeverityBands
	// Enabled restricts output to these types; empty means all types.
	Enabled []model.DefectType
}

// Candidate is a thresholded row before suppression.
type Candidate struct {
	Box        model.BoundingBox
	Confidence float64
	ClassIndex int
	Type       model.DefectType
}

// Decode converts a raw output buffer into detections in suppression keep order.
// Detection IDs are left empty; callers assign them when persisting.
// A malformed buffer yields an error wrapping domain.ErrMalformedOutput.
func Decode(out RawOutput, opts DecodeOptions) ([]model.Detection, error) {
	if err := out.validate(); err != nil {
		return nil, domain.PermanentFile("decode", err)
	}
	classes := opts.Classes
	if len(classes) == 0 {
		classes = DefaultClassTable()
	}
	var enabled map[model.DefectType]struct{}
	if len(opts.Enabled) > 0 {
		enabled = make(map[model.DefectType]struct{}, len(opts.Enabled))
		for _, t := range opts.Enabled {
			enabled[t] = struct{}{}
		}
	}

	imgW, imgH := float64(out.ImageWidth), float64(out.ImageHeight)
	candidates := make([]Candidate, 0)
	for r := 0; r < out.Rows; r++ {
		row := out.Data[r*out.Cols : (r+1)*out.Cols]
		if !finite(row) {
			continue
		}
		bestClass, bestScore := 0, float64(row[headerCols])
		for k := headerCols + 1; k < out.Cols; k++ {
			if s := float64(row[k]); s > bestScore {
				bestClass, bestScore = k-headerCols, s
			}
		}
		conf := clamp(float64(row[4])*bestScore, 0, 1)
		if conf < opts.ConfidenceThreshold {
			continue
		}
		dt := classes.Lookup(bestClass)
		if enabled != nil {
			if _, ok := enabled[dt]; !ok {
				continue
			}
		}
		candidates = append(candidates, Candidate{
			Box:        toPixelBox(float64(row[0]), float64(row[1]), float64(row[2]), float64(row[3]), imgW, imgH),
			Confidence: conf,
			ClassIndex: bestClass,
			Type:       dt,
		})
	}

	kept := NonMaxSuppression(candidates, opts.NMSThreshold)
	detections := make([]model.Detection, 0, len(kept))
	imageArea := imgW * imgH
	for _, c := range kept {
		detections = append(detections, model.Detection{
			Type:            c.Type,
			Confidence:      c.Confidence,
			BoundingBox:     c.Box,
			Severity:        opts.Bands.Classify(c.Confidence),
			AffectedAreaPct: clamp(c.Box.Area()/imageArea*100, 0, 100),
		})
	}
	return detections, nil
}

// finite reports whether every value of row is a real number. Rows carrying
// NaN or Inf are dropped rather than failing the whole file.
func finite(row []float32) bool {
	for _, v := range row {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// toPixelBox converts a normalized center box to a top-left pixel box kept
// inside the image.
func toPixelBox(cx, cy, w, h, imgW, imgH float64) model.BoundingBox {
	x0 := clamp((cx-w/2)*imgW, 0, imgW)
	y0 := clamp((cy-h/2)*imgH, 0, imgH)
	x1 := clamp((cx+w/2)*imgW, 0, imgW)
	y1 := clamp((cy+h/2)*imgH, 0, imgH)
	return model.BoundingBox{X: x0, Y: y0, Width: math.Max(0, x1-x0), Height: math.Max(0, y1-y0)}
}

// NonMaxSuppression keeps the most confident candidate and drops every other
// candidate overlapping it by more than threshold, repeating until none remain.
// Equal confidences keep their input order.
func NonMaxSuppression(candidates []Candidate, threshold float64) []Candidate {
	sorted := append([]Candidate(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })

	keep := make([]Candidate, 0, len(sorted))
	suppressed := make([]bool, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		keep = append(keep, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if !suppressed[j] && IoU(sorted[i].Box, sorted[j].Box) > threshold {
				suppressed[j] = true
			}
		}
	}
	return keep
}

// IoU is the intersection-over-union of two boxes; 0 when they do not overlap.
func IoU(a, b model.BoundingBox) float64 {
	left := math.Max(a.X, b.X)
	top := math.Max(a.Y, b.Y)
	right := math.Min(a.X+a.Width, b.X+b.Width)
	bottom := math.Min(a.Y+a.Height, b.Y+b.Height)
	if right <= left || bottom <= top {
		return 0
	}
	inter := (right - left) * (bottom - top)
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
