package model

// DefectType is the closed set of defect classes the detector can report.
type DefectType string

const (
	DefectCrack               DefectType = "crack"
	DefectCorrosion           DefectType = "corrosion"
	DefectDeformation         DefectType = "deformation"
	DefectSurfaceIrregularity DefectType = "surface_irregularity"
	DefectInclusion           DefectType = "inclusion"
	DefectVoid                DefectType = "void"
	DefectDimensionalVariance DefectType = "dimensional_variance"
)

// AllDefectTypes returns every defect type in model class-index order.
func AllDefectTypes() []DefectType {
	return []DefectType{
		DefectCrack,
		DefectCorrosion,
		DefectDeformation,
		DefectSurfaceIrregularity,
		DefectInclusion,
		DefectVoid,
		DefectDimensionalVariance,
	}
}

func (t DefectType) Valid() bool {
	switch t {
	case DefectCrack, DefectCorrosion, DefectDeformation, DefectSurfaceIrregularity,
		DefectInclusion, DefectVoid, DefectDimensionalVariance:
		return true
	}
	return false
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

func AllSeverities() []Severity {
	return []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
}

// BoundingBox is expressed in source-image pixels with a top-left origin.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (b BoundingBox) Area() float64 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

type Detection struct {
	ID              string      `json:"id"`
	Type            DefectType  `json:"type"`
	Confidence      float64     `json:"confidence"`
	BoundingBox     BoundingBox `json:"bounding_box"`
	Severity        Severity    `json:"severity"`
	AffectedAreaPct float64     `json:"affected_area_pct"`
}
