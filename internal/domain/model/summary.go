package model

import "time"

// ResultStatus is the per-file verdict derived from its detections.
type ResultStatus string

const (
	ResultPass   ResultStatus = "PASS"
	ResultFail   ResultStatus = "FAIL"
	ResultReview ResultStatus = "REVIEW"
	// ResultError marks a file whose processing failed; it has no verdict.
	ResultError ResultStatus = "ERROR"
)

// BatchSummary is derived from a terminal job and never stored on its own.
type BatchSummary struct {
	JobID                 string             `json:"job_id"`
	TotalFiles            int                `json:"total_files"`
	AnalyzedFiles         int                `json:"analyzed_files"`
	PassedFiles           int                `json:"passed_files"`
	FailedFiles           int                `json:"failed_files"`
	ReviewFiles           int                `json:"review_files"`
	ProcessingFailedFiles int                `json:"processing_failed_files"`
	TotalDetections       int                `json:"total_detections"`
	DetectionsByType      map[DefectType]int `json:"detections_by_type"`
	DetectionsBySeverity  map[Severity]int   `json:"detections_by_severity"`
	MeanConfidence        float64            `json:"mean_confidence"`
	MeanProcessingMs      float64            `json:"mean_processing_ms"`
	PassRate              float64            `json:"pass_rate"`
	FailRate              float64            `json:"fail_rate"`
	ReviewRate            float64            `json:"review_rate"`
	QualityScore          float64            `json:"quality_score"`
}

type QualityGrade string

const (
	GradeExcellent QualityGrade = "excellent"
	GradeGood      QualityGrade = "good"
	GradeFair      QualityGrade = "fair"
	GradePoor      QualityGrade = "poor"
)

type QualityMetrics struct {
	OverallQuality  float64      `json:"overall_quality"`
	Grade           QualityGrade `json:"grade"`
	Recommendations []string     `json:"recommendations"`
	CriticalIssues  []string     `json:"critical_issues"`
}

type FileBreakdown struct {
	FileID         string       `json:"file_id"`
	SourcePath     string       `json:"source_path"`
	Verdict        ResultStatus `json:"verdict"`
	DetectionCount int          `json:"detection_count"`
	MaxSeverity    Severity     `json:"max_severity,omitempty"`
	MeanConfidence float64      `json:"mean_confidence"`
	ProcessingMs   int64        `json:"processing_ms"`
	Error          string       `json:"error,omitempty"`
}

type DefectTypeDetail struct {
	Type           DefectType       `json:"type"`
	Count          int              `json:"count"`
	MeanConfidence float64          `json:"mean_confidence"`
	Severities     map[Severity]int `json:"severities"`
}

// BatchReport is the detailed breakdown of one completed job.
type BatchReport struct {
	Summary     *BatchSummary      `json:"summary"`
	Quality     *QualityMetrics    `json:"quality"`
	Files       []FileBreakdown    `json:"files"`
	Defects     []DefectTypeDetail `json:"defects"`
	GeneratedAt time.Time          `json:"generated_at"`
}

type Trend string

const (
	TrendBetter  Trend = "better"
	TrendWorse   Trend = "worse"
	TrendSimilar Trend = "similar"
)

// Comparison measures a batch against earlier batches.
type Comparison struct {
	Trend         Trend    `json:"trend"`
	Improvement   float64  `json:"improvement"`
	PassRateDelta float64  `json:"pass_rate_delta"`
	QualityDelta  float64  `json:"quality_delta"`
	Insights      []string `json:"insights"`
}
