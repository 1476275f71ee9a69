package usecase

import (
	"fmt"
	"math"
	"sort"
	"time"

	"defect-inspection/internal/domain/detection"
	"defect-inspection/internal/domain/model"
)

// Compile-time check
var _ AggregationUseCase = (*aggregationUC)(nil)

// AggregationUseCase turns terminal jobs into summaries and reports. Every
// method is a pure function of its inputs.
type AggregationUseCase interface {
	Summarize(job *model.Job) *model.BatchSummary
	QualityMetrics(summary *model.BatchSummary) *model.QualityMetrics
	Report(job *model.Job) *model.BatchReport
	Compare(current *model.BatchSummary, history []*model.BatchSummary) *model.Comparison
}

const (
	gradeExcellentMin = 90.0
	gradeGoodMin      = 75.0
	gradeFairMin      = 60.0

	lowPassRatePct     = 80.0
	lowConfidence      = 0.7
	prevalentTypeShare = 0.3
	highSeverityShare  = 0.1
	slowProcessingMs   = 5000.0
	trendThreshold     = 5.0
	reliableConfidence = 0.8
)

type aggregationUC struct {
	now func() time.Time
}

func NewAggregationUseCase() *aggregationUC {
	return &aggregationUC{now: time.Now}
}

// Summarize counts verdicts over completed files; failed files are reported
// separately and excluded from every rate.
func (a *aggregationUC) Summarize(job *model.Job) *model.BatchSummary {
	s := &model.BatchSummary{
		JobID:                job.ID,
		TotalFiles:           len(job.Files),
		DetectionsByType:     make(map[model.DefectType]int),
		DetectionsBySeverity: make(map[model.Severity]int),
	}

	var confSum float64
	var msSum int64
	var timed int
	for _, f := range job.Files {
		switch f.Status {
		case model.FileStatusCompleted:
		case model.FileStatusFailed:
			s.ProcessingFailedFiles++
			msSum += f.ProcessingMs
			timed++
			continue
		default:
			continue
		}
		s.AnalyzedFiles++
		msSum += f.ProcessingMs
		timed++

		switch detection.FileVerdict(f.Result, job.Config.ConfidenceThreshold) {
		case model.ResultPass:
			s.PassedFiles++
		case model.ResultReview:
			s.ReviewFiles++
		default:
			s.FailedFiles++
		}
		for _, d := range f.Result {
			s.TotalDetections++
			s.DetectionsByType[d.Type]++
			s.DetectionsBySeverity[d.Severity]++
			confSum += d.Confidence
		}
	}

	if s.TotalDetections > 0 {
		s.MeanConfidence = confSum / float64(s.TotalDetections)
	}
	if timed > 0 {
		s.MeanProcessingMs = float64(msSum) / float64(timed)
	}
	if s.AnalyzedFiles > 0 {
		n := float64(s.AnalyzedFiles)
		s.PassRate = float64(s.PassedFiles) / n * 100
		s.FailRate = float64(s.FailedFiles) / n * 100
		s.ReviewRate = float64(s.ReviewFiles) / n * 100
	}
	s.QualityScore = qualityScore(s)
	return s
}

// qualityScore is advisory and never feeds back into file verdicts.
func qualityScore(s *model.BatchSummary) float64 {
	if s.AnalyzedFiles == 0 {
		return 0
	}
	perFile := float64(s.TotalDetections) / float64(s.AnalyzedFiles)
	score := 50*(s.PassRate/100) +
		20*s.MeanConfidence -
		10*float64(s.DetectionsBySeverity[model.SeverityCritical]) -
		5*float64(s.DetectionsBySeverity[model.SeverityHigh]) -
		10*math.Max(0, perFile-1)
	return math.Min(100, math.Max(0, score))
}

func gradeFor(score float64) model.QualityGrade {
	switch {
	case score >= gradeExcellentMin:
		return model.GradeExcellent
	case score >= gradeGoodMin:
		return model.GradeGood
	case score >= gradeFairMin:
		return model.GradeFair
	}
	return model.GradePoor
}

func (a *aggregationUC) QualityMetrics(s *model.BatchSummary) *model.QualityMetrics {
	q := &model.QualityMetrics{
		OverallQuality:  s.QualityScore,
		Grade:           gradeFor(s.QualityScore),
		Recommendations: []string{},
		CriticalIssues:  []string{},
	}
	if s.AnalyzedFiles == 0 {
		return q
	}
	files := float64(s.AnalyzedFiles)

	if s.PassRate < lowPassRatePct {
		q.Recommendations = append(q.Recommendations, "review manufacturing processes to improve the pass rate")
	}
	if s.TotalDetections > 0 && s.MeanConfidence < lowConfidence {
		q.Recommendations = append(q.Recommendations, "low detection confidence, consider adjusting sensitivity")
	}
	if t, n := mostCommonType(s.DetectionsByType); n > 0 && float64(n) > files*prevalentTypeShare {
		q.Recommendations = append(q.Recommendations, fmt.Sprintf("%s defects are prevalent, focus on prevention", t))
	}
	if s.MeanProcessingMs > slowProcessingMs {
		q.Recommendations = append(q.Recommendations, "processing is slow, consider tuning detection parameters")
	}

	if n := s.DetectionsBySeverity[model.SeverityCritical]; n > 0 {
		q.CriticalIssues = append(q.CriticalIssues, fmt.Sprintf("%d critical defects require immediate attention", n))
	}
	if n := s.DetectionsBySeverity[model.SeverityHigh]; float64(n) > files*highSeverityShare {
		q.CriticalIssues = append(q.CriticalIssues, fmt.Sprintf("%d high severity defects, review quality control", n))
	}
	return q
}

// mostCommonType breaks ties by defect type order so results are stable.
func mostCommonType(byType map[model.DefectType]int) (model.DefectType, int) {
	var best model.DefectType
	n := 0
	for _, t := range model.AllDefectTypes() {
		if c := byType[t]; c > n {
			best, n = t, c
		}
	}
	return best, n
}

func (a *aggregationUC) Report(job *model.Job) *model.BatchReport {
	s := a.Summarize(job)
	r := &model.BatchReport{
		Summary:     s,
		Quality:     a.QualityMetrics(s),
		Files:       make([]model.FileBreakdown, 0, len(job.Files)),
		GeneratedAt: a.now(),
	}

	type typeAcc struct {
		count   int
		confSum float64
		sev     map[model.Severity]int
	}
	acc := make(map[model.DefectType]*typeAcc)

	for _, f := range job.Files {
		row := model.FileBreakdown{
			FileID:         f.ID,
			SourcePath:     f.SourcePath,
			DetectionCount: len(f.Result),
			ProcessingMs:   f.ProcessingMs,
			Error:          f.Error,
		}
		if f.Status != model.FileStatusCompleted {
			row.Verdict = model.ResultError
			r.Files = append(r.Files, row)
			continue
		}
		row.Verdict = detection.FileVerdict(f.Result, job.Config.ConfidenceThreshold)

		var confSum float64
		for _, d := range f.Result {
			confSum += d.Confidence
			if row.MaxSeverity == "" || d.Severity.Rank() > row.MaxSeverity.Rank() {
				row.MaxSeverity = d.Severity
			}
			ta := acc[d.Type]
			if ta == nil {
				ta = &typeAcc{sev: make(map[model.Severity]int)}
				acc[d.Type] = ta
			}
			ta.count++
			ta.confSum += d.Confidence
			ta.sev[d.Severity]++
		}
		if len(f.Result) > 0 {
			row.MeanConfidence = confSum / float64(len(f.Result))
		}
		r.Files = append(r.Files, row)
	}

	r.Defects = make([]model.DefectTypeDetail, 0, len(acc))
	for t, ta := range acc {
		r.Defects = append(r.Defects, model.DefectTypeDetail{
			Type:           t,
			Count:          ta.count,
			MeanConfidence: ta.confSum / float64(ta.count),
			Severities:     ta.sev,
		})
	}
	sort.Slice(r.Defects, func(i, j int) bool {
		if r.Defects[i].Count != r.Defects[j].Count {
			return r.Defects[i].Count > r.Defects[j].Count
		}
		return r.Defects[i].Type < r.Defects[j].Type
	})
	return r
}

// Compare scores current against the mean of history. Improvement averages
// the pass-rate and quality deltas, both in points.
func (a *aggregationUC) Compare(current *model.BatchSummary, history []*model.BatchSummary) *model.Comparison {
	c := &model.Comparison{Trend: model.TrendSimilar, Insights: []string{}}
	if len(history) == 0 {
		c.Insights = append(c.Insights, "no historical batches to compare against")
		return c
	}

	var passSum, qualitySum float64
	for _, h := range history {
		passSum += h.PassRate
		qualitySum += h.QualityScore
	}
	n := float64(len(history))
	c.PassRateDelta = current.PassRate - passSum/n
	c.QualityDelta = current.QualityScore - qualitySum/n
	c.Improvement = (c.PassRateDelta + c.QualityDelta) / 2

	switch {
	case c.Improvement > trendThreshold:
		c.Trend = model.TrendBetter
	case c.Improvement < -trendThreshold:
		c.Trend = model.TrendWorse
	}

	switch {
	case c.PassRateDelta > trendThreshold:
		c.Insights = append(c.Insights, fmt.Sprintf("pass rate up %.1f points on the historical average", c.PassRateDelta))
	case c.PassRateDelta < -trendThreshold:
		c.Insights = append(c.Insights, fmt.Sprintf("pass rate down %.1f points on the historical average", -c.PassRateDelta))
	}
	if current.MeanConfidence > reliableConfidence {
		c.Insights = append(c.Insights, "detection confidence is high")
	}
	if current.AnalyzedFiles > 0 && current.TotalDetections == 0 {
		c.Insights = append(c.Insights, "no defects detected in this batch")
	}
	return c
}
