package detection

import "defect-inspection/internal/domain/model"

// ReviewMargin widens the confidence threshold for the borderline check.
const ReviewMargin = 0.1

// FileVerdict applies, in order: any critical or high detection fails the file,
// any borderline detection sends it to review, an empty result passes, and
// anything else fails.
func FileVerdict(detections []model.Detection, confidenceThreshold float64) model.ResultStatus {
	for _, d := range detections {
		if d.Severity == model.SeverityCritical {
			return model.ResultFail
		}
	}
	for _, d := range detections {
		if d.Severity == model.SeverityHigh {
			return model.ResultFail
		}
	}
	for _, d := range detections {
		if d.Confidence < confidenceThreshold+ReviewMargin {
			return model.ResultReview
		}
	}
	if len(detections) == 0 {
		return model.ResultPass
	}
	return model.ResultFail
}
