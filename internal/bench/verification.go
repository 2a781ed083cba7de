package bench

import (
	"errors"
	"fmt"
	"math"
)

var errNoPredictions = errors.New("response has no predictions")

// verifyPrediction checks the ranking invariants of one response: one entry
// per herb, sequential ranks, non-increasing finite confidences and an
// accuracy equal to the top confidence.
func verifyPrediction(resp PredictResponse, herbs int) error {
	preds := resp.Predictions
	if len(preds) == 0 {
		return errNoPredictions
	}
	if herbs > 0 && len(preds) != herbs {
		return fmt.Errorf("got %d predictions, catalog has %d herbs", len(preds), herbs)
	}

	seen := make(map[string]struct{}, len(preds))
	for i, p := range preds {
		if p.Rank != i+1 {
			return fmt.Errorf("entry %d has rank %d", i, p.Rank)
		}
		if math.IsNaN(p.Confidence) || math.IsInf(p.Confidence, 0) {
			return fmt.Errorf("entry %d has non-finite confidence", i)
		}
		if i > 0 && p.Confidence > preds[i-1].Confidence+confidenceTolerance {
			return fmt.Errorf("entry %d confidence %.6f exceeds entry %d confidence %.6f", i, p.Confidence, i-1, preds[i-1].Confidence)
		}
		if _, dup := seen[p.HerbID]; dup {
			return fmt.Errorf("herb %s ranked twice", p.HerbID)
		}
		seen[p.HerbID] = struct{}{}
	}
	if math.Abs(resp.Accuracy-preds[0].Confidence) > confidenceTolerance {
		return fmt.Errorf("accuracy %.6f differs from top confidence %.6f", resp.Accuracy, preds[0].Confidence)
	}
	return nil
}
