package detector

import (
	"sort"

	"github.com/aigoflow/detection-service/internal/models"
)

const defaultIoUThreshold = 0.45

// decodeOutput converts the raw YOLO head output into detections above
// the confidence threshold, scaled back to source pixel coordinates.
// The tensor is laid out row-major as [4+numClasses][anchors]: center x,
// center y, width, height, then one score row per class.
func decodeOutput(data []float32, labels []string, conf float64, inputSize, origW, origH int) []models.Detection {
	numClasses := len(labels)
	anchors := len(data) / (4 + numClasses)
	if anchors == 0 {
		return nil
	}

	scaleX := float64(origW) / float64(inputSize)
	scaleY := float64(origH) / float64(inputSize)

	var out []models.Detection
	for a := 0; a < anchors; a++ {
		bestClass := -1
		bestScore := float32(0)
		for c := 0; c < numClasses; c++ {
			score := data[(4+c)*anchors+a]
			if score > bestScore {
				bestScore = score
				bestClass = c
			}
		}
		if bestClass < 0 || float64(bestScore) < conf {
			continue
		}

		cx := float64(data[0*anchors+a])
		cy := float64(data[1*anchors+a])
		w := float64(data[2*anchors+a])
		h := float64(data[3*anchors+a])

		x1 := clamp(int((cx-w/2)*scaleX), 0, origW)
		y1 := clamp(int((cy-h/2)*scaleY), 0, origH)
		x2 := clamp(int((cx+w/2)*scaleX), 0, origW)
		y2 := clamp(int((cy+h/2)*scaleY), 0, origH)

		out = append(out, models.Detection{
			Box:   [4]int{x1, y1, x2, y2},
			Class: labels[bestClass],
			Score: float64(bestScore),
		})
	}
	return out
}

// nonMaxSuppression drops boxes that overlap a higher-scoring box of
// the same class beyond the IoU threshold.
func nonMaxSuppression(dets []models.Detection, iouThreshold float64) []models.Detection {
	if len(dets) == 0 {
		return dets
	}

	sort.Slice(dets, func(i, j int) bool {
		return dets[i].Score > dets[j].Score
	})

	kept := make([]models.Detection, 0, len(dets))
	suppressed := make([]bool, len(dets))
	for i := range dets {
		if suppressed[i] {
			continue
		}
		kept = append(kept, dets[i])
		for j := i + 1; j < len(dets); j++ {
			if suppressed[j] || dets[j].Class != dets[i].Class {
				continue
			}
			if iou(dets[i].Box, dets[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func iou(a, b [4]int) float64 {
	ix1 := max(a[0], b[0])
	iy1 := max(a[1], b[1])
	ix2 := min(a[2], b[2])
	iy2 := min(a[3], b[3])

	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}

	inter := float64(iw * ih)
	areaA := float64((a[2] - a[0]) * (a[3] - a[1]))
	areaB := float64((b[2] - b[0]) * (b[3] - b[1]))
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
