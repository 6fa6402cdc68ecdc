package pipeline

import (
	"fmt"

	"anpr-stream/internal/domain/anpr"
	"anpr-stream/internal/recognition"
)

// Placeholder labels drawn while a plate has no usable text. They are never
// persisted.
const (
	LabelProcessing = "Processing..."
	LabelSmallPlate = "Small plate"
	LabelEmptyCrop  = "Empty crop"
	LabelError      = "Error"
)

func IsPlaceholder(label string) bool {
	switch label {
	case LabelProcessing, LabelSmallPlate, LabelEmptyCrop, LabelError:
		return true
	}
	return false
}

type boxState int

const (
	stateTooSmall boxState = iota
	stateCacheHit
	stateProcessing
	stateNeedsCrop
	stateEmptyCrop
)

func (s boxState) String() string {
	switch s {
	case stateTooSmall:
		return "too_small"
	case stateCacheHit:
		return "cache_hit"
	case stateProcessing:
		return "processing"
	case stateNeedsCrop:
		return "needs_crop"
	case stateEmptyCrop:
		return "empty_crop"
	}
	return "unknown"
}

// classifyPlate decides what to do with a plate box on a sampled frame from
// its area and its recognition entry. A box below minArea never reaches the
// cache. A failed entry is a cache hit whose label is LabelError.
func classifyPlate(det anpr.Detection, minArea int, entry recognition.Entry, found bool) (boxState, string) {
	if det.Area() < minArea {
		return stateTooSmall, LabelSmallPlate
	}
	if !found {
		return stateNeedsCrop, ""
	}
	switch entry.State {
	case recognition.StateDone:
		return stateCacheHit, entry.Text
	case recognition.StateFailed:
		return stateCacheHit, LabelError
	default:
		return stateProcessing, LabelProcessing
	}
}

func classLabel(det anpr.Detection) string {
	return fmt.Sprintf("%s %.2f", det.ClassName, det.Confidence)
}
