package classifier

// Decode picks the highest score. Ties go to the lowest index. An empty score
// vector is a programming error and panics.
func Decode(scores []float32) Result {
	if len(scores) == 0 {
		panic("classifier: decode of empty score vector")
	}
	maxIdx := 0
	maxVal := scores[0]
	for i, val := range scores[1:] {
		if val > maxVal {
			maxVal = val
			maxIdx = i + 1
		}
	}
	return Result{Label: maxIdx, Confidence: maxVal}
}
