package types

// StreamingResult is one partial or final recognition result.
type StreamingResult struct {
	Text       string  // recognized text
	IsFinal    bool    // final result for the current utterance
	Confidence float64 // provider confidence, 0 when not reported
}
