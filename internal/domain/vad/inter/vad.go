package inter

// VAD is a voice activity detector over PCM frames.
type VAD interface {
	// IsVAD reports whether the frame contains speech.
	IsVAD(pcmData []float32) (bool, error)

	IsVADExt(pcmData []float32, sampleRate int, frameSize int) (bool, error)
	// Reset clears detector state between utterances.
	Reset() error
	// Close releases the detector.
	Close() error
}
