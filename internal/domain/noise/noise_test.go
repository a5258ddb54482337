package noise

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectStrategy(t *testing.T) {
	assert.Equal(t, StrategyTelephony, SelectStrategy(ParticipantKindSIP))
	assert.Equal(t, StrategyGeneral, SelectStrategy(ParticipantKindStandard))
}

func TestForParticipant(t *testing.T) {
	assert.Equal(t, StrategyTelephony, ForParticipant(ParticipantKindSIP).Strategy())
	assert.Equal(t, StrategyGeneral, ForParticipant(ParticipantKindStandard).Strategy())
}

func TestGateFrameZeroesQuietFrames(t *testing.T) {
	quiet := make([]float32, 320)
	for i := range quiet {
		quiet[i] = 0.001
	}
	out := NewSuppressor(StrategyGeneral).ProcessFrame(quiet)
	for _, s := range out {
		assert.Zero(t, s)
	}
}

func TestGateFramePassesSpeech(t *testing.T) {
	loud := make([]float32, 320)
	for i := range loud {
		loud[i] = 0.3
	}
	out := NewSuppressor(StrategyTelephony).ProcessFrame(loud)
	assert.InDelta(t, 0.3, float64(out[0]), 1e-6)
}
