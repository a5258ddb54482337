package noise

import (
	log "rias-agent-golang/logger"
)

// Strategy names a noise-suppression model family.
type Strategy string

const (
	// StrategyGeneral is the wideband model for standard participants.
	StrategyGeneral Strategy = "general"
	// StrategyTelephony is tuned for narrowband SIP/PSTN audio.
	StrategyTelephony Strategy = "telephony"
)

// ParticipantKind describes how a participant joined the room.
type ParticipantKind int

const (
	ParticipantKindStandard ParticipantKind = iota
	ParticipantKindSIP
)

func (k ParticipantKind) String() string {
	if k == ParticipantKindSIP {
		return "sip"
	}
	return "standard"
}

// SelectStrategy picks the suppression strategy for a participant.
// Telephony audio gets the narrowband-tuned model, everything else the
// general one.
func SelectStrategy(kind ParticipantKind) Strategy {
	if kind == ParticipantKindSIP {
		return StrategyTelephony
	}
	return StrategyGeneral
}

// Suppressor filters a PCM frame in place and reports the strategy it
// was built with.
type Suppressor interface {
	Strategy() Strategy
	ProcessFrame(frame []float32) []float32
}

// NewSuppressor builds a suppressor for the given strategy.
func NewSuppressor(strategy Strategy) Suppressor {
	switch strategy {
	case StrategyTelephony:
		return &telephonySuppressor{}
	default:
		return &generalSuppressor{}
	}
}

// ForParticipant is the selection used at session assembly time, one
// suppressor per remote participant.
func ForParticipant(kind ParticipantKind) Suppressor {
	strategy := SelectStrategy(kind)
	log.Debugf("noise suppression strategy %s selected for %s participant", strategy, kind)
	return NewSuppressor(strategy)
}

type generalSuppressor struct{}

func (s *generalSuppressor) Strategy() Strategy { return StrategyGeneral }

func (s *generalSuppressor) ProcessFrame(frame []float32) []float32 {
	return gateFrame(frame, generalGateThreshold)
}

type telephonySuppressor struct{}

func (s *telephonySuppressor) Strategy() Strategy { return StrategyTelephony }

func (s *telephonySuppressor) ProcessFrame(frame []float32) []float32 {
	// Narrowband lines carry more hum, gate harder.
	return gateFrame(frame, telephonyGateThreshold)
}

const (
	generalGateThreshold   = 0.004
	telephonyGateThreshold = 0.01
)

// gateFrame zeroes the frame when its RMS energy is below threshold.
func gateFrame(frame []float32, threshold float64) []float32 {
	if len(frame) == 0 {
		return frame
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	meanSquare := sum / float64(len(frame))
	if meanSquare < threshold*threshold {
		for i := range frame {
			frame[i] = 0
		}
	}
	return frame
}
