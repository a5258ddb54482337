package worker

import (
	"context"
	"sync"

	"rias-agent-golang/internal/domain/noise"
)

// JobProcess holds resources prepared before any job is served.
// UserData is written by the prewarm hook only; after the worker
// starts serving jobs it is read-only.
type JobProcess struct {
	mu       sync.RWMutex
	UserData map[string]interface{}
}

func NewJobProcess() *JobProcess {
	return &JobProcess{
		UserData: make(map[string]interface{}),
	}
}

// Set stores a prewarmed resource. Only valid before jobs are served.
func (p *JobProcess) Set(key string, value interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.UserData[key] = value
}

// Get returns a prewarmed resource.
func (p *JobProcess) Get(key string) (interface{}, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.UserData[key]
	return v, ok
}

// ParticipantDescriptor is what the session layer needs to know about
// a remote participant when choosing audio options.
type ParticipantDescriptor struct {
	Identity string
	Kind     noise.ParticipantKind
}

// Room is the narrow contract the session layer holds against the
// hosting transport. Implementations wrap the real room connection;
// tests use in-package fakes.
type Room interface {
	// Name identifies the room for logging.
	Name() string
	// SendText delivers an assistant text message to the room.
	SendText(ctx context.Context, text string) error
	// PublishAudio pushes one encoded audio frame to the room.
	PublishAudio(ctx context.Context, frame []byte) error
	// RemoteParticipants lists the currently joined remote
	// participants.
	RemoteParticipants() []ParticipantDescriptor
	// OnAudioFrame registers the handler receiving decoded PCM from
	// remote participants.
	OnAudioFrame(handler func(participant ParticipantDescriptor, frame []float32))
	// OnTextMessage registers the handler receiving user text input.
	OnTextMessage(handler func(participant ParticipantDescriptor, text string))
	// Done is closed when the room connection drops.
	Done() <-chan struct{}
	// Close leaves the room.
	Close() error
}

// JobContext carries everything an entrypoint needs for one job.
type JobContext struct {
	ID   string
	Ctx  context.Context
	Room Room
	Proc *JobProcess

	cancel context.CancelFunc
}

// Cancel aborts the job's context. Idempotent.
func (j *JobContext) Cancel() {
	if j.cancel != nil {
		j.cancel()
	}
}
