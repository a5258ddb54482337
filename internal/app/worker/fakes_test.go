package worker

import (
	"context"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"rias-agent-golang/internal/domain/asr/types"
	"rias-agent-golang/internal/domain/vad/inter"
)

type fakeRoom struct {
	mu           sync.Mutex
	name         string
	participants []ParticipantDescriptor
	sentTexts    []string
	publishedMsg int
	audioHandler func(ParticipantDescriptor, []float32)
	textHandler  func(ParticipantDescriptor, string)
	done         chan struct{}
	closeOnce    sync.Once
}

func newFakeRoom(name string) *fakeRoom {
	return &fakeRoom{name: name, done: make(chan struct{})}
}

func (r *fakeRoom) Name() string { return r.name }

func (r *fakeRoom) SendText(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sentTexts = append(r.sentTexts, text)
	return nil
}

func (r *fakeRoom) PublishAudio(ctx context.Context, frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishedMsg++
	return nil
}

func (r *fakeRoom) RemoteParticipants() []ParticipantDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ParticipantDescriptor(nil), r.participants...)
}

func (r *fakeRoom) OnAudioFrame(handler func(ParticipantDescriptor, []float32)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audioHandler = handler
}

func (r *fakeRoom) OnTextMessage(handler func(ParticipantDescriptor, string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.textHandler = handler
}

func (r *fakeRoom) Done() <-chan struct{} { return r.done }

func (r *fakeRoom) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	return nil
}

func (r *fakeRoom) sentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sentTexts)
}

func (r *fakeRoom) publishedFrames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.publishedMsg
}

func (r *fakeRoom) hasAudioHandler() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.audioHandler != nil
}

func (r *fakeRoom) hasTextHandler() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.textHandler != nil
}

// fakeLLM serves replies as one streamed message each. When turns is
// set, each call serves the next scripted message slice instead, so
// tests can drive a tool call on the first request and text on the
// follow-up.
type fakeLLM struct {
	mu        sync.Mutex
	replies   []string
	turns     [][]*schema.Message
	calls     int
	userTexts []string
}

func (f *fakeLLM) ResponseWithContext(ctx context.Context, sessionID string, dialogue []*schema.Message, functions []*schema.ToolInfo) chan *schema.Message {
	f.mu.Lock()
	call := f.calls
	f.calls++
	for i := len(dialogue) - 1; i >= 0; i-- {
		if dialogue[i].Role == schema.User {
			f.userTexts = append(f.userTexts, dialogue[i].Content)
			break
		}
	}
	var messages []*schema.Message
	if len(f.turns) > 0 {
		if call < len(f.turns) {
			messages = f.turns[call]
		}
	} else {
		for _, text := range f.replies {
			messages = append(messages, &schema.Message{Role: schema.Assistant, Content: text})
		}
	}
	f.mu.Unlock()

	out := make(chan *schema.Message, len(messages)+1)
	for _, msg := range messages {
		out <- msg
	}
	close(out)
	return out
}

func (f *fakeLLM) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{"model_name": "fake"}
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeLLM) lastUserText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.userTexts) == 0 {
		return ""
	}
	return f.userTexts[len(f.userTexts)-1]
}

type fakeTTS struct{}

func (f *fakeTTS) TextToSpeech(ctx context.Context, text string, sampleRate, channels, frameDuration int) ([][]byte, error) {
	return [][]byte{{0x01}}, nil
}

func (f *fakeTTS) TextToSpeechStream(ctx context.Context, text string, sampleRate, channels, frameDuration int) (chan []byte, error) {
	out := make(chan []byte, 1)
	out <- []byte{0x01}
	close(out)
	return out, nil
}

type fakeASR struct {
	text string
}

func (f *fakeASR) Process(pcmData []float32) (string, error) {
	return f.text, nil
}

func (f *fakeASR) StreamingRecognize(ctx context.Context, audioStream <-chan []float32) (chan types.StreamingResult, error) {
	out := make(chan types.StreamingResult, 1)
	out <- types.StreamingResult{Text: f.text, IsFinal: true}
	close(out)
	return out, nil
}

type fakeTurnDetector struct {
	mu        sync.Mutex
	endOfTurn bool
	delay     time.Duration
}

func (f *fakeTurnDetector) PredictEndOfTurn(ctx context.Context, dialogue []*schema.Message) (bool, error) {
	f.mu.Lock()
	eot := f.endOfTurn
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return eot, nil
}

func (f *fakeTurnDetector) setEndOfTurn(eot bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endOfTurn = eot
}

// fakeTool records invocations and returns a canned result.
type fakeTool struct {
	mu     sync.Mutex
	name   string
	result string
	args   []string
}

func (t *fakeTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: t.name}, nil
}

func (t *fakeTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.args = append(t.args, argumentsInJSON)
	return t.result, nil
}

func (t *fakeTool) invocations() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.args)
}

type fakeVAD struct {
	speech bool
}

func (f *fakeVAD) IsVAD(pcm []float32) (bool, error) { return f.speech, nil }

func (f *fakeVAD) IsVADExt(pcm []float32, sampleRate, frameSize int) (bool, error) {
	return f.speech, nil
}

func (f *fakeVAD) Reset() error { return nil }
func (f *fakeVAD) Close() error { return nil }

type fakeVADHandle struct {
	mu       sync.Mutex
	acquired int
	released int
}

func (h *fakeVADHandle) AcquireVAD() (inter.VAD, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.acquired++
	return &fakeVAD{}, nil
}

func (h *fakeVADHandle) ReleaseVAD(v inter.VAD) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released++
}

func (h *fakeVADHandle) Close() {}

func (h *fakeVADHandle) releasedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

func fakePipeline(mode Mode) *Pipeline {
	p := &Pipeline{
		Mode: mode,
		Llm:  &fakeLLM{replies: []string{"Hello there."}},
	}
	if mode == ModeAudio {
		p.AudioEnabled = true
		p.PreemptiveGeneration = true
		p.Asr = &fakeASR{text: "hi."}
		p.Tts = &fakeTTS{}
		p.TurnDetector = &fakeTurnDetector{endOfTurn: true}
		p.Vad = &fakeVAD{}
	}
	return p
}
