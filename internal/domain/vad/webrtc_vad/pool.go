package webrtc_vad

import (
	"context"
	"errors"
	"fmt"

	pool "github.com/jolestar/go-commons-pool/v2"

	"rias-agent-golang/internal/domain/vad/inter"
	log "rias-agent-golang/logger"
)

// vadFactory builds pooled webrtc detectors.
type vadFactory struct {
	sampleRate int
	mode       int
}

func (f *vadFactory) MakeObject(ctx context.Context) (*pool.PooledObject, error) {
	vad, err := NewWebRTCVADWithConfig(f.sampleRate, f.mode)
	if err != nil {
		return nil, err
	}
	return pool.NewPooledObject(vad), nil
}

func (f *vadFactory) DestroyObject(ctx context.Context, object *pool.PooledObject) error {
	if vad, ok := object.Object.(inter.VAD); ok {
		return vad.Close()
	}
	return nil
}

func (f *vadFactory) ValidateObject(ctx context.Context, object *pool.PooledObject) bool {
	vad, ok := object.Object.(*WebRTCVAD)
	return ok && vad.initialized
}

func (f *vadFactory) ActivateObject(ctx context.Context, object *pool.PooledObject) error {
	return nil
}

func (f *vadFactory) PassivateObject(ctx context.Context, object *pool.PooledObject) error {
	if vad, ok := object.Object.(inter.VAD); ok {
		return vad.Reset()
	}
	return nil
}

// WebRTCVADPool hands out pooled detectors, borrowed per session.
type WebRTCVADPool struct {
	objectPool *pool.ObjectPool
	ctx        context.Context
}

// Load creates the pool and eagerly fills it so detector setup cost is
// paid before the first session. Config keys: vad_sample_rate,
// vad_mode, pool_max_size.
func Load(config map[string]interface{}) (*WebRTCVADPool, error) {
	sampleRate := DefaultSampleRate
	mode := DefaultMode
	maxSize := 10

	if val, ok := config["vad_sample_rate"].(int); ok && val > 0 {
		sampleRate = val
	}
	if val, ok := config["vad_mode"].(int); ok && val >= 0 && val <= 3 {
		mode = val
	}
	if val, ok := config["pool_max_size"].(int); ok && val > 0 {
		maxSize = val
	}

	ctx := context.Background()
	factory := &vadFactory{sampleRate: sampleRate, mode: mode}
	objectPool := pool.NewObjectPoolWithDefaultConfig(ctx, factory)
	objectPool.Config.MaxTotal = maxSize
	objectPool.Config.MaxIdle = maxSize
	objectPool.Config.TestOnBorrow = true

	p := &WebRTCVADPool{objectPool: objectPool, ctx: ctx}

	if err := objectPool.AddObject(ctx); err != nil {
		objectPool.Close(ctx)
		return nil, fmt.Errorf("prefill webrtc vad pool failed: %w", err)
	}

	log.Infof("webrtc vad pool ready, sample rate: %d, mode: %d, max: %d", sampleRate, mode, maxSize)
	return p, nil
}

// AcquireVAD borrows a detector from the pool.
func (p *WebRTCVADPool) AcquireVAD() (inter.VAD, error) {
	obj, err := p.objectPool.BorrowObject(p.ctx)
	if err != nil {
		return nil, fmt.Errorf("borrow webrtc vad failed: %w", err)
	}
	vad, ok := obj.(inter.VAD)
	if !ok {
		return nil, errors.New("unexpected object type in webrtc vad pool")
	}
	return vad, nil
}

// ReleaseVAD returns a detector to the pool.
func (p *WebRTCVADPool) ReleaseVAD(vad inter.VAD) {
	if vad == nil {
		return
	}
	if err := p.objectPool.ReturnObject(p.ctx, vad); err != nil {
		log.Warnf("return webrtc vad failed: %v", err)
		vad.Close()
	}
}

// Close shuts the pool down and destroys idle detectors.
func (p *WebRTCVADPool) Close() {
	p.objectPool.Close(p.ctx)
	log.Info("webrtc vad pool closed")
}
