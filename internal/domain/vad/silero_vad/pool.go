package silero_vad

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"rias-agent-golang/internal/domain/vad/inter"

	log "rias-agent-golang/logger"
)

const (
	defaultPoolSize         = 10
	defaultAcquireTimeoutMs = 3000
)

// VADResourcePool pre-creates silero detectors, model load is paid once
// at startup instead of per conversation. The pool is an explicit
// handle passed to whoever assembles sessions, there is no package
// global.
type VADResourcePool struct {
	availableVADs  chan inter.VAD
	allocatedVADs  sync.Map
	maxSize        int
	acquireTimeout int64 // ms
	defaultConfig  map[string]interface{}
	mu             sync.Mutex
	closed         bool
}

// Load creates the pool and synchronously loads maxSize detectors.
// Any load failure tears the pool back down and is returned to the
// caller. Config keys: model_path (required), threshold,
// min_silence_duration_ms, sample_rate, channels, speech_pad_ms,
// pool_size, acquire_timeout_ms.
func Load(config map[string]interface{}) (*VADResourcePool, error) {
	modelPath, _ := config["model_path"].(string)
	if modelPath == "" {
		return nil, errors.New("vad model_path is required")
	}

	p := &VADResourcePool{
		maxSize:        defaultPoolSize,
		acquireTimeout: defaultAcquireTimeoutMs,
		defaultConfig:  config,
	}

	if poolSize, ok := config["pool_size"].(int); ok && poolSize > 0 {
		p.maxSize = poolSize
	}
	if timeout, ok := config["acquire_timeout_ms"].(int64); ok && timeout > 0 {
		p.acquireTimeout = timeout
	}

	if err := p.initialize(); err != nil {
		return nil, err
	}

	log.Infof("silero vad pool ready, model: %s, size: %d", modelPath, p.maxSize)
	return p, nil
}

func (p *VADResourcePool) initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.availableVADs = make(chan inter.VAD, p.maxSize)

	for i := 0; i < p.maxSize; i++ {
		vadInstance, err := NewSileroVAD(p.defaultConfig)
		if err != nil {
			for j := 0; j < i; j++ {
				vad := <-p.availableVADs
				vad.Close()
			}
			close(p.availableVADs)
			p.availableVADs = nil

			return fmt.Errorf("pre-create silero vad failed: %w", err)
		}

		p.availableVADs <- vadInstance
	}

	return nil
}

// AcquireVAD takes a detector from the pool, waiting up to the
// configured acquire timeout.
func (p *VADResourcePool) AcquireVAD() (inter.VAD, error) {
	if p.availableVADs == nil {
		return nil, errors.New("vad pool not initialized")
	}

	timeout := time.After(time.Duration(p.acquireTimeout) * time.Millisecond)

	select {
	case vad := <-p.availableVADs:
		if vad == nil {
			return nil, errors.New("vad pool closed")
		}

		p.allocatedVADs.Store(vad, time.Now())
		log.Debugf("acquired vad instance, available: %d/%d", len(p.availableVADs), p.maxSize)
		return vad, nil

	case <-timeout:
		return nil, fmt.Errorf("acquire vad timeout, pool exhausted (%d/%d)", p.maxSize, p.maxSize)
	}
}

// ReleaseVAD returns a detector to the pool. Detectors not managed by
// this pool are rejected.
func (p *VADResourcePool) ReleaseVAD(vad inter.VAD) {
	if vad == nil {
		return
	}

	if _, exists := p.allocatedVADs.Load(vad); !exists {
		log.Warn("release of vad instance not managed by this pool")
		return
	}
	p.allocatedVADs.Delete(vad)

	vad.Reset()

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		vad.Close()
		return
	}

	select {
	case p.availableVADs <- vad:
		log.Debugf("vad instance returned, available: %d/%d", len(p.availableVADs), p.maxSize)
	default:
		// pool full, drop the instance
		vad.Close()
		log.Warn("vad pool full, surplus instance destroyed")
	}
}

// ActiveCount returns the number of detectors currently allocated.
func (p *VADResourcePool) ActiveCount() int {
	count := 0
	p.allocatedVADs.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

// AvailableCount returns the number of idle detectors.
func (p *VADResourcePool) AvailableCount() int {
	if p.availableVADs == nil {
		return 0
	}
	return len(p.availableVADs)
}

// Close releases all detectors, idle and allocated.
func (p *VADResourcePool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	availableVADs := p.availableVADs
	p.availableVADs = nil
	p.mu.Unlock()

	if availableVADs != nil {
		close(availableVADs)
		for vad := range availableVADs {
			vad.Close()
		}
	}

	p.allocatedVADs.Range(func(key, _ interface{}) bool {
		if vad, ok := key.(inter.VAD); ok {
			vad.Close()
		}
		p.allocatedVADs.Delete(key)
		return true
	})

	log.Info("silero vad pool closed, all detectors released")
}
