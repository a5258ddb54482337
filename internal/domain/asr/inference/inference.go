package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	log "rias-agent-golang/logger"

	"github.com/gorilla/websocket"

	"rias-agent-golang/internal/data/audio"
	"rias-agent-golang/internal/domain/asr/types"
)

// Config for the hosted streaming recognition endpoint.
type Config struct {
	URL            string // websocket endpoint
	APIKey         string
	Model          string // e.g. "deepgram/nova-2"
	Language       string // e.g. "en-IN"
	SampleRate     int
	MaxConnections int
	Timeout        int // idle connection timeout, seconds
}

// DefaultConfig holds endpoint defaults.
var DefaultConfig = Config{
	URL:            "wss://inference.internal/v1/listen",
	SampleRate:     audio.SampleRate,
	MaxConnections: 5,
	Timeout:        30,
}

type connState struct {
	inUse    bool
	lastUsed time.Time
	writeMu  sync.Mutex
}

// InferenceAsr is a websocket streaming client with a small connection
// pool, one connection serves one utterance at a time.
type InferenceAsr struct {
	config    Config
	pool      map[*websocket.Conn]*connState
	poolMutex sync.Mutex
}

// startRequest opens an utterance on a connection.
type startRequest struct {
	Type       string `json:"type"` // "start"
	Model      string `json:"model"`
	Language   string `json:"language,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Interim    bool   `json:"interim_results"`
}

// stopRequest ends an utterance, the endpoint flushes the final result.
type stopRequest struct {
	Type string `json:"type"` // "stop"
}

type transcriptResponse struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence"`
}

// NewInferenceAsr creates the provider from a config map. Keys: url,
// api_key, model, language, sample_rate, max_connections, timeout.
func NewInferenceAsr(config map[string]interface{}) (*InferenceAsr, error) {
	cfg := DefaultConfig
	if url, ok := config["url"].(string); ok && url != "" {
		cfg.URL = url
	}
	if key, ok := config["api_key"].(string); ok {
		cfg.APIKey = key
	}
	if model, ok := config["model"].(string); ok && model != "" {
		cfg.Model = model
	}
	if language, ok := config["language"].(string); ok && language != "" {
		cfg.Language = language
	}
	if sampleRate, ok := config["sample_rate"].(int); ok && sampleRate > 0 {
		cfg.SampleRate = sampleRate
	} else if sampleRateFloat, ok := config["sample_rate"].(float64); ok && sampleRateFloat > 0 {
		cfg.SampleRate = int(sampleRateFloat)
	}
	if maxConnections, ok := config["max_connections"].(int); ok && maxConnections > 0 {
		cfg.MaxConnections = maxConnections
	}
	if timeout, ok := config["timeout"].(int); ok && timeout > 0 {
		cfg.Timeout = timeout
	}
	if cfg.Model == "" {
		return nil, errors.New("asr model is required")
	}

	a := &InferenceAsr{
		config: cfg,
		pool:   make(map[*websocket.Conn]*connState),
	}

	go a.cleanupConnections()

	return a, nil
}

func (a *InferenceAsr) createConnection() (*websocket.Conn, error) {
	header := map[string][]string{}
	if a.config.APIKey != "" {
		header["Authorization"] = []string{"Bearer " + a.config.APIKey}
	}
	conn, _, err := websocket.DefaultDialer.Dial(a.config.URL, header)
	if err != nil {
		return nil, fmt.Errorf("connect recognition endpoint failed: %w", err)
	}
	return conn, nil
}

func (a *InferenceAsr) removeConnection(conn *websocket.Conn) {
	a.poolMutex.Lock()
	defer a.poolMutex.Unlock()
	if _, ok := a.pool[conn]; ok {
		conn.Close()
		delete(a.pool, conn)
		log.Debugf("removed dead asr connection, pool size: %d", len(a.pool))
	}
}

func (a *InferenceAsr) getConnection() (*websocket.Conn, error) {
	a.poolMutex.Lock()
	defer a.poolMutex.Unlock()

	for conn, state := range a.pool {
		if !state.inUse {
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(1*time.Second)); err != nil {
				go a.removeConnection(conn)
				continue
			}
			state.inUse = true
			state.lastUsed = time.Now()
			return conn, nil
		}
	}

	if len(a.pool) < a.config.MaxConnections {
		conn, err := a.createConnection()
		if err != nil {
			return nil, err
		}
		a.pool[conn] = &connState{
			inUse:    true,
			lastUsed: time.Now(),
		}
		log.Debugf("new asr connection, pool size: %d", len(a.pool))
		return conn, nil
	}

	return nil, errors.New("asr connection pool exhausted")
}

func (a *InferenceAsr) releaseConnection(conn *websocket.Conn) {
	a.poolMutex.Lock()
	defer a.poolMutex.Unlock()

	if state, ok := a.pool[conn]; ok {
		state.inUse = false
		state.lastUsed = time.Now()
	}
}

func (a *InferenceAsr) cleanupConnections() {
	ticker := time.NewTicker(time.Duration(a.config.Timeout) * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		a.poolMutex.Lock()
		now := time.Now()
		for conn, state := range a.pool {
			if !state.inUse && now.Sub(state.lastUsed) > time.Duration(a.config.Timeout)*time.Second {
				conn.Close()
				delete(a.pool, conn)
				log.Debugf("closed idle asr connection, pool size: %d", len(a.pool))
			}
		}
		a.poolMutex.Unlock()
	}
}

func (a *InferenceAsr) writeMessage(conn *websocket.Conn, messageType int, data []byte) error {
	a.poolMutex.Lock()
	state, ok := a.pool[conn]
	a.poolMutex.Unlock()
	if !ok {
		return errors.New("connection not found in pool")
	}
	state.writeMu.Lock()
	defer state.writeMu.Unlock()
	return conn.WriteMessage(messageType, data)
}

// Process runs one-shot recognition over a complete utterance.
func (a *InferenceAsr) Process(pcmData []float32) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(a.config.Timeout)*time.Second)
	defer cancel()

	audioStream := make(chan []float32, 1)
	audioStream <- pcmData
	close(audioStream)

	resultChan, err := a.StreamingRecognize(ctx, audioStream)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for result := range resultChan {
		if result.IsFinal {
			text.WriteString(result.Text)
		}
	}
	return text.String(), nil
}

// StreamingRecognize implements streaming recognition over one pooled
// connection. Audio is forwarded as 16-bit PCM binary frames.
func (a *InferenceAsr) StreamingRecognize(ctx context.Context, audioStream <-chan []float32) (chan types.StreamingResult, error) {
	conn, err := a.getConnection()
	if err != nil {
		return nil, err
	}

	subCtx, cancelFunc := context.WithCancel(ctx)

	start := startRequest{
		Type:       "start",
		Model:      a.config.Model,
		Language:   a.config.Language,
		SampleRate: a.config.SampleRate,
		Encoding:   "linear16",
		Interim:    true,
	}

	messageBytes, err := json.Marshal(start)
	if err != nil {
		cancelFunc()
		a.releaseConnection(conn)
		return nil, fmt.Errorf("marshal start message failed: %w", err)
	}

	if err = a.writeMessage(conn, websocket.TextMessage, messageBytes); err != nil {
		cancelFunc()
		a.releaseConnection(conn)
		return nil, fmt.Errorf("send start message failed: %w", err)
	}

	resultChan := make(chan types.StreamingResult, 20)

	go a.recvResults(subCtx, conn, resultChan)
	go a.forwardAudio(subCtx, cancelFunc, conn, audioStream)

	return resultChan, nil
}

func (a *InferenceAsr) recvResults(ctx context.Context, conn *websocket.Conn, resultChan chan types.StreamingResult) {
	defer func() {
		close(resultChan)
		a.releaseConnection(conn)
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debugf("asr recvResults cancelled: %v", ctx.Err())
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if !isConnectionClosedError(err) && !isTimeoutError(err) {
				log.Debugf("asr recvResults read failed: %v", err)
			}
			return
		}

		var response transcriptResponse
		if err = json.Unmarshal(message, &response); err != nil {
			log.Debugf("asr recvResults bad payload: %v", err)
			continue
		}

		if response.Type != "transcript" {
			continue
		}

		select {
		case resultChan <- types.StreamingResult{
			Text:       response.Text,
			IsFinal:    response.IsFinal,
			Confidence: response.Confidence,
		}:
		case <-ctx.Done():
			return
		}

		if response.IsFinal {
			return
		}
	}
}

func (a *InferenceAsr) forwardAudio(ctx context.Context, cancelFunc context.CancelFunc, conn *websocket.Conn, audioStream <-chan []float32) {
	defer cancelFunc()

	for {
		select {
		case <-ctx.Done():
			return
		case pcm, ok := <-audioStream:
			if !ok {
				// input finished, ask for the final result
				stopBytes, _ := json.Marshal(stopRequest{Type: "stop"})
				if err := a.writeMessage(conn, websocket.TextMessage, stopBytes); err != nil {
					log.Debugf("asr send stop failed: %v", err)
					a.removeConnection(conn)
				}
				return
			}

			if err := a.writeMessage(conn, websocket.BinaryMessage, float32ToPCM16(pcm)); err != nil {
				log.Debugf("asr forward audio failed: %v", err)
				a.removeConnection(conn)
				return
			}
		}
	}
}

func float32ToPCM16(pcm []float32) []byte {
	out := make([]byte, len(pcm)*2)
	for i, sample := range pcm {
		if sample > 1 {
			sample = 1
		} else if sample < -1 {
			sample = -1
		}
		v := int16(sample * 32767)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}
	errMsg := strings.ToLower(err.Error())
	return strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "i/o timeout")
}

func isConnectionClosedError(err error) bool {
	if err == nil {
		return false
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
		return true
	}
	errMsg := strings.ToLower(err.Error())
	return strings.Contains(errMsg, "connection closed") ||
		strings.Contains(errMsg, "broken pipe") ||
		strings.Contains(errMsg, "connection reset") ||
		strings.Contains(errMsg, "use of closed network connection")
}
