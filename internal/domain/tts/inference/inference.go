package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"rias-agent-golang/internal/domain/tts/common"
	log "rias-agent-golang/logger"
)

var (
	httpClient     *http.Client
	httpClientOnce sync.Once
)

func getHTTPClient() *http.Client {
	httpClientOnce.Do(func() {
		transport := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
		httpClient = &http.Client{
			Transport: transport,
			Timeout:   60 * time.Second,
		}
	})
	return httpClient
}

// InferenceTTSProvider calls a hosted synthesis endpoint that returns
// streaming WAV audio.
type InferenceTTSProvider struct {
	APIURL   string
	APIKey   string
	Model    string
	Voice    string
	Language string
}

type synthesizeRequest struct {
	Model    string `json:"model"`
	Voice    string `json:"voice"`
	Language string `json:"language,omitempty"`
	Text     string `json:"text"`
	Encoding string `json:"encoding"`
}

// NewInferenceTTSProvider creates the provider from a config map.
// Keys: api_url, api_key, model, voice, language.
func NewInferenceTTSProvider(config map[string]interface{}) *InferenceTTSProvider {
	apiURL, _ := config["api_url"].(string)
	apiKey, _ := config["api_key"].(string)
	model, _ := config["model"].(string)
	voice, _ := config["voice"].(string)
	language, _ := config["language"].(string)

	if apiURL == "" {
		apiURL = "https://inference.internal/v1/speak"
	}

	return &InferenceTTSProvider{
		APIURL:   apiURL,
		APIKey:   apiKey,
		Model:    model,
		Voice:    voice,
		Language: language,
	}
}

func (p *InferenceTTSProvider) request(ctx context.Context, text string) (*http.Response, error) {
	payload, err := json.Marshal(synthesizeRequest{
		Model:    p.Model,
		Voice:    p.Voice,
		Language: p.Language,
		Text:     text,
		Encoding: "wav",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal synthesize request failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.APIURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build synthesize request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := getHTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesize request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("synthesize endpoint returned %d: %s", resp.StatusCode, string(body))
	}
	return resp, nil
}

// TextToSpeech synthesizes a full utterance and returns opus frames.
func (p *InferenceTTSProvider) TextToSpeech(ctx context.Context, text string, sampleRate int, channels int, frameDuration int) ([][]byte, error) {
	startTs := time.Now().UnixMilli()

	resp, err := p.request(ctx, text)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	wavData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read synthesize response failed: %w", err)
	}

	frames, err := common.WavToOpus(wavData, sampleRate, channels, 0)
	if err != nil {
		return nil, err
	}

	log.Debugf("tts synthesize done, %d frames, %d ms", len(frames), time.Now().UnixMilli()-startTs)
	return frames, nil
}

// TextToSpeechStream synthesizes while streaming, opus frames are
// delivered on the returned channel as WAV bytes arrive.
func (p *InferenceTTSProvider) TextToSpeechStream(ctx context.Context, text string, sampleRate int, channels int, frameDuration int) (chan []byte, error) {
	startTs := time.Now().UnixMilli()

	resp, err := p.request(ctx, text)
	if err != nil {
		return nil, err
	}

	outputChan := make(chan []byte, 100)

	go func() {
		defer resp.Body.Close()

		decoder, err := common.CreateAudioDecoder(ctx, resp.Body, outputChan, frameDuration, "wav")
		if err != nil {
			log.Errorf("create tts wav decoder failed: %v", err)
			close(outputChan)
			return
		}
		if err := decoder.Run(); err != nil {
			log.Errorf("tts wav decode failed: %v", err)
		}
		log.Debugf("tts stream done, %d ms", time.Now().UnixMilli()-startTs)
	}()

	return outputChan, nil
}
