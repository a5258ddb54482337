package edge

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"rias-agent-golang/internal/domain/tts/common"
	log "rias-agent-golang/logger"

	"github.com/difyz9/edge-tts-go/pkg/communicate"
)

// EdgeTTSProvider synthesizes via the edge-tts service, output is
// opus frames decoded from the returned MP3.
// Config keys: voice, rate, volume, pitch, connect_timeout,
// receive_timeout.
type EdgeTTSProvider struct {
	Voice          string
	Rate           string
	Volume         string
	Pitch          string
	ConnectTimeout int
	ReceiveTimeout int
}

// NewEdgeTTSProvider creates the provider from a config map.
func NewEdgeTTSProvider(config map[string]interface{}) *EdgeTTSProvider {
	voice, _ := config["voice"].(string)
	rate, _ := config["rate"].(string)
	volume, _ := config["volume"].(string)
	pitch, _ := config["pitch"].(string)
	connectTimeout, _ := config["connect_timeout"].(int)
	receiveTimeout, _ := config["receive_timeout"].(int)
	if rate == "" {
		rate = "+0%"
	}
	if volume == "" {
		volume = "+0%"
	}
	if pitch == "" {
		pitch = "+0Hz"
	}
	if connectTimeout == 0 {
		connectTimeout = 10
	}
	if receiveTimeout == 0 {
		receiveTimeout = 60
	}
	return &EdgeTTSProvider{
		Voice:          voice,
		Rate:           rate,
		Volume:         volume,
		Pitch:          pitch,
		ConnectTimeout: connectTimeout,
		ReceiveTimeout: receiveTimeout,
	}
}

// TextToSpeech synthesizes one utterance and returns opus frames.
func (p *EdgeTTSProvider) TextToSpeech(ctx context.Context, text string, sampleRate int, channels int, frameDuration int) ([][]byte, error) {
	tmpFile := fmt.Sprintf("/tmp/edge-tts-%d.mp3", time.Now().UnixNano())
	defer os.Remove(tmpFile)

	comm, err := communicate.NewCommunicate(
		text,
		p.Voice,
		p.Rate,
		p.Volume,
		p.Pitch,
		"", // proxy
		p.ConnectTimeout,
		p.ReceiveTimeout,
	)
	if err != nil {
		log.Errorf("edge tts communicate failed: %v", err)
		return nil, err
	}

	if err = comm.Save(ctx, tmpFile, ""); err != nil {
		log.Errorf("edge tts save mp3 failed: %v", err)
		return nil, err
	}

	f, err := os.Open(tmpFile)
	if err != nil {
		return nil, fmt.Errorf("open mp3 failed: %w", err)
	}
	defer f.Close()

	pipeReader, pipeWriter := io.Pipe()
	outputChan := make(chan []byte, 1000)

	go func() {
		_, _ = io.Copy(pipeWriter, f)
		pipeWriter.Close()
	}()

	mp3Decoder, err := common.CreateAudioDecoder(ctx, pipeReader, outputChan, frameDuration, "mp3")
	if err != nil {
		return nil, fmt.Errorf("create mp3 decoder failed: %w", err)
	}

	var opusFrames [][]byte
	done := make(chan struct{})
	go func() {
		for frame := range outputChan {
			opusFrames = append(opusFrames, frame)
		}
		done <- struct{}{}
	}()

	if err := mp3Decoder.Run(); err != nil {
		return nil, fmt.Errorf("mp3 decode failed: %w", err)
	}
	<-done
	return opusFrames, nil
}

// TextToSpeechStream synthesizes and streams opus frames as MP3 chunks
// arrive.
func (p *EdgeTTSProvider) TextToSpeechStream(ctx context.Context, text string, sampleRate int, channels int, frameDuration int) (chan []byte, error) {
	startTs := time.Now().UnixMilli()
	comm, err := communicate.NewCommunicate(
		text,
		p.Voice,
		p.Rate,
		p.Volume,
		p.Pitch,
		"", // proxy
		p.ConnectTimeout,
		p.ReceiveTimeout,
	)
	if err != nil {
		log.Errorf("edge tts communicate failed: %v", err)
		return nil, err
	}

	chunkChan, errChan := comm.Stream(ctx)
	outputChan := make(chan []byte, 100)
	pipeReader, pipeWriter := io.Pipe()

	go func() {
		defer func() {
			pipeWriter.Close()
			log.Debugf("edge tts stream finished, %d ms", time.Now().UnixMilli()-startTs)
			if err := <-errChan; err != nil {
				log.Errorf("edge tts stream error: %v", err)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-chunkChan:
				if !ok {
					return
				}
				if chunk.Type == "audio" {
					_, _ = pipeWriter.Write(chunk.Data)
				}
			}
		}
	}()

	go func() {
		mp3Decoder, err := common.CreateAudioDecoder(ctx, pipeReader, outputChan, frameDuration, "mp3")
		if err != nil {
			log.Errorf("create edge tts mp3 decoder failed: %v", err)
			close(outputChan)
			return
		}
		if err := mp3Decoder.Run(); err != nil {
			log.Errorf("edge tts mp3 decode failed: %v", err)
		}
	}()

	return outputChan, nil
}
