package common

import (
	"bytes"
	"context"
	"fmt"
	"io"

	log "rias-agent-golang/logger"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/gopxl/beep"
	"github.com/gopxl/beep/mp3"
	"gopkg.in/hraban/opus.v2"
)

// WavToOpus converts a complete WAV payload into opus frames.
func WavToOpus(wavData []byte, sampleRate int, channels int, bitRate int) ([][]byte, error) {
	wavReader := bytes.NewReader(wavData)
	wavDecoder := wav.NewDecoder(wavReader)
	if !wavDecoder.IsValidFile() {
		return nil, fmt.Errorf("invalid wav payload")
	}

	wavDecoder.ReadInfo()
	format := wavDecoder.Format()
	wavSampleRate := int(format.SampleRate)
	wavChannels := int(format.NumChannels)

	// Prefer the parameters in the file itself.
	if sampleRate == 0 {
		sampleRate = wavSampleRate
	}
	if channels == 0 {
		channels = wavChannels
	}

	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder failed: %w", err)
	}

	if bitRate > 0 {
		if err := enc.SetBitrate(bitRate); err != nil {
			return nil, fmt.Errorf("set opus bitrate failed: %w", err)
		}
	}

	opusFrames := make([][]byte, 0)

	perFrameDuration := 20
	frameSize := sampleRate * perFrameDuration / 1000
	pcmBuffer := make([]int16, frameSize*channels)
	opusBuffer := make([]byte, 1000)

	audioBuf := &audio.IntBuffer{Data: make([]int, frameSize*channels), Format: format}

	for {
		n, err := wavDecoder.PCMBuffer(audioBuf)
		if err == io.EOF || n == 0 {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read wav data failed: %w", err)
		}

		for i := 0; i < len(audioBuf.Data); i++ {
			if i < len(pcmBuffer) {
				pcmBuffer[i] = int16(audioBuf.Data[i])
			}
		}

		n, err = enc.Encode(pcmBuffer, opusBuffer)
		if err != nil {
			return nil, fmt.Errorf("opus encode failed: %w", err)
		}

		frameData := make([]byte, n)
		copy(frameData, opusBuffer[:n])
		opusFrames = append(opusFrames, frameData)
	}

	return opusFrames, nil
}

// AudioDecoder streams wav/pcm/mp3 bytes from a reader into opus
// frames on outputOpusChan.
type AudioDecoder struct {
	streamer           beep.StreamSeekCloser
	format             beep.Format
	enc                *opus.Encoder
	pipeReader         io.ReadCloser
	perFrameDurationMs int
	AudioFormat        string

	outputOpusChan chan []byte
	ctx            context.Context
}

// CreateAudioDecoder builds a decoder; Run drives it to completion.
func CreateAudioDecoder(ctx context.Context, pipeReader io.ReadCloser, outputOpusChan chan []byte, perFrameDurationMs int, audioFormat string) (*AudioDecoder, error) {
	return &AudioDecoder{
		pipeReader:         pipeReader,
		outputOpusChan:     outputOpusChan,
		perFrameDurationMs: perFrameDurationMs,
		AudioFormat:        audioFormat,
		ctx:                ctx,
	}, nil
}

// WithFormat sets the source format for raw PCM input.
func (d *AudioDecoder) WithFormat(format beep.Format) *AudioDecoder {
	d.format = format
	return d
}

func (d *AudioDecoder) Run() error {
	switch d.AudioFormat {
	case "wav":
		return d.RunWavDecoder(false)
	case "pcm":
		return d.RunWavDecoder(true)
	case "mp3":
		return d.RunMp3Decoder()
	}
	return fmt.Errorf("unsupported audio format: %s", d.AudioFormat)
}

// RunWavDecoder reads WAV (or raw PCM when isRaw) and emits opus
// frames. Multi-channel input is downmixed to mono.
func (d *AudioDecoder) RunWavDecoder(isRaw bool) error {
	defer close(d.outputOpusChan)

	var sampleRate int
	var channels int

	if !isRaw {
		// 44-byte canonical WAV header
		headerSize := 44
		header := make([]byte, headerSize)
		_, err := io.ReadFull(d.pipeReader, header)
		if err != nil {
			return fmt.Errorf("read wav header failed: %w", err)
		}

		// sample rate: bytes 24-27, channels: bytes 22-23
		sampleRate = int(uint32(header[24]) | uint32(header[25])<<8 | uint32(header[26])<<16 | uint32(header[27])<<24)
		channels = int(uint16(header[22]) | uint16(header[23])<<8)

		log.Debugf("wav format: %d Hz, %d channels", sampleRate, channels)
	} else {
		sampleRate = int(d.format.SampleRate)
		channels = d.format.NumChannels
		log.Debugf("raw pcm format: %d Hz, %d channels", sampleRate, channels)
	}

	outputChannels := 1

	enc, err := opus.NewEncoder(sampleRate, outputChannels, opus.AppAudio)
	if err != nil {
		return fmt.Errorf("create opus encoder failed: %w", err)
	}
	d.enc = enc

	frameDurationMs := d.perFrameDurationMs
	frameSize := sampleRate * frameDurationMs / 1000
	pcmBuffer := make([]int16, frameSize*outputChannels)
	opusBuffer := make([]byte, 1000)

	rawBuffer := make([]byte, frameSize*channels*2) // 16-bit samples
	currentFramePos := 0

	for {
		select {
		case <-d.ctx.Done():
			log.Debugf("wav decoder context done, exit")
			return nil
		default:
			n, err := d.pipeReader.Read(rawBuffer)
			if err == io.EOF {
				// flush the trailing partial frame
				if currentFramePos > 0 {
					paddedFrame := make([]int16, frameSize)
					copy(paddedFrame, pcmBuffer[:currentFramePos])

					if n, err := d.enc.Encode(paddedFrame, opusBuffer); err == nil {
						frameData := make([]byte, n)
						copy(frameData, opusBuffer[:n])
						d.outputOpusChan <- frameData
					}
				}
				return nil
			}
			if err != nil {
				return fmt.Errorf("read pcm data failed: %w", err)
			}

			samplesRead := n / (2 * channels)
			for i := 0; i < samplesRead; i++ {
				// downmix by averaging channels
				var sampleSum int32
				for ch := 0; ch < channels; ch++ {
					pos := i*channels*2 + ch*2
					sample := int16(uint16(rawBuffer[pos]) | uint16(rawBuffer[pos+1])<<8)
					sampleSum += int32(sample)
				}

				pcmBuffer[currentFramePos] = int16(sampleSum / int32(channels))
				currentFramePos++

				if currentFramePos == frameSize {
					n, err := d.enc.Encode(pcmBuffer, opusBuffer)
					if err != nil {
						return fmt.Errorf("opus encode failed: %w", err)
					}
					frameData := make([]byte, n)
					copy(frameData, opusBuffer[:n])

					select {
					case d.outputOpusChan <- frameData:
					case <-d.ctx.Done():
						return nil
					}
					currentFramePos = 0
				}
			}
		}
	}
}

// RunMp3Decoder streams MP3 input through beep into opus frames.
func (d *AudioDecoder) RunMp3Decoder() error {
	defer close(d.outputOpusChan)

	decoder, format, err := mp3.Decode(d.pipeReader)
	if err != nil {
		return fmt.Errorf("create mp3 decoder failed: %w", err)
	}
	log.Debugf("mp3 format: %d Hz, %d channels", format.SampleRate, format.NumChannels)
	d.streamer = decoder
	d.format = format
	defer d.streamer.Close()

	sampleRate := int(format.SampleRate)

	enc, err := opus.NewEncoder(sampleRate, 1, opus.AppAudio)
	if err != nil {
		return fmt.Errorf("create opus encoder failed: %w", err)
	}
	d.enc = enc

	frameSize := sampleRate * d.perFrameDurationMs / 1000
	samples := make([][2]float64, frameSize)
	pcmBuffer := make([]int16, frameSize)
	opusBuffer := make([]byte, 1000)

	for {
		select {
		case <-d.ctx.Done():
			log.Debugf("mp3 decoder context done, exit")
			return nil
		default:
		}

		n, ok := d.streamer.Stream(samples)
		if n > 0 {
			for i := 0; i < frameSize; i++ {
				if i < n {
					// downmix stereo to mono
					mixed := (samples[i][0] + samples[i][1]) / 2
					if mixed > 1 {
						mixed = 1
					} else if mixed < -1 {
						mixed = -1
					}
					pcmBuffer[i] = int16(mixed * 32767)
				} else {
					pcmBuffer[i] = 0
				}
			}

			encoded, err := d.enc.Encode(pcmBuffer, opusBuffer)
			if err != nil {
				return fmt.Errorf("opus encode failed: %w", err)
			}
			frameData := make([]byte, encoded)
			copy(frameData, opusBuffer[:encoded])

			select {
			case d.outputOpusChan <- frameData:
			case <-d.ctx.Done():
				return nil
			}
		}
		if !ok {
			return d.streamer.Err()
		}
	}
}
