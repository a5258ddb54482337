package turndetect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"

	log "rias-agent-golang/logger"
)

// Detector decides whether the user has finished speaking given the
// dialogue so far.
type Detector interface {
	// PredictEndOfTurn returns true when the last user utterance is a
	// complete turn.
	PredictEndOfTurn(ctx context.Context, dialogue []*schema.Message) (bool, error)
}

var (
	httpClient     *http.Client
	httpClientOnce sync.Once
)

func getHTTPClient() *http.Client {
	httpClientOnce.Do(func() {
		transport := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        50,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		}
		httpClient = &http.Client{
			Transport: transport,
			Timeout:   5 * time.Second,
		}
	})
	return httpClient
}

// MultilingualDetector queries a hosted end-of-utterance model. When
// the endpoint is unreachable it falls back to a punctuation
// heuristic, a slow turn decision is worse than an occasional early
// one.
type MultilingualDetector struct {
	endpoint  string
	threshold float64
}

type predictRequest struct {
	Dialogue []dialogueEntry `json:"dialogue"`
}

type dialogueEntry struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type predictResponse struct {
	Probability float64 `json:"eou_probability"`
}

const defaultThreshold = 0.85

// NewMultilingualDetector creates a detector from a config map.
// Keys: endpoint, threshold.
func NewMultilingualDetector(config map[string]interface{}) *MultilingualDetector {
	endpoint, _ := config["endpoint"].(string)
	threshold, _ := config["threshold"].(float64)
	if threshold <= 0 || threshold >= 1 {
		threshold = defaultThreshold
	}
	return &MultilingualDetector{
		endpoint:  endpoint,
		threshold: threshold,
	}
}

// PredictEndOfTurn implements Detector.
func (d *MultilingualDetector) PredictEndOfTurn(ctx context.Context, dialogue []*schema.Message) (bool, error) {
	if d.endpoint == "" {
		return heuristicEndOfTurn(dialogue), nil
	}

	entries := make([]dialogueEntry, 0, len(dialogue))
	for _, msg := range dialogue {
		if msg.Role != schema.User && msg.Role != schema.Assistant {
			continue
		}
		entries = append(entries, dialogueEntry{Role: string(msg.Role), Text: msg.Content})
	}

	payload, err := json.Marshal(predictRequest{Dialogue: entries})
	if err != nil {
		return false, fmt.Errorf("marshal turn request failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("build turn request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := getHTTPClient().Do(req)
	if err != nil {
		log.Warnf("turn endpoint unreachable, falling back to heuristic: %v", err)
		return heuristicEndOfTurn(dialogue), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		log.Warnf("turn endpoint returned %d, falling back to heuristic", resp.StatusCode)
		return heuristicEndOfTurn(dialogue), nil
	}

	var prediction predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&prediction); err != nil {
		return false, fmt.Errorf("decode turn response failed: %w", err)
	}

	return prediction.Probability >= d.threshold, nil
}

// heuristicEndOfTurn treats terminal punctuation on the last user
// message as end of turn.
func heuristicEndOfTurn(dialogue []*schema.Message) bool {
	for i := len(dialogue) - 1; i >= 0; i-- {
		if dialogue[i].Role != schema.User {
			continue
		}
		text := strings.TrimSpace(dialogue[i].Content)
		if text == "" {
			return false
		}
		switch text[len(text)-1] {
		case '.', '!', '?':
			return true
		}
		if strings.HasSuffix(text, "。") || strings.HasSuffix(text, "！") || strings.HasSuffix(text, "？") {
			return true
		}
		return false
	}
	return false
}
