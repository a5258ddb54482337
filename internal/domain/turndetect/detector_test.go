package turndetect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userMsg(text string) *schema.Message {
	return &schema.Message{Role: schema.User, Content: text}
}

func TestHeuristicEndOfTurn(t *testing.T) {
	tests := []struct {
		name     string
		dialogue []*schema.Message
		want     bool
	}{
		{"terminal period", []*schema.Message{userMsg("I want to book a flight.")}, true},
		{"question mark", []*schema.Message{userMsg("what time is it?")}, true},
		{"trailing clause", []*schema.Message{userMsg("so what I was thinking is")}, false},
		{"empty text", []*schema.Message{userMsg("   ")}, false},
		{"no user messages", []*schema.Message{{Role: schema.Assistant, Content: "hello."}}, false},
		{
			"last user message wins",
			[]*schema.Message{
				userMsg("first thing."),
				{Role: schema.Assistant, Content: "go on"},
				userMsg("and then I"),
			},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, heuristicEndOfTurn(tt.dialogue))
		})
	}
}

func TestMultilingualDetectorEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req predictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Dialogue)
		json.NewEncoder(w).Encode(predictResponse{Probability: 0.95})
	}))
	defer server.Close()

	detector := NewMultilingualDetector(map[string]interface{}{
		"endpoint":  server.URL,
		"threshold": 0.85,
	})

	done, err := detector.PredictEndOfTurn(context.Background(), []*schema.Message{userMsg("hello there")})
	require.NoError(t, err)
	assert.True(t, done)
}

func TestMultilingualDetectorFallsBackOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	detector := NewMultilingualDetector(map[string]interface{}{"endpoint": server.URL})

	done, err := detector.PredictEndOfTurn(context.Background(), []*schema.Message{userMsg("all done.")})
	require.NoError(t, err)
	assert.True(t, done, "heuristic should decide when the endpoint fails")
}

func TestMultilingualDetectorNoEndpoint(t *testing.T) {
	detector := NewMultilingualDetector(map[string]interface{}{})

	done, err := detector.PredictEndOfTurn(context.Background(), []*schema.Message{userMsg("still talking and")})
	require.NoError(t, err)
	assert.False(t, done)
}
