package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		raw  string
		want Mode
	}{
		{"audio", ModeAudio},
		{"AUDIO", ModeAudio},
		{"Audio", ModeAudio},
		{" audio ", ModeAudio},
		{"", ModeText},
		{"text", ModeText},
		{"TEXT", ModeText},
		{"bogus", ModeText},
		{"voice", ModeText},
	}
	for _, tt := range tests {
		t.Run("raw="+tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseMode(tt.raw))
		})
	}
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "audio", ModeAudio.String())
	assert.Equal(t, "text", ModeText.String())
}
